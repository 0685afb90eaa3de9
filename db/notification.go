package db

import (
	"context"
	"fmt"

	"github.com/alwitt/proxykey/models"
	"github.com/oklog/ulid/v2"
)

/*
RecordNotification record a new notification

	@param ctx context.Context - execution context
	@param entry models.Notification - the notification
	@returns the stored entry
*/
func (d *databaseImpl) RecordNotification(
	_ context.Context, entry models.Notification,
) (models.Notification, error) {
	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}
	newEntry := NotificationDBEntry{Notification: entry}

	if err := d.validator.Struct(&newEntry); err != nil {
		return models.Notification{}, fmt.Errorf("notification is not valid [%w]", err)
	}

	if tmp := d.db.Create(&newEntry); tmp.Error != nil {
		return models.Notification{}, fmt.Errorf("notification insert failed [%w]", tmp.Error)
	}

	return newEntry.Notification, nil
}

/*
ListNotifications list notifications

	@param ctx context.Context - execution context
	@param filters NotificationQueryFilter - entry listing filter
	@returns the notifications
*/
func (d *databaseImpl) ListNotifications(
	_ context.Context, filters NotificationQueryFilter,
) ([]models.Notification, error) {
	query := d.db.Model(&NotificationDBEntry{})

	if filters.Owner != nil {
		query = query.Where("owner = ?", *filters.Owner)
	}
	if filters.UnreadOnly {
		query = query.Where("read = ?", false)
	}

	query = applyPaging(query, filters.CommonListEntryQueryFilter)

	query = query.Order("id desc")

	var entries []NotificationDBEntry
	if tmp := query.Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list notifications [%w]", tmp.Error)
	}

	result := []models.Notification{}
	for _, entry := range entries {
		result = append(result, entry.Notification)
	}
	return result, nil
}

/*
CountUnreadNotifications count unread notifications of an owner

	@param ctx context.Context - execution context
	@param owner string - the owner
	@returns number of unread notifications
*/
func (d *databaseImpl) CountUnreadNotifications(_ context.Context, owner string) (int64, error) {
	var count int64
	if tmp := d.db.
		Model(&NotificationDBEntry{}).
		Where("owner = ? AND read = ?", owner, false).
		Count(&count); tmp.Error != nil {
		return 0, fmt.Errorf("failed to count unread notifications [%w]", tmp.Error)
	}
	return count, nil
}

/*
MarkNotificationsRead mark every notification of an owner as read

	@param ctx context.Context - execution context
	@param owner string - the owner
	@returns number of notifications updated
*/
func (d *databaseImpl) MarkNotificationsRead(_ context.Context, owner string) (int64, error) {
	tmp := d.db.
		Model(&NotificationDBEntry{}).
		Where("owner = ? AND read = ?", owner, false).
		Update("read", true)
	if tmp.Error != nil {
		return 0, fmt.Errorf("failed to mark notifications read [%w]", tmp.Error)
	}
	return tmp.RowsAffected, nil
}
