package db

import (
	"context"
	"fmt"
	"time"

	"github.com/alwitt/proxykey/models"
	"gorm.io/gorm/clause"
)

/*
GetRateWindow fetch the call window of a hashed IP

	@param ctx context.Context - execution context
	@param ipHash string - keyed hash of the client IP
	@returns the window
*/
func (d *databaseImpl) GetRateWindow(
	_ context.Context, ipHash string,
) (models.RateWindow, error) {
	var entry RateWindowDBEntry
	if tmp := d.db.Where("ip_hash = ?", ipHash).First(&entry); tmp.Error != nil {
		return models.RateWindow{}, fmt.Errorf("failed to fetch rate window [%w]", tmp.Error)
	}
	return entry.RateWindow, nil
}

/*
SaveRateWindow insert or update a call window

	@param ctx context.Context - execution context
	@param window models.RateWindow - the window
*/
func (d *databaseImpl) SaveRateWindow(_ context.Context, window models.RateWindow) error {
	window.LastCall = window.LastCall.UTC()
	entry := RateWindowDBEntry{RateWindow: window}

	if err := d.validator.Struct(&entry); err != nil {
		return fmt.Errorf("rate window is not valid [%w]", err)
	}

	tmp := d.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ip_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{"calls", "last_call", "updated_at"}),
	}).Create(&entry)
	if tmp.Error != nil {
		return fmt.Errorf("rate window upsert failed [%w]", tmp.Error)
	}
	return nil
}

/*
DeleteIdleRateWindows delete windows with no call since the cutoff

	@param ctx context.Context - execution context
	@param cutoff time.Time - idle cutoff
	@returns number of windows deleted
*/
func (d *databaseImpl) DeleteIdleRateWindows(_ context.Context, cutoff time.Time) (int64, error) {
	tmp := d.db.Where("last_call < ?", cutoff.UTC()).Delete(&RateWindowDBEntry{})
	if tmp.Error != nil {
		return 0, fmt.Errorf("failed to delete idle rate windows [%w]", tmp.Error)
	}
	return tmp.RowsAffected, nil
}

/*
GetBan fetch the ban on a hashed IP

	@param ctx context.Context - execution context
	@param ipHash string - keyed hash of the client IP
	@returns the ban
*/
func (d *databaseImpl) GetBan(_ context.Context, ipHash string) (models.BanRecord, error) {
	var entry BanRecordDBEntry
	if tmp := d.db.Where("ip_hash = ?", ipHash).First(&entry); tmp.Error != nil {
		return models.BanRecord{}, fmt.Errorf("failed to fetch IP ban [%w]", tmp.Error)
	}
	return entry.BanRecord, nil
}

/*
SaveBan insert or update a ban

	@param ctx context.Context - execution context
	@param ban models.BanRecord - the ban
*/
func (d *databaseImpl) SaveBan(_ context.Context, ban models.BanRecord) error {
	ban.BannedAt = ban.BannedAt.UTC()
	if ban.ExpiresAt != nil {
		expires := ban.ExpiresAt.UTC()
		ban.ExpiresAt = &expires
	}
	entry := BanRecordDBEntry{BanRecord: ban}

	if err := d.validator.Struct(&entry); err != nil {
		return fmt.Errorf("IP ban is not valid [%w]", err)
	}

	tmp := d.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ip_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{"reason", "banned_at", "expires_at"}),
	}).Create(&entry)
	if tmp.Error != nil {
		return fmt.Errorf("IP ban upsert failed [%w]", tmp.Error)
	}
	return nil
}

/*
DeleteBan lift the ban on a hashed IP

	@param ctx context.Context - execution context
	@param ipHash string - keyed hash of the client IP
*/
func (d *databaseImpl) DeleteBan(_ context.Context, ipHash string) error {
	if tmp := d.db.Where("ip_hash = ?", ipHash).Delete(&BanRecordDBEntry{}); tmp.Error != nil {
		return fmt.Errorf("failed to delete IP ban [%w]", tmp.Error)
	}
	return nil
}

/*
DeleteExpiredBans delete bans which lapsed before the cutoff

	@param ctx context.Context - execution context
	@param cutoff time.Time - expiry cutoff
	@returns number of bans deleted
*/
func (d *databaseImpl) DeleteExpiredBans(_ context.Context, cutoff time.Time) (int64, error) {
	tmp := d.db.
		Where("expires_at IS NOT NULL AND expires_at <= ?", cutoff.UTC()).
		Delete(&BanRecordDBEntry{})
	if tmp.Error != nil {
		return 0, fmt.Errorf("failed to delete expired IP bans [%w]", tmp.Error)
	}
	return tmp.RowsAffected, nil
}
