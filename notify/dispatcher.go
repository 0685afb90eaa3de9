// Package notify - rotation notifications and best-effort webhook delivery
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/proxykey/db"
	"github.com/alwitt/proxykey/metrics"
	"github.com/alwitt/proxykey/models"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"
	"gorm.io/datatypes"
)

// EventKeyRotated webhook event name of a rotation
const EventKeyRotated = "key_rotated"

// RotationEvent webhook body sent when a proxy key rotates
type RotationEvent struct {
	Event        string    `json:"event"`
	Provider     string    `json:"provider"`
	OldKey       string    `json:"oldKey"`
	NewKey       string    `json:"newKey"`
	RotatedAt    time.Time `json:"rotatedAt"`
	NextRotation time.Time `json:"nextRotation"`
}

// Dispatcher emits rotation notifications
type Dispatcher interface {
	/*
		Rotated record a rotation notification for the owner, then deliver the webhook
		in the background if one is configured

			@param ctx context.Context - execution context
			@param owner string - the owner of the rotated key
			@param webhookURL string - optional webhook target
			@param event RotationEvent - the rotation
	*/
	Rotated(ctx context.Context, owner string, webhookURL string, event RotationEvent) error

	/*
		Wait block until every in-flight webhook delivery finishes
	*/
	Wait()

	/*
		ListNotifications list an owner's notifications, newest first

			@param ctx context.Context - execution context
			@param owner string - the owner
			@param unreadOnly bool - whether to only list unread notifications
			@param limit int - max number of entries
			@returns the notifications
	*/
	ListNotifications(
		ctx context.Context, owner string, unreadOnly bool, limit int,
	) ([]models.Notification, error)

	/*
		UnreadCount number of unread notifications of an owner

			@param ctx context.Context - execution context
			@param owner string - the owner
			@returns the count
	*/
	UnreadCount(ctx context.Context, owner string) (int64, error)

	/*
		MarkAllRead mark all of an owner's notifications as read

			@param ctx context.Context - execution context
			@param owner string - the owner
			@returns number of notifications updated
	*/
	MarkAllRead(ctx context.Context, owner string) (int64, error)
}

// dispatcherImpl implements Dispatcher
type dispatcherImpl struct {
	goutils.Component
	persistence db.Client
	client      *resty.Client

	inFlight sync.WaitGroup
}

// DispatcherParams dispatcher parameters
type DispatcherParams struct {
	// Persistence persistence layer client
	Persistence db.Client `validate:"required"`
	// WebhookTimeout per delivery timeout
	WebhookTimeout time.Duration `validate:"gte=0"`
	// UserAgent User-Agent header of webhook requests
	UserAgent string
}

/*
NewDispatcher define a new notification dispatcher

	@param params DispatcherParams - dispatcher parameters
	@returns the dispatcher
*/
func NewDispatcher(params DispatcherParams) (Dispatcher, error) {
	validate := validator.New()
	if err := validate.Struct(&params); err != nil {
		return nil, fmt.Errorf("invalid dispatcher parameters [%w]", err)
	}
	if params.WebhookTimeout == 0 {
		params.WebhookTimeout = 10 * time.Second
	}
	if params.UserAgent == "" {
		params.UserAgent = "proxykey-webhook/1"
	}

	logTags := log.Fields{"module": "notify", "component": "dispatcher"}

	// No retries: delivery is best effort
	client := resty.New().
		SetTimeout(params.WebhookTimeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", params.UserAgent)

	return &dispatcherImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		persistence: params.Persistence,
		client:      client,
	}, nil
}

/*
Rotated record a rotation notification for the owner, then deliver the webhook in the
background if one is configured

	@param ctx context.Context - execution context
	@param owner string - the owner of the rotated key
	@param webhookURL string - optional webhook target
	@param event RotationEvent - the rotation
*/
func (d *dispatcherImpl) Rotated(
	ctx context.Context, owner string, webhookURL string, event RotationEvent,
) error {
	logTags := d.GetLogTagsForContext(ctx)

	if event.Event == "" {
		event.Event = EventKeyRotated
	}

	// Only masked keys are kept in the notification
	metadata, err := json.Marshal(map[string]interface{}{
		"provider":      event.Provider,
		"old_key":       models.MaskProxyID(event.OldKey),
		"new_key":       models.MaskProxyID(event.NewKey),
		"rotated_at":    event.RotatedAt,
		"next_rotation": event.NextRotation,
	})
	if err != nil {
		return fmt.Errorf("failed to serialize notification metadata [%w]", err)
	}
	notification := models.Notification{
		Owner: owner,
		Kind:  models.NotificationKindKeyRotated,
		Title: "Proxy key rotated",
		Message: fmt.Sprintf(
			"Your %s proxy key was rotated. The new key is %s.",
			event.Provider, models.MaskProxyID(event.NewKey),
		),
		Metadata: datatypes.JSON(metadata),
	}

	if err := d.persistence.UseDatabaseInTransaction(
		ctx, func(ctx context.Context, dbClient db.Database) error {
			_, err := dbClient.RecordNotification(ctx, notification)
			return err
		},
	); err != nil {
		log.WithError(err).WithFields(logTags).WithField("owner", owner).Error(
			"Failed to record rotation notification",
		)
		return fmt.Errorf("failed to record rotation notification [%w]", err)
	}

	if webhookURL == "" {
		return nil
	}

	// Delivery outlives the request which triggered it
	d.inFlight.Add(1)
	go func() {
		defer d.inFlight.Done()
		d.deliver(logTags, webhookURL, event)
	}()

	return nil
}

// deliver POST one webhook. Failures are logged and counted only.
func (d *dispatcherImpl) deliver(logTags log.Fields, webhookURL string, event RotationEvent) {
	resp, err := d.client.R().SetBody(event).Post(webhookURL)
	if err == nil && resp.IsError() {
		err = fmt.Errorf("webhook returned %d", resp.StatusCode())
	}
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues(metrics.ResultFailure).Inc()
		log.WithError(err).WithFields(logTags).WithField("webhook", webhookURL).Warn(
			"Rotation webhook delivery failed",
		)
		return
	}
	metrics.WebhookDeliveries.WithLabelValues(metrics.ResultSuccess).Inc()
	log.WithFields(logTags).WithField("webhook", webhookURL).Debug("Rotation webhook delivered")
}

/*
Wait block until every in-flight webhook delivery finishes
*/
func (d *dispatcherImpl) Wait() {
	d.inFlight.Wait()
}

/*
ListNotifications list an owner's notifications, newest first

	@param ctx context.Context - execution context
	@param owner string - the owner
	@param unreadOnly bool - whether to only list unread notifications
	@param limit int - max number of entries
	@returns the notifications
*/
func (d *dispatcherImpl) ListNotifications(
	ctx context.Context, owner string, unreadOnly bool, limit int,
) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	var result []models.Notification
	err := d.persistence.UseDatabase(ctx, func(ctx context.Context, dbClient db.Database) error {
		var err error
		result, err = dbClient.ListNotifications(ctx, db.NotificationQueryFilter{
			CommonListEntryQueryFilter: db.CommonListEntryQueryFilter{Limit: &limit},
			Owner:                      &owner,
			UnreadOnly:                 unreadOnly,
		})
		return err
	})
	return result, err
}

/*
UnreadCount number of unread notifications of an owner

	@param ctx context.Context - execution context
	@param owner string - the owner
	@returns the count
*/
func (d *dispatcherImpl) UnreadCount(ctx context.Context, owner string) (int64, error) {
	var count int64
	err := d.persistence.UseDatabase(ctx, func(ctx context.Context, dbClient db.Database) error {
		var err error
		count, err = dbClient.CountUnreadNotifications(ctx, owner)
		return err
	})
	return count, err
}

/*
MarkAllRead mark all of an owner's notifications as read

	@param ctx context.Context - execution context
	@param owner string - the owner
	@returns number of notifications updated
*/
func (d *dispatcherImpl) MarkAllRead(ctx context.Context, owner string) (int64, error) {
	var updated int64
	err := d.persistence.UseDatabaseInTransaction(
		ctx, func(ctx context.Context, dbClient db.Database) error {
			var err error
			updated, err = dbClient.MarkNotificationsRead(ctx, owner)
			return err
		},
	)
	return updated, err
}
