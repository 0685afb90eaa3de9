package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/proxykey/models"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// ErrSecretReplaced the secret row being replaced no longer exists under the expected
// proxy key hash; another writer replaced or removed it first.
var ErrSecretReplaced = errors.New("secret row already replaced")

// IsNotFound whether the error is caused by a missing row
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// CommonListEntryQueryFilter common query filter when listing data entries
type CommonListEntryQueryFilter struct {
	Limit  *int
	Offset *int
}

// SecretQueryFilter secret query filter conditions
type SecretQueryFilter struct {
	CommonListEntryQueryFilter
	// Owner fetch only secrets of this owner
	Owner *string
}

// AuditEntryQueryFilter audit entry query filter conditions
type AuditEntryQueryFilter struct {
	CommonListEntryQueryFilter
	// Actor fetch only entries by this actor
	Actor *string
	// Actions the specific actions to query for
	Actions []models.AuditActionENUMType
	// EntriesAfter filter for entries at or after this timestamp
	EntriesAfter *time.Time
	// EntriesBefore filter for entries at or before this timestamp
	EntriesBefore *time.Time
	// FromID fetch entries with ID greater or equal to this
	FromID *string
	// AfterID fetch entries with ID strictly greater than this
	AfterID *string
	// BeforeID fetch entries with ID strictly less than this
	BeforeID *string
	// NewestFirst order newest to oldest instead of chain order
	NewestFirst bool
}

// NotificationQueryFilter notification query filter conditions
type NotificationQueryFilter struct {
	CommonListEntryQueryFilter
	// Owner fetch only notifications for this owner
	Owner *string
	// UnreadOnly fetch only unread notifications
	UnreadOnly bool
}

// Database the database handle to interacting with the data base
type Database interface {
	// ------------------------------------------------------------------------------------
	// Secrets

	/*
		InsertSecret record a new secret

			@param ctx context.Context - execution context
			@param entry models.Secret - the secret
			@returns the stored entry
	*/
	InsertSecret(ctx context.Context, entry models.Secret) (models.Secret, error)

	/*
		GetSecretByHash fetch the current secret by its proxy key hash

			@param ctx context.Context - execution context
			@param proxyIDHash string - keyed hash of the proxy key
			@returns the secret
	*/
	GetSecretByHash(ctx context.Context, proxyIDHash string) (models.Secret, error)

	/*
		GetSecretByHistoryHash fetch the secret whose rotation history holds this hash

			@param ctx context.Context - execution context
			@param proxyIDHash string - keyed hash of a rotated-out proxy key
			@returns the secret
	*/
	GetSecretByHistoryHash(ctx context.Context, proxyIDHash string) (models.Secret, error)

	/*
		GetSecretByOriginHash fetch the secret first issued under this proxy key hash

			@param ctx context.Context - execution context
			@param proxyIDHash string - keyed hash of the origin proxy key
			@returns the secret
	*/
	GetSecretByOriginHash(ctx context.Context, proxyIDHash string) (models.Secret, error)

	/*
		ReplaceSecret atomically swap the current secret row for a new one. Must be called
		within a transaction for the swap to be atomic.

			@param ctx context.Context - execution context
			@param oldProxyIDHash string - hash of the row to remove
			@param replacement models.Secret - the new row
			@returns the stored replacement
	*/
	ReplaceSecret(
		ctx context.Context, oldProxyIDHash string, replacement models.Secret,
	) (models.Secret, error)

	/*
		DeleteSecretByHash delete the current secret by its proxy key hash

			@param ctx context.Context - execution context
			@param proxyIDHash string - keyed hash of the proxy key
			@returns whether a row was deleted
	*/
	DeleteSecretByHash(ctx context.Context, proxyIDHash string) (bool, error)

	/*
		ListSecrets list secrets

			@param ctx context.Context - execution context
			@param filters SecretQueryFilter - entry listing filter
			@return list of secrets
	*/
	ListSecrets(ctx context.Context, filters SecretQueryFilter) ([]models.Secret, error)

	/*
		CountSecrets count secrets

			@param ctx context.Context - execution context
			@param owner *string - count only secrets of this owner
			@return number of secrets
	*/
	CountSecrets(ctx context.Context, owner *string) (int64, error)

	// ------------------------------------------------------------------------------------
	// Audit entries

	/*
		InsertAuditEntry append an audit entry

			@param ctx context.Context - execution context
			@param entry models.AuditEntry - the entry
	*/
	InsertAuditEntry(ctx context.Context, entry models.AuditEntry) error

	/*
		GetLatestAuditEntry fetch the most recent audit entry

			@param ctx context.Context - execution context
			@returns the entry
	*/
	GetLatestAuditEntry(ctx context.Context) (models.AuditEntry, error)

	/*
		ListAuditEntries list audit entries

			@param ctx context.Context - execution context
			@param filters AuditEntryQueryFilter - entry listing filter
			@return list of entries
	*/
	ListAuditEntries(
		ctx context.Context, filters AuditEntryQueryFilter,
	) ([]models.AuditEntry, error)

	/*
		CountAuditEntries count audit entries

			@param ctx context.Context - execution context
			@param filters AuditEntryQueryFilter - entry filter; paging is ignored
			@return number of entries
	*/
	CountAuditEntries(ctx context.Context, filters AuditEntryQueryFilter) (int64, error)

	// ------------------------------------------------------------------------------------
	// Rate limit windows and bans

	/*
		GetRateWindow fetch the call window of a hashed IP

			@param ctx context.Context - execution context
			@param ipHash string - keyed hash of the client IP
			@returns the window
	*/
	GetRateWindow(ctx context.Context, ipHash string) (models.RateWindow, error)

	/*
		SaveRateWindow insert or update a call window

			@param ctx context.Context - execution context
			@param window models.RateWindow - the window
	*/
	SaveRateWindow(ctx context.Context, window models.RateWindow) error

	/*
		DeleteIdleRateWindows delete windows with no call since the cutoff

			@param ctx context.Context - execution context
			@param cutoff time.Time - idle cutoff
			@returns number of windows deleted
	*/
	DeleteIdleRateWindows(ctx context.Context, cutoff time.Time) (int64, error)

	/*
		GetBan fetch the ban on a hashed IP

			@param ctx context.Context - execution context
			@param ipHash string - keyed hash of the client IP
			@returns the ban
	*/
	GetBan(ctx context.Context, ipHash string) (models.BanRecord, error)

	/*
		SaveBan insert or update a ban

			@param ctx context.Context - execution context
			@param ban models.BanRecord - the ban
	*/
	SaveBan(ctx context.Context, ban models.BanRecord) error

	/*
		DeleteBan lift the ban on a hashed IP

			@param ctx context.Context - execution context
			@param ipHash string - keyed hash of the client IP
	*/
	DeleteBan(ctx context.Context, ipHash string) error

	/*
		DeleteExpiredBans delete bans which lapsed before the cutoff

			@param ctx context.Context - execution context
			@param cutoff time.Time - expiry cutoff
			@returns number of bans deleted
	*/
	DeleteExpiredBans(ctx context.Context, cutoff time.Time) (int64, error)

	// ------------------------------------------------------------------------------------
	// Enclave key/value entries

	/*
		PutKV insert or update an encrypted key/value entry

			@param ctx context.Context - execution context
			@param entry models.KVEntry - the entry
	*/
	PutKV(ctx context.Context, entry models.KVEntry) error

	/*
		GetKV fetch a key/value entry

			@param ctx context.Context - execution context
			@param key string - entry key
			@returns the entry
	*/
	GetKV(ctx context.Context, key string) (models.KVEntry, error)

	/*
		ListKVByPrefix list key/value entries whose key starts with prefix

			@param ctx context.Context - execution context
			@param prefix string - key prefix
			@returns the entries
	*/
	ListKVByPrefix(ctx context.Context, prefix string) ([]models.KVEntry, error)

	/*
		DeleteKV delete a key/value entry

			@param ctx context.Context - execution context
			@param key string - entry key
	*/
	DeleteKV(ctx context.Context, key string) error

	// ------------------------------------------------------------------------------------
	// Notifications

	/*
		RecordNotification record a new notification

			@param ctx context.Context - execution context
			@param entry models.Notification - the notification
			@returns the stored entry
	*/
	RecordNotification(
		ctx context.Context, entry models.Notification,
	) (models.Notification, error)

	/*
		ListNotifications list notifications

			@param ctx context.Context - execution context
			@param filters NotificationQueryFilter - entry listing filter
			@returns the notifications
	*/
	ListNotifications(
		ctx context.Context, filters NotificationQueryFilter,
	) ([]models.Notification, error)

	/*
		CountUnreadNotifications count unread notifications of an owner

			@param ctx context.Context - execution context
			@param owner string - the owner
			@returns number of unread notifications
	*/
	CountUnreadNotifications(ctx context.Context, owner string) (int64, error)

	/*
		MarkNotificationsRead mark every notification of an owner as read

			@param ctx context.Context - execution context
			@param owner string - the owner
			@returns number of notifications updated
	*/
	MarkNotificationsRead(ctx context.Context, owner string) (int64, error)
}

// databaseImpl implements Database
type databaseImpl struct {
	goutils.Component
	db        *gorm.DB
	validator *validator.Validate
}

// newDatabase define a new database client
func newDatabase(_ context.Context, sqlClient *gorm.DB) (Database, error) {
	logTags := log.Fields{"package": "proxykey", "module": "db", "component": "db-client"}

	instance := &databaseImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		db:        sqlClient,
		validator: validator.New(),
	}

	if err := models.RegisterWithValidator(instance.validator); err != nil {
		return nil, fmt.Errorf("failed to install custom validation macros [%w]", err)
	}

	return instance, nil
}

// applyPaging apply the common limit and offset filters
func applyPaging(query *gorm.DB, filters CommonListEntryQueryFilter) *gorm.DB {
	if filters.Limit != nil {
		query = query.Limit(*filters.Limit)
	}
	if filters.Offset != nil {
		query = query.Offset(*filters.Offset)
	}
	return query
}
