// Package audit - tamper-evident, hash-chained audit log
package audit

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/proxykey/clock"
	"github.com/alwitt/proxykey/db"
	"github.com/alwitt/proxykey/encryption"
	"github.com/alwitt/proxykey/metrics"
	"github.com/alwitt/proxykey/models"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
)

// Details free form audit event details
type Details map[string]interface{}

// AppendParams a new audit event
type AppendParams struct {
	// Action event name
	Action models.AuditActionENUMType `validate:"required"`
	// Actor owner identity which triggered the event
	Actor string `validate:"required"`
	// Source where the event originated
	Source string `validate:"required"`
	// IP caller IP. Stored only as a keyed hash.
	IP string
	// Details optional event details. Stored encrypted.
	Details Details
}

// LogEntry an audit entry with its details decrypted
type LogEntry struct {
	models.AuditEntry
	// Details the decrypted details. nil if there are none or they can't be read.
	Details Details
	// DetailsUnreadable the entry has details which failed to decrypt or parse
	DetailsUnreadable bool
}

// VerifyResult outcome of a chain verification walk
type VerifyResult struct {
	// Valid whether every walked entry verified
	Valid bool
	// Checked number of entries which verified
	Checked int
	// ChainTip hash of the last verified entry
	ChainTip string
	// FirstInvalidID ID of the first entry which failed
	FirstInvalidID string
	// Reason why that entry failed
	Reason string
}

// Trail the audit log
type Trail interface {
	/*
		Append add an event to the end of the chain

			@param ctx context.Context - execution context
			@param params AppendParams - the event
			@returns the stored entry
	*/
	Append(ctx context.Context, params AppendParams) (models.AuditEntry, error)

	/*
		Verify walk the chain oldest to newest, checking every entry hash and its link to
		the preceding entry

			@param ctx context.Context - execution context
			@param fromID *string - optionally start the walk at this entry
			@returns the verification result
	*/
	Verify(ctx context.Context, fromID *string) (VerifyResult, error)

	/*
		GetLogs fetch the most recent entries, newest first

			@param ctx context.Context - execution context
			@param limit int - max number of entries
			@returns the entries
	*/
	GetLogs(ctx context.Context, limit int) ([]LogEntry, error)

	/*
		ListByActor fetch the most recent entries of one actor, newest first

			@param ctx context.Context - execution context
			@param actor string - the actor
			@param limit int - max number of entries
			@returns the entries
	*/
	ListByActor(ctx context.Context, actor string, limit int) ([]LogEntry, error)

	/*
		CountSince count entries recorded at or after a time

			@param ctx context.Context - execution context
			@param since time.Time - start time
			@returns number of entries
	*/
	CountSince(ctx context.Context, since time.Time) (int64, error)
}

// defaultLogLimit used when a caller does not provide a positive limit
const defaultLogLimit = 100

// defaultVerifyPageSize number of entries read per page during verification
const defaultVerifyPageSize = 500

// trailImpl implements Trail
type trailImpl struct {
	goutils.Component
	persistence db.Client
	crypto      encryption.CryptographyEngine
	clock       clock.Clock
	validator   *validator.Validate
	pageSize    int

	// appendLock serializes the read-latest-then-insert sequence within the process
	appendLock sync.Mutex
}

// TrailParams audit trail parameters
type TrailParams struct {
	// Persistence persistence layer client
	Persistence db.Client `validate:"required"`
	// Crypto cryptography engine
	Crypto encryption.CryptographyEngine `validate:"required"`
	// Clock time source
	Clock clock.Clock `validate:"required"`
	// VerifyPageSize entries read per page during verification
	VerifyPageSize int `validate:"gte=0"`
}

/*
NewTrail define a new audit trail

	@param params TrailParams - trail parameters
	@returns the trail
*/
func NewTrail(params TrailParams) (Trail, error) {
	validate := validator.New()
	if err := validate.Struct(&params); err != nil {
		return nil, fmt.Errorf("invalid audit trail parameters [%w]", err)
	}
	if params.VerifyPageSize == 0 {
		params.VerifyPageSize = defaultVerifyPageSize
	}

	logTags := log.Fields{"module": "audit", "component": "audit-trail"}

	return &trailImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		persistence: params.Persistence,
		crypto:      params.Crypto,
		clock:       params.Clock,
		validator:   validate,
		pageSize:    params.VerifyPageSize,
	}, nil
}

// nextEntryID a ULID strictly greater than the latest ID in the chain
func nextEntryID(latestID string) (string, error) {
	candidate := ulid.Make()
	if latestID == "" || candidate.String() > latestID {
		return candidate.String(), nil
	}
	latest, err := ulid.ParseStrict(latestID)
	if err != nil {
		return "", fmt.Errorf("latest audit entry ID '%s' is not a ULID [%w]", latestID, err)
	}
	next, err := ulid.New(latest.Time()+1, rand.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to generate audit entry ID [%w]", err)
	}
	return next.String(), nil
}

/*
Append add an event to the end of the chain

	@param ctx context.Context - execution context
	@param params AppendParams - the event
	@returns the stored entry
*/
func (t *trailImpl) Append(ctx context.Context, params AppendParams) (models.AuditEntry, error) {
	logTags := t.GetLogTagsForContext(ctx)

	if err := t.validator.Struct(&params); err != nil {
		return models.AuditEntry{}, fmt.Errorf("invalid audit event [%w]", err)
	}

	entry := models.AuditEntry{
		Timestamp: t.clock.Now().UTC().Truncate(time.Microsecond),
		Actor:     params.Actor,
		Action:    params.Action,
		Source:    params.Source,
	}
	if params.IP != "" {
		entry.IPHash = t.crypto.KeyedHash(params.IP)
	}
	if params.Details != nil {
		serialized, err := json.Marshal(params.Details)
		if err != nil {
			return models.AuditEntry{}, fmt.Errorf("failed to serialize audit details [%w]", err)
		}
		encrypted, err := t.crypto.EncryptSystem(ctx, serialized)
		if err != nil {
			return models.AuditEntry{}, fmt.Errorf("failed to encrypt audit details [%w]", err)
		}
		entry.EncDetails = encrypted.CipherText
		entry.EncDetailsNonce = encrypted.Nonce
	}

	t.appendLock.Lock()
	defer t.appendLock.Unlock()

	err := t.persistence.UseDatabaseInTransaction(
		ctx, func(ctx context.Context, dbClient db.Database) error {
			latest, err := dbClient.GetLatestAuditEntry(ctx)
			if err != nil && !db.IsNotFound(err) {
				return fmt.Errorf("failed to read chain head [%w]", err)
			}
			if entry.ID, err = nextEntryID(latest.ID); err != nil {
				return err
			}
			entry.PreviousHash = latest.Hash
			entry.Hash = t.crypto.KeyedHash(string(entry.ChainInput()))
			return dbClient.InsertAuditEntry(ctx, entry)
		},
	)
	if err != nil {
		metrics.AuditAppends.WithLabelValues(metrics.ResultFailure).Inc()
		log.WithError(err).WithFields(logTags).WithField("action", params.Action).Error(
			"Audit append failed",
		)
		return models.AuditEntry{}, fmt.Errorf("audit append failed [%w]", err)
	}

	metrics.AuditAppends.WithLabelValues(metrics.ResultSuccess).Inc()
	return entry, nil
}

// decryptEntries attach the decrypted details to a list of entries
func (t *trailImpl) decryptEntries(
	ctx context.Context, entries []models.AuditEntry,
) []LogEntry {
	logTags := t.GetLogTagsForContext(ctx)
	result := make([]LogEntry, 0, len(entries))
	for _, entry := range entries {
		oneEntry := LogEntry{AuditEntry: entry}
		if len(entry.EncDetails) > 0 {
			plainText, err := t.crypto.DecryptSystem(ctx, encryption.EncryptedData{
				CipherText: entry.EncDetails, Nonce: entry.EncDetailsNonce,
			})
			if err == nil {
				err = json.Unmarshal(plainText, &oneEntry.Details)
			}
			if err != nil {
				log.WithError(err).WithFields(logTags).WithField("entry", entry.ID).Warn(
					"Audit entry details unreadable",
				)
				oneEntry.Details = nil
				oneEntry.DetailsUnreadable = true
			}
		}
		result = append(result, oneEntry)
	}
	return result
}

// listNewest list entries newest first
func (t *trailImpl) listNewest(
	ctx context.Context, actor *string, limit int,
) ([]LogEntry, error) {
	if limit <= 0 {
		limit = defaultLogLimit
	}
	var entries []models.AuditEntry
	if err := t.persistence.UseDatabase(
		ctx, func(ctx context.Context, dbClient db.Database) error {
			var err error
			entries, err = dbClient.ListAuditEntries(ctx, db.AuditEntryQueryFilter{
				CommonListEntryQueryFilter: db.CommonListEntryQueryFilter{Limit: &limit},
				Actor:                      actor,
				NewestFirst:                true,
			})
			return err
		},
	); err != nil {
		return nil, fmt.Errorf("failed to list audit entries [%w]", err)
	}
	return t.decryptEntries(ctx, entries), nil
}

/*
GetLogs fetch the most recent entries, newest first

	@param ctx context.Context - execution context
	@param limit int - max number of entries
	@returns the entries
*/
func (t *trailImpl) GetLogs(ctx context.Context, limit int) ([]LogEntry, error) {
	return t.listNewest(ctx, nil, limit)
}

/*
ListByActor fetch the most recent entries of one actor, newest first

	@param ctx context.Context - execution context
	@param actor string - the actor
	@param limit int - max number of entries
	@returns the entries
*/
func (t *trailImpl) ListByActor(ctx context.Context, actor string, limit int) ([]LogEntry, error) {
	return t.listNewest(ctx, &actor, limit)
}

/*
CountSince count entries recorded at or after a time

	@param ctx context.Context - execution context
	@param since time.Time - start time
	@returns number of entries
*/
func (t *trailImpl) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	if err := t.persistence.UseDatabase(
		ctx, func(ctx context.Context, dbClient db.Database) error {
			var err error
			count, err = dbClient.CountAuditEntries(ctx, db.AuditEntryQueryFilter{
				EntriesAfter: &since,
			})
			return err
		},
	); err != nil {
		return 0, fmt.Errorf("failed to count audit entries [%w]", err)
	}
	return count, nil
}
