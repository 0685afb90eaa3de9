// Package enclave - the secret enclave: owner sessions, credential provisioning,
// proxy key lookup, rotation and revocation
package enclave

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/proxykey/attestation"
	"github.com/alwitt/proxykey/audit"
	"github.com/alwitt/proxykey/clock"
	"github.com/alwitt/proxykey/db"
	"github.com/alwitt/proxykey/encryption"
	"github.com/alwitt/proxykey/metrics"
	"github.com/alwitt/proxykey/models"
	"github.com/alwitt/proxykey/notify"
	"github.com/alwitt/proxykey/store"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
)

var (
	// ErrEnclaveLocked the owner has no unlocked session
	ErrEnclaveLocked = errors.New("enclave is locked for this owner")
	// ErrInvalidFormat the proxy key is malformed
	ErrInvalidFormat = errors.New("malformed proxy key")
	// ErrNotOwner the proxy key belongs to another owner
	ErrNotOwner = errors.New("proxy key belongs to another owner")
	// ErrDuplicate the proxy key is already provisioned
	ErrDuplicate = errors.New("proxy key already provisioned")
	// ErrRotationConflict another writer rotated or removed the secret first
	ErrRotationConflict = errors.New("secret was concurrently rotated or removed")
)

// ProvisionParams a credential to provision
type ProvisionParams struct {
	// ProxyID the proxy key to issue for the credential
	ProxyID string `validate:"required"`
	// Credential the real credential
	Credential []byte `validate:"required"`
	// Provider free-text upstream API label
	Provider string `validate:"required"`
	// RotationIntervalMs rotation interval in milliseconds. 0 means never.
	RotationIntervalMs int64 `validate:"gte=0"`
	// WebhookURL optional rotation webhook
	WebhookURL string `validate:"omitempty,url"`
	// Source audit source tag. Defaults to the enclave.
	Source string
	// IP caller IP for the audit log
	IP string
}

// KeyInfo an owner-facing view of one provisioned credential
type KeyInfo struct {
	ProxyID          string
	Provider         string
	PayloadScheme    models.PayloadSchemeENUMType
	RotationInterval time.Duration
	WebhookURL       string
	HistoryDepth     int
	CreatedAt        time.Time
	LastRotatedAt    time.Time
	NextRotation     time.Time
}

// Enclave the secret enclave
type Enclave interface {
	/*
		Unlock open a session for an owner. Unlocking an unlocked owner replaces its key.

			@param ctx context.Context - execution context
			@param owner string - the owner
			@param keyMaterial []byte - externally derived per-owner key material
	*/
	Unlock(ctx context.Context, owner string, keyMaterial []byte) error

	/*
		Lock close an owner's session and forget its persisted key

			@param ctx context.Context - execution context
			@param owner string - the owner
	*/
	Lock(ctx context.Context, owner string) error

	/*
		SessionState current session state of an owner

			@param owner string - the owner
			@returns the state
	*/
	SessionState(owner string) models.SessionStateENUMType

	/*
		Provision store a credential under a new proxy key

			@param ctx context.Context - execution context
			@param owner string - the owner
			@param params ProvisionParams - the credential
			@returns the stored secret
	*/
	Provision(ctx context.Context, owner string, params ProvisionParams) (models.Secret, error)

	/*
		Resolve exchange a proxy key for its credential. A rotated-out key still resolves
		within the grace period.

			@param ctx context.Context - execution context
			@param proxyID string - the proxy key
			@returns the credential, or nil if the key is unknown or expired
	*/
	Resolve(ctx context.Context, proxyID string) ([]byte, error)

	/*
		RotateIfDue rotate the proxy key if its rotation interval has elapsed

			@param ctx context.Context - execution context
			@param proxyID string - the current proxy key
			@returns the new proxy key, or "" if no rotation happened. With
			         ErrRotationConflict, the key a concurrent rotation produced.
	*/
	RotateIfDue(ctx context.Context, proxyID string) (string, error)

	/*
		Revoke delete a credential. Revoking an unknown key is not an error.

			@param ctx context.Context - execution context
			@param owner string - the owner
			@param proxyID string - the current proxy key
	*/
	Revoke(ctx context.Context, owner string, proxyID string) error

	/*
		FindCurrent exchange any proxy key ever issued for a credential for the credential

			@param ctx context.Context - execution context
			@param proxyID string - current, recently rotated-out, or origin proxy key
			@returns the credential, or nil if the key is unknown
	*/
	FindCurrent(ctx context.Context, proxyID string) ([]byte, error)

	/*
		HasCurrent whether a proxy key is currently active

			@param ctx context.Context - execution context
			@param proxyID string - the proxy key
			@returns whether it is active
	*/
	HasCurrent(ctx context.Context, proxyID string) (bool, error)

	/*
		KeyCount number of provisioned credentials

			@param ctx context.Context - execution context
			@param owner *string - count only this owner's credentials
			@returns the count
	*/
	KeyCount(ctx context.Context, owner *string) (int64, error)

	/*
		ListKeys list an owner's credentials

			@param ctx context.Context - execution context
			@param owner string - the owner
			@returns the credentials, newest first
	*/
	ListKeys(ctx context.Context, owner string) ([]KeyInfo, error)
}

// enclaveImpl implements Enclave
type enclaveImpl struct {
	goutils.Component
	persistence db.Client
	crypto      encryption.CryptographyEngine
	sessionKV   store.ProtectedKVStore
	sealer      attestation.Sealer
	audit       audit.Trail
	notifier    notify.Dispatcher
	clock       clock.Clock
	gracePeriod time.Duration
	validator   *validator.Validate

	sessions *sessionRegistry
}

// EnclaveParams enclave parameters
type EnclaveParams struct {
	// Persistence persistence layer client
	Persistence db.Client `validate:"required"`
	// Crypto cryptography engine
	Crypto encryption.CryptographyEngine `validate:"required"`
	// SessionStore encrypted storage of owner sessions
	SessionStore store.ProtectedKVStore `validate:"required"`
	// Audit audit trail
	Audit audit.Trail `validate:"required"`
	// Clock time source
	Clock clock.Clock `validate:"required"`
	// Sealer optional attestation-backed outer layer
	Sealer attestation.Sealer
	// Notifier optional rotation notification dispatcher
	Notifier notify.Dispatcher
	// GracePeriod how long a rotated-out proxy key still resolves. 0 disables it.
	GracePeriod time.Duration `validate:"gte=0"`
}

/*
NewEnclave define a new enclave, recovering any persisted owner sessions

	@param ctx context.Context - execution context
	@param params EnclaveParams - enclave parameters
	@returns the enclave
*/
func NewEnclave(ctx context.Context, params EnclaveParams) (Enclave, error) {
	validate := validator.New()
	if err := validate.Struct(&params); err != nil {
		return nil, fmt.Errorf("invalid enclave parameters [%w]", err)
	}
	if err := models.RegisterWithValidator(validate); err != nil {
		return nil, fmt.Errorf("failed to install custom validation macros [%w]", err)
	}

	logTags := log.Fields{"module": "enclave", "component": "secret-enclave"}

	instance := &enclaveImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		persistence: params.Persistence,
		crypto:      params.Crypto,
		sessionKV:   params.SessionStore,
		sealer:      params.Sealer,
		audit:       params.Audit,
		notifier:    params.Notifier,
		clock:       params.Clock,
		gracePeriod: params.GracePeriod,
		validator:   validate,
		sessions:    newSessionRegistry(),
	}

	// Recover persisted sessions
	persisted, err := params.SessionStore.ListByPrefix(ctx, sessionKeyPrefix, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to recover owner sessions [%w]", err)
	}
	active := 0
	for _, entry := range persisted {
		if len(entry.Value) != params.Crypto.KeyLen() {
			log.WithFields(logTags).WithField("key", entry.Key).Warn("Skipping malformed session")
			continue
		}
		active = instance.sessions.set(ownerFromKVKey(entry.Key), entry.Value)
	}
	metrics.ActiveSessions.Set(float64(active))
	log.WithFields(logTags).WithField("sessions", active).Info("Enclave ready")

	return instance, nil
}

// recordAudit append an audit entry. Failures are logged, never returned.
func (e *enclaveImpl) recordAudit(ctx context.Context, params audit.AppendParams) {
	if params.Source == "" {
		params.Source = models.AuditSourceEnclave
	}
	if _, err := e.audit.Append(ctx, params); err != nil {
		log.WithError(err).WithFields(e.GetLogTagsForContext(ctx)).
			WithField("action", params.Action).
			Error("Audit record lost")
	}
}

// observe count an enclave operation outcome
func observe(operation string, err error) {
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultFailure
	}
	metrics.EnclaveOperations.WithLabelValues(operation, result).Inc()
}

// sessionKey the session key of an owner, or ErrEnclaveLocked
func (e *enclaveImpl) sessionKey(owner string) ([]byte, error) {
	key, ok := e.sessions.key(owner)
	if !ok {
		return nil, ErrEnclaveLocked
	}
	return key, nil
}

/*
Unlock open a session for an owner. Unlocking an unlocked owner replaces its key.

	@param ctx context.Context - execution context
	@param owner string - the owner
	@param keyMaterial []byte - externally derived per-owner key material
*/
func (e *enclaveImpl) Unlock(ctx context.Context, owner string, keyMaterial []byte) (err error) {
	defer func() { observe("unlock", err) }()
	logTags := e.GetLogTagsForContext(ctx)

	if owner == "" || len(keyMaterial) == 0 {
		return fmt.Errorf("unlock requires an owner and key material")
	}
	if err := models.ValidateSessionTransition(
		e.sessions.state(owner), models.SessionStateUnlocked,
	); err != nil {
		return err
	}

	sessionKey, err := e.crypto.DeriveKey(keyMaterial, encryption.SessionKeyInfo)
	if err != nil {
		return fmt.Errorf("failed to derive session key [%w]", err)
	}

	if err := e.sessionKV.Put(ctx, sessionKVKey(owner), sessionKey, nil); err != nil {
		log.WithError(err).WithFields(logTags).WithField("owner", owner).Error(
			"Failed to persist owner session",
		)
		return fmt.Errorf("failed to persist owner session [%w]", err)
	}
	metrics.ActiveSessions.Set(float64(e.sessions.set(owner, sessionKey)))

	log.WithFields(logTags).WithField("owner", owner).Info("Enclave unlocked")
	e.recordAudit(ctx, audit.AppendParams{
		Action: models.AuditActionEnclaveUnlocked, Actor: owner,
	})
	return nil
}

/*
Lock close an owner's session and forget its persisted key

	@param ctx context.Context - execution context
	@param owner string - the owner
*/
func (e *enclaveImpl) Lock(ctx context.Context, owner string) (err error) {
	defer func() { observe("lock", err) }()
	logTags := e.GetLogTagsForContext(ctx)

	if err := models.ValidateSessionTransition(
		e.sessions.state(owner), models.SessionStateLocked,
	); err != nil {
		return err
	}

	if err := e.sessionKV.Delete(ctx, sessionKVKey(owner), nil); err != nil {
		return fmt.Errorf("failed to remove persisted owner session [%w]", err)
	}
	metrics.ActiveSessions.Set(float64(e.sessions.drop(owner)))

	log.WithFields(logTags).WithField("owner", owner).Info("Enclave locked")
	e.recordAudit(ctx, audit.AppendParams{
		Action: models.AuditActionEnclaveLocked, Actor: owner,
	})
	return nil
}

/*
SessionState current session state of an owner

	@param owner string - the owner
	@returns the state
*/
func (e *enclaveImpl) SessionState(owner string) models.SessionStateENUMType {
	return e.sessions.state(owner)
}
