package enclave

import (
	"context"
	"errors"
	"fmt"

	"github.com/alwitt/proxykey/audit"
	"github.com/alwitt/proxykey/db"
	"github.com/alwitt/proxykey/models"
	"github.com/apex/log"
)

/*
Provision store a credential under a new proxy key

	@param ctx context.Context - execution context
	@param owner string - the owner
	@param params ProvisionParams - the credential
	@returns the stored secret
*/
func (e *enclaveImpl) Provision(
	ctx context.Context, owner string, params ProvisionParams,
) (result models.Secret, err error) {
	defer func() { observe("provision", err) }()
	logTags := e.GetLogTagsForContext(ctx)

	if !models.IsValidProxyID(params.ProxyID) {
		return models.Secret{}, ErrInvalidFormat
	}
	if err := e.validator.Struct(&params); err != nil {
		return models.Secret{}, fmt.Errorf("invalid provision parameters [%w]", err)
	}
	sessionKey, err := e.sessionKey(owner)
	if err != nil {
		return models.Secret{}, err
	}

	payload, err := e.sealPayload(ctx, sessionKey, params.Credential)
	if err != nil {
		return models.Secret{}, err
	}
	encProxyID, err := e.crypto.EncryptSystem(ctx, []byte(params.ProxyID))
	if err != nil {
		return models.Secret{}, fmt.Errorf("failed to encrypt proxy key [%w]", err)
	}

	proxyIDHash := e.crypto.KeyedHash(params.ProxyID)
	now := e.clock.Now()
	secret := models.Secret{
		ProxyIDHash:        proxyIDHash,
		EncProxyID:         encProxyID.CipherText,
		EncProxyIDNonce:    encProxyID.Nonce,
		Owner:              owner,
		Provider:           params.Provider,
		PayloadScheme:      payload.scheme,
		EncPayload:         payload.cipherText,
		EncPayloadNonce:    payload.nonce,
		RotationIntervalMs: params.RotationIntervalMs,
		WebhookURL:         params.WebhookURL,
		OriginKeyHash:      proxyIDHash,
		LastRotatedAt:      now,
		CreatedAt:          now,
	}

	err = e.persistence.UseDatabaseInTransaction(
		ctx, func(ctx context.Context, dbClient db.Database) error {
			if _, err := dbClient.GetSecretByHash(ctx, proxyIDHash); err == nil {
				return ErrDuplicate
			} else if !db.IsNotFound(err) {
				return err
			}
			var err error
			result, err = dbClient.InsertSecret(ctx, secret)
			return err
		},
	)
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			return models.Secret{}, ErrDuplicate
		}
		log.WithError(err).WithFields(logTags).WithField("owner", owner).Error(
			"Failed to store credential",
		)
		return models.Secret{}, fmt.Errorf("failed to store credential [%w]", err)
	}

	log.WithFields(logTags).
		WithField("owner", owner).
		WithField("provider", params.Provider).
		WithField("scheme", payload.scheme).
		Info("Credential provisioned")
	e.recordAudit(ctx, audit.AppendParams{
		Action: models.AuditActionKeyProvisioned,
		Actor:  owner,
		Source: params.Source,
		IP:     params.IP,
		Details: audit.Details{
			"provider": params.Provider,
			"proxy_id": models.MaskProxyID(params.ProxyID),
			"scheme":   string(payload.scheme),
		},
	})
	return result, nil
}

// lookupCurrent fetch the current secret by proxy key hash; nil if there is none
func (e *enclaveImpl) lookupCurrent(ctx context.Context, proxyIDHash string) (*models.Secret, error) {
	var found *models.Secret
	err := e.persistence.UseDatabase(ctx, func(ctx context.Context, dbClient db.Database) error {
		secret, err := dbClient.GetSecretByHash(ctx, proxyIDHash)
		if err != nil {
			if db.IsNotFound(err) {
				return nil
			}
			return err
		}
		found = &secret
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("secret lookup failed [%w]", err)
	}
	return found, nil
}

// lookupHistory fetch the secret whose history holds the proxy key hash; nil if none
func (e *enclaveImpl) lookupHistory(ctx context.Context, proxyIDHash string) (*models.Secret, error) {
	var found *models.Secret
	err := e.persistence.UseDatabase(ctx, func(ctx context.Context, dbClient db.Database) error {
		secret, err := dbClient.GetSecretByHistoryHash(ctx, proxyIDHash)
		if err == nil {
			found = &secret
			return nil
		}
		if !db.IsNotFound(err) {
			return err
		}
		secret, err = dbClient.GetSecretByOriginHash(ctx, proxyIDHash)
		if err == nil {
			found = &secret
			return nil
		}
		if db.IsNotFound(err) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("secret history lookup failed [%w]", err)
	}
	return found, nil
}

// reveal decrypt a secret's credential. Decryption failures are logged and yield nil.
func (e *enclaveImpl) reveal(ctx context.Context, secret models.Secret) ([]byte, error) {
	sessionKey, err := e.sessionKey(secret.Owner)
	if err != nil {
		return nil, err
	}
	credential, err := e.openPayload(ctx, sessionKey, secret)
	if err != nil {
		log.WithError(err).
			WithFields(e.GetLogTagsForContext(ctx)).
			WithField("secret", secret.ID).
			Error("Credential decryption failed")
		return nil, nil
	}
	return credential, nil
}

/*
Resolve exchange a proxy key for its credential. A rotated-out key still resolves within
the grace period.

	@param ctx context.Context - execution context
	@param proxyID string - the proxy key
	@returns the credential, or nil if the key is unknown or expired
*/
func (e *enclaveImpl) Resolve(ctx context.Context, proxyID string) (result []byte, err error) {
	defer func() { observe("resolve", err) }()

	if !models.IsValidProxyID(proxyID) {
		return nil, ErrInvalidFormat
	}
	proxyIDHash := e.crypto.KeyedHash(proxyID)

	secret, err := e.lookupCurrent(ctx, proxyIDHash)
	if err != nil {
		return nil, err
	}
	if secret == nil && e.gracePeriod > 0 {
		// Only the most recently rotated-out key, and only within the grace period
		previous, err := e.lookupHistory(ctx, proxyIDHash)
		if err != nil {
			return nil, err
		}
		if previous != nil &&
			previous.HistoryIndex(proxyIDHash) == 0 &&
			e.clock.Now().Sub(previous.LastRotatedAt) < e.gracePeriod {
			secret = previous
		}
	}
	if secret == nil {
		return nil, nil
	}
	return e.reveal(ctx, *secret)
}

/*
FindCurrent exchange any proxy key ever issued for a credential for the credential

	@param ctx context.Context - execution context
	@param proxyID string - current, recently rotated-out, or origin proxy key
	@returns the credential, or nil if the key is unknown
*/
func (e *enclaveImpl) FindCurrent(ctx context.Context, proxyID string) (result []byte, err error) {
	defer func() { observe("find_current", err) }()

	if !models.IsValidProxyID(proxyID) {
		return nil, ErrInvalidFormat
	}
	proxyIDHash := e.crypto.KeyedHash(proxyID)

	secret, err := e.lookupCurrent(ctx, proxyIDHash)
	if err != nil {
		return nil, err
	}
	if secret == nil {
		if secret, err = e.lookupHistory(ctx, proxyIDHash); err != nil {
			return nil, err
		}
	}
	if secret == nil {
		return nil, nil
	}
	return e.reveal(ctx, *secret)
}

/*
HasCurrent whether a proxy key is currently active

	@param ctx context.Context - execution context
	@param proxyID string - the proxy key
	@returns whether it is active
*/
func (e *enclaveImpl) HasCurrent(ctx context.Context, proxyID string) (bool, error) {
	if !models.IsValidProxyID(proxyID) {
		return false, nil
	}
	secret, err := e.lookupCurrent(ctx, e.crypto.KeyedHash(proxyID))
	if err != nil {
		return false, err
	}
	return secret != nil, nil
}

/*
KeyCount number of provisioned credentials

	@param ctx context.Context - execution context
	@param owner *string - count only this owner's credentials
	@returns the count
*/
func (e *enclaveImpl) KeyCount(ctx context.Context, owner *string) (int64, error) {
	var count int64
	err := e.persistence.UseDatabase(ctx, func(ctx context.Context, dbClient db.Database) error {
		var err error
		count, err = dbClient.CountSecrets(ctx, owner)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count credentials [%w]", err)
	}
	return count, nil
}

/*
ListKeys list an owner's credentials

	@param ctx context.Context - execution context
	@param owner string - the owner
	@returns the credentials, newest first
*/
func (e *enclaveImpl) ListKeys(ctx context.Context, owner string) ([]KeyInfo, error) {
	if _, err := e.sessionKey(owner); err != nil {
		return nil, err
	}

	var secrets []models.Secret
	err := e.persistence.UseDatabase(ctx, func(ctx context.Context, dbClient db.Database) error {
		var err error
		secrets, err = dbClient.ListSecrets(ctx, db.SecretQueryFilter{Owner: &owner})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials [%w]", err)
	}

	result := make([]KeyInfo, 0, len(secrets))
	for _, secret := range secrets {
		proxyID, err := e.decryptProxyID(ctx, secret)
		if err != nil {
			return nil, err
		}
		result = append(result, KeyInfo{
			ProxyID:          proxyID,
			Provider:         secret.Provider,
			PayloadScheme:    secret.PayloadScheme,
			RotationInterval: secret.RotationInterval(),
			WebhookURL:       secret.WebhookURL,
			HistoryDepth:     len(secret.History()),
			CreatedAt:        secret.CreatedAt,
			LastRotatedAt:    secret.LastRotatedAt,
			NextRotation:     secret.NextRotation(),
		})
	}
	return result, nil
}

/*
Revoke delete a credential. Revoking an unknown key is not an error.

	@param ctx context.Context - execution context
	@param owner string - the owner
	@param proxyID string - the current proxy key
*/
func (e *enclaveImpl) Revoke(ctx context.Context, owner string, proxyID string) (err error) {
	defer func() { observe("revoke", err) }()
	logTags := e.GetLogTagsForContext(ctx)

	if !models.IsValidProxyID(proxyID) {
		return ErrInvalidFormat
	}
	if _, err := e.sessionKey(owner); err != nil {
		return err
	}
	proxyIDHash := e.crypto.KeyedHash(proxyID)

	removed := false
	err = e.persistence.UseDatabaseInTransaction(
		ctx, func(ctx context.Context, dbClient db.Database) error {
			secret, err := dbClient.GetSecretByHash(ctx, proxyIDHash)
			if err != nil {
				if db.IsNotFound(err) {
					return nil
				}
				return err
			}
			if secret.Owner != owner {
				return ErrNotOwner
			}
			removed, err = dbClient.DeleteSecretByHash(ctx, proxyIDHash)
			return err
		},
	)
	if err != nil {
		if errors.Is(err, ErrNotOwner) {
			return ErrNotOwner
		}
		log.WithError(err).WithFields(logTags).WithField("owner", owner).Error(
			"Failed to revoke credential",
		)
		return fmt.Errorf("failed to revoke credential [%w]", err)
	}

	log.WithFields(logTags).
		WithField("owner", owner).
		WithField("removed", removed).
		Info("Credential revoked")
	e.recordAudit(ctx, audit.AppendParams{
		Action: models.AuditActionKeyRevoked,
		Actor:  owner,
		Details: audit.Details{
			"proxy_id": models.MaskProxyID(proxyID),
			"removed":  removed,
		},
	})
	return nil
}
