package enclave

import (
	"context"
	"errors"
	"fmt"

	"github.com/alwitt/proxykey/audit"
	"github.com/alwitt/proxykey/db"
	"github.com/alwitt/proxykey/metrics"
	"github.com/alwitt/proxykey/models"
	"github.com/alwitt/proxykey/notify"
	"github.com/apex/log"
)

/*
RotateIfDue rotate the proxy key if its rotation interval has elapsed.

The old row is deleted and the new row inserted within one transaction. When two
callers race, exactly one commits; the other gets ErrRotationConflict along with the
key the winner rotated to, when it can still be found.

	@param ctx context.Context - execution context
	@param proxyID string - the current proxy key
	@returns the new proxy key, or "" if no rotation happened
*/
func (e *enclaveImpl) RotateIfDue(ctx context.Context, proxyID string) (newProxyID string, err error) {
	defer func() {
		if newProxyID != "" || err != nil {
			observe("rotate", err)
		}
	}()
	logTags := e.GetLogTagsForContext(ctx)

	if !models.IsValidProxyID(proxyID) {
		return "", ErrInvalidFormat
	}
	oldHash := e.crypto.KeyedHash(proxyID)

	current, err := e.lookupCurrent(ctx, oldHash)
	if err != nil {
		return "", err
	}
	now := e.clock.Now()
	if current == nil || !current.RotationDue(now) {
		return "", nil
	}

	// Prepare the replacement key outside the transaction
	candidate, err := e.crypto.NewProxyID(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to generate proxy key [%w]", err)
	}
	encCandidate, err := e.crypto.EncryptSystem(ctx, []byte(candidate))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt proxy key [%w]", err)
	}
	newHash := e.crypto.KeyedHash(candidate)

	var rotated models.Secret
	err = e.persistence.UseDatabaseInTransaction(
		ctx, func(ctx context.Context, dbClient db.Database) error {
			// Re-read within the transaction; another rotator may have committed already
			latest, err := dbClient.GetSecretByHash(ctx, oldHash)
			if err != nil {
				if db.IsNotFound(err) {
					return ErrRotationConflict
				}
				return err
			}
			if !latest.RotationDue(now) {
				return ErrRotationConflict
			}

			replacement := latest
			replacement.ProxyIDHash = newHash
			replacement.EncProxyID = encCandidate.CipherText
			replacement.EncProxyIDNonce = encCandidate.Nonce
			replacement.PushHistory(oldHash)
			replacement.LastRotatedAt = now

			rotated, err = dbClient.ReplaceSecret(ctx, oldHash, replacement)
			if errors.Is(err, db.ErrSecretReplaced) {
				return ErrRotationConflict
			}
			return err
		},
	)
	if err != nil {
		if errors.Is(err, ErrRotationConflict) {
			log.WithFields(logTags).WithField("secret", current.ID).Debug(
				"Lost rotation race",
			)
			return e.successorKey(ctx, oldHash), ErrRotationConflict
		}
		log.WithError(err).WithFields(logTags).WithField("secret", current.ID).Error(
			"Rotation failed",
		)
		return "", fmt.Errorf("rotation failed [%w]", err)
	}

	metrics.Rotations.Inc()
	log.WithFields(logTags).
		WithField("owner", rotated.Owner).
		WithField("provider", rotated.Provider).
		WithField("secret", rotated.ID).
		Info("Proxy key rotated")

	e.recordAudit(ctx, audit.AppendParams{
		Action: models.AuditActionKeyRotated,
		Actor:  rotated.Owner,
		Details: audit.Details{
			"provider":      rotated.Provider,
			"old_proxy_id":  models.MaskProxyID(proxyID),
			"new_proxy_id":  models.MaskProxyID(candidate),
			"next_rotation": rotated.NextRotation(),
		},
	})

	if e.notifier != nil {
		if err := e.notifier.Rotated(ctx, rotated.Owner, rotated.WebhookURL, notify.RotationEvent{
			Event:        notify.EventKeyRotated,
			Provider:     rotated.Provider,
			OldKey:       proxyID,
			NewKey:       candidate,
			RotatedAt:    rotated.LastRotatedAt,
			NextRotation: rotated.NextRotation(),
		}); err != nil {
			log.WithError(err).WithFields(logTags).Warn("Rotation notification not recorded")
		}
	}

	return candidate, nil
}

// successorKey the current proxy key of the secret which rotated away from the hash; "" if unknown
func (e *enclaveImpl) successorKey(ctx context.Context, oldHash string) string {
	logTags := e.GetLogTagsForContext(ctx)
	successor, err := e.lookupHistory(ctx, oldHash)
	if err != nil {
		log.WithError(err).WithFields(logTags).Warn("Unable to find rotated secret")
		return ""
	}
	if successor == nil {
		return ""
	}
	proxyID, err := e.decryptProxyID(ctx, *successor)
	if err != nil {
		log.WithError(err).WithFields(logTags).WithField("secret", successor.ID).Error(
			"Unable to read rotated proxy key",
		)
		return ""
	}
	return proxyID
}
