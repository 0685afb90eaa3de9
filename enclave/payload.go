package enclave

import (
	"context"
	"fmt"

	"github.com/alwitt/proxykey/encryption"
	"github.com/alwitt/proxykey/models"
	"github.com/apex/log"
)

// sealedPayload the outer layer output stored with a secret
type sealedPayload struct {
	scheme     models.PayloadSchemeENUMType
	cipherText []byte
	nonce      []byte
}

// packInner serialize the inner layer as nonce length, nonce, then cipher text
func packInner(inner encryption.EncryptedData) ([]byte, error) {
	if len(inner.Nonce) == 0 || len(inner.Nonce) > 255 {
		return nil, fmt.Errorf("unsupported inner nonce length %d", len(inner.Nonce))
	}
	packed := make([]byte, 0, 1+len(inner.Nonce)+len(inner.CipherText))
	packed = append(packed, byte(len(inner.Nonce)))
	packed = append(packed, inner.Nonce...)
	packed = append(packed, inner.CipherText...)
	return packed, nil
}

// unpackInner reverse packInner
func unpackInner(packed []byte) (encryption.EncryptedData, error) {
	if len(packed) < 1 {
		return encryption.EncryptedData{}, fmt.Errorf("inner payload is empty")
	}
	nonceLen := int(packed[0])
	if nonceLen == 0 || len(packed) <= 1+nonceLen {
		return encryption.EncryptedData{}, fmt.Errorf("inner payload is truncated")
	}
	return encryption.EncryptedData{
		Nonce:      packed[1 : 1+nonceLen],
		CipherText: packed[1+nonceLen:],
	}, nil
}

/*
sealPayload encrypt a credential with both layers. The inner layer uses the owner's
session key. The outer layer is the attestation sealer when it is configured and
reachable, otherwise the process-wide AEAD.

	@param ctx context.Context - execution context
	@param sessionKey []byte - owner's session key
	@param credential []byte - the credential
	@returns the sealed payload
*/
func (e *enclaveImpl) sealPayload(
	ctx context.Context, sessionKey []byte, credential []byte,
) (sealedPayload, error) {
	logTags := e.GetLogTagsForContext(ctx)

	inner, err := e.crypto.Encrypt(ctx, sessionKey, credential)
	if err != nil {
		return sealedPayload{}, fmt.Errorf("inner layer encryption failed [%w]", err)
	}
	packed, err := packInner(inner)
	if err != nil {
		return sealedPayload{}, err
	}

	if e.sealer != nil && e.sealer.IsAvailable(ctx) {
		sealed, err := e.sealer.Encrypt(ctx, packed)
		if err == nil {
			return sealedPayload{scheme: models.PayloadSchemeAttested, cipherText: sealed}, nil
		}
		log.WithError(err).WithFields(logTags).Warn(
			"Attestation sealer failed, using fallback AEAD layer",
		)
	}

	outer, err := e.crypto.EncryptSystem(ctx, packed)
	if err != nil {
		return sealedPayload{}, fmt.Errorf("outer layer encryption failed [%w]", err)
	}
	return sealedPayload{
		scheme:     models.PayloadSchemeAEADFallback,
		cipherText: outer.CipherText,
		nonce:      outer.Nonce,
	}, nil
}

/*
openPayload decrypt a stored credential using the scheme recorded with it

	@param ctx context.Context - execution context
	@param sessionKey []byte - owner's session key
	@param secret models.Secret - the stored secret
	@returns the credential
*/
func (e *enclaveImpl) openPayload(
	ctx context.Context, sessionKey []byte, secret models.Secret,
) ([]byte, error) {
	var packed []byte
	var err error
	switch secret.PayloadScheme {
	case models.PayloadSchemeAttested:
		if e.sealer == nil {
			return nil, fmt.Errorf("payload was sealed by an attestation service which is not configured")
		}
		packed, err = e.sealer.Decrypt(ctx, secret.EncPayload)
	case models.PayloadSchemeAEADFallback:
		packed, err = e.crypto.DecryptSystem(ctx, encryption.EncryptedData{
			CipherText: secret.EncPayload, Nonce: secret.EncPayloadNonce,
		})
	default:
		return nil, fmt.Errorf("unknown payload scheme '%s'", secret.PayloadScheme)
	}
	if err != nil {
		return nil, fmt.Errorf("outer layer decryption failed [%w]", err)
	}

	inner, err := unpackInner(packed)
	if err != nil {
		return nil, err
	}
	credential, err := e.crypto.Decrypt(ctx, sessionKey, inner)
	if err != nil {
		return nil, fmt.Errorf("inner layer decryption failed [%w]", err)
	}
	return credential, nil
}

// decryptProxyID recover the clear proxy key of a secret
func (e *enclaveImpl) decryptProxyID(ctx context.Context, secret models.Secret) (string, error) {
	proxyID, err := e.crypto.DecryptSystem(ctx, encryption.EncryptedData{
		CipherText: secret.EncProxyID, Nonce: secret.EncProxyIDNonce,
	})
	if err != nil {
		return "", fmt.Errorf("failed to decrypt proxy key [%w]", err)
	}
	return string(proxyID), nil
}
