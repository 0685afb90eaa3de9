// Package encryption - data encryption processing engine
package encryption

import (
	"context"
	"fmt"

	cgoCrypto "github.com/alwitt/cgoutils/crypto"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
)

// EncryptedData an AEAD cipher text and its nonce
type EncryptedData struct {
	CipherText []byte
	Nonce      []byte
}

// HKDF info labels for the sub-keys derived from the process secret
const (
	systemAEADKeyInfo = "proxykey/system-aead"
	systemHashKeyInfo = "proxykey/keyed-hash"
)

// SessionKeyInfo HKDF info label for deriving an owner's session AEAD key
const SessionKeyInfo = "proxykey/session-aead"

/*
CryptographyEngine the system's cryptography engine. It is solely responsible for all
cryptographic operations in the system.

The engine holds two sub-keys derived from the process-wide secret: one AEAD key for
system level encryption (proxy IDs, audit details, persisted session keys, and the
fallback outer payload layer), and one key for the keyed hash used for lookups.
*/
type CryptographyEngine interface {
	// ------------------------------------------------------------------------------------
	// Symmetric encryption

	/*
		Encrypt encrypt plain text with a caller provided AEAD key

			@param ctx context.Context - execution context
			@param key []byte - the AEAD key
			@param plainText []byte - the plain text to encrypt
			@returns the cipher text and nonce
	*/
	Encrypt(ctx context.Context, key []byte, plainText []byte) (EncryptedData, error)

	/*
		Decrypt decrypt cipher text with a caller provided AEAD key

			@param ctx context.Context - execution context
			@param key []byte - the AEAD key
			@param encrypted EncryptedData - the cipher text to decrypt
			@returns the plain text
	*/
	Decrypt(ctx context.Context, key []byte, encrypted EncryptedData) ([]byte, error)

	/*
		EncryptSystem encrypt plain text with the process-wide AEAD key

			@param ctx context.Context - execution context
			@param plainText []byte - the plain text to encrypt
			@returns the cipher text and nonce
	*/
	EncryptSystem(ctx context.Context, plainText []byte) (EncryptedData, error)

	/*
		DecryptSystem decrypt cipher text with the process-wide AEAD key

			@param ctx context.Context - execution context
			@param encrypted EncryptedData - the cipher text to decrypt
			@returns the plain text
	*/
	DecryptSystem(ctx context.Context, encrypted EncryptedData) ([]byte, error)

	/*
		KeyLen the AEAD key length

			@returns the key length in bytes
	*/
	KeyLen() int

	// ------------------------------------------------------------------------------------
	// Derivation and hashing

	/*
		DeriveKey derive an AEAD key from key material

			@param material []byte - the input key material
			@param info string - derivation context label
			@returns the derived key
	*/
	DeriveKey(material []byte, info string) ([]byte, error)

	/*
		KeyedHash compute the hex encoded keyed hash of a value

			@param value string - the value to hash
			@returns the hash
	*/
	KeyedHash(value string) string

	// ------------------------------------------------------------------------------------
	// Random material

	/*
		NewProxyID generate a new random proxy key

			@param ctx context.Context - execution context
			@returns the proxy key
	*/
	NewProxyID(ctx context.Context) (string, error)

	/*
		RandomBytes read bytes from the engine RNG

			@param ctx context.Context - execution context
			@param length int - number of bytes
			@returns the random bytes
	*/
	RandomBytes(ctx context.Context, length int) ([]byte, error)
}

// cryptoEngine implements CryptographyEngine
type cryptoEngine struct {
	goutils.Component

	crypto cgoCrypto.Engine

	aeadKeyLen    int
	systemAEADKey []byte
	systemHashKey []byte
}

// CryptographyEngineParams cryptography engine init parameters
type CryptographyEngineParams struct {
	// SystemSecret the process-wide secret all system sub-keys are derived from
	SystemSecret []byte `validate:"required,min=32"`
}

/*
NewCryptographyEngine define new cryptography engine

	@param ctx context.Context - execution context
	@param params CryptographyEngineParams - engine parameters
	@returns engine instance
*/
func NewCryptographyEngine(
	ctx context.Context, params CryptographyEngineParams,
) (CryptographyEngine, error) {
	if err := validator.New().Struct(&params); err != nil {
		return nil, fmt.Errorf("invalid engine init parameters [%w]", err)
	}

	// Prepare core crypto engine
	engine, err := cgoCrypto.NewEngine(log.Fields{
		"package": "cgoutils", "module": "crypto", "component": "crypto-engine",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to prepare core cryptography [%w]", err)
	}

	logTags := log.Fields{"module": "encryption", "component": "crypto-engine"}

	instance := &cryptoEngine{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		crypto: engine,
	}

	aead, err := engine.GetAEAD(ctx, cgoCrypto.AEADTypeXChaCha20Poly1305)
	if err != nil {
		return nil, fmt.Errorf("unable to define AEAD client [%w]", err)
	}
	instance.aeadKeyLen = aead.ExpectedKeyLen()

	// Derive the system sub-keys
	if instance.systemAEADKey, err = instance.DeriveKey(
		params.SystemSecret, systemAEADKeyInfo,
	); err != nil {
		return nil, fmt.Errorf("failed to derive system AEAD key [%w]", err)
	}
	if instance.systemHashKey, err = instance.DeriveKey(
		params.SystemSecret, systemHashKeyInfo,
	); err != nil {
		return nil, fmt.Errorf("failed to derive system hash key [%w]", err)
	}

	log.WithFields(logTags).Debug("Cryptography engine ready")

	return instance, nil
}

/*
KeyLen the AEAD key length

	@returns the key length in bytes
*/
func (e *cryptoEngine) KeyLen() int {
	return e.aeadKeyLen
}
