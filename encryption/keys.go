package encryption

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/alwitt/proxykey/models"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"
)

// proxyIDRandomBytes entropy in a proxy key; hex encoding doubles it to 32 characters
const proxyIDRandomBytes = 16

/*
DeriveKey derive an AEAD key from key material

	@param material []byte - the input key material
	@param info string - derivation context label
	@returns the derived key
*/
func (e *cryptoEngine) DeriveKey(material []byte, info string) ([]byte, error) {
	if len(material) == 0 {
		return nil, fmt.Errorf("no key material provided")
	}
	derived := make([]byte, e.aeadKeyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, material, nil, []byte(info)), derived); err != nil {
		return nil, fmt.Errorf("key derivation failed [%w]", err)
	}
	return derived, nil
}

/*
KeyedHash compute the hex encoded keyed hash of a value

	@param value string - the value to hash
	@returns the hash
*/
func (e *cryptoEngine) KeyedHash(value string) string {
	// blake2b only rejects keys longer than 64 bytes
	hasher, _ := blake2b.New256(e.systemHashKey)
	_, _ = hasher.Write([]byte(value))
	return hex.EncodeToString(hasher.Sum(nil))
}

/*
RandomBytes read bytes from the engine RNG

	@param ctx context.Context - execution context
	@param length int - number of bytes
	@returns the random bytes
*/
func (e *cryptoEngine) RandomBytes(_ context.Context, length int) ([]byte, error) {
	rng := e.crypto.GetRNGReader()
	buf := make([]byte, length)
	if n, err := rng.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to read %d bytes from RNG [%w]", length, err)
	} else if n != length {
		return nil, fmt.Errorf("did not get %d bytes from RNG, only %d", length, n)
	}
	return buf, nil
}

/*
NewProxyID generate a new random proxy key

	@param ctx context.Context - execution context
	@returns the proxy key
*/
func (e *cryptoEngine) NewProxyID(ctx context.Context) (string, error) {
	raw, err := e.RandomBytes(ctx, proxyIDRandomBytes)
	if err != nil {
		return "", err
	}
	return models.ProxyIDPrefix + hex.EncodeToString(raw), nil
}
