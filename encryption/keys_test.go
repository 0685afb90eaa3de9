package encryption_test

import (
	"context"
	"testing"

	"github.com/alwitt/proxykey/encryption"
	"github.com/alwitt/proxykey/models"
	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
)

func TestCryptoEngineDeriveKey(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	uut, err := encryption.NewCryptographyEngine(utCtx, encryption.CryptographyEngineParams{
		SystemSecret: testSecret(t),
	})
	assert.Nil(err)

	key1, err := uut.DeriveKey([]byte("wallet-derived-material"), encryption.SessionKeyInfo)
	assert.Nil(err)
	assert.Len(key1, uut.KeyLen())

	// Deterministic
	key2, err := uut.DeriveKey([]byte("wallet-derived-material"), encryption.SessionKeyInfo)
	assert.Nil(err)
	assert.Equal(key1, key2)

	// Domain separated
	key3, err := uut.DeriveKey([]byte("wallet-derived-material"), "other")
	assert.Nil(err)
	assert.NotEqual(key1, key3)

	_, err = uut.DeriveKey(nil, encryption.SessionKeyInfo)
	assert.Error(err)
}

func TestCryptoEngineKeyedHash(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	secret := testSecret(t)
	uut1, err := encryption.NewCryptographyEngine(utCtx, encryption.CryptographyEngineParams{
		SystemSecret: secret,
	})
	assert.Nil(err)
	uut2, err := encryption.NewCryptographyEngine(utCtx, encryption.CryptographyEngineParams{
		SystemSecret: secret,
	})
	assert.Nil(err)
	uut3, err := encryption.NewCryptographyEngine(utCtx, encryption.CryptographyEngineParams{
		SystemSecret: testSecret(t),
	})
	assert.Nil(err)

	hash := uut1.KeyedHash("priv_0123456789abcdef0123456789abcdef")
	assert.Len(hash, 64)
	assert.Equal(hash, uut2.KeyedHash("priv_0123456789abcdef0123456789abcdef"))
	assert.NotEqual(hash, uut3.KeyedHash("priv_0123456789abcdef0123456789abcdef"))
	assert.NotEqual(hash, uut1.KeyedHash("priv_0123456789abcdef0123456789abcdee"))
}

func TestCryptoEngineNewProxyID(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	uut, err := encryption.NewCryptographyEngine(utCtx, encryption.CryptographyEngineParams{
		SystemSecret: testSecret(t),
	})
	assert.Nil(err)

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		proxyID, err := uut.NewProxyID(utCtx)
		assert.Nil(err)
		assert.True(models.IsValidProxyID(proxyID), proxyID)
		assert.False(seen[proxyID])
		seen[proxyID] = true
	}
}
