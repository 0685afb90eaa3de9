package encryption_test

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/alwitt/proxykey/encryption"
	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
)

// testSecret a random process secret
func testSecret(t *testing.T) []byte {
	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	assert.Nil(t, err)
	return secret
}

func TestCryptoEngineInit(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	// Case 0: no secret
	{
		_, err := encryption.NewCryptographyEngine(utCtx, encryption.CryptographyEngineParams{})
		assert.Error(err)
	}

	// Case 1: secret too short
	{
		_, err := encryption.NewCryptographyEngine(utCtx, encryption.CryptographyEngineParams{
			SystemSecret: []byte("too-short"),
		})
		assert.Error(err)
	}

	// Case 2: valid secret
	{
		uut, err := encryption.NewCryptographyEngine(utCtx, encryption.CryptographyEngineParams{
			SystemSecret: testSecret(t),
		})
		assert.Nil(err)
		assert.Equal(32, uut.KeyLen())
	}
}
