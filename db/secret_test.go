package db_test

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/alwitt/proxykey/db"
	"github.com/alwitt/proxykey/models"
	"github.com/apex/log"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm/logger"
)

// newTestClient create a DB client over a unique temporary sqlite file
func newTestClient(t *testing.T) db.Client {
	testDB := fmt.Sprintf("/tmp/proxykey_ut_%s.db", ulid.Make().String())
	log.WithField("db", testDB).Debug("Test database")

	uut, err := db.NewConnection(db.GetSqliteDialector(testDB), logger.Error)
	assert.Nil(t, err)
	assert.Nil(t, uut.RunSQLInTransaction(context.Background(), db.DefineTables))
	return uut
}

func randomHash() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func testSecret(owner string) models.Secret {
	hash := randomHash()
	return models.Secret{
		ProxyIDHash:     hash,
		EncProxyID:      []byte("enc-proxy-id"),
		EncProxyIDNonce: []byte("nonce-1"),
		Owner:           owner,
		Provider:        "openai",
		PayloadScheme:   models.PayloadSchemeAEADFallback,
		EncPayload:      []byte("enc-payload"),
		EncPayloadNonce: []byte("nonce-2"),
		OriginKeyHash:   hash,
		LastRotatedAt:   time.Now().UTC(),
	}
}

func TestDBSecretLifecycle(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	uut := newTestClient(t)

	owner := ulid.Make().String()

	// Insert two secrets
	var secret1, secret2 models.Secret
	assert.Nil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			var err error
			secret1, err = dbClient.InsertSecret(ctx, testSecret(owner))
			assert.Nil(err)
			assert.NotEmpty(secret1.ID)
			secret2, err = dbClient.InsertSecret(ctx, testSecret(owner))
			return err
		},
	))

	// Duplicate proxy key hash is rejected
	assert.NotNil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			dup := testSecret(owner)
			dup.ProxyIDHash = secret1.ProxyIDHash
			_, err := dbClient.InsertSecret(ctx, dup)
			return err
		},
	))

	// Invalid payload scheme is rejected
	assert.NotNil(uut.UseDatabase(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			bad := testSecret(owner)
			bad.PayloadScheme = "PLAIN"
			_, err := dbClient.InsertSecret(ctx, bad)
			return err
		},
	))

	// Fetch by hash
	assert.Nil(uut.UseDatabase(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			entry, err := dbClient.GetSecretByHash(ctx, secret1.ProxyIDHash)
			assert.Nil(err)
			assert.Equal(secret1.ID, entry.ID)
			assert.Equal("openai", entry.Provider)
			assert.Equal([]byte("enc-payload"), entry.EncPayload)

			_, err = dbClient.GetSecretByHash(ctx, randomHash())
			assert.True(db.IsNotFound(err))
			return nil
		},
	))

	// Count and list
	assert.Nil(uut.UseDatabase(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			count, err := dbClient.CountSecrets(ctx, &owner)
			assert.Nil(err)
			assert.Equal(int64(2), count)

			other := ulid.Make().String()
			count, err = dbClient.CountSecrets(ctx, &other)
			assert.Nil(err)
			assert.Equal(int64(0), count)

			entries, err := dbClient.ListSecrets(ctx, db.SecretQueryFilter{Owner: &owner})
			assert.Nil(err)
			assert.Len(entries, 2)

			limit := 1
			entries, err = dbClient.ListSecrets(ctx, db.SecretQueryFilter{
				CommonListEntryQueryFilter: db.CommonListEntryQueryFilter{Limit: &limit},
				Owner:                      &owner,
			})
			assert.Nil(err)
			assert.Len(entries, 1)
			return nil
		},
	))

	// Delete
	assert.Nil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			deleted, err := dbClient.DeleteSecretByHash(ctx, secret2.ProxyIDHash)
			assert.Nil(err)
			assert.True(deleted)
			deleted, err = dbClient.DeleteSecretByHash(ctx, secret2.ProxyIDHash)
			assert.Nil(err)
			assert.False(deleted)
			return nil
		},
	))
}

func TestDBSecretReplace(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	uut := newTestClient(t)

	owner := ulid.Make().String()

	var original models.Secret
	assert.Nil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			var err error
			original, err = dbClient.InsertSecret(ctx, testSecret(owner))
			return err
		},
	))

	// Replace with a rotated row
	replacement := original
	replacement.ProxyIDHash = randomHash()
	replacement.PushHistory(original.ProxyIDHash)
	var rotated models.Secret
	assert.Nil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			var err error
			rotated, err = dbClient.ReplaceSecret(ctx, original.ProxyIDHash, replacement)
			return err
		},
	))
	assert.NotEqual(original.ID, rotated.ID)
	assert.Equal(original.OriginKeyHash, rotated.OriginKeyHash)

	assert.Nil(uut.UseDatabase(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			_, err := dbClient.GetSecretByHash(ctx, original.ProxyIDHash)
			assert.True(db.IsNotFound(err))

			entry, err := dbClient.GetSecretByHistoryHash(ctx, original.ProxyIDHash)
			assert.Nil(err)
			assert.Equal(rotated.ID, entry.ID)

			entry, err = dbClient.GetSecretByOriginHash(ctx, original.ProxyIDHash)
			assert.Nil(err)
			assert.Equal(rotated.ID, entry.ID)

			_, err = dbClient.GetSecretByHistoryHash(ctx, randomHash())
			assert.True(db.IsNotFound(err))

			// Hash prefixes do not match history entries
			_, err = dbClient.GetSecretByHistoryHash(ctx, original.ProxyIDHash[:20])
			assert.True(db.IsNotFound(err))
			return nil
		},
	))

	// A second replace of the already replaced row must fail and roll back
	again := original
	again.ProxyIDHash = randomHash()
	err := uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			_, err := dbClient.ReplaceSecret(ctx, original.ProxyIDHash, again)
			return err
		},
	)
	assert.ErrorIs(err, db.ErrSecretReplaced)

	assert.Nil(uut.UseDatabase(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			_, err := dbClient.GetSecretByHash(ctx, again.ProxyIDHash)
			assert.True(db.IsNotFound(err))
			count, err := dbClient.CountSecrets(ctx, &owner)
			assert.Nil(err)
			assert.Equal(int64(1), count)
			return nil
		},
	))
}
