package store_test

import (
	"context"
	"crypto/rand"
	"fmt"
	"testing"

	"github.com/alwitt/proxykey/db"
	"github.com/alwitt/proxykey/encryption"
	"github.com/alwitt/proxykey/models"
	"github.com/alwitt/proxykey/store"
	"github.com/apex/log"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) (db.Client, store.ProtectedKVStore) {
	utCtx := context.Background()

	testDB := fmt.Sprintf("/tmp/proxykey_store_ut_%s.db", ulid.Make().String())
	log.WithField("db", testDB).Debug("Test database")

	persistence, err := db.NewConnection(db.GetSqliteDialector(testDB), logger.Error)
	assert.Nil(t, err)
	assert.Nil(t, persistence.RunSQLInTransaction(utCtx, db.DefineTables))

	secret := make([]byte, 32)
	_, err = rand.Read(secret)
	assert.Nil(t, err)
	crypto, err := encryption.NewCryptographyEngine(utCtx, encryption.CryptographyEngineParams{
		SystemSecret: secret,
	})
	assert.Nil(t, err)

	uut, err := store.NewProtectedKVStore(persistence, crypto)
	assert.Nil(t, err)
	return persistence, uut
}

func TestKVStoreInit(t *testing.T) {
	assert := assert.New(t)

	_, err := store.NewProtectedKVStore(nil, nil)
	assert.Error(err)
}

func TestKVStorePutGet(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	persistence, uut := newTestStore(t)

	assert.Nil(uut.Put(utCtx, "session/alice", []byte("alice-key"), nil))

	value, err := uut.Get(utCtx, "session/alice", nil)
	assert.Nil(err)
	assert.Equal([]byte("alice-key"), value)

	// Value is not stored in the clear
	assert.Nil(persistence.UseDatabase(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			entry, err := dbClient.GetKV(ctx, "session/alice")
			assert.Nil(err)
			assert.NotContains(string(entry.EncValue), "alice-key")
			return nil
		},
	))

	// Replace
	assert.Nil(uut.Put(utCtx, "session/alice", []byte("alice-key-2"), nil))
	value, err = uut.Get(utCtx, "session/alice", nil)
	assert.Nil(err)
	assert.Equal([]byte("alice-key-2"), value)

	// Within a caller's transaction
	assert.Nil(persistence.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			if err := uut.Put(ctx, "session/bob", []byte("bob-key"), dbClient); err != nil {
				return err
			}
			value, err := uut.Get(ctx, "session/bob", dbClient)
			assert.Nil(err)
			assert.Equal([]byte("bob-key"), value)
			return nil
		},
	))

	assert.Nil(uut.Delete(utCtx, "session/alice", nil))
	_, err = uut.Get(utCtx, "session/alice", nil)
	assert.Error(err)
	assert.True(db.IsNotFound(err))
}

func TestKVStoreListByPrefix(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	persistence, uut := newTestStore(t)

	assert.Nil(uut.Put(utCtx, "session/bob", []byte("b"), nil))
	assert.Nil(uut.Put(utCtx, "session/alice", []byte("a"), nil))
	assert.Nil(uut.Put(utCtx, "other/carol", []byte("c"), nil))

	// An entry written under another key can't be read back
	assert.Nil(persistence.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			return dbClient.PutKV(ctx, models.KVEntry{
				Key:      "session/mallory",
				EncValue: []byte("not-a-real-cipher-text-not-a-real-cipher-text"),
				EncNonce: []byte("not-a-real-nonce-not-a-real"),
			})
		},
	))

	pairs, err := uut.ListByPrefix(utCtx, "session/", nil)
	assert.Nil(err)
	assert.Len(pairs, 2)
	assert.Equal("session/alice", pairs[0].Key)
	assert.Equal([]byte("a"), pairs[0].Value)
	assert.Equal("session/bob", pairs[1].Key)
}
