// Package store - data storage controllers
package store

import (
	"context"
	"fmt"

	"github.com/alwitt/goutils"
	"github.com/alwitt/proxykey/db"
	"github.com/alwitt/proxykey/encryption"
	"github.com/alwitt/proxykey/models"
	"github.com/apex/log"
)

// KeyValue one decrypted key/value pair
type KeyValue struct {
	Key   string
	Value []byte
}

// ProtectedKVStore protected key store record KVs after encrypting value with the
// process-wide key
type ProtectedKVStore interface {
	/*
		Put record a key value pair, replacing any existing value

			@param ctx context.Context - execution context
			@param key string - key
			@param value []byte - value
			@param activeDBClient Database - existing database transaction
	*/
	Put(ctx context.Context, key string, value []byte, activeDBClient db.Database) error

	/*
		Get fetch and decrypt the value of a key

			@param ctx context.Context - execution context
			@param key string - key
			@param activeDBClient Database - existing database transaction
			@return decrypted value
	*/
	Get(ctx context.Context, key string, activeDBClient db.Database) ([]byte, error)

	/*
		ListByPrefix fetch and decrypt every pair whose key starts with a prefix. Entries
		which fail to decrypt are skipped.

			@param ctx context.Context - execution context
			@param prefix string - key prefix
			@param activeDBClient Database - existing database transaction
			@return decrypted pairs in key order
	*/
	ListByPrefix(
		ctx context.Context, prefix string, activeDBClient db.Database,
	) ([]KeyValue, error)

	/*
		Delete delete a key from storage

			@param ctx context.Context - execution context
			@param key string - key
			@param activeDBClient Database - existing database transaction
	*/
	Delete(ctx context.Context, key string, activeDBClient db.Database) error
}

// protectedKVStore implements ProtectedKVStore
type protectedKVStore struct {
	goutils.Component

	persistence db.Client

	cryptoEngine encryption.CryptographyEngine
}

/*
NewProtectedKVStore define new protected KV store

	@param persistence db.Client - persistence layer client
	@param cryptoEngine encryption.CryptographyEngine - cryptography engine
	@returns store instance
*/
func NewProtectedKVStore(
	persistence db.Client, cryptoEngine encryption.CryptographyEngine,
) (ProtectedKVStore, error) {
	if persistence == nil || cryptoEngine == nil {
		return nil, fmt.Errorf("protected KV store requires persistence and cryptography engine")
	}

	logTags := log.Fields{"module": "store", "component": "protected-kv-store"}

	return &protectedKVStore{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		persistence:  persistence,
		cryptoEngine: cryptoEngine,
	}, nil
}

/*
Put record a key value pair, replacing any existing value

	@param ctx context.Context - execution context
	@param key string - key
	@param value []byte - value
	@param activeDBClient Database - existing database transaction
*/
func (s *protectedKVStore) Put(
	ctx context.Context, key string, value []byte, activeDBClient db.Database,
) error {
	encrypted, err := s.cryptoEngine.EncryptSystem(ctx, value)
	if err != nil {
		return fmt.Errorf("failed to encrypt value of key '%s' [%w]", key, err)
	}

	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, s.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			return dbClient.PutKV(dbCtx, models.KVEntry{
				Key: key, EncValue: encrypted.CipherText, EncNonce: encrypted.Nonce,
			})
		},
	); dbErr != nil {
		return fmt.Errorf("failed to record key '%s' [%w]", key, dbErr)
	}

	return nil
}

/*
Get fetch and decrypt the value of a key

	@param ctx context.Context - execution context
	@param key string - key
	@param activeDBClient Database - existing database transaction
	@return decrypted value
*/
func (s *protectedKVStore) Get(
	ctx context.Context, key string, activeDBClient db.Database,
) ([]byte, error) {
	var entry models.KVEntry
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, s.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			entry, err = dbClient.GetKV(dbCtx, key)
			return err
		},
	); dbErr != nil {
		return nil, fmt.Errorf("failed to read key '%s' [%w]", key, dbErr)
	}

	value, err := s.cryptoEngine.DecryptSystem(ctx, encryption.EncryptedData{
		CipherText: entry.EncValue, Nonce: entry.EncNonce,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt value of key '%s' [%w]", key, err)
	}
	return value, nil
}

/*
ListByPrefix fetch and decrypt every pair whose key starts with a prefix. Entries which
fail to decrypt are skipped.

	@param ctx context.Context - execution context
	@param prefix string - key prefix
	@param activeDBClient Database - existing database transaction
	@return decrypted pairs in key order
*/
func (s *protectedKVStore) ListByPrefix(
	ctx context.Context, prefix string, activeDBClient db.Database,
) ([]KeyValue, error) {
	logTags := s.GetLogTagsForContext(ctx)

	var entries []models.KVEntry
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, s.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			entries, err = dbClient.ListKVByPrefix(dbCtx, prefix)
			return err
		},
	); dbErr != nil {
		return nil, fmt.Errorf("failed to list keys with prefix '%s' [%w]", prefix, dbErr)
	}

	result := []KeyValue{}
	for _, entry := range entries {
		value, err := s.cryptoEngine.DecryptSystem(ctx, encryption.EncryptedData{
			CipherText: entry.EncValue, Nonce: entry.EncNonce,
		})
		if err != nil {
			log.WithError(err).WithFields(logTags).WithField("key", entry.Key).Warn(
				"Skipping undecryptable KV entry",
			)
			continue
		}
		result = append(result, KeyValue{Key: entry.Key, Value: value})
	}
	return result, nil
}

/*
Delete delete a key from storage

	@param ctx context.Context - execution context
	@param key string - key
	@param activeDBClient Database - existing database transaction
*/
func (s *protectedKVStore) Delete(
	ctx context.Context, key string, activeDBClient db.Database,
) error {
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, s.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			return dbClient.DeleteKV(dbCtx, key)
		},
	); dbErr != nil {
		return fmt.Errorf("failed to delete key '%s' [%w]", key, dbErr)
	}
	return nil
}
