package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/alwitt/proxykey/models"
	"gorm.io/gorm/clause"
)

/*
PutKV insert or update an encrypted key/value entry

	@param ctx context.Context - execution context
	@param entry models.KVEntry - the entry
*/
func (d *databaseImpl) PutKV(_ context.Context, entry models.KVEntry) error {
	newEntry := KVDBEntry{KVEntry: entry}

	if err := d.validator.Struct(&newEntry); err != nil {
		return fmt.Errorf("KV entry is not valid [%w]", err)
	}

	tmp := d.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"enc_value", "enc_nonce", "updated_at"}),
	}).Create(&newEntry)
	if tmp.Error != nil {
		return fmt.Errorf("KV entry upsert failed [%w]", tmp.Error)
	}
	return nil
}

/*
GetKV fetch a key/value entry

	@param ctx context.Context - execution context
	@param key string - entry key
	@returns the entry
*/
func (d *databaseImpl) GetKV(_ context.Context, key string) (models.KVEntry, error) {
	var entry KVDBEntry
	if tmp := d.db.Where("key = ?", key).First(&entry); tmp.Error != nil {
		return models.KVEntry{}, fmt.Errorf("failed to fetch KV entry '%s' [%w]", key, tmp.Error)
	}
	return entry.KVEntry, nil
}

/*
ListKVByPrefix list key/value entries whose key starts with prefix

	@param ctx context.Context - execution context
	@param prefix string - key prefix
	@returns the entries
*/
func (d *databaseImpl) ListKVByPrefix(_ context.Context, prefix string) ([]models.KVEntry, error) {
	// Escape LIKE wildcards in the prefix
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)

	var entries []KVDBEntry
	if tmp := d.db.
		Where(`key LIKE ? ESCAPE '\'`, escaped+"%").
		Order("key asc").
		Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list KV entries [%w]", tmp.Error)
	}

	result := []models.KVEntry{}
	for _, entry := range entries {
		result = append(result, entry.KVEntry)
	}
	return result, nil
}

/*
DeleteKV delete a key/value entry

	@param ctx context.Context - execution context
	@param key string - entry key
*/
func (d *databaseImpl) DeleteKV(_ context.Context, key string) error {
	if tmp := d.db.Where("key = ?", key).Delete(&KVDBEntry{}); tmp.Error != nil {
		return fmt.Errorf("failed to delete KV entry '%s' [%w]", key, tmp.Error)
	}
	return nil
}
