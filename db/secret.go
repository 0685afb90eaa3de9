package db

import (
	"context"
	"fmt"

	"github.com/alwitt/proxykey/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

/*
InsertSecret record a new secret

	@param ctx context.Context - execution context
	@param entry models.Secret - the secret
	@returns the stored entry
*/
func (d *databaseImpl) InsertSecret(
	_ context.Context, entry models.Secret,
) (models.Secret, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	newEntry := SecretDBEntry{Secret: entry}

	if err := d.validator.Struct(&newEntry); err != nil {
		return models.Secret{}, fmt.Errorf("new secret entry is not valid [%w]", err)
	}

	if tmp := d.db.Create(&newEntry); tmp.Error != nil {
		return models.Secret{}, fmt.Errorf("new secret entry insert failed [%w]", tmp.Error)
	}

	return newEntry.Secret, nil
}

/*
GetSecretByHash fetch the current secret by its proxy key hash

	@param ctx context.Context - execution context
	@param proxyIDHash string - keyed hash of the proxy key
	@returns the secret
*/
func (d *databaseImpl) GetSecretByHash(
	_ context.Context, proxyIDHash string,
) (models.Secret, error) {
	var entry SecretDBEntry
	if tmp := d.db.Where("proxy_id_hash = ?", proxyIDHash).First(&entry); tmp.Error != nil {
		return models.Secret{}, fmt.Errorf("failed to fetch secret by hash [%w]", tmp.Error)
	}
	return entry.Secret, nil
}

/*
GetSecretByHistoryHash fetch the secret whose rotation history holds this hash

	@param ctx context.Context - execution context
	@param proxyIDHash string - keyed hash of a rotated-out proxy key
	@returns the secret
*/
func (d *databaseImpl) GetSecretByHistoryHash(
	_ context.Context, proxyIDHash string,
) (models.Secret, error) {
	// Hashes are hex so a substring match is a safe pre-filter; confirm on the parsed list
	var candidates []SecretDBEntry
	if tmp := d.db.
		Where("history_hashes LIKE ?", "%"+proxyIDHash+"%").
		Find(&candidates); tmp.Error != nil {
		return models.Secret{}, fmt.Errorf("failed to search secret history [%w]", tmp.Error)
	}
	for _, candidate := range candidates {
		if candidate.HistoryIndex(proxyIDHash) >= 0 {
			return candidate.Secret, nil
		}
	}
	return models.Secret{}, fmt.Errorf("no secret has hash in history [%w]", gorm.ErrRecordNotFound)
}

/*
GetSecretByOriginHash fetch the secret first issued under this proxy key hash

	@param ctx context.Context - execution context
	@param proxyIDHash string - keyed hash of the origin proxy key
	@returns the secret
*/
func (d *databaseImpl) GetSecretByOriginHash(
	_ context.Context, proxyIDHash string,
) (models.Secret, error) {
	var entry SecretDBEntry
	if tmp := d.db.Where("origin_key_hash = ?", proxyIDHash).First(&entry); tmp.Error != nil {
		return models.Secret{}, fmt.Errorf("failed to fetch secret by origin hash [%w]", tmp.Error)
	}
	return entry.Secret, nil
}

/*
ReplaceSecret atomically swap the current secret row for a new one. Must be called
within a transaction for the swap to be atomic.

	@param ctx context.Context - execution context
	@param oldProxyIDHash string - hash of the row to remove
	@param replacement models.Secret - the new row
	@returns the stored replacement
*/
func (d *databaseImpl) ReplaceSecret(
	ctx context.Context, oldProxyIDHash string, replacement models.Secret,
) (models.Secret, error) {
	tmp := d.db.Where("proxy_id_hash = ?", oldProxyIDHash).Delete(&SecretDBEntry{})
	if tmp.Error != nil {
		return models.Secret{}, fmt.Errorf("failed to delete replaced secret [%w]", tmp.Error)
	}
	if tmp.RowsAffected != 1 {
		return models.Secret{}, ErrSecretReplaced
	}

	replacement.ID = uuid.NewString()
	stored, err := d.InsertSecret(ctx, replacement)
	if err != nil {
		return models.Secret{}, fmt.Errorf("failed to insert replacement secret [%w]", err)
	}
	return stored, nil
}

/*
DeleteSecretByHash delete the current secret by its proxy key hash

	@param ctx context.Context - execution context
	@param proxyIDHash string - keyed hash of the proxy key
	@returns whether a row was deleted
*/
func (d *databaseImpl) DeleteSecretByHash(_ context.Context, proxyIDHash string) (bool, error) {
	tmp := d.db.Where("proxy_id_hash = ?", proxyIDHash).Delete(&SecretDBEntry{})
	if tmp.Error != nil {
		return false, fmt.Errorf("failed to delete secret [%w]", tmp.Error)
	}
	return tmp.RowsAffected > 0, nil
}

/*
ListSecrets list secrets

	@param ctx context.Context - execution context
	@param filters SecretQueryFilter - entry listing filter
	@return list of secrets
*/
func (d *databaseImpl) ListSecrets(
	_ context.Context, filters SecretQueryFilter,
) ([]models.Secret, error) {
	query := d.db.Model(&SecretDBEntry{})

	if filters.Owner != nil {
		query = query.Where("owner = ?", *filters.Owner)
	}

	query = applyPaging(query, filters.CommonListEntryQueryFilter)

	query = query.Order("created_at desc")

	var entries []SecretDBEntry
	if tmp := query.Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list secrets [%w]", tmp.Error)
	}

	result := []models.Secret{}
	for _, entry := range entries {
		result = append(result, entry.Secret)
	}

	return result, nil
}

/*
CountSecrets count secrets

	@param ctx context.Context - execution context
	@param owner *string - count only secrets of this owner
	@return number of secrets
*/
func (d *databaseImpl) CountSecrets(_ context.Context, owner *string) (int64, error) {
	query := d.db.Model(&SecretDBEntry{})
	if owner != nil {
		query = query.Where("owner = ?", *owner)
	}
	var count int64
	if tmp := query.Count(&count); tmp.Error != nil {
		return 0, fmt.Errorf("failed to count secrets [%w]", tmp.Error)
	}
	return count, nil
}
