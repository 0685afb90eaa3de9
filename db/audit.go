package db

import (
	"context"
	"fmt"

	"github.com/alwitt/proxykey/models"
	"gorm.io/gorm"
)

/*
InsertAuditEntry append an audit entry

	@param ctx context.Context - execution context
	@param entry models.AuditEntry - the entry
*/
func (d *databaseImpl) InsertAuditEntry(_ context.Context, entry models.AuditEntry) error {
	// sqlite compares timestamps as text, so every stored time is UTC
	entry.Timestamp = entry.Timestamp.UTC()
	newEntry := AuditEntryDBEntry{AuditEntry: entry}

	if err := d.validator.Struct(&newEntry); err != nil {
		return fmt.Errorf("new audit entry is not valid [%w]", err)
	}

	if tmp := d.db.Create(&newEntry); tmp.Error != nil {
		return fmt.Errorf("new audit entry insert failed [%w]", tmp.Error)
	}

	return nil
}

/*
GetLatestAuditEntry fetch the most recent audit entry

	@param ctx context.Context - execution context
	@returns the entry
*/
func (d *databaseImpl) GetLatestAuditEntry(_ context.Context) (models.AuditEntry, error) {
	var entry AuditEntryDBEntry
	if tmp := d.db.Order("id desc").First(&entry); tmp.Error != nil {
		return models.AuditEntry{}, fmt.Errorf("failed to fetch latest audit entry [%w]", tmp.Error)
	}
	return entry.AuditEntry, nil
}

// filterAuditEntries apply the non-paging audit entry filters
func filterAuditEntries(query *gorm.DB, filters AuditEntryQueryFilter) *gorm.DB {
	if filters.Actor != nil {
		query = query.Where("actor = ?", *filters.Actor)
	}
	if len(filters.Actions) > 0 {
		query = query.Where("action IN ?", filters.Actions)
	}
	if filters.EntriesAfter != nil {
		query = query.Where("timestamp >= ?", filters.EntriesAfter.UTC())
	}
	if filters.EntriesBefore != nil {
		query = query.Where("timestamp <= ?", filters.EntriesBefore.UTC())
	}
	if filters.FromID != nil {
		query = query.Where("id >= ?", *filters.FromID)
	}
	if filters.AfterID != nil {
		query = query.Where("id > ?", *filters.AfterID)
	}
	if filters.BeforeID != nil {
		query = query.Where("id < ?", *filters.BeforeID)
	}
	return query
}

/*
ListAuditEntries list audit entries

	@param ctx context.Context - execution context
	@param filters AuditEntryQueryFilter - entry listing filter
	@return list of entries
*/
func (d *databaseImpl) ListAuditEntries(
	_ context.Context, filters AuditEntryQueryFilter,
) ([]models.AuditEntry, error) {
	query := filterAuditEntries(d.db.Model(&AuditEntryDBEntry{}), filters)

	query = applyPaging(query, filters.CommonListEntryQueryFilter)

	if filters.NewestFirst {
		query = query.Order("id desc")
	} else {
		query = query.Order("id asc")
	}

	var entries []AuditEntryDBEntry
	if tmp := query.Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list audit entries [%w]", tmp.Error)
	}

	result := []models.AuditEntry{}
	for _, entry := range entries {
		result = append(result, entry.AuditEntry)
	}

	return result, nil
}

/*
CountAuditEntries count audit entries

	@param ctx context.Context - execution context
	@param filters AuditEntryQueryFilter - entry filter; paging is ignored
	@return number of entries
*/
func (d *databaseImpl) CountAuditEntries(
	_ context.Context, filters AuditEntryQueryFilter,
) (int64, error) {
	query := filterAuditEntries(d.db.Model(&AuditEntryDBEntry{}), filters)
	var count int64
	if tmp := query.Count(&count); tmp.Error != nil {
		return 0, fmt.Errorf("failed to count audit entries [%w]", tmp.Error)
	}
	return count, nil
}
