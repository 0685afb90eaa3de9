package db

import (
	"context"

	"github.com/alwitt/proxykey/models"
	"gorm.io/gorm"
)

// --------------------------------------------------------------------------------------
// Secrets

// SecretDBEntry secret DB entry
type SecretDBEntry struct {
	models.Secret
}

// TableName hard code table name
func (SecretDBEntry) TableName() string {
	return "secrets"
}

// --------------------------------------------------------------------------------------
// Audit entries

// AuditEntryDBEntry audit log DB entry
type AuditEntryDBEntry struct {
	models.AuditEntry
}

// TableName hard code table name
func (AuditEntryDBEntry) TableName() string {
	return "audit_entries"
}

// --------------------------------------------------------------------------------------
// Rate limiting

// RateWindowDBEntry rate limit window DB entry
type RateWindowDBEntry struct {
	models.RateWindow
}

// TableName hard code table name
func (RateWindowDBEntry) TableName() string {
	return "rate_windows"
}

// BanRecordDBEntry IP ban DB entry
type BanRecordDBEntry struct {
	models.BanRecord
}

// TableName hard code table name
func (BanRecordDBEntry) TableName() string {
	return "ip_bans"
}

// --------------------------------------------------------------------------------------
// Enclave key/value

// KVDBEntry enclave key/value DB entry
type KVDBEntry struct {
	models.KVEntry
}

// TableName hard code table name
func (KVDBEntry) TableName() string {
	return "enclave_kv"
}

// --------------------------------------------------------------------------------------
// Notifications

// NotificationDBEntry notification DB entry
type NotificationDBEntry struct {
	models.Notification
}

// TableName hard code table name
func (NotificationDBEntry) TableName() string {
	return "notifications"
}

// --------------------------------------------------------------------------------------

// DefineTables helper function to prepare a database with tables. Used by unit tests
// and by the `migrate` command.
func DefineTables(_ context.Context, db *gorm.DB) error {
	return db.AutoMigrate(
		SecretDBEntry{},
		AuditEntryDBEntry{},
		RateWindowDBEntry{},
		BanRecordDBEntry{},
		KVDBEntry{},
		NotificationDBEntry{},
	)
}
