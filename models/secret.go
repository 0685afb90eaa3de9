// Package models - system data models
package models

import (
	"strings"
	"time"
)

// PayloadSchemeENUMType outer encryption layer ENUM type
type PayloadSchemeENUMType string

const (
	// PayloadSchemeAEADFallback payload sealed with the process-wide AEAD key
	PayloadSchemeAEADFallback PayloadSchemeENUMType = "AEAD_FALLBACK"
	// PayloadSchemeAttested payload sealed by the attestation-backed encryption service
	PayloadSchemeAttested PayloadSchemeENUMType = "ATTESTED"
)

// MaxHistoryHashes number of rotated-out proxy key hashes retained per secret
const MaxHistoryHashes = 3

// Secret one provisioned third-party credential
type Secret struct {
	// ID row ID. A rotation replaces the row, so it also replaces the ID.
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required,uuid_rfc4122"`

	// ProxyIDHash keyed hash of the current proxy key
	ProxyIDHash string `json:"proxy_id_hash" gorm:"column:proxy_id_hash;not null;uniqueIndex" validate:"required,hexadecimal"`
	// EncProxyID the encrypted proxy key
	EncProxyID []byte `json:"-" gorm:"column:enc_proxy_id;not null" validate:"required"`
	// EncProxyIDNonce the proxy key encryption nonce
	EncProxyIDNonce []byte `json:"-" gorm:"column:enc_proxy_id_nonce;not null" validate:"required"`

	// Owner account which provisioned the credential
	Owner string `json:"owner" gorm:"column:owner;not null;index" validate:"required"`
	// Provider free-text label for the upstream API
	Provider string `json:"provider" gorm:"column:provider;not null" validate:"required"`

	// PayloadScheme which outer layer sealed EncPayload
	PayloadScheme PayloadSchemeENUMType `json:"payload_scheme" gorm:"column:payload_scheme;not null" validate:"required,payload_scheme"`
	// EncPayload the encrypted credential
	EncPayload []byte `json:"-" gorm:"column:enc_payload;not null" validate:"required"`
	// EncPayloadNonce outer layer nonce. Empty when the attested scheme is used.
	EncPayloadNonce []byte `json:"-" gorm:"column:enc_payload_nonce"`

	// RotationIntervalMs rotation interval in milliseconds. 0 means never.
	RotationIntervalMs int64 `json:"rotation_interval_ms" gorm:"column:rotation_interval_ms;not null;default:0" validate:"gte=0"`
	// WebhookURL optional rotation webhook
	WebhookURL string `json:"webhook_url,omitempty" gorm:"column:webhook_url" validate:"omitempty,url"`

	// HistoryHashes comma joined most-recent-first rotated-out proxy key hashes
	HistoryHashes string `json:"history_hashes" gorm:"column:history_hashes;type:text"`
	// OriginKeyHash hash of the first proxy key ever issued for this credential
	OriginKeyHash string `json:"origin_key_hash" gorm:"column:origin_key_hash;not null;index" validate:"required,hexadecimal"`

	// LastRotatedAt last rotation timestamp
	LastRotatedAt time.Time `json:"last_rotated_at" gorm:"column:last_rotated_at;not null"`
	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}

// History the rotated-out proxy key hashes, most recent first
func (s Secret) History() []string {
	if s.HistoryHashes == "" {
		return []string{}
	}
	return strings.Split(s.HistoryHashes, ",")
}

// HistoryIndex position of a hash in the history, or -1
func (s Secret) HistoryIndex(hash string) int {
	for idx, entry := range s.History() {
		if entry == hash {
			return idx
		}
	}
	return -1
}

// PushHistory place a hash at the front of the history, dropping the oldest beyond
// MaxHistoryHashes
func (s *Secret) PushHistory(hash string) {
	updated := append([]string{hash}, s.History()...)
	if len(updated) > MaxHistoryHashes {
		updated = updated[:MaxHistoryHashes]
	}
	s.HistoryHashes = strings.Join(updated, ",")
}

// RotationInterval the rotation interval as a duration
func (s Secret) RotationInterval() time.Duration {
	return time.Duration(s.RotationIntervalMs) * time.Millisecond
}

// RotationDue whether the secret should be rotated at the given time
func (s Secret) RotationDue(now time.Time) bool {
	if s.RotationIntervalMs <= 0 {
		return false
	}
	return now.Sub(s.LastRotatedAt) >= s.RotationInterval()
}

// NextRotation when the secret is next due for rotation. Zero if it never rotates.
func (s Secret) NextRotation() time.Time {
	if s.RotationIntervalMs <= 0 {
		return time.Time{}
	}
	return s.LastRotatedAt.Add(s.RotationInterval())
}
