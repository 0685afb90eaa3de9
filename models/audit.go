package models

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// AuditActionENUMType audit event name type
//
// The presentation layer may append its own action names (e.g. "Key Revealed"), so
// this type is not restricted to the constants below.
type AuditActionENUMType string

const (
	// AuditActionKeyProvisioned credential provisioned
	AuditActionKeyProvisioned AuditActionENUMType = "Key Provisioned"
	// AuditActionKeyRotated proxy key rotated
	AuditActionKeyRotated AuditActionENUMType = "Key Rotated"
	// AuditActionKeyRevoked credential revoked
	AuditActionKeyRevoked AuditActionENUMType = "Key Revoked"
	// AuditActionKeyRevealed credential displayed to its owner
	AuditActionKeyRevealed AuditActionENUMType = "Key Revealed"
	// AuditActionKeyCopied proxy key copied by its owner
	AuditActionKeyCopied AuditActionENUMType = "Key Copied"
	// AuditActionEnclaveUnlocked owner session unlocked
	AuditActionEnclaveUnlocked AuditActionENUMType = "Enclave Unlocked"
	// AuditActionEnclaveLocked owner session locked
	AuditActionEnclaveLocked AuditActionENUMType = "Enclave Locked"
	// AuditActionIPUnbanned operator lifted an IP ban
	AuditActionIPUnbanned AuditActionENUMType = "IP Unbanned"
)

// AuditSourceEnclave source tag used for events raised by the enclave itself
const AuditSourceEnclave = "Enclave"

// AuditEntry one append-only, hash-chained audit log entry
type AuditEntry struct {
	// ID entry ID. ULIDs are monotonic so ID order is chain order.
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required"`
	// Timestamp event time, UTC with microsecond precision
	Timestamp time.Time `json:"timestamp" gorm:"column:timestamp;not null;index" validate:"required"`
	// Actor owner identity which triggered the event
	Actor string `json:"actor" gorm:"column:actor;not null;index" validate:"required"`
	// Action event name
	Action AuditActionENUMType `json:"action" gorm:"column:action;not null" validate:"required"`
	// Source where the event originated, e.g. "Web Dashboard"
	Source string `json:"source" gorm:"column:source;not null" validate:"required"`
	// IPHash keyed hash of the caller IP
	IPHash string `json:"ip_hash,omitempty" gorm:"column:ip_hash"`
	// EncDetails encrypted JSON details
	EncDetails []byte `json:"-" gorm:"column:enc_details"`
	// EncDetailsNonce details encryption nonce
	EncDetailsNonce []byte `json:"-" gorm:"column:enc_details_nonce"`
	// Hash keyed hash over the entry fields and PreviousHash
	Hash string `json:"hash" gorm:"column:hash;not null;uniqueIndex" validate:"required,hexadecimal"`
	// PreviousHash Hash of the preceding entry; empty for the first entry
	PreviousHash string `json:"previous_hash" gorm:"column:previous_hash"`
}

// ChainInput canonical serialization of every stored field except Hash, followed by
// PreviousHash. This is the input to the entry's keyed hash.
func (e AuditEntry) ChainInput() []byte {
	fields := []string{
		e.ID,
		strconv.FormatInt(e.Timestamp.UTC().UnixMicro(), 10),
		e.Actor,
		string(e.Action),
		e.Source,
		e.IPHash,
		base64.StdEncoding.EncodeToString(e.EncDetails),
		base64.StdEncoding.EncodeToString(e.EncDetailsNonce),
	}
	// JSON encoding of a string list is unambiguous w.r.t. separators
	serialized, _ := json.Marshal(fields)
	return []byte(strings.Join([]string{string(serialized), e.PreviousHash}, "|"))
}
