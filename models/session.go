package models

import (
	"fmt"
	"time"
)

// SessionStateENUMType enclave owner session state ENUM
type SessionStateENUMType string

const (
	// SessionStateLocked no session key is held for the owner
	SessionStateLocked SessionStateENUMType = "LOCKED"
	// SessionStateUnlocked the owner's session key is cached
	SessionStateUnlocked SessionStateENUMType = "UNLOCKED"
)

// ValidateSessionTransition verify a session can move between two states
func ValidateSessionTransition(current, next SessionStateENUMType) error {
	statesWithTransitions := map[SessionStateENUMType]map[SessionStateENUMType]bool{
		SessionStateLocked: {
			SessionStateLocked:   true,
			SessionStateUnlocked: true,
		},
		SessionStateUnlocked: {
			// Unlocking again replaces the session key
			SessionStateUnlocked: true,
			SessionStateLocked:   true,
		},
	}

	availableNextStates, ok := statesWithTransitions[current]
	if !ok {
		return fmt.Errorf("session can't transition out of state '%s'", current)
	}

	if _, ok := availableNextStates[next]; !ok {
		return fmt.Errorf("session can't transition from '%s' to '%s'", current, next)
	}

	return nil
}

// KVEntry an encrypted entry in the enclave key/value table
type KVEntry struct {
	// Key entry key
	Key string `json:"key" gorm:"column:key;primaryKey" validate:"required"`
	// EncValue the encrypted value
	EncValue []byte `json:"-" gorm:"column:enc_value;not null" validate:"required"`
	// EncNonce the encryption nonce
	EncNonce []byte `json:"-" gorm:"column:enc_nonce;not null" validate:"required"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}
