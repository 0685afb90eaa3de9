package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// BanReasonENUMType IP ban reason ENUM type
type BanReasonENUMType string

const (
	// BanReasonSpam short burst of calls; temporary ban
	BanReasonSpam BanReasonENUMType = "spam"
	// BanReasonAbuse sustained excessive volume; permanent ban
	BanReasonAbuse BanReasonENUMType = "abuse"
	// BanReasonPermanent operator imposed permanent ban
	BanReasonPermanent BanReasonENUMType = "permanent"
)

// RateWindow sliding window of recent calls from one hashed client IP
type RateWindow struct {
	// IPHash keyed hash of the client IP
	IPHash string `json:"ip_hash" gorm:"column:ip_hash;primaryKey" validate:"required"`
	// Calls JSON list of call timestamps in unix milliseconds, oldest first
	Calls datatypes.JSON `json:"calls" gorm:"column:calls"`
	// LastCall timestamp of the latest call
	LastCall time.Time `json:"last_call" gorm:"column:last_call;not null;index"`
	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}

// CallTimes parse the recorded call timestamps
func (w RateWindow) CallTimes() ([]time.Time, error) {
	if len(w.Calls) == 0 {
		return []time.Time{}, nil
	}
	var millis []int64
	if err := json.Unmarshal(w.Calls, &millis); err != nil {
		return nil, fmt.Errorf("rate window calls parse failed [%w]", err)
	}
	result := make([]time.Time, 0, len(millis))
	for _, ms := range millis {
		result = append(result, time.UnixMilli(ms).UTC())
	}
	return result, nil
}

// SetCallTimes record call timestamps
func (w *RateWindow) SetCallTimes(calls []time.Time) {
	millis := make([]int64, 0, len(calls))
	for _, ts := range calls {
		millis = append(millis, ts.UnixMilli())
	}
	serialized, _ := json.Marshal(millis)
	w.Calls = datatypes.JSON(serialized)
}

// BanRecord a ban placed on one hashed client IP
type BanRecord struct {
	// IPHash keyed hash of the client IP
	IPHash string `json:"ip_hash" gorm:"column:ip_hash;primaryKey" validate:"required"`
	// Reason why the IP is banned
	Reason BanReasonENUMType `json:"reason" gorm:"column:reason;not null" validate:"required,ban_reason"`
	// BannedAt when the ban started
	BannedAt time.Time `json:"banned_at" gorm:"column:banned_at;not null"`
	// ExpiresAt when the ban lapses. NULL means permanent.
	ExpiresAt *time.Time `json:"expires_at,omitempty" gorm:"column:expires_at;default:null;index"`
}

// Permanent whether the ban never lapses
func (b BanRecord) Permanent() bool {
	return b.ExpiresAt == nil
}

// ActiveAt whether the ban is in force at the given time
func (b BanRecord) ActiveAt(now time.Time) bool {
	if b.ExpiresAt == nil {
		return true
	}
	return now.Before(*b.ExpiresAt)
}
