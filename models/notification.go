package models

import (
	"time"

	"gorm.io/datatypes"
)

// NotificationKindENUMType notification kind ENUM type
type NotificationKindENUMType string

const (
	// NotificationKindKeyRotated a proxy key was rotated
	NotificationKindKeyRotated NotificationKindENUMType = "KEY_ROTATED"
)

// Notification user-facing notification record
type Notification struct {
	// ID notification ID
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required"`
	// Owner the account the notification is for
	Owner string `json:"owner" gorm:"column:owner;not null;index" validate:"required"`
	// Kind notification kind
	Kind NotificationKindENUMType `json:"kind" gorm:"column:kind;not null" validate:"required,notification_kind"`
	// Title short title
	Title string `json:"title" gorm:"column:title;not null" validate:"required"`
	// Message notification body
	Message string `json:"message" gorm:"column:message"`
	// Metadata additional structured content. Never holds raw proxy keys.
	Metadata datatypes.JSON `json:"metadata,omitempty" gorm:"column:metadata;default:null"`
	// Read whether the owner has seen it
	Read bool `json:"read" gorm:"column:read;not null;default:false"`
	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}
