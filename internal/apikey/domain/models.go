package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// EditorKey is a long-lived per-editor credential. Only its hash is stored.
type EditorKey struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	UserID     snowflake.ID `gorm:"column:user_id;not null;index"`
	Name       string       `gorm:"type:text;not null"`
	KeyHash    string       `gorm:"column:key_hash;type:text;not null;uniqueIndex"`
	IsActive   bool         `gorm:"column:is_active;not null;default:true"`
	LastUsedAt *time.Time   `gorm:"column:last_used_at"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (EditorKey) TableName() string { return "editor_keys" }

// KeyOwner is the cached result of validating a raw editor key.
type KeyOwner struct {
	KeyID  snowflake.ID `json:"key_id"`
	UserID snowflake.ID `json:"user_id"`
}
