package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Instance is a user-registered WakaTime-compatible mirror.
type Instance struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	UserID    snowflake.ID `gorm:"column:user_id;not null;uniqueIndex:ux_instances_user_slug,priority:1"`
	Name      string       `gorm:"type:text;not null"`
	Slug      string       `gorm:"type:text;not null;uniqueIndex:ux_instances_user_slug,priority:2"`
	BaseURL   string       `gorm:"column:base_url;type:text;not null"`
	APIKey    string       `gorm:"column:api_key;type:text;not null"`
	IsActive  bool         `gorm:"column:is_active;not null;default:true"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Instance) TableName() string { return "instances" }

// Destination returns the forwarding target for this instance.
func (i Instance) Destination() Destination {
	return Destination{
		ID:      i.ID.String(),
		Kind:    KindMirror,
		Name:    i.Name,
		BaseURL: i.BaseURL,
		Token:   i.APIKey,
	}
}
