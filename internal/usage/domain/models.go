// Package domain contains the aggregated usage bucket model.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// UsageBucket accumulates active seconds for one
// (user, 5-minute slot, project, language, category) key. Rows are never deleted.
type UsageBucket struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	UserID         snowflake.ID `gorm:"column:user_id;not null;uniqueIndex:ux_usage_buckets_key,priority:1"`
	TimeSlot       int64        `gorm:"column:time_slot;not null;uniqueIndex:ux_usage_buckets_key,priority:2"`
	Project        string       `gorm:"type:varchar(512);not null;uniqueIndex:ux_usage_buckets_key,priority:3"`
	Language       string       `gorm:"type:varchar(128);not null;uniqueIndex:ux_usage_buckets_key,priority:4"`
	Category       string       `gorm:"type:varchar(64);not null;uniqueIndex:ux_usage_buckets_key,priority:5"`
	TotalSeconds   int64        `gorm:"column:total_seconds;not null;default:0"`
	HeartbeatCount int64        `gorm:"column:heartbeat_count;not null;default:0"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageBucket) TableName() string { return "usage_buckets" }
