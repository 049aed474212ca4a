package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// User is the owner of heartbeats, destinations and keys.
type User struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	Email          string       `gorm:"type:text;not null;uniqueIndex"`
	SetupCompleted bool         `gorm:"column:setup_completed;not null;default:false"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*User, error)
	MarkSetupCompleted(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
}
