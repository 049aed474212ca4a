package domain

import (
	"database/sql/driver"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// PendingDelivery is one heartbeat still owed to one or more destinations.
// The row is deleted once Destinations becomes empty.
type PendingDelivery struct {
	ID            snowflake.ID    `gorm:"primaryKey"`
	UserID        snowflake.ID    `gorm:"column:user_id;not null;index"`
	Heartbeat     datatypes.JSON  `gorm:"not null"`
	Destinations  DestinationList `gorm:"not null"`
	Attempts      int             `gorm:"not null;default:0"`
	NextAttemptAt time.Time       `gorm:"column:next_attempt_at;not null;index"`
	LockedUntil   *time.Time      `gorm:"column:locked_until"`
	LockToken     *string         `gorm:"column:lock_token;type:varchar(64);index"`
	LastError     string          `gorm:"column:last_error;type:text"`
	CreatedAt     time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP;index"`
	UpdatedAt     time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PendingDelivery) TableName() string { return "pending_deliveries" }

// DestinationList is stored as text[] on postgres and as an array literal elsewhere.
type DestinationList pq.StringArray

func (l DestinationList) Value() (driver.Value, error) {
	return pq.StringArray(l).Value()
}

func (l *DestinationList) Scan(src any) error {
	return (*pq.StringArray)(l).Scan(src)
}

func (DestinationList) GormDataType() string {
	return "text[]"
}

func (DestinationList) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "text[]"
	}
	return "text"
}

// Without returns the list minus the given ids, preserving order.
func (l DestinationList) Without(ids []string) DestinationList {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	out := make(DestinationList, 0, len(l))
	for _, id := range l {
		if _, ok := drop[id]; ok {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Contains reports whether id is owed.
func (l DestinationList) Contains(id string) bool {
	for _, v := range l {
		if v == id {
			return true
		}
	}
	return false
}
