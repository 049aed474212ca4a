package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	heartbeatdomain "github.com/smallbiznis/heartline/internal/heartbeat/domain"
	"gorm.io/gorm"
)

const (
	SettleResolved = "resolved"
	SettlePartial  = "partial"
	SettleFailed   = "failed"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entries []PendingDelivery) error
	ClaimIDs(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]snowflake.ID, error)
	Lease(ctx context.Context, db *gorm.DB, ids []snowflake.ID, token string, now, until time.Time) (int64, error)
	ListByToken(ctx context.Context, db *gorm.DB, token string) ([]PendingDelivery, error)
	FindLeased(ctx context.Context, db *gorm.DB, id snowflake.ID, token string) (*PendingDelivery, error)
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	Reschedule(ctx context.Context, db *gorm.DB, entry *PendingDelivery) error
	Stats(ctx context.Context, db *gorm.DB, userID *snowflake.ID) (*Stats, error)
}

// SettleRequest reports the outcome of one reconciliation attempt.
type SettleRequest struct {
	ID          snowflake.ID
	LockToken   string
	Succeeded   []string
	Dropped     []string
	// Added lists destinations now owed in place of a settled marker.
	Added       []string
	Failure     string
	NextAttempt time.Time
}

type Queue interface {
	// Enqueue stores one entry per heartbeat owing the given destinations.
	Enqueue(ctx context.Context, userID snowflake.ID, heartbeats []heartbeatdomain.Heartbeat, destinations []string) (int, error)
	// Claim leases up to limit due entries, oldest first. Two concurrent claims never return the same entry.
	Claim(ctx context.Context, limit int, lease time.Duration) ([]Entry, string, error)
	// Settle removes delivered destinations from the stored list and reschedules or deletes the entry.
	Settle(ctx context.Context, req SettleRequest) (string, error)
	Stats(ctx context.Context, userID *snowflake.ID) (*Stats, error)
}

// Entry is a claimed pending delivery with its heartbeat decoded.
type Entry struct {
	ID           snowflake.ID
	UserID       snowflake.ID
	Heartbeat    heartbeatdomain.Heartbeat
	Destinations []string
	Attempts     int
	CreatedAt    time.Time
}

type Stats struct {
	Pending          int64      `json:"pending"`
	OldestCreatedAt  *time.Time `json:"oldest_created_at"`
	OldestAgeSeconds int64      `json:"oldest_age_seconds"`
}

var (
	ErrLeaseLost         = errors.New("pending_lease_lost")
	ErrEmptyDestinations = errors.New("empty_destinations")
	ErrInvalidClaimLimit = errors.New("invalid_claim_limit")
)
