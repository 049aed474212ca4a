package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	heartbeatdomain "github.com/smallbiznis/heartline/internal/heartbeat/domain"
	"gorm.io/gorm"
)

type Repository interface {
	AddDelta(ctx context.Context, db *gorm.DB, bucket *UsageBucket) error
	ListRange(ctx context.Context, db *gorm.DB, userID snowflake.ID, fromSlot, toSlot int64) ([]UsageBucket, error)
}

type Service interface {
	Aggregate(ctx context.Context, userID snowflake.ID, heartbeats []heartbeatdomain.Heartbeat) (*AggregationResult, error)
	Summaries(ctx context.Context, userID snowflake.ID, req SummariesRequest) (*SummariesResponse, error)
}

// AggregationResult reports partial failures; a failed bucket never fails the batch.
// Processed counts heartbeats; Buckets, Succeeded and Failed count bucket groups.
type AggregationResult struct {
	Processed int     `json:"processed"`
	Buckets   int     `json:"buckets"`
	Succeeded int     `json:"succeeded"`
	Failed    int     `json:"failed"`
	Deltas    []Delta `json:"deltas"`
	Errors    []error `json:"-"`
}

type SummariesRequest struct {
	Start time.Time
	End   time.Time
}

var (
	ErrInvalidRange = errors.New("invalid_range")
)
