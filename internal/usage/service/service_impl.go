package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/bytedance/sonic"
	"github.com/smallbiznis/heartline/internal/cache"
	"github.com/smallbiznis/heartline/internal/clock"
	"github.com/smallbiznis/heartline/internal/config"
	heartbeatdomain "github.com/smallbiznis/heartline/internal/heartbeat/domain"
	"github.com/smallbiznis/heartline/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/heartline/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       usagedomain.Repository
	Cache      cache.PipelineCache
	Clock      clock.Clock
	Forwarding *config.ForwardingConfigHolder
	Metrics    *metrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       usagedomain.Repository
	cache      cache.PipelineCache
	clock      clock.Clock
	forwarding *config.ForwardingConfigHolder
	metrics    *metrics.Metrics
}

func New(p Params) usagedomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("usage.aggregator"),
		genID:      p.GenID,
		repo:       p.Repo,
		cache:      p.Cache,
		clock:      p.Clock,
		forwarding: p.Forwarding,
		metrics:    p.Metrics,
	}
}

// Aggregate credits every heartbeat of the batch to its bucket. Each bucket is
// written independently; failures are reported and logged, never returned.
func (s *Service) Aggregate(ctx context.Context, userID snowflake.ID, heartbeats []heartbeatdomain.Heartbeat) (*usagedomain.AggregationResult, error) {
	if userID == 0 {
		return nil, errors.New("invalid_user_id")
	}
	cfg := s.forwarding.Get()
	deltas := usagedomain.Group(heartbeats, usagedomain.Weights{
		Write: int64(cfg.WriteWeight),
		Read:  int64(cfg.ReadWeight),
	})

	result := &usagedomain.AggregationResult{
		Processed: len(heartbeats),
		Buckets:   len(deltas),
		Deltas:    deltas,
	}
	now := s.clock.Now().UTC()
	for _, delta := range deltas {
		bucket := &usagedomain.UsageBucket{
			ID:             s.genID.Generate(),
			UserID:         userID,
			TimeSlot:       delta.TimeSlot,
			Project:        delta.Project,
			Language:       delta.Language,
			Category:       delta.Category,
			TotalSeconds:   delta.Seconds,
			HeartbeatCount: delta.HeartbeatCount,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.repo.AddDelta(ctx, s.db, bucket); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Errorf("bucket %d/%s/%s/%s: %w", delta.TimeSlot, delta.Project, delta.Language, delta.Category, err))
			s.log.Error("failed to write usage bucket",
				zap.String("user_id", userID.String()),
				zap.Int64("time_slot", delta.TimeSlot),
				zap.Error(err),
			)
			continue
		}
		result.Succeeded++
	}
	if result.Failed > 0 {
		s.metrics.RecordBucketWriteFailures(ctx, result.Failed)
	}
	return result, nil
}

// Summaries reads per-day totals for [Start, End] in UTC. Responses are cached briefly.
func (s *Service) Summaries(ctx context.Context, userID snowflake.ID, req usagedomain.SummariesRequest) (*usagedomain.SummariesResponse, error) {
	start := req.Start.UTC()
	end := req.End.UTC()
	if start.IsZero() || end.IsZero() || end.Before(start) {
		return nil, usagedomain.ErrInvalidRange
	}
	if end.Sub(start) > usagedomain.MaxSummaryDays*24*time.Hour {
		return nil, usagedomain.ErrInvalidRange
	}

	startDay := start.Truncate(24 * time.Hour)
	endDay := end.Truncate(24 * time.Hour)
	cacheParts := []string{"summaries", userID.String(), startDay.Format(time.DateOnly), endDay.Format(time.DateOnly)}
	if body, ok := s.cache.GetResponse(cacheParts...); ok {
		var cached usagedomain.SummariesResponse
		if err := sonic.Unmarshal(body, &cached); err == nil {
			return &cached, nil
		}
	}

	buckets, err := s.repo.ListRange(ctx, s.db, userID, startDay.Unix(), endDay.Add(24*time.Hour).Unix())
	if err != nil {
		return nil, err
	}
	resp := usagedomain.BuildSummaries(buckets, startDay, endDay)

	if body, err := sonic.Marshal(resp); err == nil {
		s.cache.SetResponse(body, cacheParts...)
	}
	return resp, nil
}
