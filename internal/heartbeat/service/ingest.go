package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/heartline/internal/clock"
	forwarderdomain "github.com/smallbiznis/heartline/internal/forwarder/domain"
	heartbeatdomain "github.com/smallbiznis/heartline/internal/heartbeat/domain"
	"github.com/smallbiznis/heartline/internal/heartbeat/liveevents"
	obslogger "github.com/smallbiznis/heartline/internal/observability/logger"
	pendingdomain "github.com/smallbiznis/heartline/internal/pending/domain"
	usagedomain "github.com/smallbiznis/heartline/internal/usage/domain"
	userdomain "github.com/smallbiznis/heartline/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errInvalidUser = errors.New("invalid_user_id")

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Usage     usagedomain.Service
	Forwarder forwarderdomain.Forwarder
	Queue     pendingdomain.Queue
	Users     userdomain.Repository
	Clock     clock.Clock
	Hub       *liveevents.Hub `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	usage     usagedomain.Service
	forwarder forwarderdomain.Forwarder
	queue     pendingdomain.Queue
	users     userdomain.Repository
	clock     clock.Clock
	hub       *liveevents.Hub
}

func New(p Params) heartbeatdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("heartbeat.ingest"),
		usage:     p.Usage,
		forwarder: p.Forwarder,
		queue:     p.Queue,
		users:     p.Users,
		clock:     p.Clock,
		hub:       p.Hub,
	}
}

// Ingest runs the pipeline: aggregate, forward, queue what failed, mark setup
// complete, acknowledge. Only an invalid batch or user is an error; every
// downstream failure is logged and absorbed. Once the batch is accepted the
// pipeline no longer follows cancellation of ctx; outbound calls carry their
// own timeouts.
func (s *Service) Ingest(ctx context.Context, batch heartbeatdomain.Batch) (*heartbeatdomain.IngestResult, error) {
	if batch.UserID == 0 {
		return nil, errInvalidUser
	}
	if len(batch.Heartbeats) == 0 {
		return nil, heartbeatdomain.ErrEmptyBatch
	}
	// A client hanging up must not lose what is owed to destinations.
	ctx = context.WithoutCancel(ctx)
	heartbeats := withUserAgent(batch.Heartbeats, batch.UserAgent)
	log := obslogger.WithContext(ctx, s.log).With(zap.Int("heartbeats", len(heartbeats)))
	result := &heartbeatdomain.IngestResult{}

	aggregation, err := s.usage.Aggregate(ctx, batch.UserID, heartbeats)
	if err != nil {
		log.Error("usage aggregation failed", zap.Error(err))
	} else {
		result.Buckets = aggregation.Succeeded
		if aggregation.Failed > 0 {
			log.Warn("some usage buckets were not written",
				zap.Int("failed", aggregation.Failed),
				zap.Error(errors.Join(aggregation.Errors...)),
			)
		}
	}

	forwarded := s.forwarder.Forward(ctx, batch.UserID, heartbeats)
	result.Delivered = forwarded.Delivered
	result.Pending = forwarded.Failed
	if len(forwarded.Failed) > 0 {
		queued, err := s.queue.Enqueue(ctx, batch.UserID, heartbeats, forwarded.Failed)
		if err != nil {
			log.Error("failed to queue undelivered heartbeats",
				zap.Strings("destinations", forwarded.Failed),
				zap.Error(err),
			)
		}
		result.Queued = queued
	}

	s.markSetupCompleted(ctx, batch.UserID, log)

	result.Acks = make([]heartbeatdomain.Ack, 0, len(heartbeats))
	for _, hb := range heartbeats {
		result.Acks = append(result.Acks, heartbeatdomain.Ack{
			ID:     uuid.NewString(),
			Entity: hb.Entity,
			Type:   hb.Type,
			Time:   hb.Time,
		})
	}
	s.publish(batch.UserID, heartbeats, result)
	return result, nil
}

// markSetupCompleted flips the flag once; later batches are no-ops.
func (s *Service) markSetupCompleted(ctx context.Context, userID snowflake.ID, log *zap.Logger) {
	changed, err := s.users.MarkSetupCompleted(ctx, s.db, userID, s.clock.Now().UTC())
	if err != nil {
		log.Warn("failed to mark setup completed", zap.Error(err))
		return
	}
	if changed {
		log.Info("user setup completed by first heartbeat")
	}
}

func (s *Service) publish(userID snowflake.ID, heartbeats []heartbeatdomain.Heartbeat, result *heartbeatdomain.IngestResult) {
	if s.hub == nil {
		return
	}
	receivedAt := s.clock.Now().UTC().Format(time.RFC3339)
	events := make([]liveevents.LiveEvent, 0, len(heartbeats))
	for i, hb := range heartbeats {
		events = append(events, liveevents.LiveEvent{
			ID:         result.Acks[i].ID,
			Entity:     hb.Entity,
			Type:       hb.Type,
			Project:    hb.Project,
			Language:   hb.Language,
			Time:       hb.Time,
			IsWrite:    hb.IsWrite,
			Delivered:  result.Delivered,
			Pending:    result.Pending,
			ReceivedAt: receivedAt,
		})
	}
	s.hub.Publish(userID.String(), events...)
}

// withUserAgent fills a missing per-heartbeat user agent from the request header.
func withUserAgent(heartbeats []heartbeatdomain.Heartbeat, userAgent string) []heartbeatdomain.Heartbeat {
	if userAgent == "" {
		return heartbeats
	}
	out := make([]heartbeatdomain.Heartbeat, len(heartbeats))
	copy(out, heartbeats)
	for i := range out {
		if out[i].UserAgent == "" {
			out[i].UserAgent = userAgent
		}
	}
	return out
}
