package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/heartline/internal/config"
)

const keyHeartbeatIngestUser = "heartbeat:ingest:user:%s"

// HeartbeatLimiter throttles ingestion per user. A nil limiter allows everything.
type HeartbeatLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewHeartbeatLimiter(cfg config.Config, client *redis.Client) (*HeartbeatLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled || client == nil {
		return nil, nil
	}
	if limitCfg.HeartbeatRate <= 0 || limitCfg.HeartbeatBurst <= 0 {
		return nil, fmt.Errorf("heartbeat rate limit must be positive (rate=%v burst=%d)", limitCfg.HeartbeatRate, limitCfg.HeartbeatBurst)
	}
	return &HeartbeatLimiter{
		bucket: NewTokenBucket(client),
		rate:   limitCfg.HeartbeatRate,
		burst:  limitCfg.HeartbeatBurst,
	}, nil
}

func (l *HeartbeatLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *HeartbeatLimiter) AllowUser(ctx context.Context, userID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyHeartbeatIngestUser, strings.TrimSpace(userID)), l.rate, l.burst)
}
