package domain

import (
	"context"
	"time"

	instancedomain "github.com/smallbiznis/heartline/internal/instance/domain"
)

// Status is the cached result of one destination probe.
type Status struct {
	Healthy   bool      `json:"healthy"`
	CheckedAt time.Time `json:"checked_at"`
	Error     string    `json:"error,omitempty"`
}

type Prober interface {
	Probe(ctx context.Context, dest instancedomain.Destination) bool
	Status(ctx context.Context, dest instancedomain.Destination) Status
}
