package domain

import (
	"context"
	"sort"

	"github.com/bwmarrin/snowflake"
	heartbeatdomain "github.com/smallbiznis/heartline/internal/heartbeat/domain"
	instancedomain "github.com/smallbiznis/heartline/internal/instance/domain"
)

// Plan maps a destination id to the heartbeats owed to it.
type Plan map[string][]heartbeatdomain.Heartbeat

// IDs returns the plan's destination ids in sorted order.
func (p Plan) IDs() []string {
	ids := make([]string, 0, len(p))
	for id := range p {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Result partitions the attempted destinations. Unknown lists owed
// destinations that no longer exist; nothing is delivered to them.
// Expanded maps a marker id such as instancedomain.MirrorsID to the concrete
// destinations it was delivered as; their outcomes are in Delivered and Failed.
type Result struct {
	Delivered []string            `json:"delivered"`
	Failed    []string            `json:"failed"`
	Unknown   []string            `json:"unknown"`
	Expanded  map[string][]string `json:"expanded,omitempty"`
	Errors    map[string]string   `json:"errors,omitempty"`
}

func (r Result) AllDelivered() bool {
	return len(r.Failed) == 0
}

// Sender posts a batch to a destination's bulk endpoint.
type Sender interface {
	PostHeartbeats(ctx context.Context, dest instancedomain.Destination, heartbeats []heartbeatdomain.Heartbeat) error
}

type Forwarder interface {
	// Forward sends the batch to the upstream, when a token resolves, and to every active mirror.
	Forward(ctx context.Context, userID snowflake.ID, heartbeats []heartbeatdomain.Heartbeat) Result
	// Deliver is a scoped pass restricted to the destinations named by the plan.
	Deliver(ctx context.Context, userID snowflake.ID, plan Plan) Result
}
