package domain

import (
	"context"
)

// IngestResult reports what happened to one batch. Delivery details never
// change the response status; they are returned for logging and the live stream.
type IngestResult struct {
	Acks      []Ack    `json:"acks"`
	Delivered []string `json:"delivered"`
	Pending   []string `json:"pending"`
	Buckets   int      `json:"buckets"`
	Queued    int      `json:"queued"`
}

type Service interface {
	Ingest(ctx context.Context, batch Batch) (*IngestResult, error)
}
