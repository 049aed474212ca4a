package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestClassifyReconcileReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: ReconcileReasonDeadlineExceeded},
		{name: "panic", err: fmt.Errorf("user 1: %w", ErrReconcilePanic), want: ReconcileReasonPanic},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: ReconcileReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: ReconcileReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: ReconcileReasonUniqueViolation},
		{name: "other_pg", err: &pgconn.PgError{Code: "08006"}, want: ReconcileReasonDB},
		{name: "unknown", err: errors.New("boom"), want: ReconcileReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyReconcileReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestObserveForwardCountsByKindAndOutcome(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newDeliveryMetrics(registry, Config{ServiceName: "heartline", Environment: "test"})

	m.ObserveForward(DestinationKindMirror, ForwardOutcomeUnhealthy, 0)
	m.ObserveForward(DestinationKindMirror, ForwardOutcomeDelivered, 20*time.Millisecond)
	m.ObserveForward(DestinationKindMirror, ForwardOutcomeDelivered, 30*time.Millisecond)

	if got := testutil.ToFloat64(m.forwards.WithLabelValues(DestinationKindMirror, ForwardOutcomeDelivered)); got != 2 {
		t.Fatalf("expected 2 deliveries, got %v", got)
	}
	if got := testutil.ToFloat64(m.forwards.WithLabelValues(DestinationKindMirror, ForwardOutcomeUnhealthy)); got != 1 {
		t.Fatalf("expected 1 unhealthy, got %v", got)
	}
}

func TestNewDeliveryMetricsReusesRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := newDeliveryMetrics(registry, Config{})
	second := newDeliveryMetrics(registry, Config{})

	first.IncRun()
	second.IncRun()

	if got := testutil.ToFloat64(first.runs); got != 2 {
		t.Fatalf("expected shared run counter at 2, got %v", got)
	}
}

func TestIsReconcileErrorRetryable(t *testing.T) {
	if !IsReconcileErrorRetryable(context.DeadlineExceeded) {
		t.Fatalf("deadline should be retryable")
	}
	if IsReconcileErrorRetryable(errors.New("boom")) {
		t.Fatalf("plain errors are not retryable")
	}
	if IsReconcileErrorRetryable(gorm.ErrRecordNotFound) {
		t.Fatalf("not found is not retryable")
	}
}
