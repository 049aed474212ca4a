package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	DestinationKindUpstream = "upstream"
	DestinationKindMirror   = "mirror"
)

const (
	ForwardOutcomeDelivered = "delivered"
	ForwardOutcomeFailed    = "failed"
	ForwardOutcomeUnhealthy = "unhealthy"
	ForwardOutcomeTimeout   = "timeout"
)

// ForwardOutcomeUnresolved counts batches owed to mirrors that could not be listed.
const ForwardOutcomeUnresolved = "unresolved"

const (
	ReconcileOutcomeResolved = "resolved"
	ReconcileOutcomePartial  = "partial"
	ReconcileOutcomeFailed   = "failed"
	ReconcileOutcomePruned   = "pruned"
)

const (
	ReconcileReasonDeadlineExceeded     = "deadline_exceeded"
	ReconcileReasonDBLockTimeout        = "db_lock_timeout"
	ReconcileReasonSerializationFailure = "serialization_failure"
	ReconcileReasonUniqueViolation      = "unique_violation"
	ReconcileReasonDB                   = "db"
	ReconcileReasonPanic                = "panic"
	ReconcileReasonUnknown              = "unknown"
)

// ErrReconcilePanic marks a recovered panic inside a per-user reconcile pass.
var ErrReconcilePanic = errors.New("reconcile_panic")

// DeliveryMetrics captures forwarding, probing and reconciliation signals.
type DeliveryMetrics struct {
	forwards        *prometheus.CounterVec
	forwardDuration *prometheus.HistogramVec
	probes          *prometheus.CounterVec
	tokenRefreshes  *prometheus.CounterVec
	runs            prometheus.Counter
	runDuration     prometheus.Observer
	runTimeouts     prometheus.Counter
	runErrors       *prometheus.CounterVec
	entries         *prometheus.CounterVec
	runSkipped      *prometheus.CounterVec
	forwardCounters map[string]map[string]prometheus.Counter
}

var (
	deliveryMetricsOnce sync.Once
	deliveryMetrics     *DeliveryMetrics
)

// Delivery returns the singleton delivery metrics registry.
func Delivery() *DeliveryMetrics {
	return DeliveryWithConfig(Config{})
}

// DeliveryWithConfig returns the singleton delivery metrics registry using config labels.
func DeliveryWithConfig(cfg Config) *DeliveryMetrics {
	deliveryMetricsOnce.Do(func() {
		deliveryMetrics = newDeliveryMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return deliveryMetrics
}

// ResetDeliveryMetricsForTest resets the delivery metrics singleton for tests.
func ResetDeliveryMetricsForTest() {
	deliveryMetricsOnce = sync.Once{}
	deliveryMetrics = nil
}

func newDeliveryMetrics(registerer prometheus.Registerer, cfg Config) *DeliveryMetrics {
	constLabels := serviceLabels(cfg)

	forwards := registerCollector(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "heartline_forward_total",
		Help:        "Heartbeat batch deliveries by destination kind and outcome.",
		ConstLabels: constLabels,
	}, []string{"destination_kind", "outcome"}))
	forwardDuration := registerCollector(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "heartline_forward_duration_seconds",
		Help:        "Latency of a single destination delivery.",
		Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		ConstLabels: constLabels,
	}, []string{"destination_kind"}))
	probes := registerCollector(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "heartline_health_probe_total",
		Help:        "Destination health probes by outcome and cache use.",
		ConstLabels: constLabels,
	}, []string{"outcome", "cached"}))
	tokenRefreshes := registerCollector(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "heartline_token_refresh_total",
		Help:        "Upstream access token refresh attempts by outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"}))
	runs := registerCollector(registerer, prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "heartline_reconciler_runs_total",
		Help:        "Reconciler runs.",
		ConstLabels: constLabels,
	}))
	runDuration := registerCollector(registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "heartline_reconciler_run_duration_seconds",
		Help:        "Reconciler run latency.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	}))
	runTimeouts := registerCollector(registerer, prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "heartline_reconciler_timeouts_total",
		Help:        "Reconciler runs that hit their deadline.",
		ConstLabels: constLabels,
	}))
	runErrors := registerCollector(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "heartline_reconciler_errors_total",
		Help:        "Reconciler errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"reason"}))
	entries := registerCollector(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "heartline_reconciler_entries_total",
		Help:        "Pending entries settled by outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"}))
	runSkipped := registerCollector(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "heartline_reconciler_skipped_total",
		Help:        "Reconciler runs skipped before claiming work.",
		ConstLabels: constLabels,
	}, []string{"reason"}))

	forwardCounters := map[string]map[string]prometheus.Counter{}
	for _, kind := range []string{DestinationKindUpstream, DestinationKindMirror} {
		outcomes := map[string]prometheus.Counter{}
		for _, outcome := range []string{ForwardOutcomeDelivered, ForwardOutcomeFailed, ForwardOutcomeUnhealthy, ForwardOutcomeTimeout, ForwardOutcomeUnresolved} {
			outcomes[outcome] = forwards.WithLabelValues(kind, outcome)
		}
		forwardCounters[kind] = outcomes
	}

	return &DeliveryMetrics{
		forwards:        forwards,
		forwardDuration: forwardDuration,
		probes:          probes,
		tokenRefreshes:  tokenRefreshes,
		runs:            runs,
		runDuration:     runDuration,
		runTimeouts:     runTimeouts,
		runErrors:       runErrors,
		entries:         entries,
		runSkipped:      runSkipped,
		forwardCounters: forwardCounters,
	}
}

// ObserveForward records one destination delivery outcome and its latency.
func (m *DeliveryMetrics) ObserveForward(kind, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	if outcomes, ok := m.forwardCounters[kind]; ok {
		if counter, ok := outcomes[outcome]; ok {
			counter.Inc()
		} else {
			m.forwards.WithLabelValues(kind, outcome).Inc()
		}
	} else {
		m.forwards.WithLabelValues(kind, outcome).Inc()
	}
	if duration > 0 {
		m.forwardDuration.WithLabelValues(kind).Observe(duration.Seconds())
	}
}

func (m *DeliveryMetrics) IncProbe(healthy, cached bool) {
	if m == nil {
		return
	}
	outcome := "unhealthy"
	if healthy {
		outcome = "healthy"
	}
	cachedLabel := "false"
	if cached {
		cachedLabel = "true"
	}
	m.probes.WithLabelValues(outcome, cachedLabel).Inc()
}

func (m *DeliveryMetrics) IncTokenRefresh(outcome string) {
	if m == nil {
		return
	}
	m.tokenRefreshes.WithLabelValues(outcome).Inc()
}

func (m *DeliveryMetrics) IncRun() {
	if m == nil {
		return
	}
	m.runs.Inc()
}

func (m *DeliveryMetrics) ObserveRunDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.Observe(duration.Seconds())
}

func (m *DeliveryMetrics) IncRunTimeout() {
	if m == nil {
		return
	}
	m.runTimeouts.Inc()
}

// IncRunError increments the reconciler error counter with classification.
func (m *DeliveryMetrics) IncRunError(err error) {
	if m == nil || err == nil {
		return
	}
	m.runErrors.WithLabelValues(ClassifyReconcileReason(err)).Inc()
}

func (m *DeliveryMetrics) AddEntries(outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.entries.WithLabelValues(outcome).Add(float64(count))
}

func (m *DeliveryMetrics) IncRunSkipped(reason string) {
	if m == nil {
		return
	}
	m.runSkipped.WithLabelValues(reason).Inc()
}

// ClassifyReconcileReason maps reconciler errors to low-cardinality reasons.
func ClassifyReconcileReason(err error) string {
	if err == nil {
		return ReconcileReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ReconcileReasonDeadlineExceeded
	}
	if errors.Is(err, ErrReconcilePanic) {
		return ReconcileReasonPanic
	}
	if hasPGCode(err, "55P03") {
		return ReconcileReasonDBLockTimeout
	}
	if hasPGCode(err, "40001") {
		return ReconcileReasonSerializationFailure
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return ReconcileReasonUniqueViolation
	}
	if isDBError(err) {
		return ReconcileReasonDB
	}
	return ReconcileReasonUnknown
}

// IsReconcileErrorRetryable reports whether the next run is likely to succeed.
func IsReconcileErrorRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	return isDBError(err)
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrMissingWhereClause) ||
		errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
