package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	heartbeatsIngested  metric.Int64Counter
	heartbeatsRejected  metric.Int64Counter
	bucketWriteFailures metric.Int64Counter
	pendingEnqueued     metric.Int64Counter
	rateLimitDenied     metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "heartline"
	}
	meter := provider.Meter(name)

	heartbeatsIngested, err := meter.Int64Counter("heartline_heartbeats_ingested_total")
	if err != nil {
		return nil, err
	}
	heartbeatsRejected, err := meter.Int64Counter("heartline_heartbeats_rejected_total")
	if err != nil {
		return nil, err
	}
	bucketWriteFailures, err := meter.Int64Counter("heartline_usage_bucket_write_failures_total")
	if err != nil {
		return nil, err
	}
	pendingEnqueued, err := meter.Int64Counter("heartline_pending_enqueued_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("heartline_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		heartbeatsIngested:  heartbeatsIngested,
		heartbeatsRejected:  heartbeatsRejected,
		bucketWriteFailures: bucketWriteFailures,
		pendingEnqueued:     pendingEnqueued,
		rateLimitDenied:     rateLimitDenied,
	}, nil
}

// RecordHeartbeatsIngested counts accepted heartbeats per endpoint.
func (m *Metrics) RecordHeartbeatsIngested(ctx context.Context, endpoint string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.heartbeatsIngested.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

// RecordHeartbeatsRejected counts requests refused before any side effect.
func (m *Metrics) RecordHeartbeatsRejected(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.heartbeatsRejected.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordBucketWriteFailures(ctx context.Context, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.bucketWriteFailures.Add(ctx, int64(count))
}

func (m *Metrics) RecordPendingEnqueued(ctx context.Context, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.pendingEnqueued.Add(ctx, int64(count))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// User ids and destination ids are deliberately absent: both are unbounded.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"endpoint":         {},
	"status_code":      {},
	"destination_kind": {},
	"outcome":          {},
	"reason":           {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
