package middleware

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tickwire/tickwire/pkg/protocol"
	"github.com/tickwire/tickwire/pkg/replication"
	"github.com/tickwire/tickwire/pkg/server"
)

// MetricsConfig configures the Prometheus metrics middleware.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "tickwire").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for encode duration.
	// Default: 50µs to ~100ms, exponential.
	Buckets []float64

	// SizeBuckets are the histogram buckets for packet size in bytes.
	// Default: 64B to 1MiB, exponential.
	SizeBuckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics middleware.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the encode duration histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithSizeBuckets sets the packet size histogram buckets.
func WithSizeBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.SizeBuckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

// defaultMetricsConfig returns the default metrics configuration.
func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace:   "tickwire",
		Buckets:     prometheus.ExponentialBuckets(50e-6, 2, 12),
		SizeBuckets: prometheus.ExponentialBuckets(64, 4, 8),
		Registry:    prometheus.DefaultRegisterer,
	}
}

// metrics holds the Prometheus metrics for tickwire.
type metrics struct {
	ticksTotal         *prometheus.CounterVec
	encodeDuration     prometheus.Histogram
	encodeErrors       *prometheus.CounterVec
	snapshotBytes      prometheus.Histogram
	entitiesWritten    prometheus.Counter
	entitiesConsidered prometheus.Counter
	fullSnapshots      *prometheus.CounterVec
	lastTick           prometheus.Gauge
	desyncsTotal       *prometheus.CounterVec
}

// globalMetrics is the singleton metrics instance.
// Created on first call to Prometheus().
var (
	globalMetrics   *metrics
	globalMetricsMu sync.Mutex
)

// initMetrics initializes the Prometheus metrics.
func initMetrics(config MetricsConfig) *metrics {
	factory := promauto.With(config.Registry)

	return &metrics{
		ticksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "ticks_total",
			Help:        "Total number of ticks encoded",
			ConstLabels: config.ConstLabels,
		}, []string{"status"}),

		encodeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "encode_duration_seconds",
			Help:        "Snapshot encode duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		encodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "encode_errors_total",
			Help:        "Total number of failed ticks",
			ConstLabels: config.ConstLabels,
		}, []string{"error_type"}),

		snapshotBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "snapshot_bytes",
			Help:        "Snapshot packet size in bytes",
			ConstLabels: config.ConstLabels,
			Buckets:     config.SizeBuckets,
		}),

		entitiesWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "entities_written_total",
			Help:        "Total entity blocks written into snapshots",
			ConstLabels: config.ConstLabels,
		}),

		entitiesConsidered: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "entities_considered_total",
			Help:        "Total entities offered to the snapshot writer",
			ConstLabels: config.ConstLabels,
		}),

		fullSnapshots: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "full_snapshots_total",
			Help:        "Snapshots that bypassed dirty tracking, by reason",
			ConstLabels: config.ConstLabels,
		}, []string{"reason"}),

		lastTick: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "last_tick",
			Help:        "Tick of the last encoded snapshot",
			ConstLabels: config.ConstLabels,
		}),

		desyncsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "desyncs_total",
			Help:        "Snapshots a reader could not decode, by stage",
			ConstLabels: config.ConstLabels,
		}, []string{"stage"}),
	}
}

// Prometheus creates middleware that collects Prometheus metrics for every
// encoded tick.
//
// Metrics collected:
//   - tickwire_ticks_total: Counter of ticks by status
//   - tickwire_encode_duration_seconds: Histogram of encode duration
//   - tickwire_encode_errors_total: Counter of failed ticks by error type
//   - tickwire_snapshot_bytes: Histogram of packet size
//   - tickwire_entities_written_total: Counter of entity blocks written
//   - tickwire_entities_considered_total: Counter of entities offered
//   - tickwire_full_snapshots_total: Counter of forced or resynced packets
//   - tickwire_last_tick: Gauge of the last encoded tick
//   - tickwire_desyncs_total: Counter of reader desyncs (when RecordDesync is called)
//
// Metrics are registered once per process; later calls share them.
func Prometheus(opts ...MetricsOption) server.Middleware {
	m := ensureMetrics(opts)

	return func(next server.EncodeFunc) server.EncodeFunc {
		return func(ctx context.Context, clock replication.Clock) ([]byte, replication.WriteStats, error) {
			start := time.Now()
			packet, stats, err := next(ctx, clock)
			m.encodeDuration.Observe(time.Since(start).Seconds())

			if err != nil {
				m.ticksTotal.WithLabelValues("error").Inc()
				m.encodeErrors.WithLabelValues(categorizeError(err)).Inc()
				return packet, stats, err
			}

			m.ticksTotal.WithLabelValues("success").Inc()
			m.snapshotBytes.Observe(float64(stats.Bytes))
			m.entitiesWritten.Add(float64(stats.Written))
			m.entitiesConsidered.Add(float64(stats.Considered))
			m.lastTick.Set(float64(stats.Tick))
			if stats.Forced {
				m.fullSnapshots.WithLabelValues("forced").Inc()
			} else if stats.Resync {
				m.fullSnapshots.WithLabelValues("resync").Inc()
			}
			return packet, stats, nil
		}
	}
}

func ensureMetrics(opts []MetricsOption) *metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}

	globalMetricsMu.Lock()
	defer globalMetricsMu.Unlock()
	if globalMetrics == nil {
		globalMetrics = initMetrics(config)
	}
	return globalMetrics
}

// categorizeError returns a category for the error type.
// This prevents high-cardinality labels from error messages.
func categorizeError(err error) string {
	switch {
	case errors.Is(err, protocol.ErrFrameTooLarge):
		return "frame_too_large"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "canceled"
	case replication.IsDesync(err):
		return "desync"
	case strings.Contains(strings.ToLower(err.Error()), "timeout"):
		return "timeout"
	default:
		return "internal"
	}
}

// =============================================================================
// Metrics Recording Functions
// =============================================================================

// RecordDesync records a snapshot a reader could not decode. Call it from
// client code with the DesyncError stage.
func RecordDesync(err error) {
	globalMetricsMu.Lock()
	m := globalMetrics
	globalMetricsMu.Unlock()
	if m == nil {
		return
	}

	stage := "unknown"
	var de *replication.DesyncError
	if errors.As(err, &de) {
		stage = de.Stage
	}
	m.desyncsTotal.WithLabelValues(stage).Inc()
}

// EnableClientMetrics registers the metrics without adding middleware, so
// a client process can use RecordDesync.
func EnableClientMetrics(opts ...MetricsOption) {
	ensureMetrics(opts)
}
