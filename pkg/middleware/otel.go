package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tickwire/tickwire/pkg/replication"
	"github.com/tickwire/tickwire/pkg/server"
)

// Default tracer name for tickwire servers.
const defaultTracerName = "tickwire"

// OTelConfig configures the OpenTelemetry middleware.
type OTelConfig struct {
	// TracerName is the name of the tracer (default: "tickwire").
	TracerName string

	// TracerProvider supplies the tracer.
	// Default: the global provider from otel.GetTracerProvider.
	TracerProvider trace.TracerProvider

	// Filter determines which ticks to trace.
	// Return true to trace the tick, false to skip.
	// If nil, every tick is traced.
	Filter func(tick uint64) bool

	// AttributeExtractor adds custom attributes once the packet is written.
	AttributeExtractor func(stats replication.WriteStats) []attribute.KeyValue
}

// OTelOption configures the OpenTelemetry middleware.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) OTelOption {
	return func(c *OTelConfig) {
		c.TracerProvider = tp
	}
}

// WithTickFilter sets a filter function for ticks.
func WithTickFilter(filter func(tick uint64) bool) OTelOption {
	return func(c *OTelConfig) {
		c.Filter = filter
	}
}

// WithAttributeExtractor sets a custom attribute extractor.
func WithAttributeExtractor(extractor func(stats replication.WriteStats) []attribute.KeyValue) OTelOption {
	return func(c *OTelConfig) {
		c.AttributeExtractor = extractor
	}
}

// defaultOTelConfig returns the default OpenTelemetry configuration.
func defaultOTelConfig() OTelConfig {
	return OTelConfig{
		TracerName: defaultTracerName,
	}
}

// OpenTelemetry creates middleware that traces every encoded tick.
//
// The span is named "tickwire.encode" and records:
//   - tickwire.tick: the tick being encoded
//   - tickwire.entities.considered / tickwire.entities.written
//   - tickwire.snapshot.bytes
//   - tickwire.snapshot.forced / tickwire.snapshot.resync
//
// The span context is passed down the chain, so inner middleware and the
// encoder can read it with trace.SpanFromContext. Configure the global
// provider in main() before starting the server, or pass one with
// WithTracerProvider.
func OpenTelemetry(opts ...OTelOption) server.Middleware {
	config := defaultOTelConfig()
	for _, opt := range opts {
		opt(&config)
	}

	tp := config.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	tracer := tp.Tracer(config.TracerName)

	return func(next server.EncodeFunc) server.EncodeFunc {
		return func(ctx context.Context, clock replication.Clock) ([]byte, replication.WriteStats, error) {
			tick := clock.Tick()
			if config.Filter != nil && !config.Filter(tick) {
				return next(ctx, clock)
			}

			spanCtx, span := tracer.Start(ctx, "tickwire.encode",
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(attribute.Int64("tickwire.tick", int64(tick))),
			)
			defer span.End()

			packet, stats, err := next(spanCtx, clock)

			span.SetAttributes(
				attribute.Int("tickwire.entities.considered", stats.Considered),
				attribute.Int("tickwire.entities.written", stats.Written),
				attribute.Int("tickwire.snapshot.bytes", stats.Bytes),
				attribute.Bool("tickwire.snapshot.forced", stats.Forced),
				attribute.Bool("tickwire.snapshot.resync", stats.Resync),
			)
			if config.AttributeExtractor != nil {
				span.SetAttributes(config.AttributeExtractor(stats)...)
			}

			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else {
				span.SetStatus(codes.Ok, "")
			}
			return packet, stats, err
		}
	}
}
