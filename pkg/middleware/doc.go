// Package middleware provides observability middleware for the server's
// per-tick encode step.
//
// # OpenTelemetry Middleware
//
// The OpenTelemetry middleware opens one span per encoded tick, carrying
// the tick number and the resulting packet statistics.
//
//	srv.Use(middleware.OpenTelemetry())
//
// Configure with options:
//
//	middleware.OpenTelemetry(
//	    middleware.WithTracerName("arena"),
//	    middleware.WithTickFilter(func(tick uint64) bool {
//	        return tick%10 == 0
//	    }),
//	)
//
// # Prometheus Metrics
//
// The Prometheus middleware collects metrics about every tick:
//   - tickwire_ticks_total: Ticks encoded, by status
//   - tickwire_encode_duration_seconds: Encode duration histogram
//   - tickwire_snapshot_bytes: Packet size histogram
//   - tickwire_entities_written_total: Entity blocks written
//   - tickwire_full_snapshots_total: Packets carrying forced or resynced state
//
//	srv.Use(middleware.Prometheus(
//	    middleware.WithNamespace("arena"),
//	))
//
// The server exposes the default registry on /metrics.
package middleware
