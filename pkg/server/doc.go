// Package server runs the authoritative side of a tickwire session.
//
// A Server owns the simulation, the replication registry and one snapshot
// writer. Peers connect over WebSocket, exchange a handshake carrying the
// registry fingerprint and then receive one Snapshot frame per tick.
//
// # Architecture
//
//   - Server: chi router with /ws, /metrics and /healthz, and the tick loop
//   - Peer: one WebSocket connection with a read loop and a write loop
//   - EncodeFunc / Middleware: the per-tick encode step, wrappable for
//     metrics and tracing (see pkg/middleware)
//
// # Tick Loop
//
// Run drives the simulation at TickRate. Each tick it advances the clock,
// steps the simulation, encodes one packet through the middleware chain and
// broadcasts it to every peer. All peers share the writer's last-sent
// cache, so every peer receives the same delta. A peer that joins, asks
// for a resync or falls behind makes the next packet carry full state.
//
// # Peer Lifecycle
//
// Each peer runs two goroutines:
//   - readLoop: control frames (ping, resync request, close) and acks
//   - writeLoop: drains the send queue and sends heartbeat pings
//
// A peer that sends a malformed frame is closed.
//
// # Usage
//
//	world := demo.NewWorld(1)
//	world.Populate(100)
//	reg, _ := world.Registry(demo.Options{})
//
//	srv := server.New(world, reg, server.DefaultServerConfig())
//	go srv.Run(ctx)
//	http.ListenAndServe(":7000", srv.Handler())
package server
