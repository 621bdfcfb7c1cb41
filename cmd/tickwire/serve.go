package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/tickwire/tickwire/internal/config"
	"github.com/tickwire/tickwire/internal/demo"
	"github.com/tickwire/tickwire/internal/errors"
	"github.com/tickwire/tickwire/pkg/middleware"
	"github.com/tickwire/tickwire/pkg/recording"
	"github.com/tickwire/tickwire/pkg/server"
)

func serveCmd() *cobra.Command {
	var (
		address    string
		tickRate   int
		entities   int
		compressed bool
		record     bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a replication server for the demo world",
		Long: `Run an authoritative server that simulates the demo world and
replicates it to every connected peer.

Peers connect over WebSocket on /ws. Prometheus metrics are served on
/metrics and a JSON health report on /healthz.

Examples:
  tickwire serve
  tickwire serve --address=:7100 --tick-rate=30
  tickwire serve --compressed --record`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("address") {
				cfg.Server.Address = address
			}
			if flags.Changed("tick-rate") {
				cfg.Server.TickRate = tickRate
			}
			if flags.Changed("entities") {
				cfg.World.Entities = entities
			}
			if flags.Changed("compressed") {
				cfg.Replication.Compressed = compressed
			}
			if flags.Changed("record") {
				cfg.Recording.Enabled = record
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", "", "Address to listen on (default from tickwire.json)")
	cmd.Flags().IntVarP(&tickRate, "tick-rate", "r", 0, "Ticks per second (default from tickwire.json)")
	cmd.Flags().IntVarP(&entities, "entities", "n", 0, "Number of demo entities")
	cmd.Flags().BoolVar(&compressed, "compressed", false, "Use quantized codecs")
	cmd.Flags().BoolVar(&record, "record", false, "Record the snapshot stream")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := slog.Default()

	world := demo.NewWorld(cfg.World.Seed)
	world.Populate(cfg.World.Entities)
	reg, err := world.Registry(demo.Options{Compressed: cfg.Replication.Compressed})
	if err != nil {
		return errors.Newf(errors.CategoryReplication, "build registry: %v", err)
	}

	sc := cfg.ServerConfig()
	sc.Logger = logger
	if cfg.Metrics.Enabled {
		sc.Registerer = prometheus.DefaultRegisterer
	}
	srv := server.New(world, reg, sc)

	if cfg.Metrics.Enabled {
		srv.Use(middleware.Prometheus(middleware.WithNamespace(cfg.Metrics.Namespace)))
	}
	if cfg.Tracing.Enabled {
		every := cfg.Tracing.SampleEvery
		srv.Use(middleware.OpenTelemetry(
			middleware.WithTracerName(cfg.Tracing.TracerName),
			middleware.WithTickFilter(func(tick uint64) bool { return tick%every == 0 }),
		))
	}

	printBanner()
	fmt.Println("  serve")
	fmt.Println()
	info("Address:     %s", cfg.Server.Address)
	info("Tick rate:   %d/s", cfg.Server.TickRate)
	info("Entities:    %d", cfg.World.Entities)
	info("Codecs:      %s", codecName(cfg.Replication.Compressed))
	info("Fingerprint: %016x", srv.Fingerprint())
	fmt.Println()

	if cfg.Recording.Enabled {
		rec, closeStore, err := startRecording(ctx, cfg, srv)
		if err != nil {
			return err
		}
		defer closeStore()
		defer func() {
			// The serve context is already canceled here.
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := rec.Close(closeCtx); err != nil {
				logger.Error("recording not finalized", "session", rec.Session(), "error", err)
				return
			}
			st := rec.Stats()
			success("Recorded %d frames in %d segments (session %s)", st.Frames, st.Segments, rec.Session())
		}()
	}

	if err := srv.ListenAndServe(ctx); err != nil {
		return errors.New("E122").WithSource(cfg.Server.Address).Wrap(err)
	}
	fmt.Println("\n  Shutting down...")
	return nil
}

// startRecording opens the configured store, prunes old recordings and
// attaches a recorder to srv.
func startRecording(ctx context.Context, cfg *config.Config, srv *server.Server) (*recording.Recorder, func(), error) {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	if maxAge := cfg.RecordingMaxAge(); maxAge > 0 {
		n, err := store.Cleanup(ctx, maxAge)
		if err != nil {
			warn("Cleanup of old recordings failed: %v", err)
		} else if n > 0 {
			info("Removed %d recording segments older than %s", n, maxAge)
		}
	}

	rec, err := recording.NewRecorder(store, recording.NewSession(), srv.Hello(uuid.Nil, 0), recording.Config{
		SegmentSize: cfg.Recording.SegmentSize,
		Logger:      slog.Default(),
	})
	if err != nil {
		closeStore()
		return nil, nil, storeError(err, "")
	}
	srv.SetSink(rec)
	success("Recording session %s to %s", rec.Session(), cfg.Recording.Backend)
	return rec, closeStore, nil
}

func codecName(compressed bool) string {
	if compressed {
		return "quantized"
	}
	return "plain"
}
