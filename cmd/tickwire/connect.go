package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tickwire/tickwire/internal/demo"
	"github.com/tickwire/tickwire/internal/errors"
	"github.com/tickwire/tickwire/pkg/client"
	"github.com/tickwire/tickwire/pkg/middleware"
	"github.com/tickwire/tickwire/pkg/protocol"
)

func connectCmd() *cobra.Command {
	var (
		url        string
		duration   time.Duration
		compressed bool
		peerID     string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect to a server and apply its snapshots",
		Long: `Connect to a tickwire server as a peer, apply every snapshot to a
local copy of the demo world and report what was received.

The local registry must match the server's, so pass --compressed when
the server runs with quantized codecs.

Examples:
  tickwire connect
  tickwire connect --url=ws://game.example.com:7000/ws --duration=30s
  tickwire connect --compressed -v`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("compressed") {
				compressed = cfg.Replication.Compressed
			}
			if url == "" {
				url = wsURL(cfg.Server.Address)
			}

			cc := cfg.ClientConfig()
			if peerID != "" {
				id, err := uuid.Parse(peerID)
				if err != nil {
					return errors.New("E140").WithSource("--peer-id").Wrap(err)
				}
				cc.PeerID = id
			}
			if cfg.Metrics.Enabled {
				middleware.EnableClientMetrics(middleware.WithNamespace(cfg.Metrics.Namespace))
				cc.OnDesync = middleware.RecordDesync
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			return runConnect(ctx, url, compressed, cc, verbose)
		},
	}

	cmd.Flags().StringVarP(&url, "url", "u", "", "Server WebSocket URL (default from tickwire.json address)")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "Disconnect after this long (0: until interrupted)")
	cmd.Flags().BoolVar(&compressed, "compressed", false, "Use quantized codecs")
	cmd.Flags().StringVar(&peerID, "peer-id", "", "Peer UUID to present (default: random)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print every snapshot")

	return cmd
}

func runConnect(ctx context.Context, url string, compressed bool, cc *client.Config, verbose bool) error {
	world := demo.NewWorld(0)
	reg, err := world.Registry(demo.Options{Compressed: compressed})
	if err != nil {
		return errors.Newf(errors.CategoryReplication, "build registry: %v", err)
	}

	c, err := client.Dial(ctx, url, reg, world, cc)
	if err != nil {
		return clientError(err, url)
	}
	defer c.Close()

	hello := c.Hello()
	success("Connected to %s as peer %d", url, hello.PeerIndex)
	info("Tick rate:   %d/s", hello.TickRate)
	info("Fingerprint: %016x", hello.Fingerprint)

	start := time.Now()
	runErr := c.Run(ctx, func(u *client.Update) error {
		if verbose {
			kind := "delta"
			if u.Forced {
				kind = "full"
			}
			info("tick %6d  %-5s  %4d entities  %5d bytes", u.Tick, kind, len(u.Snapshot.Entities), u.Bytes)
		}
		return nil
	})

	st := c.Stats()
	elapsed := time.Since(start)
	fmt.Println()
	info("Snapshots:   %d (%d full)", st.Snapshots, st.Forced)
	info("Bytes:       %d (%.1f per snapshot)", st.Bytes, perSnapshot(st))
	info("Entities:    %d", len(world.Entities()))
	info("Desyncs:     %d (%d resyncs requested)", st.Desyncs, st.Resyncs)
	info("Last tick:   %d after %s", c.LastTick(), elapsed.Round(time.Millisecond))

	if runErr != nil {
		return clientError(runErr, url)
	}
	return nil
}

// clientError maps client failures to CLI errors.
func clientError(err error, url string) error {
	var he *client.HandshakeError
	var ce *client.CloseError
	var em *protocol.ErrorMessage

	switch {
	case stderrors.As(err, &he):
		code := "E005"
		switch he.Status {
		case protocol.HandshakeSchemaMismatch:
			code = "E002"
		case protocol.HandshakeVersionMismatch:
			code = "E003"
		case protocol.HandshakeServerBusy:
			code = "E004"
		}
		return errors.New(code).WithSource(url).Wrap(err)

	case stderrors.Is(err, client.ErrTooManyDesyncs):
		return errors.New("E020").WithSource(url).Wrap(err)

	case stderrors.As(err, &ce):
		if ce.Reason == protocol.CloseDesync {
			return errors.New("E021").WithSource(url).Wrap(err)
		}
		return errors.New("E006").WithSource(url).Wrap(err)

	case stderrors.As(err, &em):
		if em.Code == protocol.ErrDesync {
			return errors.New("E021").WithSource(url).Wrap(err)
		}
		return errors.New("E006").WithSource(url).Wrap(err)
	}
	return errors.FromError(err, "E001").WithSource(url)
}

// wsURL derives the WebSocket URL of a server listening on address.
func wsURL(address string) string {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return "ws://" + address + "/ws"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "ws://" + net.JoinHostPort(host, port) + "/ws"
}

func perSnapshot(st client.Stats) float64 {
	if st.Snapshots == 0 {
		return 0
	}
	return float64(st.Bytes) / float64(st.Snapshots)
}
