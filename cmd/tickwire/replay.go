package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tickwire/tickwire/internal/demo"
	"github.com/tickwire/tickwire/internal/errors"
	"github.com/tickwire/tickwire/pkg/protocol"
	"github.com/tickwire/tickwire/pkg/recording"
	"github.com/tickwire/tickwire/pkg/replication"
)

func replayCmd() *cobra.Command {
	var (
		list    bool
		remove  bool
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "replay [session]",
		Short: "List, replay or delete recorded sessions",
		Long: `Replay a recorded snapshot stream into a local copy of the demo world.

The codecs are chosen from the recording's registry fingerprint, so
plain and quantized recordings replay without extra flags.

Examples:
  tickwire replay --list
  tickwire replay 5f0c2d8e-...
  tickwire replay 5f0c2d8e-... --delete`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			store, closeStore, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			if list || len(args) == 0 {
				return listSessions(ctx, store)
			}
			if remove {
				if err := recording.DeleteSession(ctx, store, args[0]); err != nil {
					return storeError(err, args[0])
				}
				success("Deleted session %s", args[0])
				return nil
			}
			return runReplay(ctx, store, args[0], verbose)
		},
	}

	cmd.Flags().BoolVarP(&list, "list", "l", false, "List recorded sessions")
	cmd.Flags().BoolVar(&remove, "delete", false, "Delete the session instead of replaying it")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print every snapshot")

	return cmd
}

func listSessions(ctx context.Context, store recording.Store) error {
	infos, err := store.List(ctx, "")
	if err != nil {
		return storeError(err, "")
	}
	if len(infos) == 0 {
		info("No recordings")
		return nil
	}

	type summary struct {
		segments int
		bytes    int64
		last     string
	}
	var order []string
	sessions := make(map[string]*summary)
	for _, in := range infos {
		session, _, _ := strings.Cut(in.Key, "/")
		s, ok := sessions[session]
		if !ok {
			s = &summary{}
			sessions[session] = s
			order = append(order, session)
		}
		s.segments++
		s.bytes += in.Size
		if t := in.ModTime.Format("2006-01-02 15:04:05"); t > s.last {
			s.last = t
		}
	}

	fmt.Printf("  %-36s  %8s  %10s  %s\n", "SESSION", "SEGMENTS", "BYTES", "MODIFIED")
	for _, name := range order {
		s := sessions[name]
		fmt.Printf("  %-36s  %8d  %10d  %s\n", name, s.segments, s.bytes, s.last)
	}
	return nil
}

// replayResult summarizes a replayed session.
type replayResult struct {
	Frames   int
	Forced   int
	Bytes    int
	LastTick float64
	Entities int
}

func runReplay(ctx context.Context, store recording.Store, session string, verbose bool) error {
	p, err := recording.OpenPlayer(ctx, store, session)
	if err != nil {
		return storeError(err, session)
	}
	defer p.Close()

	world := demo.NewWorld(0)
	reg, err := matchRegistry(world, p.Hello().Fingerprint)
	if err != nil {
		return err
	}

	hello := p.Hello()
	success("Replaying session %s", session)
	info("Tick rate:   %d/s", hello.TickRate)
	info("Fingerprint: %016x", hello.Fingerprint)

	res, err := replayFrames(ctx, p, replication.NewReader(reg, world), func(f *protocol.Frame, snap *replication.Snapshot) {
		if verbose {
			kind := "delta"
			if f.Flags.Has(protocol.FlagForced) {
				kind = "full"
			}
			info("t=%8.3fs  %-5s  %4d entities  %5d bytes", snap.Tick, kind, len(snap.Entities), len(f.Payload))
		}
	})
	res.Entities = len(world.Entities())

	fmt.Println()
	info("Snapshots:   %d (%d full)", res.Frames, res.Forced)
	info("Bytes:       %d", res.Bytes)
	info("Entities:    %d", res.Entities)
	info("Duration:    %.2fs", res.LastTick)
	if err != nil {
		return storeError(err, session)
	}
	return nil
}

// replayFrames applies every snapshot frame from p through r until the
// final frame. fn, if non-nil, sees each applied snapshot.
func replayFrames(ctx context.Context, p *recording.Player, r *replication.Reader, fn func(*protocol.Frame, *replication.Snapshot)) (replayResult, error) {
	var res replayResult
	for {
		f, err := p.ReadFrame(ctx)
		if stderrors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			return res, err
		}
		if f.Type != protocol.FrameSnapshot {
			continue
		}

		snap, err := r.Read(f.Payload)
		if err != nil {
			return res, errors.New("E021").
				WithDetail(fmt.Sprintf("Snapshot %d of the recording could not be decoded.", res.Frames+1)).
				Wrap(err)
		}
		res.Frames++
		res.Bytes += len(f.Payload)
		res.LastTick = snap.Tick
		if f.Flags.Has(protocol.FlagForced) {
			res.Forced++
		}
		if fn != nil {
			fn(f, snap)
		}
	}
}

// matchRegistry returns the demo registry, plain or quantized, whose
// fingerprint matches the recording.
func matchRegistry(world *demo.World, fingerprint uint64) (*replication.Registry, error) {
	for _, compressed := range []bool{false, true} {
		reg, err := world.Registry(demo.Options{Compressed: compressed})
		if err != nil {
			return nil, errors.Newf(errors.CategoryReplication, "build registry: %v", err)
		}
		if reg.Fingerprint() == fingerprint {
			return reg, nil
		}
	}
	return nil, errors.New("E002").
		WithDetail(fmt.Sprintf("The recording's fingerprint %016x matches neither the plain nor the quantized demo registry.", fingerprint)).
		WithSuggestion("Replay with the tickwire build that made the recording")
}
