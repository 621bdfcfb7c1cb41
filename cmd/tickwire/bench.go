package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/tickwire/tickwire/internal/demo"
	"github.com/tickwire/tickwire/internal/errors"
	"github.com/tickwire/tickwire/pkg/replication"
)

type benchConfig struct {
	Entities     int
	Ticks        int
	TickRate     int
	ResyncPeriod uint64
	Seed         uint64
	JSONOut      string
}

func benchCmd() *cobra.Command {
	cfg := benchConfig{}

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure snapshot size with plain and quantized codecs",
		Long: `Simulate the demo world without a network and report how many bytes
each tick's snapshot takes, once with plain codecs and once with
quantized ones.

Examples:
  tickwire bench
  tickwire bench --entities=1000 --ticks=600
  tickwire bench --json=-`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Entities <= 0 {
				return errors.New("E140").WithSource("--entities").WithDetail("The entity count must be positive.")
			}
			if cfg.Ticks <= 0 {
				return errors.New("E140").WithSource("--ticks").WithDetail("The tick count must be positive.")
			}
			if cfg.TickRate <= 0 {
				return errors.New("E123").WithSource("--tick-rate")
			}

			report, err := runBench(cfg)
			if err != nil {
				return err
			}
			if cfg.JSONOut != "" {
				return writeJSON(cfg.JSONOut, report)
			}
			writeSummary(os.Stdout, report)
			return nil
		},
	}

	cmd.Flags().IntVarP(&cfg.Entities, "entities", "n", 256, "Number of moving entities")
	cmd.Flags().IntVarP(&cfg.Ticks, "ticks", "t", 300, "Ticks to simulate per run")
	cmd.Flags().IntVarP(&cfg.TickRate, "tick-rate", "r", 20, "Ticks per second")
	cmd.Flags().Uint64Var(&cfg.ResyncPeriod, "resync-period", 100, "Periodic resync cadence in ticks (0 disables)")
	cmd.Flags().Uint64Var(&cfg.Seed, "seed", 1, "World seed")
	cmd.Flags().StringVar(&cfg.JSONOut, "json", "", "Write a JSON report to this path (- for stdout)")

	return cmd
}

type benchReport struct {
	Version  string       `json:"version"`
	Run      runInfo      `json:"run"`
	Workload workloadInfo `json:"workload"`
	Plain    codecResult  `json:"plain"`
	Quant    codecResult  `json:"quantized"`
	Savings  float64      `json:"savings"`
}

type runInfo struct {
	Timestamp string `json:"timestamp"`
	Go        string `json:"go"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	CPUCount  int    `json:"cpu_count"`
	Tickwire  string `json:"tickwire"`
}

type workloadInfo struct {
	Entities     int    `json:"entities"`
	Ticks        int    `json:"ticks"`
	TickRate     int    `json:"tick_rate"`
	ResyncPeriod uint64 `json:"resync_period"`
	Seed         uint64 `json:"seed"`
}

type codecResult struct {
	Fingerprint   string  `json:"fingerprint"`
	FullBytes     int     `json:"full_bytes"`
	DeltaBytes    int     `json:"delta_bytes_total"`
	DeltaTicks    int     `json:"delta_ticks"`
	ResyncTicks   int     `json:"resync_ticks"`
	AvgDeltaBytes float64 `json:"avg_delta_bytes"`
	AvgBlocks     float64 `json:"avg_blocks_per_tick"`
	BytesPerSec   float64 `json:"bytes_per_sec"`
	EncodeNSPerOp float64 `json:"encode_ns_per_tick"`
}

func runBench(cfg benchConfig) (benchReport, error) {
	plain, err := benchCodec(cfg, false)
	if err != nil {
		return benchReport{}, err
	}
	quant, err := benchCodec(cfg, true)
	if err != nil {
		return benchReport{}, err
	}

	savings := 0.0
	if plain.AvgDeltaBytes > 0 {
		savings = 1 - quant.AvgDeltaBytes/plain.AvgDeltaBytes
	}

	return benchReport{
		Version: "1",
		Run: runInfo{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Go:        runtime.Version(),
			OS:        runtime.GOOS,
			Arch:      runtime.GOARCH,
			CPUCount:  runtime.NumCPU(),
			Tickwire:  version,
		},
		Workload: workloadInfo{
			Entities:     cfg.Entities,
			Ticks:        cfg.Ticks,
			TickRate:     cfg.TickRate,
			ResyncPeriod: cfg.ResyncPeriod,
			Seed:         cfg.Seed,
		},
		Plain:   plain,
		Quant:   quant,
		Savings: savings,
	}, nil
}

// benchCodec runs one world for cfg.Ticks ticks. The first tick is a full
// snapshot and is reported apart from the deltas that follow.
func benchCodec(cfg benchConfig, compressed bool) (codecResult, error) {
	world := demo.NewWorld(cfg.Seed)
	world.Populate(cfg.Entities)
	reg, err := world.Registry(demo.Options{Compressed: compressed})
	if err != nil {
		return codecResult{}, errors.Newf(errors.CategoryReplication, "build registry: %v", err)
	}

	w := replication.NewWriter(replication.WriterConfig{
		Registry: reg,
		Policy:   replication.ResyncPolicy{Period: cfg.ResyncPeriod},
	})
	w.ForceNext()
	clock := replication.NewStepClock(cfg.TickRate)

	res := codecResult{Fingerprint: fmt.Sprintf("%016x", reg.Fingerprint())}
	var blocks int
	var encode time.Duration
	for i := 0; i < cfg.Ticks; i++ {
		clock.Advance()
		world.Step(clock.Step())
		ents := world.Replicated(w.PeerIndex())

		start := time.Now()
		_, stats := w.Write(clock, ents)
		encode += time.Since(start)

		switch {
		case stats.Forced:
			res.FullBytes = stats.Bytes
		default:
			if stats.Resync {
				res.ResyncTicks++
			}
			res.DeltaTicks++
			res.DeltaBytes += stats.Bytes
			blocks += stats.Written
		}
	}

	if res.DeltaTicks > 0 {
		res.AvgDeltaBytes = float64(res.DeltaBytes) / float64(res.DeltaTicks)
		res.AvgBlocks = float64(blocks) / float64(res.DeltaTicks)
	}
	res.BytesPerSec = res.AvgDeltaBytes * float64(cfg.TickRate)
	res.EncodeNSPerOp = float64(encode.Nanoseconds()) / float64(cfg.Ticks)
	return res, nil
}

func writeSummary(w io.Writer, report benchReport) {
	fmt.Fprintln(w, "=== Tickwire Snapshot Benchmark ===")
	fmt.Fprintf(w, "Entities: %d\n", report.Workload.Entities)
	fmt.Fprintf(w, "Ticks: %d at %d/s\n", report.Workload.Ticks, report.Workload.TickRate)
	if report.Workload.ResyncPeriod > 0 {
		fmt.Fprintf(w, "Resync period: %d ticks\n", report.Workload.ResyncPeriod)
	} else {
		fmt.Fprintln(w, "Resync period: off")
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%-22s %12s %12s\n", "", "plain", "quantized")
	row := func(label, format string, plain, quant any) {
		fmt.Fprintf(w, "%-22s %12s %12s\n", label, fmt.Sprintf(format, plain), fmt.Sprintf(format, quant))
	}
	row("full snapshot bytes", "%d", report.Plain.FullBytes, report.Quant.FullBytes)
	row("avg delta bytes", "%.1f", report.Plain.AvgDeltaBytes, report.Quant.AvgDeltaBytes)
	row("avg blocks/tick", "%.1f", report.Plain.AvgBlocks, report.Quant.AvgBlocks)
	row("resync ticks", "%d", report.Plain.ResyncTicks, report.Quant.ResyncTicks)
	row("bandwidth (B/s)", "%.0f", report.Plain.BytesPerSec, report.Quant.BytesPerSec)
	row("encode (ns/tick)", "%.0f", report.Plain.EncodeNSPerOp, report.Quant.EncodeNSPerOp)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Quantization saves %.1f%% per delta snapshot\n", report.Savings*100)
}

func writeJSON(path string, report benchReport) error {
	var out io.Writer
	if path == "-" {
		out = os.Stdout
	} else {
		file, err := os.Create(path)
		if err != nil {
			return err
		}
		defer file.Close()
		out = file
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
