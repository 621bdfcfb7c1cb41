package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/tickwire/tickwire/internal/config"
	"github.com/tickwire/tickwire/internal/demo"
	"github.com/tickwire/tickwire/internal/errors"
	"github.com/tickwire/tickwire/pkg/client"
	"github.com/tickwire/tickwire/pkg/protocol"
	"github.com/tickwire/tickwire/pkg/recording"
	"github.com/tickwire/tickwire/pkg/replication"
)

func TestClientError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"schema", &client.HandshakeError{Status: protocol.HandshakeSchemaMismatch}, "E002"},
		{"version", &client.HandshakeError{Status: protocol.HandshakeVersionMismatch}, "E003"},
		{"busy", &client.HandshakeError{Status: protocol.HandshakeServerBusy}, "E004"},
		{"other handshake", &client.HandshakeError{Status: protocol.HandshakeInternalError}, "E005"},
		{"desyncs", fmt.Errorf("%w: bad", client.ErrTooManyDesyncs), "E020"},
		{"closed", &client.CloseError{Reason: protocol.CloseServerShutdown}, "E006"},
		{"closed desync", &client.CloseError{Reason: protocol.CloseDesync}, "E021"},
		{"fatal desync", protocol.NewFatalError(protocol.ErrDesync, "lost"), "E021"},
		{"dial", io.EOF, "E001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := clientError(tt.err, "ws://localhost:7000/ws")
			if !errors.HasCode(err, tt.code) {
				t.Errorf("clientError() = %v, want code %s", err, tt.code)
			}
		})
	}
}

func TestStoreError(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{recording.ErrNotFound, "E040"},
		{recording.ErrIncomplete, "E041"},
		{fmt.Errorf("frame: %w", io.ErrUnexpectedEOF), "E041"},
		{recording.ErrBadHeader, "E043"},
		{recording.ErrInvalidKey, "E043"},
		{io.ErrClosedPipe, "E042"},
		{errors.New("E021"), "E021"},
	}

	for _, tt := range tests {
		if err := storeError(tt.err, "s"); !errors.HasCode(err, tt.code) {
			t.Errorf("storeError(%v) = %v, want code %s", tt.err, err, tt.code)
		}
	}
	if storeError(nil, "s") != nil {
		t.Error("storeError(nil) != nil")
	}
}

func TestWSURL(t *testing.T) {
	tests := []struct {
		address string
		want    string
	}{
		{":7000", "ws://localhost:7000/ws"},
		{"0.0.0.0:7100", "ws://localhost:7100/ws"},
		{"game.example.com:7000", "ws://game.example.com:7000/ws"},
		{"[::1]:7000", "ws://[::1]:7000/ws"},
	}

	for _, tt := range tests {
		if got := wsURL(tt.address); got != tt.want {
			t.Errorf("wsURL(%q) = %q, want %q", tt.address, got, tt.want)
		}
	}
}

func TestRunBench(t *testing.T) {
	report, err := runBench(benchConfig{Entities: 32, Ticks: 40, TickRate: 20, ResyncPeriod: 10, Seed: 3})
	if err != nil {
		t.Fatalf("runBench() error = %v", err)
	}

	if report.Plain.FullBytes == 0 || report.Quant.FullBytes == 0 {
		t.Errorf("full snapshot bytes = %d/%d, want both set", report.Plain.FullBytes, report.Quant.FullBytes)
	}
	if report.Plain.DeltaTicks != 39 {
		t.Errorf("Plain.DeltaTicks = %d, want 39", report.Plain.DeltaTicks)
	}
	if report.Quant.FullBytes >= report.Plain.FullBytes {
		t.Errorf("quantized full snapshot %d bytes, want fewer than plain %d", report.Quant.FullBytes, report.Plain.FullBytes)
	}
	if report.Savings <= 0 {
		t.Errorf("Savings = %v, want positive", report.Savings)
	}
	if report.Plain.Fingerprint == report.Quant.Fingerprint {
		t.Error("plain and quantized fingerprints are equal")
	}

	var buf bytes.Buffer
	writeSummary(&buf, report)
	if !strings.Contains(buf.String(), "Quantization saves") {
		t.Errorf("writeSummary() = %q", buf.String())
	}

	path := filepath.Join(t.TempDir(), "bench.json")
	if err := writeJSON(path, report); err != nil {
		t.Fatalf("writeJSON() error = %v", err)
	}
}

func TestBenchReportJSON(t *testing.T) {
	report, _ := runBench(benchConfig{Entities: 4, Ticks: 3, TickRate: 10, Seed: 1})
	data, err := json.Marshal(report)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	json.Unmarshal(data, &got)
	for _, key := range []string{"version", "run", "workload", "plain", "quantized", "savings"} {
		if _, ok := got[key]; !ok {
			t.Errorf("report JSON missing %q", key)
		}
	}
}

func TestRunInit(t *testing.T) {
	dir := t.TempDir()

	if err := runInit(dir, config.BackendRedis, true, false); err != nil {
		t.Fatalf("runInit() error = %v", err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("Load() after init error = %v", err)
	}
	if cfg.Recording.Backend != config.BackendRedis || cfg.Recording.Redis.Addr == "" {
		t.Errorf("Recording = %+v, want redis with an address", cfg.Recording)
	}
	if !cfg.Replication.Compressed {
		t.Error("Replication.Compressed = false, want true")
	}

	if err := runInit(dir, config.BackendDisk, false, false); !errors.HasCode(err, "E142") {
		t.Errorf("runInit() over existing file = %v, want E142", err)
	}
	if err := runInit(dir, config.BackendDisk, false, true); err != nil {
		t.Errorf("runInit(force) error = %v", err)
	}
	if err := runInit(t.TempDir(), "ftp", false, false); !errors.HasCode(err, "E124") {
		t.Errorf("runInit(ftp) = %v, want E124", err)
	}
}

func TestSetupLogging(t *testing.T) {
	for _, level := range []string{"debug", "info", "WARN", "error"} {
		if err := setupLogging(level); err != nil {
			t.Errorf("setupLogging(%q) = %v", level, err)
		}
	}
	if err := setupLogging("loud"); !errors.HasCode(err, "E140") {
		t.Errorf("setupLogging(loud) = %v, want E140", err)
	}
	setupLogging("info")
}

// recordSession writes ticks snapshots of a demo world to store.
func recordSession(t *testing.T, store recording.Store, session string, compressed bool, ticks int) {
	t.Helper()
	ctx := context.Background()

	world := demo.NewWorld(5)
	world.Populate(6)
	reg, err := world.Registry(demo.Options{Compressed: compressed})
	if err != nil {
		t.Fatal(err)
	}
	w := replication.NewWriter(replication.WriterConfig{Registry: reg, Origin: uuid.New()})
	w.ForceNext()

	rec, err := recording.NewRecorder(store, session, &protocol.ServerHello{
		Status:      protocol.HandshakeOK,
		Fingerprint: reg.Fingerprint(),
		TickRate:    10,
	}, recording.Config{})
	if err != nil {
		t.Fatal(err)
	}

	clock := replication.NewStepClock(10)
	for range ticks {
		clock.Advance()
		world.Step(clock.Step())
		packet, stats := w.Write(clock, world.Replicated(w.PeerIndex()))
		var flags protocol.FrameFlags
		if stats.Forced {
			flags |= protocol.FlagForced
		}
		if err := rec.WriteFrame(ctx, protocol.NewFrameWithFlags(protocol.FrameSnapshot, flags, packet)); err != nil {
			t.Fatal(err)
		}
	}
	if err := rec.Close(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestReplayFrames(t *testing.T) {
	for _, compressed := range []bool{false, true} {
		t.Run(codecName(compressed), func(t *testing.T) {
			ctx := context.Background()
			store := recording.NewMemoryStore()
			recordSession(t, store, "s1", compressed, 12)

			p, err := recording.OpenPlayer(ctx, store, "s1")
			if err != nil {
				t.Fatalf("OpenPlayer() error = %v", err)
			}
			defer p.Close()

			world := demo.NewWorld(0)
			reg, err := matchRegistry(world, p.Hello().Fingerprint)
			if err != nil {
				t.Fatalf("matchRegistry() error = %v", err)
			}

			var seen int
			res, err := replayFrames(ctx, p, replication.NewReader(reg, world), func(*protocol.Frame, *replication.Snapshot) { seen++ })
			if err != nil {
				t.Fatalf("replayFrames() error = %v", err)
			}
			if res.Frames != 12 || seen != 12 {
				t.Errorf("replayed %d frames (%d callbacks), want 12", res.Frames, seen)
			}
			if res.Forced != 1 {
				t.Errorf("Forced = %d, want 1", res.Forced)
			}
			if n := len(world.Entities()); n != 6 {
				t.Errorf("replayed world has %d entities, want 6", n)
			}
		})
	}
}

func TestMatchRegistryUnknown(t *testing.T) {
	if _, err := matchRegistry(demo.NewWorld(0), 0xdeadbeef); !errors.HasCode(err, "E002") {
		t.Errorf("matchRegistry(unknown) = %v, want E002", err)
	}
}

func TestOpenStore(t *testing.T) {
	cfg := config.New()
	cfg.Recording.Dir = t.TempDir()

	store, closeStore, err := openStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openStore(disk) error = %v", err)
	}
	defer closeStore()
	if _, ok := store.(*recording.DiskStore); !ok {
		t.Errorf("openStore(disk) = %T, want *recording.DiskStore", store)
	}

	cfg.Recording.Backend = "ftp"
	if _, _, err := openStore(context.Background(), cfg); !errors.HasCode(err, "E124") {
		t.Errorf("openStore(ftp) = %v, want E124", err)
	}
}
