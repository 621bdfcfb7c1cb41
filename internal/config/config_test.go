package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tickwire/tickwire/internal/errors"
	"github.com/tickwire/tickwire/pkg/recording"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestNew(t *testing.T) {
	cfg := New()

	if cfg.Server.Address != DefaultAddress {
		t.Errorf("Server.Address = %q, want %q", cfg.Server.Address, DefaultAddress)
	}
	if cfg.Server.TickRate != DefaultTickRate {
		t.Errorf("Server.TickRate = %d, want %d", cfg.Server.TickRate, DefaultTickRate)
	}
	if cfg.Replication.ResyncPeriod != DefaultResyncPeriod {
		t.Errorf("Replication.ResyncPeriod = %d, want %d", cfg.Replication.ResyncPeriod, DefaultResyncPeriod)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false, want true")
	}
	if cfg.Recording.Backend != BackendDisk {
		t.Errorf("Recording.Backend = %q, want %q", cfg.Recording.Backend, BackendDisk)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("New().Validate() = %v, want nil", err)
	}
}

func TestLoad(t *testing.T) {
	dir := writeConfig(t, `{
		"server": {"address": "127.0.0.1:9000", "tickRate": 30, "heartbeat": "5s", "maxPeers": 8},
		"replication": {"resyncPeriod": 0, "compressed": true},
		"metrics": {"enabled": false},
		"recording": {"enabled": true, "dir": "out"}
	}`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Address != "127.0.0.1:9000" {
		t.Errorf("Server.Address = %q, want %q", cfg.Server.Address, "127.0.0.1:9000")
	}
	if cfg.Server.TickRate != 30 {
		t.Errorf("Server.TickRate = %d, want 30", cfg.Server.TickRate)
	}
	if cfg.Replication.ResyncPeriod != 0 {
		t.Errorf("Replication.ResyncPeriod = %d, want explicit 0 kept", cfg.Replication.ResyncPeriod)
	}
	if !cfg.Replication.Compressed {
		t.Error("Replication.Compressed = false, want true")
	}
	if cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = true, want explicit false kept")
	}

	// Defaults for omitted fields
	if cfg.Server.ReadTimeout != "60s" {
		t.Errorf("Server.ReadTimeout = %q, want 60s", cfg.Server.ReadTimeout)
	}
	if cfg.Replication.MaxDesyncs != DefaultMaxDesyncs {
		t.Errorf("Replication.MaxDesyncs = %d, want %d", cfg.Replication.MaxDesyncs, DefaultMaxDesyncs)
	}
	if cfg.World.Entities != DefaultEntities {
		t.Errorf("World.Entities = %d, want %d", cfg.World.Entities, DefaultEntities)
	}

	if cfg.Path() != filepath.Join(dir, ConfigFileName) {
		t.Errorf("Path() = %q, want %q", cfg.Path(), filepath.Join(dir, ConfigFileName))
	}
	if cfg.RecordingDir() != filepath.Join(dir, "out") {
		t.Errorf("RecordingDir() = %q, want %q", cfg.RecordingDir(), filepath.Join(dir, "out"))
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string // empty: no file
		code    string
	}{
		{"missing file", "", "E141"},
		{"invalid json", `{"server": `, "E120"},
		{"bad address", `{"server": {"address": "7000"}}`, "E122"},
		{"bad port", `{"server": {"address": ":99999"}}`, "E122"},
		{"tick rate too high", `{"server": {"tickRate": 5000}}`, "E123"},
		{"negative tick rate", `{"server": {"tickRate": -1}}`, "E123"},
		{"negative peers", `{"server": {"maxPeers": -2}}`, "E125"},
		{"bad duration", `{"server": {"readTimeout": "soon"}}`, "E125"},
		{"unknown backend", `{"recording": {"backend": "ftp"}}`, "E124"},
		{"s3 without bucket", `{"recording": {"enabled": true, "backend": "s3"}}`, "E121"},
		{"redis without addr", `{"recording": {"enabled": true, "backend": "redis"}}`, "E121"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if tt.content != "" {
				dir = writeConfig(t, tt.content)
			}
			_, err := Load(dir)
			if !errors.HasCode(err, tt.code) {
				t.Errorf("Load() error = %v, want code %s", err, tt.code)
			}
		})
	}
}

func TestDisabledBackendNeedsNoSettings(t *testing.T) {
	dir := writeConfig(t, `{"recording": {"enabled": false, "backend": "s3"}}`)
	if _, err := Load(dir); err != nil {
		t.Errorf("Load() error = %v, want nil for disabled s3 recording", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)

	cfg := New()
	cfg.Server.TickRate = 60
	cfg.Replication.ResyncPeriod = 0
	cfg.Recording.Backend = BackendRedis
	cfg.Recording.Redis.Addr = "localhost:6379"
	cfg.Recording.Redis.TTL = "24h"
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo() error = %v", err)
	}
	if cfg.Path() != path {
		t.Errorf("Path() after SaveTo = %q, want %q", cfg.Path(), path)
	}

	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if loaded.Server.TickRate != 60 {
		t.Errorf("TickRate = %d, want 60", loaded.Server.TickRate)
	}
	if loaded.Replication.ResyncPeriod != 0 {
		t.Errorf("ResyncPeriod = %d, want 0", loaded.Replication.ResyncPeriod)
	}
	if loaded.RedisTTL() != 24*time.Hour {
		t.Errorf("RedisTTL() = %v, want 24h", loaded.RedisTTL())
	}

	loaded.World.Entities = 10
	if err := loaded.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	again, _ := LoadFile(path)
	if again.World.Entities != 10 {
		t.Errorf("World.Entities after Save = %d, want 10", again.World.Entities)
	}

	if err := New().Save(); err == nil {
		t.Error("Save() without a path = nil, want error")
	}
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	if Exists(dir) {
		t.Error("Exists() = true for empty dir")
	}
	if err := New().SaveTo(filepath.Join(dir, ConfigFileName)); err != nil {
		t.Fatal(err)
	}
	if !Exists(dir) {
		t.Error("Exists() = false after SaveTo")
	}
}

func TestServerConfig(t *testing.T) {
	cfg := New()
	cfg.Server.Address = ":7100"
	cfg.Server.TickRate = 30
	cfg.Server.MaxPeers = 4
	cfg.Server.Heartbeat = "3s"
	cfg.Server.SendQueue = 16
	cfg.Replication.ResyncPeriod = 50

	sc := cfg.ServerConfig()
	if sc.Address != ":7100" || sc.TickRate != 30 || sc.MaxPeers != 4 || sc.ResyncPeriod != 50 {
		t.Errorf("ServerConfig() = %+v, want :7100/30/4/50", sc)
	}
	if sc.PeerConfig.HeartbeatInterval != 3*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 3s", sc.PeerConfig.HeartbeatInterval)
	}
	if sc.PeerConfig.SendQueue != 16 {
		t.Errorf("SendQueue = %d, want 16", sc.PeerConfig.SendQueue)
	}
	if sc.PeerConfig.ReadTimeout != 60*time.Second {
		t.Errorf("ReadTimeout = %v, want 60s", sc.PeerConfig.ReadTimeout)
	}
}

func TestClientConfig(t *testing.T) {
	cfg := New()
	cfg.Replication.MaxDesyncs = 7
	cfg.Server.WriteTimeout = "2s"

	cc := cfg.ClientConfig()
	if cc.MaxDesyncs != 7 {
		t.Errorf("MaxDesyncs = %d, want 7", cc.MaxDesyncs)
	}
	if cc.WriteTimeout != 2*time.Second {
		t.Errorf("WriteTimeout = %v, want 2s", cc.WriteTimeout)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	if cfg.Server.Address != DefaultAddress {
		t.Errorf("Server.Address = %q, want %q", cfg.Server.Address, DefaultAddress)
	}
	if cfg.Recording.SegmentSize != recording.DefaultSegmentSize {
		t.Errorf("Recording.SegmentSize = %d, want %d", cfg.Recording.SegmentSize, recording.DefaultSegmentSize)
	}
	if cfg.Recording.Redis.Prefix != recording.DefaultRedisPrefix {
		t.Errorf("Recording.Redis.Prefix = %q, want %q", cfg.Recording.Redis.Prefix, recording.DefaultRedisPrefix)
	}
	if cfg.Tracing.SampleEvery != 1 {
		t.Errorf("Tracing.SampleEvery = %d, want 1", cfg.Tracing.SampleEvery)
	}
	if cfg.Replication.ResyncPeriod != 0 {
		t.Errorf("Replication.ResyncPeriod = %d, want 0 left alone", cfg.Replication.ResyncPeriod)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() after applyDefaults = %v", err)
	}
}

func TestDurations(t *testing.T) {
	cfg := New()
	if cfg.RecordingMaxAge() != 0 {
		t.Errorf("RecordingMaxAge() = %v, want 0 when unset", cfg.RecordingMaxAge())
	}
	cfg.Recording.MaxAge = "168h"
	if cfg.RecordingMaxAge() != 168*time.Hour {
		t.Errorf("RecordingMaxAge() = %v, want 168h", cfg.RecordingMaxAge())
	}
	if got := duration("nonsense", time.Second); got != time.Second {
		t.Errorf("duration(nonsense) = %v, want fallback 1s", got)
	}
}
