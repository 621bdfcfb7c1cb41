package config

import (
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tickwire/tickwire/internal/errors"
	"github.com/tickwire/tickwire/pkg/client"
	"github.com/tickwire/tickwire/pkg/recording"
	"github.com/tickwire/tickwire/pkg/server"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "tickwire.json"

	// DefaultAddress is the default listen address.
	DefaultAddress = ":7000"

	// DefaultTickRate is the default number of ticks per second.
	DefaultTickRate = 20

	// DefaultResyncPeriod is the default periodic resync cadence in ticks.
	DefaultResyncPeriod = 100

	// DefaultMaxDesyncs is the number of consecutive bad snapshots a client
	// tolerates.
	DefaultMaxDesyncs = 3

	// DefaultNamespace prefixes Prometheus metric names.
	DefaultNamespace = "tickwire"

	// DefaultRecordingDir is where the disk backend writes.
	DefaultRecordingDir = "recordings"

	// DefaultEntities is the demo world size.
	DefaultEntities = 64

	// MaxTickRate bounds server.tickRate.
	MaxTickRate = 1000
)

// Recording backends.
const (
	BackendDisk  = "disk"
	BackendS3    = "s3"
	BackendRedis = "redis"
)

// Config represents the complete tickwire.json configuration.
type Config struct {
	// Server contains listener and peer connection settings.
	Server ServerConfig `json:"server"`

	// Replication contains snapshot stream settings.
	Replication ReplicationConfig `json:"replication"`

	// Metrics contains Prometheus settings.
	Metrics MetricsConfig `json:"metrics"`

	// Tracing contains OpenTelemetry settings.
	Tracing TracingConfig `json:"tracing"`

	// Recording contains snapshot recording settings.
	Recording RecordingConfig `json:"recording"`

	// World contains demo simulation settings.
	World WorldConfig `json:"world"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// ServerConfig contains server settings.
type ServerConfig struct {
	// Address is the host:port to listen on.
	Address string `json:"address,omitempty"`

	// TickRate is the number of snapshots per second.
	TickRate int `json:"tickRate,omitempty"`

	// ReadTimeout is the maximum silence from a peer (e.g., "60s").
	ReadTimeout string `json:"readTimeout,omitempty"`

	// WriteTimeout bounds each write to a peer.
	WriteTimeout string `json:"writeTimeout,omitempty"`

	// Heartbeat is the interval between pings.
	Heartbeat string `json:"heartbeat,omitempty"`

	// MaxPeers limits connected peers. 0 means no limit.
	MaxPeers int `json:"maxPeers,omitempty"`

	// SendQueue is the number of frames buffered per peer.
	SendQueue int `json:"sendQueue,omitempty"`
}

// ReplicationConfig contains snapshot stream settings.
type ReplicationConfig struct {
	// ResyncPeriod is the periodic full-state cadence in ticks.
	// 0 disables periodic resync.
	ResyncPeriod uint64 `json:"resyncPeriod"`

	// MaxDesyncs is the number of consecutive undecodable snapshots a
	// client tolerates before closing.
	MaxDesyncs int `json:"maxDesyncs,omitempty"`

	// Compressed selects quantized vector and rotation encodings.
	Compressed bool `json:"compressed,omitempty"`
}

// MetricsConfig contains Prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Namespace string `json:"namespace,omitempty"`
}

// TracingConfig contains OpenTelemetry settings.
type TracingConfig struct {
	Enabled    bool   `json:"enabled"`
	TracerName string `json:"tracerName,omitempty"`

	// SampleEvery traces one tick in N.
	SampleEvery uint64 `json:"sampleEvery,omitempty"`
}

// RecordingConfig contains snapshot recording settings.
type RecordingConfig struct {
	Enabled bool `json:"enabled"`

	// Backend is one of "disk", "s3" or "redis".
	Backend string `json:"backend,omitempty"`

	// Dir is the disk backend's directory, relative to the config file.
	Dir string `json:"dir,omitempty"`

	// SegmentSize is the buffered size at which a segment is saved.
	SegmentSize int `json:"segmentSize,omitempty"`

	// MaxAge removes older segments at startup (e.g., "168h"). Empty keeps
	// everything.
	MaxAge string `json:"maxAge,omitempty"`

	S3    S3Config    `json:"s3,omitempty"`
	Redis RedisConfig `json:"redis,omitempty"`
}

// S3Config contains S3 backend settings. Credentials come from the
// AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables.
type S3Config struct {
	Bucket    string `json:"bucket,omitempty"`
	Prefix    string `json:"prefix,omitempty"`
	Region    string `json:"region,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	PathStyle bool   `json:"pathStyle,omitempty"`
}

// RedisConfig contains Redis backend settings. The password comes from
// the TICKWIRE_REDIS_PASSWORD environment variable.
type RedisConfig struct {
	Addr   string `json:"addr,omitempty"`
	DB     int    `json:"db,omitempty"`
	Prefix string `json:"prefix,omitempty"`
	TTL    string `json:"ttl,omitempty"`
}

// WorldConfig contains demo simulation settings.
type WorldConfig struct {
	Entities int    `json:"entities,omitempty"`
	Seed     uint64 `json:"seed,omitempty"`
}

// New creates a new Config with default values.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      DefaultAddress,
			TickRate:     DefaultTickRate,
			ReadTimeout:  "60s",
			WriteTimeout: "10s",
			Heartbeat:    "20s",
			SendQueue:    64,
		},
		Replication: ReplicationConfig{
			ResyncPeriod: DefaultResyncPeriod,
			MaxDesyncs:   DefaultMaxDesyncs,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: DefaultNamespace,
		},
		Tracing: TracingConfig{
			TracerName:  "tickwire",
			SampleEvery: 1,
		},
		Recording: RecordingConfig{
			Backend:     BackendDisk,
			Dir:         DefaultRecordingDir,
			SegmentSize: recording.DefaultSegmentSize,
			Redis: RedisConfig{
				Prefix: recording.DefaultRedisPrefix,
			},
		},
		World: WorldConfig{
			Entities: DefaultEntities,
			Seed:     1,
		},
	}
}

// Load reads configuration from the specified directory.
// It looks for tickwire.json in the directory.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadFile reads configuration from the specified file path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("E141").
				WithSource(path).
				WithDetail("No " + ConfigFileName + " found in " + filepath.Dir(path))
		}
		return nil, errors.New("E120").WithSource(path).Wrap(err)
	}

	cfg := New()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.New("E120").
			WithSource(path).
			WithDetail("Failed to parse " + ConfigFileName + ": " + err.Error())
	}

	cfg.configPath = path
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to the file it was loaded from.
func (c *Config) Save() error {
	if c.configPath == "" {
		return errors.Newf(errors.CategoryConfig, "no config path set")
	}
	return c.SaveTo(c.configPath)
}

// SaveTo writes the configuration to the specified path.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.New("E120").Wrap(err)
	}

	// Add newline at end of file
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.New("E120").WithSource(path).Wrap(err)
	}

	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the directory containing the config file.
func (c *Config) Dir() string {
	if c.configPath == "" {
		return ""
	}
	return filepath.Dir(c.configPath)
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	// Server
	if c.Server.Address == "" {
		c.Server.Address = DefaultAddress
	}
	if c.Server.TickRate == 0 {
		c.Server.TickRate = DefaultTickRate
	}
	if c.Server.ReadTimeout == "" {
		c.Server.ReadTimeout = "60s"
	}
	if c.Server.WriteTimeout == "" {
		c.Server.WriteTimeout = "10s"
	}
	if c.Server.Heartbeat == "" {
		c.Server.Heartbeat = "20s"
	}
	if c.Server.SendQueue == 0 {
		c.Server.SendQueue = 64
	}

	// Replication: a zero ResyncPeriod is meaningful and kept
	if c.Replication.MaxDesyncs == 0 {
		c.Replication.MaxDesyncs = DefaultMaxDesyncs
	}

	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = DefaultNamespace
	}
	if c.Tracing.TracerName == "" {
		c.Tracing.TracerName = "tickwire"
	}
	if c.Tracing.SampleEvery == 0 {
		c.Tracing.SampleEvery = 1
	}

	// Recording
	if c.Recording.Backend == "" {
		c.Recording.Backend = BackendDisk
	}
	if c.Recording.Dir == "" {
		c.Recording.Dir = DefaultRecordingDir
	}
	if c.Recording.SegmentSize == 0 {
		c.Recording.SegmentSize = recording.DefaultSegmentSize
	}
	if c.Recording.Redis.Prefix == "" {
		c.Recording.Redis.Prefix = recording.DefaultRedisPrefix
	}

	if c.World.Entities == 0 {
		c.World.Entities = DefaultEntities
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	source := c.configPath
	if source == "" {
		source = ConfigFileName
	}

	_, port, err := net.SplitHostPort(c.Server.Address)
	if err != nil {
		return errors.New("E122").WithSource(source).Wrap(err)
	}
	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		return errors.New("E122").
			WithSource(source).
			WithDetail("Port " + strconv.Quote(port) + " must be a number between 0 and 65535")
	}

	if c.Server.TickRate < 1 || c.Server.TickRate > MaxTickRate {
		return errors.New("E123").WithSource(source)
	}

	for name, v := range map[string]int{
		"server.maxPeers":        c.Server.MaxPeers,
		"server.sendQueue":       c.Server.SendQueue,
		"replication.maxDesyncs": c.Replication.MaxDesyncs,
		"recording.segmentSize":  c.Recording.SegmentSize,
		"world.entities":         c.World.Entities,
	} {
		if v < 0 {
			return errors.New("E125").
				WithSource(source).
				WithDetail(name + " must not be negative")
		}
	}

	for name, v := range map[string]string{
		"server.readTimeout":  c.Server.ReadTimeout,
		"server.writeTimeout": c.Server.WriteTimeout,
		"server.heartbeat":    c.Server.Heartbeat,
		"recording.maxAge":    c.Recording.MaxAge,
		"recording.redis.ttl": c.Recording.Redis.TTL,
	} {
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err != nil || d < 0 {
			return errors.New("E125").
				WithSource(source).
				WithDetail(name + " must be a positive duration such as \"30s\", got " + strconv.Quote(v))
		}
	}

	switch c.Recording.Backend {
	case BackendDisk:
	case BackendS3:
		if c.Recording.Enabled && c.Recording.S3.Bucket == "" {
			return errors.New("E121").
				WithSource(source).
				WithDetail("recording.s3.bucket is required for the s3 backend")
		}
	case BackendRedis:
		if c.Recording.Enabled && c.Recording.Redis.Addr == "" {
			return errors.New("E121").
				WithSource(source).
				WithDetail("recording.redis.addr is required for the redis backend")
		}
	default:
		return errors.New("E124").
			WithSource(source).
			WithDetail("recording.backend must be one of disk, s3 or redis, got " + strconv.Quote(c.Recording.Backend))
	}

	return nil
}

// ServerConfig converts the file settings into a server configuration.
func (c *Config) ServerConfig() *server.ServerConfig {
	sc := server.DefaultServerConfig().
		WithAddress(c.Server.Address).
		WithTickRate(c.Server.TickRate).
		WithMaxPeers(c.Server.MaxPeers).
		WithResyncPeriod(c.Replication.ResyncPeriod)

	pc := sc.PeerConfig
	pc.ReadTimeout = duration(c.Server.ReadTimeout, pc.ReadTimeout)
	pc.WriteTimeout = duration(c.Server.WriteTimeout, pc.WriteTimeout)
	pc.HeartbeatInterval = duration(c.Server.Heartbeat, pc.HeartbeatInterval)
	pc.SendQueue = c.Server.SendQueue
	return sc
}

// ClientConfig converts the file settings into a client configuration.
func (c *Config) ClientConfig() *client.Config {
	cc := client.DefaultConfig()
	cc.ReadTimeout = duration(c.Server.ReadTimeout, cc.ReadTimeout)
	cc.WriteTimeout = duration(c.Server.WriteTimeout, cc.WriteTimeout)
	cc.MaxDesyncs = c.Replication.MaxDesyncs
	return cc
}

// RecordingDir returns the disk backend directory, resolved against the
// config file's directory.
func (c *Config) RecordingDir() string {
	if filepath.IsAbs(c.Recording.Dir) {
		return c.Recording.Dir
	}
	return filepath.Join(c.Dir(), c.Recording.Dir)
}

// RecordingMaxAge returns recording.maxAge, or zero when unset.
func (c *Config) RecordingMaxAge() time.Duration {
	return duration(c.Recording.MaxAge, 0)
}

// RedisTTL returns recording.redis.ttl, or zero when unset.
func (c *Config) RedisTTL() time.Duration {
	return duration(c.Recording.Redis.TTL, 0)
}

// Exists checks if a config file exists in the given directory.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ConfigFileName))
	return err == nil
}

// duration parses s, falling back to def when s is empty or invalid.
// Validate has already rejected invalid values for loaded files.
func duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
