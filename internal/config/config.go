package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the immutable configuration snapshot for the daemon.
// A loaded snapshot is never mutated; hot reload builds a new one
// and swaps it through a Store.
type Config struct {
	// System holds identity and filesystem settings.
	System SystemConfig `yaml:"system"`
	// API holds the local control surface settings.
	API APIConfig `yaml:"api"`
	// Remote holds the remote authority link settings.
	Remote RemoteConfig `yaml:"remote"`
	// Network holds interface failover settings.
	Network NetworkConfig `yaml:"network"`
	// GPIO holds hardware pin and debounce settings.
	GPIO GPIOConfig `yaml:"gpio"`
	// Timers holds the alarm cycle durations.
	Timers TimerConfig `yaml:"timers"`
	// Queue holds the durable event queue bounds.
	Queue QueueConfig `yaml:"queue"`
}

// SystemConfig identifies this controller and its working directories.
type SystemConfig struct {
	// ClientID is the identifier reported to the remote authority.
	ClientID string `yaml:"client_id"`
	// DataDir is where queue segments, the state snapshot and the
	// liveness file live.
	DataDir string `yaml:"data_dir"`
	// LogLevel is the minimum log level (debug, info, warn, error, fatal).
	LogLevel string `yaml:"log_level"`
	// LivenessInterval is how often the daemon refreshes the liveness file.
	LivenessInterval time.Duration `yaml:"liveness_interval"`
}

// APIConfig controls the local HTTP/WebSocket control surface.
type APIConfig struct {
	// ListenAddress is the HTTP listen address for the local API.
	ListenAddress string `yaml:"listen_addr"`
	// ShutdownTimeout bounds the graceful drain of in-flight requests.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RemoteConfig controls the persistent link to the remote authority.
type RemoteConfig struct {
	// URL is the websocket endpoint of the remote authority.
	// An empty URL disables the link (the queue still accumulates).
	URL string `yaml:"url"`
	// AuthSecret is the shared secret used to sign the client JWT.
	AuthSecret string `yaml:"auth_secret"`
	// HeartbeatInterval is the period between liveness probes.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	// BackoffMin is the initial reconnect backoff.
	BackoffMin time.Duration `yaml:"backoff_min"`
	// BackoffMax is the reconnect backoff ceiling.
	BackoffMax time.Duration `yaml:"backoff_max"`
	// StableReset is how long a connection must stay up before the
	// backoff counter returns to the minimum.
	StableReset time.Duration `yaml:"stable_reset"`
	// ReplayBatchSize is how many queued events are sent per replay batch.
	ReplayBatchSize int `yaml:"replay_batch_size"`
}

// NetworkConfig controls interface priority and failover.
type NetworkConfig struct {
	// Interfaces lists interface names in priority order (wired first).
	Interfaces []string `yaml:"interfaces"`
	// ProbeInterval is the link-state polling period.
	ProbeInterval time.Duration `yaml:"probe_interval"`
	// FailureThreshold is how many consecutive heartbeat failures on the
	// selected interface force a switchover.
	FailureThreshold int `yaml:"failure_threshold"`
}

// GPIOConfig controls the hardware abstraction.
type GPIOConfig struct {
	// Simulated selects the in-memory backend instead of sysfs.
	Simulated bool `yaml:"simulated"`
	// Root is the sysfs GPIO base directory (overridable for tests).
	Root string `yaml:"root"`
	// DoorPin is the door reed sensor input pin.
	DoorPin int `yaml:"door_pin"`
	// DoorActiveLow inverts the door input reading.
	DoorActiveLow bool `yaml:"door_active_low"`
	// SirenPin is the siren relay output pin.
	SirenPin int `yaml:"siren_pin"`
	// FloodlightPin is the floodlight relay output pin.
	FloodlightPin int `yaml:"floodlight_pin"`
	// Debounce is the door input debounce window.
	Debounce time.Duration `yaml:"debounce"`
}

// TimerConfig holds the alarm cycle durations.
type TimerConfig struct {
	// ExitDelay is the grace window between arming and armed.
	ExitDelay time.Duration `yaml:"exit_delay"`
	// EntryDelay is the grace window between door-open and alarm.
	EntryDelay time.Duration `yaml:"entry_delay"`
	// AutoRearm is the idle timeout before automatic re-arming.
	// Zero disables auto-rearm.
	AutoRearm time.Duration `yaml:"auto_rearm"`
	// SirenMax bounds how long the siren may sound.
	SirenMax time.Duration `yaml:"siren_max"`
}

// QueueConfig bounds the durable event queue.
type QueueConfig struct {
	// MaxEntries is the maximum number of queued events before the
	// oldest are pruned.
	MaxEntries int `yaml:"max_entries"`
	// MaxAge is the maximum age of a queued event before pruning.
	MaxAge time.Duration `yaml:"max_age"`
	// SegmentMaxBytes is the rotation threshold for segment files.
	SegmentMaxBytes int64 `yaml:"segment_max_bytes"`
	// FlushInterval is how often the queue writer syncs the open segment.
	FlushInterval time.Duration `yaml:"flush_interval"`
}

const (
	// DefaultConfigFilename is the default configuration file path.
	DefaultConfigFilename = "perimeter-sentinel.yaml"

	// DefaultFilePermissions is the default permission for files the
	// daemon writes (config, snapshots, queue segments).
	DefaultFilePermissions = 0o600

	// DefaultDirPermissions is the default permission for data directories.
	DefaultDirPermissions = 0o700

	defaultClientID          = "sentinel-001"
	defaultDataDir           = "data"
	defaultLogLevel          = "info"
	defaultLivenessInterval  = 10 * time.Second
	defaultListenAddress     = "127.0.0.1:8080"
	defaultShutdownTimeout   = 5 * time.Second
	defaultHeartbeatInterval = 20 * time.Second
	defaultBackoffMin        = time.Second
	defaultBackoffMax        = 60 * time.Second
	defaultStableReset       = 60 * time.Second
	defaultReplayBatchSize   = 64
	defaultProbeInterval     = 5 * time.Second
	defaultFailureThreshold  = 2
	defaultGPIORoot          = "/sys/class/gpio"
	defaultDebounce          = 50 * time.Millisecond
	defaultExitDelay         = 30 * time.Second
	defaultEntryDelay        = 30 * time.Second
	defaultSirenMax          = 120 * time.Second
	defaultMaxEntries        = 10_000
	defaultMaxAge            = 7 * 24 * time.Hour
	defaultSegmentMaxBytes   = 10 << 20
	defaultFlushInterval     = time.Second
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errClientIDRequired is returned when the client identifier is missing.
	errClientIDRequired = errors.New("system.client_id must be provided")
	// errNoInterfaces is returned when the interface priority list is empty.
	errNoInterfaces = errors.New("network.interfaces must list at least one interface")
	// errAuthSecretRequired is returned when a remote URL is configured
	// without a signing secret.
	errAuthSecretRequired = errors.New("remote.auth_secret must be provided when remote.url is set")
)

// Load reads configuration from the provided path, applies defaults and
// validates essential fields. Validation failures here are fatal by design:
// configuration faults must never surface at runtime.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	cfg.applyDefaults()

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns a configuration snapshot with every field at its default.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()

	return &cfg
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields and formatting.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.System.ClientID == "" {
		return errClientIDRequired
	}

	if _, err := net.ResolveTCPAddr("tcp", cfg.API.ListenAddress); err != nil {
		return fmt.Errorf("invalid api.listen_addr: %w", err)
	}

	if len(cfg.Network.Interfaces) == 0 {
		return errNoInterfaces
	}

	if cfg.Remote.URL != "" {
		parsed, err := url.Parse(cfg.Remote.URL)
		if err != nil {
			return fmt.Errorf("invalid remote.url: %w", err)
		}

		if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
			return fmt.Errorf("invalid remote.url scheme %q: expected ws or wss", parsed.Scheme)
		}

		if cfg.Remote.AuthSecret == "" {
			return errAuthSecretRequired
		}
	}

	if cfg.Queue.MaxEntries <= 0 {
		return fmt.Errorf("queue.max_entries must be positive, got %d", cfg.Queue.MaxEntries)
	}

	if cfg.Queue.SegmentMaxBytes <= 0 {
		return fmt.Errorf("queue.segment_max_bytes must be positive, got %d", cfg.Queue.SegmentMaxBytes)
	}

	if cfg.Timers.ExitDelay <= 0 || cfg.Timers.EntryDelay <= 0 || cfg.Timers.SirenMax <= 0 {
		return errors.New("timers.exit_delay, timers.entry_delay and timers.siren_max must be positive")
	}

	if cfg.Timers.AutoRearm < 0 {
		return errors.New("timers.auto_rearm must not be negative")
	}

	return nil
}

// applyDefaults fills zero-valued fields with default settings.
func (c *Config) applyDefaults() {
	if c.System.ClientID == "" {
		c.System.ClientID = defaultClientID
	}

	if c.System.DataDir == "" {
		c.System.DataDir = defaultDataDir
	}

	if c.System.LogLevel == "" {
		c.System.LogLevel = defaultLogLevel
	}

	if c.System.LivenessInterval <= 0 {
		c.System.LivenessInterval = defaultLivenessInterval
	}

	if c.API.ListenAddress == "" {
		c.API.ListenAddress = defaultListenAddress
	}

	if c.API.ShutdownTimeout <= 0 {
		c.API.ShutdownTimeout = defaultShutdownTimeout
	}

	if c.Remote.HeartbeatInterval <= 0 {
		c.Remote.HeartbeatInterval = defaultHeartbeatInterval
	}

	if c.Remote.BackoffMin <= 0 {
		c.Remote.BackoffMin = defaultBackoffMin
	}

	if c.Remote.BackoffMax <= 0 {
		c.Remote.BackoffMax = defaultBackoffMax
	}

	if c.Remote.StableReset <= 0 {
		c.Remote.StableReset = defaultStableReset
	}

	if c.Remote.ReplayBatchSize <= 0 {
		c.Remote.ReplayBatchSize = defaultReplayBatchSize
	}

	if len(c.Network.Interfaces) == 0 {
		c.Network.Interfaces = []string{"eth0", "wlan0"}
	}

	if c.Network.ProbeInterval <= 0 {
		c.Network.ProbeInterval = defaultProbeInterval
	}

	if c.Network.FailureThreshold <= 0 {
		c.Network.FailureThreshold = defaultFailureThreshold
	}

	if c.GPIO.Root == "" {
		c.GPIO.Root = defaultGPIORoot
	}

	if c.GPIO.Debounce <= 0 {
		c.GPIO.Debounce = defaultDebounce
	}

	if c.Timers.ExitDelay == 0 {
		c.Timers.ExitDelay = defaultExitDelay
	}

	if c.Timers.EntryDelay == 0 {
		c.Timers.EntryDelay = defaultEntryDelay
	}

	if c.Timers.SirenMax == 0 {
		c.Timers.SirenMax = defaultSirenMax
	}

	if c.Queue.MaxEntries == 0 {
		c.Queue.MaxEntries = defaultMaxEntries
	}

	if c.Queue.MaxAge <= 0 {
		c.Queue.MaxAge = defaultMaxAge
	}

	if c.Queue.SegmentMaxBytes == 0 {
		c.Queue.SegmentMaxBytes = defaultSegmentMaxBytes
	}

	if c.Queue.FlushInterval <= 0 {
		c.Queue.FlushInterval = defaultFlushInterval
	}
}
