package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for BioSync Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Remote      RemoteConfig      `yaml:"remote"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Health      HealthConfig      `yaml:"health"`
	Sync        SyncConfig        `yaml:"sync"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// DatabaseConfig contains SQLite database settings for the sync queue store.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains broker settings for the LAN transport adapter.
type MQTTConfig struct {
	Broker MQTTBrokerConfig `yaml:"broker"`
	Auth   MQTTAuthConfig   `yaml:"auth"`
	QoS    int              `yaml:"qos"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// RemoteConfig contains settings for the remote sync endpoints.
type RemoteConfig struct {
	// BaseURL is the root of the remote ingestion API
	// (e.g., "https://api.example.com/v1").
	BaseURL string `yaml:"base_url"`

	// Token is the bearer token sent with every sync request.
	Token string `yaml:"token"`

	// RequestTimeout is the per-request timeout in seconds.
	RequestTimeout int `yaml:"request_timeout"`
}

// CoordinatorConfig contains connection coordinator settings.
type CoordinatorConfig struct {
	// MaxBLEConnections is the hard ceiling on simultaneous BLE sessions.
	// Real BLE stacks support around 7 concurrent central connections;
	// callers needing more devices should use the LAN transport.
	MaxBLEConnections int `yaml:"max_ble_connections"`

	// ReconnectAttempts is the number of automatic reconnection attempts
	// after an unexpected disconnect. After this many failures the device
	// is left offline for manual reconnection.
	ReconnectAttempts int `yaml:"reconnect_attempts"`

	// ReconnectBaseDelay is the base reconnect delay in seconds.
	// The delay grows linearly: base × attempt number.
	ReconnectBaseDelay int `yaml:"reconnect_base_delay"`

	// CloudProbeURL is probed first during network-mode detection.
	CloudProbeURL string `yaml:"cloud_probe_url"`

	// LocalProbeURL is probed when the cloud endpoint is unreachable.
	LocalProbeURL string `yaml:"local_probe_url"`

	// ProbeTimeout is the per-probe timeout in seconds.
	ProbeTimeout int `yaml:"probe_timeout"`

	// ModeProbeInterval is the period in seconds between network-mode
	// re-probes, so connectivity restored without a platform signal is
	// still noticed.
	ModeProbeInterval int `yaml:"mode_probe_interval"`
}

// HealthConfig contains health monitor settings.
type HealthConfig struct {
	// Interval is the sweep interval in seconds. A device silent for
	// 3× this interval is demoted to offline.
	Interval int `yaml:"interval"`

	// LowBatteryThreshold is the battery percentage below which a
	// one-time low-battery notification is emitted.
	LowBatteryThreshold int `yaml:"low_battery_threshold"`
}

// SyncConfig contains sync engine settings.
type SyncConfig struct {
	// Interval is the timer-driven sync interval in seconds.
	Interval int `yaml:"interval"`

	// BatchSize is the number of items processed per batch within a pass.
	BatchSize int `yaml:"batch_size"`

	// MaxQueueSize caps the store item count; enqueue fails beyond it.
	MaxQueueSize int `yaml:"max_queue_size"`

	// MaxRetries is the automatic retry ceiling per item.
	MaxRetries int `yaml:"max_retries"`

	// GracePeriod is the delay in seconds before a synced item is
	// deleted, allowing late duplicate-suppression checks.
	GracePeriod int `yaml:"grace_period"`
}

// InfluxDBConfig contains InfluxDB connection settings for telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: BIOSYNC_SECTION_KEY
// For example: BIOSYNC_DATABASE_PATH, BIOSYNC_REMOTE_TOKEN
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/biosync.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "biosync-core",
			},
			QoS: 1,
		},
		Remote: RemoteConfig{
			RequestTimeout: 15,
		},
		Coordinator: CoordinatorConfig{
			MaxBLEConnections:  7,
			ReconnectAttempts:  3,
			ReconnectBaseDelay: 2,
			ProbeTimeout:       5,
			ModeProbeInterval:  30,
		},
		Health: HealthConfig{
			Interval:            5,
			LowBatteryThreshold: 20,
		},
		Sync: SyncConfig{
			Interval:     30,
			BatchSize:    25,
			MaxQueueSize: 10000,
			MaxRetries:   5,
			GracePeriod:  60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: BIOSYNC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BIOSYNC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("BIOSYNC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("BIOSYNC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("BIOSYNC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("BIOSYNC_REMOTE_BASE_URL"); v != "" {
		cfg.Remote.BaseURL = v
	}
	if v := os.Getenv("BIOSYNC_REMOTE_TOKEN"); v != "" {
		cfg.Remote.Token = v
	}

	if v := os.Getenv("BIOSYNC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Malformed configuration is the one class of failure that aborts startup
// rather than being reported as data; everything downstream assumes these
// invariants hold.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Remote.BaseURL == "" {
		errs = append(errs, "remote.base_url is required (set BIOSYNC_REMOTE_BASE_URL environment variable)")
	}

	if c.Coordinator.MaxBLEConnections < 1 {
		errs = append(errs, "coordinator.max_ble_connections must be at least 1")
	}
	if c.Coordinator.ReconnectAttempts < 0 {
		errs = append(errs, "coordinator.reconnect_attempts must not be negative")
	}
	if c.Coordinator.ModeProbeInterval < 1 {
		errs = append(errs, "coordinator.mode_probe_interval must be at least 1 second")
	}

	if c.Health.Interval < 1 {
		errs = append(errs, "health.interval must be at least 1 second")
	}

	if c.Sync.BatchSize < 1 {
		errs = append(errs, "sync.batch_size must be at least 1")
	}
	if c.Sync.MaxQueueSize < 1 {
		errs = append(errs, "sync.max_queue_size must be at least 1")
	}
	if c.Sync.MaxRetries < 1 {
		errs = append(errs, "sync.max_retries must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetRequestTimeout returns the remote request timeout as a Duration.
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.Remote.RequestTimeout) * time.Second
}

// GetProbeTimeout returns the network probe timeout as a Duration.
func (c *Config) GetProbeTimeout() time.Duration {
	return time.Duration(c.Coordinator.ProbeTimeout) * time.Second
}

// GetModeProbeInterval returns the network-mode re-probe period as a Duration.
func (c *Config) GetModeProbeInterval() time.Duration {
	return time.Duration(c.Coordinator.ModeProbeInterval) * time.Second
}

// GetReconnectBaseDelay returns the reconnect base delay as a Duration.
func (c *Config) GetReconnectBaseDelay() time.Duration {
	return time.Duration(c.Coordinator.ReconnectBaseDelay) * time.Second
}

// GetHealthInterval returns the health sweep interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Health.Interval) * time.Second
}

// GetSyncInterval returns the timer-driven sync interval as a Duration.
func (c *Config) GetSyncInterval() time.Duration {
	return time.Duration(c.Sync.Interval) * time.Second
}

// GetGracePeriod returns the synced-item deletion grace period as a Duration.
func (c *Config) GetGracePeriod() time.Duration {
	return time.Duration(c.Sync.GracePeriod) * time.Second
}
