package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Cadence values accepted by sterbox.cadence.
const (
	CadenceInterleaved = "interleaved"
	CadenceBatch       = "batch"
	CadencePerSection  = "per_section"
)

// Config is the root configuration structure for the Sterbox bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Sterbox   SterboxConfig  `yaml:"sterbox"`
	MQTT      MQTTConfig     `yaml:"mqtt"`
	Variables Sections       `yaml:"variables"`
	Debug     bool           `yaml:"debug"`
	Logging   LoggingConfig  `yaml:"logging"`
	Database  DatabaseConfig `yaml:"database"`
	InfluxDB  InfluxDBConfig `yaml:"influxdb"`
}

// SterboxConfig describes the polled device and the polling cadence.
//
// Durations are expressed in (fractional) seconds, matching the device
// documentation: interval: 1, rest_delay: 0.1.
type SterboxConfig struct {
	// URL is the device host (and optional port), without scheme.
	// Example: "192.168.1.50"
	URL string `yaml:"url"`

	// Password is sent to the authentication endpoint.
	// WARNING: Never log this value.
	Password string `yaml:"password"`

	// Name is the publish topic root.
	Name string `yaml:"name"`

	// Interval is the publish/poll period in seconds. Default: 1
	Interval float64 `yaml:"interval"`

	// RestDelay is the pause between two section polls in seconds. Default: 0.1
	RestDelay float64 `yaml:"rest_delay"`

	// MaxConnectionRetries bounds the connection check/reset cycle. Default: 5
	MaxConnectionRetries int `yaml:"max_connection_retries"`

	// ConnectionRetryDelay is the pause after a transport reset in seconds. Default: 5
	ConnectionRetryDelay float64 `yaml:"connection_retry_delay"`

	// Cadence selects the publish policy: interleaved, batch or per_section.
	// Default: interleaved
	Cadence string `yaml:"cadence"`

	// HealthInterval is how often the health report is published (seconds).
	// Default: 30
	HealthInterval int `yaml:"health_interval"`
}

// String returns a string representation with password masked.
func (s SterboxConfig) String() string {
	password := ""
	if s.Password != "" {
		password = "[REDACTED]"
	}
	return fmt.Sprintf("SterboxConfig{URL:%q, Name:%q, Password:%s, Interval:%v, RestDelay:%v, Cadence:%q}",
		s.URL, s.Name, password, s.Interval, s.RestDelay, s.Cadence)
}

// MarshalJSON implements json.Marshaler to redact the device password.
func (s SterboxConfig) MarshalJSON() ([]byte, error) {
	type redacted SterboxConfig
	safe := redacted(s)
	if safe.Password != "" {
		safe.Password = "[REDACTED]"
	}
	return json.Marshal(safe)
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Server    string              `yaml:"server"`
	Port      int                 `yaml:"port"`
	Username  string              `yaml:"username"`
	Password  string              `yaml:"password"`
	ClientID  string              `yaml:"client_id"`
	TLS       bool                `yaml:"tls"`
	QoS       int                 `yaml:"qos"`
	Retain    bool                `yaml:"retain"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// String returns a string representation with password masked.
func (m MQTTConfig) String() string {
	password := ""
	if m.Password != "" {
		password = "[REDACTED]"
	}
	return fmt.Sprintf("MQTTConfig{Server:%q, Port:%d, ClientID:%q, Username:%q, Password:%s, QoS:%d}",
		m.Server, m.Port, m.ClientID, m.Username, password, m.QoS)
}

// MarshalJSON implements json.Marshaler to redact the broker password.
func (m MQTTConfig) MarshalJSON() ([]byte, error) {
	type redacted MQTTConfig
	safe := redacted(m)
	if safe.Password != "" {
		safe.Password = "[REDACTED]"
	}
	return json.Marshal(safe)
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	// InitialDelay spaces connection attempts while the broker is
	// unreachable at startup.
	InitialDelay int `yaml:"initial_delay"`

	// MaxDelay caps the client's backoff between automatic reconnects
	// after an established connection drops.
	MaxDelay int `yaml:"max_delay"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DatabaseConfig contains settings for the SQLite reading history.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// RetentionHours is how long published readings are kept. 0 keeps everything.
	RetentionHours int `yaml:"retention_hours"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: STERBOX_SECTION_KEY
// For example: STERBOX_PASSWORD, STERBOX_MQTT_PASSWORD
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
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
		Sterbox: SterboxConfig{
			Interval:             1,
			RestDelay:            0.1,
			MaxConnectionRetries: 5,
			ConnectionRetryDelay: 5,
			Cadence:              CadenceInterleaved,
			HealthInterval:       30,
		},
		MQTT: MQTTConfig{
			Server:   "localhost",
			Port:     1883,
			ClientID: "sterbox-bridge",
			QoS:      0,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Database: DatabaseConfig{
			Path:        "./data/sterbox.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Device
	if v := os.Getenv("STERBOX_URL"); v != "" {
		cfg.Sterbox.URL = v
	}
	if v := os.Getenv("STERBOX_PASSWORD"); v != "" {
		cfg.Sterbox.Password = v
	}

	// MQTT
	if v := os.Getenv("STERBOX_MQTT_SERVER"); v != "" {
		cfg.MQTT.Server = v
	}
	if v := os.Getenv("STERBOX_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("STERBOX_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}

	// InfluxDB
	if v := os.Getenv("STERBOX_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	errs = append(errs, c.validateSterbox()...)
	errs = append(errs, c.validateMQTT()...)
	errs = append(errs, c.Variables.validate()...)
	errs = append(errs, c.validateLogging()...)

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}
	if c.Database.RetentionHours < 0 {
		errs = append(errs, "database.retention_hours must not be negative")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validateSterbox validates device and cadence settings.
func (c *Config) validateSterbox() []string {
	var errs []string
	s := c.Sterbox

	if s.URL == "" {
		errs = append(errs, "sterbox.url is required")
	} else if strings.Contains(s.URL, "://") {
		errs = append(errs, "sterbox.url must be a host without scheme")
	}
	if s.Name == "" {
		errs = append(errs, "sterbox.name is required")
	}
	if s.Interval <= 0 {
		errs = append(errs, "sterbox.interval must be positive")
	}
	if s.RestDelay < 0 {
		errs = append(errs, "sterbox.rest_delay must not be negative")
	}
	if s.MaxConnectionRetries < 0 {
		errs = append(errs, "sterbox.max_connection_retries must not be negative")
	}
	if s.ConnectionRetryDelay < 0 {
		errs = append(errs, "sterbox.connection_retry_delay must not be negative")
	}
	if s.HealthInterval < 1 {
		errs = append(errs, "sterbox.health_interval must be at least 1 second")
	}

	switch s.Cadence {
	case CadenceInterleaved, CadenceBatch, CadencePerSection:
	default:
		errs = append(errs, fmt.Sprintf("sterbox.cadence %q is invalid (use interleaved, batch or per_section)", s.Cadence))
	}

	return errs
}

// validateMQTT validates MQTT broker settings.
func (c *Config) validateMQTT() []string {
	var errs []string
	if c.MQTT.Server == "" {
		errs = append(errs, "mqtt.server is required")
	}
	if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
		errs = append(errs, "mqtt.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.ClientID == "" {
		errs = append(errs, "mqtt.client_id is required")
	}
	return errs
}

// validateLogging validates logging settings.
func (c *Config) validateLogging() []string {
	var errs []string

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("logging.level %q is invalid (use debug, info, warn, or error)", c.Logging.Level))
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("logging.format %q is invalid (use json or text)", c.Logging.Format))
	}

	return errs
}

// EffectiveLogging returns the logging settings with the debug switch applied.
// debug: true forces the debug level regardless of logging.level.
func (c *Config) EffectiveLogging() LoggingConfig {
	l := c.Logging
	if c.Debug {
		l.Level = "debug"
	}
	return l
}

// GetInterval returns sterbox.interval as a Duration.
func (c *Config) GetInterval() time.Duration {
	return seconds(c.Sterbox.Interval)
}

// GetRestDelay returns sterbox.rest_delay as a Duration.
func (c *Config) GetRestDelay() time.Duration {
	return seconds(c.Sterbox.RestDelay)
}

// GetConnectionRetryDelay returns sterbox.connection_retry_delay as a Duration.
func (c *Config) GetConnectionRetryDelay() time.Duration {
	return seconds(c.Sterbox.ConnectionRetryDelay)
}

// GetHealthInterval returns sterbox.health_interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Sterbox.HealthInterval) * time.Second
}

// GetMQTTConnectRetryDelay returns mqtt.reconnect.initial_delay as a
// Duration, or one second when it is not positive.
func (c *Config) GetMQTTConnectRetryDelay() time.Duration {
	if c.MQTT.Reconnect.InitialDelay <= 0 {
		return time.Second
	}
	return time.Duration(c.MQTT.Reconnect.InitialDelay) * time.Second
}

// GetRetention returns database.retention_hours as a Duration (0 keeps everything).
func (c *Config) GetRetention() time.Duration {
	return time.Duration(c.Database.RetentionHours) * time.Hour
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
