package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for brokerpilot. All
// configuration is loaded from YAML and can be overridden by environment
// variables.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Brokers   BrokersConfig   `yaml:"brokers"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Queue     QueueConfig     `yaml:"queue"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Audit     AuditConfig     `yaml:"audit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// ServiceConfig identifies this publisher instance and the device category
// that selects its score weight profile.
type ServiceConfig struct {
	ID       string `yaml:"id"`
	Category string `yaml:"category"`
}

// BrokersConfig seeds the Registry's candidate list at startup.
type BrokersConfig struct {
	URIs []string `yaml:"uris"`
}

// MQTTConfig contains the options forwarded to the underlying MQTT client
// on every (re)connect, plus the fall-through timeouts.
type MQTTConfig struct {
	ClientIDPrefix           string         `yaml:"client_id_prefix"`
	PersistenceDir           string         `yaml:"persistence_dir"`
	Auth                     MQTTAuthConfig `yaml:"auth"`
	ConnectTimeoutSeconds    int            `yaml:"connect_timeout_seconds"`
	DisconnectTimeoutSeconds int            `yaml:"disconnect_timeout_seconds"`
	ExhaustedBackoffSeconds  int            `yaml:"exhausted_backoff_seconds"`
	KeepAliveSeconds         int            `yaml:"keep_alive_seconds"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MonitorConfig contains the Monitor's tick and measurement cadences.
type MonitorConfig struct {
	TickIntervalSeconds       int `yaml:"tick_interval_seconds"`
	LatencyIntervalSeconds    int `yaml:"latency_interval_seconds"`
	BandwidthIntervalSeconds  int `yaml:"bandwidth_interval_seconds"`
	ConnectionIntervalSeconds int `yaml:"connection_interval_seconds"`
	MaxConcurrentProbes       int `yaml:"max_concurrent_probes"`
}

// QueueConfig contains the Offline Queue's bound.
type QueueConfig struct {
	Capacity int `yaml:"capacity"`
}

// APIConfig contains HTTP admin API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings, in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains the admin API's live event-stream settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains the optional broker-metrics export sink settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// AuditConfig contains the SQLite-backed broker-lifecycle audit trail
// settings.
type AuditConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings for the admin API.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings and the single dev-only admin
// credential exchanged for a token at POST /api/v1/auth/login.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
	AdminUsername  string `yaml:"admin_username"`
	AdminPassword  string `yaml:"admin_password"`
}

// Load reads configuration from a YAML file and applies environment
// variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: BROKERPILOT_SECTION_KEY.
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

// defaultConfig returns a Config with sensible defaults: a three-broker
// loopback pool, a sensor-category weight profile, and the default
// Monitor/Queue cadences.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			ID:       "brokerpilot-001",
			Category: "sensor",
		},
		Brokers: BrokersConfig{
			URIs: []string{"mqtt://localhost:1883", "mqtt://localhost:1884", "mqtt://localhost:1885"},
		},
		MQTT: MQTTConfig{
			ClientIDPrefix:           "brokerpilot",
			ConnectTimeoutSeconds:    10,
			DisconnectTimeoutSeconds: 5,
			ExhaustedBackoffSeconds:  5,
			KeepAliveSeconds:         60,
		},
		Monitor: MonitorConfig{
			TickIntervalSeconds:       20,
			LatencyIntervalSeconds:    5,
			BandwidthIntervalSeconds:  10,
			ConnectionIntervalSeconds: 15,
			MaxConcurrentProbes:       4,
		},
		Queue: QueueConfig{
			Capacity: 1000,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Audit: AuditConfig{
			Path:        "./data/brokerpilot-audit.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
				AdminUsername:  "admin",
				AdminPassword:  "admin",
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Environment variables follow the pattern
// BROKERPILOT_SECTION_KEY.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BROKERPILOT_SERVICE_CATEGORY"); v != "" {
		cfg.Service.Category = v
	}
	if v := os.Getenv("BROKERPILOT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("BROKERPILOT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("BROKERPILOT_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("BROKERPILOT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("BROKERPILOT_AUDIT_PATH"); v != "" {
		cfg.Audit.Path = v
	}
	// JWT secret (IMPORTANT: always override in production).
	if v := os.Getenv("BROKERPILOT_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Service.ID == "" {
		errs = append(errs, "service.id is required")
	}

	if c.Queue.Capacity < 0 {
		errs = append(errs, "queue.capacity must be non-negative")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// A self-adaptive publisher layer is network infrastructure: a forged
	// admin-API token could mark every broker unavailable or force a swap.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set BROKERPILOT_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// ConnectTimeout returns the MQTT connect deadline as a Duration.
func (c *MQTTConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// DisconnectTimeout returns the MQTT disconnect wait cap as a Duration.
func (c *MQTTConfig) DisconnectTimeout() time.Duration {
	return time.Duration(c.DisconnectTimeoutSeconds) * time.Second
}

// ExhaustedBackoff returns the fall-through exhausted-list backoff as a
// Duration.
func (c *MQTTConfig) ExhaustedBackoff() time.Duration {
	return time.Duration(c.ExhaustedBackoffSeconds) * time.Second
}

// KeepAlive returns the MQTT keep-alive interval as a Duration.
func (c *MQTTConfig) KeepAlive() time.Duration {
	return time.Duration(c.KeepAliveSeconds) * time.Second
}

// TickInterval returns the Monitor's tick cadence as a Duration.
func (c *MonitorConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSeconds) * time.Second
}

// LatencyInterval returns the latency measurement cadence as a Duration.
func (c *MonitorConfig) LatencyInterval() time.Duration {
	return time.Duration(c.LatencyIntervalSeconds) * time.Second
}

// BandwidthInterval returns the bandwidth measurement cadence as a
// Duration.
func (c *MonitorConfig) BandwidthInterval() time.Duration {
	return time.Duration(c.BandwidthIntervalSeconds) * time.Second
}

// ConnectionInterval returns the connection-count measurement cadence as a
// Duration.
func (c *MonitorConfig) ConnectionInterval() time.Duration {
	return time.Duration(c.ConnectionIntervalSeconds) * time.Second
}
