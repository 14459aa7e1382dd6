package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values recovered from the field deployments of the bridge.
const (
	DefaultDevicePort          = 9000
	DefaultProductionDevice    = "/dev/ttyO1"
	DefaultBaudRate            = 9600
	DefaultFlashBinary         = "/opt/utilities/bin/ninja_update_arduino"
	DefaultHexURL              = "https://raw.github.com/ninjablocks/arduino/master/hex/v12_0.46.hex"
	environmentProduction      = "production"
	defaultRetryDelay          = 3 * time.Second
	defaultRetryMaxAttempts    = 3
	defaultProbeInterval       = 500 * time.Millisecond
	defaultProbeTimeout        = 2 * time.Second
	defaultURLCheckTimeout     = 10 * time.Second
	defaultHealthCheckInterval = 30 * time.Second
)

// Config is the root configuration structure for the Gray Logic Arduino bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Arduino   ArduinoConfig   `yaml:"arduino"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// ArduinoConfig contains the microcontroller transport and driver settings.
type ArduinoConfig struct {
	// Env selects environment specific defaults. In "production" an empty
	// DevicePath falls back to the on-board UART.
	Env string `yaml:"env"`

	// DevicePath is the local serial device. Preferred over DeviceHost.
	DevicePath string `yaml:"device_path"`

	// DeviceHost and DevicePort address a TCP serial bridge.
	DeviceHost string `yaml:"device_host"`
	DevicePort int    `yaml:"device_port"`

	BaudRate int `yaml:"baud_rate"`

	// PersistantDevices lists G_V_D identity strings registered when the
	// host reports it is up. The spelling matches the deployed config key.
	PersistantDevices []string `yaml:"persistant_devices"`

	Retry        RetryConfig        `yaml:"retry"`
	VersionProbe VersionProbeConfig `yaml:"version_probe"`
	Status       StatusConfig       `yaml:"status"`
	Flash        FlashConfig        `yaml:"flash"`

	// HealthCheckInterval is how often bridge health is published.
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
}

// RetryConfig bounds automatic reconnects.
type RetryConfig struct {
	Delay       time.Duration `yaml:"delay"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// VersionProbeConfig controls the firmware version query sent on open.
type VersionProbeConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// StatusConfig controls the status LED.
type StatusConfig struct {
	// RefreshInterval rewrites the current colour periodically. Zero disables it.
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// FlashConfig contains firmware update settings.
type FlashConfig struct {
	// Binary is the external updater executable.
	Binary string `yaml:"binary"`

	VersionFlag string `yaml:"version_flag"`
	URLFlag     string `yaml:"url_flag"`

	// BoardVersions are the tags offered by the config menu.
	BoardVersions []string `yaml:"board_versions"`

	// DefaultHexURL pre-fills the custom image prompt.
	DefaultHexURL string `yaml:"default_hex_url"`

	// URLCheckTimeout bounds the reachability check of a custom image URL.
	URLCheckTimeout time.Duration `yaml:"url_check_timeout"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains the local operator HTTP API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
	Auth     AuthConfig       `yaml:"auth"`
}

// AuthConfig protects the local API. Auth is disabled while JWTSecret is
// empty, which suits a bridge bound to loopback.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`

	// AccessTokenTTL is the token lifetime in minutes. Default: 60.
	AccessTokenTTL int `yaml:"access_token_ttl"`

	Operators []OperatorConfig `yaml:"operators"`
}

// OperatorConfig is one API login. PasswordHash is an Argon2id PHC string
// as printed by "graylogic-arduino hash-password".
type OperatorConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
	Role         string `yaml:"role"`
}

// Enabled reports whether API requests must carry a token.
func (a AuthConfig) Enabled() bool {
	return a.JWTSecret != ""
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
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

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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
//  4. Environment specific fallbacks (production device path)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_ARDUINO_DEVICE_PATH, GRAYLOGIC_MQTT_HOST
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
	applyEnvironmentDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Gray Logic",
		},
		Arduino: ArduinoConfig{
			DevicePort: DefaultDevicePort,
			BaudRate:   DefaultBaudRate,
			Retry: RetryConfig{
				Delay:       defaultRetryDelay,
				MaxAttempts: defaultRetryMaxAttempts,
			},
			VersionProbe: VersionProbeConfig{
				Interval: defaultProbeInterval,
				Timeout:  defaultProbeTimeout,
			},
			Flash: FlashConfig{
				Binary:          DefaultFlashBinary,
				VersionFlag:     "-f",
				URLFlag:         "-u",
				BoardVersions:   []string{"V12", "V11"},
				DefaultHexURL:   DefaultHexURL,
				URLCheckTimeout: defaultURLCheckTimeout,
			},
			HealthCheckInterval: defaultHealthCheckInterval,
		},
		Database: DatabaseConfig{
			Path:        "./data/graylogic-arduino.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-arduino",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			Auth: AuthConfig{
				AccessTokenTTL: 60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Arduino
	if v := os.Getenv("GRAYLOGIC_ARDUINO_DEVICE_PATH"); v != "" {
		cfg.Arduino.DevicePath = v
	}
	if v := os.Getenv("GRAYLOGIC_ARDUINO_DEVICE_HOST"); v != "" {
		cfg.Arduino.DeviceHost = v
	}
	if v := os.Getenv("GRAYLOGIC_ARDUINO_ENV"); v != "" {
		cfg.Arduino.Env = v
	}

	// Database
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("GRAYLOGIC_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_API_JWT_SECRET"); v != "" {
		cfg.API.Auth.JWTSecret = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// applyEnvironmentDefaults fills values that depend on arduino.env.
func applyEnvironmentDefaults(cfg *Config) {
	a := &cfg.Arduino
	if strings.EqualFold(a.Env, environmentProduction) && a.DevicePath == "" && a.DeviceHost == "" {
		a.DevicePath = DefaultProductionDevice
	}
	if a.DeviceHost != "" && a.DevicePort == 0 {
		a.DevicePort = DefaultDevicePort
	}
}

// Validate checks the configuration for errors.
//
// An empty transport (no device path and no device host) is valid: the
// bridge then runs without a microcontroller and only logs that fact.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	a := c.Arduino
	if a.DevicePort < 0 || a.DevicePort > 65535 {
		errs = append(errs, "arduino.device_port must be between 1 and 65535")
	}
	if a.BaudRate <= 0 {
		errs = append(errs, "arduino.baud_rate must be positive")
	}
	if a.Retry.MaxAttempts < 1 {
		errs = append(errs, "arduino.retry.max_attempts must be at least 1")
	}
	if a.Retry.Delay <= 0 {
		errs = append(errs, "arduino.retry.delay must be positive")
	}
	if a.VersionProbe.Interval <= 0 || a.VersionProbe.Timeout <= 0 {
		errs = append(errs, "arduino.version_probe interval and timeout must be positive")
	}
	if a.Status.RefreshInterval < 0 {
		errs = append(errs, "arduino.status.refresh_interval must not be negative")
	}
	if a.Flash.Binary == "" {
		errs = append(errs, "arduino.flash.binary is required")
	}
	if a.Flash.VersionFlag == "" || a.Flash.URLFlag == "" {
		errs = append(errs, "arduino.flash version_flag and url_flag are required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	errs = append(errs, c.API.Auth.validate()...)

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// minJWTSecretLength guards against secrets short enough to brute force.
const minJWTSecretLength = 32

func (a AuthConfig) validate() []string {
	var errs []string
	if !a.Enabled() {
		if len(a.Operators) > 0 {
			errs = append(errs, "api.auth.jwt_secret is required when operators are configured (set GRAYLOGIC_API_JWT_SECRET)")
		}
		return errs
	}
	if len(a.JWTSecret) < minJWTSecretLength {
		errs = append(errs, "api.auth.jwt_secret must be at least 32 characters")
	}
	if len(a.Operators) == 0 {
		errs = append(errs, "api.auth.operators must list at least one operator when auth is enabled")
	}
	seen := make(map[string]bool, len(a.Operators))
	for _, op := range a.Operators {
		if op.Username == "" || op.PasswordHash == "" {
			errs = append(errs, "api.auth.operators entries need username and password_hash")
			continue
		}
		if seen[op.Username] {
			errs = append(errs, fmt.Sprintf("api.auth.operators: duplicate username %q", op.Username))
		}
		seen[op.Username] = true
	}
	return errs
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
