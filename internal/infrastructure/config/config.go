package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the cube server.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	Provisioning ProvisioningConfig `yaml:"provisioning"`
	API          APIConfig          `yaml:"api"`
	WebSocket    WebSocketConfig    `yaml:"websocket"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	Logging      LoggingConfig      `yaml:"logging"`
	Security     SecurityConfig     `yaml:"security"`
}

// ServerConfig identifies this server instance.
type ServerConfig struct {
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string              `yaml:"path"`
	WALMode     bool                `yaml:"wal_mode"`
	BusyTimeout int                 `yaml:"busy_timeout"`
	Retry       DatabaseRetryConfig `yaml:"retry"`
}

// DatabaseRetryConfig controls how often the initial connection is retried.
// MaxAttempts of 0 retries until the context is cancelled.
type DatabaseRetryConfig struct {
	MaxAttempts  int `yaml:"max_attempts"`
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
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

// ProvisioningConfig controls the handshake with newly added cubes.
//
// BrokerAddress and BrokerPort are the MQTT endpoint advertised to devices.
// When empty the broker host from the mqtt section is used, and a loopback
// host is replaced with this machine's outbound address.
type ProvisioningConfig struct {
	Timeout       int    `yaml:"timeout"`
	BrokerAddress string `yaml:"broker_address"`
	BrokerPort    int    `yaml:"broker_port"`
}

// APIConfig contains HTTP API server settings.
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

// WebSocketConfig contains settings for the live telemetry stream.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains settings for the optional telemetry mirror.
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

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains settings for the short-lived access tokens handed out
// in exchange for API tokens.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// envPrefix is prepended to every environment override.
const envPrefix = "COVCUBE_"

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. Variables from envFile, when it exists (never overriding the real environment)
//  3. YAML file values (override defaults)
//  4. Environment variables (override file values)
//
// Environment variables follow the pattern: COVCUBE_SECTION_KEY
// For example: COVCUBE_DATABASE_PATH, COVCUBE_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//   - envFile: Optional dotenv file; empty or missing files are skipped
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If a file cannot be read, parsed, or validation fails
func Load(path, envFile string) (*Config, error) {
	cfg := defaultConfig()

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading env file: %w", err)
		}
	}

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
		Server: ServerConfig{
			Name: "covcube",
		},
		Database: DatabaseConfig{
			Path:        "./data/covcube.db",
			WALMode:     true,
			BusyTimeout: 5,
			Retry: DatabaseRetryConfig{
				MaxAttempts:  0,
				InitialDelay: 1,
				MaxDelay:     5,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "covcube-server",
			},
			QoS: 2,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Provisioning: ProvisioningConfig{
			Timeout: 10,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 3000,
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
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
//
// MQTT_PUBLIC, MQTTURL and MQTTPORT are accepted for the advertised broker
// endpoint so existing cube deployments keep working unchanged.
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv(envPrefix + "DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v, ok := envInt(envPrefix + "DATABASE_RETRY_MAX_ATTEMPTS"); ok {
		cfg.Database.Retry.MaxAttempts = v
	}

	// MQTT
	if v := os.Getenv(envPrefix + "MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v, ok := envInt(envPrefix + "MQTT_PORT"); ok {
		cfg.MQTT.Broker.Port = v
	}
	if v := os.Getenv(envPrefix + "MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv(envPrefix + "MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Provisioning
	if v := firstEnv(envPrefix+"PROVISIONING_BROKER_ADDRESS", "MQTT_PUBLIC", "MQTTURL"); v != "" {
		cfg.Provisioning.BrokerAddress = v
	}
	if v, ok := envInt(envPrefix + "PROVISIONING_BROKER_PORT"); ok {
		cfg.Provisioning.BrokerPort = v
	} else if v, ok := envInt("MQTTPORT"); ok {
		cfg.Provisioning.BrokerPort = v
	}
	if v, ok := envInt(envPrefix + "PROVISIONING_TIMEOUT"); ok {
		cfg.Provisioning.Timeout = v
	}

	// API
	if v := os.Getenv(envPrefix + "API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v, ok := envInt(envPrefix + "API_PORT"); ok {
		cfg.API.Port = v
	}

	// InfluxDB
	if v := os.Getenv(envPrefix + "INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Security - JWT secret (always override in production)
	if v := os.Getenv(envPrefix + "JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// firstEnv returns the first non-empty value among the named variables.
func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// envInt reads an integer environment variable. Unset or malformed values
// report ok=false so the existing setting is kept.
func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.Retry.MaxAttempts < 0 {
		errs = append(errs, "database.retry.max_attempts must not be negative")
	}

	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Provisioning.Timeout <= 0 {
		errs = append(errs, "provisioning.timeout must be positive")
	}
	if c.Provisioning.BrokerPort < 0 || c.Provisioning.BrokerPort > 65535 {
		errs = append(errs, "provisioning.broker_port must be between 0 and 65535")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// Access tokens grant full control over the fleet, so the signing
	// secret must be present and long enough.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set COVCUBE_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
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

// GetProvisioningTimeout returns the bound on a single device handshake.
func (c *Config) GetProvisioningTimeout() time.Duration {
	return time.Duration(c.Provisioning.Timeout) * time.Second
}
