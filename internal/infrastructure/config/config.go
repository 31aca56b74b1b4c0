package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names recognised by Load.
//
// The DB_* names are the historical deployment contract for the database
// credentials and are kept verbatim so existing env files keep working.
const (
	EnvConfigPath = "MQTT2INFLUX_CONFIG"
	EnvEnvFile    = "MQTT2INFLUX_ENV_FILE"

	EnvInfluxURL    = "DB_SERVER_HOST"
	EnvInfluxToken  = "DB_SERVER_TOKEN"
	EnvInfluxOrg    = "DB_ORG"
	EnvInfluxBucket = "DB_BUCKET"

	EnvMQTTHost     = "MQTT2INFLUX_MQTT_HOST"
	EnvMQTTPort     = "MQTT2INFLUX_MQTT_PORT"
	EnvMQTTUsername = "MQTT2INFLUX_MQTT_USERNAME"
	EnvMQTTPassword = "MQTT2INFLUX_MQTT_PASSWORD"
	EnvDatabasePath = "MQTT2INFLUX_DATABASE_PATH"
	EnvLogLevel     = "MQTT2INFLUX_LOG_LEVEL"
)

// Config is the root configuration structure for the bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge   BridgeConfig   `yaml:"bridge"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// BridgeConfig controls the message loop.
type BridgeConfig struct {
	// Workers is the number of delivery workers. 1 keeps the loop strictly
	// sequential: a message is fully delivered before the next is read.
	Workers int `yaml:"workers"`

	// QueueSize bounds each worker's queue when Workers > 1.
	QueueSize int `yaml:"queue_size"`

	// FailFast stops the bridge on the first undecodable payload
	// (invalid UTF-8 or missing "value") instead of dropping the message.
	FailFast bool `yaml:"fail_fast"`

	// IgnoreTopics lists exact topics that are never decoded.
	IgnoreTopics []string `yaml:"ignore_topics"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker         MQTTBrokerConfig `yaml:"broker"`
	Auth           MQTTAuthConfig   `yaml:"auth"`
	QoS            int              `yaml:"qos"`
	SubscribeTopic string           `yaml:"subscribe_topic"`
	StatusTopic    string           `yaml:"status_topic"`
	BufferSize     int              `yaml:"buffer_size"`
	// EnqueueTimeout is how long, in seconds, a message waits for room in
	// a full buffer before it is dropped. 0 waits indefinitely.
	EnqueueTimeout int                 `yaml:"enqueue_timeout"`
	Reconnect      MQTTReconnectConfig `yaml:"reconnect"`
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains the InfluxDB v2 write session settings.
type InfluxDBConfig struct {
	URL       string `yaml:"url"`
	Token     string `yaml:"token"`
	Org       string `yaml:"org"`
	Bucket    string `yaml:"bucket"`
	Precision string `yaml:"precision"`
	// Timeout bounds a single delivery, in seconds.
	Timeout int `yaml:"timeout"`
	// Transport selects the write path: "http" or "client".
	Transport string `yaml:"transport"`
}

// DatabaseConfig contains the SQLite dead-letter journal settings.
type DatabaseConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	WALMode       bool   `yaml:"wal_mode"`
	BusyTimeout   int    `yaml:"busy_timeout"`
	RetentionDays int    `yaml:"retention_days"`
}

// APIConfig contains the status HTTP server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
// When Path is set, log output is written to the file as well as Output.
type FileLoggingConfig struct {
	Path string `yaml:"path"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Env file values (see LoadEnvFile)
//  4. Process environment variables (override everything)
//
// Parameters:
//   - path: Path to the YAML configuration file
//   - envFile: Variables parsed from an env file, may be nil
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string, envFile map[string]string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg, layeredLookup(envFile))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			Workers:   1,
			QueueSize: 100,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "mqtt2influx",
			},
			QoS:            0,
			SubscribeTopic: "#",
			BufferSize:     200,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			Precision: "s",
			Timeout:   10,
			Transport: "http",
		},
		Database: DatabaseConfig{
			Path:          "./data/deadletter.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 7,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 9273,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
	}
}

// lookupFunc resolves an environment variable.
type lookupFunc func(key string) (string, bool)

// layeredLookup returns a lookup that prefers the process environment and
// falls back to the env file values.
func layeredLookup(envFile map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := envFile[key]
		return v, ok
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config, lookup lookupFunc) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	// InfluxDB
	set(EnvInfluxURL, &cfg.InfluxDB.URL)
	set(EnvInfluxToken, &cfg.InfluxDB.Token)
	set(EnvInfluxOrg, &cfg.InfluxDB.Org)
	set(EnvInfluxBucket, &cfg.InfluxDB.Bucket)

	// MQTT
	set(EnvMQTTHost, &cfg.MQTT.Broker.Host)
	set(EnvMQTTUsername, &cfg.MQTT.Auth.Username)
	set(EnvMQTTPassword, &cfg.MQTT.Auth.Password)
	if v, ok := lookup(EnvMQTTPort); ok && v != "" {
		// An unparsable port is left for Validate to reject.
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		} else {
			cfg.MQTT.Broker.Port = -1
		}
	}

	set(EnvDatabasePath, &cfg.Database.Path)
	set(EnvLogLevel, &cfg.Logging.Level)
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Bridge
	if c.Bridge.Workers < 1 {
		errs = append(errs, "bridge.workers must be at least 1")
	}
	if c.Bridge.Workers > 1 && c.Bridge.QueueSize < 1 {
		errs = append(errs, "bridge.queue_size must be at least 1 when workers > 1")
	}

	// MQTT
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.SubscribeTopic == "" {
		errs = append(errs, "mqtt.subscribe_topic is required")
	}
	if c.MQTT.BufferSize < 0 {
		errs = append(errs, "mqtt.buffer_size must not be negative")
	}
	if c.MQTT.EnqueueTimeout < 0 {
		errs = append(errs, "mqtt.enqueue_timeout must not be negative")
	}

	// InfluxDB
	if c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required (set "+EnvInfluxURL+")")
	}
	if c.InfluxDB.Token == "" {
		errs = append(errs, "influxdb.token is required (set "+EnvInfluxToken+")")
	}
	if c.InfluxDB.Org == "" {
		errs = append(errs, "influxdb.org is required (set "+EnvInfluxOrg+")")
	}
	if c.InfluxDB.Bucket == "" {
		errs = append(errs, "influxdb.bucket is required (set "+EnvInfluxBucket+")")
	}
	switch strings.ToLower(c.InfluxDB.Precision) {
	case "s", "seconds":
	default:
		errs = append(errs, fmt.Sprintf("influxdb.precision %q is not supported (use \"s\")", c.InfluxDB.Precision))
	}
	if c.InfluxDB.Timeout < 1 {
		errs = append(errs, "influxdb.timeout must be at least 1 second")
	}
	switch c.InfluxDB.Transport {
	case "http", "client":
	default:
		errs = append(errs, fmt.Sprintf("influxdb.transport %q must be \"http\" or \"client\"", c.InfluxDB.Transport))
	}

	// Database
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database.enabled is true")
	}

	// API
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DeliveryTimeout bounds a single InfluxDB write.
func (c InfluxDBConfig) DeliveryTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// ReadTimeout is the status server's read and read-header timeout.
func (c APIConfig) ReadTimeout() time.Duration {
	return time.Duration(c.Timeouts.Read) * time.Second
}

// WriteTimeout is the status server's response write timeout.
func (c APIConfig) WriteTimeout() time.Duration {
	return time.Duration(c.Timeouts.Write) * time.Second
}

// IdleTimeout is how long the status server keeps idle connections open.
func (c APIConfig) IdleTimeout() time.Duration {
	return time.Duration(c.Timeouts.Idle) * time.Second
}
