package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vjranagit/minigraph/pkg/engine"
	"github.com/vjranagit/minigraph/pkg/history"
	"github.com/vjranagit/minigraph/pkg/storage"
	"github.com/vjranagit/minigraph/pkg/transport/kafka"
	"github.com/vjranagit/minigraph/pkg/transport/mqtt"
)

// envPrefix prefixes every environment override
const envPrefix = "MINIGRAPH_"

// History sources
const (
	SourceREST   = "rest"
	SourceInflux = "influx"
)

// Config holds the application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	History HistoryConfig `yaml:"history"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	Logging LoggingConfig `yaml:"logging"`
	Engine  EngineConfig  `yaml:"engine"`
	Card    engine.Config `yaml:"card"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	ListenAddr string        `yaml:"listen_addr"`
	Timeout    time.Duration `yaml:"timeout"`
	AccessLog  bool          `yaml:"access_log"`
}

// StorageConfig holds cache store configuration
type StorageConfig struct {
	Backend          string `yaml:"backend"`
	Path             string `yaml:"path"`
	CompressionLevel int    `yaml:"compression_level"`
	MemoryCapacity   int    `yaml:"memory_capacity"`
	RedisAddr        string `yaml:"redis_addr"`
	RedisDB          int    `yaml:"redis_db"`
	RedisPrefix      string `yaml:"redis_prefix"`
}

// HistoryConfig selects and configures the history source
type HistoryConfig struct {
	Source  string        `yaml:"source"`
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
	Influx  InfluxConfig  `yaml:"influx"`
}

// InfluxConfig locates entity history in InfluxDB
type InfluxConfig struct {
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"`
	Field       string `yaml:"field"`
	EntityTag   string `yaml:"entity_tag"`
}

// MQTTConfig holds broker settings
type MQTTConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Broker           string `yaml:"broker"`
	ClientID         string `yaml:"client_id"`
	Username         string `yaml:"username"`
	Password         string `yaml:"password"`
	StateTopicPrefix string `yaml:"state_topic_prefix"`
	FrameTopic       string `yaml:"frame_topic"`
	QoS              int    `yaml:"qos"`
}

// KafkaConfig holds frame publisher settings
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	Acks    int      `yaml:"acks"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// EngineConfig tunes the update engine
type EngineConfig struct {
	Debounce         time.Duration `yaml:"debounce"`
	FetchConcurrency int           `yaml:"fetch_concurrency"`
	Timezone         string        `yaml:"timezone"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			Timeout:    30 * time.Second,
			AccessLog:  true,
		},
		Storage: StorageConfig{
			Backend:          "badger",
			Path:             "./data",
			CompressionLevel: 3,
			MemoryCapacity:   256,
			RedisAddr:        "localhost:6379",
			RedisPrefix:      "minigraph:",
		},
		History: HistoryConfig{
			Source:  SourceREST,
			URL:     "http://localhost:8123",
			Timeout: 30 * time.Second,
			Influx: InfluxConfig{
				Field:     "value",
				EntityTag: "entity_id",
			},
		},
		MQTT: MQTTConfig{
			Broker:           "tcp://localhost:1883",
			ClientID:         "minigraph",
			StateTopicPrefix: "minigraph/states",
			FrameTopic:       "minigraph/frame",
			QoS:              1,
		},
		Kafka: KafkaConfig{
			Topic: "minigraph.frames",
			Acks:  -1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Engine: EngineConfig{
			Debounce:         time.Second,
			FetchConcurrency: 4,
			Timezone:         "Local",
		},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.Card.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies MINIGRAPH_SECTION_KEY variables
func (c *Config) applyEnvOverrides() {
	c.Server.ListenAddr = getEnv("SERVER_LISTEN_ADDR", c.Server.ListenAddr)

	c.Storage.Backend = getEnv("STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.Path = getEnv("STORAGE_PATH", c.Storage.Path)
	c.Storage.CompressionLevel = getEnvInt("COMPRESSION_LEVEL", c.Storage.CompressionLevel)
	c.Storage.RedisAddr = getEnv("REDIS_ADDR", c.Storage.RedisAddr)

	c.History.Source = getEnv("HISTORY_SOURCE", c.History.Source)
	c.History.URL = getEnv("HISTORY_URL", c.History.URL)
	c.History.Token = getEnv("HISTORY_TOKEN", c.History.Token)
	c.History.Influx.URL = getEnv("INFLUX_URL", c.History.Influx.URL)
	c.History.Influx.Token = getEnv("INFLUX_TOKEN", c.History.Influx.Token)

	c.MQTT.Enabled = getEnvBool("MQTT_ENABLED", c.MQTT.Enabled)
	c.MQTT.Broker = getEnv("MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.Username = getEnv("MQTT_USERNAME", c.MQTT.Username)
	c.MQTT.Password = getEnv("MQTT_PASSWORD", c.MQTT.Password)

	c.Kafka.Enabled = getEnvBool("KAFKA_ENABLED", c.Kafka.Enabled)
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		c.Kafka.Brokers = strings.Split(brokers, ",")
	}

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []error

	if c.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server listen address is required"))
	}

	switch c.Storage.Backend {
	case "badger", "sqlite":
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage path is required"))
		}
	case "memory":
	case "redis":
		if c.Storage.RedisAddr == "" {
			errs = append(errs, errors.New("redis address is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}
	if c.Storage.CompressionLevel < 1 || c.Storage.CompressionLevel > 4 {
		errs = append(errs, errors.New("compression level must be between 1 and 4"))
	}

	switch c.History.Source {
	case SourceREST:
		if c.History.URL == "" {
			errs = append(errs, errors.New("history url is required"))
		}
	case SourceInflux:
		if c.History.Influx.URL == "" || c.History.Influx.Bucket == "" || c.History.Influx.Measurement == "" {
			errs = append(errs, errors.New("influx url, bucket and measurement are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown history source %q", c.History.Source))
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			errs = append(errs, errors.New("mqtt broker is required"))
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, errors.New("mqtt qos must be between 0 and 2"))
		}
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		errs = append(errs, errors.New("kafka brokers and topic are required"))
	}

	if c.Engine.FetchConcurrency < 1 {
		errs = append(errs, errors.New("fetch concurrency must be at least 1"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}

	if err := c.Card.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("card: %w", err))
	}

	return errors.Join(errs...)
}

// Location resolves the display timezone
func (c *Config) Location() (*time.Location, error) {
	if c.Engine.Timezone == "" || c.Engine.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Engine.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Engine.Timezone, err)
	}
	return loc, nil
}

// ToStorageConfig converts to storage.Config
func (c *Config) ToStorageConfig() *storage.Config {
	return &storage.Config{
		Backend:          c.Storage.Backend,
		Path:             c.Storage.Path,
		CompressionLevel: c.Storage.CompressionLevel,
		MemoryCapacity:   c.Storage.MemoryCapacity,
		RedisAddr:        c.Storage.RedisAddr,
		RedisDB:          c.Storage.RedisDB,
		RedisPrefix:      c.Storage.RedisPrefix,
	}
}

// ToInfluxConfig converts to history.InfluxConfig
func (c *Config) ToInfluxConfig() history.InfluxConfig {
	in := c.History.Influx
	return history.InfluxConfig{
		URL:         in.URL,
		Token:       in.Token,
		Org:         in.Org,
		Bucket:      in.Bucket,
		Measurement: in.Measurement,
		Field:       in.Field,
		EntityTag:   in.EntityTag,
	}
}

// ToMQTTConfig converts to mqtt.Config
func (c *Config) ToMQTTConfig() mqtt.Config {
	return mqtt.Config{
		Broker:           c.MQTT.Broker,
		ClientID:         c.MQTT.ClientID,
		Username:         c.MQTT.Username,
		Password:         c.MQTT.Password,
		StateTopicPrefix: c.MQTT.StateTopicPrefix,
		FrameTopic:       c.MQTT.FrameTopic,
		QoS:              byte(c.MQTT.QoS),
	}
}

// ToKafkaConfig converts to kafka.Config, keyed by the card name
func (c *Config) ToKafkaConfig() kafka.Config {
	key := c.Card.Name
	if key == "" && len(c.Card.Entities) > 0 {
		key = c.Card.Entities[0].Entity
	}
	return kafka.Config{
		Brokers: c.Kafka.Brokers,
		Topic:   c.Kafka.Topic,
		Key:     key,
		Acks:    c.Kafka.Acks,
	}
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(envPrefix + key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
