// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Backend, Search, etc.).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override, e.g. VS_SERVER_PORT.
const EnvPrefix = "VS"

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Backend   BackendConfig   `yaml:"backend"`
	Search    SearchConfig    `yaml:"search"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Analytics AnalyticsConfig `yaml:"analytics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout" split_words:"true"`
	WriteTimeout    time.Duration `yaml:"writeTimeout" split_words:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" split_words:"true"`
}

// PostgresConfig holds connection parameters for the sample registry and
// reference annotation database.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode" split_words:"true"`
	MaxOpenConns    int           `yaml:"maxOpenConns" split_words:"true"`
	MaxIdleConns    int           `yaml:"maxIdleConns" split_words:"true"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime" split_words:"true"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup" split_words:"true"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	SearchEvents string `yaml:"searchEvents" split_words:"true"`
}

// RedisConfig holds Redis connection parameters for the session store.
// A zero SessionTTL keeps sessions until they are overwritten.
type RedisConfig struct {
	Addr       string        `yaml:"addr"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	PoolSize   int           `yaml:"poolSize" split_words:"true"`
	SessionTTL time.Duration `yaml:"sessionTTL" split_words:"true"`
}

// BackendConfig locates the remote variant search engine.
type BackendConfig struct {
	URL string `yaml:"url"`
}

// SearchConfig holds the query compiler limits.
type SearchConfig struct {
	DefaultPageSize              int    `yaml:"defaultPageSize" split_words:"true"`
	MaxPageSize                  int    `yaml:"maxPageSize" split_words:"true"`
	MaxNoLocationCompHetFamilies int    `yaml:"maxNoLocationCompHetFamilies" split_words:"true"`
	MaxPhenotypeRank             int    `yaml:"maxPhenotypeRank" split_words:"true"`
	SessionStore                 string `yaml:"sessionStore" split_words:"true"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// AnalyticsConfig controls search event batching in the searcher and
// snapshotting in the analytics service. A zero SnapshotInterval disables
// snapshots.
type AnalyticsConfig struct {
	BatchSize        int           `yaml:"batchSize" split_words:"true"`
	FlushInterval    time.Duration `yaml:"flushInterval" split_words:"true"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval" split_words:"true"`
}

// Session store backends accepted by SearchConfig.SessionStore.
const (
	SessionStoreMemory = "memory"
	SessionStoreRedis  = "redis"
)

// Load reads a YAML config file (if provided) and applies VS_* environment
// overrides. Missing values keep their defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url is required")
	}
	if c.Search.DefaultPageSize <= 0 {
		return fmt.Errorf("search.defaultPageSize must be positive, got %d", c.Search.DefaultPageSize)
	}
	if c.Search.MaxPageSize < c.Search.DefaultPageSize {
		return fmt.Errorf("search.maxPageSize (%d) must be at least defaultPageSize (%d)",
			c.Search.MaxPageSize, c.Search.DefaultPageSize)
	}
	if c.Search.MaxNoLocationCompHetFamilies < 0 {
		return fmt.Errorf("search.maxNoLocationCompHetFamilies must not be negative")
	}
	switch c.Search.SessionStore {
	case SessionStoreMemory, SessionStoreRedis:
	default:
		return fmt.Errorf("search.sessionStore must be %q or %q, got %q",
			SessionStoreMemory, SessionStoreRedis, c.Search.SessionStore)
	}
	return nil
}

// defaultConfig returns a Config with defaults for local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "variantsearch",
			User:            "variantsearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Enabled:       false,
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "variantsearch-analytics",
			Topics: KafkaTopics{
				SearchEvents: "variant-search-events",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Backend: BackendConfig{
			URL: "http://hail-search:5000",
		},
		Search: SearchConfig{
			DefaultPageSize:              100,
			MaxPageSize:                  10000,
			MaxNoLocationCompHetFamilies: 100,
			MaxPhenotypeRank:             100,
			SessionStore:                 SessionStoreMemory,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		Analytics: AnalyticsConfig{
			BatchSize:        100,
			FlushInterval:    5 * time.Second,
			SnapshotInterval: time.Minute,
		},
	}
}
