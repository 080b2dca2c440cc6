// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, RPC, Postgres, Kafka, Redis, Assignment, Formations, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	RPC        RPCConfig         `yaml:"rpc"`
	Postgres   PostgresConfig    `yaml:"postgres"`
	Kafka      KafkaConfig       `yaml:"kafka"`
	Redis      RedisConfig       `yaml:"redis"`
	Assignment AssignmentConfig  `yaml:"assignment"`
	Formations []FormationConfig `yaml:"formations"`
	RateLimit  RateLimitConfig   `yaml:"rateLimit"`
	Logging    LoggingConfig     `yaml:"logging"`
	Tracing    TracingConfig     `yaml:"tracing"`
	Metrics    MetricsConfig     `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// RPCConfig holds the JSON-over-TCP listener used by robot controllers.
type RPCConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// PostgresConfig holds PostgreSQL connection parameters. An empty Host
// disables persistence and the service keeps formations in memory.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
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
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	AnalyticsEvents string `yaml:"analyticsEvents"`
	Assignments     string `yaml:"assignments"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// AssignmentConfig bounds request sizes and toggles the optional side
// channels around the matcher.
type AssignmentConfig struct {
	MaxAgents        int           `yaml:"maxAgents"`
	MaxBatchSize     int           `yaml:"maxBatchSize"`
	BatchConcurrency int           `yaml:"batchConcurrency"`
	CacheEnabled     bool          `yaml:"cacheEnabled"`
	PublishResults   bool          `yaml:"publishResults"`
	PublishBatchSize int           `yaml:"publishBatchSize"`
	PublishInterval  time.Duration `yaml:"publishInterval"`
	StoreTimeout     time.Duration `yaml:"storeTimeout"`
}

// FormationConfig is a named formation seeded into the registry at startup.
type FormationConfig struct {
	Name  string      `yaml:"name"`
	Slots [][]float64 `yaml:"slots"`
}

// RateLimitConfig controls per-client request throttling.
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerWindow int           `yaml:"requestsPerWindow"`
	Window            time.Duration `yaml:"window"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls span logging for assignment requests.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	SampleRate float64 `yaml:"sampleRate"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
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
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Assignment.MaxAgents < 1 {
		return fmt.Errorf("assignment.maxAgents must be positive, got %d", c.Assignment.MaxAgents)
	}
	if c.Assignment.BatchConcurrency < 1 {
		return fmt.Errorf("assignment.batchConcurrency must be positive, got %d", c.Assignment.BatchConcurrency)
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerWindow < 1 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("rateLimit requires a positive requestsPerWindow and window")
	}
	return nil
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		RPC: RPCConfig{
			Enabled: true,
			Port:    9000,
		},
		Postgres: PostgresConfig{
			Host:            "",
			Port:            5432,
			Database:        "formations",
			User:            "formations",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "formation-assignment",
			Topics: KafkaTopics{
				AnalyticsEvents: "assignment-analytics",
				Assignments:     "assignments",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 30 * time.Second,
		},
		Assignment: AssignmentConfig{
			MaxAgents:        64,
			MaxBatchSize:     32,
			BatchConcurrency: 4,
			CacheEnabled:     true,
			PublishResults:   false,
			PublishBatchSize: 50,
			PublishInterval:  200 * time.Millisecond,
			StoreTimeout:     2 * time.Second,
		},
		Formations: []FormationConfig{
			{
				Name:  "kickoff",
				Slots: [][]float64{{-14, 0}, {-9, -5}, {-9, 5}, {-4, -2}, {-4, 2}},
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerWindow: 600,
			Window:            time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads FA_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FA_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FA_RPC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.RPC.Port = port
		}
	}
	if v := os.Getenv("FA_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("FA_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("FA_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("FA_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("FA_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("FA_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("FA_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("FA_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("FA_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("FA_ASSIGNMENT_MAX_AGENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Assignment.MaxAgents = n
		}
	}
	if v := os.Getenv("FA_ASSIGNMENT_CACHE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Assignment.CacheEnabled = b
		}
	}
	if v := os.Getenv("FA_ASSIGNMENT_PUBLISH_RESULTS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Assignment.PublishResults = b
		}
	}
	if v := os.Getenv("FA_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FA_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
