package domain

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment variable read by LoadConfig.
const EnvPrefix = "COURTKEEPER"

// Config holds the complete Courtkeeper configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Edition determines feature availability
	Edition Edition `json:"edition"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`
	Audit      AuditConfig      `json:"audit"`
	Engine     EngineConfig     `json:"engine"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" envconfig:"HOST"`
	Port         int    `json:"port" envconfig:"PORT"`
	ReadTimeout  int    `json:"readTimeout" envconfig:"READ_TIMEOUT"`   // seconds
	WriteTimeout int    `json:"writeTimeout" envconfig:"WRITE_TIMEOUT"` // seconds

	// Per-client request rate; zero disables limiting.
	RateLimitPerSecond float64 `json:"rateLimitPerSecond" envconfig:"RATE_LIMIT_RPS"`
	RateLimitBurst     int     `json:"rateLimitBurst" envconfig:"RATE_LIMIT_BURST"`
}

// EngineConfig holds rule engine and worker settings.
type EngineConfig struct {
	// ResultTTL is how long evaluation results stay retrievable by id.
	ResultTTL time.Duration `json:"resultTtl" envconfig:"RESULT_TTL"`

	// AsyncWorker enables the event bus consumer.
	AsyncWorker bool `json:"asyncWorker" envconfig:"ASYNC_WORKER"`

	// FacilityIDs the worker subscribes for; empty subscribes globally.
	FacilityIDs []string `json:"facilityIds" envconfig:"WORKER_FACILITIES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" envconfig:"LOG_LEVEL"`   // debug, info, warn, error
	Format string `json:"format" envconfig:"LOG_FORMAT"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled" envconfig:"TRACING_ENABLED"`
	ServiceName  string `json:"serviceName" envconfig:"TRACING_SERVICE_NAME"`
	ExporterType string `json:"exporterType" envconfig:"TRACING_EXPORTER"` // otlp
	Endpoint     string `json:"endpoint" envconfig:"TRACING_ENDPOINT"`
	Insecure     bool   `json:"insecure" envconfig:"TRACING_INSECURE"`
}

// Edition represents the product edition.
type Edition string

const (
	// EditionCommunity is the free edition with SQLite + channels
	EditionCommunity Edition = "community"

	// EditionPro is the paid edition with PostgreSQL + NATS + Redis
	EditionPro Edition = "pro"
)

// DefaultConfig returns a default configuration for the Community edition.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8080,
			ReadTimeout:        30,
			WriteTimeout:       30,
			RateLimitPerSecond: 50,
			RateLimitBurst:     100,
		},
		Edition: EditionCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./courtkeeper.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Audit: AuditConfig{
			Sink: "sql",
		},
		Engine: EngineConfig{
			ResultTTL: 15 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "courtkeeper",
		},
	}
}

// ProConfig returns a configuration for the Pro edition.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Edition = EditionPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "courtkeeper",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Engine.AsyncWorker = true
	cfg.Tracing.Enabled = true
	cfg.Tracing.ExporterType = "otlp"
	cfg.Tracing.Endpoint = "localhost:4318"
	cfg.Tracing.Insecure = true
	return cfg
}

// LoadConfig builds the configuration from defaults, an optional .env file
// and COURTKEEPER_* environment variables.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	cfg := DefaultConfig()
	if Edition(os.Getenv(EnvPrefix+"_EDITION")) == EditionPro {
		cfg = ProConfig()
	}

	sections := []any{
		&cfg.Server,
		&cfg.Repository,
		&cfg.Cache,
		&cfg.EventBus,
		&cfg.Audit,
		&cfg.Engine,
		&cfg.Logging,
		&cfg.Tracing,
	}
	for _, section := range sections {
		if err := envconfig.Process(EnvPrefix, section); err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
	}

	return cfg, nil
}
