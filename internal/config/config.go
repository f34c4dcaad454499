package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

// Config holds all application configuration
type Config struct {
	// Server settings
	ServerPort    int    `env:"SERVER_PORT" envDefault:"3002"`
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:"0.0.0.0"`
	Environment   string `env:"ENVIRONMENT" envDefault:"local"`
	Debug         bool   `env:"DEBUG" envDefault:"false"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	// Database settings
	Database DatabaseConfig

	// Graph write-path settings
	Graph GraphConfig

	// Import processing settings
	Imports ImportsConfig

	// Server timeouts
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"300s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"300s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host         string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port         int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User         string        `env:"POSTGRES_USER" envDefault:"basalt"`
	Password     string        `env:"POSTGRES_PASSWORD" envDefault:""`
	Database     string        `env:"POSTGRES_DB" envDefault:"basalt"`
	SSLMode      string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	MaxIdleTime  time.Duration `env:"DB_MAX_IDLE_TIME" envDefault:"5m"`
	QueryDebug   bool          `env:"DB_QUERY_DEBUG" envDefault:"false"`
	AutoMigrate  bool          `env:"DB_AUTO_MIGRATE" envDefault:"true"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// GraphConfig holds settings for the graph write path
type GraphConfig struct {
	// EnforceEdgeTemporalOrder rejects edges created before either endpoint
	// node revision. Off by default: bulk loaders routinely send edges and
	// nodes with interleaved timestamps.
	EnforceEdgeTemporalOrder bool `env:"GRAPH_ENFORCE_EDGE_TEMPORAL_ORDER" envDefault:"false"`

	// BulkChunkSize caps the number of rows per bulk insert statement
	BulkChunkSize int `env:"GRAPH_BULK_CHUNK_SIZE" envDefault:"500"`
}

// ImportsConfig holds import processing and janitor settings
type ImportsConfig struct {
	// WorkerInterval is the polling interval for the import worker
	WorkerInterval time.Duration `env:"IMPORT_WORKER_INTERVAL" envDefault:"5s"`
	// WorkerBatchSize is the number of imports to claim per poll
	WorkerBatchSize int `env:"IMPORT_WORKER_BATCH_SIZE" envDefault:"10"`
	// StaleThresholdMinutes is how long an import may sit in 'processing'
	// before the janitor re-queues it
	StaleThresholdMinutes int `env:"IMPORT_STALE_THRESHOLD_MINUTES" envDefault:"10"`
	// JanitorSchedule is the cron expression for the staging janitor
	JanitorSchedule string `env:"IMPORT_JANITOR_SCHEDULE" envDefault:"*/10 * * * *"`
	// StagingRetention is how long promoted staging rows for completed
	// imports may linger before the janitor purges them
	StagingRetention time.Duration `env:"IMPORT_STAGING_RETENTION" envDefault:"24h"`
}

// NewConfig loads configuration from environment variables
func NewConfig(log *slog.Logger) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	log.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.ServerPort),
		slog.String("db_host", cfg.Database.Host),
	)

	return cfg, nil
}
