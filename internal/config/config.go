// internal/config/config.go
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel       string `mapstructure:"LOG_LEVEL"`
	HTTPAddr       string `mapstructure:"HTTP_ADDR"`
	DBURL          string `mapstructure:"DB_URL"`
	MigrationsPath string `mapstructure:"MIGRATIONS_PATH"`

	GithubToken          string        `mapstructure:"GITHUB_TOKEN"`
	GithubBaseURL        string        `mapstructure:"GITHUB_BASE_URL"`
	GithubPageSize       int           `mapstructure:"GITHUB_PAGE_SIZE"`
	GithubRateLimit      float64       `mapstructure:"GITHUB_RATE_LIMIT"`
	GithubRateBurst      int           `mapstructure:"GITHUB_RATE_BURST"`
	GithubRequestTimeout time.Duration `mapstructure:"GITHUB_REQUEST_TIMEOUT"`

	SeedRepository   string        `mapstructure:"SEED_REPOSITORY"`
	SweepInterval    time.Duration `mapstructure:"SWEEP_INTERVAL"`
	SweepBatchSize   int           `mapstructure:"SWEEP_BATCH_SIZE"`
	RepoTimeout      time.Duration `mapstructure:"REPO_TIMEOUT"`
	MaxCatchUpRounds int           `mapstructure:"MAX_CATCH_UP_ROUNDS"`

	NatsURL           string        `mapstructure:"NATS_URL"`
	NatsStoreDir      string        `mapstructure:"NATS_STORE_DIR"`
	QueueMaxDeliver   int           `mapstructure:"QUEUE_MAX_DELIVER"`
	QueueAckWait      time.Duration `mapstructure:"QUEUE_ACK_WAIT"`
	WorkerConcurrency int           `mapstructure:"WORKER_CONCURRENCY"`
	WorkerTimeout     time.Duration `mapstructure:"WORKER_TIMEOUT"`

	RedisURL      string        `mapstructure:"REDIS_URL"`
	CacheTTL      time.Duration `mapstructure:"CACHE_TTL"`
	CacheFastPath bool          `mapstructure:"CACHE_FAST_PATH"`
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("MIGRATIONS_PATH", "file://migrations")
	v.SetDefault("GITHUB_PAGE_SIZE", 100)
	v.SetDefault("GITHUB_RATE_LIMIT", 1.0)
	v.SetDefault("GITHUB_RATE_BURST", 5)
	v.SetDefault("GITHUB_REQUEST_TIMEOUT", "30s")
	v.SetDefault("SEED_REPOSITORY", "chromium/chromium")
	v.SetDefault("SWEEP_INTERVAL", "1h")
	v.SetDefault("SWEEP_BATCH_SIZE", 50)
	v.SetDefault("REPO_TIMEOUT", "10m")
	v.SetDefault("MAX_CATCH_UP_ROUNDS", 3)
	v.SetDefault("NATS_STORE_DIR", "data/nats")
	v.SetDefault("QUEUE_MAX_DELIVER", 3)
	v.SetDefault("QUEUE_ACK_WAIT", "15m")
	v.SetDefault("WORKER_CONCURRENCY", 4)
	v.SetDefault("WORKER_TIMEOUT", "5m")
	v.SetDefault("CACHE_TTL", "24h")
	v.SetDefault("CACHE_FAST_PATH", false)

	// Load from .env file if it exists
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // Ignore error if file not found

	// Bind environment variables. Keys without a default are bound explicitly so that
	// Unmarshal sees them.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.AllowEmptyEnv(true) // SEED_REPOSITORY="" disables seeding
	for _, key := range []string{"DB_URL", "GITHUB_TOKEN", "GITHUB_BASE_URL", "NATS_URL", "REDIS_URL"} {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.DBURL == "" {
		return errors.New("DB_URL is a required configuration field")
	}
	if c.SweepInterval <= 0 {
		return errors.New("SWEEP_INTERVAL must be a positive duration")
	}
	if c.SweepBatchSize <= 0 {
		return errors.New("SWEEP_BATCH_SIZE must be positive")
	}
	if c.GithubPageSize <= 0 || c.GithubPageSize > 100 {
		return errors.New("GITHUB_PAGE_SIZE must be between 1 and 100")
	}
	if c.GithubRateLimit <= 0 {
		return errors.New("GITHUB_RATE_LIMIT must be positive")
	}
	if c.MaxCatchUpRounds <= 0 {
		return errors.New("MAX_CATCH_UP_ROUNDS must be positive")
	}
	if c.WorkerConcurrency <= 0 {
		return errors.New("WORKER_CONCURRENCY must be positive")
	}
	if c.QueueMaxDeliver == 0 || c.QueueMaxDeliver < -1 {
		return errors.New("QUEUE_MAX_DELIVER must be positive, or -1 for unlimited")
	}
	// A job still running when its ack wait runs out is redelivered to another worker.
	if c.QueueAckWait <= 0 {
		return errors.New("QUEUE_ACK_WAIT must be a positive duration")
	}
	if c.RepoTimeout <= 0 || c.RepoTimeout >= c.QueueAckWait {
		return errors.New("REPO_TIMEOUT must be positive and shorter than QUEUE_ACK_WAIT")
	}
	if c.WorkerTimeout <= 0 || c.WorkerTimeout >= c.QueueAckWait {
		return errors.New("WORKER_TIMEOUT must be positive and shorter than QUEUE_ACK_WAIT")
	}
	return nil
}
