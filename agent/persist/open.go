package persist

import (
	"context"
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
)

const (
	BackendFile     = "file"
	BackendUpstash  = "upstash"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

type Config struct {
	Backend   string        `envconfig:"BACKEND" split_words:"true" default:"file"`
	DataDir   string        `envconfig:"DATA_DIR" split_words:"true" default:"./data"`
	KeyPrefix string        `envconfig:"KEY_PREFIX" split_words:"true" default:"vpa:record:"`
	TTL       time.Duration `envconfig:"TTL" split_words:"true" default:"0s"`

	Upstash  UpstashConfig  `envconfig:"UPSTASH"`
	Redis    RedisConfig    `envconfig:"REDIS"`
	Postgres PostgresConfig `envconfig:"POSTGRES"`
	SQLite   SQLiteConfig   `envconfig:"SQLITE"`
}

// Validate checks the section of the selected backend only.
func (c Config) Validate() error {
	if c.TTL < 0 {
		return fmt.Errorf("%w: store ttl must be >= 0", contractx.ErrValidation)
	}
	var missing string
	switch strings.ToLower(strings.TrimSpace(c.Backend)) {
	case "", BackendFile:
		if strings.TrimSpace(c.DataDir) == "" {
			missing = "STORE_DATA_DIR"
		}
	case BackendUpstash:
		switch {
		case strings.TrimSpace(c.Upstash.URL) == "":
			missing = "STORE_UPSTASH_URL"
		case strings.TrimSpace(c.Upstash.Token) == "":
			missing = "STORE_UPSTASH_TOKEN"
		}
	case BackendRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			missing = "STORE_REDIS_ADDR"
		}
	case BackendPostgres:
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			missing = "STORE_POSTGRES_DSN"
		}
	case BackendSQLite:
		if strings.TrimSpace(c.SQLite.Path) == "" {
			missing = "STORE_SQLITE_PATH"
		}
	default:
		return fmt.Errorf("%w: unknown store backend %q", contractx.ErrValidation, c.Backend)
	}
	if missing != "" {
		return fmt.Errorf("%w: %s backend needs %s", contractx.ErrValidation, c.Backend, missing)
	}
	return nil
}

// Open builds the backend named by cfg.Backend.
func Open(ctx context.Context, cfg Config) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendFile:
		return NewFileBackend(cfg.DataDir)
	case BackendUpstash:
		return NewUpstashBackend(cfg.Upstash, WithKeyPrefix(cfg.KeyPrefix), WithTTL(cfg.TTL))
	case BackendRedis:
		return NewRedisBackend(ctx, cfg.Redis, cfg.KeyPrefix, cfg.TTL)
	case BackendPostgres:
		db, err := OpenPostgres(cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return NewSQLBackend(ctx, db)
	case BackendSQLite:
		db, err := OpenSQLite(cfg.SQLite)
		if err != nil {
			return nil, err
		}
		return NewSQLBackend(ctx, db)
	default:
		return nil, fmt.Errorf("%w: unknown store backend %q", contractx.ErrValidation, cfg.Backend)
	}
}
