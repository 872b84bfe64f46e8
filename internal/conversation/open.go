package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverFile   = "file"
)

// Options selects and configures a Store backend.
type Options struct {
	Driver        string
	SQLitePath    string
	FileDir       string
	Redis         RedisOptions
	GetAttempts   int
	GetRetryDelay time.Duration
}

// Open builds the configured backend wrapped with Get retries.
func Open(ctx context.Context, opts Options) (Store, error) {
	var (
		store Store
		err   error
	)
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", DriverSQLite:
		if strings.TrimSpace(opts.SQLitePath) == "" {
			return nil, fmt.Errorf("sqlite path is required")
		}
		store, err = NewSQLiteStore(opts.SQLitePath)
	case DriverRedis:
		if strings.TrimSpace(opts.Redis.URL) == "" {
			return nil, fmt.Errorf("redis url is required")
		}
		store, err = NewRedisStore(ctx, opts.Redis)
	case DriverFile:
		if strings.TrimSpace(opts.FileDir) == "" {
			return nil, fmt.Errorf("file store directory is required")
		}
		store = NewFileStore(opts.FileDir)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}
	return WithGetRetry(store, opts.GetAttempts, opts.GetRetryDelay), nil
}
