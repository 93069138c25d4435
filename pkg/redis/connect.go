package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds the Redis connection settings. Zero fields take the values
// of DefaultConfig.
type Config struct {
	// URL uses the redis:// or rediss:// (TLS) scheme.
	URL string `yaml:"url" env:"URL"`

	PoolSize     int           `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int           `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	MaxIdleTime  time.Duration `yaml:"max_idle_time" env:"MAX_IDLE_TIME"`

	RetryAttempts int           `yaml:"retry_attempts" env:"RETRY_ATTEMPTS"`
	RetryInterval time.Duration `yaml:"retry_interval" env:"RETRY_INTERVAL"`

	DialTimeout time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
	// IOTimeout applies to both reads and writes.
	IOTimeout time.Duration `yaml:"io_timeout" env:"IO_TIMEOUT"`
}

// DefaultConfig returns the connection defaults.
func DefaultConfig() Config {
	return Config{
		PoolSize:      10,
		MinIdleConns:  2,
		MaxIdleTime:   10 * time.Minute,
		RetryAttempts: 3,
		RetryInterval: 5 * time.Second,
		DialTimeout:   5 * time.Second,
		IOTimeout:     3 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PoolSize <= 0 {
		c.PoolSize = d.PoolSize
	}
	if c.MinIdleConns < 0 {
		c.MinIdleConns = 0
	}
	if c.MaxIdleTime <= 0 {
		c.MaxIdleTime = d.MaxIdleTime
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = d.RetryAttempts
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = d.RetryInterval
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.IOTimeout <= 0 {
		c.IOTimeout = d.IOTimeout
	}
	return c
}

// Open creates a client and verifies it with PING, retrying on failure.
func Open(ctx context.Context, cfg Config) (redis.UniversalClient, error) {
	if cfg.URL == "" {
		return nil, ErrNoURL
	}
	if !strings.HasPrefix(cfg.URL, "redis://") && !strings.HasPrefix(cfg.URL, "rediss://") {
		return nil, ErrParseURL
	}
	cfg = cfg.withDefaults()

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Join(ErrParseURL, err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.ConnMaxIdleTime = cfg.MaxIdleTime
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.IOTimeout
	opts.WriteTimeout = cfg.IOTimeout

	return connect(ctx, opts, cfg.RetryAttempts, cfg.RetryInterval)
}

// connect pings a fresh client per attempt, waiting attempt*interval between
// attempts.
func connect(ctx context.Context, opts *redis.Options, attempts int, interval time.Duration) (redis.UniversalClient, error) {
	var lastErr error
	for i := range attempts {
		client := redis.NewClient(opts)
		lastErr = client.Ping(ctx).Err()
		if lastErr == nil {
			return client, nil
		}
		_ = client.Close()

		if i == attempts-1 {
			break
		}
		if err := wait(ctx, time.Duration(i+1)*interval); err != nil {
			return nil, errors.Join(ErrConnect, err)
		}
	}
	return nil, errors.Join(ErrConnect, lastErr)
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
