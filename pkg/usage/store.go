package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"mercator-hq/relay/pkg/clock"
	"mercator-hq/relay/pkg/config"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("usage store closed")

// ErrNotNumeric is returned when a numeric read hits a non-numeric value.
var ErrNotNumeric = errors.New("usage value is not numeric")

// Store is the counter and record store used by the limiter.
// Implementations must be safe for concurrent use.
type Store interface {
	// Increment atomically adds amount to key, sets the key's TTL and returns
	// the new value. A missing or expired key counts as zero.
	Increment(ctx context.Context, key string, amount float64, ttl time.Duration) (float64, error)

	// Get returns the numeric value of key, or 0 when it is absent.
	Get(ctx context.Context, key string) (float64, error)

	// Load returns the raw value of key and whether it exists.
	Load(ctx context.Context, key string) ([]byte, bool, error)

	// SetWithTTL stores value under key. A zero ttl never expires.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// KeysMatching returns live keys matching a glob pattern (*, ?, [...]).
	KeysMatching(ctx context.Context, pattern string) ([]string, error)

	// Delete removes keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases resources. The store must not be used afterwards.
	Close() error
}

// Sweepable is implemented by stores that need expired keys removed
// explicitly.
type Sweepable interface {
	Sweep(ctx context.Context) (int, error)
}

// Option configures a store.
type Option func(*options)

type options struct {
	clock  clock.Clock
	logger *slog.Logger
}

// WithClock sets the time source used for expiry. Defaults to the real clock.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(component string, opts []Option) options {
	o := options{clock: clock.Real{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With("component", component)
	return o
}

// Open creates the store selected by cfg.Backend.
func Open(cfg config.UsageStoreConfig, opts ...Option) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(opts...), nil
	case "sqlite":
		return NewSQLiteStore(SQLiteConfig{
			Path:        cfg.SQLite.Path,
			BusyTimeout: cfg.SQLite.BusyTimeout,
			Driver:      cfg.SQLite.Driver,
		}, opts...)
	case "redis":
		return NewRedisStore(RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, opts...)
	default:
		return nil, fmt.Errorf("unknown usage store backend %q", cfg.Backend)
	}
}

func parseNumber(key string, raw string) (float64, error) {
	if raw == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: key %q", ErrNotNumeric, key)
	}
	return f, nil
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
