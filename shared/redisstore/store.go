package redisstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cuongbtq/media-vetting/internal/domain"
	"github.com/redis/go-redis/v9"
)

// ReconnectPolicy controls how the client recovers from transient network errors
type ReconnectPolicy struct {
	MinBackoff      time.Duration // First per-command retry delay
	MaxBackoff      time.Duration // Cap for per-command and connect retry delays
	MaxRetries      int           // Per-command retries inside the client
	ConnectAttempts int           // Ping attempts performed by Open
}

// Config holds Redis connection configuration
type Config struct {
	URL          string
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Reconnect    ReconnectPolicy
}

// Configured reports whether either a URL or a host was supplied
func (c *Config) Configured() bool {
	return strings.TrimSpace(c.URL) != "" || strings.TrimSpace(c.Host) != ""
}

// Store is the shared broker/store handle used by the queue and the progress tracker
type Store struct {
	config *Config
	client *redis.Client
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// New creates a store handle. No network I/O happens until Open or the first command.
func New(config *Config, logger *slog.Logger) (*Store, error) {
	if config == nil || !config.Configured() {
		return nil, fmt.Errorf("%w: neither redis url nor host is configured", domain.ErrBrokerUnavailable)
	}

	opts, err := buildOptions(config)
	if err != nil {
		return nil, err
	}

	return &Store{
		config: config,
		client: redis.NewClient(opts),
		logger: logger,
	}, nil
}

func buildOptions(config *Config) (*redis.Options, error) {
	var opts *redis.Options
	if config.URL != "" {
		parsed, err := redis.ParseURL(config.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	} else {
		port := config.Port
		if port == 0 {
			port = 6379
		}
		opts = &redis.Options{
			Addr:     fmt.Sprintf("%s:%d", config.Host, port),
			Password: config.Password,
			DB:       config.DB,
		}
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.DialTimeout > 0 {
		opts.DialTimeout = config.DialTimeout
	}
	if config.ReadTimeout > 0 {
		opts.ReadTimeout = config.ReadTimeout
	}
	if config.WriteTimeout > 0 {
		opts.WriteTimeout = config.WriteTimeout
	}

	policy := config.Reconnect
	if policy.MaxRetries != 0 {
		opts.MaxRetries = policy.MaxRetries
	}
	if policy.MinBackoff > 0 {
		opts.MinRetryBackoff = policy.MinBackoff
	}
	if policy.MaxBackoff > 0 {
		opts.MaxRetryBackoff = policy.MaxBackoff
	}

	return opts, nil
}

// Open verifies connectivity, retrying with capped exponential backoff
func (s *Store) Open(ctx context.Context) error {
	attempts := s.config.Reconnect.ConnectAttempts
	if attempts <= 0 {
		attempts = 5
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 100 * time.Millisecond
	if s.config.Reconnect.MinBackoff > 0 {
		expo.InitialInterval = s.config.Reconnect.MinBackoff
	}
	expo.MaxInterval = 5 * time.Second
	if s.config.Reconnect.MaxBackoff > 0 {
		expo.MaxInterval = s.config.Reconnect.MaxBackoff
	}
	expo.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(attempts-1)), ctx)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		s.logger.Info("Connecting to Redis",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)
		return s.client.Ping(ctx).Err()
	}, policy, func(err error, wait time.Duration) {
		s.logger.Warn("Failed to connect to Redis, retrying...",
			slog.Int("attempt", attempt),
			slog.Duration("retry_after", wait),
			slog.Any("error", err),
		)
	})
	if err != nil {
		s.logger.Error("Failed to connect to Redis",
			slog.Int("attempts", attempt),
			slog.Any("error", err),
		)
		return fmt.Errorf("%w: connect after %d attempts: %v", domain.ErrBrokerUnavailable, attempt, err)
	}

	s.logger.Info("Successfully connected to Redis",
		slog.String("addr", s.client.Options().Addr),
		slog.Int("db", s.client.Options().DB),
	)
	return nil
}

// Client returns the underlying client. It is safe for concurrent use.
func (s *Store) Client() *redis.Client {
	return s.client
}

// Health pings the store
func (s *Store) Health(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return Classify(err)
	}
	return nil
}

// Close releases the connection pool. Calling it twice is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.logger.Info("Closing Redis connection")
	if err := s.client.Close(); err != nil {
		s.logger.Error("Failed to close Redis connection",
			slog.Any("error", err),
		)
		return err
	}
	return nil
}

// Classify maps connectivity failures onto ErrBrokerUnavailable and leaves other errors as they are
func Classify(err error) error {
	if err == nil || errors.Is(err, domain.ErrBrokerUnavailable) {
		return err
	}

	var netErr net.Error
	if errors.Is(err, redis.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.As(err, &netErr) ||
		strings.Contains(err.Error(), "connection refused") {
		return fmt.Errorf("%w: %v", domain.ErrBrokerUnavailable, err)
	}
	return err
}
