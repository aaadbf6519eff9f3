// Package store owns the pooled connection to the key-value store. The
// manager hands out one shared client after a freshness-windowed ping
// verify; reconnects are serialized through singleflight and guarded by a
// retry policy and a circuit breaker so a store outage cannot stampede.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/HugoDataAnalyst/PsyduckV2-sub000/pkg/config"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/pkg/logging"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/pkg/monitoring"
	redisclient "github.com/HugoDataAnalyst/PsyduckV2-sub000/pkg/redis"
)

// ErrUnavailable reports that the store could not be reached within the
// manager's retry budget. Write paths convert it into a no-op failure
// marker and read paths into an empty result envelope.
var ErrUnavailable = errors.New("store unavailable")

// DialFunc opens a store connection. Tests substitute it.
type DialFunc func(ctx context.Context, cfg redisclient.Config) (goredis.UniversalClient, error)

// Config tunes the manager. Zero fields fall back to defaults.
type Config struct {
	Redis redisclient.Config

	// RedisURL, when set, replaces the field-by-field Redis settings
	// with a single redis:// URL (single-node only). Redis.PoolSize
	// still applies.
	RedisURL string

	// PingFreshness is how long a successful verify lets callers skip
	// the next one.
	PingFreshness time.Duration
	PingTimeout   time.Duration

	ConnectTimeout   time.Duration
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	BreakerCooldown  time.Duration
}

// DefaultConfig returns the manager defaults.
func DefaultConfig() Config {
	return Config{
		Redis:            redisclient.DefaultConfig(),
		PingFreshness:    15 * time.Second,
		PingTimeout:      2 * time.Second,
		ConnectTimeout:   10 * time.Second,
		RetryMaxAttempts: 3,
		RetryBaseDelay:   500 * time.Millisecond,
		RetryMaxDelay:    30 * time.Second,
		BreakerCooldown:  15 * time.Second,
	}
}

// ConfigFromEnv assembles a Config from the process environment. The pool
// size splits REDIS_MAX_CONNECTIONS across WORKER_COUNT processes.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.RedisURL = config.GetEnv("REDIS_URL", "")
	cfg.Redis.Mode = redisclient.Mode(config.GetEnv("REDIS_MODE", string(redisclient.ModeSingle)))
	if addrs := config.GetEnvList("REDIS_ADDRS"); len(addrs) > 0 {
		cfg.Redis.Addrs = addrs
	}
	cfg.Redis.MasterName = config.GetEnv("REDIS_MASTER_NAME", "")
	cfg.Redis.Username = config.GetEnv("REDIS_USERNAME", "")
	cfg.Redis.Password = config.GetEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = config.GetEnvInt("REDIS_DB", 0)
	total := config.GetEnvInt("REDIS_MAX_CONNECTIONS", 100)
	workers := config.GetEnvInt("WORKER_COUNT", 1)
	cfg.Redis.PoolSize = redisclient.PoolSizeFor(total, workers)
	cfg.Redis.MinIdleConns = config.GetEnvInt("REDIS_MIN_IDLE_CONNS", 0)
	cfg.PingFreshness = config.GetEnvDuration("REDIS_PING_FRESHNESS", cfg.PingFreshness)
	return cfg
}

// Manager hands out the shared store client.
type Manager struct {
	cfg    Config
	logger logging.Logger
	dial   DialFunc
	exec   failsafe.Executor[goredis.UniversalClient]

	group singleflight.Group

	mu       sync.RWMutex
	client   goredis.UniversalClient
	lastPing time.Time
}

// New creates a Manager. The default dialer is the shared redis client
// constructor; a RedisURL swaps in the URL form.
func New(cfg Config, logger logging.Logger) *Manager {
	var dial DialFunc = redisclient.NewUniversalClient
	if url := cfg.RedisURL; url != "" {
		dial = func(ctx context.Context, rc redisclient.Config) (goredis.UniversalClient, error) {
			return redisclient.NewClientFromURL(ctx, url, rc.PoolSize)
		}
	}
	return NewWithDialer(cfg, logger, dial)
}

// NewWithDialer creates a Manager with a custom dial function.
func NewWithDialer(cfg Config, logger logging.Logger, dial DialFunc) *Manager {
	def := DefaultConfig()
	if cfg.PingFreshness <= 0 {
		cfg.PingFreshness = def.PingFreshness
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = def.PingTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.RetryMaxAttempts <= 0 {
		cfg.RetryMaxAttempts = def.RetryMaxAttempts
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = def.RetryBaseDelay
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = def.RetryMaxDelay
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = def.BreakerCooldown
	}

	retry := retrypolicy.NewBuilder[goredis.UniversalClient]().
		WithBackoff(cfg.RetryBaseDelay, cfg.RetryMaxDelay).
		WithMaxRetries(cfg.RetryMaxAttempts).
		WithJitterFactor(0.1).
		Build()

	breaker := circuitbreaker.NewBuilder[goredis.UniversalClient]().
		WithFailureThresholdRatio(5, 10).
		WithDelay(cfg.BreakerCooldown).
		WithSuccessThreshold(1).
		OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			logger.WithFields(logging.Fields{
				"from_state": event.OldState.String(),
				"to_state":   event.NewState.String(),
			}).Warn("Store circuit breaker state change")
		}).
		Build()

	return &Manager{
		cfg:    cfg,
		logger: logger,
		dial:   dial,
		exec:   failsafe.With(retry, breaker),
	}
}

// Acquire returns the shared client, verified by a ping unless one
// succeeded within the freshness window. Concurrent callers share a
// single verify/reconnect.
func (m *Manager) Acquire(ctx context.Context) (goredis.UniversalClient, error) {
	m.mu.RLock()
	client, fresh := m.client, time.Since(m.lastPing) < m.cfg.PingFreshness
	m.mu.RUnlock()
	if client != nil && fresh {
		return client, nil
	}

	ch := m.group.DoChan("acquire", func() (interface{}, error) {
		return m.verifyOrReconnect()
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, res.Err)
		}
		return res.Val.(goredis.UniversalClient), nil
	}
}

// AcquireFast is the write-path variant: a few fixed-delay attempts
// instead of the full backoff schedule, so ingest fails fast while the
// background paths keep retrying.
func (m *Manager) AcquireFast(ctx context.Context, attempts int, delay time.Duration) (goredis.UniversalClient, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		client, err := m.Acquire(ctx)
		if err == nil {
			return client, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// verifyOrReconnect pings the current client and reconnects when the ping
// fails or no client exists yet. It runs inside singleflight, detached
// from any single caller's context.
func (m *Manager) verifyOrReconnect() (goredis.UniversalClient, error) {
	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()

	if client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.PingTimeout)
		err := client.Ping(ctx).Err()
		cancel()
		if err == nil {
			m.markVerified(client)
			return client, nil
		}
		m.logger.WithError(err).Warn("Store ping failed, reconnecting")
	}

	fresh, err := m.exec.Get(func() (goredis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
		defer cancel()
		c, dialErr := m.dial(ctx, m.cfg.Redis)
		if dialErr != nil {
			m.logger.WithError(dialErr).Error("Store dial failed")
			return nil, dialErr
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.client != nil && m.client != fresh {
		_ = m.client.Close()
	}
	m.client = fresh
	m.lastPing = time.Now()
	m.mu.Unlock()

	m.logger.Info("Store connection established")
	return fresh, nil
}

func (m *Manager) markVerified(client goredis.UniversalClient) {
	m.mu.Lock()
	if m.client == client {
		m.lastPing = time.Now()
	}
	m.mu.Unlock()
}

// Client returns the current client without verification. It is nil
// before the first successful Acquire.
func (m *Manager) Client() goredis.UniversalClient {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

// HealthCheck adapts the manager to the health checker, resolving the
// current client on every probe so reconnects are reflected.
func (m *Manager) HealthCheck() monitoring.HealthCheck {
	return func() monitoring.CheckResult {
		return monitoring.RedisHealthCheck(m.Client())()
	}
}

// Close releases the client and resets the cached verify state.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil
	}
	err := m.client.Close()
	m.client = nil
	m.lastPing = time.Time{}
	return err
}
