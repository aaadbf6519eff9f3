// Package leader elects a single maintenance owner across worker
// processes. Every worker may write counters and serve queries; only the
// current leader runs the sweepers. The lock is a store key holding the
// owner's identity with a TTL; extending and releasing it are scripted
// compare-and-set operations so a worker can never touch a lock it no
// longer owns.
package leader

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/store"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/pkg/logging"
)

// LockKey is the shared lock every worker competes for.
const LockKey = "psyduckv2:leader:main"

// extendScript refreshes the lock TTL only while the caller still owns
// the lock. A plain EXPIRE could resurrect a lock another worker took
// over after a lapse.
var extendScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("EXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`)

// releaseScript deletes the lock only while the caller still owns it.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// Config tunes the election.
type Config struct {
	// TTL is the lock lifetime; the heartbeat runs every TTL/3.
	TTL time.Duration
	// MaxMisses is how many consecutive heartbeat connectivity failures
	// a leader tolerates before demoting itself. A lone blip only logs;
	// once MaxMisses intervals pass the lock may already have lapsed, so
	// continuing to act as leader would risk two owners.
	MaxMisses int
	// Gauge, when set, reports 1 while this worker leads.
	Gauge prometheus.Gauge
}

// DefaultConfig returns the production election settings.
func DefaultConfig() Config {
	return Config{TTL: 30 * time.Second, MaxMisses: 3}
}

// Elector runs the two-state follower/leader machine for one worker.
type Elector struct {
	store    *store.Manager
	logger   logging.Logger
	cfg      Config
	identity string

	mu      sync.Mutex
	leading bool
	misses  int
}

// New creates an Elector with the default configuration.
func New(st *store.Manager, logger logging.Logger) *Elector {
	return NewWithConfig(st, logger, DefaultConfig())
}

// NewWithConfig creates an Elector with explicit settings.
func NewWithConfig(st *store.Manager, logger logging.Logger, cfg Config) *Elector {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.MaxMisses <= 0 {
		cfg.MaxMisses = 3
	}
	return &Elector{
		store:    st,
		logger:   logger,
		cfg:      cfg,
		identity: newIdentity(),
	}
}

// newIdentity builds the worker identity host:pid:startupmillis.
func newIdentity() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d:%d", host, os.Getpid(), time.Now().UnixMilli())
}

// Identity returns this worker's lock value.
func (e *Elector) Identity() string { return e.identity }

// IsLeader reports whether this worker currently holds the lock.
func (e *Elector) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leading
}

func (e *Elector) setLeading(leading bool) {
	e.mu.Lock()
	e.leading = leading
	e.misses = 0
	e.mu.Unlock()
	if e.cfg.Gauge != nil {
		if leading {
			e.cfg.Gauge.Set(1)
		} else {
			e.cfg.Gauge.Set(0)
		}
	}
}

// Run drives the election until ctx is cancelled: followers attempt the
// lock every heartbeat interval, the leader extends it. On cancellation
// a leader releases the lock gracefully.
func (e *Elector) Run(ctx context.Context) {
	interval := e.cfg.TTL / 3
	if _, err := e.TryAcquire(ctx); err != nil {
		e.logger.WithError(err).Warn("Initial leadership attempt failed")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if e.IsLeader() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				e.Release(releaseCtx)
				cancel()
			}
			return
		case <-ticker.C:
			if e.IsLeader() {
				e.beat(ctx)
			} else if _, err := e.TryAcquire(ctx); err != nil {
				e.logger.WithError(err).Debug("Leadership attempt failed")
			}
		}
	}
}

// TryAcquire makes one attempt to take the lock. It returns true when
// this worker is (or already was) the leader.
func (e *Elector) TryAcquire(ctx context.Context) (bool, error) {
	if e.IsLeader() {
		return true, nil
	}
	client, err := e.store.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire leadership: %w", err)
	}
	won, err := client.SetNX(ctx, LockKey, e.identity, e.cfg.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("acquire leadership: %w", err)
	}
	if !won {
		if current, err := client.Get(ctx, LockKey).Result(); err == nil {
			e.logger.WithFields(logging.Fields{
				"worker_id": e.identity,
				"leader":    current,
			}).Debug("Following existing leader")
		}
		return false, nil
	}
	e.setLeading(true)
	e.logger.WithField("worker_id", e.identity).Info("Acquired leadership")
	return true, nil
}

// beat runs one heartbeat: extend the lock, count connectivity misses,
// demote when the lock is gone or the store stayed unreachable for a
// full TTL.
func (e *Elector) beat(ctx context.Context) {
	ok, err := e.extend(ctx)
	if ok {
		e.mu.Lock()
		e.misses = 0
		e.mu.Unlock()
		return
	}
	if err == nil {
		e.setLeading(false)
		e.logger.WithField("worker_id", e.identity).Warn("Lost leadership, lock taken by another worker")
		return
	}
	e.mu.Lock()
	e.misses++
	misses := e.misses
	e.mu.Unlock()
	if misses >= e.cfg.MaxMisses {
		e.setLeading(false)
		e.logger.WithError(err).WithFields(logging.Fields{
			"worker_id": e.identity,
			"misses":    misses,
		}).Warn("Demoting after repeated heartbeat failures")
		return
	}
	e.logger.WithError(err).WithField("misses", misses).Warn("Heartbeat failed, retrying next interval")
}

// extend refreshes the lock TTL. ok=false with a nil error means the
// lock is no longer ours; a non-nil error is a connectivity failure.
func (e *Elector) extend(ctx context.Context) (bool, error) {
	client, err := e.store.AcquireFast(ctx, 1, 0)
	if err != nil {
		return false, err
	}
	ttlSec := strconv.Itoa(int(e.cfg.TTL / time.Second))
	res, err := extendScript.Run(ctx, client, []string{LockKey}, e.identity, ttlSec).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Release gives up leadership gracefully, deleting the lock only if this
// worker still owns it.
func (e *Elector) Release(ctx context.Context) {
	if !e.IsLeader() {
		return
	}
	e.setLeading(false)
	client, err := e.store.Acquire(ctx)
	if err != nil {
		e.logger.WithError(err).Warn("Cannot release leadership lock")
		return
	}
	res, err := releaseScript.Run(ctx, client, []string{LockKey}, e.identity).Int64()
	switch {
	case err != nil:
		e.logger.WithError(err).Warn("Cannot release leadership lock")
	case res == 1:
		e.logger.WithField("worker_id", e.identity).Info("Released leadership")
	default:
		e.logger.WithField("worker_id", e.identity).Warn("Leadership lock already owned by another worker")
	}
}

// CurrentLeader returns the identity holding the lock, or "" when no
// leader exists.
func (e *Elector) CurrentLeader(ctx context.Context) (string, error) {
	client, err := e.store.Acquire(ctx)
	if err != nil {
		return "", err
	}
	leader, err := client.Get(ctx, LockKey).Result()
	if err == goredis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return leader, nil
}

// WaitForLeader polls until some worker holds the lock or the timeout
// passes. Followers use it at startup before serving queries that assume
// maintenance is running somewhere.
func (e *Elector) WaitForLeader(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if leader, err := e.CurrentLeader(ctx); err == nil && leader != "" {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(500 * time.Millisecond):
		}
	}
	e.logger.WithField("timeout", timeout).Warn("No leader elected before timeout")
	return false
}
