// Package maintenance prunes aged data behind the write path: minute
// series fields past retention, counter hashes whose bucket fell out of
// the window and relational partitions past their keep windows. All of
// it runs on the elected worker only, with a store-side lock guarding
// against overlapping sweeps from a stale leader.
package maintenance

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/keys"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/store"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/pkg/logging"
)

const (
	scanCount   = 500
	hscanCount  = 500
	hdelBatch   = 1000
	perKeySteps = 10

	perPatternBudget = 1500 * time.Millisecond
	globalBudget     = 8 * time.Second

	sweepLockKey = "ts:cleanup:lock"
	sweepLockTTL = 60 * time.Second

	delBatch       = 256
	releaseTimeout = 5 * time.Second
)

// hashCleanScript prunes aged minute fields from one series hash. It
// runs a bounded number of HSCAN steps per call and reports the cursor
// so the caller can continue where it left off, keeping each eval short
// enough to never stall the write path.
var hashCleanScript = goredis.NewScript(`
local cutoff = tonumber(ARGV[1])
local hscan_count = tonumber(ARGV[2] or 500)
local hdel_batch = tonumber(ARGV[3] or 1000)
local max_steps = tonumber(ARGV[4] or 10)

local removed = 0
local cursor = "0"
local steps = 0

repeat
	local reply = redis.call("HSCAN", KEYS[1], cursor, "COUNT", hscan_count)
	cursor = reply[1]
	local flat = reply[2]

	local pending = {}
	for i = 1, #flat, 2 do
		local ts = tonumber(flat[i])
		if ts and ts < cutoff then
			pending[#pending + 1] = flat[i]
			if #pending >= hdel_batch then
				redis.call("HDEL", KEYS[1], unpack(pending))
				removed = removed + #pending
				pending = {}
			end
		end
	end
	if #pending > 0 then
		redis.call("HDEL", KEYS[1], unpack(pending))
		removed = removed + #pending
	end

	steps = steps + 1
until cursor == "0" or steps >= max_steps

local emptied = 0
if redis.call("TYPE", KEYS[1]).ok == "hash" and redis.call("HLEN", KEYS[1]) == 0 then
	redis.call("DEL", KEYS[1])
	emptied = 1
end

return {removed, emptied, cursor}
`)

// Sweeper walks the series and counter key families and removes
// everything older than the configured retention.
type Sweeper struct {
	store     *store.Manager
	logger    logging.Logger
	retention Retention
}

// NewSweeper creates a Sweeper backed by the shared connection manager.
func NewSweeper(st *store.Manager, retention Retention, logger logging.Logger) *Sweeper {
	return &Sweeper{store: st, logger: logger, retention: retention}
}

// SweepResult summarizes one sweep cycle. Skipped is set when another
// worker already held the cleanup lock.
type SweepResult struct {
	FieldsRemoved int64
	KeysDeleted   int64
	Skipped       bool
}

// RunOnce performs a full sweep cycle: take the overlap lock, walk every
// series pattern pruning aged fields, then drop counter hashes whose
// bucket coverage ended before the cutoff. Soft time budgets cap each
// pattern and the whole cycle; whatever is left ages into the next run.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	client, err := s.store.Acquire(ctx)
	if err != nil {
		return res, err
	}

	held, err := client.SetNX(ctx, sweepLockKey, strconv.FormatInt(time.Now().Unix(), 10), sweepLockTTL).Result()
	if err != nil {
		return res, fmt.Errorf("acquire cleanup lock: %w", err)
	}
	if !held {
		s.logger.Info("Another cleanup run holds the lock, skipping this cycle")
		res.Skipped = true
		return res, nil
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if err := client.Del(releaseCtx, sweepLockKey).Err(); err != nil {
			s.logger.WithError(err).Warn("Failed to release cleanup lock")
		}
	}()

	started := time.Now()
	now := time.Now()

	for _, target := range s.retention.seriesTargets() {
		cutoff := now.Add(-target.retention).Unix()
		if err := s.sweepSeries(ctx, client, target.pattern, cutoff, &res); err != nil {
			return res, fmt.Errorf("sweep %s: %w", target.pattern, err)
		}
		if time.Since(started) >= globalBudget {
			s.logger.Info("Cleanup time budget reached, deferring remaining patterns to the next cycle")
			return res, nil
		}
	}

	for _, target := range s.retention.counterTargets() {
		if err := s.sweepCounters(ctx, client, target, now, &res); err != nil {
			return res, fmt.Errorf("sweep counter %s: %w", target.family, err)
		}
		if time.Since(started) >= globalBudget {
			s.logger.Info("Cleanup time budget reached, deferring remaining patterns to the next cycle")
			return res, nil
		}
	}

	s.logger.WithFields(logging.Fields{
		"fields_removed": res.FieldsRemoved,
		"keys_deleted":   res.KeysDeleted,
		"duration":       time.Since(started).Round(time.Millisecond).String(),
	}).Info("Retention sweep completed")
	return res, nil
}

// sweepSeries prunes aged minute fields from every hash matching
// pattern. Each key may take several script calls; the per-pattern
// budget bounds how long one pattern can hold the cycle.
func (s *Sweeper) sweepSeries(ctx context.Context, client goredis.UniversalClient, pattern string, cutoff int64, res *SweepResult) error {
	started := time.Now()
	var removed, emptied int64

	iter := client.Scan(ctx, 0, pattern, scanCount).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		for {
			r, e, cursor, err := s.cleanHash(ctx, client, key, cutoff)
			if err != nil {
				s.logger.WithError(err).WithFields(logging.Fields{
					"key": key,
				}).Error("Failed to clean series hash")
				break
			}
			removed += r
			emptied += e
			if cursor == "0" || time.Since(started) >= perPatternBudget {
				break
			}
		}
		if time.Since(started) >= perPatternBudget {
			s.logger.WithFields(logging.Fields{
				"pattern": pattern,
			}).Debug("Per-pattern budget reached, moving on")
			break
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}

	res.FieldsRemoved += removed
	res.KeysDeleted += emptied
	if removed > 0 || emptied > 0 {
		s.logger.WithFields(logging.Fields{
			"pattern":        pattern,
			"fields_removed": removed,
			"keys_deleted":   emptied,
			"duration":       time.Since(started).Round(time.Millisecond).String(),
		}).Debug("Series pattern swept")
	}
	return nil
}

// cleanHash runs the bounded cleaner against one hash and returns the
// removed count, whether the emptied hash was deleted and the HSCAN
// cursor to continue from. The script helper reloads on NOSCRIPT.
func (s *Sweeper) cleanHash(ctx context.Context, client goredis.UniversalClient, key string, cutoff int64) (int64, int64, string, error) {
	vals, err := hashCleanScript.Run(ctx, client, []string{key},
		cutoff, hscanCount, hdelBatch, perKeySteps).Slice()
	if err != nil {
		return 0, 0, "", err
	}
	if len(vals) != 3 {
		return 0, 0, "", fmt.Errorf("hash cleaner returned %d values", len(vals))
	}
	return scriptInt(vals[0]), scriptInt(vals[1]), fmt.Sprint(vals[2]), nil
}

// sweepCounters drops whole counter hashes whose bucket coverage ended
// before the cutoff. Keys with tokens the layout cannot parse are left
// alone.
func (s *Sweeper) sweepCounters(ctx context.Context, client goredis.UniversalClient, target counterTarget, now time.Time, res *SweepResult) error {
	started := time.Now()
	cutoff := now.Add(-target.retention)
	pattern := keys.CounterPattern(target.family, "")

	var expired []string
	var dropped int64

	flush := func() error {
		if len(expired) == 0 {
			return nil
		}
		n, err := client.Del(ctx, expired...).Result()
		if err != nil {
			return err
		}
		dropped += n
		expired = expired[:0]
		return nil
	}

	iter := client.Scan(ctx, 0, pattern, scanCount).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		parts := strings.Split(key, ":")
		idx := len(parts) + target.bucketIdx
		if idx < 2 {
			continue
		}
		bucket, err := keys.ParseBucket(target.layout, parts[idx])
		if err != nil {
			continue
		}
		if counterExpiry(target.layout, bucket).Before(cutoff) {
			expired = append(expired, key)
			if len(expired) >= delBatch {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		if time.Since(started) >= perPatternBudget {
			s.logger.WithFields(logging.Fields{
				"pattern": pattern,
			}).Debug("Per-pattern budget reached, moving on")
			break
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if err := flush(); err != nil {
		return err
	}

	res.KeysDeleted += dropped
	if dropped > 0 {
		s.logger.WithFields(logging.Fields{
			"pattern":      pattern,
			"keys_deleted": dropped,
			"duration":     time.Since(started).Round(time.Millisecond).String(),
		}).Debug("Counter pattern swept")
	}
	return nil
}

func scriptInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		parsed, _ := strconv.ParseInt(n, 10, 64)
		return parsed
	default:
		return 0
	}
}
