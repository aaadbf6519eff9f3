// Package retrieval is the read side of the aggregation store. Each
// query names an area, a time window, optional dimension filters, and
// one of three output modes: sum collapses everything into totals,
// grouped keeps the dimension split, surged folds onto the hour of day.
// Keys are enumerated with non-blocking SCAN cursors and fetched through
// pipelined HGETALL batches; an unreachable store degrades to an empty
// payload rather than an error.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/keys"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/store"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/pkg/logging"
)

// Output modes shared by every retrieval.
const (
	ModeSum     = "sum"
	ModeGrouped = "grouped"
	ModeSurged  = "surged"
)

const (
	scanCount        = 500
	fetchBatchSize   = 500
	fetchConcurrency = 4
)

// Result is the envelope every retrieval returns: the requested mode and
// a mode-shaped payload. Data is an empty object when nothing matched or
// the store was unreachable.
type Result struct {
	Mode string `json:"mode"`
	Data any    `json:"data"`
}

func emptyResult(mode string) Result {
	return Result{Mode: mode, Data: NewOrderedMap()}
}

// Service runs queries against the shared store connection.
type Service struct {
	store  *store.Manager
	logger logging.Logger
}

// NewService creates a Service backed by the shared connection manager.
func NewService(st *store.Manager, logger logging.Logger) *Service {
	return &Service{store: st, logger: logger}
}

// acquire hands out the shared client, or nil when the store is down and
// the caller should degrade to an empty payload.
func (s *Service) acquire(ctx context.Context) (goredis.UniversalClient, error) {
	client, err := s.store.Acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, store.ErrUnavailable) {
			s.logger.WithError(err).Error("Store unavailable for retrieval")
			return nil, nil
		}
		return nil, err
	}
	return client, nil
}

// scanKeys walks one SCAN cursor to completion, checking the context at
// every step so a dropped request stops mid-keyspace.
func (s *Service) scanKeys(ctx context.Context, client goredis.UniversalClient, pattern string) ([]string, error) {
	var (
		cursor uint64
		out    []string
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, next, err := client.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("scan %q: %w", pattern, err)
		}
		out = append(out, page...)
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

// scanPatterns unions the keys behind several patterns, deduplicated and
// sorted so downstream folds are deterministic regardless of scan order.
func (s *Service) scanPatterns(ctx context.Context, client goredis.UniversalClient, patterns []string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for _, pattern := range patterns {
		ks, err := s.scanKeys(ctx, client, pattern)
		if err != nil {
			return nil, err
		}
		for _, k := range ks {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// fetchHashes reads every named hash through pipelined HGETALL batches.
// Unparsable field values count as zero; a key that fails outright is
// logged and skipped.
func (s *Service) fetchHashes(ctx context.Context, client goredis.UniversalClient, ks []string) (map[string]map[string]int64, error) {
	out := make(map[string]map[string]int64, len(ks))
	if len(ks) == 0 {
		return out, nil
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for start := 0; start < len(ks); start += fetchBatchSize {
		batch := ks[start:min(start+fetchBatchSize, len(ks))]
		g.Go(func() error {
			pipe := client.Pipeline()
			cmds := make([]*goredis.MapStringStringCmd, len(batch))
			for i, k := range batch {
				cmds[i] = pipe.HGetAll(gctx, k)
			}
			if _, err := pipe.Exec(gctx); err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			mu.Lock()
			defer mu.Unlock()
			for i, cmd := range cmds {
				fields, err := cmd.Result()
				if err != nil {
					s.logger.WithError(err).WithField("key", batch[i]).Warn("Hash fetch failed")
					continue
				}
				parsed := make(map[string]int64, len(fields))
				for field, raw := range fields {
					v, err := strconv.ParseInt(raw, 10, 64)
					if err != nil {
						v = 0
					}
					parsed[field] = v
				}
				out[batch[i]] = parsed
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// keysInRange keeps the keys whose bucket token, split out at index
// (negative counts from the end), parses in the given layout and falls
// inside the half-open window [start, end). Tokens of another granularity
// fail the parse and drop out, which is how hourly keys vanish from a
// day-layout scan.
func keysInRange(ks []string, layout string, index int, start, end time.Time) []string {
	var kept []string
	for _, k := range ks {
		parts := strings.Split(k, ":")
		i := index
		if i < 0 {
			i += len(parts)
		}
		if i < 0 || i >= len(parts) {
			continue
		}
		t, err := keys.ParseBucket(layout, parts[i])
		if err != nil {
			continue
		}
		if !t.Before(start) && t.Before(end) {
			kept = append(kept, k)
		}
	}
	return kept
}

// sumFields collapses per-key hashes into one field-to-total map.
func sumFields(hashes map[string]map[string]int64) map[string]int64 {
	flat := make(map[string]int64)
	for _, fields := range hashes {
		for field, v := range fields {
			flat[field] += v
		}
	}
	return flat
}

// filterFlat keeps the entries whose field passes ok.
func filterFlat(flat map[string]int64, ok func(string) bool) map[string]int64 {
	kept := make(map[string]int64, len(flat))
	for field, v := range flat {
		if ok(field) {
			kept[field] = v
		}
	}
	return kept
}

// filterNested applies ok to every inner hash and drops keys left empty.
func filterNested(hashes map[string]map[string]int64, ok func(string) bool) map[string]map[string]int64 {
	kept := make(map[string]map[string]int64, len(hashes))
	for key, fields := range hashes {
		inner := filterFlat(fields, ok)
		if len(inner) > 0 {
			kept[key] = inner
		}
	}
	return kept
}

// nestedPassthrough packs the raw per-key aggregation, keys and fields
// sorted lexicographically.
func nestedPassthrough(hashes map[string]map[string]int64) *OrderedMap {
	out := NewOrderedMap()
	hashKeys := make([]string, 0, len(hashes))
	for k := range hashes {
		hashKeys = append(hashKeys, k)
	}
	sort.Strings(hashKeys)
	for _, k := range hashKeys {
		out.Set(k, sortFieldsLex(hashes[k]))
	}
	return out
}

// loadCounters runs the shared counter read: scan the family's pattern,
// keep the keys bucketed inside the window, and fetch their hashes. A nil
// map with nil error means the store was unavailable.
func (s *Service) loadCounters(ctx context.Context, family, layout string, index int, q CounterQuery) (map[string]map[string]int64, error) {
	client, err := s.acquire(ctx)
	if err != nil || client == nil {
		return nil, err
	}
	ks, err := s.scanKeys(ctx, client, keys.CounterPattern(family, q.Area))
	if err != nil {
		return nil, err
	}
	ks = keysInRange(ks, layout, index, q.Start, q.End)
	if len(ks) == 0 {
		return map[string]map[string]int64{}, nil
	}
	return s.fetchHashes(ctx, client, ks)
}

var relativeTimePattern = regexp.MustCompile(`^(\d+)\s*(day|days|month|months|year|years|hour|hours|minute|minutes)$`)

// ParseTime turns a query time parameter into a concrete instant: "now",
// an ISO datetime or date, or a relative span like "3 hours" or "10 days"
// subtracted from the reference.
func ParseTime(input string, reference time.Time) (time.Time, error) {
	input = strings.ToLower(strings.TrimSpace(input))
	if input == "now" {
		return reference, nil
	}
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if t, err := time.ParseInLocation(layout, input, time.Local); err == nil {
			return t, nil
		}
	}
	m := relativeTimePattern.FindStringSubmatch(input)
	if m == nil {
		return time.Time{}, fmt.Errorf("unrecognized time format: %q", input)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized time format: %q", input)
	}
	switch m[2] {
	case "day", "days":
		return reference.AddDate(0, 0, -n), nil
	case "hour", "hours":
		return reference.Add(-time.Duration(n) * time.Hour), nil
	case "minute", "minutes":
		return reference.Add(-time.Duration(n) * time.Minute), nil
	case "month", "months":
		return reference.AddDate(0, -n, 0), nil
	default:
		return reference.AddDate(-n, 0, 0), nil
	}
}
