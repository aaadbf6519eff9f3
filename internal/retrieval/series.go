package retrieval

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/keys"
)

// loadSeries scans every pattern, drops keys the query's dimension
// filters reject, and fetches the surviving hashes. Minute fields are
// not window-filtered here; forEachPoint does that during the fold.
func (s *Service) loadSeries(ctx context.Context, patterns []string, match func([]string) bool) (map[string]map[string]int64, error) {
	client, err := s.acquire(ctx)
	if err != nil || client == nil {
		return nil, err
	}
	ks, err := s.scanPatterns(ctx, client, patterns)
	if err != nil {
		return nil, err
	}
	var kept []string
	for _, k := range ks {
		if match(strings.Split(k, ":")) {
			kept = append(kept, k)
		}
	}
	if len(kept) == 0 {
		return map[string]map[string]int64{}, nil
	}
	return s.fetchHashes(ctx, client, kept)
}

// hourOfMinute maps a minute bucket onto its hour of day.
func hourOfMinute(ts int64) int { return int(ts % 86400 / 3600) }

// forEachPoint walks every minute field of every series hash, calling fn
// for the points inside [start, end). Fields that do not parse as minute
// buckets are skipped.
func forEachPoint(hashes map[string]map[string]int64, start, end time.Time, fn func(parts []string, ts, count int64)) {
	lo, hi := start.Unix(), end.Unix()
	for key, fields := range hashes {
		parts := strings.Split(key, ":")
		for field, count := range fields {
			ts, ok := keys.ParseMinuteBucket(field)
			if !ok || ts < lo || ts >= hi {
				continue
			}
			fn(parts, ts, count)
		}
	}
}

// dropZero strips zero-valued entries; sum payloads omit metrics that
// never counted rather than reporting them as zero.
func dropZero(flat map[string]int64) map[string]int64 {
	nonzero := make(map[string]int64, len(flat))
	for k, v := range flat {
		if v != 0 {
			nonzero[k] = v
		}
	}
	return nonzero
}

// lessNumericParts orders composite identifiers segment by segment,
// numerically where both segments parse, lexicographically otherwise.
func lessNumericParts(a, b string) bool {
	as, bs := strings.Split(a, ":"), strings.Split(b, ":")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] == bs[i] {
			continue
		}
		an, aerr := strconv.ParseInt(as[i], 10, 64)
		bn, berr := strconv.ParseInt(bs[i], 10, 64)
		if aerr == nil && berr == nil {
			return an < bn
		}
		return as[i] < bs[i]
	}
	return len(as) < len(bs)
}

// sortFieldsByNumericParts packs an identifier-keyed aggregation in
// numeric-segment order.
func sortFieldsByNumericParts(flat map[string]int64) *OrderedMap {
	idents := make([]string, 0, len(flat))
	for id := range flat {
		idents = append(idents, id)
	}
	sort.Slice(idents, func(i, j int) bool { return lessNumericParts(idents[i], idents[j]) })
	out := NewOrderedMap()
	for _, id := range idents {
		out.Set(id, flat[id])
	}
	return out
}

// hourMapByLabel packs an hour-keyed aggregation with "hour N" labels in
// ascending hour order.
func hourMapByLabel(byHour map[int]int64) *OrderedMap {
	out := NewOrderedMap()
	for _, h := range sortedHours(byHour) {
		out.Set(hourLabel(h), byHour[h])
	}
	return out
}
