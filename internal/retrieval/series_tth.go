package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	goredis "github.com/redis/go-redis/v9"
)

// tthRangeScript scans the despawn series keys server-side and folds the
// in-window minute fields per bucket, so unfiltered hashes never cross
// the network. Sum mode returns alternating [bucket, total]; grouped and
// surged return alternating [bucket, [key, value, ...]] with minute or
// hour keys respectively.
var tthRangeScript = goredis.NewScript(`
local pattern = ARGV[1]
local start_ts = tonumber(ARGV[2])
local end_ts = tonumber(ARGV[3])
local mode = ARGV[4]
local sums = {}
local nested = {}
local cursor = "0"
repeat
  local reply = redis.call("SCAN", cursor, "MATCH", pattern, "COUNT", 1000)
  cursor = reply[1]
  for _, key in ipairs(reply[2]) do
    local parts = {}
    for part in string.gmatch(key, "([^:]+)") do
      table.insert(parts, part)
    end
    local bucket = parts[4] or "unknown"
    local data = redis.call("HGETALL", key)
    for i = 1, #data, 2 do
      local ts = tonumber(data[i])
      local count = tonumber(data[i + 1])
      if ts and count and ts >= start_ts and ts < end_ts then
        if mode == "sum" then
          sums[bucket] = (sums[bucket] or 0) + count
        elseif mode == "grouped" then
          nested[bucket] = nested[bucket] or {}
          local minute = tostring(math.floor(ts / 60) * 60)
          nested[bucket][minute] = (nested[bucket][minute] or 0) + count
        elseif mode == "surged" then
          nested[bucket] = nested[bucket] or {}
          local hour = tostring(math.floor((ts % 86400) / 3600))
          nested[bucket][hour] = (nested[bucket][hour] or 0) + count
        end
      end
    end
  end
until cursor == "0"
local out = {}
if mode == "sum" then
  for bucket, total in pairs(sums) do
    table.insert(out, bucket)
    table.insert(out, total)
  end
else
  for bucket, series in pairs(nested) do
    local flat = {}
    for k, v in pairs(series) do
      table.insert(flat, k)
      table.insert(flat, v)
    end
    table.insert(out, bucket)
    table.insert(out, flat)
  end
end
return out
`)

// TTHSeries reads the per-minute despawn-distribution series client-side:
// scan, fetch, fold. Sum totals each bucket; grouped keeps the minute
// resolution per bucket; surged folds each bucket onto the hour of day.
func (s *Service) TTHSeries(ctx context.Context, q TTHSeriesQuery) (Result, error) {
	hashes, err := s.loadSeries(ctx, q.patterns(), q.matchKey)
	if err != nil || len(hashes) == 0 {
		return emptyResult(q.Mode), err
	}
	switch q.Mode {
	case ModeSum:
		sums := make(map[string]int64)
		forEachPoint(hashes, q.Start, q.End, func(parts []string, _, count int64) {
			sums[parts[3]] += count
		})
		return Result{Mode: q.Mode, Data: formatTTHSum(sums)}, nil
	case ModeGrouped:
		nested := make(map[string]map[string]int64)
		forEachPoint(hashes, q.Start, q.End, func(parts []string, ts, count int64) {
			bucket := parts[3]
			if nested[bucket] == nil {
				nested[bucket] = make(map[string]int64)
			}
			nested[bucket][strconv.FormatInt(ts, 10)] += count
		})
		return Result{Mode: q.Mode, Data: formatTTHGrouped(nested)}, nil
	case ModeSurged:
		surged := make(map[string]map[int]int64)
		forEachPoint(hashes, q.Start, q.End, func(parts []string, ts, count int64) {
			bucket := parts[3]
			if surged[bucket] == nil {
				surged[bucket] = make(map[int]int64)
			}
			surged[bucket][hourOfMinute(ts)] += count
		})
		return Result{Mode: q.Mode, Data: formatTTHSurged(surged)}, nil
	}
	return emptyResult(q.Mode), nil
}

// TTHSeriesScripted answers the same query through the server-side
// script, one invocation per scan pattern, merging the folds before
// formatting. Client and scripted paths return identical payloads.
func (s *Service) TTHSeriesScripted(ctx context.Context, q TTHSeriesQuery) (Result, error) {
	if q.Mode != ModeSum && q.Mode != ModeGrouped && q.Mode != ModeSurged {
		return emptyResult(q.Mode), nil
	}
	client, err := s.acquire(ctx)
	if err != nil || client == nil {
		return emptyResult(q.Mode), err
	}
	lo, hi := q.Start.Unix(), q.End.Unix()
	sums := make(map[string]int64)
	nested := make(map[string]map[string]int64)
	for _, pattern := range q.patterns() {
		raw, err := tthRangeScript.Run(ctx, client, []string{},
			pattern, strconv.FormatInt(lo, 10), strconv.FormatInt(hi, 10), q.Mode).Result()
		if err != nil {
			return emptyResult(q.Mode), fmt.Errorf("despawn range script %q: %w", pattern, err)
		}
		if err := mergeTTHScriptReply(raw, q.Mode, sums, nested); err != nil {
			return emptyResult(q.Mode), err
		}
	}
	switch q.Mode {
	case ModeSum:
		return Result{Mode: q.Mode, Data: formatTTHSum(sums)}, nil
	case ModeGrouped:
		return Result{Mode: q.Mode, Data: formatTTHGrouped(nested)}, nil
	default:
		surged := make(map[string]map[int]int64)
		for bucket, series := range nested {
			surged[bucket] = make(map[int]int64, len(series))
			for hourStr, v := range series {
				hour, err := strconv.Atoi(hourStr)
				if err != nil {
					continue
				}
				surged[bucket][hour] += v
			}
		}
		return Result{Mode: q.Mode, Data: formatTTHSurged(surged)}, nil
	}
}

// mergeTTHScriptReply folds one script invocation's alternating reply
// into the shared accumulators.
func mergeTTHScriptReply(raw any, mode string, sums map[string]int64, nested map[string]map[string]int64) error {
	reply, ok := raw.([]any)
	if !ok {
		return fmt.Errorf("despawn range script: unexpected reply type %T", raw)
	}
	for i := 0; i+1 < len(reply); i += 2 {
		bucket, ok := reply[i].(string)
		if !ok {
			continue
		}
		if mode == ModeSum {
			sums[bucket] += scriptInt(reply[i+1])
			continue
		}
		series, ok := reply[i+1].([]any)
		if !ok {
			continue
		}
		if nested[bucket] == nil {
			nested[bucket] = make(map[string]int64)
		}
		for j := 0; j+1 < len(series); j += 2 {
			k, ok := series[j].(string)
			if !ok {
				continue
			}
			nested[bucket][k] += scriptInt(series[j+1])
		}
	}
	return nil
}

func scriptInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

func formatTTHSum(sums map[string]int64) *OrderedMap {
	return sortFieldsByBucket(sums)
}

func formatTTHGrouped(nested map[string]map[string]int64) *OrderedMap {
	out := NewOrderedMap()
	for _, bucket := range sortedTTHBuckets(nested) {
		series := nested[bucket]
		minutes := make([]string, 0, len(series))
		for m := range series {
			minutes = append(minutes, m)
		}
		sort.Slice(minutes, func(i, j int) bool {
			a, _ := strconv.ParseInt(minutes[i], 10, 64)
			b, _ := strconv.ParseInt(minutes[j], 10, 64)
			return a < b
		})
		inner := NewOrderedMap()
		for _, m := range minutes {
			inner.Set(m, series[m])
		}
		out.Set(bucket, inner)
	}
	return out
}

func formatTTHSurged(surged map[string]map[int]int64) *OrderedMap {
	out := NewOrderedMap()
	for _, bucket := range sortedTTHBuckets(surged) {
		out.Set(bucket, hourMapByLabel(surged[bucket]))
	}
	return out
}
