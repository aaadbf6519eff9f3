package retrieval

import (
	"context"

	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/keys"
)

// raidSeriesMetrics lists the raid series metrics in reporting order.
var raidSeriesMetrics = []string{
	keys.MetricTotal, keys.MetricCostume, keys.MetricExclusive, keys.MetricExEligible,
}

// raidIdent renders the reporting identifier pokemon:form:level; the key
// itself stores level before form.
func raidIdent(parts []string) string {
	return parts[4] + ":" + parts[6] + ":" + parts[5]
}

// RaidSeries reads the per-minute raid series. Sum reports one total
// per metric, omitting metrics that never counted; grouped splits each
// metric by pokemon:form:level; surged nests the grouped split under
// the hour of day.
func (s *Service) RaidSeries(ctx context.Context, q RaidSeriesQuery) (Result, error) {
	var patterns []string
	for _, metric := range raidSeriesMetrics {
		patterns = append(patterns, q.patterns(metric)...)
	}
	hashes, err := s.loadSeries(ctx, patterns, q.matchKey)
	if err != nil || len(hashes) == 0 {
		return emptyResult(q.Mode), err
	}
	switch q.Mode {
	case ModeSum:
		totals := make(map[string]int64)
		forEachPoint(hashes, q.Start, q.End, func(parts []string, _, count int64) {
			totals[parts[2]] += count
		})
		return Result{Mode: q.Mode, Data: sortFieldsLex(dropZero(totals))}, nil
	case ModeGrouped:
		grouped := make(map[string]map[string]int64)
		forEachPoint(hashes, q.Start, q.End, func(parts []string, _, count int64) {
			metric := parts[2]
			if grouped[metric] == nil {
				grouped[metric] = make(map[string]int64)
			}
			grouped[metric][raidIdent(parts)] += count
		})
		out := NewOrderedMap()
		for _, metric := range raidSeriesMetrics {
			out.Set(metric, sortFieldsByNumericParts(dropZero(grouped[metric])))
		}
		return Result{Mode: q.Mode, Data: out}, nil
	case ModeSurged:
		surged := make(map[int]map[string]map[string]int64)
		forEachPoint(hashes, q.Start, q.End, func(parts []string, ts, count int64) {
			hour := hourOfMinute(ts)
			if surged[hour] == nil {
				surged[hour] = make(map[string]map[string]int64)
			}
			metric := parts[2]
			if surged[hour][metric] == nil {
				surged[hour][metric] = make(map[string]int64)
			}
			surged[hour][metric][raidIdent(parts)] += count
		})
		out := NewOrderedMap()
		for _, h := range sortedHours(surged) {
			inner := NewOrderedMap()
			for _, metric := range raidSeriesMetrics {
				if idents := surged[h][metric]; len(idents) > 0 {
					inner.Set(metric, sortFieldsByNumericParts(idents))
				}
			}
			out.Set(hourLabel(h), inner)
		}
		return Result{Mode: q.Mode, Data: out}, nil
	}
	return emptyResult(q.Mode), nil
}
