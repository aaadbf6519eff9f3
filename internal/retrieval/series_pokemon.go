package retrieval

import (
	"context"

	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/keys"
)

// PokemonSeries reads the per-minute pokemon series across all seven
// metrics. Sum reports one total per metric, omitting metrics that
// never counted; grouped splits each metric by pokemon:form; surged
// folds each metric onto the hour of day.
func (s *Service) PokemonSeries(ctx context.Context, q PokemonSeriesQuery) (Result, error) {
	var patterns []string
	for _, metric := range keys.PokemonMetrics {
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
			grouped[metric][parts[4]+":"+parts[5]] += count
		})
		out := NewOrderedMap()
		for _, metric := range keys.PokemonMetrics {
			out.Set(metric, sortFieldsByNumericParts(dropZero(grouped[metric])))
		}
		return Result{Mode: q.Mode, Data: out}, nil
	case ModeSurged:
		surged := make(map[string]map[int]int64)
		forEachPoint(hashes, q.Start, q.End, func(parts []string, ts, count int64) {
			metric := parts[2]
			if surged[metric] == nil {
				surged[metric] = make(map[int]int64)
			}
			surged[metric][hourOfMinute(ts)] += count
		})
		out := NewOrderedMap()
		for _, metric := range keys.PokemonMetrics {
			out.Set(metric, hourMapByLabel(surged[metric]))
		}
		return Result{Mode: q.Mode, Data: out}, nil
	}
	return emptyResult(q.Mode), nil
}
