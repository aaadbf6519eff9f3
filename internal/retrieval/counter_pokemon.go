package retrieval

import (
	"context"
	"sort"
	"strings"

	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/keys"
)

// PokemonTotalsWeekly reads the weekly pokemon counters. Sum folds onto
// the metric suffix, grouped keeps the id:form:metric split, surged
// passes the per-key aggregation through untransformed.
func (s *Service) PokemonTotalsWeekly(ctx context.Context, q PokemonCounterQuery) (Result, error) {
	hashes, err := s.loadCounters(ctx, keys.FamilyPokemonTotal, keys.LayoutDay, -1, q.CounterQuery)
	if err != nil || len(hashes) == 0 {
		return emptyResult(q.Mode), err
	}
	hashes = filterNested(hashes, q.matchTotalsField)
	switch q.Mode {
	case ModeSum:
		return Result{Mode: q.Mode, Data: transformTotalsSum(sumFields(hashes))}, nil
	case ModeGrouped:
		return Result{Mode: q.Mode, Data: transformTotalsGrouped(hashes)}, nil
	case ModeSurged:
		return Result{Mode: q.Mode, Data: nestedPassthrough(hashes)}, nil
	}
	return emptyResult(q.Mode), nil
}

// PokemonTotalsHourly reads the hourly pokemon counters; surged folds
// them onto the hour of day.
func (s *Service) PokemonTotalsHourly(ctx context.Context, q PokemonCounterQuery) (Result, error) {
	hashes, err := s.loadCounters(ctx, keys.FamilyPokemonHourly, keys.LayoutHour, -1, q.CounterQuery)
	if err != nil || len(hashes) == 0 {
		return emptyResult(q.Mode), err
	}
	hashes = filterNested(hashes, q.matchTotalsField)
	switch q.Mode {
	case ModeSum:
		return Result{Mode: q.Mode, Data: transformTotalsSum(sumFields(hashes))}, nil
	case ModeGrouped:
		return Result{Mode: q.Mode, Data: transformTotalsGrouped(hashes)}, nil
	case ModeSurged:
		return Result{Mode: q.Mode, Data: transformSurgedByHour(hashes, sortFieldsByLeadingInt)}, nil
	}
	return emptyResult(q.Mode), nil
}

// PokemonTTHWeekly reads the weekly despawn-distribution counters.
// Grouped averages each bucket across the contributing days instead of
// summing.
func (s *Service) PokemonTTHWeekly(ctx context.Context, q PokemonCounterQuery) (Result, error) {
	hashes, err := s.loadCounters(ctx, keys.FamilyTTH, keys.LayoutDay, -1, q.CounterQuery)
	if err != nil || len(hashes) == 0 {
		return emptyResult(q.Mode), err
	}
	hashes = filterNested(hashes, q.matchBucketField)
	switch q.Mode {
	case ModeSum:
		return Result{Mode: q.Mode, Data: transformTTHSum(sumFields(hashes))}, nil
	case ModeGrouped:
		return Result{Mode: q.Mode, Data: transformTTHGrouped(hashes)}, nil
	case ModeSurged:
		return Result{Mode: q.Mode, Data: nestedPassthrough(hashes)}, nil
	}
	return emptyResult(q.Mode), nil
}

// PokemonTTHHourly reads the hourly despawn-distribution counters.
func (s *Service) PokemonTTHHourly(ctx context.Context, q PokemonCounterQuery) (Result, error) {
	hashes, err := s.loadCounters(ctx, keys.FamilyTTHHourly, keys.LayoutHour, -1, q.CounterQuery)
	if err != nil || len(hashes) == 0 {
		return emptyResult(q.Mode), err
	}
	hashes = filterNested(hashes, q.matchBucketField)
	switch q.Mode {
	case ModeSum:
		return Result{Mode: q.Mode, Data: transformTTHSum(sumFields(hashes))}, nil
	case ModeGrouped:
		return Result{Mode: q.Mode, Data: transformTTHGrouped(hashes)}, nil
	case ModeSurged:
		return Result{Mode: q.Mode, Data: transformSurgedByHour(hashes, sortFieldsByBucket)}, nil
	}
	return emptyResult(q.Mode), nil
}

// PokemonWeatherMonthly reads the monthly weather/IV cross-tab. The
// boost flag trails the month token, so the window check parses the
// second-to-last key segment. Sum splits by boost flag, grouped by
// month:boost; there is no surged shape at monthly granularity.
func (s *Service) PokemonWeatherMonthly(ctx context.Context, q PokemonCounterQuery) (Result, error) {
	hashes, err := s.loadCounters(ctx, keys.FamilyWeatherIV, keys.LayoutMonth, -2, q.CounterQuery)
	if err != nil || len(hashes) == 0 {
		return emptyResult(q.Mode), err
	}
	hashes = filterNested(hashes, q.matchBucketField)
	groupKey := func(parts []string) string { return parts[len(parts)-1] }
	if q.Mode == ModeGrouped {
		groupKey = func(parts []string) string {
			return parts[len(parts)-2] + ":" + parts[len(parts)-1]
		}
	}
	if q.Mode != ModeSum && q.Mode != ModeGrouped {
		return emptyResult(q.Mode), nil
	}
	grouped := make(map[string]map[string]int64)
	for key, fields := range hashes {
		parts := strings.Split(key, ":")
		if len(parts) < 5 {
			continue
		}
		g := groupKey(parts)
		inner := grouped[g]
		if inner == nil {
			inner = make(map[string]int64)
			grouped[g] = inner
		}
		for field, v := range fields {
			inner[field] += v
		}
	}
	groups := make([]string, 0, len(grouped))
	for g := range grouped {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	out := NewOrderedMap()
	for _, g := range groups {
		out.Set(g, sortKeysNumericOrLex(grouped[g]))
	}
	return Result{Mode: q.Mode, Data: out}, nil
}
