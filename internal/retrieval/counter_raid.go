package retrieval

import (
	"context"

	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/keys"
)

// RaidTotalsWeekly reads the weekly raid counters. Sum produces the
// fixed dimension breakdowns, grouped the filtered per-tuple split.
// Weekly data has no hour token to surge on.
func (s *Service) RaidTotalsWeekly(ctx context.Context, q RaidCounterQuery) (Result, error) {
	hashes, err := s.loadCounters(ctx, keys.FamilyRaidTotal, keys.LayoutDay, -1, q.CounterQuery)
	if err != nil || len(hashes) == 0 {
		return emptyResult(q.Mode), err
	}
	switch q.Mode {
	case ModeSum:
		return Result{Mode: q.Mode, Data: transformRaidSum(filterFlat(sumFields(hashes), q.matchField))}, nil
	case ModeGrouped:
		return Result{Mode: q.Mode, Data: sortFieldsByLeadingInt(filterFlat(sumFields(hashes), q.matchField))}, nil
	}
	return emptyResult(q.Mode), nil
}

// RaidTotalsHourly reads the hourly raid counters; surged folds them
// onto the hour of day with the same dimension filters applied.
func (s *Service) RaidTotalsHourly(ctx context.Context, q RaidCounterQuery) (Result, error) {
	hashes, err := s.loadCounters(ctx, keys.FamilyRaidHourly, keys.LayoutHour, -1, q.CounterQuery)
	if err != nil || len(hashes) == 0 {
		return emptyResult(q.Mode), err
	}
	switch q.Mode {
	case ModeSum:
		return Result{Mode: q.Mode, Data: transformRaidSum(filterFlat(sumFields(hashes), q.matchField))}, nil
	case ModeGrouped:
		return Result{Mode: q.Mode, Data: sortFieldsByLeadingInt(filterFlat(sumFields(hashes), q.matchField))}, nil
	case ModeSurged:
		return Result{Mode: q.Mode, Data: transformSurgedByHour(filterNested(hashes, q.matchField), sortFieldsByLeadingInt)}, nil
	}
	return emptyResult(q.Mode), nil
}
