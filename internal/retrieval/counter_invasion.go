package retrieval

import (
	"context"

	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/keys"
)

// InvasionTotalsWeekly reads the weekly invasion counters.
func (s *Service) InvasionTotalsWeekly(ctx context.Context, q InvasionCounterQuery) (Result, error) {
	hashes, err := s.loadCounters(ctx, keys.FamilyInvasion, keys.LayoutDay, -1, q.CounterQuery)
	if err != nil || len(hashes) == 0 {
		return emptyResult(q.Mode), err
	}
	switch q.Mode {
	case ModeSum:
		return Result{Mode: q.Mode, Data: transformInvasionSum(filterFlat(sumFields(hashes), q.matchField))}, nil
	case ModeGrouped:
		return Result{Mode: q.Mode, Data: sortFieldsByLeadingInt(filterFlat(sumFields(hashes), q.matchField))}, nil
	}
	return emptyResult(q.Mode), nil
}

// InvasionTotalsHourly reads the hourly invasion counters; surged folds
// them onto the hour of day.
func (s *Service) InvasionTotalsHourly(ctx context.Context, q InvasionCounterQuery) (Result, error) {
	hashes, err := s.loadCounters(ctx, keys.FamilyInvasionHourly, keys.LayoutHour, -1, q.CounterQuery)
	if err != nil || len(hashes) == 0 {
		return emptyResult(q.Mode), err
	}
	switch q.Mode {
	case ModeSum:
		return Result{Mode: q.Mode, Data: transformInvasionSum(filterFlat(sumFields(hashes), q.matchField))}, nil
	case ModeGrouped:
		return Result{Mode: q.Mode, Data: sortFieldsByLeadingInt(filterFlat(sumFields(hashes), q.matchField))}, nil
	case ModeSurged:
		return Result{Mode: q.Mode, Data: transformSurgedByHour(filterNested(hashes, q.matchField), sortFieldsByLeadingInt)}, nil
	}
	return emptyResult(q.Mode), nil
}
