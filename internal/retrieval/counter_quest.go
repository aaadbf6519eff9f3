package retrieval

import (
	"context"

	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/keys"
)

// QuestTotalsWeekly reads the weekly quest counters. Sum produces the
// mode split plus the reward dimension views; grouped keeps the full
// mode-and-reward tuples.
func (s *Service) QuestTotalsWeekly(ctx context.Context, q QuestCounterQuery) (Result, error) {
	hashes, err := s.loadCounters(ctx, keys.FamilyQuest, keys.LayoutDay, -1, q.CounterQuery)
	if err != nil || len(hashes) == 0 {
		return emptyResult(q.Mode), err
	}
	switch q.Mode {
	case ModeSum:
		return Result{Mode: q.Mode, Data: transformQuestSum(sumFields(hashes), q.matchField)}, nil
	case ModeGrouped:
		return Result{Mode: q.Mode, Data: sortFieldsByLeadingInt(filterFlat(sumFields(hashes), q.matchField))}, nil
	}
	return emptyResult(q.Mode), nil
}

// QuestTotalsHourly reads the hourly quest counters; surged folds them
// onto the hour of day.
func (s *Service) QuestTotalsHourly(ctx context.Context, q QuestCounterQuery) (Result, error) {
	hashes, err := s.loadCounters(ctx, keys.FamilyQuestHourly, keys.LayoutHour, -1, q.CounterQuery)
	if err != nil || len(hashes) == 0 {
		return emptyResult(q.Mode), err
	}
	switch q.Mode {
	case ModeSum:
		return Result{Mode: q.Mode, Data: transformQuestSum(sumFields(hashes), q.matchField)}, nil
	case ModeGrouped:
		return Result{Mode: q.Mode, Data: sortFieldsByLeadingInt(filterFlat(sumFields(hashes), q.matchField))}, nil
	case ModeSurged:
		return Result{Mode: q.Mode, Data: transformSurgedByHour(filterNested(hashes, q.matchField), sortFieldsByLeadingInt)}, nil
	}
	return emptyResult(q.Mode), nil
}
