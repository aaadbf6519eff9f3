package retrieval

import (
	"context"
	"sort"
	"strings"
)

// questIdent renders the reporting identifier: the six reward dimensions
// joined, quest type leading.
func questIdent(parts []string) string {
	return strings.Join(parts[4:], ":")
}

// QuestSeries reads the per-minute quest series. Sum reports per-mode
// totals; grouped nests each mode's total with its per-identifier
// details; surged carries both an overall per-mode fold and the
// detailed split under each hour of day.
func (s *Service) QuestSeries(ctx context.Context, q QuestSeriesQuery) (Result, error) {
	hashes, err := s.loadSeries(ctx, q.patterns(), q.matchKey)
	if err != nil || len(hashes) == 0 {
		return emptyResult(q.Mode), err
	}
	switch q.Mode {
	case ModeSum:
		perMode := make(map[string]int64)
		forEachPoint(hashes, q.Start, q.End, func(parts []string, _, count int64) {
			perMode[parts[2]] += count
		})
		out := NewOrderedMap()
		out.Set("total", sortFieldsLex(dropZero(perMode)))
		return Result{Mode: q.Mode, Data: out}, nil
	case ModeGrouped:
		perMode := make(map[string]int64)
		details := make(map[string]map[string]int64)
		forEachPoint(hashes, q.Start, q.End, func(parts []string, _, count int64) {
			mode := parts[2]
			perMode[mode] += count
			if details[mode] == nil {
				details[mode] = make(map[string]int64)
			}
			details[mode][questIdent(parts)] += count
		})
		modes := make([]string, 0, len(perMode))
		for m := range perMode {
			modes = append(modes, m)
		}
		sort.Strings(modes)
		byMode := NewOrderedMap()
		for _, m := range modes {
			entry := NewOrderedMap()
			entry.Set("total", perMode[m])
			entry.Set("details", sortFieldsByLeadingInt(dropZero(details[m])))
			byMode.Set(m, entry)
		}
		out := NewOrderedMap()
		out.Set("total", byMode)
		return Result{Mode: q.Mode, Data: out}, nil
	case ModeSurged:
		overall := make(map[int]map[string]int64)
		detailed := make(map[int]map[string]map[string]int64)
		forEachPoint(hashes, q.Start, q.End, func(parts []string, ts, count int64) {
			hour := hourOfMinute(ts)
			mode := parts[2]
			if overall[hour] == nil {
				overall[hour] = make(map[string]int64)
			}
			overall[hour][mode] += count
			if detailed[hour] == nil {
				detailed[hour] = make(map[string]map[string]int64)
			}
			if detailed[hour][mode] == nil {
				detailed[hour][mode] = make(map[string]int64)
			}
			detailed[hour][mode][questIdent(parts)] += count
		})
		out := NewOrderedMap()
		for _, h := range sortedHours(overall) {
			modes := make([]string, 0, len(overall[h]))
			for m := range overall[h] {
				modes = append(modes, m)
			}
			sort.Strings(modes)
			overallOut := NewOrderedMap()
			detailedOut := NewOrderedMap()
			for _, m := range modes {
				overallOut.Set(m, overall[h][m])
				detailedOut.Set(m, sortFieldsByLeadingInt(detailed[h][m]))
			}
			payload := NewOrderedMap()
			payload.Set("overall", overallOut)
			payload.Set("detailed", detailedOut)
			out.Set(hourLabel(h), payload)
		}
		return Result{Mode: q.Mode, Data: out}, nil
	}
	return emptyResult(q.Mode), nil
}
