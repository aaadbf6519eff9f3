package retrieval

import "context"

// invasionIdent renders the reporting identifier display:grunt:confirmed.
func invasionIdent(parts []string) string {
	return parts[4] + ":" + parts[5] + ":" + parts[6]
}

// InvasionSeries reads the per-minute invasion series. The single
// metric class is "total": sum reports its grand total, grouped splits
// it by display:grunt:confirmed, surged folds it onto the hour of day.
func (s *Service) InvasionSeries(ctx context.Context, q InvasionSeriesQuery) (Result, error) {
	hashes, err := s.loadSeries(ctx, q.patterns(), q.matchKey)
	if err != nil || len(hashes) == 0 {
		return emptyResult(q.Mode), err
	}
	switch q.Mode {
	case ModeSum:
		var total int64
		forEachPoint(hashes, q.Start, q.End, func(_ []string, _, count int64) {
			total += count
		})
		out := NewOrderedMap()
		if total != 0 {
			out.Set("total", total)
		}
		return Result{Mode: q.Mode, Data: out}, nil
	case ModeGrouped:
		grouped := make(map[string]int64)
		forEachPoint(hashes, q.Start, q.End, func(parts []string, _, count int64) {
			grouped[invasionIdent(parts)] += count
		})
		out := NewOrderedMap()
		out.Set("total", sortFieldsByNumericParts(dropZero(grouped)))
		return Result{Mode: q.Mode, Data: out}, nil
	case ModeSurged:
		byHour := make(map[int]int64)
		forEachPoint(hashes, q.Start, q.End, func(_ []string, ts, count int64) {
			byHour[hourOfMinute(ts)] += count
		})
		out := NewOrderedMap()
		out.Set("total", hourMapByLabel(byHour))
		return Result{Mode: q.Mode, Data: out}, nil
	}
	return emptyResult(q.Mode), nil
}
