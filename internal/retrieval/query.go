package retrieval

import (
	"strings"
	"time"

	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/keys"
)

// CounterQuery carries the parameters every retrieval shares. Area
// selects one named area or every area when it reads as global; Start
// and End bound the window inclusively.
type CounterQuery struct {
	Area  string
	Start time.Time
	End   time.Time
	Mode  string
}

// PokemonCounterQuery narrows pokemon counter fields. PokemonID and Form
// apply to the dimensioned totals fields; Metric doubles as the despawn
// bucket selector for the TTH families and the IV bucket selector for
// the weather cross-tab.
type PokemonCounterQuery struct {
	CounterQuery
	PokemonID Filter
	Form      Filter
	Metric    Filter
}

// matchTotalsField applies the dimension filters to one pokemon totals
// field, id:form:metric.
func (q PokemonCounterQuery) matchTotalsField(field string) bool {
	parts := strings.Split(field, ":")
	if len(parts) != 3 {
		return false
	}
	return q.PokemonID.Match(parts[0]) && q.Form.Match(parts[1]) && q.Metric.Match(parts[2])
}

// matchBucketField applies the metric filter to a bare bucket field of
// the TTH and weather hashes.
func (q PokemonCounterQuery) matchBucketField(field string) bool {
	return q.Metric.Match(field)
}

// RaidCounterQuery narrows raid counter fields per dimension. A nil
// filter leaves its dimension unconstrained.
type RaidCounterQuery struct {
	CounterQuery
	Pokemon    Filter
	Level      Filter
	Form       Filter
	Costume    Filter
	Exclusive  Filter
	ExEligible Filter
}

// matchField applies the dimension filters to one 7-part raid field.
func (q RaidCounterQuery) matchField(field string) bool {
	parts := strings.Split(field, ":")
	if len(parts) != 7 {
		return false
	}
	return q.Pokemon.Match(parts[0]) &&
		q.Level.Match(parts[1]) &&
		q.Form.Match(parts[2]) &&
		q.Costume.Match(parts[3]) &&
		q.Exclusive.Match(parts[4]) &&
		q.ExEligible.Match(parts[5])
}

// InvasionCounterQuery narrows invasion counter fields. Confirmed is a
// scalar selector: "all" passes both values, anything else must equal
// the field's confirmed token.
type InvasionCounterQuery struct {
	CounterQuery
	DisplayType Filter
	Character   Filter
	Grunt       Filter
	Confirmed   string
}

func (q InvasionCounterQuery) matchField(field string) bool {
	parts := strings.Split(field, ":")
	if len(parts) != 5 {
		return false
	}
	if !q.DisplayType.Match(parts[0]) || !q.Character.Match(parts[1]) || !q.Grunt.Match(parts[2]) {
		return false
	}
	confirmed := strings.ToLower(strings.TrimSpace(q.Confirmed))
	return confirmed == "" || confirmed == "all" || confirmed == parts[3]
}

// QuestSideFilters narrows the six reward dimensions of one quest mode.
type QuestSideFilters struct {
	Type       Filter
	RewardType Filter
	ItemID     Filter
	ItemAmount Filter
	PokeID     Filter
	PokeForm   Filter
}

func (f QuestSideFilters) match(parts []string) bool {
	return f.Type.Match(parts[1]) &&
		f.RewardType.Match(parts[2]) &&
		f.ItemID.Match(parts[3]) &&
		f.ItemAmount.Match(parts[4]) &&
		f.PokeID.Match(parts[5]) &&
		f.PokeForm.Match(parts[6])
}

// QuestCounterQuery narrows quest counter fields. WithAR picks the quest
// mode: "true" keeps AR fields, "false" keeps normal fields, anything
// else keeps both, each side judged by its own filters.
type QuestCounterQuery struct {
	CounterQuery
	WithAR string
	AR     QuestSideFilters
	Normal QuestSideFilters
}

func (q QuestCounterQuery) matchField(field string) bool {
	parts := strings.Split(field, ":")
	if len(parts) < 7 {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(q.WithAR)) {
	case "true":
		return parts[0] == "ar" && q.AR.match(parts)
	case "false":
		return parts[0] == "normal" && q.Normal.match(parts)
	default:
		switch parts[0] {
		case "ar":
			return q.AR.match(parts)
		case "normal":
			return q.Normal.match(parts)
		}
		return false
	}
}

// PokemonSeriesQuery bounds the per-minute pokemon series.
type PokemonSeriesQuery struct {
	CounterQuery
	PokemonID Filter
	Form      Filter
}

func (q PokemonSeriesQuery) patterns(metric string) []string {
	tuples := patternProduct(q.PokemonID.Patterns(), q.Form.Patterns())
	out := make([]string, 0, len(tuples))
	for _, t := range tuples {
		out = append(out, keys.PokemonSeriesPattern(metric, q.Area, t[0], t[1]))
	}
	return out
}

// matchKey re-checks the dimension filters on a scanned key, since glob
// tuples can over-match when the product collapses to a wildcard.
func (q PokemonSeriesQuery) matchKey(parts []string) bool {
	return len(parts) == 6 && q.PokemonID.Match(parts[4]) && q.Form.Match(parts[5])
}

// TTHSeriesQuery bounds the per-minute despawn-distribution series.
type TTHSeriesQuery struct {
	CounterQuery
	Bucket Filter
}

func (q TTHSeriesQuery) patterns() []string {
	bs := q.Bucket.Patterns()
	out := make([]string, 0, len(bs))
	for _, b := range bs {
		out = append(out, keys.TTHSeriesPattern(q.Area, b))
	}
	return out
}

func (q TTHSeriesQuery) matchKey(parts []string) bool {
	return len(parts) == 4 && q.Bucket.Match(parts[3])
}

// RaidSeriesQuery bounds the per-minute raid series.
type RaidSeriesQuery struct {
	CounterQuery
	Pokemon Filter
	Form    Filter
	Level   Filter
}

func (q RaidSeriesQuery) patterns(metric string) []string {
	tuples := patternProduct(q.Pokemon.Patterns(), q.Level.Patterns(), q.Form.Patterns())
	out := make([]string, 0, len(tuples))
	for _, t := range tuples {
		out = append(out, keys.RaidSeriesPattern(metric, q.Area, t[0], t[1], t[2]))
	}
	return out
}

func (q RaidSeriesQuery) matchKey(parts []string) bool {
	return len(parts) == 7 && q.Pokemon.Match(parts[4]) && q.Level.Match(parts[5]) && q.Form.Match(parts[6])
}

// InvasionSeriesQuery bounds the per-minute invasion series.
type InvasionSeriesQuery struct {
	CounterQuery
	DisplayType Filter
	Grunt       Filter
	Confirmed   Filter
}

func (q InvasionSeriesQuery) patterns() []string {
	tuples := patternProduct(q.DisplayType.Patterns(), q.Grunt.Patterns(), q.Confirmed.Patterns())
	out := make([]string, 0, len(tuples))
	for _, t := range tuples {
		out = append(out, keys.InvasionSeriesPattern(q.Area, t[0], t[1], t[2]))
	}
	return out
}

func (q InvasionSeriesQuery) matchKey(parts []string) bool {
	return len(parts) == 7 && q.DisplayType.Match(parts[4]) && q.Grunt.Match(parts[5]) && q.Confirmed.Match(parts[6])
}

// QuestSeriesQuery bounds the per-minute quest series. QuestMode narrows
// the scan to one mode; QuestType post-filters the leading reward
// dimension.
type QuestSeriesQuery struct {
	CounterQuery
	QuestMode string
	QuestType Filter
}

func (q QuestSeriesQuery) patterns() []string {
	mode := q.QuestMode
	if strings.EqualFold(mode, "all") {
		mode = ""
	}
	return []string{keys.QuestSeriesPattern(mode, q.Area)}
}

func (q QuestSeriesQuery) matchKey(parts []string) bool {
	return len(parts) == 10 && q.QuestType.Match(parts[4])
}
