// Package keys is the single home of the store key schema: every counter
// hash key, time-series key, hash field, glob pattern, and time-bucket
// token is built or parsed here. Pure logic, no I/O.
//
// Counter hashes live under "counter:{family}:{area}:{bucket}" with
// colon-joined dimension tuples as fields. Time-series hashes live under
// "ts:{family}:…" with one field per minute bucket.
package keys

import (
	"strconv"
	"strings"
	"time"
)

// Counter hash families.
const (
	FamilyPokemonTotal   = "pokemon_total"
	FamilyPokemonHourly  = "pokemon_hourly"
	FamilyTTH            = "tth_pokemon"
	FamilyTTHHourly      = "tth_pokemon_hourly"
	FamilyRaidTotal      = "raid_total"
	FamilyRaidHourly     = "raid_hourly"
	FamilyInvasion       = "invasion"
	FamilyInvasionHourly = "invasion_hourly"
	FamilyQuest          = "quest"
	FamilyQuestHourly    = "quest_hourly"
	FamilyWeatherIV      = "pokemon_weather_iv"
)

// Sub-metric names shared by pokemon counter fields and series keys.
const (
	MetricTotal     = "total"
	MetricIV100     = "iv100"
	MetricIV0       = "iv0"
	MetricPvPLittle = "pvp_little"
	MetricPvPGreat  = "pvp_great"
	MetricPvPUltra  = "pvp_ultra"
	MetricShiny     = "shiny"
)

// Raid series metrics beyond total.
const (
	MetricCostume    = "costume"
	MetricExclusive  = "exclusive"
	MetricExEligible = "ex_raid_eligible"
)

// Bucket token layouts.
const (
	LayoutDay   = "20060102"
	LayoutHour  = "2006010215"
	LayoutMonth = "200601"
)

// PokemonMetrics lists the pokemon sub-metrics in their reporting order.
var PokemonMetrics = []string{
	MetricTotal, MetricIV100, MetricIV0,
	MetricPvPLittle, MetricPvPGreat, MetricPvPUltra, MetricShiny,
}

// TTHBuckets lists the despawn-timer bucket labels in ascending order.
var TTHBuckets = []string{
	"0_5", "5_10", "10_15", "15_20", "20_25", "25_30",
	"30_35", "35_40", "40_45", "45_50", "50_55", "55_60",
}

// WeekBucket renders the Monday of t's week as YYYYMMDD. Weekly counters
// for a whole week accumulate under that single date token.
func WeekBucket(t time.Time) string {
	daysBack := (int(t.Weekday()) + 6) % 7
	return t.AddDate(0, 0, -daysBack).Format(LayoutDay)
}

// HourBucket renders t as YYYYMMDDHH.
func HourBucket(t time.Time) string { return t.Format(LayoutHour) }

// MonthBucket renders t as YYYYMM.
func MonthBucket(t time.Time) string { return t.Format(LayoutMonth) }

// MinuteBucket rounds a unix timestamp down to the minute and renders the
// rounded value in seconds. Series hash fields use this token.
func MinuteBucket(ts int64) string {
	return strconv.FormatInt((ts/60)*60, 10)
}

// ParseBucket parses a bucket token in the given layout, in local time.
// Tokens of a finer granularity than the layout fail, which is what drops
// hourly keys out of a day-layout scan.
func ParseBucket(layout, token string) (time.Time, error) {
	return time.ParseInLocation(layout, token, time.Local)
}

// ParseMinuteBucket parses a series hash field back into unix seconds.
func ParseMinuteBucket(field string) (int64, bool) {
	ts, err := strconv.ParseInt(field, 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

// Counter builds a counter hash key.
func Counter(family, area, bucket string) string {
	return "counter:" + family + ":" + area + ":" + bucket
}

// WeatherCounter builds the monthly weather/IV cross-tab key, which
// carries the boost flag as a trailing dimension after the month token.
func WeatherCounter(area, month string, boosted bool) string {
	return "counter:" + FamilyWeatherIV + ":" + area + ":" + month + ":" + boolTok(boosted)
}

// AreaIsGlobal reports whether an area selector means "every area".
func AreaIsGlobal(area string) bool {
	switch strings.ToLower(area) {
	case "", "global", "all":
		return true
	}
	return false
}

// CounterPattern builds the scan glob for one counter family, widening to
// all areas for a global selector.
func CounterPattern(family, area string) string {
	if AreaIsGlobal(area) {
		return "counter:" + family + ":*"
	}
	return "counter:" + family + ":" + area + ":*"
}

// PokemonField builds a pokemon counter hash field.
func PokemonField(pokemonID, form int64, metric string) string {
	return itoa(pokemonID) + ":" + itoa(form) + ":" + metric
}

// RaidField builds the 7-part raid counter hash field.
func RaidField(pokemon, level, form, costume int64, exclusive, exEligible bool) string {
	return strings.Join([]string{
		itoa(pokemon), itoa(level), itoa(form), itoa(costume),
		boolTok(exclusive), boolTok(exEligible), MetricTotal,
	}, ":")
}

// InvasionField builds the 5-part invasion counter hash field.
func InvasionField(displayType, character, grunt int64, confirmed bool) string {
	return strings.Join([]string{
		itoa(displayType), itoa(character), itoa(grunt), boolTok(confirmed), MetricTotal,
	}, ":")
}

// QuestField builds the 8-part quest counter hash field: mode, the six
// reward dimensions, and the total marker.
func QuestField(mode string, details [6]string) string {
	parts := make([]string, 0, 8)
	parts = append(parts, mode)
	parts = append(parts, details[:]...)
	parts = append(parts, MetricTotal)
	return strings.Join(parts, ":")
}

// PokemonSeries builds a per-minute pokemon series key.
func PokemonSeries(metric, area string, pokemonID, form int64) string {
	return "ts:pokemon_totals:" + metric + ":" + area + ":" + itoa(pokemonID) + ":" + itoa(form)
}

// TTHSeries builds a per-minute despawn-distribution series key.
func TTHSeries(area, tthBucket string) string {
	return "ts:tth_pokemon:" + area + ":" + tthBucket
}

// RaidSeries builds a per-minute raid series key. The key orders level
// before form; read-side identifiers reorder to pokemon:form:level.
func RaidSeries(metric, area string, pokemon, level, form int64) string {
	return "ts:raids_total:" + metric + ":" + area + ":" + itoa(pokemon) + ":" + itoa(level) + ":" + itoa(form)
}

// InvasionSeries builds a per-minute invasion series key.
func InvasionSeries(area string, displayType, grunt int64, confirmed bool) string {
	return "ts:invasion:total:" + area + ":" + itoa(displayType) + ":" + itoa(grunt) + ":" + boolTok(confirmed)
}

// QuestSeries builds a per-minute quest series key carrying the mode and
// all six reward dimensions.
func QuestSeries(mode, area string, details [6]string) string {
	return "ts:quests_total:" + mode + ":" + area + ":" + strings.Join(details[:], ":")
}

// SeriesPattern joins pattern segments with the key delimiter, widening
// empty segments to a glob star.
func SeriesPattern(prefix string, segments ...string) string {
	parts := make([]string, 0, len(segments)+1)
	parts = append(parts, prefix)
	for _, s := range segments {
		parts = append(parts, orWild(s))
	}
	return strings.Join(parts, ":")
}

// PokemonSeriesPattern builds the scan glob for pokemon series keys.
// Empty or "all" segments widen to a star, as does a global area.
func PokemonSeriesPattern(metric, area, pokemonID, form string) string {
	return SeriesPattern("ts:pokemon_totals", metric, areaSeg(area), pokemonID, form)
}

// TTHSeriesPattern builds the scan glob for despawn series keys.
func TTHSeriesPattern(area, tthBucket string) string {
	return SeriesPattern("ts:tth_pokemon", areaSeg(area), tthBucket)
}

// RaidSeriesPattern builds the scan glob for raid series keys.
func RaidSeriesPattern(metric, area, pokemon, level, form string) string {
	return SeriesPattern("ts:raids_total", metric, areaSeg(area), pokemon, level, form)
}

// InvasionSeriesPattern builds the scan glob for invasion series keys.
func InvasionSeriesPattern(area, displayType, grunt, confirmed string) string {
	return SeriesPattern("ts:invasion:total", areaSeg(area), displayType, grunt, confirmed)
}

// QuestSeriesPattern builds the scan glob for quest series keys. The six
// reward dimensions stay unconstrained; reads post-filter them.
func QuestSeriesPattern(mode, area string) string {
	return SeriesPattern("ts:quests_total", mode, areaSeg(area)) + ":*"
}

func areaSeg(area string) string {
	if AreaIsGlobal(area) {
		return "*"
	}
	return area
}

func orWild(s string) string {
	if s == "" || strings.EqualFold(s, "all") {
		return "*"
	}
	return s
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }

func boolTok(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
