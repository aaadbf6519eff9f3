package maintenance

import (
	"time"

	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/keys"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/pkg/config"
)

// Retention holds the per-family windows the sweeper prunes against.
// Weather counters age out with the pokemon window since they feed the
// same monthly views.
type Retention struct {
	Pokemon  time.Duration
	TTH      time.Duration
	Raid     time.Duration
	Invasion time.Duration
	Quest    time.Duration
}

// DefaultRetention keeps pokemon data for 30 days and everything else
// for a week.
func DefaultRetention() Retention {
	return Retention{
		Pokemon:  720 * time.Hour,
		TTH:      168 * time.Hour,
		Raid:     168 * time.Hour,
		Invasion: 168 * time.Hour,
		Quest:    168 * time.Hour,
	}
}

// RetentionFromEnv reads the RETENTION_*_HOURS knobs, falling back to
// the defaults for anything unset.
func RetentionFromEnv() Retention {
	def := DefaultRetention()
	hours := func(key string, fallback time.Duration) time.Duration {
		return time.Duration(config.GetEnvInt(key, int(fallback/time.Hour))) * time.Hour
	}
	return Retention{
		Pokemon:  hours("RETENTION_POKEMON_HOURS", def.Pokemon),
		TTH:      hours("RETENTION_TTH_HOURS", def.TTH),
		Raid:     hours("RETENTION_RAID_HOURS", def.Raid),
		Invasion: hours("RETENTION_INVASION_HOURS", def.Invasion),
		Quest:    hours("RETENTION_QUEST_HOURS", def.Quest),
	}
}

// seriesTarget is one minute-series key family: fields are epoch-second
// minute buckets, so aged fields are pruned inside each hash.
type seriesTarget struct {
	pattern   string
	retention time.Duration
}

// counterTarget is one counter key family: age lives in the key's
// bucket token, so whole keys are dropped once their coverage window
// falls behind the cutoff. bucketIdx counts from the end of the
// colon-split key, matching the weather layout's trailing boost token.
type counterTarget struct {
	family    string
	layout    string
	bucketIdx int
	retention time.Duration
}

func (r Retention) seriesTargets() []seriesTarget {
	return []seriesTarget{
		{"ts:pokemon_totals:*", r.Pokemon},
		{"ts:tth_pokemon:*", r.TTH},
		{"ts:raids_total:*", r.Raid},
		{"ts:invasion:*", r.Invasion},
		{"ts:quests_total:*", r.Quest},
	}
}

func (r Retention) counterTargets() []counterTarget {
	return []counterTarget{
		{keys.FamilyPokemonTotal, keys.LayoutDay, -1, r.Pokemon},
		{keys.FamilyPokemonHourly, keys.LayoutHour, -1, r.Pokemon},
		{keys.FamilyTTH, keys.LayoutDay, -1, r.TTH},
		{keys.FamilyTTHHourly, keys.LayoutHour, -1, r.TTH},
		{keys.FamilyRaidTotal, keys.LayoutDay, -1, r.Raid},
		{keys.FamilyRaidHourly, keys.LayoutHour, -1, r.Raid},
		{keys.FamilyInvasion, keys.LayoutDay, -1, r.Invasion},
		{keys.FamilyInvasionHourly, keys.LayoutHour, -1, r.Invasion},
		{keys.FamilyQuest, keys.LayoutDay, -1, r.Quest},
		{keys.FamilyQuestHourly, keys.LayoutHour, -1, r.Quest},
		{keys.FamilyWeatherIV, keys.LayoutMonth, -2, r.Pokemon},
	}
}

// counterExpiry returns the instant a counter bucket stops covering new
// data: weekly hashes are keyed by their Monday, hourly by the hour and
// weather by the month.
func counterExpiry(layout string, bucket time.Time) time.Time {
	switch layout {
	case keys.LayoutHour:
		return bucket.Add(time.Hour)
	case keys.LayoutMonth:
		return bucket.AddDate(0, 1, 0)
	default:
		return bucket.AddDate(0, 0, 7)
	}
}
