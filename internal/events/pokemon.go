package events

import (
	"encoding/json"
	"fmt"
	"math"
)

// Pokemon is one validated spawn event. Derived flags are computed once
// here so the write path never re-inspects raw payload fields.
type Pokemon struct {
	PokemonID  int64
	Form       int64
	AreaName   string
	Spawnpoint string
	FirstSeen  int64 // unix seconds of first sighting
	DespawnSec int64 // seconds until despawn at first sighting
	IV         float64
	Shiny      bool
	PvPLittle  bool // holds a rank-1 little league placement
	PvPGreat   bool
	PvPUltra   bool
	Weather    int64
	// DespawnVerified reports whether the scanner confirmed the despawn
	// time from the spawnpoint history. Only verified timers feed the
	// despawn-distribution series.
	DespawnVerified bool
}

type pvpEntry struct {
	Rank *int `json:"rank"`
}

type pokemonMessage struct {
	PokemonID             *flexInt    `json:"pokemon_id"`
	Form                  *flexInt    `json:"form"`
	AreaName              *string     `json:"area_name"`
	FirstSeen             *flexInt    `json:"first_seen"`
	DisappearTime         *flexInt    `json:"disappear_time"`
	DespawnTimer          *flexInt    `json:"despawn_timer"`
	IV                    *float64    `json:"iv"`
	IndividualAttack      *flexInt    `json:"individual_attack"`
	IndividualDefense     *flexInt    `json:"individual_defense"`
	IndividualStamina     *flexInt    `json:"individual_stamina"`
	Shiny                 *flexBool   `json:"shiny"`
	Weather               *flexInt    `json:"weather"`
	DisappearTimeVerified *flexBool   `json:"disappear_time_verified"`
	SpawnpointID          *flexString `json:"spawnpoint_id"`

	// Flat rank lists as the upstream filter emits them, or the raw
	// nested pvp object when the sender skips that normalization.
	PvPLittleRank []int                 `json:"pvp_little_rank"`
	PvPGreatRank  []int                 `json:"pvp_great_rank"`
	PvPUltraRank  []int                 `json:"pvp_ultra_rank"`
	PvP           map[string][]pvpEntry `json:"pvp"`
}

// ParsePokemon validates and constructs a Pokemon event from a webhook
// message body.
func ParsePokemon(raw json.RawMessage) (*Pokemon, error) {
	var m pokemonMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: pokemon payload: %v", ErrInvalidEvent, err)
	}

	var missing []string
	if m.PokemonID == nil {
		missing = append(missing, "pokemon_id")
	}
	if m.AreaName == nil || *m.AreaName == "" {
		missing = append(missing, "area_name")
	}
	if m.FirstSeen == nil {
		missing = append(missing, "first_seen")
	}
	if m.SpawnpointID == nil {
		missing = append(missing, "spawnpoint_id")
	}
	if m.DespawnTimer == nil && m.DisappearTime == nil {
		missing = append(missing, "despawn_timer")
	}
	hasStats := m.IndividualAttack != nil && m.IndividualDefense != nil && m.IndividualStamina != nil
	if m.IV == nil && !hasStats {
		missing = append(missing, "iv")
	}
	if len(missing) > 0 {
		return nil, invalidf(DomainPokemon, missing)
	}

	p := &Pokemon{
		PokemonID:  int64(*m.PokemonID),
		AreaName:   sanitizeDim(*m.AreaName),
		Spawnpoint: string(*m.SpawnpointID),
		FirstSeen:  int64(*m.FirstSeen),
	}
	if m.Form != nil {
		p.Form = int64(*m.Form)
	}
	if m.DespawnTimer != nil {
		p.DespawnSec = int64(*m.DespawnTimer)
	} else {
		p.DespawnSec = int64(*m.DisappearTime) - p.FirstSeen
	}
	if m.IV != nil {
		p.IV = *m.IV
	} else {
		sum := float64(*m.IndividualAttack + *m.IndividualDefense + *m.IndividualStamina)
		p.IV = math.Round(sum/45*100*100) / 100
	}
	if m.Shiny != nil {
		p.Shiny = bool(*m.Shiny)
	}
	if m.Weather != nil {
		p.Weather = int64(*m.Weather)
	}
	if m.DisappearTimeVerified != nil {
		p.DespawnVerified = bool(*m.DisappearTimeVerified)
	}
	p.PvPLittle = topRank(m.PvPLittleRank, m.PvP, "little")
	p.PvPGreat = topRank(m.PvPGreatRank, m.PvP, "great")
	p.PvPUltra = topRank(m.PvPUltraRank, m.PvP, "ultra")
	return p, nil
}

// topRank reports whether a league holds a #1 placement, preferring the
// flat list when present.
func topRank(flat []int, nested map[string][]pvpEntry, league string) bool {
	for _, r := range flat {
		if r == 1 {
			return true
		}
	}
	if len(flat) > 0 {
		return false
	}
	for _, e := range nested[league] {
		if e.Rank != nil && *e.Rank == 1 {
			return true
		}
	}
	return false
}

// IV100 reports a perfect-IV spawn.
func (p *Pokemon) IV100() bool { return p.IV == 100 }

// IV0 reports a zero-IV spawn.
func (p *Pokemon) IV0() bool { return p.IV == 0 }

// TTHBucket classifies the despawn countdown into a 5-minute-wide bucket
// label ("0_5" … "55_60"). ok is false for non-positive timers and timers
// of an hour or more; those events skip the despawn distributions.
func (p *Pokemon) TTHBucket() (string, bool) {
	if p.DespawnSec <= 0 {
		return "", false
	}
	min := p.DespawnSec / 60
	if min >= 60 {
		return "", false
	}
	lo := (min / 5) * 5
	return fmt.Sprintf("%d_%d", lo, lo+5), true
}

// IVBucket maps the IV percentage onto the coarse quality buckets used by
// the weather counters: exact 0 and 100 stand alone, everything else
// rounds up to 25/50/75/90/95. ok is false outside 0..100.
func (p *Pokemon) IVBucket() (string, bool) {
	iv := p.IV
	switch {
	case iv < 0 || iv > 100:
		return "", false
	case iv == 0:
		return "0", true
	case iv == 100:
		return "100", true
	case iv <= 25:
		return "25", true
	case iv <= 50:
		return "50", true
	case iv <= 75:
		return "75", true
	case iv <= 90:
		return "90", true
	default:
		return "95", true
	}
}

// Boosted reports whether the spawn was weather boosted.
func (p *Pokemon) Boosted() bool { return p.Weather != 0 }
