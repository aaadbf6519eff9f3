package events

import (
	"encoding/json"
	"fmt"
)

// Raid is one validated raid event.
type Raid struct {
	Pokemon    int64
	Level      int64
	Form       int64
	Costume    int64
	Exclusive  bool
	ExEligible bool
	AreaName   string
	FirstSeen  int64 // unix seconds the raid egg was first seen
	StartTime  int64 // unix seconds the raid battle opens
}

type raidMessage struct {
	Pokemon    *flexInt  `json:"raid_pokemon"`
	Level      *flexInt  `json:"raid_level"`
	Form       *flexInt  `json:"raid_form"`
	Costume    *flexInt  `json:"raid_costume"`
	Exclusive  *flexBool `json:"raid_is_exclusive"`
	ExEligible *flexBool `json:"raid_ex_raid_eligible"`
	AreaName   *string   `json:"area_name"`
	FirstSeen  *flexInt  `json:"raid_first_seen"`
	StartTime  *flexInt  `json:"raid_start"`
}

// ParseRaid validates and constructs a Raid event from a webhook message
// body. raid_start falls back to raid_first_seen when the sender omits it.
func ParseRaid(raw json.RawMessage) (*Raid, error) {
	var m raidMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: raid payload: %v", ErrInvalidEvent, err)
	}

	var missing []string
	if m.Pokemon == nil {
		missing = append(missing, "raid_pokemon")
	}
	if m.Level == nil {
		missing = append(missing, "raid_level")
	}
	if m.AreaName == nil || *m.AreaName == "" {
		missing = append(missing, "area_name")
	}
	if m.FirstSeen == nil {
		missing = append(missing, "raid_first_seen")
	}
	if len(missing) > 0 {
		return nil, invalidf(DomainRaid, missing)
	}

	r := &Raid{
		Pokemon:   int64(*m.Pokemon),
		Level:     int64(*m.Level),
		AreaName:  sanitizeDim(*m.AreaName),
		FirstSeen: int64(*m.FirstSeen),
	}
	if m.Form != nil {
		r.Form = int64(*m.Form)
	}
	if m.Costume != nil {
		r.Costume = int64(*m.Costume)
	}
	if m.Exclusive != nil {
		r.Exclusive = bool(*m.Exclusive)
	}
	if m.ExEligible != nil {
		r.ExEligible = bool(*m.ExEligible)
	}
	if m.StartTime != nil {
		r.StartTime = int64(*m.StartTime)
	} else {
		r.StartTime = r.FirstSeen
	}
	return r, nil
}
