package events

import (
	"encoding/json"
	"fmt"
)

// Invasion is one validated Rocket invasion event.
type Invasion struct {
	DisplayType int64
	Character   int64
	Grunt       int64
	Confirmed   bool
	AreaName    string
	FirstSeen   int64 // unix seconds the invasion was first seen
}

type invasionMessage struct {
	DisplayType *flexInt  `json:"invasion_type"`
	Character   *flexInt  `json:"invasion_character"`
	Grunt       *flexInt  `json:"invasion_grunt_type"`
	Confirmed   *flexBool `json:"invasion_confirmed"`
	AreaName    *string   `json:"area_name"`
	FirstSeen   *flexInt  `json:"invasion_first_seen"`
}

// ParseInvasion validates and constructs an Invasion event from a webhook
// message body. An absent confirmed flag counts as unconfirmed.
func ParseInvasion(raw json.RawMessage) (*Invasion, error) {
	var m invasionMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: invasion payload: %v", ErrInvalidEvent, err)
	}

	var missing []string
	if m.DisplayType == nil {
		missing = append(missing, "invasion_type")
	}
	if m.Character == nil {
		missing = append(missing, "invasion_character")
	}
	if m.Grunt == nil {
		missing = append(missing, "invasion_grunt_type")
	}
	if m.AreaName == nil || *m.AreaName == "" {
		missing = append(missing, "area_name")
	}
	if m.FirstSeen == nil {
		missing = append(missing, "invasion_first_seen")
	}
	if len(missing) > 0 {
		return nil, invalidf(DomainInvasion, missing)
	}

	inv := &Invasion{
		DisplayType: int64(*m.DisplayType),
		Character:   int64(*m.Character),
		Grunt:       int64(*m.Grunt),
		AreaName:    sanitizeDim(*m.AreaName),
		FirstSeen:   int64(*m.FirstSeen),
	}
	if m.Confirmed != nil {
		inv.Confirmed = bool(*m.Confirmed)
	}
	return inv, nil
}

// ConfirmedDim renders the confirmed flag the way counter fields encode
// it, as "0" or "1".
func (i *Invasion) ConfirmedDim() string { return boolDim(i.Confirmed) }
