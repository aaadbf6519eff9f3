package events

import (
	"encoding/json"
	"fmt"
)

// Quest mode labels as they appear in keys and fields.
const (
	QuestModeAR     = "ar"
	QuestModeNormal = "normal"
)

// Quest is one validated quest event. Details holds the six reward
// dimensions of the event's mode in key order: quest type, reward type,
// item id, item amount, poke id, poke form. Absent dimensions stay "".
type Quest struct {
	AreaName  string
	Pokestop  string
	FirstSeen int64
	ARMode    bool
	Details   [6]string
}

type questMessage struct {
	AreaName  *string     `json:"area_name"`
	Pokestop  *flexString `json:"pokestop_id"`
	FirstSeen *flexInt    `json:"first_seen"`
	WithAR    *flexBool   `json:"with_ar"`

	ARType             *flexString `json:"ar_type"`
	RewardARType       *flexString `json:"reward_ar_type"`
	RewardARItemID     *flexString `json:"reward_ar_item_id"`
	RewardARItemAmount *flexString `json:"reward_ar_item_amount"`
	RewardARPokeID     *flexString `json:"reward_ar_poke_id"`
	RewardARPokeForm   *flexString `json:"reward_ar_poke_form"`

	NormalType             *flexString `json:"normal_type"`
	RewardNormalType       *flexString `json:"reward_normal_type"`
	RewardNormalItemID     *flexString `json:"reward_normal_item_id"`
	RewardNormalItemAmount *flexString `json:"reward_normal_item_amount"`
	RewardNormalPokeID     *flexString `json:"reward_normal_poke_id"`
	RewardNormalPokeForm   *flexString `json:"reward_normal_poke_form"`
}

// ParseQuest validates and constructs a Quest event from a webhook message
// body. The mode comes from with_ar when present, else from whether an
// AR quest type is set.
func ParseQuest(raw json.RawMessage) (*Quest, error) {
	var m questMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: quest payload: %v", ErrInvalidEvent, err)
	}

	var missing []string
	if m.AreaName == nil || *m.AreaName == "" {
		missing = append(missing, "area_name")
	}
	if m.Pokestop == nil {
		missing = append(missing, "pokestop_id")
	}
	if m.FirstSeen == nil {
		missing = append(missing, "first_seen")
	}
	if len(missing) > 0 {
		return nil, invalidf(DomainQuest, missing)
	}

	q := &Quest{
		AreaName:  sanitizeDim(*m.AreaName),
		Pokestop:  string(*m.Pokestop),
		FirstSeen: int64(*m.FirstSeen),
	}
	if m.WithAR != nil {
		q.ARMode = bool(*m.WithAR)
	} else {
		q.ARMode = m.ARType != nil
	}

	if q.ARMode {
		q.Details = [6]string{
			det(m.ARType), det(m.RewardARType), det(m.RewardARItemID),
			det(m.RewardARItemAmount), det(m.RewardARPokeID), det(m.RewardARPokeForm),
		}
	} else {
		q.Details = [6]string{
			det(m.NormalType), det(m.RewardNormalType), det(m.RewardNormalItemID),
			det(m.RewardNormalItemAmount), det(m.RewardNormalPokeID), det(m.RewardNormalPokeForm),
		}
	}
	for i := range q.Details {
		q.Details[i] = sanitizeDim(q.Details[i])
	}
	return q, nil
}

func det(f *flexString) string {
	if f == nil {
		return ""
	}
	return string(*f)
}

// Mode returns the key token for the quest's mode.
func (q *Quest) Mode() string {
	if q.ARMode {
		return QuestModeAR
	}
	return QuestModeNormal
}
