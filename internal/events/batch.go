package events

import (
	"encoding/json"
	"fmt"
)

// Batch is the parsed form of one webhook delivery, grouped by domain.
// Envelopes that fail validation or carry types this service does not
// aggregate are counted so ingest can report them without failing the
// whole delivery.
type Batch struct {
	Pokemon   []Pokemon
	Raids     []Raid
	Quests    []Quest
	Invasions []Invasion

	Invalid     int
	Unsupported int
}

// Size reports how many events survived parsing.
func (b *Batch) Size() int {
	return len(b.Pokemon) + len(b.Raids) + len(b.Quests) + len(b.Invasions)
}

// ParseBatch decodes a webhook body holding either one envelope or an
// array of envelopes. It errors only when the body is not valid JSON of
// either shape; per-event failures are tallied on the batch.
func ParseBatch(body []byte) (*Batch, error) {
	var envs []Envelope
	if err := json.Unmarshal(body, &envs); err != nil {
		var single Envelope
		if err := json.Unmarshal(body, &single); err != nil {
			return nil, fmt.Errorf("%w: body is neither an event nor an event array", ErrInvalidEvent)
		}
		envs = []Envelope{single}
	}

	batch := &Batch{}
	for _, env := range envs {
		switch env.Type {
		case DomainPokemon:
			ev, err := ParsePokemon(env.Message)
			if err != nil {
				batch.Invalid++
				continue
			}
			batch.Pokemon = append(batch.Pokemon, *ev)
		case DomainRaid:
			ev, err := ParseRaid(env.Message)
			if err != nil {
				batch.Invalid++
				continue
			}
			batch.Raids = append(batch.Raids, *ev)
		case DomainQuest:
			ev, err := ParseQuest(env.Message)
			if err != nil {
				batch.Invalid++
				continue
			}
			batch.Quests = append(batch.Quests, *ev)
		case DomainInvasion:
			ev, err := ParseInvasion(env.Message)
			if err != nil {
				batch.Invalid++
				continue
			}
			batch.Invasions = append(batch.Invasions, *ev)
		default:
			batch.Unsupported++
		}
	}
	return batch, nil
}
