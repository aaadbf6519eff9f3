// Package counters is the write side of the aggregation store. Every
// event feeds a fixed set of counter hashes and per-minute series hashes;
// all increments for one delivery ride a single pipeline round trip.
// Increments are only queued for sub-metrics that actually fired, so
// hashes never hold zero-valued fields.
package counters

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/events"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/keys"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/store"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/pkg/logging"
)

const (
	writeAttempts   = 2
	writeRetryDelay = 150 * time.Millisecond

	// maxPipelineCommands caps one Exec round trip; oversized deliveries
	// split so a huge webhook body cannot grow an unbounded buffer.
	maxPipelineCommands = 500
)

// Writer applies event aggregations against the store.
type Writer struct {
	store  *store.Manager
	logger logging.Logger
}

// NewWriter creates a Writer backed by the shared connection manager.
func NewWriter(st *store.Manager, logger logging.Logger) *Writer {
	return &Writer{store: st, logger: logger}
}

// WriteBatch applies every aggregation for a parsed delivery. Commands
// ride as few pipeline round trips as the cap allows, usually one. An
// empty batch is a no-op.
func (w *Writer) WriteBatch(ctx context.Context, batch *events.Batch) error {
	if batch.Size() == 0 {
		return nil
	}
	client, err := w.store.AcquireFast(ctx, writeAttempts, writeRetryDelay)
	if err != nil {
		return err
	}

	pipe := client.Pipeline()
	exec := func(force bool) error {
		if pipe.Len() == 0 || (!force && pipe.Len() < maxPipelineCommands) {
			return nil
		}
		if _, err := pipe.Exec(ctx); err != nil {
			w.logger.WithError(err).Error("Counter pipeline failed")
			return fmt.Errorf("exec counter pipeline: %w", err)
		}
		pipe = client.Pipeline()
		return nil
	}

	for i := range batch.Pokemon {
		PokemonIn(ctx, pipe, &batch.Pokemon[i])
		if err := exec(false); err != nil {
			return err
		}
	}
	for i := range batch.Raids {
		RaidIn(ctx, pipe, &batch.Raids[i])
		if err := exec(false); err != nil {
			return err
		}
	}
	for i := range batch.Quests {
		QuestIn(ctx, pipe, &batch.Quests[i])
		if err := exec(false); err != nil {
			return err
		}
	}
	for i := range batch.Invasions {
		InvasionIn(ctx, pipe, &batch.Invasions[i])
		if err := exec(false); err != nil {
			return err
		}
	}
	return exec(true)
}

// WritePokemon applies one spawn event.
func (w *Writer) WritePokemon(ctx context.Context, ev *events.Pokemon) error {
	return w.flush(ctx, func(pipe goredis.Pipeliner) { PokemonIn(ctx, pipe, ev) })
}

// WriteRaid applies one raid event.
func (w *Writer) WriteRaid(ctx context.Context, ev *events.Raid) error {
	return w.flush(ctx, func(pipe goredis.Pipeliner) { RaidIn(ctx, pipe, ev) })
}

// WriteQuest applies one quest event.
func (w *Writer) WriteQuest(ctx context.Context, ev *events.Quest) error {
	return w.flush(ctx, func(pipe goredis.Pipeliner) { QuestIn(ctx, pipe, ev) })
}

// WriteInvasion applies one invasion event.
func (w *Writer) WriteInvasion(ctx context.Context, ev *events.Invasion) error {
	return w.flush(ctx, func(pipe goredis.Pipeliner) { InvasionIn(ctx, pipe, ev) })
}

func (w *Writer) flush(ctx context.Context, queue func(goredis.Pipeliner)) error {
	client, err := w.store.AcquireFast(ctx, writeAttempts, writeRetryDelay)
	if err != nil {
		return err
	}
	pipe := client.Pipeline()
	queue(pipe)
	if pipe.Len() == 0 {
		return nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.logger.WithError(err).Error("Counter pipeline failed")
		return fmt.Errorf("exec counter pipeline: %w", err)
	}
	return nil
}

type gatedMetric struct {
	metric string
	hit    bool
}

func pokemonGates(ev *events.Pokemon) []gatedMetric {
	return []gatedMetric{
		{keys.MetricIV100, ev.IV100()},
		{keys.MetricIV0, ev.IV0()},
		{keys.MetricPvPLittle, ev.PvPLittle},
		{keys.MetricPvPGreat, ev.PvPGreat},
		{keys.MetricPvPUltra, ev.PvPUltra},
		{keys.MetricShiny, ev.Shiny},
	}
}

// PokemonIn queues every aggregation one spawn event feeds: weekly and
// hourly counter hashes, despawn-distribution counters, the monthly
// weather-IV counter, and the per-minute series. The weekly hash carries
// an unconditional total field; the hourly hash holds flag metrics only.
func PokemonIn(ctx context.Context, pipe goredis.Pipeliner, ev *events.Pokemon) {
	seen := time.Unix(ev.FirstSeen, 0)
	week := keys.WeekBucket(seen)
	hour := keys.HourBucket(seen)
	minute := keys.MinuteBucket(ev.FirstSeen)
	gates := pokemonGates(ev)

	weekly := keys.Counter(keys.FamilyPokemonTotal, ev.AreaName, week)
	hourly := keys.Counter(keys.FamilyPokemonHourly, ev.AreaName, hour)
	pipe.HIncrBy(ctx, weekly, keys.PokemonField(ev.PokemonID, ev.Form, keys.MetricTotal), 1)
	for _, g := range gates {
		if !g.hit {
			continue
		}
		field := keys.PokemonField(ev.PokemonID, ev.Form, g.metric)
		pipe.HIncrBy(ctx, weekly, field, 1)
		pipe.HIncrBy(ctx, hourly, field, 1)
	}

	if bucket, ok := ev.TTHBucket(); ok {
		pipe.HIncrBy(ctx, keys.Counter(keys.FamilyTTH, ev.AreaName, week), bucket, 1)
		pipe.HIncrBy(ctx, keys.Counter(keys.FamilyTTHHourly, ev.AreaName, hour), bucket, 1)
	}

	if bucket, ok := ev.IVBucket(); ok {
		month := keys.MonthBucket(seen)
		pipe.HIncrBy(ctx, keys.WeatherCounter(ev.AreaName, month, ev.Boosted()), bucket, 1)
	}

	pipe.HIncrBy(ctx, keys.PokemonSeries(keys.MetricTotal, ev.AreaName, ev.PokemonID, ev.Form), minute, 1)
	for _, g := range gates {
		if g.hit {
			pipe.HIncrBy(ctx, keys.PokemonSeries(g.metric, ev.AreaName, ev.PokemonID, ev.Form), minute, 1)
		}
	}

	// The despawn series only trusts verified timers; the counters above
	// accept any in-range timer.
	if ev.DespawnVerified {
		if bucket, ok := ev.TTHBucket(); ok {
			pipe.HIncrBy(ctx, keys.TTHSeries(ev.AreaName, bucket), minute, 1)
		}
	}
}

// RaidIn queues raid aggregations. The weekly counter buckets on the
// scheduled raid start; the hourly counter and the series bucket on first
// sighting.
func RaidIn(ctx context.Context, pipe goredis.Pipeliner, ev *events.Raid) {
	field := keys.RaidField(ev.Pokemon, ev.Level, ev.Form, ev.Costume, ev.Exclusive, ev.ExEligible)
	week := keys.WeekBucket(time.Unix(ev.StartTime, 0))
	hour := keys.HourBucket(time.Unix(ev.FirstSeen, 0))

	pipe.HIncrBy(ctx, keys.Counter(keys.FamilyRaidTotal, ev.AreaName, week), field, 1)
	pipe.HIncrBy(ctx, keys.Counter(keys.FamilyRaidHourly, ev.AreaName, hour), field, 1)

	minute := keys.MinuteBucket(ev.FirstSeen)
	series := []gatedMetric{
		{keys.MetricTotal, true},
		{keys.MetricCostume, ev.Costume != 0},
		{keys.MetricExclusive, ev.Exclusive},
		{keys.MetricExEligible, ev.ExEligible},
	}
	for _, s := range series {
		if s.hit {
			pipe.HIncrBy(ctx, keys.RaidSeries(s.metric, ev.AreaName, ev.Pokemon, ev.Level, ev.Form), minute, 1)
		}
	}
}

// QuestIn queues quest aggregations keyed by mode and reward detail.
func QuestIn(ctx context.Context, pipe goredis.Pipeliner, ev *events.Quest) {
	seen := time.Unix(ev.FirstSeen, 0)
	field := keys.QuestField(ev.Mode(), ev.Details)

	pipe.HIncrBy(ctx, keys.Counter(keys.FamilyQuest, ev.AreaName, keys.WeekBucket(seen)), field, 1)
	pipe.HIncrBy(ctx, keys.Counter(keys.FamilyQuestHourly, ev.AreaName, keys.HourBucket(seen)), field, 1)
	pipe.HIncrBy(ctx, keys.QuestSeries(ev.Mode(), ev.AreaName, ev.Details), keys.MinuteBucket(ev.FirstSeen), 1)
}

// InvasionIn queues invasion aggregations. The series key drops the
// character dimension; the counter field keeps it.
func InvasionIn(ctx context.Context, pipe goredis.Pipeliner, ev *events.Invasion) {
	seen := time.Unix(ev.FirstSeen, 0)
	field := keys.InvasionField(ev.DisplayType, ev.Character, ev.Grunt, ev.Confirmed)

	pipe.HIncrBy(ctx, keys.Counter(keys.FamilyInvasion, ev.AreaName, keys.WeekBucket(seen)), field, 1)
	pipe.HIncrBy(ctx, keys.Counter(keys.FamilyInvasionHourly, ev.AreaName, keys.HourBucket(seen)), field, 1)
	pipe.HIncrBy(ctx, keys.InvasionSeries(ev.AreaName, ev.DisplayType, ev.Grunt, ev.Confirmed), keys.MinuteBucket(ev.FirstSeen), 1)
}
