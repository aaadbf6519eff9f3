package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/counters"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/events"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/keys"
)

// dayBase is a UTC midnight, so tsAt(h, m) lands on hour h of one day
// regardless of the host timezone.
const dayBase = int64(1728000000)

func tsAt(hour, minute int64) int64 { return dayBase + hour*3600 + minute*60 }

func dayWindow(mode string) CounterQuery {
	return CounterQuery{
		Area:  "Lisbon",
		Start: time.Unix(dayBase, 0),
		End:   time.Unix(dayBase+86400, 0),
		Mode:  mode,
	}
}

func TestPokemonSeriesWriterRoundtrip(t *testing.T) {
	mgr, _ := newMemManager(t)
	svc := NewService(mgr, quietLogger())
	w := counters.NewWriter(mgr, quietLogger())

	ev := &events.Pokemon{
		PokemonID:       25,
		AreaName:        "Lisbon",
		FirstSeen:       tsAt(13, 7),
		DespawnSec:      250,
		IV:              100,
		Shiny:           true,
		DespawnVerified: true,
	}
	require.NoError(t, w.WritePokemon(context.Background(), ev))

	sum, err := svc.PokemonSeries(context.Background(),
		PokemonSeriesQuery{CounterQuery: dayWindow(ModeSum)})
	require.NoError(t, err)
	assert.Equal(t, `{"iv100":1,"shiny":1,"total":1}`, marshal(t, sum.Data),
		"metrics that never counted stay out")

	surged, err := svc.PokemonSeries(context.Background(),
		PokemonSeriesQuery{CounterQuery: dayWindow(ModeSurged)})
	require.NoError(t, err)
	assert.Equal(t, `{"total":{"hour 13":1},"iv100":{"hour 13":1},"iv0":{},`+
		`"pvp_little":{},"pvp_great":{},"pvp_ultra":{},"shiny":{"hour 13":1}}`,
		marshal(t, surged.Data))

	tth, err := svc.TTHSeries(context.Background(),
		TTHSeriesQuery{CounterQuery: dayWindow(ModeSum)})
	require.NoError(t, err)
	assert.Equal(t, `{"0_5":1}`, marshal(t, tth.Data),
		"a verified 250s timer lands in the first despawn bucket")

	seen := time.Unix(ev.FirstSeen, 0)
	y, mo, d := seen.Date()
	day := time.Date(y, mo, d, 0, 0, 0, 0, time.Local)
	monday := day.AddDate(0, 0, -int((day.Weekday()+6)%7))
	week := CounterQuery{Area: "Lisbon", Start: monday, End: monday.AddDate(0, 0, 7), Mode: ModeSum}
	counter, err := svc.PokemonTotalsWeekly(context.Background(), PokemonCounterQuery{CounterQuery: week})
	require.NoError(t, err)
	assert.Equal(t, `{"iv100":1,"shiny":1,"total":1}`, marshal(t, counter.Data))

	month := CounterQuery{
		Area:  "Lisbon",
		Start: time.Date(y, mo, 1, 0, 0, 0, 0, time.Local),
		End:   time.Date(y, mo, 1, 0, 0, 0, 0, time.Local).AddDate(0, 1, 0),
		Mode:  ModeSum,
	}
	weather, err := svc.PokemonWeatherMonthly(context.Background(), PokemonCounterQuery{CounterQuery: month})
	require.NoError(t, err)
	assert.Equal(t, `{"0":{"100":1}}`, marshal(t, weather.Data),
		"a perfect unboosted spawn counts once under the clear-sky flag")
}

func TestPokemonSeriesWindowIsHalfOpen(t *testing.T) {
	svc, mem := newMemService(t)
	key := keys.PokemonSeries(keys.MetricTotal, "Lisbon", 25, 0)
	mem.seed(key, keys.MinuteBucket(tsAt(10, 0)), 2)
	mem.seed(key, keys.MinuteBucket(tsAt(12, 0)), 5)

	q := PokemonSeriesQuery{CounterQuery: CounterQuery{
		Area:  "Lisbon",
		Start: time.Unix(tsAt(10, 0), 0),
		End:   time.Unix(tsAt(12, 0), 0),
		Mode:  ModeSum,
	}}
	res, err := svc.PokemonSeries(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, `{"total":2}`, marshal(t, res.Data),
		"the point at the window end stays out")
}

func TestPokemonSeriesGroupedFiltersAndSorts(t *testing.T) {
	svc, mem := newMemService(t)
	minute := keys.MinuteBucket(tsAt(9, 0))
	mem.seed(keys.PokemonSeries(keys.MetricTotal, "Lisbon", 25, 0), minute, 2)
	mem.seed(keys.PokemonSeries(keys.MetricTotal, "Lisbon", 150, 1), minute, 3)
	mem.seed(keys.PokemonSeries(keys.MetricTotal, "Lisbon", 9, 2), minute, 7)

	q := PokemonSeriesQuery{
		CounterQuery: dayWindow(ModeGrouped),
		PokemonID:    NewFilter("25,150"),
	}
	res, err := svc.PokemonSeries(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, `{"total":{"25:0":2,"150:1":3},"iv100":{},"iv0":{},`+
		`"pvp_little":{},"pvp_great":{},"pvp_ultra":{},"shiny":{}}`,
		marshal(t, res.Data))
}

func TestRaidSeries(t *testing.T) {
	svc, mem := newMemService(t)
	total := keys.RaidSeries(keys.MetricTotal, "Lisbon", 150, 5, 1)
	eligible := keys.RaidSeries(keys.MetricExEligible, "Lisbon", 150, 5, 1)
	mem.seed(total, keys.MinuteBucket(tsAt(9, 0)), 1)
	mem.seed(total, keys.MinuteBucket(tsAt(9, 30)), 1)
	mem.seed(eligible, keys.MinuteBucket(tsAt(9, 0)), 1)

	sum, err := svc.RaidSeries(context.Background(), RaidSeriesQuery{CounterQuery: dayWindow(ModeSum)})
	require.NoError(t, err)
	assert.Equal(t, `{"ex_raid_eligible":1,"total":2}`, marshal(t, sum.Data))

	grouped, err := svc.RaidSeries(context.Background(), RaidSeriesQuery{CounterQuery: dayWindow(ModeGrouped)})
	require.NoError(t, err)
	assert.Equal(t, `{"total":{"150:1:5":2},"costume":{},"exclusive":{},"ex_raid_eligible":{"150:1:5":1}}`,
		marshal(t, grouped.Data),
		"identifiers read pokemon:form:level even though keys store level first")

	surged, err := svc.RaidSeries(context.Background(), RaidSeriesQuery{CounterQuery: dayWindow(ModeSurged)})
	require.NoError(t, err)
	assert.Equal(t, `{"hour 9":{"total":{"150:1:5":2},"ex_raid_eligible":{"150:1:5":1}}}`,
		marshal(t, surged.Data),
		"surged hours only carry the metrics that counted")
}

func TestInvasionSeries(t *testing.T) {
	svc, mem := newMemService(t)
	key := keys.InvasionSeries("Lisbon", 1, 50, false)
	mem.seed(key, keys.MinuteBucket(tsAt(8, 0)), 3)

	sum, err := svc.InvasionSeries(context.Background(), InvasionSeriesQuery{CounterQuery: dayWindow(ModeSum)})
	require.NoError(t, err)
	assert.Equal(t, `{"total":3}`, marshal(t, sum.Data))

	grouped, err := svc.InvasionSeries(context.Background(), InvasionSeriesQuery{CounterQuery: dayWindow(ModeGrouped)})
	require.NoError(t, err)
	assert.Equal(t, `{"total":{"1:50:0":3}}`, marshal(t, grouped.Data))

	surged, err := svc.InvasionSeries(context.Background(), InvasionSeriesQuery{CounterQuery: dayWindow(ModeSurged)})
	require.NoError(t, err)
	assert.Equal(t, `{"total":{"hour 8":3}}`, marshal(t, surged.Data))

	empty := InvasionSeriesQuery{CounterQuery: CounterQuery{
		Area:  "Lisbon",
		Start: time.Unix(tsAt(20, 0), 0),
		End:   time.Unix(tsAt(21, 0), 0),
		Mode:  ModeSum,
	}}
	eres, err := svc.InvasionSeries(context.Background(), empty)
	require.NoError(t, err)
	assert.Equal(t, `{}`, marshal(t, eres.Data), "a zero grand total is omitted entirely")
}

func TestQuestSeries(t *testing.T) {
	svc, mem := newMemService(t)
	ar := keys.QuestSeries("ar", "Lisbon", [6]string{"2", "7", "1", "5", "0", "0"})
	normal := keys.QuestSeries("normal", "Lisbon", [6]string{"4", "2", "102", "1", "0", "0"})
	mem.seed(ar, keys.MinuteBucket(tsAt(11, 0)), 2)
	mem.seed(normal, keys.MinuteBucket(tsAt(11, 30)), 3)

	sum, err := svc.QuestSeries(context.Background(),
		QuestSeriesQuery{CounterQuery: dayWindow(ModeSum), QuestMode: "all"})
	require.NoError(t, err)
	assert.Equal(t, `{"total":{"ar":2,"normal":3}}`, marshal(t, sum.Data))

	grouped, err := svc.QuestSeries(context.Background(),
		QuestSeriesQuery{CounterQuery: dayWindow(ModeGrouped), QuestMode: "all"})
	require.NoError(t, err)
	assert.Equal(t, `{"total":{`+
		`"ar":{"total":2,"details":{"2:7:1:5:0:0":2}},`+
		`"normal":{"total":3,"details":{"4:2:102:1:0:0":3}}}}`,
		marshal(t, grouped.Data))

	surged, err := svc.QuestSeries(context.Background(),
		QuestSeriesQuery{CounterQuery: dayWindow(ModeSurged), QuestMode: "all"})
	require.NoError(t, err)
	assert.Equal(t, `{"hour 11":{`+
		`"overall":{"ar":2,"normal":3},`+
		`"detailed":{"ar":{"2:7:1:5:0:0":2},"normal":{"4:2:102:1:0:0":3}}}}`,
		marshal(t, surged.Data))

	typed, err := svc.QuestSeries(context.Background(), QuestSeriesQuery{
		CounterQuery: dayWindow(ModeSum),
		QuestMode:    "all",
		QuestType:    NewFilter("2"),
	})
	require.NoError(t, err)
	assert.Equal(t, `{"total":{"ar":2}}`, marshal(t, typed.Data))

	arOnly, err := svc.QuestSeries(context.Background(),
		QuestSeriesQuery{CounterQuery: dayWindow(ModeSum), QuestMode: "ar"})
	require.NoError(t, err)
	assert.Equal(t, `{"total":{"ar":2}}`, marshal(t, arOnly.Data))
}

func seedTTHFixture(mem *memStore) {
	mid := keys.TTHSeries("Lisbon", "10_15")
	early := keys.TTHSeries("Lisbon", "0_5")
	mem.seed(mid, keys.MinuteBucket(tsAt(9, 0)), 4)
	mem.seed(mid, keys.MinuteBucket(tsAt(9, 5)), 1)
	mem.seed(mid, keys.MinuteBucket(tsAt(21, 0)), 2)
	mem.seed(early, keys.MinuteBucket(tsAt(9, 0)), 7)
	mem.seed(early, keys.MinuteBucket(dayBase-60), 9) // before the window
}

func TestTTHSeriesClientAndScriptedAgree(t *testing.T) {
	svc, mem := newMemService(t)
	seedTTHFixture(mem)

	for _, mode := range []string{ModeSum, ModeGrouped, ModeSurged} {
		q := TTHSeriesQuery{CounterQuery: dayWindow(mode)}
		client, err := svc.TTHSeries(context.Background(), q)
		require.NoError(t, err, mode)
		scripted, err := svc.TTHSeriesScripted(context.Background(), q)
		require.NoError(t, err, mode)
		assert.Equal(t, marshal(t, client.Data), marshal(t, scripted.Data), mode)
	}

	sum, err := svc.TTHSeries(context.Background(), TTHSeriesQuery{CounterQuery: dayWindow(ModeSum)})
	require.NoError(t, err)
	assert.Equal(t, `{"0_5":7,"10_15":7}`, marshal(t, sum.Data))

	surged, err := svc.TTHSeriesScripted(context.Background(), TTHSeriesQuery{CounterQuery: dayWindow(ModeSurged)})
	require.NoError(t, err)
	assert.Equal(t, `{"0_5":{"hour 9":7},"10_15":{"hour 9":5,"hour 21":2}}`, marshal(t, surged.Data))
}

func TestTTHSeriesScriptedRecoversFromFlushedScripts(t *testing.T) {
	svc, mem := newMemService(t)
	seedTTHFixture(mem)
	mem.failEvalShaOnce = true

	q := TTHSeriesQuery{CounterQuery: dayWindow(ModeSum), Bucket: NewFilter("0_5")}
	res, err := svc.TTHSeriesScripted(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, `{"0_5":7}`, marshal(t, res.Data))
}

func TestSeriesStoreDownReturnsEmptyEnvelope(t *testing.T) {
	svc := newDownService(t)
	res, err := svc.PokemonSeries(context.Background(),
		PokemonSeriesQuery{CounterQuery: dayWindow(ModeSum)})
	require.NoError(t, err)
	assert.Equal(t, ModeSum, res.Mode)
	assert.Equal(t, `{}`, marshal(t, res.Data))
}
