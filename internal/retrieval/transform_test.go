package retrieval

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func marshal(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return string(raw)
}

func TestTransformTotalsSum(t *testing.T) {
	flat := map[string]int64{
		"25:0:total": 3,
		"1:0:total":  2,
		"25:0:iv100": 1,
		"25:0:shiny": 4,
	}
	got := marshal(t, transformTotalsSum(flat))
	assert.Equal(t, `{"iv100":1,"shiny":4,"total":5}`, got)
}

func TestTransformTotalsSumShortFieldFoldsWhole(t *testing.T) {
	got := marshal(t, transformTotalsSum(map[string]int64{"oddball": 7}))
	assert.Equal(t, `{"oddball":7}`, got)
}

func TestTransformTotalsGrouped(t *testing.T) {
	nested := map[string]map[string]int64{
		"counter:pokemon_total:Area:20250310": {"25:1:total": 2, "9:0:total": 1},
		"counter:pokemon_total:Area:20250311": {"25:1:total": 3, "zz:0:total": 8},
	}
	got := marshal(t, transformTotalsGrouped(nested))
	assert.Equal(t, `{"9:0:total":1,"25:1:total":5,"zz:0:total":8}`, got,
		"numeric leads ascend, non-numeric trail")
}

func TestTransformSurgedByHour(t *testing.T) {
	nested := map[string]map[string]int64{
		"counter:pokemon_hourly:Area:2025031714": {"25:0:total": 2},
		"counter:pokemon_hourly:Area:2025031814": {"25:0:total": 3},
		"counter:pokemon_hourly:Area:2025031707": {"9:0:total": 1},
		"badkey": {"25:0:total": 99},
	}
	got := marshal(t, transformSurgedByHour(nested, sortFieldsByLeadingInt))
	assert.Equal(t, `{"hour 7":{"9:0:total":1},"hour 14":{"25:0:total":5}}`, got,
		"same hour of different days folds together, malformed keys drop")
}

func TestTransformTTHSumCanonicalOrder(t *testing.T) {
	flat := map[string]int64{"10_15": 4, "5_10": 2, "0_5": 1}
	got := marshal(t, transformTTHSum(flat))
	assert.Equal(t, `{"0_5":1,"5_10":2,"10_15":4}`, got,
		"bucket rank order, not lexicographic")
}

func TestTransformTTHGroupedAverages(t *testing.T) {
	nested := map[string]map[string]int64{
		"counter:tth_pokemon:Area:20250310": {"10_15": 10},
		"counter:tth_pokemon:Area:20250311": {"10_15": 20},
	}
	got := marshal(t, transformTTHGrouped(nested))
	assert.Equal(t, `{"10_15":15}`, got, "mean across contributing keys, not sum")
}

func TestTransformTTHGroupedRoundsToThousandths(t *testing.T) {
	nested := map[string]map[string]int64{
		"k1": {"0_5": 10},
		"k2": {"0_5": 20},
		"k3": {"0_5": 25},
	}
	got := marshal(t, transformTTHGrouped(nested))
	assert.Equal(t, `{"0_5":18.333}`, got)
}

func TestTransformRaidSum(t *testing.T) {
	flat := map[string]int64{
		"150:5:0:0:0:1:total": 2,
		"6:3:1:0:1:0:total":   1,
		"short:field":         99,
	}
	got := marshal(t, transformRaidSum(flat))
	want := `{` +
		`"raid_pokemon+raid_form":{"150:0":2,"6:1":1},` +
		`"raid_level":{"3":1,"5":2},` +
		`"raid_costume":{"0":3},` +
		`"raid_is_exclusive":{"0":2,"1":1},` +
		`"raid_ex_eligible":{"0":1,"1":2},` +
		`"total":3}`
	assert.Equal(t, want, got)
}

func TestTransformRaidSumMixedLevelsSortLex(t *testing.T) {
	flat := map[string]int64{
		"1:10:0:0:0:0:total":   1,
		"1:9:0:0:0:0:total":    1,
		"1:mega:0:0:0:0:total": 1,
	}
	result := transformRaidSum(flat)
	levels, ok := result.Get("raid_level")
	require.True(t, ok)
	assert.Equal(t, `{"10":1,"9":1,"mega":1}`, marshal(t, levels),
		"a non-numeric level downgrades the whole view to lexicographic order")
}

func TestTransformInvasionSum(t *testing.T) {
	flat := map[string]int64{
		"1:4:50:0:total": 3,
		"2:9:50:1:total": 1,
		"tooshort":       50,
	}
	got := marshal(t, transformInvasionSum(flat))
	want := `{` +
		`"display_type+character":{"1:4":3,"2:9":1},` +
		`"grunt":{"50":4},` +
		`"confirmed":{"0":3,"1":1},` +
		`"total":4}`
	assert.Equal(t, want, got)
}

func TestTransformQuestSum(t *testing.T) {
	flat := map[string]int64{
		"ar:2:7:1:5:0:0:total":       2,
		"normal:4:2:102:1:0:0:total": 3,
		"ar:2:7:1:5:0:0:notes":       99,
		"too:short":                  99,
	}
	got := marshal(t, transformQuestSum(flat, func(string) bool { return true }))
	want := `{` +
		`"quest_mode":{"ar":2,"normal":3},` +
		`"reward_type":{"2":3,"7":2},` +
		`"reward_item":{"1":2,"102":3},` +
		`"reward_item_amount":{"1":3,"5":2},` +
		`"reward_poke":{"0":5},` +
		`"reward_poke_form":{"0":5},` +
		`"total":5}`
	assert.Equal(t, want, got)
}

func TestTransformQuestSumAppliesFilter(t *testing.T) {
	flat := map[string]int64{
		"ar:2:7:1:5:0:0:total":     2,
		"normal:4:2:1:1:0:0:total": 3,
	}
	arOnly := func(field string) bool { return field[:2] == "ar" }
	result := transformQuestSum(flat, arOnly)
	total, ok := result.Get("total")
	require.True(t, ok)
	assert.EqualValues(t, 2, total)
}

func TestSortKeysNumericOrLex(t *testing.T) {
	numeric := marshal(t, sortKeysNumericOrLex(map[string]int64{"10": 1, "9": 2, "100": 3}))
	assert.Equal(t, `{"9":2,"10":1,"100":3}`, numeric)

	mixed := marshal(t, sortKeysNumericOrLex(map[string]int64{"10": 1, "9": 2, "x": 3}))
	assert.Equal(t, `{"10":1,"9":2,"x":3}`, mixed)
}

func TestSortFieldsByLeadingInt(t *testing.T) {
	got := marshal(t, sortFieldsByLeadingInt(map[string]int64{
		"25:1:total": 1,
		"9:0:total":  2,
		"9:0:iv100":  3,
		"x:0:total":  4,
	}))
	assert.Equal(t, `{"9:0:iv100":3,"9:0:total":2,"25:1:total":1,"x:0:total":4}`, got)
}

func TestLessNumericParts(t *testing.T) {
	assert.True(t, lessNumericParts("9:5:1", "10:0:0"))
	assert.True(t, lessNumericParts("25:0:1", "25:0:2"))
	assert.True(t, lessNumericParts("25:0", "25:0:1"), "prefix sorts first")
	assert.True(t, lessNumericParts("25:a:1", "25:b:0"), "non-numeric segments compare lexicographically")
	assert.False(t, lessNumericParts("25:0:2", "25:0:1"))
}
