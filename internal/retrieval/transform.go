package retrieval

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/keys"
)

// sortFieldsLex packs a flat aggregation with fields in lexicographic
// order.
func sortFieldsLex(flat map[string]int64) *OrderedMap {
	fields := make([]string, 0, len(flat))
	for f := range flat {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	out := NewOrderedMap()
	for _, f := range fields {
		out.Set(f, flat[f])
	}
	return out
}

// sortFieldsByLeadingInt orders fields by the integer value of their
// first colon segment. Fields without a numeric lead sort after the
// numeric ones; ties fall back to the whole field.
func sortFieldsByLeadingInt(flat map[string]int64) *OrderedMap {
	type ranked struct {
		field string
		n     int64
		num   bool
	}
	rs := make([]ranked, 0, len(flat))
	for f := range flat {
		lead, _, _ := strings.Cut(f, ":")
		n, err := strconv.ParseInt(lead, 10, 64)
		rs = append(rs, ranked{field: f, n: n, num: err == nil})
	}
	sort.Slice(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if a.num != b.num {
			return a.num
		}
		if a.num && a.n != b.n {
			return a.n < b.n
		}
		return a.field < b.field
	})
	out := NewOrderedMap()
	for _, r := range rs {
		out.Set(r.field, flat[r.field])
	}
	return out
}

// sortKeysNumericOrLex orders numerically when every key is an unsigned
// integer literal, lexicographically otherwise.
func sortKeysNumericOrLex(flat map[string]int64) *OrderedMap {
	ks := make([]string, 0, len(flat))
	numeric := true
	for k := range flat {
		ks = append(ks, k)
		if _, err := strconv.ParseUint(k, 10, 64); err != nil {
			numeric = false
		}
	}
	if numeric {
		sort.Slice(ks, func(i, j int) bool {
			a, _ := strconv.ParseUint(ks[i], 10, 64)
			b, _ := strconv.ParseUint(ks[j], 10, 64)
			return a < b
		})
	} else {
		sort.Strings(ks)
	}
	out := NewOrderedMap()
	for _, k := range ks {
		out.Set(k, flat[k])
	}
	return out
}

// tthBucketRank places a despawn bucket label in its canonical position;
// unknown labels sink to the end.
func tthBucketRank(bucket string) int {
	for i, b := range keys.TTHBuckets {
		if b == bucket {
			return i
		}
	}
	return 9999
}

func sortedTTHBuckets[V any](m map[string]V) []string {
	bs := make([]string, 0, len(m))
	for b := range m {
		bs = append(bs, b)
	}
	sort.Slice(bs, func(i, j int) bool {
		ri, rj := tthBucketRank(bs[i]), tthBucketRank(bs[j])
		if ri != rj {
			return ri < rj
		}
		return bs[i] < bs[j]
	})
	return bs
}

// sortFieldsByBucket packs a flat aggregation in despawn-bucket order.
func sortFieldsByBucket(flat map[string]int64) *OrderedMap {
	out := NewOrderedMap()
	for _, b := range sortedTTHBuckets(flat) {
		out.Set(b, flat[b])
	}
	return out
}

// lastSegment extracts the metric suffix of a counter field: the final
// colon segment when the field is dimensioned, the whole field otherwise.
func lastSegment(field string) string {
	parts := strings.Split(field, ":")
	if len(parts) >= 3 {
		return parts[len(parts)-1]
	}
	return field
}

// transformTotalsSum folds a flat pokemon aggregation onto the metric
// suffix of each field, metrics in lexicographic order.
func transformTotalsSum(flat map[string]int64) *OrderedMap {
	totals := make(map[string]int64)
	for field, v := range flat {
		totals[lastSegment(field)] += v
	}
	return sortFieldsLex(totals)
}

// transformTotalsGrouped flattens a per-key aggregation into one map
// keyed by field, ordered by the leading pokemon id.
func transformTotalsGrouped(nested map[string]map[string]int64) *OrderedMap {
	return sortFieldsByLeadingInt(sumFields(nested))
}

// hourOfBucketKey pulls the hour out of an hourly counter key's trailing
// bucket token.
func hourOfBucketKey(key string) (int, bool) {
	parts := strings.Split(key, ":")
	if len(parts) < 4 {
		return 0, false
	}
	token := parts[len(parts)-1]
	if len(token) < 2 {
		return 0, false
	}
	hour, err := strconv.Atoi(token[len(token)-2:])
	if err != nil {
		return 0, false
	}
	return hour, true
}

// hourLabel renders an hour-of-day surge bucket label.
func hourLabel(hour int) string { return fmt.Sprintf("hour %d", hour) }

// transformSurgedByHour folds hourly counter hashes onto the hour of day,
// labeled "hour 0" through "hour 23"; inner maps are packed by sortInner.
func transformSurgedByHour(nested map[string]map[string]int64, sortInner func(map[string]int64) *OrderedMap) *OrderedMap {
	byHour := make(map[int]map[string]int64)
	for key, fields := range nested {
		hour, ok := hourOfBucketKey(key)
		if !ok {
			continue
		}
		bucket := byHour[hour]
		if bucket == nil {
			bucket = make(map[string]int64)
			byHour[hour] = bucket
		}
		for field, v := range fields {
			bucket[field] += v
		}
	}
	out := NewOrderedMap()
	for _, h := range sortedHours(byHour) {
		out.Set(hourLabel(h), sortInner(byHour[h]))
	}
	return out
}

func sortedHours[V any](byHour map[int]V) []int {
	hours := make([]int, 0, len(byHour))
	for h := range byHour {
		hours = append(hours, h)
	}
	sort.Ints(hours)
	return hours
}

// transformTTHSum folds a flat despawn aggregation onto the bucket
// suffix, buckets in canonical order.
func transformTTHSum(flat map[string]int64) *OrderedMap {
	totals := make(map[string]int64)
	for field, v := range flat {
		totals[lastSegment(field)] += v
	}
	return sortFieldsByBucket(totals)
}

// transformTTHGrouped averages each despawn bucket across the scanned
// keys, rounded to three decimals.
func transformTTHGrouped(nested map[string]map[string]int64) *OrderedMap {
	combined := make(map[string]int64)
	counts := make(map[string]int64)
	for _, fields := range nested {
		for field, v := range fields {
			bucket := lastSegment(field)
			combined[bucket] += v
			counts[bucket]++
		}
	}
	out := NewOrderedMap()
	for _, b := range sortedTTHBuckets(combined) {
		avg := float64(combined[b]) / float64(counts[b])
		out.Set(b, math.Round(avg*1000)/1000)
	}
	return out
}

// transformRaidSum breaks a flat raid aggregation into the fixed
// dimension views plus a grand total. Fields that are not 7-part raid
// tuples are skipped.
func transformRaidSum(flat map[string]int64) *OrderedMap {
	pokemonForm := make(map[string]int64)
	level := make(map[string]int64)
	costume := make(map[string]int64)
	exclusive := make(map[string]int64)
	exEligible := make(map[string]int64)
	var total int64
	for field, v := range flat {
		parts := strings.Split(field, ":")
		if len(parts) != 7 {
			continue
		}
		pokemonForm[parts[0]+":"+parts[2]] += v
		level[parts[1]] += v
		costume[parts[3]] += v
		exclusive[parts[4]] += v
		exEligible[parts[5]] += v
		total += v
	}
	out := NewOrderedMap()
	out.Set("raid_pokemon+raid_form", sortFieldsLex(pokemonForm))
	out.Set("raid_level", sortKeysNumericOrLex(level))
	out.Set("raid_costume", sortFieldsLex(costume))
	out.Set("raid_is_exclusive", sortFieldsLex(exclusive))
	out.Set("raid_ex_eligible", sortFieldsLex(exEligible))
	out.Set("total", total)
	return out
}

// transformInvasionSum breaks a flat invasion aggregation into the fixed
// dimension views plus a grand total. Fields that are not 5-part
// invasion tuples are skipped.
func transformInvasionSum(flat map[string]int64) *OrderedMap {
	displayCharacter := make(map[string]int64)
	grunt := make(map[string]int64)
	confirmed := make(map[string]int64)
	var total int64
	for field, v := range flat {
		parts := strings.Split(field, ":")
		if len(parts) != 5 {
			continue
		}
		displayCharacter[parts[0]+":"+parts[1]] += v
		grunt[parts[2]] += v
		confirmed[parts[3]] += v
		total += v
	}
	out := NewOrderedMap()
	out.Set("display_type+character", sortFieldsLex(displayCharacter))
	out.Set("grunt", sortKeysNumericOrLex(grunt))
	out.Set("confirmed", sortFieldsLex(confirmed))
	out.Set("total", total)
	return out
}

// transformQuestSum breaks a flat quest aggregation into the per-mode
// split, the reward dimension views, and a grand total. Fields shorter
// than the mode-plus-dimensions prefix, or dimensioned fields without
// the total marker, are skipped.
func transformQuestSum(flat map[string]int64, match func(string) bool) *OrderedMap {
	perMode := make(map[string]int64)
	rewardType := make(map[string]int64)
	rewardItem := make(map[string]int64)
	rewardItemAmount := make(map[string]int64)
	rewardPoke := make(map[string]int64)
	rewardPokeForm := make(map[string]int64)
	var total int64
	for field, v := range flat {
		parts := strings.Split(field, ":")
		if len(parts) < 7 {
			continue
		}
		if len(parts) >= 8 && parts[7] != keys.MetricTotal {
			continue
		}
		if !match(field) {
			continue
		}
		perMode[parts[0]] += v
		rewardType[parts[2]] += v
		rewardItem[parts[3]] += v
		rewardItemAmount[parts[4]] += v
		rewardPoke[parts[5]] += v
		rewardPokeForm[parts[6]] += v
		total += v
	}
	out := NewOrderedMap()
	out.Set("quest_mode", sortFieldsLex(perMode))
	out.Set("reward_type", sortKeysNumericOrLex(rewardType))
	out.Set("reward_item", sortKeysNumericOrLex(rewardItem))
	out.Set("reward_item_amount", sortKeysNumericOrLex(rewardItemAmount))
	out.Set("reward_poke", sortKeysNumericOrLex(rewardPoke))
	out.Set("reward_poke_form", sortKeysNumericOrLex(rewardPokeForm))
	out.Set("total", total)
	return out
}
