package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/retrieval"
)

// totalsParams validates counter_type and interval for the routes that
// only serve the totals family. Reports the interval on success.
func totalsParams(c *gin.Context, mode string) (string, bool) {
	counterType := strings.ToLower(c.DefaultQuery("counter_type", "totals"))
	if counterType != "totals" {
		badRequest(c, "Invalid counter_type. Must be totals.")
		return "", false
	}
	interval := strings.ToLower(c.Query("interval"))
	if interval != "hourly" && interval != "weekly" {
		badRequest(c, "Interval must be hourly or weekly.")
		return "", false
	}
	if mode == retrieval.ModeSurged && interval != "hourly" {
		badRequest(c, "Surged mode is only supported for hourly intervals.")
		return "", false
	}
	return interval, true
}

// GetPokemonCounters serves the pokemon counter families: totals and tth
// at hourly or weekly grain, and the weather IV cross-tab at monthly
// grain.
func (h *Handler) GetPokemonCounters(c *gin.Context) {
	w, ok := parseWindow(c)
	if !ok {
		return
	}
	counterType := strings.ToLower(c.Query("counter_type"))
	switch counterType {
	case "totals", "tth", "weather":
	default:
		badRequest(c, "Invalid counter_type. Must be totals, tth, or weather.")
		return
	}
	interval := strings.ToLower(c.Query("interval"))
	if counterType == "weather" {
		if interval != "monthly" {
			badRequest(c, "For weather, interval must be monthly.")
			return
		}
	} else if interval != "hourly" && interval != "weekly" {
		badRequest(c, "For totals and tth, interval must be hourly or weekly.")
		return
	}
	if w.mode == retrieval.ModeSurged && interval != "hourly" {
		badRequest(c, "Surged mode is only supported for hourly intervals.")
		return
	}

	pokemonID := retrieval.NewFilter(c.Query("pokemon_id"))
	form := retrieval.NewFilter(c.Query("form"))
	metric := retrieval.NewFilter(c.Query("metric"))

	h.respond(c, queryPokemonCounters, w, func(ctx context.Context, area string) (retrieval.Result, error) {
		q := retrieval.PokemonCounterQuery{
			CounterQuery: w.counterQuery(area),
			PokemonID:    pokemonID,
			Form:         form,
			Metric:       metric,
		}
		switch {
		case counterType == "weather":
			return h.retrieval.PokemonWeatherMonthly(ctx, q)
		case counterType == "tth" && interval == "hourly":
			return h.retrieval.PokemonTTHHourly(ctx, q)
		case counterType == "tth":
			return h.retrieval.PokemonTTHWeekly(ctx, q)
		case interval == "hourly":
			return h.retrieval.PokemonTotalsHourly(ctx, q)
		default:
			return h.retrieval.PokemonTotalsWeekly(ctx, q)
		}
	}, counterError)
}

// GetRaidCounters serves the raid totals counters at hourly or weekly
// grain, narrowed by the raid dimension filters.
func (h *Handler) GetRaidCounters(c *gin.Context) {
	w, ok := parseWindow(c)
	if !ok {
		return
	}
	interval, ok := totalsParams(c, w.mode)
	if !ok {
		return
	}

	pokemon := retrieval.NewFilter(c.Query("raid_pokemon"))
	form := retrieval.NewFilter(c.Query("raid_form"))
	level := retrieval.NewFilter(c.Query("raid_level"))
	costume := retrieval.NewFilter(c.Query("raid_costume"))
	exclusive := retrieval.NewFilter(c.Query("raid_is_exclusive"))
	exEligible := retrieval.NewFilter(c.Query("raid_ex_eligible"))

	h.respond(c, queryRaidCounters, w, func(ctx context.Context, area string) (retrieval.Result, error) {
		q := retrieval.RaidCounterQuery{
			CounterQuery: w.counterQuery(area),
			Pokemon:      pokemon,
			Form:         form,
			Level:        level,
			Costume:      costume,
			Exclusive:    exclusive,
			ExEligible:   exEligible,
		}
		if interval == "hourly" {
			return h.retrieval.RaidTotalsHourly(ctx, q)
		}
		return h.retrieval.RaidTotalsWeekly(ctx, q)
	}, counterError)
}

// GetInvasionCounters serves the invasion totals counters at hourly or
// weekly grain.
func (h *Handler) GetInvasionCounters(c *gin.Context) {
	w, ok := parseWindow(c)
	if !ok {
		return
	}
	interval, ok := totalsParams(c, w.mode)
	if !ok {
		return
	}

	displayType := retrieval.NewFilter(c.Query("display_type"))
	character := retrieval.NewFilter(c.Query("character"))
	grunt := retrieval.NewFilter(c.Query("grunt"))
	confirmed := c.DefaultQuery("confirmed", "all")

	h.respond(c, queryInvasionCounters, w, func(ctx context.Context, area string) (retrieval.Result, error) {
		q := retrieval.InvasionCounterQuery{
			CounterQuery: w.counterQuery(area),
			DisplayType:  displayType,
			Character:    character,
			Grunt:        grunt,
			Confirmed:    confirmed,
		}
		if interval == "hourly" {
			return h.retrieval.InvasionTotalsHourly(ctx, q)
		}
		return h.retrieval.InvasionTotalsWeekly(ctx, q)
	}, counterError)
}

// GetQuestCounters serves the quest totals counters at hourly or weekly
// grain. with_ar picks the quest mode; each mode carries its own reward
// filters.
func (h *Handler) GetQuestCounters(c *gin.Context) {
	w, ok := parseWindow(c)
	if !ok {
		return
	}
	interval, ok := totalsParams(c, w.mode)
	if !ok {
		return
	}
	withAR := strings.ToLower(c.DefaultQuery("with_ar", "all"))
	switch withAR {
	case "true", "false", "all":
	default:
		badRequest(c, "with_ar must be 'true', 'false', or 'all'.")
		return
	}

	ar := retrieval.QuestSideFilters{
		Type:       retrieval.NewFilter(c.Query("ar_type")),
		RewardType: retrieval.NewFilter(c.Query("reward_ar_type")),
		ItemID:     retrieval.NewFilter(c.Query("reward_ar_item_id")),
		ItemAmount: retrieval.NewFilter(c.Query("reward_ar_item_amount")),
		PokeID:     retrieval.NewFilter(c.Query("reward_ar_poke_id")),
		PokeForm:   retrieval.NewFilter(c.Query("reward_ar_poke_form")),
	}
	normal := retrieval.QuestSideFilters{
		Type:       retrieval.NewFilter(c.Query("normal_type")),
		RewardType: retrieval.NewFilter(c.Query("reward_normal_type")),
		ItemID:     retrieval.NewFilter(c.Query("reward_normal_item_id")),
		ItemAmount: retrieval.NewFilter(c.Query("reward_normal_item_amount")),
		PokeID:     retrieval.NewFilter(c.Query("reward_normal_poke_id")),
		PokeForm:   retrieval.NewFilter(c.Query("reward_normal_poke_form")),
	}

	h.respond(c, queryQuestCounters, w, func(ctx context.Context, area string) (retrieval.Result, error) {
		q := retrieval.QuestCounterQuery{
			CounterQuery: w.counterQuery(area),
			WithAR:       withAR,
			AR:           ar,
			Normal:       normal,
		}
		if interval == "hourly" {
			return h.retrieval.QuestTotalsHourly(ctx, q)
		}
		return h.retrieval.QuestTotalsWeekly(ctx, q)
	}, counterError)
}
