package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/retrieval"
)

// GetPokemonTimeSeries serves the per-minute pokemon series.
func (h *Handler) GetPokemonTimeSeries(c *gin.Context) {
	w, ok := parseWindow(c)
	if !ok {
		return
	}
	pokemonID := retrieval.NewFilter(c.Query("pokemon_id"))
	form := retrieval.NewFilter(c.Query("form"))

	h.respond(c, queryPokemonSeries, w, func(ctx context.Context, area string) (retrieval.Result, error) {
		return h.retrieval.PokemonSeries(ctx, retrieval.PokemonSeriesQuery{
			CounterQuery: w.counterQuery(area),
			PokemonID:    pokemonID,
			Form:         form,
		})
	}, seriesError(w.mode))
}

// GetTTHTimeSeries serves the per-minute despawn-distribution series.
func (h *Handler) GetTTHTimeSeries(c *gin.Context) {
	w, ok := parseWindow(c)
	if !ok {
		return
	}
	bucket := retrieval.NewFilter(c.Query("tth_bucket"))

	run := h.retrieval.TTHSeries
	if h.TTHScripted {
		run = h.retrieval.TTHSeriesScripted
	}
	h.respond(c, queryTTHSeries, w, func(ctx context.Context, area string) (retrieval.Result, error) {
		return run(ctx, retrieval.TTHSeriesQuery{
			CounterQuery: w.counterQuery(area),
			Bucket:       bucket,
		})
	}, seriesError(w.mode))
}

// GetRaidTimeSeries serves the per-minute raid series.
func (h *Handler) GetRaidTimeSeries(c *gin.Context) {
	w, ok := parseWindow(c)
	if !ok {
		return
	}
	pokemon := retrieval.NewFilter(c.Query("raid_pokemon"))
	form := retrieval.NewFilter(c.Query("raid_form"))
	level := retrieval.NewFilter(c.Query("raid_level"))

	h.respond(c, queryRaidSeries, w, func(ctx context.Context, area string) (retrieval.Result, error) {
		return h.retrieval.RaidSeries(ctx, retrieval.RaidSeriesQuery{
			CounterQuery: w.counterQuery(area),
			Pokemon:      pokemon,
			Form:         form,
			Level:        level,
		})
	}, seriesError(w.mode))
}

// GetInvasionTimeSeries serves the per-minute invasion series.
func (h *Handler) GetInvasionTimeSeries(c *gin.Context) {
	w, ok := parseWindow(c)
	if !ok {
		return
	}
	displayType := retrieval.NewFilter(c.Query("display"))
	grunt := retrieval.NewFilter(c.Query("grunt"))
	confirmed := retrieval.NewFilter(c.Query("confirmed"))

	h.respond(c, queryInvasionSeries, w, func(ctx context.Context, area string) (retrieval.Result, error) {
		return h.retrieval.InvasionSeries(ctx, retrieval.InvasionSeriesQuery{
			CounterQuery: w.counterQuery(area),
			DisplayType:  displayType,
			Grunt:        grunt,
			Confirmed:    confirmed,
		})
	}, seriesError(w.mode))
}

// GetQuestTimeSeries serves the per-minute quest series. quest_mode
// narrows the scan to AR or normal quests; quest_type filters the reward
// dimension.
func (h *Handler) GetQuestTimeSeries(c *gin.Context) {
	w, ok := parseWindow(c)
	if !ok {
		return
	}
	questMode := strings.ToLower(c.DefaultQuery("quest_mode", "all"))
	questType := retrieval.NewFilter(c.Query("quest_type"))

	h.respond(c, queryQuestSeries, w, func(ctx context.Context, area string) (retrieval.Result, error) {
		return h.retrieval.QuestSeries(ctx, retrieval.QuestSeriesQuery{
			CounterQuery: w.counterQuery(area),
			QuestMode:    questMode,
			QuestType:    questType,
		})
	}, seriesError(w.mode))
}
