// Package handlers wires the HTTP surface: the webhook ingest route and
// the Redis-backed stats query routes. Query handlers fan one retrieval
// out per requested area and assemble an ordered area → result envelope;
// a failing area reports its error inline instead of failing the rest.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/counters"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/keys"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/metrics"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/retrieval"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/pkg/cache"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/pkg/logging"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/pkg/middleware"
)

// Query names used as metric labels and cache key prefixes.
const (
	queryPokemonCounters  = "pokemon_counters"
	queryRaidCounters     = "raid_counters"
	queryInvasionCounters = "invasion_counters"
	queryQuestCounters    = "quest_counters"
	queryPokemonSeries    = "pokemon_series"
	queryTTHSeries        = "tth_series"
	queryRaidSeries       = "raid_series"
	queryInvasionSeries   = "invasion_series"
	queryQuestSeries      = "quest_series"
)

// Handler glues the parsed-event writer and the retrieval service to the
// HTTP routes. A nil cache disables response caching; a nil metrics
// bundle disables instrumentation.
type Handler struct {
	retrieval *retrieval.Service
	writer    *counters.Writer
	cache     *cache.Cache
	metrics   *metrics.Metrics
	logger    logging.Logger

	// TTHScripted routes despawn-series queries through the server-side
	// script instead of the client-side fold.
	TTHScripted bool
}

// New creates a Handler. cache and m may be nil.
func New(svc *retrieval.Service, writer *counters.Writer, queryCache *cache.Cache, m *metrics.Metrics, logger logging.Logger) *Handler {
	return &Handler{
		retrieval: svc,
		writer:    writer,
		cache:     queryCache,
		metrics:   m,
		logger:    logger,
	}
}

// CacheHooks adapts the metrics bundle to the query cache callbacks,
// labelling each lookup with the query name carried in the cache key.
func CacheHooks(m *metrics.Metrics) cache.MetricsHooks {
	if m == nil {
		return cache.MetricsHooks{}
	}
	count := func(outcome string) func(map[string]string) {
		return func(labels map[string]string) {
			m.CacheLookups.WithLabelValues(queryFromKey(labels["key"]), outcome).Inc()
		}
	}
	return cache.MetricsHooks{
		OnHit:   count("hit"),
		OnMiss:  count("miss"),
		OnStale: count("stale"),
		OnStore: count("store"),
		OnError: count("error"),
	}
}

func queryFromKey(key string) string {
	if i := strings.IndexByte(key, '?'); i >= 0 {
		return key[:i]
	}
	return key
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// queryWindow carries the validated params every stats route shares.
type queryWindow struct {
	mode   string
	format string
	areas  []string
	start  time.Time
	end    time.Time
}

func (w queryWindow) counterQuery(area string) retrieval.CounterQuery {
	return retrieval.CounterQuery{Area: area, Start: w.start, End: w.end, Mode: w.mode}
}

// parseWindow validates the shared query params. On failure it writes
// the 400 response and reports false.
func parseWindow(c *gin.Context) (queryWindow, bool) {
	w := queryWindow{
		mode:   strings.ToLower(c.DefaultQuery("mode", retrieval.ModeSum)),
		format: strings.ToLower(c.DefaultQuery("response_format", "json")),
	}
	switch w.mode {
	case retrieval.ModeSum, retrieval.ModeGrouped, retrieval.ModeSurged:
	default:
		badRequest(c, "Invalid mode. Must be one of 'sum', 'grouped', or 'surged'.")
		return w, false
	}
	if w.format != "json" && w.format != "text" {
		badRequest(c, "Invalid response_format. Must be json or text.")
		return w, false
	}

	startRaw, endRaw := c.Query("start_time"), c.Query("end_time")
	if startRaw == "" || endRaw == "" {
		badRequest(c, "start_time and end_time are required.")
		return w, false
	}
	now := time.Now()
	start, err := retrieval.ParseTime(startRaw, now)
	if err != nil {
		badRequest(c, "Invalid start_time: "+err.Error())
		return w, false
	}
	end, err := retrieval.ParseTime(endRaw, now)
	if err != nil {
		badRequest(c, "Invalid end_time: "+err.Error())
		return w, false
	}
	w.start, w.end = start, end
	w.areas = parseAreas(c.DefaultQuery("area", "global"))
	return w, true
}

// parseAreas splits the area parameter into the fan-out list. A global
// selector collapses to one wildcard union query keyed under "global".
func parseAreas(raw string) []string {
	raw = strings.TrimSpace(raw)
	if keys.AreaIsGlobal(raw) {
		return []string{"global"}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	if len(out) == 0 {
		return []string{"global"}
	}
	return out
}

type runFunc func(ctx context.Context, area string) (retrieval.Result, error)

// counterError is the per-area failure envelope of counter routes.
func counterError(err error) any {
	return gin.H{"error": err.Error()}
}

// seriesError builds the per-area failure envelope of series routes,
// which carry the requested mode alongside the error.
func seriesError(mode string) func(error) any {
	return func(err error) any {
		return gin.H{"mode": mode, "error": err.Error()}
	}
}

// respond assembles the response for one stats query: fan out per area,
// serve repeated identical queries from the cache when one is wired, and
// render in the requested format.
func (h *Handler) respond(c *gin.Context, name string, w queryWindow, run runFunc, errEnvelope func(error) any) {
	start := time.Now()
	if h.metrics != nil {
		h.metrics.StatsQueries.WithLabelValues(name, "requested").Inc()
	}
	defer func() {
		if h.metrics != nil {
			h.metrics.QueryDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		}
	}()

	reqLog := middleware.GetContextLogger(c, h.logger)
	loader := func(ctx context.Context, _ string) (interface{}, bool, error) {
		return h.collect(ctx, reqLog, name, w, run, errEnvelope), true, nil
	}

	var payload *retrieval.OrderedMap
	if h.cache != nil {
		if v, ok, _ := h.cache.Get(c.Request.Context(), cacheKey(name, c), loader); ok {
			payload = v.(*retrieval.OrderedMap)
		}
	}
	if payload == nil {
		v, _, _ := loader(c.Request.Context(), "")
		payload = v.(*retrieval.OrderedMap)
	}
	h.writeEnvelope(c, w.format, payload)
}

// collect runs one retrieval per area. A failing area reports its error
// inline under its key instead of failing the whole response.
func (h *Handler) collect(ctx context.Context, log logging.Entry, name string, w queryWindow, run runFunc, errEnvelope func(error) any) *retrieval.OrderedMap {
	out := retrieval.NewOrderedMap()
	for _, area := range w.areas {
		res, err := run(ctx, area)
		if err != nil {
			log.WithError(err).WithFields(logging.Fields{
				"query": name,
				"area":  area,
			}).Error("Stats query failed")
			if h.metrics != nil {
				h.metrics.StatsQueries.WithLabelValues(name, "error").Inc()
			}
			out.Set(area, errEnvelope(err))
			continue
		}
		if h.metrics != nil {
			h.metrics.StatsQueries.WithLabelValues(name, "success").Inc()
		}
		out.Set(area, res)
	}
	return out
}

// writeEnvelope renders the area → result envelope. JSON flattens a
// single-area response to the bare result; text renders one
// "area: {json}" line per area.
func (h *Handler) writeEnvelope(c *gin.Context, format string, payload *retrieval.OrderedMap) {
	if format == "text" {
		lines := make([]string, 0, payload.Len())
		for _, area := range payload.Keys() {
			v, _ := payload.Get(area)
			body, err := json.Marshal(v)
			if err != nil {
				body = []byte(`{}`)
			}
			lines = append(lines, area+": "+string(body))
		}
		c.String(http.StatusOK, strings.Join(lines, "\n"))
		return
	}
	if payload.Len() == 1 {
		v, _ := payload.Get(payload.Keys()[0])
		c.JSON(http.StatusOK, v)
		return
	}
	c.JSON(http.StatusOK, payload)
}

// cacheKey normalizes the query string so parameter order does not split
// cache entries. The response format is excluded: both renderings share
// one cached envelope.
func cacheKey(name string, c *gin.Context) string {
	q := c.Request.URL.Query()
	q.Del("response_format")
	return name + "?" + q.Encode()
}
