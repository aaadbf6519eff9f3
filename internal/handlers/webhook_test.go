package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/keys"
)

func doPOST(t *testing.T, r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodPost, path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func pokemonEnvelope(firstSeen int64) string {
	return fmt.Sprintf(`{"type":"pokemon","message":{
		"pokemon_id": 149,
		"form": 2,
		"area_name": "Lisbon",
		"spawnpoint_id": "4f1c2e",
		"first_seen": %d,
		"despawn_timer": 900,
		"iv": 100,
		"shiny": true
	}}`, firstSeen)
}

func TestWebhookSingleEnvelope(t *testing.T) {
	h, mem := newMemHandler(t)
	r := newTestRouter(h)
	now := time.Now().Unix()

	w := doPOST(t, r, "/webhook", pokemonEnvelope(now))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"processed":1,"failed":0}`, w.Body.String())

	weekly := keys.Counter(keys.FamilyPokemonTotal, "Lisbon", keys.WeekBucket(time.Unix(now, 0)))
	assert.Equal(t, "1", mem.get(weekly, "149:2:total"))
	assert.Equal(t, "1", mem.get(weekly, "149:2:iv100"))
	assert.Equal(t, "1", mem.get(weekly, "149:2:shiny"))
}

func TestWebhookArrayCountsFailures(t *testing.T) {
	h, _ := newMemHandler(t)
	r := newTestRouter(h)
	now := time.Now().Unix()

	body := fmt.Sprintf(`[
		%s,
		{"type":"gym","message":{"gym_id":"g1"}},
		{"type":"pokemon","message":{"pokemon_id":1}}
	]`, pokemonEnvelope(now))
	w := doPOST(t, r, "/webhook", body)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"processed":1,"failed":2}`, w.Body.String())
}

func TestWebhookInvalidJSON(t *testing.T) {
	h, _ := newMemHandler(t)
	r := newTestRouter(h)

	w := doPOST(t, r, "/webhook", "not json at all")

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid JSON payload.")
}

func TestWebhookStoreDownReturns500(t *testing.T) {
	h := newDownHandler(t)
	r := newTestRouter(h)

	w := doPOST(t, r, "/webhook", pokemonEnvelope(time.Now().Unix()))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Failed to store events.")
}

func TestWebhookEmptyBatchSkipsStore(t *testing.T) {
	// Nothing survives parsing, so even an unreachable store answers.
	h := newDownHandler(t)
	r := newTestRouter(h)

	w := doPOST(t, r, "/webhook", `{"type":"gym","message":{"gym_id":"g1"}}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"processed":0,"failed":1}`, w.Body.String())
}

func TestWebhookQueryRoundTrip(t *testing.T) {
	h, _ := newMemHandler(t)
	r := newTestRouter(h)
	now := time.Now()

	w := doPOST(t, r, "/webhook", pokemonEnvelope(now.Unix()))
	require.Equal(t, http.StatusOK, w.Code)

	// Weekly counters bucket on the Monday of the event's week; reach
	// back far enough to cover it.
	win := fmt.Sprintf("&start_time=%s&end_time=%s",
		now.AddDate(0, 0, -8).Format("2006-01-02"),
		now.AddDate(0, 0, 1).Format("2006-01-02"))

	// Flags that fired count once each; iv0 never appears for a 100% roll.
	weekly := doGET(t, r, "/api/redis/get_pokemon_counterseries?counter_type=totals&interval=weekly&area=Lisbon"+win)
	require.Equal(t, http.StatusOK, weekly.Code)
	assert.JSONEq(t, `{"mode":"sum","data":{"iv100":1,"shiny":1,"total":1}}`, weekly.Body.String())

	// The hourly hash only carries the flag metrics.
	hourly := doGET(t, r, "/api/redis/get_pokemon_counterseries?counter_type=totals&interval=hourly&area=Lisbon"+win)
	require.Equal(t, http.StatusOK, hourly.Code)
	assert.JSONEq(t, `{"mode":"sum","data":{"iv100":1,"shiny":1}}`, hourly.Body.String())

	series := doGET(t, r, "/api/redis/get_pokemon_timeseries?area=Lisbon&pokemon_id=149"+win)
	require.Equal(t, http.StatusOK, series.Code)
	assert.JSONEq(t, `{"mode":"sum","data":{"iv100":1,"shiny":1,"total":1}}`, series.Body.String())

	tth := doGET(t, r, "/api/redis/get_pokemon_counterseries?counter_type=tth&interval=weekly&area=Lisbon"+win)
	require.Equal(t, http.StatusOK, tth.Code)
	assert.JSONEq(t, `{"mode":"sum","data":{"15_20":1}}`, tth.Body.String())
}
