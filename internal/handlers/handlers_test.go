package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/counters"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/keys"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/retrieval"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/store"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/pkg/cache"
	redisclient "github.com/HugoDataAnalyst/PsyduckV2-sub000/pkg/redis"
)

// memStore is a hook-backed fake serving SCAN, HGETALL, HINCRBY and the
// despawn range script from an in-memory map, so handler tests can run
// the write and read paths end to end without a server.
type memStore struct {
	mu   sync.Mutex
	data map[string]map[string]string
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]map[string]string)}
}

func (m *memStore) seed(key, field string, value int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[key] == nil {
		m.data[key] = make(map[string]string)
	}
	m.data[key][field] = strconv.FormatInt(value, 10)
}

func (m *memStore) get(key, field string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key][field]
}

func (m *memStore) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]map[string]string)
}

func (m *memStore) DialHook(next goredis.DialHook) goredis.DialHook { return next }

func (m *memStore) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		return m.serve(cmd)
	}
}

func (m *memStore) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		for _, cmd := range cmds {
			if err := m.serve(cmd); err != nil {
				cmd.SetErr(err)
			}
		}
		return nil
	}
}

func (m *memStore) serve(cmd goredis.Cmder) error {
	switch cmd.Name() {
	case "ping":
		cmd.(*goredis.StatusCmd).SetVal("PONG")
		return nil
	case "scan":
		pattern := cmd.Args()[3].(string)
		cmd.(*goredis.ScanCmd).SetVal(m.matchingKeys(pattern), 0)
		return nil
	case "hgetall":
		key := cmd.Args()[1].(string)
		m.mu.Lock()
		fields := make(map[string]string, len(m.data[key]))
		for f, v := range m.data[key] {
			fields[f] = v
		}
		m.mu.Unlock()
		cmd.(*goredis.MapStringStringCmd).SetVal(fields)
		return nil
	case "hincrby":
		args := cmd.Args()
		key := args[1].(string)
		field := args[2].(string)
		by, err := strconv.ParseInt(fmt.Sprint(args[3]), 10, 64)
		if err != nil {
			return err
		}
		m.mu.Lock()
		if m.data[key] == nil {
			m.data[key] = make(map[string]string)
		}
		cur, _ := strconv.ParseInt(m.data[key][field], 10, 64)
		cur += by
		m.data[key][field] = strconv.FormatInt(cur, 10)
		m.mu.Unlock()
		cmd.(*goredis.IntCmd).SetVal(cur)
		return nil
	case "evalsha", "eval":
		return m.serveScript(cmd)
	case "script":
		cmd.(*goredis.StringCmd).SetVal("fakesha")
		return nil
	default:
		return fmt.Errorf("memStore: unsupported command %q", cmd.Name())
	}
}

// serveScript mirrors the despawn range script's fold over the seeded
// keyspace, returning the same alternating reply shape.
func (m *memStore) serveScript(cmd goredis.Cmder) error {
	args := cmd.Args()
	pattern := args[3].(string)
	lo, err := strconv.ParseInt(fmt.Sprint(args[4]), 10, 64)
	if err != nil {
		return err
	}
	hi, err := strconv.ParseInt(fmt.Sprint(args[5]), 10, 64)
	if err != nil {
		return err
	}
	mode := args[6].(string)

	sums := make(map[string]int64)
	nested := make(map[string]map[string]int64)
	m.mu.Lock()
	for _, key := range m.matchingKeysLocked(pattern) {
		parts := strings.Split(key, ":")
		bucket := "unknown"
		if len(parts) > 3 {
			bucket = parts[3]
		}
		for field, raw := range m.data[key] {
			ts, tsErr := strconv.ParseInt(field, 10, 64)
			count, cErr := strconv.ParseInt(raw, 10, 64)
			if tsErr != nil || cErr != nil || ts < lo || ts >= hi {
				continue
			}
			switch mode {
			case "sum":
				sums[bucket] += count
			case "grouped":
				if nested[bucket] == nil {
					nested[bucket] = make(map[string]int64)
				}
				nested[bucket][strconv.FormatInt((ts/60)*60, 10)] += count
			case "surged":
				if nested[bucket] == nil {
					nested[bucket] = make(map[string]int64)
				}
				nested[bucket][strconv.FormatInt(ts%86400/3600, 10)] += count
			}
		}
	}
	m.mu.Unlock()

	var out []any
	if mode == "sum" {
		for _, bucket := range sortedKeys(sums) {
			out = append(out, bucket, sums[bucket])
		}
	} else {
		for _, bucket := range sortedKeys(nested) {
			var flat []any
			for _, k := range sortedKeys(nested[bucket]) {
				flat = append(flat, k, nested[bucket][k])
			}
			out = append(out, bucket, flat)
		}
	}
	cmd.(*goredis.Cmd).SetVal(out)
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	ks := make([]string, 0, len(m))
	for k := range m {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return ks
}

func (m *memStore) matchingKeys(pattern string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.matchingKeysLocked(pattern)
}

func (m *memStore) matchingKeysLocked(pattern string) []string {
	re := regexp.MustCompile("^" + strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, ".*") + "$")
	var out []string
	for key := range m.data {
		if re.MatchString(key) {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func quickConfig() store.Config {
	cfg := store.DefaultConfig()
	cfg.RetryMaxAttempts = 1
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 2 * time.Millisecond
	return cfg
}

// newMemHandler builds a Handler whose writer and retrieval service
// share one memStore-backed keyspace.
func newMemHandler(t *testing.T) (*Handler, *memStore) {
	t.Helper()
	mem := newMemStore()
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"})
	client.AddHook(mem)
	t.Cleanup(func() { _ = client.Close() })

	mgr := store.NewWithDialer(quickConfig(), quietLogger(), func(ctx context.Context, _ redisclient.Config) (goredis.UniversalClient, error) {
		return client, nil
	})
	h := New(retrieval.NewService(mgr, quietLogger()), counters.NewWriter(mgr, quietLogger()), nil, nil, quietLogger())
	return h, mem
}

// newDownHandler builds a Handler whose store can never connect.
func newDownHandler(t *testing.T) *Handler {
	t.Helper()
	mgr := store.NewWithDialer(quickConfig(), quietLogger(), func(ctx context.Context, _ redisclient.Config) (goredis.UniversalClient, error) {
		return nil, fmt.Errorf("dial refused")
	})
	return New(retrieval.NewService(mgr, quietLogger()), counters.NewWriter(mgr, quietLogger()), nil, nil, quietLogger())
}

func newTestRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhook", h.ReceiveWebhook)
	api := r.Group("/api/redis")
	api.GET("/get_pokemon_counterseries", h.GetPokemonCounters)
	api.GET("/get_raids_counterseries", h.GetRaidCounters)
	api.GET("/get_invasions_counterseries", h.GetInvasionCounters)
	api.GET("/get_quest_counterseries", h.GetQuestCounters)
	api.GET("/get_pokemon_timeseries", h.GetPokemonTimeSeries)
	api.GET("/get_pokemon_tth_timeseries", h.GetTTHTimeSeries)
	api.GET("/get_raid_timeseries", h.GetRaidTimeSeries)
	api.GET("/get_invasion_timeseries", h.GetInvasionTimeSeries)
	api.GET("/get_quest_timeseries", h.GetQuestTimeSeries)
	return r
}

func doGET(t *testing.T, r *gin.Engine, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodGet, path, nil)
	require.NoError(t, err)
	r.ServeHTTP(w, req)
	return w
}

// window covers yesterday through tomorrow, which every bucket written
// "now" falls inside.
func window() string {
	return fmt.Sprintf("&start_time=%s&end_time=%s",
		time.Now().AddDate(0, 0, -1).Format("2006-01-02"),
		time.Now().AddDate(0, 0, 1).Format("2006-01-02"))
}

type resultBody struct {
	Mode string         `json:"mode"`
	Data map[string]any `json:"data"`
}

func decodeResult(t *testing.T, w *httptest.ResponseRecorder) resultBody {
	t.Helper()
	var body resultBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestPokemonCountersWeeklySum(t *testing.T) {
	h, mem := newMemHandler(t)
	day := time.Now().Format(keys.LayoutDay)
	mem.seed("counter:pokemon_total:Lisbon:"+day, "149:2:total", 3)
	mem.seed("counter:pokemon_total:Lisbon:"+day, "149:2:iv100", 1)
	mem.seed("counter:pokemon_total:Porto:"+day, "25:0:total", 2)
	r := newTestRouter(h)

	w := doGET(t, r, "/api/redis/get_pokemon_counterseries?counter_type=totals&interval=weekly&area=Lisbon"+window())

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"mode":"sum","data":{"iv100":1,"total":3}}`, w.Body.String())
}

func TestPokemonCountersGlobalUnion(t *testing.T) {
	h, mem := newMemHandler(t)
	day := time.Now().Format(keys.LayoutDay)
	mem.seed("counter:pokemon_total:Lisbon:"+day, "149:2:total", 3)
	mem.seed("counter:pokemon_total:Porto:"+day, "25:0:total", 2)
	r := newTestRouter(h)

	// No area parameter: one wildcard union query, keyed under "global"
	// and flattened to the bare result.
	w := doGET(t, r, "/api/redis/get_pokemon_counterseries?counter_type=totals&interval=weekly"+window())

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"mode":"sum","data":{"total":5}}`, w.Body.String())
}

func TestPokemonCountersMultiAreaEnvelope(t *testing.T) {
	h, mem := newMemHandler(t)
	day := time.Now().Format(keys.LayoutDay)
	mem.seed("counter:pokemon_total:Lisbon:"+day, "149:2:total", 3)
	mem.seed("counter:pokemon_total:Porto:"+day, "25:0:total", 2)
	r := newTestRouter(h)

	w := doGET(t, r, "/api/redis/get_pokemon_counterseries?counter_type=totals&interval=weekly&area=Lisbon,Porto,Lisbon"+window())

	require.Equal(t, http.StatusOK, w.Code)
	var envelope map[string]resultBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.Len(t, envelope, 2)
	assert.Equal(t, float64(3), envelope["Lisbon"].Data["total"])
	assert.Equal(t, float64(2), envelope["Porto"].Data["total"])
}

func TestPokemonCountersTextFormat(t *testing.T) {
	h, mem := newMemHandler(t)
	day := time.Now().Format(keys.LayoutDay)
	mem.seed("counter:pokemon_total:Lisbon:"+day, "149:2:total", 3)
	r := newTestRouter(h)

	w := doGET(t, r, "/api/redis/get_pokemon_counterseries?counter_type=totals&interval=weekly&area=Lisbon&response_format=text"+window())

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
	assert.Equal(t, `Lisbon: {"mode":"sum","data":{"total":3}}`, w.Body.String())
}

func TestStatsQueryValidation(t *testing.T) {
	h, _ := newMemHandler(t)
	r := newTestRouter(h)
	win := window()

	cases := []struct {
		name    string
		path    string
		wantErr string
	}{
		{
			name:    "unknown counter_type",
			path:    "/api/redis/get_pokemon_counterseries?counter_type=banana&interval=weekly" + win,
			wantErr: "Invalid counter_type. Must be totals, tth, or weather.",
		},
		{
			name:    "weather needs monthly",
			path:    "/api/redis/get_pokemon_counterseries?counter_type=weather&interval=weekly" + win,
			wantErr: "For weather, interval must be monthly.",
		},
		{
			name:    "totals reject monthly",
			path:    "/api/redis/get_pokemon_counterseries?counter_type=totals&interval=monthly" + win,
			wantErr: "For totals and tth, interval must be hourly or weekly.",
		},
		{
			name:    "surged needs hourly",
			path:    "/api/redis/get_pokemon_counterseries?counter_type=totals&interval=weekly&mode=surged" + win,
			wantErr: "Surged mode is only supported for hourly intervals.",
		},
		{
			name:    "unknown mode",
			path:    "/api/redis/get_pokemon_counterseries?counter_type=totals&interval=weekly&mode=median" + win,
			wantErr: "Invalid mode.",
		},
		{
			name:    "unknown response_format",
			path:    "/api/redis/get_pokemon_counterseries?counter_type=totals&interval=weekly&response_format=xml" + win,
			wantErr: "Invalid response_format. Must be json or text.",
		},
		{
			name:    "missing window",
			path:    "/api/redis/get_pokemon_counterseries?counter_type=totals&interval=weekly",
			wantErr: "start_time and end_time are required.",
		},
		{
			name:    "unparseable start_time",
			path:    "/api/redis/get_pokemon_counterseries?counter_type=totals&interval=weekly&start_time=banana&end_time=now",
			wantErr: "Invalid start_time",
		},
		{
			name:    "raid counter_type locked to totals",
			path:    "/api/redis/get_raids_counterseries?counter_type=tth&interval=weekly" + win,
			wantErr: "Invalid counter_type. Must be totals.",
		},
		{
			name:    "raid unknown interval",
			path:    "/api/redis/get_raids_counterseries?interval=daily" + win,
			wantErr: "Interval must be hourly or weekly.",
		},
		{
			name:    "quest with_ar values",
			path:    "/api/redis/get_quest_counterseries?interval=weekly&with_ar=banana" + win,
			wantErr: "with_ar must be 'true', 'false', or 'all'.",
		},
		{
			name:    "series unknown mode",
			path:    "/api/redis/get_pokemon_timeseries?mode=avg" + win,
			wantErr: "Invalid mode.",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doGET(t, r, tc.path)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tc.wantErr)
		})
	}
}

func TestRaidCountersHourly(t *testing.T) {
	h, mem := newMemHandler(t)
	hour := time.Now().Format(keys.LayoutHour)
	mem.seed("counter:raid_hourly:Lisbon:"+hour, "384:5:0:0:0:1:total", 4)
	mem.seed("counter:raid_hourly:Lisbon:"+hour, "150:3:0:0:0:0:total", 2)
	r := newTestRouter(h)

	w := doGET(t, r, "/api/redis/get_raids_counterseries?interval=hourly&area=Lisbon&raid_pokemon=384"+window())
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeResult(t, w)
	assert.Equal(t, "sum", body.Mode)
	assert.Equal(t, float64(4), body.Data["total"])
	assert.Equal(t, map[string]any{"5": float64(4)}, body.Data["raid_level"])

	w = doGET(t, r, "/api/redis/get_raids_counterseries?interval=hourly&area=Lisbon&mode=grouped"+window())
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"mode":"grouped","data":{"150:3:0:0:0:0:total":2,"384:5:0:0:0:1:total":4}}`, w.Body.String())
}

func TestInvasionCountersConfirmedScalar(t *testing.T) {
	h, mem := newMemHandler(t)
	day := time.Now().Format(keys.LayoutDay)
	mem.seed("counter:invasion:Lisbon:"+day, "1:2:3:1:total", 2)
	mem.seed("counter:invasion:Lisbon:"+day, "4:5:6:0:total", 3)
	r := newTestRouter(h)

	w := doGET(t, r, "/api/redis/get_invasions_counterseries?interval=weekly&area=Lisbon&confirmed=1"+window())
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeResult(t, w)
	assert.Equal(t, float64(2), body.Data["total"])

	w = doGET(t, r, "/api/redis/get_invasions_counterseries?interval=weekly&area=Lisbon"+window())
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeResult(t, w)
	assert.Equal(t, float64(5), body.Data["total"])
}

func TestQuestCountersWithAR(t *testing.T) {
	h, mem := newMemHandler(t)
	day := time.Now().Format(keys.LayoutDay)
	mem.seed("counter:quest:Lisbon:"+day, "ar:2:2:0:0:1:0:total", 3)
	mem.seed("counter:quest:Lisbon:"+day, "normal:4:7:5:1:0:0:total", 2)
	r := newTestRouter(h)

	w := doGET(t, r, "/api/redis/get_quest_counterseries?interval=weekly&area=Lisbon&with_ar=true&mode=grouped"+window())
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"mode":"grouped","data":{"ar:2:2:0:0:1:0:total":3}}`, w.Body.String())

	w = doGET(t, r, "/api/redis/get_quest_counterseries?interval=weekly&area=Lisbon"+window())
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeResult(t, w)
	assert.Equal(t, map[string]any{"ar": float64(3), "normal": float64(2)}, body.Data["quest_mode"])
	assert.Equal(t, float64(5), body.Data["total"])
}

func TestPokemonTimeSeriesSum(t *testing.T) {
	h, mem := newMemHandler(t)
	minute := keys.MinuteBucket(time.Now().Unix())
	mem.seed("ts:pokemon_totals:total:Lisbon:149:2", minute, 5)
	mem.seed("ts:pokemon_totals:iv100:Lisbon:149:2", minute, 1)
	r := newTestRouter(h)

	w := doGET(t, r, "/api/redis/get_pokemon_timeseries?area=Lisbon&pokemon_id=149"+window())

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"mode":"sum","data":{"iv100":1,"total":5}}`, w.Body.String())
}

func TestTTHTimeSeriesScriptedMatchesClient(t *testing.T) {
	h, mem := newMemHandler(t)
	minute := keys.MinuteBucket(time.Now().Unix())
	mem.seed("ts:tth_pokemon:Lisbon:10_15", minute, 7)
	r := newTestRouter(h)
	path := "/api/redis/get_pokemon_tth_timeseries?area=Lisbon" + window()

	plain := doGET(t, r, path)
	require.Equal(t, http.StatusOK, plain.Code)
	assert.JSONEq(t, `{"mode":"sum","data":{"10_15":7}}`, plain.Body.String())

	h.TTHScripted = true
	scripted := doGET(t, r, path)
	require.Equal(t, http.StatusOK, scripted.Code)
	assert.JSONEq(t, plain.Body.String(), scripted.Body.String())
}

func TestStoreDownReturnsEmptyEnvelope(t *testing.T) {
	h := newDownHandler(t)
	r := newTestRouter(h)

	w := doGET(t, r, "/api/redis/get_pokemon_counterseries?counter_type=totals&interval=weekly&area=Lisbon"+window())
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"mode":"sum","data":{}}`, w.Body.String())

	w = doGET(t, r, "/api/redis/get_raid_timeseries?area=Lisbon&mode=grouped"+window())
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"mode":"grouped","data":{}}`, w.Body.String())
}

func TestQueryCacheReplaysEnvelope(t *testing.T) {
	h, mem := newMemHandler(t)
	h.cache = cache.New(cache.Options{
		TTL:                  30 * time.Second,
		StaleWhileRevalidate: time.Minute,
		MaxEntries:           64,
	}, cache.MetricsHooks{})
	day := time.Now().Format(keys.LayoutDay)
	mem.seed("counter:pokemon_total:Lisbon:"+day, "149:2:total", 3)
	r := newTestRouter(h)
	win := window()

	first := doGET(t, r, "/api/redis/get_pokemon_counterseries?counter_type=totals&interval=weekly&area=Lisbon"+win)
	require.Equal(t, http.StatusOK, first.Code)
	assert.JSONEq(t, `{"mode":"sum","data":{"total":3}}`, first.Body.String())

	// Wipe the keyspace: only a cache hit can still produce the data.
	// The same params in a different order must map to the same entry.
	mem.clear()
	second := doGET(t, r, "/api/redis/get_pokemon_counterseries?area=Lisbon&interval=weekly&counter_type=totals"+win)
	require.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	// A different query misses the cache and sees the wiped keyspace.
	miss := doGET(t, r, "/api/redis/get_pokemon_counterseries?counter_type=totals&interval=weekly&area=Porto"+win)
	require.Equal(t, http.StatusOK, miss.Code)
	assert.JSONEq(t, `{"mode":"sum","data":{}}`, miss.Body.String())
}
