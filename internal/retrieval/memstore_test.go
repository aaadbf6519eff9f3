package retrieval

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/store"
	redisclient "github.com/HugoDataAnalyst/PsyduckV2-sub000/pkg/redis"
)

// memStore is a hook-backed fake: it serves SCAN, HGETALL, HINCRBY and
// the despawn range script from an in-memory map without dialing, so
// read-path tests can run against seeded keyspaces.
type memStore struct {
	mu              sync.Mutex
	data            map[string]map[string]string
	failEvalShaOnce bool
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

// redisError satisfies the client's RedisError interface so prefix
// checks like NOSCRIPT detection treat it as a server reply.
type redisError string

func (e redisError) Error() string { return string(e) }
func (e redisError) RedisError()   {}

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
	case "evalsha":
		if m.failEvalShaOnce {
			m.failEvalShaOnce = false
			return redisError("NOSCRIPT No matching script. Please use EVAL.")
		}
		return m.serveScript(cmd)
	case "eval":
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
		for _, bucket := range sortedStringKeys(sums) {
			out = append(out, bucket, sums[bucket])
		}
	} else {
		for _, bucket := range sortedStringKeys(nested) {
			var flat []any
			for _, k := range sortedStringKeys(nested[bucket]) {
				flat = append(flat, k, nested[bucket][k])
			}
			out = append(out, bucket, flat)
		}
	}
	cmd.(*goredis.Cmd).SetVal(out)
	return nil
}

func sortedStringKeys[V any](m map[string]V) []string {
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

// newMemManager builds a store manager whose client is wired to a fresh
// memStore, for tests that exercise writers and readers against the
// same keyspace.
func newMemManager(t *testing.T) (*store.Manager, *memStore) {
	t.Helper()
	mem := newMemStore()
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"})
	client.AddHook(mem)
	t.Cleanup(func() { _ = client.Close() })

	cfg := store.DefaultConfig()
	cfg.RetryMaxAttempts = 1
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 2 * time.Millisecond
	mgr := store.NewWithDialer(cfg, quietLogger(), func(ctx context.Context, _ redisclient.Config) (goredis.UniversalClient, error) {
		return client, nil
	})
	return mgr, mem
}

// newMemService builds a Service on top of a memStore-backed manager.
func newMemService(t *testing.T) (*Service, *memStore) {
	t.Helper()
	mgr, mem := newMemManager(t)
	return NewService(mgr, quietLogger()), mem
}

// newDownService builds a Service whose store can never connect.
func newDownService(t *testing.T) *Service {
	t.Helper()
	cfg := store.DefaultConfig()
	cfg.RetryMaxAttempts = 1
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 2 * time.Millisecond
	mgr := store.NewWithDialer(cfg, quietLogger(), func(ctx context.Context, _ redisclient.Config) (goredis.UniversalClient, error) {
		return nil, fmt.Errorf("dial refused")
	})
	return NewService(mgr, quietLogger())
}
