package main

import (
	"context"
	"strings"
	"time"

	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/counters"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/handlers"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/leader"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/maintenance"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/metrics"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/retrieval"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/store"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/pkg/cache"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/pkg/config"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/pkg/database"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/pkg/logging"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/pkg/middleware"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/pkg/monitoring"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/pkg/server"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/pkg/version"
)

// secretHeader is the header the query API authenticates with.
const secretHeader = "X-Psyduck-Secret"

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("psyduck")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Psyduck (webhook stats aggregation)")

	// Connect to the store
	storeCfg := store.ConfigFromEnv()
	st := store.New(storeCfg, logger)

	// Optional relational mirror, used only for partition upkeep
	var db database.PostgresConn
	if url := config.GetEnv("DATABASE_URL", ""); url != "" {
		dbCfg := database.DefaultConfig()
		dbCfg.URL = url
		db = database.MustConnect(dbCfg, logger)
	}

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("psyduck", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("psyduck", version.Version, version.GitCommit)

	// Create custom webhook stats metrics
	serviceMetrics := &metrics.Metrics{
		WebhookEvents:   metricsCollector.NewCounter("webhook_events_total", "Webhook events processed", []string{"type", "status"}),
		WriteDuration:   metricsCollector.NewHistogram("write_duration_seconds", "Store write batch duration", []string{"source"}, nil),
		StatsQueries:    metricsCollector.NewCounter("stats_queries_total", "Stats API queries", []string{"query", "status"}),
		QueryDuration:   metricsCollector.NewHistogram("query_duration_seconds", "Stats query duration", []string{"query"}, nil),
		CacheLookups:    metricsCollector.NewCounter("cache_lookups_total", "Query cache lookups", []string{"query", "outcome"}),
		LeaderState:     metricsCollector.NewGauge("leader_state", "1 while this worker holds the leader lock", nil),
		CleanupRuns:     metricsCollector.NewCounter("cleanup_runs_total", "Retention sweep runs", []string{"result"}),
		CleanupRemovals: metricsCollector.NewCounter("cleanup_removals_total", "Entries removed by retention sweeps", []string{"kind"}),
		PartitionOps:    metricsCollector.NewCounter("partition_ops_total", "Partition upkeep runs", []string{"result"}),
	}

	// Leader election coordinates maintenance across workers
	elector := leader.NewWithConfig(st, logger, leader.Config{
		TTL:       config.GetEnvDuration("LEADER_TTL", 30*time.Second),
		MaxMisses: config.GetEnvInt("LEADER_MAX_MISSES", 3),
		Gauge:     serviceMetrics.LeaderState.WithLabelValues(),
	})

	// Leader-gated maintenance: retention sweep plus partition upkeep
	sweeper := maintenance.NewSweeper(st, maintenance.RetentionFromEnv(), logger)
	var partitions *maintenance.PartitionManager
	if db != nil {
		partitions = maintenance.NewPartitionManager(db, maintenance.PartitionConfigFromEnv(), logger)
	}
	interval := time.Duration(config.GetEnvInt("CLEANUP_INTERVAL_SECONDS", 3600)) * time.Second
	scheduler := maintenance.NewScheduler(sweeper, partitions, elector, serviceMetrics, interval, logger)

	// Short-TTL query cache in front of the stats API
	queryCache := cache.New(cache.Options{
		TTL:                  config.GetEnvDuration("QUERY_CACHE_TTL", 30*time.Second),
		StaleWhileRevalidate: config.GetEnvDuration("QUERY_CACHE_STALE", time.Minute),
		MaxEntries:           config.GetEnvInt("QUERY_CACHE_MAX_ENTRIES", 1024),
	}, handlers.CacheHooks(serviceMetrics))

	// Initialize handlers
	h := handlers.New(
		retrieval.NewService(st, logger),
		counters.NewWriter(st, logger),
		queryCache,
		serviceMetrics,
		logger,
	)
	h.TTHScripted = config.GetEnvBool("TTH_SCRIPTED_QUERIES", true)

	// Health checks
	healthChecker.AddCheck("redis", st.HealthCheck())
	if db != nil {
		healthChecker.AddCheck("postgres", monitoring.DatabaseHealthCheck(db))
	}
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"REDIS_ADDRS": strings.Join(storeCfg.Redis.Addrs, ","),
		"REDIS_MODE":  string(storeCfg.Redis.Mode),
	}))

	// Start the election and the maintenance loop
	ctx, cancel := context.WithCancel(context.Background())
	go elector.Run(ctx)
	scheduler.Start()

	// Routes
	router := server.SetupServiceRouter(logger, "psyduck", healthChecker, metricsCollector)
	router.POST("/webhook", h.ReceiveWebhook)

	api := router.Group("/api/redis")
	api.Use(middleware.SecretAuthMiddleware(secretHeader, config.GetEnv("API_SECRET_KEY", "")))
	api.Use(middleware.BearerAuthMiddleware(config.GetEnv("API_BEARER_TOKEN", "")))
	api.GET("/get_pokemon_counterseries", h.GetPokemonCounters)
	api.GET("/get_raids_counterseries", h.GetRaidCounters)
	api.GET("/get_invasions_counterseries", h.GetInvasionCounters)
	api.GET("/get_quest_counterseries", h.GetQuestCounters)
	api.GET("/get_pokemon_timeseries", h.GetPokemonTimeSeries)
	api.GET("/get_pokemon_tth_timeseries", h.GetTTHTimeSeries)
	api.GET("/get_raid_timeseries", h.GetRaidTimeSeries)
	api.GET("/get_invasion_timeseries", h.GetInvasionTimeSeries)
	api.GET("/get_quest_timeseries", h.GetQuestTimeSeries)

	logger.Info("Psyduck started - ingesting webhooks and serving stats")

	// Blocks until SIGINT/SIGTERM, then drains in-flight requests
	serverConfig := server.DefaultConfig("psyduck", "8000")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Error("HTTP server error")
	}

	logger.Info("Shutting down Psyduck...")

	// HTTP has drained; give up leadership before tearing anything down
	// so another worker can take over maintenance right away.
	releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 5*time.Second)
	elector.Release(releaseCtx)
	releaseCancel()

	cancel()
	scheduler.Stop()

	if db != nil {
		_ = db.Close()
	}
	if err := st.Close(); err != nil {
		logger.WithError(err).Warn("Store close failed")
	}

	logger.Info("Psyduck stopped")
}
