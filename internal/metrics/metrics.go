package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds all Prometheus metrics for the webhook stats service
type Metrics struct {
	WebhookEvents   *prometheus.CounterVec
	WriteDuration   *prometheus.HistogramVec
	StatsQueries    *prometheus.CounterVec
	QueryDuration   *prometheus.HistogramVec
	CacheLookups    *prometheus.CounterVec
	LeaderState     *prometheus.GaugeVec
	CleanupRuns     *prometheus.CounterVec
	CleanupRemovals *prometheus.CounterVec
	PartitionOps    *prometheus.CounterVec
}
