package maintenance

import (
	"context"
	"time"

	"github.com/HugoDataAnalyst/PsyduckV2-sub000/internal/metrics"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/pkg/logging"
)

const (
	defaultInterval  = time.Hour
	minCycleSleep    = 5 * time.Second
	leaderRecheck    = time.Minute
	failureRetryWait = 60 * time.Second
	cycleTimeout     = 5 * time.Minute
)

// Leadership gates maintenance work to the elected worker.
type Leadership interface {
	IsLeader() bool
}

// Scheduler drives the retention sweep and partition upkeep on a fixed
// cadence. Every worker runs one, but only the current leader acts;
// followers re-check soon after so a takeover picks up the cadence
// without waiting out a full interval.
type Scheduler struct {
	logger     logging.Logger
	sweeper    *Sweeper
	partitions *PartitionManager
	leadership Leadership
	metrics    *metrics.Metrics
	interval   time.Duration
	stopChan   chan struct{}
	doneChan   chan struct{}
}

// NewScheduler creates a scheduler. A nil leadership means this worker
// always acts, a non-positive interval falls back to hourly and metrics
// may be nil.
func NewScheduler(sweeper *Sweeper, partitions *PartitionManager, leadership Leadership, m *metrics.Metrics, interval time.Duration, logger logging.Logger) *Scheduler {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Scheduler{
		logger:     logger,
		sweeper:    sweeper,
		partitions: partitions,
		leadership: leadership,
		metrics:    m,
		interval:   interval,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}
}

// Start begins the maintenance loop. The first cycle runs immediately.
func (s *Scheduler) Start() {
	s.logger.WithFields(logging.Fields{
		"interval": s.interval,
	}).Info("Starting maintenance scheduler")
	go s.run()
}

// Stop halts the loop and waits for an in-flight cycle to finish.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping maintenance scheduler")
	close(s.stopChan)
	<-s.doneChan
}

func (s *Scheduler) run() {
	defer close(s.doneChan)
	for {
		wait := s.cycle()
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-s.stopChan:
			timer.Stop()
			return
		}
	}
}

// cycle performs one maintenance pass and returns how long to sleep
// before the next. Failures retry after a short wait instead of a full
// interval; the store-side lock keeps retries from overlapping a sweep
// still running elsewhere.
func (s *Scheduler) cycle() time.Duration {
	if s.leadership != nil && !s.leadership.IsLeader() {
		s.logger.Debug("Not the leader, skipping maintenance cycle")
		return leaderRecheck
	}

	started := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), cycleTimeout)
	defer cancel()

	res, err := s.sweeper.RunOnce(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Retention sweep failed")
		s.recordRun("error")
		return failureRetryWait
	}
	if res.Skipped {
		s.recordRun("skipped")
	} else {
		s.recordRun("ok")
		s.recordRemovals(res)
	}

	if err := s.partitions.RunOnce(ctx); err != nil {
		s.logger.WithError(err).Error("Partition upkeep failed")
		s.recordPartitions("error")
	} else if s.partitions != nil && s.partitions.db != nil {
		s.recordPartitions("ok")
	}

	wait := s.interval - time.Since(started)
	if wait < minCycleSleep {
		wait = minCycleSleep
	}
	s.logger.WithFields(logging.Fields{
		"sleep": wait.Round(time.Second).String(),
	}).Debug("Maintenance cycle finished")
	return wait
}

func (s *Scheduler) recordRun(result string) {
	if s.metrics == nil || s.metrics.CleanupRuns == nil {
		return
	}
	s.metrics.CleanupRuns.WithLabelValues(result).Inc()
}

func (s *Scheduler) recordRemovals(res SweepResult) {
	if s.metrics == nil || s.metrics.CleanupRemovals == nil {
		return
	}
	s.metrics.CleanupRemovals.WithLabelValues("fields").Add(float64(res.FieldsRemoved))
	s.metrics.CleanupRemovals.WithLabelValues("keys").Add(float64(res.KeysDeleted))
}

func (s *Scheduler) recordPartitions(result string) {
	if s.metrics == nil || s.metrics.PartitionOps == nil {
		return
	}
	s.metrics.PartitionOps.WithLabelValues(result).Inc()
}
