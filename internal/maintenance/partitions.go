package maintenance

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/HugoDataAnalyst/PsyduckV2-sub000/pkg/config"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/pkg/database"
	sqlassets "github.com/HugoDataAnalyst/PsyduckV2-sub000/pkg/database/sql"
	"github.com/HugoDataAnalyst/PsyduckV2-sub000/pkg/logging"
)

const (
	dailyParent   = "pokemon_iv_daily_events"
	monthlyParent = "aggregated_pokemon_iv_monthly"

	childQuery = `SELECT c.relname
FROM pg_inherits i
JOIN pg_class c ON c.oid = i.inhrelid
JOIN pg_class p ON p.oid = i.inhparent
WHERE p.relname = $1
ORDER BY c.relname`
)

var (
	dailyChildRe   = regexp.MustCompile(`^` + dailyParent + `_p(\d{8})$`)
	monthlyChildRe = regexp.MustCompile(`^` + monthlyParent + `_p(\d{4})$`)
)

// PartitionConfig controls the rolling partition window for the
// relational mirror. Keep windows include the current day and month.
type PartitionConfig struct {
	DaysBack    int
	DaysForward int
	KeepDays    int
	KeepMonths  int
}

// DefaultPartitionConfig covers recent backfill plus a month ahead and
// keeps 15 days of daily and 3 months of monthly partitions.
func DefaultPartitionConfig() PartitionConfig {
	return PartitionConfig{
		DaysBack:    2,
		DaysForward: 35,
		KeepDays:    15,
		KeepMonths:  3,
	}
}

// PartitionConfigFromEnv reads the PARTITION_KEEP_* knobs, falling back
// to the defaults for anything unset.
func PartitionConfigFromEnv() PartitionConfig {
	cfg := DefaultPartitionConfig()
	cfg.KeepDays = config.GetEnvInt("PARTITION_KEEP_DAYS", cfg.KeepDays)
	cfg.KeepMonths = config.GetEnvInt("PARTITION_KEEP_MONTHS", cfg.KeepMonths)
	return cfg
}

// PartitionManager keeps the relational mirror's partition tables ahead
// of the calendar and drops those past the keep windows. A nil database
// handle disables the whole thing, so deployments without a relational
// mirror simply skip this work.
type PartitionManager struct {
	db           database.PostgresConn
	logger       logging.Logger
	cfg          PartitionConfig
	bootstrapped bool
}

// NewPartitionManager creates a manager over an open connection. Keep
// windows are floored at three days and three months so a bad knob can
// never drop live data.
func NewPartitionManager(db database.PostgresConn, cfg PartitionConfig, logger logging.Logger) *PartitionManager {
	if cfg.DaysBack < 0 {
		cfg.DaysBack = 0
	}
	if cfg.DaysForward < 1 {
		cfg.DaysForward = 1
	}
	if cfg.KeepDays < 3 {
		cfg.KeepDays = 3
	}
	if cfg.KeepMonths < 3 {
		cfg.KeepMonths = 3
	}
	return &PartitionManager{db: db, logger: logger, cfg: cfg}
}

// RunOnce bootstraps the partitioned parents on first use, ensures the
// rolling window of day and month partitions exists and drops those
// past retention. Individual DDL failures are logged and skipped so one
// stuck partition cannot wedge the rest of the window.
func (p *PartitionManager) RunOnce(ctx context.Context) error {
	if p == nil || p.db == nil {
		return nil
	}

	if !p.bootstrapped {
		script, err := sqlassets.Content.ReadFile("schema/partitions.sql")
		if err != nil {
			return fmt.Errorf("read partition schema: %w", err)
		}
		if err := database.ExecuteScript(ctx, p.db, string(script)); err != nil {
			return err
		}
		p.bootstrapped = true
	}

	now := time.Now()
	if err := p.ensureDaily(ctx, now); err != nil {
		return err
	}
	if err := p.ensureMonthly(ctx, now); err != nil {
		return err
	}
	if err := p.dropAgedDaily(ctx, now); err != nil {
		return err
	}
	return p.dropAgedMonthly(ctx, now)
}

func (p *PartitionManager) children(ctx context.Context, parent string) (map[string]bool, error) {
	rows, err := p.db.QueryContext(ctx, childQuery, parent)
	if err != nil {
		return nil, fmt.Errorf("list partitions of %s: %w", parent, err)
	}
	defer rows.Close()

	names := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names[name] = true
	}
	return names, rows.Err()
}

func (p *PartitionManager) ensureDaily(ctx context.Context, now time.Time) error {
	existing, err := p.children(ctx, dailyParent)
	if err != nil {
		return err
	}

	added := 0
	for delta := -p.cfg.DaysBack; delta <= p.cfg.DaysForward; delta++ {
		day := now.AddDate(0, 0, delta)
		name := fmt.Sprintf("%s_p%s", dailyParent, day.Format("20060102"))
		if existing[name] {
			continue
		}
		stmt := fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %s PARTITION OF %s FOR VALUES FROM ('%s') TO ('%s')",
			name, dailyParent,
			day.Format("2006-01-02"), day.AddDate(0, 0, 1).Format("2006-01-02"),
		)
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			p.logger.WithError(err).WithFields(logging.Fields{
				"partition": name,
			}).Error("Failed to create daily partition")
			continue
		}
		added++
	}
	if added > 0 {
		p.logger.WithFields(logging.Fields{
			"table": dailyParent,
			"added": added,
		}).Info("Daily partitions ensured")
	}
	return nil
}

func (p *PartitionManager) ensureMonthly(ctx context.Context, now time.Time) error {
	existing, err := p.children(ctx, monthlyParent)
	if err != nil {
		return err
	}

	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	added := 0
	for delta := 0; delta <= 1; delta++ {
		month := first.AddDate(0, delta, 0)
		name := fmt.Sprintf("%s_p%s", monthlyParent, month.Format("0601"))
		if existing[name] {
			continue
		}
		stmt := fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %s PARTITION OF %s FOR VALUES FROM (%s) TO (%s)",
			name, monthlyParent,
			month.Format("0601"), month.AddDate(0, 1, 0).Format("0601"),
		)
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			p.logger.WithError(err).WithFields(logging.Fields{
				"partition": name,
			}).Error("Failed to create monthly partition")
			continue
		}
		added++
	}
	if added > 0 {
		p.logger.WithFields(logging.Fields{
			"table": monthlyParent,
			"added": added,
		}).Info("Monthly partitions ensured")
	}
	return nil
}

func (p *PartitionManager) dropAgedDaily(ctx context.Context, now time.Time) error {
	existing, err := p.children(ctx, dailyParent)
	if err != nil {
		return err
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	keepFrom := today.AddDate(0, 0, -(p.cfg.KeepDays - 1))

	dropped := 0
	for name := range existing {
		m := dailyChildRe.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		day, err := time.ParseInLocation("20060102", m[1], now.Location())
		if err != nil {
			continue
		}
		if !day.Before(keepFrom) {
			continue
		}
		if _, err := p.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+name); err != nil {
			p.logger.WithError(err).WithFields(logging.Fields{
				"partition": name,
			}).Error("Failed to drop daily partition")
			continue
		}
		dropped++
	}
	if dropped > 0 {
		p.logger.WithFields(logging.Fields{
			"table":   dailyParent,
			"dropped": dropped,
		}).Info("Aged daily partitions dropped")
	}
	return nil
}

func (p *PartitionManager) dropAgedMonthly(ctx context.Context, now time.Time) error {
	existing, err := p.children(ctx, monthlyParent)
	if err != nil {
		return err
	}

	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	keepFrom := first.AddDate(0, -(p.cfg.KeepMonths - 1), 0)

	dropped := 0
	for name := range existing {
		m := monthlyChildRe.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		month, err := time.ParseInLocation("0601", m[1], now.Location())
		if err != nil {
			continue
		}
		if !month.Before(keepFrom) {
			continue
		}
		if _, err := p.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+name); err != nil {
			p.logger.WithError(err).WithFields(logging.Fields{
				"partition": name,
			}).Error("Failed to drop monthly partition")
			continue
		}
		dropped++
	}
	if dropped > 0 {
		p.logger.WithFields(logging.Fields{
			"table":   monthlyParent,
			"dropped": dropped,
		}).Info("Aged monthly partitions dropped")
	}
	return nil
}
