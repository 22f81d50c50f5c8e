package jobs

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"TuitionLedger/internal/config"
	"TuitionLedger/internal/logger"
	"TuitionLedger/internal/recon"
)

// RepairConfig holds configuration for the scheduled ledger repair run.
type RepairConfig struct {
	Schedule string // cron schedule (default: 2 AM daily)
	TimeZone string
	Timeout  time.Duration // budget for one full repair pass
}

// NewDefaultRepairConfig builds a RepairConfig from env vars with defaults.
func NewDefaultRepairConfig() *RepairConfig {
	schedule := os.Getenv("REPAIR_SCHEDULE")
	if schedule == "" {
		schedule = config.DefaultRepairSchedule
	}
	timeout := 30 * time.Minute
	if t := os.Getenv("REPAIR_TIMEOUT_MINUTES"); t != "" {
		if parsed, err := strconv.Atoi(t); err == nil && parsed > 0 {
			timeout = time.Duration(parsed) * time.Minute
		}
	}
	return &RepairConfig{
		Schedule: schedule,
		TimeZone: config.DefaultTimeZone,
		Timeout:  timeout,
	}
}

// RunRepairScheduler starts the cron job that recomputes every invoice from
// its linked transactions. It invokes the same recompute as the ingestion
// path, so a scheduled run can never drift from normal processing.
func RunRepairScheduler(cfg *RepairConfig, engine *recon.Engine) (*cron.Cron, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = config.DefaultRepairSchedule
	}
	if cfg.TimeZone == "" {
		cfg.TimeZone = config.DefaultTimeZone
	}

	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		loc = time.UTC
		logger.GlobalLogger.LogAudit(fmt.Sprintf("Invalid timezone %s, falling back to UTC: %v", cfg.TimeZone, err))
	}

	c := cron.New(cron.WithLocation(loc))
	_, err = c.AddFunc(cfg.Schedule, func() {
		logger.GlobalLogger.LogAudit(fmt.Sprintf("Starting ledger repair run at %s", time.Now().In(loc).Format(time.RFC3339)))
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		defer cancel()
		ledgers, rerr := engine.RepairAll(ctx)
		if rerr != nil {
			logger.GlobalLogger.LogAudit(fmt.Sprintf("Ledger repair run failed: %v", rerr))
			log.Printf("ERROR: ledger repair run failed: %v", rerr)
			return
		}
		logger.GlobalLogger.LogAudit(fmt.Sprintf("Ledger repair run completed: %d invoices recomputed", len(ledgers)))
	})
	if err != nil {
		return nil, fmt.Errorf("unable to schedule ledger repair: %v", err)
	}

	c.Start()
	logger.GlobalLogger.LogAudit(fmt.Sprintf("Ledger repair scheduler started with schedule: %s (timezone: %s)", cfg.Schedule, cfg.TimeZone))
	log.Printf("[AUDIT] Ledger repair scheduler started: %s (%s)", cfg.Schedule, cfg.TimeZone)
	return c, nil
}
