package jobs

import (
	"log"

	"github.com/robfig/cron/v3"

	"TuitionLedger/internal/logger"
	"TuitionLedger/internal/recon"
	"TuitionLedger/internal/serviceiface"
)

// CronService wires the scheduled jobs into the app manager lifecycle.
type CronService struct {
	config map[string]interface{}
	engine *recon.Engine
	cron   *cron.Cron
}

func NewCronService(cfg map[string]interface{}, engine *recon.Engine) serviceiface.Service {
	return &CronService{config: cfg, engine: engine}
}

func (s *CronService) Name() string {
	return "cron"
}

func (s *CronService) Start() error {
	log.Println("Starting cron service...")

	repairCfg := NewDefaultRepairConfig()
	if s.config != nil {
		if schedule, ok := s.config["repair_schedule"].(string); ok && schedule != "" {
			repairCfg.Schedule = schedule
		}
		if tz, ok := s.config["timezone"].(string); ok && tz != "" {
			repairCfg.TimeZone = tz
		}
	}

	c, err := RunRepairScheduler(repairCfg, s.engine)
	if err != nil {
		return err
	}
	s.cron = c
	logger.GlobalLogger.LogAudit("Cron service started with ledger repair scheduler")
	return nil
}

func (s *CronService) Stop() error {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	log.Println("Cron service stopped.")
	return nil
}
