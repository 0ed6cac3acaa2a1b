package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jordanlanch/commissionengine/pkg/logger"
)

// CronManager manages scheduled jobs
type CronManager struct {
	cron     *cron.Cron
	audit    *GraphAudit
	schedule string
	timeout  time.Duration
	log      logger.Logger
}

// NewCronManager creates a new cron manager that runs the graph audit on
// schedule (standard five field cron syntax)
func NewCronManager(audit *GraphAudit, schedule string, log logger.Logger) *CronManager {
	if log == nil {
		log = logger.Nop()
	}
	return &CronManager{
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		audit:    audit,
		schedule: schedule,
		timeout:  10 * time.Minute,
		log:      log,
	}
}

// SetupJobs configures all scheduled jobs
func (cm *CronManager) SetupJobs() error {
	if _, err := cm.cron.AddFunc(cm.schedule, cm.runAudit); err != nil {
		return err
	}
	cm.log.Info("cron jobs configured", "graph_audit", cm.schedule)
	return nil
}

func (cm *CronManager) runAudit() {
	ctx, cancel := context.WithTimeout(context.Background(), cm.timeout)
	defer cancel()

	start := time.Now()
	summary, err := cm.audit.Run(ctx)
	if err != nil {
		cm.log.Error("graph audit completed with errors", "error", err, "failed", summary.Failed)
	}
	cm.log.Info("graph audit completed",
		"programs", summary.Programs,
		"unreachable", summary.Unreachable,
		"cycles", summary.Cycles,
		"invalid", summary.Invalid,
		"duration", time.Since(start),
	)
}

// Entries returns the number of scheduled jobs
func (cm *CronManager) Entries() int {
	return len(cm.cron.Entries())
}

// Start starts the cron scheduler
func (cm *CronManager) Start() {
	cm.log.Info("starting cron scheduler")
	cm.cron.Start()
}

// Stop stops the scheduler and waits for a running audit to finish or ctx
// to end
func (cm *CronManager) Stop(ctx context.Context) {
	cm.log.Info("stopping cron scheduler")
	select {
	case <-cm.cron.Stop().Done():
	case <-ctx.Done():
		cm.log.Warn("cron jobs still running at shutdown")
	}
}
