/*
scheduler.go - Scheduled ownership repair

PURPOSE:
  Periodically re-attributes installments that lost their group or card
  (older clients wrote installments before ownership was tracked). The
  same job can be triggered by hand through POST /api/admin/repair.

DESIGN:
  - robfig/cron with seconds precision, evaluated in UTC
  - One run at a time; a tick that fires during a run is skipped
  - The last report is kept for display

CONFIGURATION:
  scheduler.repair_ownership in config.yaml (REPAIR_SCHEDULE), a six-field
  cron spec. An empty spec disables the schedule.

USAGE:
  rs := NewRepairScheduler(manager, logger)
  rs.Schedule("0 0 3 * * *")
  rs.Start()
  // ... later
  rs.Stop()

SEE ALSO:
  - handlers.go: RunRepair endpoint
  - billing/manager.go: RepairOwnership
*/
package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/warp/card-engine/billing"
)

// ErrRepairRunning is returned when a repair is requested while one runs.
var ErrRepairRunning = errors.New("ownership repair already running")

// RepairScheduler runs billing.Manager.RepairOwnership on a cron schedule.
type RepairScheduler struct {
	manager *billing.Manager
	logger  *slog.Logger
	cron    *cron.Cron
	timeout time.Duration

	mu         sync.Mutex
	running    bool
	started    bool
	lastRun    time.Time
	lastReport billing.RepairReport
}

func NewRepairScheduler(manager *billing.Manager, logger *slog.Logger) *RepairScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RepairScheduler{
		manager: manager,
		logger:  logger,
		cron:    cron.New(cron.WithLocation(time.UTC), cron.WithSeconds()),
		timeout: 5 * time.Minute,
	}
}

// Schedule registers the repair job. An empty spec registers nothing.
func (rs *RepairScheduler) Schedule(spec string) error {
	if spec == "" {
		rs.logger.Info("ownership repair schedule disabled")
		return nil
	}
	_, err := rs.cron.AddFunc(spec, rs.tick)
	if err != nil {
		return err
	}
	rs.logger.Info("ownership repair scheduled", "schedule", spec)
	return nil
}

func (rs *RepairScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.started {
		return
	}
	rs.started = true
	rs.cron.Start()
	rs.logger.Info("scheduler started", "jobs", len(rs.cron.Entries()))
}

// Stop stops the cron loop and waits for a running job to finish.
func (rs *RepairScheduler) Stop() {
	rs.mu.Lock()
	if !rs.started {
		rs.mu.Unlock()
		return
	}
	rs.started = false
	rs.mu.Unlock()

	ctx := rs.cron.Stop()
	<-ctx.Done()
	rs.logger.Info("scheduler stopped")
}

func (rs *RepairScheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), rs.timeout)
	defer cancel()
	if _, err := rs.RunOnce(ctx); err != nil && !errors.Is(err, ErrRepairRunning) {
		rs.logger.Error("scheduled ownership repair failed", "error", err)
	}
}

// RunOnce runs the repair now and records the report.
func (rs *RepairScheduler) RunOnce(ctx context.Context) (billing.RepairReport, error) {
	rs.mu.Lock()
	if rs.running {
		rs.mu.Unlock()
		return billing.RepairReport{}, ErrRepairRunning
	}
	rs.running = true
	rs.mu.Unlock()

	start := time.Now()
	report, err := rs.manager.RepairOwnership(ctx)

	rs.mu.Lock()
	rs.running = false
	if err == nil {
		rs.lastRun, rs.lastReport = start, report
	}
	rs.mu.Unlock()

	if err != nil {
		return report, err
	}
	rs.logger.InfoContext(ctx, "ownership repair finished",
		"scanned", report.Scanned, "repaired", report.Repaired,
		"orphans", len(report.Orphans), "duration", time.Since(start))
	return report, nil
}

// LastRun returns when the last successful repair started and its report.
// The time is zero before the first run.
func (rs *RepairScheduler) LastRun() (time.Time, billing.RepairReport) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.lastRun, rs.lastReport
}
