package engine

import (
	"log/slog"
	"os"
	"time"

	"github.com/robfig/cron/v3"
)

// Reaper periodically removes the working directories of finished runs
// once they age past the retention window. Run metadata stays in the
// registry; only the on-disk artifacts (merged CSV, defaults file,
// result CSV) are reclaimed, after which exports for that run return
// not found.
type Reaper struct {
	registry  *Registry
	retention time.Duration
	cron      *cron.Cron
	logger    *slog.Logger
}

// NewReaper creates a Reaper sweeping on the given cron schedule.
func NewReaper(registry *Registry, schedule string, retention time.Duration, logger *slog.Logger) (*Reaper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reaper{
		registry:  registry,
		retention: retention,
		cron:      cron.New(),
		logger:    logger,
	}
	if _, err := r.cron.AddFunc(schedule, r.Sweep); err != nil {
		return nil, err
	}
	return r, nil
}

// Start begins the background sweep schedule
func (r *Reaper) Start() {
	r.cron.Start()
	r.logger.Info("workdir reaper started", "retention", r.retention.String())
}

// Stop halts the schedule; a sweep in flight finishes
func (r *Reaper) Stop() {
	r.cron.Stop()
}

// Sweep removes the workdirs of terminal runs older than the retention
// window. Safe to call directly, the reaper tests and the serve command
// both do on shutdown.
func (r *Reaper) Sweep() {
	cutoff := time.Now().Add(-r.retention)
	for _, st := range r.registry.states() {
		st.mu.Lock()
		eligible := st.detail.Status.Terminal() && !st.cleaned &&
			st.detail.FinishedAt != nil && st.detail.FinishedAt.Before(cutoff)
		dir := st.workDir
		if eligible {
			st.cleaned = true
			st.resultCSV = ""
		}
		st.mu.Unlock()

		if !eligible {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			r.logger.Warn("workdir cleanup failed", "run_id", st.id, "dir", dir, "error", err)
			continue
		}
		r.logger.Info("workdir reclaimed", "run_id", st.id, "dir", dir)
	}
}
