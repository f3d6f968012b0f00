package daemon

import (
	"context"
	"errors"
	"time"

	"reeler/internal/logging"
	"reeler/internal/staging"
)

// schedule drives batch runs: one at startup, then on every interval tick or
// manual trigger. Runs never overlap because the loop is sequential.
func (d *Daemon) schedule(ctx context.Context) {
	defer d.wg.Done()

	interval := time.Duration(d.cfg.Workflow.RunInterval) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.executeRun(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.executeRun(ctx)
		case <-d.runNow:
			d.executeRun(ctx)
		}
	}
}

func (d *Daemon) executeRun(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	d.runActive.Store(true)
	defer d.runActive.Store(false)

	summary, err := d.controller.RunBatch(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		d.setLastError(err)
		d.logger.ErrorContext(ctx, "batch run failed",
			logging.String(logging.FieldRunID, summary.RunID),
			logging.Error(err))
		if d.notifier != nil {
			d.notifier.Error(ctx, err, "batch run")
		}
		return
	}
	d.setLastError(nil)
	d.cleanupStaging(ctx)
}

// cleanupStaging removes work directories left behind by jobs that are no
// longer in the queue. Runs after each batch so reclaim keeps pace with churn.
func (d *Daemon) cleanupStaging(ctx context.Context) {
	jobs, err := d.store.List(ctx)
	if err != nil {
		d.logger.Warn("staging cleanup skipped", logging.Error(err))
		return
	}
	active := make(map[string]struct{}, len(jobs))
	for _, job := range jobs {
		active[job.ID] = struct{}{}
	}
	staging.CleanOrphaned(d.cfg.Paths.StagingDir, active, d.logger)
}
