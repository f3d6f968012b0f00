package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"reeler/internal/logging"
	"reeler/internal/queue"
	"reeler/internal/quota"
	"reeler/internal/services"
)

// Gate is the daily quota surface the controller consults. The quota package
// provides the store-backed implementation.
type Gate interface {
	Check(ctx context.Context) (quota.Decision, error)
	Record(ctx context.Context) (quota.Decision, error)
}

// StopReason explains why a batch run ended.
type StopReason string

const (
	// StopQuota means the daily completion limit was reached.
	StopQuota StopReason = "quota_reached"
	// StopNoContent means the source had nothing left to process.
	StopNoContent StopReason = "no_content"
	// StopFailures means too many jobs failed back to back.
	StopFailures StopReason = "consecutive_failures"
	// StopCanceled means the daemon is shutting down.
	StopCanceled StopReason = "canceled"
)

// BatchSummary reports the outcome of one batch run.
type BatchSummary struct {
	RunID     string
	Completed int
	Failed    int
	Reason    StopReason
}

// maxConsecutiveFailures stops a run when every job is dying the same death,
// typically an upstream outage the retry policy cannot paper over.
const maxConsecutiveFailures = 3

// LoopController owns the batch loop: resume unfinished work, then create
// and process jobs one at a time until the quota gate closes, the source
// runs dry, or failures pile up.
type LoopController struct {
	store    *queue.Store
	orch     *Orchestrator
	gate     Gate
	notifier Notifier
	logger   *slog.Logger
}

// NewLoopController builds the batch loop around an orchestrator.
func NewLoopController(store *queue.Store, orch *Orchestrator, gate Gate, notifier Notifier, logger *slog.Logger) *LoopController {
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &LoopController{
		store:    store,
		orch:     orch,
		gate:     gate,
		notifier: notifier,
		logger:   logger.With(logging.String(logging.FieldComponent, "controller")),
	}
}

// RunBatch executes one batch run. It first drains any job left unfinished
// by a previous process, then alternates gate checks and fresh jobs until a
// stop condition arrives. The returned error is non-nil only for
// infrastructure faults or cancellation.
func (c *LoopController) RunBatch(ctx context.Context) (BatchSummary, error) {
	runID := uuid.NewString()
	ctx = services.WithRunID(ctx, runID)
	logger := c.logger.With(logging.String(logging.FieldRunID, runID))

	summary := BatchSummary{RunID: runID}
	logger.InfoContext(ctx, "batch run started", logging.String(logging.FieldEventType, "run_start"))
	c.notifier.RunStarted(ctx, runID)

	consecutiveFailures := 0
	for {
		if ctx.Err() != nil {
			summary.Reason = StopCanceled
			break
		}

		job, resumed, err := c.nextJob(ctx, runID)
		if err != nil {
			return summary, err
		}
		if job == nil {
			// The gate was closed before a new job could start.
			summary.Reason = StopQuota
			break
		}
		if resumed {
			logger.InfoContext(ctx, "resuming unfinished job",
				logging.String(logging.FieldJobID, job.ID),
				logging.String("status", string(job.Status)))
		}

		terminal, err := c.orch.ProcessJob(ctx, job)
		if err != nil {
			if ctx.Err() != nil {
				summary.Reason = StopCanceled
				c.finishRun(ctx, logger, runID, summary)
				return summary, err
			}
			return summary, err
		}

		switch terminal {
		case queue.StatusCompleted:
			consecutiveFailures = 0
			summary.Completed++
			if _, err := c.gate.Record(ctx); err != nil {
				return summary, fmt.Errorf("record quota: %w", err)
			}
		case queue.StatusFailed:
			summary.Failed++
			consecutiveFailures++
			if consecutiveFailures >= maxConsecutiveFailures {
				summary.Reason = StopFailures
			}
		case queue.StatusNoContent:
			summary.Reason = StopNoContent
			c.notifier.NoContent(ctx, runID)
		case queue.StatusQuotaReached:
			summary.Reason = StopQuota
		}
		if summary.Reason != "" {
			break
		}
	}

	c.finishRun(ctx, logger, runID, summary)
	return summary, nil
}

// nextJob picks up unfinished work before consulting the gate for a fresh
// job. A resumed pending job that finds the gate closed goes straight to the
// quota terminal instead of burning stage work that cannot publish today.
func (c *LoopController) nextJob(ctx context.Context, runID string) (*queue.Job, bool, error) {
	job, err := c.store.NextUnfinished(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("next unfinished: %w", err)
	}
	if job != nil {
		if job.Status == queue.StatusPending {
			decision, err := c.gate.Check(ctx)
			if err != nil {
				return nil, false, fmt.Errorf("check quota: %w", err)
			}
			if decision.Reached {
				if err := job.Advance(queue.StatusQuotaReached); err != nil {
					return nil, false, err
				}
				if err := c.store.Update(ctx, job); err != nil {
					return nil, false, fmt.Errorf("persist quota terminal: %w", err)
				}
				return nil, false, nil
			}
		}
		return job, true, nil
	}

	decision, err := c.gate.Check(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("check quota: %w", err)
	}
	if decision.Reached {
		return nil, false, nil
	}
	job, err = c.store.NewJob(ctx, runID)
	if err != nil {
		return nil, false, fmt.Errorf("create job: %w", err)
	}
	return job, false, nil
}

func (c *LoopController) finishRun(ctx context.Context, logger *slog.Logger, runID string, summary BatchSummary) {
	logger.InfoContext(ctx, "batch run finished",
		logging.String(logging.FieldEventType, "run_done"),
		logging.Int("completed", summary.Completed),
		logging.Int("failed", summary.Failed),
		logging.String("reason", string(summary.Reason)))
	c.notifier.RunFinished(ctx, runID, summary.Completed, string(summary.Reason))
}
