package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"reeler/internal/broker"
	"reeler/internal/logging"
	"reeler/internal/queue"
	"reeler/internal/services"
	"reeler/internal/stage"
)

// Fetcher is the content acquisition dependency. Beyond the invoke contract
// it releases staged artifacts once a job is terminal.
type Fetcher interface {
	stage.Invoker
	Cleanup(ctx context.Context, jobID string) error
}

// WorkerRunner executes a worker-backed stage and returns the worker's
// result reference. The workers lifecycle manager satisfies it.
type WorkerRunner interface {
	Run(ctx context.Context, jobID string, stageStatus queue.Status, input string) (broker.Outcome, error)
}

// Timing carries stage execution policy for the orchestrator.
type Timing struct {
	// StageTimeout caps one attempt of a synchronous stage invocation.
	StageTimeout time.Duration
	// RetryLimit is the attempt budget per synchronous stage, including
	// the first attempt. Only transient failures are retried.
	RetryLimit int
	// RetryBackoff is the initial delay between attempts; it doubles each
	// retry.
	RetryBackoff time.Duration
}

func (t Timing) withDefaults() Timing {
	if t.StageTimeout <= 0 {
		t.StageTimeout = 10 * time.Minute
	}
	if t.RetryLimit <= 0 {
		t.RetryLimit = 3
	}
	if t.RetryBackoff <= 0 {
		t.RetryBackoff = 30 * time.Second
	}
	return t
}

// Orchestrator advances a single job through the pipeline state machine.
type Orchestrator struct {
	store    *queue.Store
	fetcher  Fetcher
	scripter stage.Invoker
	voicer   stage.Invoker
	workers  WorkerRunner
	timing   Timing
	notifier Notifier
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator wires the pipeline dependencies together.
func NewOrchestrator(
	store *queue.Store,
	fetcher Fetcher,
	scripter stage.Invoker,
	voicer stage.Invoker,
	workers WorkerRunner,
	timing Timing,
	notifier Notifier,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Orchestrator{
		store:    store,
		fetcher:  fetcher,
		scripter: scripter,
		voicer:   voicer,
		workers:  workers,
		timing:   timing.withDefaults(),
		notifier: notifier,
		logger:   logger.With(logging.String(logging.FieldComponent, "workflow")),
		sleep:    sleepContext,
	}
}

// ProcessJob drives the job from its current status to a terminal one. The
// returned status is the terminal status reached; the error is non-nil only
// for infrastructure faults (store unavailable, context canceled), never for
// an ordinary job failure.
func (o *Orchestrator) ProcessJob(ctx context.Context, job *queue.Job) (queue.Status, error) {
	ctx = services.WithJobID(ctx, job.ID)
	logger := o.logger.With(logging.String(logging.FieldJobID, job.ID))

	for !job.Status.IsTerminal() {
		select {
		case <-ctx.Done():
			return job.Status, ctx.Err()
		default:
		}

		var err error
		switch job.Status {
		case queue.StatusPending:
			err = o.begin(ctx, logger, job)
		case queue.StatusFetching:
			err = o.runFetch(ctx, logger, job)
		case queue.StatusScripting:
			err = o.runBounded(ctx, logger, job, o.scripter, queue.StatusAudio)
		case queue.StatusAudio:
			err = o.runAudio(ctx, logger, job)
		case queue.StatusRendering:
			err = o.runWorker(ctx, logger, job, job.AudioRef, queue.StatusUploading)
		case queue.StatusUploading:
			err = o.runWorker(ctx, logger, job, job.VideoRef, queue.StatusCompleted)
		default:
			err = services.Wrap(services.ErrPermanent, string(job.Status), "orchestrate", "no handler for status", nil)
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
				return job.Status, err
			}
			if routeErr := o.routeFailure(ctx, logger, job, err); routeErr != nil {
				return job.Status, routeErr
			}
		}
	}

	o.finish(ctx, logger, job)
	return job.Status, nil
}

// begin moves a pending job into the pipeline.
func (o *Orchestrator) begin(ctx context.Context, logger *slog.Logger, job *queue.Job) error {
	if err := job.Advance(queue.StatusFetching); err != nil {
		return err
	}
	if err := o.store.Update(ctx, job); err != nil {
		return fmt.Errorf("persist job start: %w", err)
	}
	logger.InfoContext(ctx, "job started",
		logging.String(logging.FieldEventType, "job_start"),
		logging.String(logging.FieldRunID, job.RunID))
	return nil
}

// runFetch executes the fetch stage and captures the content title.
func (o *Orchestrator) runFetch(ctx context.Context, logger *slog.Logger, job *queue.Job) error {
	result, err := o.invokeWithRetry(ctx, logger, o.fetcher, job)
	if err != nil {
		return err
	}
	job.SetArtifactFor(job.Status, result.ArtifactRef)
	if title := strings.TrimSpace(result.Title); title != "" {
		job.Title = title
	}
	return o.advance(ctx, logger, job, queue.StatusScripting)
}

// runBounded executes one synchronous stage and advances on success.
func (o *Orchestrator) runBounded(ctx context.Context, logger *slog.Logger, job *queue.Job, invoker stage.Invoker, next queue.Status) error {
	result, err := o.invokeWithRetry(ctx, logger, invoker, job)
	if err != nil {
		return err
	}
	job.SetArtifactFor(job.Status, result.ArtifactRef)
	return o.advance(ctx, logger, job, next)
}

// runAudio executes the audio stage, looping on continuation results. Each
// sub-unit persists its cursor before the next invocation so a crash resumes
// mid-stage instead of restarting it.
func (o *Orchestrator) runAudio(ctx context.Context, logger *slog.Logger, job *queue.Job) error {
	for {
		result, err := o.invokeWithRetry(ctx, logger, o.voicer, job)
		if err != nil {
			return err
		}
		if result.Status != stage.ResultNeedsContinuation {
			job.Cursor = ""
			job.SetArtifactFor(job.Status, result.ArtifactRef)
			return o.advance(ctx, logger, job, queue.StatusRendering)
		}
		job.Cursor = result.NextCursor
		if result.ArtifactRef != "" {
			job.SetArtifactFor(job.Status, result.ArtifactRef)
		}
		if err := o.store.Update(ctx, job); err != nil {
			return fmt.Errorf("persist continuation cursor: %w", err)
		}
		logger.DebugContext(ctx, "stage continuation",
			logging.String(logging.FieldStage, string(job.Status)),
			logging.String("cursor", result.NextCursor))
	}
}

// runWorker executes a worker-backed stage through the lifecycle manager.
func (o *Orchestrator) runWorker(ctx context.Context, logger *slog.Logger, job *queue.Job, input string, next queue.Status) error {
	ctx = services.WithStage(ctx, string(job.Status))
	outcome, err := o.workers.Run(ctx, job.ID, job.Status, input)
	if err != nil {
		return err
	}
	job.SetArtifactFor(job.Status, outcome.ResultRef)
	return o.advance(ctx, logger, job, next)
}

// invokeWithRetry runs one synchronous stage invocation under the bounded
// retry policy, with a per-attempt timeout.
func (o *Orchestrator) invokeWithRetry(ctx context.Context, logger *slog.Logger, invoker stage.Invoker, job *queue.Job) (stage.Result, error) {
	ctx = services.WithStage(ctx, invoker.Name())
	request := stage.Request{
		JobID:  job.ID,
		Cursor: job.Cursor,
		Input:  o.stageInput(job),
	}

	var result stage.Result
	err := o.retry(ctx, logger, invoker.Name(), func(attemptCtx context.Context) error {
		var invokeErr error
		result, invokeErr = invoker.Invoke(attemptCtx, request)
		return invokeErr
	})
	if err != nil {
		return stage.Result{}, err
	}
	return result, nil
}

// stageInput resolves the artifact the current stage consumes.
func (o *Orchestrator) stageInput(job *queue.Job) string {
	switch job.Status {
	case queue.StatusScripting:
		return job.SourceRef
	case queue.StatusAudio:
		return job.ScriptRef
	default:
		return ""
	}
}

// advance persists a successful stage result and the transition to the next
// status in one update.
func (o *Orchestrator) advance(ctx context.Context, logger *slog.Logger, job *queue.Job, next queue.Status) error {
	from := job.Status
	if err := job.Advance(next); err != nil {
		return err
	}
	if err := o.store.Update(ctx, job); err != nil {
		return fmt.Errorf("persist stage result: %w", err)
	}
	logger.InfoContext(ctx, "stage completed",
		logging.String(logging.FieldEventType, "stage_done"),
		logging.String(logging.FieldStage, string(from)),
		logging.String("next", string(next)))
	return nil
}

// routeFailure maps a stage error onto the job's terminal state. No-content
// and quota results are expected outcomes with their own terminals; anything
// else marks the job failed without touching the rest of the queue.
func (o *Orchestrator) routeFailure(ctx context.Context, logger *slog.Logger, job *queue.Job, stageErr error) error {
	kind := services.Classify(stageErr)
	failedIn := job.Status

	switch kind {
	case services.KindNoContent:
		if queue.CanTransition(job.Status, queue.StatusNoContent) {
			if err := job.Advance(queue.StatusNoContent); err != nil {
				return err
			}
			logger.InfoContext(ctx, "no content available",
				logging.String(logging.FieldEventType, "no_content"),
				logging.String(logging.FieldStage, string(failedIn)))
			return o.persistTerminal(ctx, job)
		}
	case services.KindQuota:
		if queue.CanTransition(job.Status, queue.StatusQuotaReached) {
			if err := job.Advance(queue.StatusQuotaReached); err != nil {
				return err
			}
			logger.InfoContext(ctx, "downstream quota reached",
				logging.String(logging.FieldEventType, "quota_reached"),
				logging.String(logging.FieldStage, string(failedIn)))
			return o.persistTerminal(ctx, job)
		}
	}

	message := strings.TrimSpace(stageErr.Error())
	job.SetFailed(failedIn, message)
	logger.ErrorContext(ctx, "stage failed",
		logging.String(logging.FieldEventType, "stage_failure"),
		logging.String(logging.FieldStage, string(failedIn)),
		logging.String(logging.FieldErrorKind, string(kind)),
		logging.Error(stageErr))
	return o.persistTerminal(ctx, job)
}

func (o *Orchestrator) persistTerminal(ctx context.Context, job *queue.Job) error {
	if err := o.store.Update(ctx, job); err != nil {
		return fmt.Errorf("persist terminal status: %w", err)
	}
	return nil
}

// finish handles post-terminal bookkeeping: staged artifact cleanup and
// notifications. Nothing here can fail the job.
func (o *Orchestrator) finish(ctx context.Context, logger *slog.Logger, job *queue.Job) {
	if o.fetcher != nil {
		if err := o.fetcher.Cleanup(ctx, job.ID); err != nil {
			logger.WarnContext(ctx, "staged artifact cleanup failed", logging.Error(err))
		}
	}

	switch job.Status {
	case queue.StatusCompleted:
		logger.InfoContext(ctx, "job completed",
			logging.String(logging.FieldEventType, "job_done"),
			logging.String("title", job.Title))
		o.notifier.JobCompleted(ctx, job)
	case queue.StatusFailed:
		o.notifier.JobFailed(ctx, job)
	case queue.StatusQuotaReached:
		o.notifier.QuotaReached(ctx, job)
	}
}

// retry implements the bounded-stage policy: transient failures get up to
// RetryLimit attempts with exponential backoff, everything else returns on
// the first failure.
func (o *Orchestrator) retry(ctx context.Context, logger *slog.Logger, stageName string, fn func(ctx context.Context) error) error {
	backoff := o.timing.RetryBackoff
	var lastErr error
	for attempt := 1; attempt <= o.timing.RetryLimit; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, o.timing.StageTimeout)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if !services.Retryable(err) || errors.Is(err, context.Canceled) {
			return err
		}
		if attempt == o.timing.RetryLimit {
			break
		}
		logger.WarnContext(ctx, "stage attempt failed, retrying",
			logging.String(logging.FieldStage, stageName),
			logging.Int("attempt", attempt),
			logging.Duration("backoff", backoff),
			logging.Error(err))
		if err := o.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
	}
	return fmt.Errorf("stage attempts exhausted (%d): %w", o.timing.RetryLimit, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
