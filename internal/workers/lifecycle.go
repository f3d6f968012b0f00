package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"reeler/internal/broker"
	"reeler/internal/logging"
	"reeler/internal/queue"
	"reeler/internal/services"
)

// Policy bounds worker provisioning retries. Retries here cover launch
// failures and dead workers only; failures the worker itself reports follow
// the error's own classification.
type Policy struct {
	// LaunchAttempts is the total number of provisioning attempts per
	// stage execution, including the first.
	LaunchAttempts int
	// RetryBackoff is the base delay between attempts. The wait grows
	// linearly with the attempt number.
	RetryBackoff time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.LaunchAttempts <= 0 {
		p.LaunchAttempts = 2
	}
	if p.RetryBackoff <= 0 {
		p.RetryBackoff = 15 * time.Second
	}
	return p
}

// Manager drives one worker-backed stage execution end to end: issue a
// token, provision a worker, await the callback, and relaunch on worker
// death up to the configured attempt budget.
type Manager struct {
	broker    *broker.Broker
	launchers map[queue.Status]Launcher
	policy    Policy
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewManager builds a lifecycle manager. launchers maps each worker-backed
// stage to its provisioner.
func NewManager(b *broker.Broker, launchers map[queue.Status]Launcher, policy Policy, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		broker:    b,
		launchers: launchers,
		policy:    policy.withDefaults(),
		logger:    logger.With(logging.String(logging.FieldComponent, "workers")),
		sleep:     sleepContext,
	}
}

// Run executes a worker-backed stage for the job and returns the worker's
// result reference. Quota and permanent failures pass straight through; only
// launch failures and heartbeat-timeout deaths consume the attempt budget.
func (m *Manager) Run(ctx context.Context, jobID string, stage queue.Status, input string) (broker.Outcome, error) {
	launcher, ok := m.launchers[stage]
	if !ok {
		return broker.Outcome{}, services.Wrap(services.ErrPermanent, string(stage), "launch", "no launcher configured", nil)
	}
	logger := m.logger.With(
		logging.String(logging.FieldJobID, jobID),
		logging.String(logging.FieldStage, string(stage)))

	// A live token means a worker was provisioned before a restart. Await
	// it first; a fresh launch only happens if that worker turns out dead.
	if live, err := m.broker.LiveToken(ctx, jobID, stage); err != nil {
		return broker.Outcome{}, err
	} else if live.Live() {
		logger.InfoContext(ctx, "re-attaching to in-flight worker",
			logging.String(logging.FieldToken, live.Token))
		outcome, err := m.broker.Await(ctx, live)
		if err == nil || !errors.Is(err, services.ErrWorkerTimeout) {
			return outcome, err
		}
		logger.WarnContext(ctx, "in-flight worker dead, relaunching", logging.Error(err))
	}

	var lastErr error
	for attempt := 1; attempt <= m.policy.LaunchAttempts; attempt++ {
		if attempt > 1 {
			delay := time.Duration(attempt-1) * m.policy.RetryBackoff
			logger.InfoContext(ctx, "retrying worker launch",
				logging.Int("attempt", attempt),
				logging.Duration("backoff", delay))
			if err := m.sleep(ctx, delay); err != nil {
				return broker.Outcome{}, err
			}
		}

		token, err := m.broker.Issue(ctx, jobID, stage, input)
		if err != nil {
			return broker.Outcome{}, err
		}
		if err := launcher.Launch(ctx, LaunchSpec{
			JobID: jobID,
			Stage: stage,
			Token: token.Token,
			Input: input,
		}); err != nil {
			logger.WarnContext(ctx, "worker launch failed",
				logging.Int("attempt", attempt),
				logging.Error(err))
			lastErr = err
			continue
		}

		outcome, err := m.broker.Await(ctx, token)
		if err == nil {
			return outcome, nil
		}
		if !errors.Is(err, services.ErrWorkerTimeout) {
			return broker.Outcome{}, err
		}
		lastErr = err
	}

	if lastErr == nil {
		lastErr = services.Wrap(services.ErrTransient, string(stage), "launch", "no attempts executed", nil)
	}
	return broker.Outcome{}, fmt.Errorf("worker attempts exhausted (%d): %w", m.policy.LaunchAttempts, lastErr)
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
