// Package broker manages task tokens, the correlation handles that connect a
// suspended orchestration step to an ephemeral worker's eventual callback.
// Tokens are persisted in the job store so a daemon restart can re-attach to
// an in-flight worker instead of losing it.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"reeler/internal/logging"
	"reeler/internal/queue"
	"reeler/internal/services"
)

// Timing bounds how long the broker waits on a worker.
type Timing struct {
	// HeartbeatTimeout is the silence window after which a worker is
	// declared dead and its token invalidated.
	HeartbeatTimeout time.Duration
	// HardTimeout caps the total wall time for one worker attempt,
	// heartbeats or not.
	HardTimeout time.Duration
	// PollInterval is how often Await re-reads the persisted token when no
	// callback has arrived.
	PollInterval time.Duration
}

func (t Timing) withDefaults() Timing {
	if t.HeartbeatTimeout <= 0 {
		t.HeartbeatTimeout = 2 * time.Minute
	}
	if t.HardTimeout <= 0 {
		t.HardTimeout = time.Hour
	}
	if t.PollInterval <= 0 {
		t.PollInterval = 2 * time.Second
	}
	return t
}

// Outcome is the settled result of a worker attempt.
type Outcome struct {
	ResultRef string
}

// Broker issues, settles, and awaits task tokens against the queue store.
type Broker struct {
	store  *queue.Store
	timing Timing
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	waiters map[string]chan struct{}
}

// New builds a broker over the shared job store.
func New(store *queue.Store, timing Timing, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Broker{
		store:   store,
		timing:  timing.withDefaults(),
		logger:  logger.With(logging.String(logging.FieldComponent, "broker")),
		now:     time.Now,
		waiters: make(map[string]chan struct{}),
	}
}

// Issue mints a token for (job, stage). Any previously live token for the
// pair is superseded in the same transaction, so callbacks against the old
// token fail with a stale-token error from then on.
func (b *Broker) Issue(ctx context.Context, jobID string, stage queue.Status, input string) (*queue.TaskToken, error) {
	token, err := b.store.IssueToken(ctx, jobID, stage, input)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	b.logger.InfoContext(ctx, "task token issued",
		logging.String(logging.FieldJobID, jobID),
		logging.String(logging.FieldStage, string(stage)),
		logging.String(logging.FieldToken, token.Token))
	return token, nil
}

// Acquire hands the oldest unclaimed token for a stage channel to a polling
// worker. Returns nil when nothing is queued.
func (b *Broker) Acquire(ctx context.Context, stage queue.Status) (*queue.TaskToken, error) {
	return b.store.AcquireToken(ctx, stage)
}

// Heartbeat records worker liveness for a token.
func (b *Broker) Heartbeat(ctx context.Context, token string) error {
	return b.store.HeartbeatToken(ctx, token)
}

// Complete settles a token with a successful result and wakes its waiter.
func (b *Broker) Complete(ctx context.Context, token, resultRef string) error {
	if err := b.store.CompleteToken(ctx, token, resultRef); err != nil {
		return err
	}
	b.notify(token)
	return nil
}

// Fail settles a token with a worker-reported failure and wakes its waiter.
func (b *Broker) Fail(ctx context.Context, token, errorKind, errorMessage string) error {
	if err := b.store.FailToken(ctx, token, errorKind, errorMessage); err != nil {
		return err
	}
	b.notify(token)
	return nil
}

// LiveToken re-reads the outstanding token for (job, stage). Used on restart
// to re-attach to a worker that was launched before the daemon went down.
func (b *Broker) LiveToken(ctx context.Context, jobID string, stage queue.Status) (*queue.TaskToken, error) {
	return b.store.LiveToken(ctx, jobID, stage)
}

// Await blocks until the token settles, the worker misses its heartbeat
// deadline, the hard timeout lapses, or the context ends. Settlement wakes
// the wait immediately via an in-process channel; the poll interval only
// bounds recovery when the settling call raced a restart.
func (b *Broker) Await(ctx context.Context, token *queue.TaskToken) (Outcome, error) {
	if token == nil {
		return Outcome{}, services.Wrap(services.ErrPermanent, "", "await", "nil task token", nil)
	}
	wake := b.register(token.Token)
	defer b.unregister(token.Token)

	logger := b.logger.With(
		logging.String(logging.FieldJobID, token.JobID),
		logging.String(logging.FieldStage, string(token.Stage)),
		logging.String(logging.FieldToken, token.Token))

	ticker := time.NewTicker(b.timing.PollInterval)
	defer ticker.Stop()

	for {
		outcome, settled, err := b.check(ctx, token, logger)
		if err != nil || settled {
			return outcome, err
		}
		select {
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		case <-wake:
		case <-ticker.C:
		}
	}
}

// check reads the persisted token once and classifies its state. The second
// return value reports settlement.
func (b *Broker) check(ctx context.Context, issued *queue.TaskToken, logger *slog.Logger) (Outcome, bool, error) {
	record, err := b.store.GetToken(ctx, issued.Token)
	if err != nil {
		return Outcome{}, false, err
	}
	if record == nil {
		return Outcome{}, true, services.Wrap(services.ErrPermanent, string(issued.Stage), "await", "task token disappeared", nil)
	}
	switch {
	case record.State == queue.TokenCompleted:
		return Outcome{ResultRef: record.ResultRef}, true, nil
	case record.State == queue.TokenFailed:
		kind := services.KindFromString(record.ErrorKind)
		message := record.ErrorMessage
		if message == "" {
			message = "worker reported failure"
		}
		return Outcome{}, true, services.Wrap(services.MarkerForKind(kind), string(record.Stage), "worker", message, nil)
	case record.Superseded:
		return Outcome{}, true, services.Wrap(services.ErrPermanent, string(record.Stage), "await", "token superseded mid-wait", nil)
	}

	now := b.now()
	heartbeatBase := record.IssuedAt
	if record.HeartbeatAt != nil {
		heartbeatBase = *record.HeartbeatAt
	}
	if now.Sub(heartbeatBase) > b.timing.HeartbeatTimeout {
		return b.expire(ctx, record, logger, fmt.Sprintf("no heartbeat for %s", now.Sub(heartbeatBase).Round(time.Second)))
	}
	if now.Sub(record.IssuedAt) > b.timing.HardTimeout {
		return b.expire(ctx, record, logger, fmt.Sprintf("hard timeout after %s", now.Sub(record.IssuedAt).Round(time.Second)))
	}
	return Outcome{}, false, nil
}

// expire settles a token as a worker timeout so any late callback is rejected
// as stale. If the worker won the race and settled first, the settled state
// wins on the immediate re-read.
func (b *Broker) expire(ctx context.Context, record *queue.TaskToken, logger *slog.Logger, reason string) (Outcome, bool, error) {
	err := b.store.FailToken(ctx, record.Token, string(services.KindWorkerTimeout), reason)
	if err == nil {
		logger.WarnContext(ctx, "worker declared dead",
			logging.String("reason", reason))
		return Outcome{}, true, services.Wrap(services.ErrWorkerTimeout, string(record.Stage), "worker", reason, nil)
	}
	if errors.Is(err, queue.ErrTokenStale) {
		return b.check(ctx, record, logger)
	}
	return Outcome{}, false, err
}

func (b *Broker) register(token string) chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan struct{}, 1)
	b.waiters[token] = ch
	return ch
}

func (b *Broker) unregister(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.waiters, token)
}

func (b *Broker) notify(token string) {
	b.mu.Lock()
	ch, ok := b.waiters[token]
	b.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}
