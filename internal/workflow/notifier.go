package workflow

import (
	"context"

	"reeler/internal/queue"
)

// Notifier receives pipeline lifecycle events. The notifications package
// provides the ntfy-backed implementation; NopNotifier covers tests and
// unconfigured daemons.
type Notifier interface {
	RunStarted(ctx context.Context, runID string)
	RunFinished(ctx context.Context, runID string, completed int, reason string)
	JobCompleted(ctx context.Context, job *queue.Job)
	JobFailed(ctx context.Context, job *queue.Job)
	QuotaReached(ctx context.Context, job *queue.Job)
	NoContent(ctx context.Context, runID string)
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) RunStarted(context.Context, string)               {}
func (NopNotifier) RunFinished(context.Context, string, int, string) {}
func (NopNotifier) JobCompleted(context.Context, *queue.Job)         {}
func (NopNotifier) JobFailed(context.Context, *queue.Job)            {}
func (NopNotifier) QuotaReached(context.Context, *queue.Job)         {}
func (NopNotifier) NoContent(context.Context, string)                {}
