package api

import (
	"context"
	"errors"

	"reeler/internal/queue"
)

// QueueService exposes queue operations shared by the HTTP API, the IPC
// surface, and the CLI.
type QueueService struct {
	store *queue.Store
}

// NewQueueService wraps a queue store.
func NewQueueService(store *queue.Store) *QueueService {
	return &QueueService{store: store}
}

// List returns queue jobs, optionally filtered by status.
func (s *QueueService) List(ctx context.Context, statuses ...queue.Status) ([]QueueJob, error) {
	if s == nil || s.store == nil {
		return nil, errors.New("queue store unavailable")
	}
	jobs, err := s.store.List(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	return FromJobs(jobs), nil
}

// Describe returns one job by id, or nil when absent.
func (s *QueueService) Describe(ctx context.Context, id string) (*QueueJob, error) {
	if s == nil || s.store == nil {
		return nil, errors.New("queue store unavailable")
	}
	job, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}
	view := FromJob(job)
	return &view, nil
}

// Retry resets failed jobs back to pending. With no ids it retries every
// failed job; otherwise only the named ones.
func (s *QueueService) Retry(ctx context.Context, ids ...string) (int64, error) {
	if s == nil || s.store == nil {
		return 0, errors.New("queue store unavailable")
	}
	return s.store.RetryFailed(ctx, ids...)
}

// ClearTerminal removes jobs in terminal states.
func (s *QueueService) ClearTerminal(ctx context.Context) (int64, error) {
	if s == nil || s.store == nil {
		return 0, errors.New("queue store unavailable")
	}
	return s.store.ClearTerminal(ctx)
}

// Clear removes every job.
func (s *QueueService) Clear(ctx context.Context) (int64, error) {
	if s == nil || s.store == nil {
		return 0, errors.New("queue store unavailable")
	}
	return s.store.Clear(ctx)
}

// Stats aggregates job counts by status.
func (s *QueueService) Stats(ctx context.Context) (map[string]int, error) {
	if s == nil || s.store == nil {
		return nil, errors.New("queue store unavailable")
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	view := make(map[string]int, len(stats))
	for status, count := range stats {
		view[string(status)] = count
	}
	return view, nil
}
