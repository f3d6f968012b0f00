package broker_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"reeler/internal/broker"
	"reeler/internal/queue"
	"reeler/internal/services"
)

func newBroker(t *testing.T, timing broker.Timing) (*broker.Broker, *queue.Store) {
	t.Helper()
	store, err := queue.OpenPath(filepath.Join(t.TempDir(), "pipeline.db"))
	if err != nil {
		t.Fatalf("OpenPath failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return broker.New(store, timing, nil), store
}

func TestAwaitCompletedToken(t *testing.T) {
	b, store := newBroker(t, broker.Timing{PollInterval: 10 * time.Millisecond})
	ctx := context.Background()

	job, err := store.NewJob(ctx, "run-1")
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}
	token, err := b.Issue(ctx, job.ID, queue.StatusRendering, "staging/audio.wav")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = b.Complete(context.Background(), token.Token, "staging/video.mp4")
	}()

	outcome, err := b.Await(ctx, token)
	if err != nil {
		t.Fatalf("Await returned error: %v", err)
	}
	if outcome.ResultRef != "staging/video.mp4" {
		t.Fatalf("result ref = %q, want staging/video.mp4", outcome.ResultRef)
	}
}

func TestAwaitFailedTokenClassified(t *testing.T) {
	b, store := newBroker(t, broker.Timing{PollInterval: 10 * time.Millisecond})
	ctx := context.Background()

	job, err := store.NewJob(ctx, "run-1")
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}
	token, err := b.Issue(ctx, job.ID, queue.StatusUploading, "staging/video.mp4")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if err := b.Fail(ctx, token.Token, "quota", "channel daily upload limit"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	_, err = b.Await(ctx, token)
	if !errors.Is(err, services.ErrQuota) {
		t.Fatalf("expected quota error, got %v", err)
	}
}

func TestAwaitHeartbeatTimeout(t *testing.T) {
	b, store := newBroker(t, broker.Timing{
		HeartbeatTimeout: 50 * time.Millisecond,
		PollInterval:     10 * time.Millisecond,
	})
	ctx := context.Background()

	job, err := store.NewJob(ctx, "run-1")
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}
	token, err := b.Issue(ctx, job.ID, queue.StatusRendering, "")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	_, err = b.Await(ctx, token)
	if !errors.Is(err, services.ErrWorkerTimeout) {
		t.Fatalf("expected worker timeout, got %v", err)
	}

	// The expired token must reject any late callback.
	err = b.Complete(ctx, token.Token, "staging/video.mp4")
	if !errors.Is(err, queue.ErrTokenStale) {
		t.Fatalf("expected stale token rejection, got %v", err)
	}
}

func TestHeartbeatExtendsWait(t *testing.T) {
	b, store := newBroker(t, broker.Timing{
		HeartbeatTimeout: 80 * time.Millisecond,
		PollInterval:     10 * time.Millisecond,
	})
	ctx := context.Background()

	job, err := store.NewJob(ctx, "run-1")
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}
	token, err := b.Issue(ctx, job.ID, queue.StatusRendering, "")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(30 * time.Millisecond)
		defer ticker.Stop()
		deadline := time.After(200 * time.Millisecond)
		for {
			select {
			case <-ticker.C:
				if err := b.Heartbeat(context.Background(), token.Token); err != nil {
					return
				}
			case <-deadline:
				_ = b.Complete(context.Background(), token.Token, "staging/video.mp4")
				return
			}
		}
	}()

	outcome, err := b.Await(ctx, token)
	<-done
	if err != nil {
		t.Fatalf("Await returned error despite heartbeats: %v", err)
	}
	if outcome.ResultRef != "staging/video.mp4" {
		t.Fatalf("unexpected result ref %q", outcome.ResultRef)
	}
}

func TestReissueSupersedesAndRejectsOldCallback(t *testing.T) {
	b, store := newBroker(t, broker.Timing{PollInterval: 10 * time.Millisecond})
	ctx := context.Background()

	job, err := store.NewJob(ctx, "run-1")
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}
	first, err := b.Issue(ctx, job.ID, queue.StatusRendering, "")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	second, err := b.Issue(ctx, job.ID, queue.StatusRendering, "")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if err := b.Complete(ctx, first.Token, "stale-result"); !errors.Is(err, queue.ErrTokenStale) {
		t.Fatalf("expected stale rejection for superseded token, got %v", err)
	}
	if err := b.Complete(ctx, second.Token, "fresh-result"); err != nil {
		t.Fatalf("Complete on live token failed: %v", err)
	}
}

func TestAwaitContextCancel(t *testing.T) {
	b, store := newBroker(t, broker.Timing{PollInterval: 10 * time.Millisecond})

	job, err := store.NewJob(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}
	token, err := b.Issue(context.Background(), job.ID, queue.StatusRendering, "")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = b.Await(ctx, token)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline, got %v", err)
	}
}

func TestAcquireStampsToken(t *testing.T) {
	b, store := newBroker(t, broker.Timing{})
	ctx := context.Background()

	job, err := store.NewJob(ctx, "run-1")
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}
	issued, err := b.Issue(ctx, job.ID, queue.StatusUploading, "staging/video.mp4")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	acquired, err := b.Acquire(ctx, queue.StatusUploading)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if acquired == nil || acquired.Token != issued.Token {
		t.Fatalf("expected to acquire issued token, got %+v", acquired)
	}
	if acquired.Input != "staging/video.mp4" {
		t.Fatalf("unexpected input %q", acquired.Input)
	}

	again, err := b.Acquire(ctx, queue.StatusUploading)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if again != nil {
		t.Fatal("token acquired twice")
	}
}
