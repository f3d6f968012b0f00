package workers

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"reeler/internal/broker"
	"reeler/internal/queue"
	"reeler/internal/services"
)

type stubLauncher struct {
	mu       sync.Mutex
	launches []LaunchSpec
	// behave decides what each launch does, keyed by launch ordinal.
	behave func(attempt int, spec LaunchSpec) error
}

func (s *stubLauncher) Launch(ctx context.Context, spec LaunchSpec) error {
	s.mu.Lock()
	s.launches = append(s.launches, spec)
	attempt := len(s.launches)
	s.mu.Unlock()
	if s.behave == nil {
		return nil
	}
	return s.behave(attempt, spec)
}

func (s *stubLauncher) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.launches)
}

func newHarness(t *testing.T, timing broker.Timing, policy Policy, launcher Launcher) (*Manager, *broker.Broker, *queue.Store, string) {
	t.Helper()
	store, err := queue.OpenPath(filepath.Join(t.TempDir(), "pipeline.db"))
	if err != nil {
		t.Fatalf("OpenPath failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	job, err := store.NewJob(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}

	b := broker.New(store, timing, nil)
	m := NewManager(b, map[queue.Status]Launcher{queue.StatusRendering: launcher}, policy, nil)
	m.sleep = func(context.Context, time.Duration) error { return nil }
	return m, b, store, job.ID
}

func TestRunHappyPath(t *testing.T) {
	var b *broker.Broker
	launcher := &stubLauncher{}
	launcher.behave = func(_ int, spec LaunchSpec) error {
		// Simulate the worker calling back.
		go func() {
			_ = b.Complete(context.Background(), spec.Token, "staging/video.mp4")
		}()
		return nil
	}
	m, br, _, jobID := newHarness(t, broker.Timing{PollInterval: 10 * time.Millisecond}, Policy{}, launcher)
	b = br

	outcome, err := m.Run(context.Background(), jobID, queue.StatusRendering, "staging/audio.wav")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if outcome.ResultRef != "staging/video.mp4" {
		t.Fatalf("result ref = %q, want staging/video.mp4", outcome.ResultRef)
	}
	if launcher.count() != 1 {
		t.Fatalf("launch count = %d, want 1", launcher.count())
	}
	spec := launcher.launches[0]
	if spec.JobID != jobID || spec.Stage != queue.StatusRendering || spec.Token == "" {
		t.Fatalf("unexpected launch spec %+v", spec)
	}
}

func TestRunRelaunchesDeadWorker(t *testing.T) {
	var b *broker.Broker
	launcher := &stubLauncher{}
	launcher.behave = func(attempt int, spec LaunchSpec) error {
		if attempt == 1 {
			// First worker never heartbeats; broker declares it dead.
			return nil
		}
		go func() {
			_ = b.Complete(context.Background(), spec.Token, "staging/video.mp4")
		}()
		return nil
	}
	timing := broker.Timing{HeartbeatTimeout: 40 * time.Millisecond, PollInterval: 10 * time.Millisecond}
	m, br, _, jobID := newHarness(t, timing, Policy{LaunchAttempts: 2}, launcher)
	b = br

	outcome, err := m.Run(context.Background(), jobID, queue.StatusRendering, "")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if outcome.ResultRef != "staging/video.mp4" {
		t.Fatalf("unexpected result %q", outcome.ResultRef)
	}
	if launcher.count() != 2 {
		t.Fatalf("launch count = %d, want 2", launcher.count())
	}
	if launcher.launches[0].Token == launcher.launches[1].Token {
		t.Fatal("relaunch must carry a fresh token")
	}
}

func TestRunExhaustsLaunchBudget(t *testing.T) {
	launcher := &stubLauncher{}
	timing := broker.Timing{HeartbeatTimeout: 30 * time.Millisecond, PollInterval: 10 * time.Millisecond}
	m, _, _, jobID := newHarness(t, timing, Policy{LaunchAttempts: 2}, launcher)

	_, err := m.Run(context.Background(), jobID, queue.StatusRendering, "")
	if !errors.Is(err, services.ErrWorkerTimeout) {
		t.Fatalf("expected worker timeout after exhausted attempts, got %v", err)
	}
	if launcher.count() != 2 {
		t.Fatalf("launch count = %d, want 2", launcher.count())
	}
}

func TestRunQuotaPassesThrough(t *testing.T) {
	var b *broker.Broker
	launcher := &stubLauncher{}
	launcher.behave = func(_ int, spec LaunchSpec) error {
		go func() {
			_ = b.Fail(context.Background(), spec.Token, "quota", "channel upload limit reached")
		}()
		return nil
	}
	m, br, _, jobID := newHarness(t, broker.Timing{PollInterval: 10 * time.Millisecond}, Policy{LaunchAttempts: 3}, launcher)
	b = br

	_, err := m.Run(context.Background(), jobID, queue.StatusRendering, "")
	if !errors.Is(err, services.ErrQuota) {
		t.Fatalf("expected quota error, got %v", err)
	}
	if launcher.count() != 1 {
		t.Fatalf("quota failures must not be retried, launch count = %d", launcher.count())
	}
}

func TestRunLaunchFailureRetried(t *testing.T) {
	var b *broker.Broker
	launcher := &stubLauncher{}
	launcher.behave = func(attempt int, spec LaunchSpec) error {
		if attempt == 1 {
			return services.Wrap(services.ErrTransient, "rendering", "launch", "cloud capacity", nil)
		}
		go func() {
			_ = b.Complete(context.Background(), spec.Token, "staging/video.mp4")
		}()
		return nil
	}
	m, br, _, jobID := newHarness(t, broker.Timing{PollInterval: 10 * time.Millisecond}, Policy{LaunchAttempts: 2}, launcher)
	b = br

	outcome, err := m.Run(context.Background(), jobID, queue.StatusRendering, "")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if outcome.ResultRef != "staging/video.mp4" {
		t.Fatalf("unexpected result %q", outcome.ResultRef)
	}
}

func TestRunReattachesToLiveToken(t *testing.T) {
	launcher := &stubLauncher{}
	m, b, _, jobID := newHarness(t, broker.Timing{PollInterval: 10 * time.Millisecond}, Policy{}, launcher)

	// Simulate a worker provisioned before a restart.
	token, err := b.Issue(context.Background(), jobID, queue.StatusRendering, "")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = b.Complete(context.Background(), token.Token, "staging/video.mp4")
	}()

	outcome, err := m.Run(context.Background(), jobID, queue.StatusRendering, "")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if outcome.ResultRef != "staging/video.mp4" {
		t.Fatalf("unexpected result %q", outcome.ResultRef)
	}
	if launcher.count() != 0 {
		t.Fatalf("re-attach must not launch a new worker, launch count = %d", launcher.count())
	}
}
