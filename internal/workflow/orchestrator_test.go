package workflow_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"reeler/internal/broker"
	"reeler/internal/queue"
	"reeler/internal/quota"
	"reeler/internal/services"
	"reeler/internal/stage"
	"reeler/internal/workflow"
)

type fakeInvoker struct {
	name  string
	mu    sync.Mutex
	calls int
	fn    func(call int, req stage.Request) (stage.Result, error)
}

func (f *fakeInvoker) Name() string { return f.name }

func (f *fakeInvoker) Invoke(_ context.Context, req stage.Request) (stage.Result, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if f.fn == nil {
		return stage.Result{Status: stage.ResultSuccess, ArtifactRef: f.name + "-artifact"}, nil
	}
	return f.fn(call, req)
}

func (f *fakeInvoker) HealthCheck(context.Context) stage.Health { return stage.Healthy(f.name) }

func (f *fakeInvoker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeFetcher struct {
	fakeInvoker
	cleaned []string
}

func (f *fakeFetcher) Cleanup(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleaned = append(f.cleaned, jobID)
	return nil
}

type fakeWorkers struct {
	fn func(jobID string, stageStatus queue.Status, input string) (broker.Outcome, error)
}

func (f *fakeWorkers) Run(_ context.Context, jobID string, stageStatus queue.Status, input string) (broker.Outcome, error) {
	if f.fn == nil {
		return broker.Outcome{ResultRef: string(stageStatus) + "-artifact"}, nil
	}
	return f.fn(jobID, stageStatus, input)
}

type harness struct {
	store    *queue.Store
	fetcher  *fakeFetcher
	scripter *fakeInvoker
	voicer   *fakeInvoker
	workers  *fakeWorkers
	orch     *workflow.Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := queue.OpenPath(filepath.Join(t.TempDir(), "pipeline.db"))
	if err != nil {
		t.Fatalf("OpenPath failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	h := &harness{
		store:    store,
		fetcher:  &fakeFetcher{fakeInvoker: fakeInvoker{name: "fetch"}},
		scripter: &fakeInvoker{name: "script"},
		voicer:   &fakeInvoker{name: "audio"},
		workers:  &fakeWorkers{},
	}
	timing := workflow.Timing{
		StageTimeout: time.Second,
		RetryLimit:   3,
		RetryBackoff: time.Millisecond,
	}
	h.orch = workflow.NewOrchestrator(store, h.fetcher, h.scripter, h.voicer, h.workers, timing, nil, nil)
	return h
}

func (h *harness) newJob(t *testing.T) *queue.Job {
	t.Helper()
	job, err := h.store.NewJob(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}
	return job
}

func TestProcessJobFullTrajectory(t *testing.T) {
	h := newHarness(t)
	h.fetcher.fn = func(_ int, req stage.Request) (stage.Result, error) {
		return stage.Result{Status: stage.ResultSuccess, ArtifactRef: "staging/source", Title: "Morning Brief"}, nil
	}
	job := h.newJob(t)

	terminal, err := h.orch.ProcessJob(context.Background(), job)
	if err != nil {
		t.Fatalf("ProcessJob returned error: %v", err)
	}
	if terminal != queue.StatusCompleted {
		t.Fatalf("terminal = %s, want completed", terminal)
	}

	stored, err := h.store.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if stored.Title != "Morning Brief" {
		t.Fatalf("title = %q, want Morning Brief", stored.Title)
	}
	if stored.SourceRef != "staging/source" || stored.ScriptRef == "" || stored.AudioRef == "" {
		t.Fatalf("missing stage artifacts: %+v", stored)
	}
	if stored.VideoRef != "rendering-artifact" || stored.PublishRef != "uploading-artifact" {
		t.Fatalf("missing worker artifacts: %+v", stored)
	}
	if stored.CompletedAt == nil {
		t.Fatal("completed job missing completion timestamp")
	}
	if len(h.fetcher.cleaned) != 1 || h.fetcher.cleaned[0] != job.ID {
		t.Fatalf("cleanup not invoked for job, got %v", h.fetcher.cleaned)
	}
}

func TestProcessJobNoContentStopsCleanly(t *testing.T) {
	h := newHarness(t)
	h.fetcher.fn = func(_ int, _ stage.Request) (stage.Result, error) {
		return stage.Result{}, services.Wrap(services.ErrNoContent, "fetch", "invoke", "source exhausted", nil)
	}
	job := h.newJob(t)

	terminal, err := h.orch.ProcessJob(context.Background(), job)
	if err != nil {
		t.Fatalf("ProcessJob returned error: %v", err)
	}
	if terminal != queue.StatusNoContent {
		t.Fatalf("terminal = %s, want no_content", terminal)
	}

	stored, err := h.store.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if stored.ErrorMessage != "" || stored.FailedAt != nil {
		t.Fatalf("no-content exit must not look like a failure: %+v", stored)
	}
}

func TestProcessJobDownstreamQuota(t *testing.T) {
	h := newHarness(t)
	h.workers.fn = func(_ string, stageStatus queue.Status, _ string) (broker.Outcome, error) {
		if stageStatus == queue.StatusUploading {
			return broker.Outcome{}, services.Wrap(services.ErrQuota, "uploading", "worker", "platform upload limit", nil)
		}
		return broker.Outcome{ResultRef: "staging/video.mp4"}, nil
	}
	job := h.newJob(t)

	terminal, err := h.orch.ProcessJob(context.Background(), job)
	if err != nil {
		t.Fatalf("ProcessJob returned error: %v", err)
	}
	if terminal != queue.StatusQuotaReached {
		t.Fatalf("terminal = %s, want quota_reached", terminal)
	}
}

func TestProcessJobRetriesTransient(t *testing.T) {
	h := newHarness(t)
	h.scripter.fn = func(call int, _ stage.Request) (stage.Result, error) {
		if call < 3 {
			return stage.Result{}, services.Wrap(services.ErrTransient, "script", "invoke", "http 503", nil)
		}
		return stage.Result{Status: stage.ResultSuccess, ArtifactRef: "staging/script.md"}, nil
	}
	job := h.newJob(t)

	terminal, err := h.orch.ProcessJob(context.Background(), job)
	if err != nil {
		t.Fatalf("ProcessJob returned error: %v", err)
	}
	if terminal != queue.StatusCompleted {
		t.Fatalf("terminal = %s, want completed", terminal)
	}
	if h.scripter.callCount() != 3 {
		t.Fatalf("scripter calls = %d, want 3", h.scripter.callCount())
	}
}

func TestProcessJobPermanentFailureSkipsRetry(t *testing.T) {
	h := newHarness(t)
	h.scripter.fn = func(_ int, _ stage.Request) (stage.Result, error) {
		return stage.Result{}, services.Wrap(services.ErrPermanent, "script", "invoke", "rejected input", nil)
	}
	job := h.newJob(t)

	terminal, err := h.orch.ProcessJob(context.Background(), job)
	if err != nil {
		t.Fatalf("ProcessJob returned error: %v", err)
	}
	if terminal != queue.StatusFailed {
		t.Fatalf("terminal = %s, want failed", terminal)
	}
	if h.scripter.callCount() != 1 {
		t.Fatalf("permanent failure must not retry, calls = %d", h.scripter.callCount())
	}

	stored, err := h.store.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if stored.FailedState != string(queue.StatusScripting) {
		t.Fatalf("failed state = %q, want scripting", stored.FailedState)
	}
	if stored.ErrorMessage == "" {
		t.Fatal("failure must record an error message")
	}
	if len(h.fetcher.cleaned) != 1 {
		t.Fatal("cleanup must run for failed jobs too")
	}
}

func TestProcessJobRetriesExhaustedFails(t *testing.T) {
	h := newHarness(t)
	h.voicer.fn = func(_ int, _ stage.Request) (stage.Result, error) {
		return stage.Result{}, services.Wrap(services.ErrTransient, "audio", "invoke", "synth backend flapping", nil)
	}
	job := h.newJob(t)

	terminal, err := h.orch.ProcessJob(context.Background(), job)
	if err != nil {
		t.Fatalf("ProcessJob returned error: %v", err)
	}
	if terminal != queue.StatusFailed {
		t.Fatalf("terminal = %s, want failed", terminal)
	}
	if h.voicer.callCount() != 3 {
		t.Fatalf("voicer calls = %d, want full retry budget of 3", h.voicer.callCount())
	}
}

func TestProcessJobAudioContinuation(t *testing.T) {
	h := newHarness(t)
	var cursors []string
	h.voicer.fn = func(call int, req stage.Request) (stage.Result, error) {
		cursors = append(cursors, req.Cursor)
		switch call {
		case 1:
			return stage.Result{Status: stage.ResultNeedsContinuation, NextCursor: "segment-2"}, nil
		case 2:
			return stage.Result{Status: stage.ResultNeedsContinuation, NextCursor: "segment-3"}, nil
		default:
			return stage.Result{Status: stage.ResultSuccess, ArtifactRef: "staging/audio.wav"}, nil
		}
	}
	job := h.newJob(t)

	terminal, err := h.orch.ProcessJob(context.Background(), job)
	if err != nil {
		t.Fatalf("ProcessJob returned error: %v", err)
	}
	if terminal != queue.StatusCompleted {
		t.Fatalf("terminal = %s, want completed", terminal)
	}
	want := []string{"", "segment-2", "segment-3"}
	if len(cursors) != len(want) {
		t.Fatalf("cursors = %v, want %v", cursors, want)
	}
	for i := range want {
		if cursors[i] != want[i] {
			t.Fatalf("cursors = %v, want %v", cursors, want)
		}
	}

	stored, err := h.store.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if stored.Cursor != "" {
		t.Fatalf("cursor must clear after the stage completes, got %q", stored.Cursor)
	}
	if stored.AudioRef != "staging/audio.wav" {
		t.Fatalf("audio ref = %q", stored.AudioRef)
	}
}

func TestProcessJobResumesMidPipeline(t *testing.T) {
	h := newHarness(t)
	job := h.newJob(t)

	// Simulate a job persisted at the audio stage by a previous process.
	if err := job.Advance(queue.StatusFetching); err != nil {
		t.Fatal(err)
	}
	job.SourceRef = "staging/source"
	if err := job.Advance(queue.StatusScripting); err != nil {
		t.Fatal(err)
	}
	job.ScriptRef = "staging/script.md"
	if err := job.Advance(queue.StatusAudio); err != nil {
		t.Fatal(err)
	}
	if err := h.store.Update(context.Background(), job); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	terminal, err := h.orch.ProcessJob(context.Background(), job)
	if err != nil {
		t.Fatalf("ProcessJob returned error: %v", err)
	}
	if terminal != queue.StatusCompleted {
		t.Fatalf("terminal = %s, want completed", terminal)
	}
	if h.fetcher.callCount() != 0 || h.scripter.callCount() != 0 {
		t.Fatal("resumed job must not re-run finished stages")
	}
	if h.voicer.callCount() != 1 {
		t.Fatalf("voicer calls = %d, want 1", h.voicer.callCount())
	}
}

type fakeGate struct {
	mu    sync.Mutex
	limit int
	count int
}

func (g *fakeGate) Check(context.Context) (quota.Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return quota.Decision{Count: g.count, Limit: g.limit, Reached: g.count >= g.limit}, nil
}

func (g *fakeGate) Record(context.Context) (quota.Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.count++
	return quota.Decision{Count: g.count, Limit: g.limit, Reached: g.count >= g.limit}, nil
}
