package workflow_test

import (
	"context"
	"sync"
	"testing"

	"reeler/internal/queue"
	"reeler/internal/services"
	"reeler/internal/stage"
	"reeler/internal/workflow"
)

type recordingNotifier struct {
	workflow.NopNotifier
	mu        sync.Mutex
	started   int
	finished  []string
	noContent int
}

func (n *recordingNotifier) RunStarted(context.Context, string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started++
}

func (n *recordingNotifier) RunFinished(_ context.Context, _ string, _ int, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.finished = append(n.finished, reason)
}

func (n *recordingNotifier) NoContent(context.Context, string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.noContent++
}

func newController(t *testing.T, h *harness, gate workflow.Gate, notifier workflow.Notifier) *workflow.LoopController {
	t.Helper()
	return workflow.NewLoopController(h.store, h.orch, gate, notifier, nil)
}

func TestRunBatchStopsAtQuota(t *testing.T) {
	h := newHarness(t)
	gate := &fakeGate{limit: 2}
	ctl := newController(t, h, gate, nil)

	summary, err := ctl.RunBatch(context.Background())
	if err != nil {
		t.Fatalf("RunBatch returned error: %v", err)
	}
	if summary.Reason != workflow.StopQuota {
		t.Fatalf("reason = %s, want quota", summary.Reason)
	}
	if summary.Completed != 2 {
		t.Fatalf("completed = %d, want 2", summary.Completed)
	}
	if gate.count != 2 {
		t.Fatalf("counter = %d, want one increment per completion", gate.count)
	}

	jobs, err := h.store.List(context.Background(), queue.StatusCompleted)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("completed jobs = %d, want 2", len(jobs))
	}
}

func TestRunBatchStopsWhenSourceDry(t *testing.T) {
	h := newHarness(t)
	h.fetcher.fn = func(call int, _ stage.Request) (stage.Result, error) {
		if call > 1 {
			return stage.Result{}, services.Wrap(services.ErrNoContent, "fetch", "invoke", "source exhausted", nil)
		}
		return stage.Result{Status: stage.ResultSuccess, ArtifactRef: "staging/source"}, nil
	}
	notifier := &recordingNotifier{}
	ctl := newController(t, h, &fakeGate{limit: 5}, notifier)

	summary, err := ctl.RunBatch(context.Background())
	if err != nil {
		t.Fatalf("RunBatch returned error: %v", err)
	}
	if summary.Reason != workflow.StopNoContent {
		t.Fatalf("reason = %s, want no_content", summary.Reason)
	}
	if summary.Completed != 1 {
		t.Fatalf("completed = %d, want 1", summary.Completed)
	}
	if notifier.noContent != 1 {
		t.Fatalf("no-content notifications = %d, want 1", notifier.noContent)
	}
	if len(notifier.finished) != 1 || notifier.finished[0] != string(workflow.StopNoContent) {
		t.Fatalf("unexpected finish notifications %v", notifier.finished)
	}
}

func TestRunBatchIsolatesFailedJob(t *testing.T) {
	h := newHarness(t)
	h.scripter.fn = func(call int, _ stage.Request) (stage.Result, error) {
		if call == 1 {
			return stage.Result{}, services.Wrap(services.ErrPermanent, "script", "invoke", "rejected input", nil)
		}
		return stage.Result{Status: stage.ResultSuccess, ArtifactRef: "staging/script.md"}, nil
	}
	fetchCalls := 0
	h.fetcher.fn = func(_ int, _ stage.Request) (stage.Result, error) {
		fetchCalls++
		if fetchCalls > 2 {
			return stage.Result{}, services.Wrap(services.ErrNoContent, "fetch", "invoke", "source exhausted", nil)
		}
		return stage.Result{Status: stage.ResultSuccess, ArtifactRef: "staging/source"}, nil
	}
	ctl := newController(t, h, &fakeGate{limit: 5}, nil)

	summary, err := ctl.RunBatch(context.Background())
	if err != nil {
		t.Fatalf("RunBatch returned error: %v", err)
	}
	if summary.Failed != 1 || summary.Completed != 1 {
		t.Fatalf("summary = %+v, want 1 failed and 1 completed", summary)
	}
	if summary.Reason != workflow.StopNoContent {
		t.Fatalf("reason = %s, want no_content", summary.Reason)
	}
}

func TestRunBatchStopsAfterConsecutiveFailures(t *testing.T) {
	h := newHarness(t)
	h.fetcher.fn = func(_ int, _ stage.Request) (stage.Result, error) {
		return stage.Result{}, services.Wrap(services.ErrPermanent, "fetch", "invoke", "credentials revoked", nil)
	}
	ctl := newController(t, h, &fakeGate{limit: 10}, nil)

	summary, err := ctl.RunBatch(context.Background())
	if err != nil {
		t.Fatalf("RunBatch returned error: %v", err)
	}
	if summary.Reason != workflow.StopFailures {
		t.Fatalf("reason = %s, want consecutive_failures", summary.Reason)
	}
	if summary.Failed != 3 {
		t.Fatalf("failed = %d, want 3", summary.Failed)
	}
}

func TestRunBatchResumesUnfinishedJobFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// A job left at the scripting stage by a previous process.
	leftover, err := h.store.NewJob(ctx, "run-0")
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}
	if err := leftover.Advance(queue.StatusFetching); err != nil {
		t.Fatal(err)
	}
	leftover.SourceRef = "staging/source"
	if err := leftover.Advance(queue.StatusScripting); err != nil {
		t.Fatal(err)
	}
	if err := h.store.Update(ctx, leftover); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	ctl := newController(t, h, &fakeGate{limit: 1}, nil)
	summary, err := ctl.RunBatch(ctx)
	if err != nil {
		t.Fatalf("RunBatch returned error: %v", err)
	}
	if summary.Completed != 1 {
		t.Fatalf("completed = %d, want 1", summary.Completed)
	}
	if h.fetcher.callCount() != 0 {
		t.Fatal("resumed job must not refetch")
	}

	stored, err := h.store.GetByID(ctx, leftover.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if stored.Status != queue.StatusCompleted {
		t.Fatalf("leftover status = %s, want completed", stored.Status)
	}
}

func TestRunBatchParksPendingJobWhenGateClosed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pending, err := h.store.NewJob(ctx, "run-0")
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}

	gate := &fakeGate{limit: 1, count: 1}
	ctl := newController(t, h, gate, nil)
	summary, err := ctl.RunBatch(ctx)
	if err != nil {
		t.Fatalf("RunBatch returned error: %v", err)
	}
	if summary.Reason != workflow.StopQuota {
		t.Fatalf("reason = %s, want quota", summary.Reason)
	}
	if summary.Completed != 0 {
		t.Fatalf("completed = %d, want 0", summary.Completed)
	}

	stored, err := h.store.GetByID(ctx, pending.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if stored.Status != queue.StatusQuotaReached {
		t.Fatalf("pending job status = %s, want quota_reached", stored.Status)
	}
}
