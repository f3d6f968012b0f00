package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"reeler/internal/api"
	"reeler/internal/broker"
	"reeler/internal/config"
	"reeler/internal/queue"
	"reeler/internal/quota"
	"reeler/internal/services"
	"reeler/internal/stage"
	"reeler/internal/testsupport"
	"reeler/internal/workflow"
)

// stubFetcher reports an exhausted source so every batch run ends
// immediately with a no-content job.
type stubFetcher struct{}

func (stubFetcher) Name() string { return "fetch" }

func (stubFetcher) Invoke(context.Context, stage.Request) (stage.Result, error) {
	return stage.Result{}, services.Wrap(services.ErrNoContent, "fetch", "invoke", "source exhausted", nil)
}

func (stubFetcher) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("fetch")
}

func (stubFetcher) Cleanup(context.Context, string) error { return nil }

type stubInvoker struct{ name string }

func (s stubInvoker) Name() string { return s.name }

func (s stubInvoker) Invoke(context.Context, stage.Request) (stage.Result, error) {
	return stage.Result{Status: stage.ResultSuccess, ArtifactRef: "staging/" + s.name}, nil
}

func (s stubInvoker) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(s.name)
}

type stubWorkers struct{}

func (stubWorkers) Run(_ context.Context, _ string, stageStatus queue.Status, _ string) (broker.Outcome, error) {
	return broker.Outcome{ResultRef: "worker/" + string(stageStatus)}, nil
}

func newTestDaemon(t *testing.T, opts ...testsupport.ConfigOption) (*Daemon, *queue.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	return newDaemonWithConfig(t, cfg)
}

func newDaemonWithConfig(t *testing.T, cfg *config.Config) (*Daemon, *queue.Store) {
	t.Helper()

	store := testsupport.MustOpenStore(t, cfg)
	brk := broker.New(store, broker.Timing{
		HeartbeatTimeout: time.Second,
		HardTimeout:      5 * time.Second,
		PollInterval:     10 * time.Millisecond,
	}, nil)
	gate := quota.New(store, cfg.Quota.DailyLimit, cfg.QuotaLocation(), nil)
	orch := workflow.NewOrchestrator(store,
		stubFetcher{}, stubInvoker{"script"}, stubInvoker{"voice"}, stubWorkers{},
		workflow.Timing{StageTimeout: time.Second, RetryLimit: 1, RetryBackoff: time.Millisecond},
		nil, nil)
	controller := workflow.NewLoopController(store, orch, gate, nil, nil)

	d, err := New(Deps{
		Config:     cfg,
		Store:      store,
		Controller: controller,
		Broker:     brk,
		Gate:       gate,
		Invokers:   []stage.Invoker{stubFetcher{}},
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	return d, store
}

func startDaemon(t *testing.T, d *Daemon) string {
	t.Helper()
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(d.Stop)
	return "http://" + d.api.addr()
}

func postJSON(t *testing.T, url, token string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func getJSON(t *testing.T, url, token string, dst any) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if dst != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func TestDaemonStartStop(t *testing.T) {
	d, _ := newTestDaemon(t)
	startDaemon(t, d)

	status := d.Status(context.Background())
	if !status.Running {
		t.Fatal("expected running daemon")
	}
	if status.DBPath == "" || status.LockPath == "" {
		t.Fatalf("expected populated paths, got %+v", status)
	}
	if len(status.StageHealth) != 1 || !status.StageHealth[0].Ready {
		t.Fatalf("unexpected stage health: %+v", status.StageHealth)
	}

	d.Stop()
	if d.Status(context.Background()).Running {
		t.Fatal("daemon still reports running after stop")
	}
}

func TestDaemonSingleInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first, _ := newDaemonWithConfig(t, cfg)
	startDaemon(t, first)

	// Bind elsewhere so only the lock collides.
	cfg2 := *cfg
	cfg2.Paths.APIBind = "127.0.0.1:0"
	second, _ := newDaemonWithConfig(t, &cfg2)
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("expected second instance to fail on the daemon lock")
	}
}

func TestRunNowCoalescesTriggers(t *testing.T) {
	d, _ := newTestDaemon(t)
	if !d.RunNow() {
		t.Fatal("first trigger should be accepted")
	}
	if d.RunNow() {
		t.Fatal("second trigger should be dropped while one is pending")
	}
}

func TestSchedulerRunsBatchAtStartup(t *testing.T) {
	d, store := newTestDaemon(t)
	startDaemon(t, d)

	deadline := time.Now().Add(2 * time.Second)
	for {
		jobs, err := store.List(context.Background(), queue.StatusNoContent)
		if err != nil {
			t.Fatalf("list jobs: %v", err)
		}
		if len(jobs) >= 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("startup batch run never produced a no-content job")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWorkerCallbackEndpoints(t *testing.T) {
	d, store := newTestDaemon(t)
	base := startDaemon(t, d)
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "run-worker-api")
	issued, err := d.broker.Issue(ctx, job.ID, queue.StatusRendering, "staging/audio.m4a")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	var acquired api.WorkerAcquireResponse
	resp := postJSON(t, base+"/api/worker/acquire", "", api.WorkerAcquireRequest{Stage: "rendering"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("acquire status = %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&acquired); err != nil {
		t.Fatalf("decode acquire: %v", err)
	}
	resp.Body.Close()
	if acquired.Token != issued.Token || acquired.JobID != job.ID {
		t.Fatalf("acquired %+v, want token %s for job %s", acquired, issued.Token, job.ID)
	}
	if acquired.Input != "staging/audio.m4a" {
		t.Fatalf("acquired input = %q", acquired.Input)
	}

	// The token is claimed; a second worker gets an empty response.
	var empty api.WorkerAcquireResponse
	resp = postJSON(t, base+"/api/worker/acquire", "", api.WorkerAcquireRequest{Stage: "rendering"})
	if err := json.NewDecoder(resp.Body).Decode(&empty); err != nil {
		t.Fatalf("decode second acquire: %v", err)
	}
	resp.Body.Close()
	if empty.Token != "" {
		t.Fatalf("expected empty acquire, got token %q", empty.Token)
	}

	resp = postJSON(t, base+"/api/worker/heartbeat", "", api.WorkerHeartbeatRequest{Token: acquired.Token})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("heartbeat status = %d", resp.StatusCode)
	}

	resp = postJSON(t, base+"/api/worker/complete", "", api.WorkerCompleteRequest{Token: acquired.Token, ResultRef: "published/video-42"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("complete status = %d", resp.StatusCode)
	}

	// A settled token cannot be completed twice.
	resp = postJSON(t, base+"/api/worker/complete", "", api.WorkerCompleteRequest{Token: acquired.Token, ResultRef: "published/video-42"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate complete status = %d, want 409", resp.StatusCode)
	}
}

func TestWorkerAcquireRejectsNonWorkerStage(t *testing.T) {
	d, _ := newTestDaemon(t)
	base := startDaemon(t, d)

	resp := postJSON(t, base+"/api/worker/acquire", "", api.WorkerAcquireRequest{Stage: "scripting"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAPIBearerAuth(t *testing.T) {
	d, _ := newTestDaemon(t, testsupport.WithAPIToken("hunter2"))
	base := startDaemon(t, d)

	if code := getJSON(t, base+"/api/status", "", nil); code != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d, want 401", code)
	}
	if code := getJSON(t, base+"/api/status", "wrong", nil); code != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d, want 401", code)
	}
	var status api.DaemonStatus
	if code := getJSON(t, base+"/api/status", "hunter2", &status); code != http.StatusOK {
		t.Fatalf("valid token status = %d, want 200", code)
	}
	if !status.Running {
		t.Fatal("status should report running")
	}
}

func TestStatusReportsQuota(t *testing.T) {
	d, _ := newTestDaemon(t, testsupport.WithDailyLimit(3))
	base := startDaemon(t, d)

	var status api.DaemonStatus
	if code := getJSON(t, base+"/api/status", "", &status); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if status.Quota.Limit != 3 {
		t.Fatalf("quota limit = %d, want 3", status.Quota.Limit)
	}
	if status.Quota.Date == "" {
		t.Fatal("quota date missing")
	}
}

func TestQueueEndpoints(t *testing.T) {
	d, store := newTestDaemon(t)
	base := startDaemon(t, d)

	job := testsupport.NewJob(t, store, "run-queue-api")

	var list api.QueueListResponse
	if code := getJSON(t, base+"/api/queue", "", &list); code != http.StatusOK {
		t.Fatalf("queue list status = %d", code)
	}
	found := false
	for _, item := range list.Jobs {
		if item.ID == job.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("job %s missing from queue list", job.ID)
	}

	var described api.QueueJobResponse
	if code := getJSON(t, fmt.Sprintf("%s/api/queue/%s", base, job.ID), "", &described); code != http.StatusOK {
		t.Fatalf("describe status = %d", code)
	}
	if described.Job.ID != job.ID || described.Job.Status != string(queue.StatusPending) {
		t.Fatalf("described job = %+v", described.Job)
	}

	if code := getJSON(t, base+"/api/queue/not-a-job", "", nil); code != http.StatusNotFound {
		t.Fatalf("missing job status = %d, want 404", code)
	}
}
