package preflight

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"reeler/internal/config"
	"reeler/internal/stage"
)

func TestCheckDirectoryAccess(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("Staging directory", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got %+v", result)
	}

	result = CheckDirectoryAccess("Staging directory", filepath.Join(dir, "missing"))
	if result.Passed {
		t.Fatal("expected failure for missing directory")
	}

	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result = CheckDirectoryAccess("Staging directory", file)
	if result.Passed {
		t.Fatal("expected failure for non-directory")
	}
}

func TestCheckFreeSpace(t *testing.T) {
	dir := t.TempDir()
	if result := CheckFreeSpace("Staging space", dir, 1); !result.Passed {
		t.Fatalf("expected pass for 1 byte floor, got %+v", result)
	}
	if result := CheckFreeSpace("Staging space", dir, 1<<62); result.Passed {
		t.Fatal("expected failure for absurd floor")
	}
}

func TestCheckWorkerCommands(t *testing.T) {
	cfg := config.Default()
	cfg.Workers.RenderCommand = []string{"sh", "-c", "true"}
	cfg.Workers.UploadCommand = []string{"no-such-uploader-zzz"}

	results := CheckWorkerCommands(&cfg)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if !results[0].Passed {
		t.Fatalf("render worker check should pass: %+v", results[0])
	}
	if results[1].Passed {
		t.Fatalf("upload worker check should fail: %+v", results[1])
	}
}

type staticInvoker struct {
	health stage.Health
}

func (s staticInvoker) Name() string { return s.health.Name }

func (s staticInvoker) Invoke(context.Context, stage.Request) (stage.Result, error) {
	return stage.Result{}, nil
}

func (s staticInvoker) HealthCheck(context.Context) stage.Health { return s.health }

func TestRunAllIncludesStageServices(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.StagingDir = t.TempDir()
	cfg.Paths.LogDir = t.TempDir()

	results := RunAll(context.Background(), &cfg,
		staticInvoker{health: stage.Healthy("fetch")},
		staticInvoker{health: stage.Unhealthy("script", "connection refused")},
	)

	byName := map[string]Result{}
	for _, result := range results {
		byName[result.Name] = result
	}
	if !byName["fetch service"].Passed {
		t.Fatalf("fetch service should pass: %+v", byName["fetch service"])
	}
	if byName["script service"].Passed {
		t.Fatal("script service should fail")
	}
	if AllPassed(results) {
		t.Fatal("AllPassed must report the failing check")
	}
}
