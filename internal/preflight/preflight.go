// Package preflight validates the environment before the daemon starts
// processing: directory access, free staging space, worker launch commands,
// and reachability of the external stage services.
package preflight

import (
	"context"

	"reeler/internal/config"
	"reeler/internal/deps"
	"reeler/internal/stage"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// minStagingBytes is the free space floor for the staging directory. Renders
// routinely produce multi-gigabyte intermediates.
const minStagingBytes = 5 << 30

// RunAll executes every applicable check for the given config. Stage service
// checks run only for invokers the caller passes in, so the CLI can check
// config-only concerns without wiring clients.
func RunAll(ctx context.Context, cfg *config.Config, invokers ...stage.Invoker) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Staging directory", cfg.Paths.StagingDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckFreeSpace("Staging space", cfg.Paths.StagingDir, minStagingBytes),
	}
	results = append(results, CheckWorkerCommands(cfg)...)
	for _, invoker := range invokers {
		if invoker == nil {
			continue
		}
		results = append(results, CheckStageService(ctx, invoker))
	}
	return results
}

// CheckWorkerCommands verifies that configured worker launch commands resolve
// to executables on this host.
func CheckWorkerCommands(cfg *config.Config) []Result {
	statuses := deps.CheckBinaries(deps.WorkerRequirements(cfg))
	results := make([]Result, 0, len(statuses))
	for _, status := range statuses {
		detail := status.Detail
		if status.Available {
			detail = "command " + status.Command
		}
		results = append(results, Result{
			Name:   status.Name,
			Passed: status.Available,
			Detail: detail,
		})
	}
	return results
}

// AllPassed reports whether every check passed.
func AllPassed(results []Result) bool {
	for _, result := range results {
		if !result.Passed {
			return false
		}
	}
	return true
}

// CheckStageService probes one stage service health endpoint.
func CheckStageService(ctx context.Context, invoker stage.Invoker) Result {
	health := invoker.HealthCheck(ctx)
	name := health.Name + " service"
	if !health.Ready {
		detail := health.Detail
		if detail == "" {
			detail = "unreachable"
		}
		return Result{Name: name, Detail: detail}
	}
	return Result{Name: name, Passed: true, Detail: "reachable"}
}
