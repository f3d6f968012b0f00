// Package workers provisions the ephemeral compute that runs the render and
// publish stages, and supervises each attempt through the task token broker.
package workers

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"reeler/internal/queue"
	"reeler/internal/services"
	"reeler/internal/staging"
)

// Environment variable names handed to a provisioned worker. The worker uses
// them to call back into the orchestrator API.
const (
	EnvJobID   = "REELER_JOB_ID"
	EnvStage   = "REELER_STAGE"
	EnvToken   = "REELER_TOKEN"
	EnvAPI     = "REELER_API"
	EnvInput   = "REELER_INPUT"
	EnvWorkDir = "REELER_WORKDIR"
)

// LaunchSpec describes one worker provisioning request.
type LaunchSpec struct {
	JobID string
	Stage queue.Status
	Token string
	Input string
}

// Launcher provisions a worker for a launch spec. Implementations return once
// provisioning has been requested; the worker reports progress through the
// callback API, not through the launcher.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) error
}

// CommandLauncher provisions workers by running a configured command, e.g. a
// cloud CLI that boots a GPU instance with a startup script. The spec travels
// in the environment.
type CommandLauncher struct {
	command     []string
	callbackURL string
	stagingDir  string
}

// NewCommandLauncher builds a launcher from an argv vector. callbackURL is
// the orchestrator API base the worker reports back to; stagingDir, when set,
// is where per-job work directories are created.
func NewCommandLauncher(command []string, callbackURL, stagingDir string) (*CommandLauncher, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, fmt.Errorf("worker launch command required")
	}
	return &CommandLauncher{
		command:     command,
		callbackURL: strings.TrimRight(strings.TrimSpace(callbackURL), "/"),
		stagingDir:  strings.TrimSpace(stagingDir),
	}, nil
}

// Launch runs the provisioning command to completion. A non-zero exit is a
// transient failure; provisioning is retried by the lifecycle manager.
func (l *CommandLauncher) Launch(ctx context.Context, spec LaunchSpec) error {
	cmd := exec.CommandContext(ctx, l.command[0], l.command[1:]...) //nolint:gosec
	cmd.Env = append(os.Environ(),
		EnvJobID+"="+spec.JobID,
		EnvStage+"="+string(spec.Stage),
		EnvToken+"="+spec.Token,
		EnvAPI+"="+l.callbackURL,
		EnvInput+"="+spec.Input,
	)
	if l.stagingDir != "" {
		workDir := staging.JobDir(l.stagingDir, spec.JobID)
		if err := os.MkdirAll(workDir, 0o755); err != nil {
			return services.Wrap(services.ErrTransient, string(spec.Stage), "launch",
				"create work directory: "+err.Error(), err)
		}
		cmd.Env = append(cmd.Env, EnvWorkDir+"="+workDir)
	}
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(output.String())
		if len(detail) > 300 {
			detail = detail[:300]
		}
		if detail == "" {
			detail = err.Error()
		}
		return services.Wrap(services.ErrTransient, string(spec.Stage), "launch", detail, err)
	}
	return nil
}
