// Package deps verifies that externally configured commands, currently the
// worker provisioning commands, resolve to executable binaries.
package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"reeler/internal/config"
)

// Requirement defines an external command the pipeline relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a requirement.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// WorkerRequirements derives requirements from the configured worker launch
// commands. A missing command vector is reported as unconfigured rather than
// silently skipped; the daemon cannot run that stage without it.
func WorkerRequirements(cfg *config.Config) []Requirement {
	if cfg == nil {
		return nil
	}
	return []Requirement{
		{
			Name:        "render worker",
			Command:     firstArg(cfg.Workers.RenderCommand),
			Description: "provisions the video render worker",
		},
		{
			Name:        "upload worker",
			Command:     firstArg(cfg.Workers.UploadCommand),
			Description: "provisions the publish worker",
		},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}

func firstArg(command []string) string {
	if len(command) == 0 {
		return ""
	}
	return command[0]
}
