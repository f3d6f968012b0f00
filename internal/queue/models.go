package queue

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Status represents the lifecycle of a pipeline job.
type Status string

const (
	StatusPending      Status = "pending"
	StatusFetching     Status = "fetching"
	StatusScripting    Status = "scripting"
	StatusAudio        Status = "audio"
	StatusRendering    Status = "rendering"
	StatusUploading    Status = "uploading"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusNoContent    Status = "no_content"
	StatusQuotaReached Status = "quota_reached"
)

var allStatuses = []Status{
	StatusPending,
	StatusFetching,
	StatusScripting,
	StatusAudio,
	StatusRendering,
	StatusUploading,
	StatusCompleted,
	StatusFailed,
	StatusNoContent,
	StatusQuotaReached,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// transitions is the closed directed edge set of the job state machine.
// failed is additionally reachable from every non-terminal state.
var transitions = map[Status][]Status{
	StatusPending:   {StatusFetching, StatusNoContent, StatusQuotaReached},
	StatusFetching:  {StatusScripting, StatusNoContent},
	StatusScripting: {StatusAudio},
	StatusAudio:     {StatusRendering},
	StatusRendering: {StatusUploading, StatusQuotaReached},
	StatusUploading: {StatusCompleted, StatusQuotaReached},
}

var terminalStatuses = map[Status]struct{}{
	StatusCompleted:    {},
	StatusFailed:       {},
	StatusNoContent:    {},
	StatusQuotaReached: {},
}

// workerStatuses are the states whose work is delegated to an ephemeral
// worker awaited through a task token.
var workerStatuses = map[Status]struct{}{
	StatusRendering: {},
	StatusUploading: {},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status ends the job's lifecycle.
func (s Status) IsTerminal() bool {
	_, ok := terminalStatuses[s]
	return ok
}

// IsWorkerStage reports whether the status delegates to an ephemeral worker.
func (s Status) IsWorkerStage() bool {
	_, ok := workerStatuses[s]
	return ok
}

// CanTransition reports whether from → to is a valid state machine edge.
// failed is a valid target from every non-terminal state; no other edge may
// be skipped or reversed.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

var labelCaser = cases.Title(language.English)

// Label renders a status for human-facing output ("No Content", "Rendering").
func (s Status) Label() string {
	if s == "" {
		return ""
	}
	return labelCaser.String(strings.ReplaceAll(string(s), "_", " "))
}

// Job represents one unit of pipeline work persisted in SQLite.
//
// Artifact references are opaque storage keys produced by each stage and
// consumed by the next; the orchestrator writes each exactly once.
type Job struct {
	ID           string
	RunID        string
	Title        string
	Status       Status
	SourceRef    string
	ScriptRef    string
	AudioRef     string
	VideoRef     string
	PublishRef   string
	Cursor       string
	ErrorMessage string
	FailedState  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
	FailedAt     *time.Time
}

// Advance moves the job along a valid state machine edge, stamping terminal
// timestamps. It rejects invalid edges so a store update can never persist a
// skipped or reversed transition.
func (j *Job) Advance(to Status) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("invalid status transition %s → %s", j.Status, to)
	}
	j.Status = to
	now := time.Now().UTC()
	switch to {
	case StatusCompleted:
		j.CompletedAt = &now
	case StatusFailed:
		j.FailedAt = &now
	}
	return nil
}

// SetFailed marks the job failed, recording the state it failed in and the
// classified error message.
func (j *Job) SetFailed(failedState Status, message string) {
	now := time.Now().UTC()
	j.Status = StatusFailed
	j.FailedState = string(failedState)
	j.ErrorMessage = message
	j.FailedAt = &now
}

// ArtifactFor returns the artifact reference produced by the stage that runs
// in the given status, if any.
func (j *Job) ArtifactFor(status Status) string {
	switch status {
	case StatusFetching:
		return j.SourceRef
	case StatusScripting:
		return j.ScriptRef
	case StatusAudio:
		return j.AudioRef
	case StatusRendering:
		return j.VideoRef
	case StatusUploading:
		return j.PublishRef
	}
	return ""
}

// SetArtifactFor records the artifact produced by the stage running in the
// given status. Each reference is written once and never mutated afterward.
func (j *Job) SetArtifactFor(status Status, ref string) {
	switch status {
	case StatusFetching:
		j.SourceRef = ref
	case StatusScripting:
		j.ScriptRef = ref
	case StatusAudio:
		j.AudioRef = ref
	case StatusRendering:
		j.VideoRef = ref
	case StatusUploading:
		j.PublishRef = ref
	}
}

// HealthSummary describes aggregated queue counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Failed     int
	EarlyExit  int
}

// DailyCounter is one quota accounting record per calendar day in the
// pipeline's configured timezone. Rows are created lazily and never deleted.
type DailyCounter struct {
	Date      string
	Count     int
	UpdatedAt time.Time
}
