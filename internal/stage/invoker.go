package stage

import "context"

// ResultStatus is the outcome a stage service reports for one invocation.
type ResultStatus string

const (
	// ResultSuccess means the stage produced its artifact and the job may advance.
	ResultSuccess ResultStatus = "success"
	// ResultNoContent means the source has nothing to process; the whole run stops.
	ResultNoContent ResultStatus = "no_content"
	// ResultNeedsContinuation means the stage has sub-units remaining and must be
	// re-invoked with the returned cursor. A self-loop, not a retry.
	ResultNeedsContinuation ResultStatus = "needs_continuation"
)

// Request is the uniform input for a bounded stage invocation.
type Request struct {
	JobID string
	// Cursor resumes a multi-part stage mid-way instead of restarting it.
	Cursor string
	// Input is the artifact reference produced by the preceding stage.
	Input string
}

// Result is the uniform output of a bounded stage invocation.
type Result struct {
	Status      ResultStatus
	ArtifactRef string
	NextCursor  string
	// Title optionally carries a human-readable description of the content
	// the stage worked on (set by the fetch stage).
	Title string
}

// Invoker is the contract the orchestrator needs from each bounded,
// synchronously-awaitable stage (fetch, script, audio). Stages delegating to
// ephemeral workers do not implement this; they go through the token broker.
type Invoker interface {
	Name() string
	Invoke(context.Context, Request) (Result, error)
	HealthCheck(context.Context) Health
}
