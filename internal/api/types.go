package api

// QueueJob describes a pipeline job in a transport-friendly format.
type QueueJob struct {
	ID           string `json:"id"`
	RunID        string `json:"runId,omitempty"`
	Title        string `json:"title,omitempty"`
	Status       string `json:"status"`
	StatusLabel  string `json:"statusLabel"`
	SourceRef    string `json:"sourceRef,omitempty"`
	ScriptRef    string `json:"scriptRef,omitempty"`
	AudioRef     string `json:"audioRef,omitempty"`
	VideoRef     string `json:"videoRef,omitempty"`
	PublishRef   string `json:"publishRef,omitempty"`
	Cursor       string `json:"cursor,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	FailedState  string `json:"failedState,omitempty"`
	CreatedAt    string `json:"createdAt,omitempty"`
	UpdatedAt    string `json:"updatedAt,omitempty"`
	CompletedAt  string `json:"completedAt,omitempty"`
	FailedAt     string `json:"failedAt,omitempty"`
}

// QueueListResponse wraps a queue listing.
type QueueListResponse struct {
	Jobs []QueueJob `json:"jobs"`
}

// QueueJobResponse wraps a single job lookup.
type QueueJobResponse struct {
	Job QueueJob `json:"job"`
}

// StageHealth mirrors readiness reporting for pipeline stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// QuotaStatus reports the daily gate position.
type QuotaStatus struct {
	Date      string `json:"date"`
	Count     int    `json:"count"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	Reached   bool   `json:"reached"`
}

// DaemonStatus summarizes daemon runtime state for the status surfaces.
type DaemonStatus struct {
	Running     bool           `json:"running"`
	PID         int            `json:"pid"`
	RunActive   bool           `json:"runActive"`
	QueueStats  map[string]int `json:"queueStats"`
	Quota       QuotaStatus    `json:"quota"`
	StageHealth []StageHealth  `json:"stageHealth"`
	DBPath      string         `json:"dbPath,omitempty"`
	LockPath    string         `json:"lockPath,omitempty"`
	LastError   string         `json:"lastError,omitempty"`
}

// WorkerAcquireRequest is posted by a polling worker looking for work on its
// stage channel.
type WorkerAcquireRequest struct {
	Stage string `json:"stage"`
}

// WorkerAcquireResponse hands a task token to a worker. Token is empty when
// no work is queued.
type WorkerAcquireResponse struct {
	Token string `json:"token,omitempty"`
	JobID string `json:"jobId,omitempty"`
	Stage string `json:"stage,omitempty"`
	Input string `json:"input,omitempty"`
}

// WorkerHeartbeatRequest reports worker liveness for a token.
type WorkerHeartbeatRequest struct {
	Token string `json:"token"`
}

// WorkerCompleteRequest settles a token with the worker's result.
type WorkerCompleteRequest struct {
	Token     string `json:"token"`
	ResultRef string `json:"resultRef"`
}

// WorkerFailRequest settles a token with a classified worker failure.
type WorkerFailRequest struct {
	Token        string `json:"token"`
	ErrorKind    string `json:"errorKind,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// ErrorResponse is the uniform error payload for all HTTP surfaces.
type ErrorResponse struct {
	Error string `json:"error"`
}
