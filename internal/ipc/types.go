package ipc

import "reeler/internal/api"

// StartRequest triggers daemon startup.
type StartRequest struct{}

// StartResponse indicates whether the daemon was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest stops the daemon.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// QueueJob mirrors the HTTP API queue DTO for IPC callers.
type QueueJob = api.QueueJob

// StageHealth describes readiness of a pipeline stage.
type StageHealth = api.StageHealth

// QuotaStatus reports the daily gate position.
type QuotaStatus = api.QuotaStatus

// StatusResponse represents combined daemon and pipeline status.
type StatusResponse struct {
	Running     bool           `json:"running"`
	PID         int            `json:"pid"`
	RunActive   bool           `json:"run_active"`
	QueueStats  map[string]int `json:"queue_stats"`
	Quota       QuotaStatus    `json:"quota"`
	StageHealth []StageHealth  `json:"stage_health"`
	DBPath      string         `json:"db_path"`
	LockPath    string         `json:"lock_path"`
	LastError   string         `json:"last_error"`
}

// RunNowRequest asks the scheduler for an immediate batch run.
type RunNowRequest struct{}

// RunNowResponse reports whether the trigger was accepted.
type RunNowResponse struct {
	Triggered bool   `json:"triggered"`
	Message   string `json:"message"`
}

// QueueListRequest filters queue listing by status.
type QueueListRequest struct {
	Statuses []string `json:"statuses"`
}

// QueueListResponse contains queue entries.
type QueueListResponse struct {
	Jobs []QueueJob `json:"jobs"`
}

// QueueDescribeRequest fetches a single job by id.
type QueueDescribeRequest struct {
	ID string `json:"id"`
}

// QueueDescribeResponse contains a single queue entry.
type QueueDescribeResponse struct {
	Job QueueJob `json:"job"`
}

// QueueRetryRequest retries failed jobs. Empty list means all failed jobs.
type QueueRetryRequest struct {
	IDs []string `json:"ids"`
}

// QueueRetryResponse reports number of retried jobs.
type QueueRetryResponse struct {
	Updated int64 `json:"updated"`
}

// QueueClearRequest removes jobs. TerminalOnly keeps unfinished work.
type QueueClearRequest struct {
	TerminalOnly bool `json:"terminal_only"`
}

// QueueClearResponse reports number of removed entries.
type QueueClearResponse struct {
	Removed int64 `json:"removed"`
}

// LogTailRequest reads daemon log lines. A negative Offset means the last
// Limit lines; WaitMillis lets follow mode block until new lines arrive.
type LogTailRequest struct {
	Offset     int64 `json:"offset"`
	Limit      int   `json:"limit"`
	Follow     bool  `json:"follow"`
	WaitMillis int64 `json:"wait_millis"`
}

// LogTailResponse carries log lines and the offset to resume from.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
