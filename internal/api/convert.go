package api

import (
	"time"

	"reeler/internal/queue"
)

const dateTimeFormat = time.RFC3339

// FromJob converts a stored job into its transport view.
func FromJob(job *queue.Job) QueueJob {
	if job == nil {
		return QueueJob{}
	}
	view := QueueJob{
		ID:           job.ID,
		RunID:        job.RunID,
		Title:        job.Title,
		Status:       string(job.Status),
		StatusLabel:  job.Status.Label(),
		SourceRef:    job.SourceRef,
		ScriptRef:    job.ScriptRef,
		AudioRef:     job.AudioRef,
		VideoRef:     job.VideoRef,
		PublishRef:   job.PublishRef,
		Cursor:       job.Cursor,
		ErrorMessage: job.ErrorMessage,
		FailedState:  job.FailedState,
	}
	if !job.CreatedAt.IsZero() {
		view.CreatedAt = job.CreatedAt.UTC().Format(dateTimeFormat)
	}
	if !job.UpdatedAt.IsZero() {
		view.UpdatedAt = job.UpdatedAt.UTC().Format(dateTimeFormat)
	}
	if job.CompletedAt != nil {
		view.CompletedAt = job.CompletedAt.UTC().Format(dateTimeFormat)
	}
	if job.FailedAt != nil {
		view.FailedAt = job.FailedAt.UTC().Format(dateTimeFormat)
	}
	return view
}

// FromJobs converts a job slice, preserving order.
func FromJobs(jobs []*queue.Job) []QueueJob {
	views := make([]QueueJob, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, FromJob(job))
	}
	return views
}
