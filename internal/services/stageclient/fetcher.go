package stageclient

import (
	"context"
	"fmt"
	"net/http"

	"reeler/internal/services"
)

// Fetcher is the content acquisition client. On top of the shared invoke
// protocol it can ask the service to release staged source material once a
// job reaches a terminal state.
type Fetcher struct {
	*Client
}

type cleanupRequest struct {
	JobID string `json:"job_id"`
}

// Cleanup releases staged artifacts held for the job. It is best effort;
// callers log the returned error and move on.
func (f *Fetcher) Cleanup(ctx context.Context, jobID string) error {
	if f.baseURL == "" {
		return services.Wrap(services.ErrPermanent, f.name, "cleanup", "service url not configured", nil)
	}
	body, status, err := f.post(ctx, cleanupPath, cleanupRequest{JobID: jobID})
	if err != nil {
		return f.classifyTransport("cleanup", err)
	}
	// A 404 means the service holds nothing for this job, which is the
	// desired end state.
	if status == http.StatusNotFound || (status >= http.StatusOK && status < http.StatusMultipleChoices) {
		return nil
	}
	marker := services.ErrTransient
	if status >= http.StatusBadRequest && status < http.StatusInternalServerError {
		marker = services.ErrPermanent
	}
	return services.Wrap(marker, f.name, "cleanup",
		fmt.Sprintf("http %d: %s", status, summarize(body)), nil)
}
