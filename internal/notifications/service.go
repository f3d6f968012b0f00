package notifications

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"reeler/internal/config"
	"reeler/internal/logging"
	"reeler/internal/queue"
)

const userAgent = "reeler/1.0"

// Service publishes pipeline events to an ntfy topic. A Service with an
// empty endpoint discards everything, so an unconfigured daemon needs no
// special casing. It satisfies workflow.Notifier.
type Service struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger

	runs   bool
	jobs   bool
	quota  bool
	errors bool
}

// NewService builds the notification service from config. An empty ntfy
// topic yields a silent service.
func NewService(cfg *config.Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	svc := &Service{
		endpoint: strings.TrimSpace(cfg.Notifications.NtfyTopic),
		logger:   logger.With(logging.String(logging.FieldComponent, "notifications")),
		runs:     cfg.Notifications.Runs,
		jobs:     cfg.Notifications.Jobs,
		quota:    cfg.Notifications.Quota,
		errors:   cfg.Notifications.Errors,
	}
	if svc.endpoint == "" {
		return svc
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	svc.client = &http.Client{Timeout: timeout}
	return svc
}

// Enabled reports whether the service can deliver anything at all.
func (s *Service) Enabled() bool {
	return s != nil && s.client != nil
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

// RunStarted announces a new batch run.
func (s *Service) RunStarted(ctx context.Context, runID string) {
	if !s.runs {
		return
	}
	s.send(ctx, payload{
		title:   "Reeler - Run Started",
		message: fmt.Sprintf("Batch run %s started", shortID(runID)),
		tags:    []string{"reeler", "run", "started"},
	})
}

// RunFinished summarizes a finished batch run.
func (s *Service) RunFinished(ctx context.Context, runID string, completed int, reason string) {
	if !s.runs {
		return
	}
	s.send(ctx, payload{
		title:   "Reeler - Run Finished",
		message: fmt.Sprintf("Batch run %s finished: %d published (%s)", shortID(runID), completed, reason),
		tags:    []string{"reeler", "run", "finished"},
	})
}

// JobCompleted announces a published video.
func (s *Service) JobCompleted(ctx context.Context, job *queue.Job) {
	if !s.jobs || job == nil {
		return
	}
	title := strings.TrimSpace(job.Title)
	if title == "" {
		title = shortID(job.ID)
	}
	message := fmt.Sprintf("Published: %s", title)
	if ref := strings.TrimSpace(job.PublishRef); ref != "" {
		message = fmt.Sprintf("%s\n%s", message, ref)
	}
	s.send(ctx, payload{
		title:    "Reeler - Published",
		message:  message,
		tags:     []string{"reeler", "job", "completed"},
		priority: "high",
	})
}

// JobFailed announces a failed job with its classified error.
func (s *Service) JobFailed(ctx context.Context, job *queue.Job) {
	if !s.jobs || job == nil {
		return
	}
	title := strings.TrimSpace(job.Title)
	if title == "" {
		title = shortID(job.ID)
	}
	message := fmt.Sprintf("Job failed: %s", title)
	if state := strings.TrimSpace(job.FailedState); state != "" {
		message = fmt.Sprintf("%s\nStage: %s", message, state)
	}
	if detail := strings.TrimSpace(job.ErrorMessage); detail != "" {
		message = fmt.Sprintf("%s\n%s", message, detail)
	}
	s.send(ctx, payload{
		title:    "Reeler - Job Failed",
		message:  message,
		tags:     []string{"reeler", "job", "failed"},
		priority: "high",
	})
}

// QuotaReached announces that a job hit the daily or downstream quota.
func (s *Service) QuotaReached(ctx context.Context, job *queue.Job) {
	if !s.quota {
		return
	}
	message := "Daily publish quota reached; remaining work resumes tomorrow"
	if job != nil && strings.TrimSpace(job.Title) != "" {
		message = fmt.Sprintf("%s (paused: %s)", message, strings.TrimSpace(job.Title))
	}
	s.send(ctx, payload{
		title:   "Reeler - Quota Reached",
		message: message,
		tags:    []string{"reeler", "quota"},
	})
}

// NoContent announces that the source had nothing left for this run.
func (s *Service) NoContent(ctx context.Context, runID string) {
	if !s.runs {
		return
	}
	s.send(ctx, payload{
		title:   "Reeler - Nothing To Do",
		message: fmt.Sprintf("Batch run %s found no new content", shortID(runID)),
		tags:    []string{"reeler", "run", "empty"},
	})
}

// Error reports an infrastructure-level failure outside a single job.
func (s *Service) Error(ctx context.Context, err error, contextLabel string) {
	if !s.errors {
		return
	}
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" in ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}
	s.send(ctx, payload{
		title:    "Reeler - Error",
		message:  builder.String(),
		tags:     []string{"reeler", "error", "alert"},
		priority: "high",
	})
}

// Test sends a test notification and reports delivery errors to the caller,
// unlike the event methods. Used by the CLI to verify configuration.
func (s *Service) Test(ctx context.Context) error {
	if !s.Enabled() {
		return fmt.Errorf("no ntfy topic configured")
	}
	return s.deliver(ctx, payload{
		title:    "Reeler - Test",
		message:  "Notification system test",
		tags:     []string{"reeler", "test"},
		priority: "low",
	})
}

func (s *Service) send(ctx context.Context, data payload) {
	if !s.Enabled() {
		return
	}
	if err := s.deliver(ctx, data); err != nil {
		s.logger.WarnContext(ctx, "notification delivery failed", logging.Error(err))
	}
}

func (s *Service) deliver(ctx context.Context, data payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
