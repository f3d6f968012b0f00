package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"reeler/internal/api"
	"reeler/internal/config"
	"reeler/internal/logging"
	"reeler/internal/queue"
)

// apiServer exposes the worker callback protocol plus read-only status and
// queue views over HTTP.
type apiServer struct {
	bind     string
	logger   *slog.Logger
	daemon   *Daemon
	queueSvc *api.QueueService

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, errors.New("api bind address required for worker callbacks")
	}

	srv := &apiServer{
		bind:     bind,
		logger:   logger,
		daemon:   d,
		queueSvc: api.NewQueueService(d.store),
	}

	token := strings.TrimSpace(cfg.Paths.APIToken)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/worker/acquire", authMiddleware(token, srv.handleWorkerAcquire))
	mux.HandleFunc("/api/worker/heartbeat", authMiddleware(token, srv.handleWorkerHeartbeat))
	mux.HandleFunc("/api/worker/complete", authMiddleware(token, srv.handleWorkerComplete))
	mux.HandleFunc("/api/worker/fail", authMiddleware(token, srv.handleWorkerFail))
	mux.HandleFunc("/api/status", authMiddleware(token, srv.handleStatus))
	mux.HandleFunc("/api/queue", authMiddleware(token, srv.handleQueue))
	mux.HandleFunc("/api/queue/", authMiddleware(token, srv.handleQueueJob))

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// addr reports the bound address, useful when the config asked for port 0.
func (s *apiServer) addr() string {
	if s.listener == nil {
		return s.bind
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleWorkerAcquire(w http.ResponseWriter, r *http.Request) {
	var req api.WorkerAcquireRequest
	if !s.decodePost(w, r, &req) {
		return
	}
	stageStatus, ok := queue.ParseStatus(req.Stage)
	if !ok || !stageStatus.IsWorkerStage() {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid worker stage %q", req.Stage))
		return
	}
	token, err := s.daemon.broker.Acquire(r.Context(), stageStatus)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if token == nil {
		s.writeJSON(w, http.StatusOK, api.WorkerAcquireResponse{})
		return
	}
	s.writeJSON(w, http.StatusOK, api.WorkerAcquireResponse{
		Token: token.Token,
		JobID: token.JobID,
		Stage: string(token.Stage),
		Input: token.Input,
	})
}

func (s *apiServer) handleWorkerHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req api.WorkerHeartbeatRequest
	if !s.decodePost(w, r, &req) {
		return
	}
	if err := s.daemon.broker.Heartbeat(r.Context(), req.Token); err != nil {
		s.writeTokenError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct{}{})
}

func (s *apiServer) handleWorkerComplete(w http.ResponseWriter, r *http.Request) {
	var req api.WorkerCompleteRequest
	if !s.decodePost(w, r, &req) {
		return
	}
	if err := s.daemon.broker.Complete(r.Context(), req.Token, req.ResultRef); err != nil {
		s.writeTokenError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct{}{})
}

func (s *apiServer) handleWorkerFail(w http.ResponseWriter, r *http.Request) {
	var req api.WorkerFailRequest
	if !s.decodePost(w, r, &req) {
		return
	}
	if err := s.daemon.broker.Fail(r.Context(), req.Token, req.ErrorKind, req.ErrorMessage); err != nil {
		s.writeTokenError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct{}{})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var statuses []queue.Status
	for _, value := range r.URL.Query()["status"] {
		if parsed, ok := queue.ParseStatus(strings.TrimSpace(value)); ok {
			statuses = append(statuses, parsed)
		}
	}
	jobs, err := s.queueSvc.List(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.QueueListResponse{Jobs: jobs})
}

func (s *apiServer) handleQueueJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/queue/")
	if id == "" || strings.Contains(id, "/") {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	view, err := s.queueSvc.Describe(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if view == nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, api.QueueJobResponse{Job: *view})
}

// decodePost enforces the worker callback method and payload shape. A stale
// token is a conflict, not a server error, so workers can tell the
// difference between "retry later" and "stop, you were superseded".
func (s *apiServer) decodePost(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *apiServer) writeTokenError(w http.ResponseWriter, err error) {
	if errors.Is(err, queue.ErrTokenStale) {
		s.writeError(w, http.StatusConflict, "task token superseded or settled")
		return
	}
	s.writeError(w, http.StatusInternalServerError, err.Error())
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("encode api response failed", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}
