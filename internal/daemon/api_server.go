package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"conveyor/internal/config"
	"conveyor/internal/health"
	"conveyor/internal/intake"
	"conveyor/internal/logging"
	"conveyor/internal/orchestrator"
	"conveyor/internal/pipeline"
	"conveyor/internal/rescue"
	"conveyor/internal/services"
	"conveyor/internal/store"
)

type apiServer struct {
	bind   string
	token  string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		token:  cfg.Paths.APIToken,
		logger: logger,
		daemon: d,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/intake", srv.protect(srv.handleIntake))
	mux.HandleFunc("/workers/", srv.protect(srv.handleWorkers))
	mux.HandleFunc("/bulk-rescue", srv.protect(srv.handleBulkRescue))
	mux.HandleFunc("/healthcheck", srv.handleHealthcheck)
	mux.HandleFunc("/orchestrator", srv.protect(srv.handleOrchestrator))
	mux.HandleFunc("/api/jobs/", srv.protect(srv.handleJob))
	mux.HandleFunc("/api/jobs", srv.protect(srv.handleJobs))
	mux.HandleFunc("/api/status", srv.protect(srv.handleStatus))

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
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", slog.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
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

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleIntake(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req intake.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := s.daemon.intakeSvc.Submit(r.Context(), req)
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			s.writeError(w, http.StatusBadRequest, services.Message(err))
			return
		}
		s.writeError(w, http.StatusInternalServerError, services.Message(err))
		return
	}
	// Acceptance is asynchronous: the job is queued, not done.
	status := http.StatusAccepted
	if result.Reused {
		status = http.StatusOK
	}
	s.writeJSON(w, status, result)
}

type workersRequest struct {
	BatchSize int `json:"batchSize"`
}

type workersResponse struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

func (s *apiServer) handleWorkers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/workers/")
	if name == "" || strings.Contains(name, "/") {
		s.writeError(w, http.StatusNotFound, "unknown stage")
		return
	}
	stageName, ok := pipeline.ParseStage(name)
	if !ok {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown stage %q", name))
		return
	}

	var req workersRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	messages, err := s.daemon.runner.ClaimUpTo(r.Context(), stageName, req.BatchSize)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, services.Message(err))
		return
	}
	if len(messages) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	// Claimed messages process on the daemon context so shutdown waits
	// for them instead of the request context killing them mid-stage.
	s.daemon.spawn(func(ctx context.Context) {
		if err := s.daemon.runner.ProcessMessages(ctx, messages); err != nil && ctx.Err() == nil {
			s.log().Error("worker batch failed", logging.Error(err))
		}
	})
	s.writeJSON(w, http.StatusAccepted, workersResponse{
		Message: fmt.Sprintf("processing %s batch", stageName),
		Count:   len(messages),
	})
}

type bulkRescueRequest struct {
	JobType       string `json:"job_type"`
	MinAgeMinutes int    `json:"min_age_minutes"`
	MaxJobs       int    `json:"max_jobs"`
}

func (s *apiServer) handleBulkRescue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req bulkRescueRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	summary, err := s.daemon.rescueSvc.Rescue(r.Context(), rescue.Options{
		JobType: req.JobType,
		MinAge:  time.Duration(req.MinAgeMinutes) * time.Minute,
		MaxJobs: req.MaxJobs,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, services.Message(err))
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *apiServer) handleHealthcheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	query := r.URL.Query()
	var overrides health.Thresholds
	if value, err := strconv.ParseFloat(query.Get("duration_threshold_ms"), 64); err == nil {
		overrides.DurationMS = value
	}
	if value, err := strconv.ParseFloat(query.Get("error_rate_threshold"), 64); err == nil {
		overrides.ErrorRate = value
	}
	if value, err := strconv.Atoi(query.Get("queue_depth_threshold")); err == nil {
		overrides.QueueDepth = value
	}
	if value, err := strconv.Atoi(query.Get("window_minutes")); err == nil {
		overrides.Window = time.Duration(value) * time.Minute
	}
	if value := query.Get("send_alert"); value == "false" || value == "0" {
		overrides.SkipAlert = true
	}

	report, err := s.daemon.monitor.Check(r.Context(), overrides)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, services.Message(err))
		return
	}
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, healthDocument{
		Health:     report,
		Thresholds: report.Thresholds,
	})
}

// healthDocument is the healthcheck wire shape: the evaluated report
// alongside the thresholds it was judged against.
type healthDocument struct {
	Health     health.Report            `json:"health"`
	Thresholds health.AppliedThresholds `json:"thresholds"`
}

func (s *apiServer) handleOrchestrator(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var opts orchestrator.Options
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	summary, err := s.daemon.orch.Run(r.Context(), opts)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.writeError(w, http.StatusInternalServerError, services.Message(err))
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

type jobDocument struct {
	ID           string          `json:"id"`
	JobType      string          `json:"job_type"`
	Stage        pipeline.Stage  `json:"stage"`
	Status       pipeline.Status `json:"status"`
	AttemptCount int             `json:"attempt_count"`
	MaxAttempts  int             `json:"max_attempts"`
	Priority     int             `json:"priority"`
	NaturalKey   string          `json:"natural_key,omitempty"`
	Requester    string          `json:"requester,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Heartbeat    *time.Time      `json:"heartbeat,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type stageDocument struct {
	Stage       pipeline.Stage          `json:"stage"`
	Status      store.StageRecordStatus `json:"status"`
	StartedAt   *time.Time              `json:"started_at,omitempty"`
	CompletedAt *time.Time              `json:"completed_at,omitempty"`
	Output      json.RawMessage         `json:"output,omitempty"`
}

type eventDocument struct {
	At       time.Time       `json:"at"`
	Status   string          `json:"status"`
	Message  string          `json:"message,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

type jobResponse struct {
	Job    jobDocument     `json:"job"`
	Stages []stageDocument `json:"stages"`
	Events []eventDocument `json:"events"`
}

func (s *apiServer) handleJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if id == "" || strings.Contains(id, "/") {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	job, err := s.daemon.store.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, services.Message(err))
		return
	}

	records, err := s.daemon.store.StageRecords(r.Context(), job.ID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, services.Message(err))
		return
	}
	events, err := s.daemon.store.EventsForJob(r.Context(), job.ID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, services.Message(err))
		return
	}

	resp := jobResponse{Job: toJobDocument(job)}
	for _, rec := range records {
		resp.Stages = append(resp.Stages, stageDocument{
			Stage:       rec.Stage,
			Status:      rec.Status,
			StartedAt:   rec.StartedAt,
			CompletedAt: rec.CompletedAt,
			Output:      rec.Output,
		})
	}
	for _, evt := range events {
		resp.Events = append(resp.Events, eventDocument{
			At:       evt.At,
			Status:   evt.Status,
			Message:  evt.Message,
			Metadata: evt.Metadata,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type jobListResponse struct {
	Jobs []jobDocument `json:"jobs"`
}

func (s *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	query := r.URL.Query()
	var status pipeline.Status
	if value := strings.TrimSpace(query.Get("status")); value != "" {
		parsed, ok := pipeline.ParseStatus(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", value))
			return
		}
		status = parsed
	}
	limit, _ := strconv.Atoi(query.Get("limit"))

	jobs, err := s.daemon.store.ListJobs(r.Context(), status, strings.TrimSpace(query.Get("job_type")), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, services.Message(err))
		return
	}
	resp := jobListResponse{Jobs: make([]jobDocument, 0, len(jobs))}
	for _, job := range jobs {
		resp.Jobs = append(resp.Jobs, toJobDocument(job))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func toJobDocument(job *store.Job) jobDocument {
	return jobDocument{
		ID:           job.ID,
		JobType:      job.JobType,
		Stage:        job.Stage,
		Status:       job.Status,
		AttemptCount: job.AttemptCount,
		MaxAttempts:  job.MaxAttempts,
		Priority:     job.Priority,
		NaturalKey:   job.NaturalKey,
		Requester:    job.Requester,
		ErrorMessage: job.ErrorMessage,
		Heartbeat:    job.Heartbeat,
		Result:       job.Result,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String("component", "api-server"))
	}
	return logging.NewNop()
}
