package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/ai-pr-reviewer/internal/config"
	"github.com/fairyhunter13/ai-pr-reviewer/internal/domain"
	"github.com/fairyhunter13/ai-pr-reviewer/internal/usecase"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg         config.Config
	Submit      usecase.SubmitService
	Status      usecase.StatusService
	Results     usecase.ResultService
	DBCheck     func(ctx context.Context) error
	RedisCheck  func(ctx context.Context) error
	BrokerCheck func(ctx context.Context) error
}

// NewServer constructs a Server with all handlers and checks wired.
func NewServer(cfg config.Config, submit usecase.SubmitService, status usecase.StatusService, results usecase.ResultService,
	dbCheck, redisCheck, brokerCheck func(context.Context) error) *Server {
	return &Server{
		Cfg:         cfg,
		Submit:      submit,
		Status:      status,
		Results:     results,
		DBCheck:     dbCheck,
		RedisCheck:  redisCheck,
		BrokerCheck: brokerCheck,
	}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

type submitRequest struct {
	RepoURL  string `json:"repo_url" validate:"required"`
	PRNumber int    `json:"pr_number" validate:"required,gt=0"`
	Priority string `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
}

// SubmitHandler accepts an analysis request and responds 202 with the task id.
func (s *Server) SubmitHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeShapeError(w, fmt.Errorf("malformed request body: %v", err))
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), map[string]any{
				"repo_url":  req.RepoURL,
				"pr_number": req.PRNumber,
			})
			return
		}
		taskID, err := s.Submit.Submit(r.Context(), req.RepoURL, req.PRNumber, req.Priority, r.Header.Get("X-Request-Id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"task_id": taskID,
			"status":  string(domain.TaskPending),
		})
	}
}

// StatusHandler reports merged task status and in-flight progress.
func (s *Server) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskID := chi.URLParam(r, "taskID")
		view, err := s.Status.GetStatus(r.Context(), taskID)
		if err != nil {
			writeError(w, r, err, map[string]string{"task_id": taskID})
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// ResultHandler returns the assembled analysis for a completed task, or the
// current status for one still in flight.
func (s *Server) ResultHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskID := chi.URLParam(r, "taskID")
		view, err := s.Results.GetResult(r.Context(), taskID)
		if err != nil {
			writeError(w, r, err, map[string]string{"task_id": taskID})
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// CancelHandler requests cancellation of a pending or processing task.
func (s *Server) CancelHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskID := chi.URLParam(r, "taskID")
		if err := s.Submit.Tasks.UpdateStatus(r.Context(), taskID, domain.TaskCancelled, nil); err != nil {
			writeError(w, r, err, map[string]string{"task_id": taskID})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"task_id": taskID,
			"status":  string(domain.TaskCancelled),
		})
	}
}

// HealthHandler is a liveness probe.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type readinessCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Details string `json:"details,omitempty"`
}

// ReadyHandler runs the dependency checks and responds 503 when any fails.
func (s *Server) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := []struct {
			name string
			fn   func(context.Context) error
		}{
			{"db", s.DBCheck},
			{"redis", s.RedisCheck},
			{"broker", s.BrokerCheck},
		}
		out := make([]readinessCheck, 0, len(checks))
		allOK := true
		for _, c := range checks {
			rc := readinessCheck{Name: c.name, OK: true}
			if c.fn == nil {
				rc.OK = false
				rc.Details = "check not configured"
			} else if err := c.fn(r.Context()); err != nil {
				rc.OK = false
				rc.Details = err.Error()
			}
			if !rc.OK {
				allOK = false
			}
			out = append(out, rc)
		}
		status := http.StatusOK
		if !allOK {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"ready": allOK, "checks": out})
	}
}
