// Package api exposes the interview engine over two surfaces: a bearer
// authenticated REST API for app clients and an MCP tool server for
// agent integrations. Both are thin adapters over the orchestrator; no
// session logic lives here.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/parleyhq/parley/internal/fsm"
	"github.com/parleyhq/parley/internal/orchestrator"
	"github.com/parleyhq/parley/internal/profile"
	"github.com/parleyhq/parley/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// InterviewService is the orchestrator surface the handlers call.
type InterviewService interface {
	StartInterview(ctx context.Context, userID, roleID string) (orchestrator.StartResult, error)
	SubmitAnswer(ctx context.Context, sessionID, audioURL string, durationMs int64) (orchestrator.SubmitResult, error)
	Continue(ctx context.Context, sessionID string) (orchestrator.Result, error)
	Pause(ctx context.Context, sessionID string) error
	Resume(ctx context.Context, sessionID string) (orchestrator.Result, error)
	GetState(sessionID string) (orchestrator.Result, error)
	GetActiveInterview(userID string) *orchestrator.ActiveInterview
	UpdateHeartbeat(sessionID string) error
	GetSummary(sessionID string) (*orchestrator.Summary, bool, error)
}

// AppDeps wires the REST handler's collaborators.
type AppDeps struct {
	Interviews InterviewService
	Store      *storage.Store // archives; optional
	Profile    *profile.Manager
	Token      string
}

// NewAppHandler builds the authenticated application router.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/v1/interviews", handleStartInterview(deps))
		r.Get("/v1/interviews/{id}", handleGetInterview(deps))
		r.Post("/v1/interviews/{id}/answers", handleSubmitAnswer(deps))
		r.Post("/v1/interviews/{id}/continue", handleContinue(deps))
		r.Post("/v1/interviews/{id}/pause", handlePause(deps))
		r.Post("/v1/interviews/{id}/resume", handleResume(deps))
		r.Post("/v1/interviews/{id}/heartbeat", handleHeartbeat(deps))
		r.Get("/v1/interviews/{id}/summary", handleGetSummary(deps))
		r.Get("/v1/users/{userID}/interviews/active", handleGetActive(deps))
		r.Get("/v1/users/{userID}/archives", handleListArchives(deps))
		r.Get("/v1/profile", handleGetProfile(deps))
		r.Get("/v1/profile/summary", handleGetProfileSummary(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type startInterviewRequest struct {
	UserID string `json:"user_id"`
	RoleID string `json:"role_id"`
}

func handleStartInterview(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req startInterviewRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.UserID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}
		if req.RoleID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "role_id is required")
			return
		}

		res, err := deps.Interviews.StartInterview(r.Context(), req.UserID, req.RoleID)
		if err != nil {
			interviewError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(res)
	}
}

func handleGetInterview(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Interviews.GetState(chi.URLParam(r, "id"))
		if err != nil {
			interviewError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(res)
	}
}

type submitAnswerRequest struct {
	AudioURL   string `json:"audio_url"`
	DurationMs int64  `json:"duration_ms"`
}

func handleSubmitAnswer(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req submitAnswerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.AudioURL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "audio_url is required")
			return
		}
		if req.DurationMs <= 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "duration_ms must be positive")
			return
		}

		res, err := deps.Interviews.SubmitAnswer(r.Context(), chi.URLParam(r, "id"), req.AudioURL, req.DurationMs)
		if err != nil {
			interviewError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(res)
	}
}

func handleContinue(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Interviews.Continue(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			interviewError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(res)
	}
}

func handlePause(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Interviews.Pause(r.Context(), chi.URLParam(r, "id")); err != nil {
			interviewError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "paused"})
	}
}

func handleResume(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Interviews.Resume(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			interviewError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(res)
	}
}

func handleHeartbeat(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Interviews.UpdateHeartbeat(chi.URLParam(r, "id")); err != nil {
			interviewError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

func handleGetSummary(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sum, processing, err := deps.Interviews.GetSummary(chi.URLParam(r, "id"))
		if err != nil {
			interviewError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if processing {
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(map[string]string{"status": "processing"})
			return
		}
		json.NewEncoder(w).Encode(sum)
	}
}

func handleGetActive(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		active := deps.Interviews.GetActiveInterview(chi.URLParam(r, "userID"))
		if active == nil {
			httpError(w, http.StatusNotFound, "not_found", "no active interview")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(active)
	}
}

func handleListArchives(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Store == nil {
			httpError(w, http.StatusNotFound, "not_found", "archives not available")
			return
		}

		archives, err := deps.Store.ListArchivesByUser(chi.URLParam(r, "userID"), 50)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list archives: %v", err)
			return
		}
		if archives == nil {
			archives = []storage.Archive{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(archives)
	}
}

func handleGetProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Profile == nil {
			httpError(w, http.StatusNotFound, "not_found", "profile not available")
			return
		}

		p, err := deps.Profile.GetProfile()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get profile: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(p)
	}
}

func handleGetProfileSummary(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Profile == nil {
			httpError(w, http.StatusNotFound, "not_found", "profile not available")
			return
		}

		summary, err := deps.Profile.GetSummary()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to build summary: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"summary": summary})
	}
}

// interviewError maps orchestrator errors onto HTTP status codes.
func interviewError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrSessionNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.Is(err, orchestrator.ErrCannotResume):
		httpError(w, http.StatusGone, "cannot_resume", "%v", err)
	case errors.Is(err, fsm.ErrInvalidTransition):
		httpError(w, http.StatusConflict, "invalid_transition", "%v", err)
	case errors.Is(err, orchestrator.ErrNotCompleted):
		httpError(w, http.StatusConflict, "not_completed", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
