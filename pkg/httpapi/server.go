// Package httpapi exposes the orchestration surface over HTTP: task
// submission, approval and clarification delivery, team switching, plan
// history, the websocket event stream, and Prometheus metrics.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"magentic/pkg/channel"
	"magentic/pkg/logx"
	"magentic/pkg/metrics"
	"magentic/pkg/orch"
	"magentic/pkg/persistence"
	"magentic/pkg/team"
)

// Auth carries the basic-auth credentials guarding every route. Password is
// a func so rotation through the secrets file takes effect without restart.
type Auth struct {
	User     string
	Password func() string
}

// Server handles the HTTP API.
type Server struct {
	manager  *orch.Manager
	hub      *channel.Hub
	store    *persistence.Store // nil disables plan history
	recorder *metrics.Recorder
	auth     Auth
	logger   *logx.Logger
}

// NewServer creates a server over the manager and hub.
func NewServer(manager *orch.Manager, hub *channel.Hub, store *persistence.Store,
	recorder *metrics.Recorder, auth Auth) *Server {
	return &Server{
		manager:  manager,
		hub:      hub,
		store:    store,
		recorder: recorder,
		auth:     auth,
		logger:   logx.NewLogger("httpapi"),
	}
}

// RegisterRoutes sets up the HTTP routes on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/tasks", s.requireAuth(s.handleSubmitTask))
	mux.HandleFunc("/api/approvals", s.requireAuth(s.handleApproval))
	mux.HandleFunc("/api/clarifications", s.requireAuth(s.handleClarification))
	mux.HandleFunc("/api/team", s.requireAuth(s.handleSwitchTeam))
	mux.HandleFunc("/api/plans", s.requireAuth(s.handlePlans))
	mux.HandleFunc("/api/logs", s.requireAuth(s.handleLogs))
	mux.HandleFunc("/api/healthz", s.handleHealth)
	mux.HandleFunc("/ws", s.requireAuth(s.handleWS))
	if s.recorder != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.recorder.Registry(), promhttp.HandlerOpts{}))
	}
}

// requireAuth wraps a handler with basic authentication.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		expected := s.auth.Password()
		if expected == "" {
			s.logger.Error("no API password configured, denying access")
			unauthorized(w)
			return
		}
		user, password, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(s.auth.User)) != 1 ||
			subtle.ConstantTimeCompare([]byte(password), []byte(expected)) != 1 {
			s.logger.Warn("failed authentication attempt from %s", r.RemoteAddr)
			unauthorized(w)
			return
		}
		next(w, r)
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="Magentic API"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

type submitTaskRequest struct {
	UserID   string `json:"user_id"`
	Task     string `json:"task"`
	TeamYAML string `json:"team_yaml,omitempty"`
}

// handleSubmitTask accepts a task and runs the orchestration in the
// background; progress and the terminal result arrive on the user's
// websocket stream.
func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.Task == "" {
		http.Error(w, "user_id and task are required", http.StatusBadRequest)
		return
	}

	cfg, err := s.resolveTeam(req.TeamYAML)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// The task outlives the HTTP request; its lifetime is bounded by the
	// approval and clarification timeouts. The in-flight check happens
	// before the 202 so a busy user gets the conflict, not a silent drop.
	if err := s.manager.StartTask(context.WithoutCancel(r.Context()), req.UserID, cfg, req.Task); err != nil {
		if errors.Is(err, orch.ErrTaskInFlight) {
			http.Error(w, "a task is already running for this user", http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type approvalRequest struct {
	UserID    string `json:"user_id"`
	RequestID string `json:"request_id"`
	Approved  bool   `json:"approved"`
	Feedback  string `json:"feedback,omitempty"`
}

func (s *Server) handleApproval(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	delivered := s.manager.ApprovePlan(req.UserID, req.RequestID, req.Approved, req.Feedback)
	writeJSON(w, http.StatusOK, map[string]bool{"delivered": delivered})
}

type clarificationRequest struct {
	UserID    string `json:"user_id"`
	RequestID string `json:"request_id"`
	Answer    string `json:"answer"`
}

func (s *Server) handleClarification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req clarificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	delivered := s.manager.AnswerClarification(req.UserID, req.RequestID, req.Answer)
	writeJSON(w, http.StatusOK, map[string]bool{"delivered": delivered})
}

type switchTeamRequest struct {
	UserID   string `json:"user_id"`
	TeamYAML string `json:"team_yaml"`
}

func (s *Server) handleSwitchTeam(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req switchTeamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	cfg, err := s.resolveTeam(req.TeamYAML)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.manager.SwitchTeam(r.Context(), req.UserID, cfg); err != nil {
		if errors.Is(err, orch.ErrTaskInFlight) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"team_id": cfg.ID, "team": cfg.Name})
}

func (s *Server) handlePlans(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "plan history disabled", http.StatusNotFound)
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	rows, err := s.store.ListPlansByUser(userID, 50)
	if err != nil {
		s.logger.Error("failed to list plans for user %s: %v", userID, err)
		http.Error(w, "failed to list plans", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	component := r.URL.Query().Get("component")
	since := time.Now().Add(-15 * time.Minute)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "since must be RFC3339", http.StatusBadRequest)
			return
		}
		since = parsed
	}
	writeJSON(w, http.StatusOK, logx.RecentEntries(component, since))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	s.hub.ServeWS(w, r, userID)
}

// resolveTeam parses an inline team document, or falls back to the built-in
// default team.
func (s *Server) resolveTeam(teamYAML string) (*team.Config, error) {
	if teamYAML == "" {
		return team.Default(), nil
	}
	return team.Parse([]byte(teamYAML))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
