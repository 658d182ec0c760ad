package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/hugo-lorenzo-mato/beacon/internal/core"
	"github.com/hugo-lorenzo-mato/beacon/internal/logstore"
)

type writeLogRequest struct {
	Module     string         `json:"module"`
	Level      core.LogLevel  `json:"level"`
	Message    string         `json:"message"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	StepID     string         `json:"step_id,omitempty"`
	DurationMS float64        `json:"duration_ms,omitempty"`
	Status     string         `json:"status,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handleWriteLog(w http.ResponseWriter, r *http.Request) {
	var req writeLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Module == "" || req.Message == "" {
		respondError(w, http.StatusUnprocessableEntity, "module and message are required")
		return
	}

	var opts []logstore.Option
	if req.WorkflowID != "" {
		opts = append(opts, logstore.WithWorkflow(core.WorkflowID(req.WorkflowID), core.StepID(req.StepID)))
	}
	if req.DurationMS > 0 {
		opts = append(opts, logstore.WithDuration(req.DurationMS))
	}
	if req.Status != "" {
		opts = append(opts, logstore.WithStatus(req.Status))
	}
	if req.Context != nil {
		opts = append(opts, logstore.WithContext(req.Context))
	}
	if req.Metadata != nil {
		opts = append(opts, logstore.WithMetadata(req.Metadata))
	}

	s.logs.Log(r.Context(), req.Module, req.Level, req.Message, opts...)
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleRecentLogs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	module := r.URL.Query().Get("module")
	level := core.LogLevel(r.URL.Query().Get("level"))

	respondJSON(w, http.StatusOK, map[string]any{
		"logs": s.logs.Recent(limit, module, level),
	})
}

func (s *Server) handleQueryLogs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	module := r.URL.Query().Get("module")
	level := core.LogLevel(r.URL.Query().Get("level"))

	records, err := s.logs.Query(r.Context(), limit, module, level)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"logs": records})
}

func (s *Server) handleLogResetStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.logs.ResetStatus())
}

func (s *Server) handleLogCleanup(w http.ResponseWriter, r *http.Request) {
	if err := s.logs.Cleanup(r.Context()); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// queryInt parses an integer query parameter with a fallback.
func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
