package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hugo-lorenzo-mato/beacon/internal/alerts"
	"github.com/hugo-lorenzo-mato/beacon/internal/core"
)

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	f := alerts.Filter{
		Severity: core.AlertSeverity(r.URL.Query().Get("severity")),
		Type:     r.URL.Query().Get("type"),
		Module:   r.URL.Query().Get("module"),
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"alerts": s.alerts.Active(f),
	})
}

type createAlertRequest struct {
	Type              string             `json:"type"`
	Severity          core.AlertSeverity `json:"severity"`
	Title             string             `json:"title"`
	Message           string             `json:"message"`
	Module            string             `json:"module,omitempty"`
	WorkflowID        string             `json:"workflow_id,omitempty"`
	Metadata          map[string]any     `json:"metadata,omitempty"`
	AutoDismiss       *bool              `json:"auto_dismiss,omitempty"`
	DismissAfterHours float64            `json:"dismiss_after_hours,omitempty"`
}

func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var req createAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		respondError(w, http.StatusUnprocessableEntity, "alert title is required")
		return
	}
	if req.Type == "" {
		req.Type = "custom"
	}

	var opts []alerts.Option
	if req.Module != "" {
		opts = append(opts, alerts.WithModule(req.Module))
	}
	if req.WorkflowID != "" {
		opts = append(opts, alerts.WithWorkflow(core.WorkflowID(req.WorkflowID)))
	}
	if req.Metadata != nil {
		opts = append(opts, alerts.WithMetadata(req.Metadata))
	}
	// Auto-dismiss defaults on with the engine's configured window; an
	// explicit false makes the alert persistent, explicit hours override
	// the window.
	switch {
	case req.AutoDismiss != nil && !*req.AutoDismiss:
		opts = append(opts, alerts.WithPersistent())
	case req.DismissAfterHours > 0:
		opts = append(opts, alerts.WithAutoDismiss(req.DismissAfterHours))
	}

	id := s.alerts.Create(r.Context(), req.Type, req.Severity, req.Title, req.Message, opts...)
	respondJSON(w, http.StatusCreated, map[string]string{"id": id})
}

type actorRequest struct {
	Actor string `json:"actor"`
}

func (s *Server) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "alertID")
	var req actorRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if !s.alerts.Acknowledge(r.Context(), id, req.Actor) {
		respondError(w, http.StatusNotFound, "alert not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

func (s *Server) handleDismissAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "alertID")
	var req actorRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if !s.alerts.Dismiss(r.Context(), id, req.Actor) {
		respondError(w, http.StatusNotFound, "alert not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "dismissed"})
}

func (s *Server) handleAlertSummary(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.alerts.Summary(r.Context()))
}

func (s *Server) handleAlertHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	history, err := s.alerts.History(r.Context(), limit)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (s *Server) handleListRules(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"rules": s.alerts.Rules()})
}

func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var rule core.AlertRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.alerts.AddRule(r.Context(), &rule); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleEvaluateRules(w http.ResponseWriter, r *http.Request) {
	var in core.RuleInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	created := s.alerts.Evaluate(r.Context(), in)
	respondJSON(w, http.StatusOK, map[string]any{"created": created})
}
