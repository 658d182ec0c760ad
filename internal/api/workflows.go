package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hugo-lorenzo-mato/beacon/internal/core"
)

type createWorkflowRequest struct {
	Type     string         `json:"type"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req createWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Type == "" {
		respondError(w, http.StatusUnprocessableEntity, "workflow type is required")
		return
	}

	id := s.workflows.Create(r.Context(), req.Type, req.Metadata)
	respondJSON(w, http.StatusCreated, map[string]string{"id": string(id)})
}

func (s *Server) handleListActiveWorkflows(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"workflows": s.workflows.Active(),
	})
}

func (s *Server) handleWorkflowHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	respondJSON(w, http.StatusOK, map[string]any{
		"workflows": s.workflows.History(limit),
	})
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := core.WorkflowID(chi.URLParam(r, "workflowID"))
	view := s.workflows.Status(id)
	if view == nil {
		respondError(w, http.StatusNotFound, "workflow not found")
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleStartWorkflow(w http.ResponseWriter, r *http.Request) {
	s.workflowTransition(w, r, func(id core.WorkflowID) bool {
		return s.workflows.Start(r.Context(), id)
	})
}

func (s *Server) handleCompleteWorkflow(w http.ResponseWriter, r *http.Request) {
	s.workflowTransition(w, r, func(id core.WorkflowID) bool {
		return s.workflows.Complete(r.Context(), id)
	})
}

type reasonRequest struct {
	Reason string `json:"reason"`
	Error  string `json:"error"`
}

func (s *Server) handleFailWorkflow(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	msg := req.Error
	if msg == "" {
		msg = req.Reason
	}
	s.workflowTransition(w, r, func(id core.WorkflowID) bool {
		return s.workflows.Fail(r.Context(), id, msg)
	})
}

func (s *Server) handleCancelWorkflow(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	s.workflowTransition(w, r, func(id core.WorkflowID) bool {
		return s.workflows.Cancel(r.Context(), id, req.Reason)
	})
}

// workflowTransition applies fn and maps the boolean contract onto HTTP:
// a false result means unknown id or rejected transition.
func (s *Server) workflowTransition(w http.ResponseWriter, r *http.Request, fn func(core.WorkflowID) bool) {
	id := core.WorkflowID(chi.URLParam(r, "workflowID"))
	if !fn(id) {
		respondError(w, http.StatusConflict, "unknown workflow or invalid transition")
		return
	}
	respondJSON(w, http.StatusOK, s.workflows.Status(id))
}

type addStepRequest struct {
	Name     string         `json:"name"`
	Module   string         `json:"module"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handleAddStep(w http.ResponseWriter, r *http.Request) {
	id := core.WorkflowID(chi.URLParam(r, "workflowID"))

	var req addStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusUnprocessableEntity, "step name is required")
		return
	}

	stepID := s.workflows.AddStep(r.Context(), id, req.Name, req.Module, req.Metadata)
	if stepID == "" {
		respondError(w, http.StatusConflict, "unknown workflow or terminal state")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"id": string(stepID)})
}

type finishStepRequest struct {
	DurationMS float64  `json:"duration_ms,omitempty"`
	Logs       []string `json:"logs,omitempty"`
	Error      string   `json:"error,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

func (s *Server) handleStartStep(w http.ResponseWriter, r *http.Request) {
	s.stepTransition(w, r, func(id core.WorkflowID, stepID core.StepID, _ finishStepRequest) bool {
		return s.workflows.StartStep(r.Context(), id, stepID)
	})
}

func (s *Server) handleCompleteStep(w http.ResponseWriter, r *http.Request) {
	s.stepTransition(w, r, func(id core.WorkflowID, stepID core.StepID, req finishStepRequest) bool {
		return s.workflows.CompleteStep(r.Context(), id, stepID, req.DurationMS, req.Logs)
	})
}

func (s *Server) handleFailStep(w http.ResponseWriter, r *http.Request) {
	s.stepTransition(w, r, func(id core.WorkflowID, stepID core.StepID, req finishStepRequest) bool {
		return s.workflows.FailStep(r.Context(), id, stepID, req.Error, req.Logs)
	})
}

func (s *Server) handleSkipStep(w http.ResponseWriter, r *http.Request) {
	s.stepTransition(w, r, func(id core.WorkflowID, stepID core.StepID, req finishStepRequest) bool {
		return s.workflows.SkipStep(r.Context(), id, stepID, req.Reason)
	})
}

func (s *Server) stepTransition(w http.ResponseWriter, r *http.Request, fn func(core.WorkflowID, core.StepID, finishStepRequest) bool) {
	id := core.WorkflowID(chi.URLParam(r, "workflowID"))
	stepID := core.StepID(chi.URLParam(r, "stepID"))

	var req finishStepRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if !fn(id, stepID, req) {
		respondError(w, http.StatusConflict, "unknown step or invalid transition")
		return
	}
	respondJSON(w, http.StatusOK, s.workflows.Status(id))
}
