package api

import (
	"net/http"
)

func (s *Server) handleMetricsSummary(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.Summary())
}

func (s *Server) handleSystemMetrics(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", 1)
	limit := queryInt(r, "limit", 500)

	samples, err := s.metrics.SystemMetrics(r.Context(), hours, limit)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"samples": samples})
}

func (s *Server) handleModuleMetrics(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", 1)
	limit := queryInt(r, "limit", 500)
	module := r.URL.Query().Get("module")

	samples, err := s.metrics.ModuleMetrics(r.Context(), module, hours, limit)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"samples": samples})
}

// handleSampleNow takes a synchronous system sample, bypassing the
// sampler schedule.
func (s *Server) handleSampleNow(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.SampleSystem(r.Context()))
}
