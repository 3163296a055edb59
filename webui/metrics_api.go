package webui

import (
	"net/http"

	"sdqueue/jobs"
	"sdqueue/metrics"
)

// MetricsResponse is the body of GET /metrics.
type MetricsResponse struct {
	metrics.Snapshot
	Health jobs.Health                `json:"health"`
	Recent []metrics.GenerationRecord `json:"recent"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeError(w, http.StatusNotFound, "NotFound", "metrics are disabled")
		return
	}
	limit, ok := queryInt(r, "recent", 20)
	if !ok || limit < 0 {
		writeRejection(w, "recent", "must be a non-negative integer")
		return
	}
	writeJSON(w, http.StatusOK, MetricsResponse{
		Snapshot: s.metrics.Snapshot(),
		Health:   s.queue.Health(),
		Recent:   s.metrics.Recent(limit),
	})
}
