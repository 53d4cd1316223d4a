package handler

import "net/http"

// handleHealth handles GET /healthz. It answers 503 once the manager has
// shut down.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:     "ok",
		ServerName: h.cluster.ServerName(),
		Routes:     len(h.cluster.View().Peers),
	}
	if !h.cluster.Running() {
		resp.Status = "stopped"
		h.writeError(w, r, http.StatusServiceUnavailable, "RM-HTTP-5030", "route manager is not running", resp)
		return
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}
