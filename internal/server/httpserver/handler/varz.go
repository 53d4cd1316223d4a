package handler

import (
	"net/http"
	"time"

	"github.com/yndnr/routemesh-go/internal/infra/buildinfo"
)

// handleVarz handles GET /varz.
func (h *Handler) handleVarz(w http.ResponseWriter, r *http.Request) {
	resp := VarzResponse{
		ServerName: h.cluster.ServerName(),
		Cluster:    h.cluster.Cluster(),
		Instance:   h.cluster.Instance(),
		Listen:     h.cluster.Addr(),
		Advertise:  h.cluster.AdvertiseAddr(),
		Start:      h.start.UTC(),
		Uptime:     time.Since(h.start).Round(time.Second).String(),
		Build:      buildinfo.Get(),
	}
	if h.config != nil {
		resp.Config = h.config()
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}
