package handler

import (
	"net/http"
	"strings"

	"github.com/yndnr/routemesh-go/internal/core/domain"
)

// handleRoutez handles GET /routez.
//
// Query parameters:
//   - state: only list routes in this state (e.g. "established")
func (h *Handler) handleRoutez(w http.ResponseWriter, r *http.Request) {
	view := h.cluster.View()
	routes := h.cluster.Routes()

	if state := strings.ToLower(r.URL.Query().Get("state")); state != "" {
		filtered := make([]domain.RouteInfo, 0, len(routes))
		for _, ri := range routes {
			if ri.State == state {
				filtered = append(filtered, ri)
			}
		}
		routes = filtered
	}

	peers := view.Peers
	if peers == nil {
		peers = []domain.RouteInfo{}
	}
	if routes == nil {
		routes = []domain.RouteInfo{}
	}
	h.writeJSON(w, r, http.StatusOK, RoutezResponse{
		ServerName: view.ServerName,
		Cluster:    view.Cluster,
		Version:    view.Version,
		NumRoutes:  len(routes),
		Peers:      peers,
		Routes:     routes,
	})
}
