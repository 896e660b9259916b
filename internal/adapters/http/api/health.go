package api

import (
	"net/http"

	"github.com/okian/tabulator/pkg/metrics"
)

// ClientCounter reports connected fan-out clients.
type ClientCounter interface {
	Count() int
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	clients ClientCounter
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(clients ClientCounter) *HealthHandler {
	return &HealthHandler{clients: clients}
}

type healthResponse struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

// HandleHealth handles GET /healthz requests.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok"}
	if h.clients != nil {
		resp.Clients = h.clients.Count()
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleMetrics serves the custom prometheus registry.
func (h *HealthHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics.Handler().ServeHTTP(w, r)
}
