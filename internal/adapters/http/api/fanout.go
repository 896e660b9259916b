package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/okian/tabulator/internal/domain/model"
)

// HubStats reports the state of the fan-out hub.
type HubStats interface {
	Count() int
	CountByRole(role model.Role) int
	Uptime() time.Duration
}

type fanoutHealthResponse struct {
	Status        string `json:"status"`
	Clients       int    `json:"clients"`
	Judges        int    `json:"judges"`
	Admins        int    `json:"admins"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// FanoutHealth handles GET /health on the fan-out process.
func FanoutHealth(hub HubStats) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, fanoutHealthResponse{
			Status:        "ok",
			Clients:       hub.Count(),
			Judges:        hub.CountByRole(model.RoleJudge),
			Admins:        hub.CountByRole(model.RoleAdmin),
			UptimeSeconds: int64(hub.Uptime().Seconds()),
		})
	}
}

// RegisterFanout attaches the public push endpoints: the websocket, the
// server-sent events fallback and the health probe.
func RegisterFanout(r chi.Router, hub HubStats, ws, sse http.Handler) {
	r.Get("/health", MetricsMiddleware(FanoutHealth(hub), "fanout_health"))
	r.Handle("/ws", ws)
	r.Get("/events/stream", sse.ServeHTTP)
}

// RegisterNotify attaches the internal POST /notify receiver.
func RegisterNotify(r chi.Router, h *NotifyHandler) {
	r.Post("/notify", MetricsMiddleware(h.HandleNotify, "notify"))
}
