package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/tabulator/internal/domain/model"
	"github.com/okian/tabulator/pkg/logger"
	"github.com/okian/tabulator/pkg/metrics"
)

// Publisher pushes a decoded event to connected clients.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event) error
}

// Deduper remembers envelope ids already broadcast.
type Deduper interface {
	SeenAndRecord(id string) bool
	Forget(id string)
}

// NotifyHandler receives events from the API process and re-broadcasts them.
type NotifyHandler struct {
	hub     Publisher
	deduper Deduper
	logger  logger.Logger
}

// NewNotifyHandler creates a notify receiver. deduper may be nil.
func NewNotifyHandler(hub Publisher, deduper Deduper) *NotifyHandler {
	return &NotifyHandler{hub: hub, deduper: deduper, logger: logger.Named("notify")}
}

type notifyResponse struct {
	Success   bool   `json:"success"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Message   string `json:"message,omitempty"`
}

// HandleNotify handles POST /notify with a `{id?, event, data}` envelope.
func (h *NotifyHandler) HandleNotify(w http.ResponseWriter, r *http.Request) {
	var env model.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeJSON(w, http.StatusBadRequest, notifyResponse{Message: "Invalid JSON"})
		return
	}
	ev, err := env.Decode()
	if err != nil {
		msg := "Invalid event data"
		if errors.Is(err, model.ErrUnknownEvent) {
			msg = "Unknown event: " + string(env.Event)
		}
		writeJSON(w, http.StatusBadRequest, notifyResponse{Message: msg})
		return
	}

	if env.ID != "" && h.deduper != nil && h.deduper.SeenAndRecord(env.ID) {
		metrics.RecordNotifyDelivery("duplicate")
		writeJSON(w, http.StatusOK, notifyResponse{Success: true, Duplicate: true})
		return
	}

	if err := h.hub.Publish(r.Context(), ev); err != nil {
		if env.ID != "" && h.deduper != nil {
			h.deduper.Forget(env.ID)
		}
		h.logger.Warn(r.Context(), "broadcast failed", logger.String("event", string(env.Event)), logger.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, notifyResponse{Message: "Broadcast failed"})
		return
	}
	metrics.RecordNotifyDelivery("received")
	writeJSON(w, http.StatusOK, notifyResponse{Success: true})
}
