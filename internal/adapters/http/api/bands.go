package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/okian/tabulator/internal/domain/model"
)

// BandDependencies moves and reads the active band.
type BandDependencies interface {
	ActivateBand(ctx context.Context, bandID int64) (model.Band, error)
	DeactivateBand(ctx context.Context) error
	ActiveBand(ctx context.Context) (*model.Band, error)
}

// BandHandler handles active band requests.
type BandHandler struct {
	deps BandDependencies
}

// NewBandHandler creates a new band handler.
func NewBandHandler(deps BandDependencies) *BandHandler {
	return &BandHandler{deps: deps}
}

type activateResponse struct {
	ackResponse
	Band model.Band `json:"band"`
}

// HandleActivate handles POST /api/admin/bands/{id}/activate.
func (h *BandHandler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"), "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	band, err := h.deps.ActivateBand(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, activateResponse{
		ackResponse: ackResponse{Success: true, Message: "Band activated: " + band.Name},
		Band:        band,
	})
}

// HandleDeactivate handles POST /api/admin/bands/deactivate.
func (h *BandHandler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.DeactivateBand(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{Success: true, Message: "All bands deactivated"})
}

type activeBandResponse struct {
	Band *model.Band `json:"band"`
}

// HandleActiveBand handles GET /api/active-band.
func (h *BandHandler) HandleActiveBand(w http.ResponseWriter, r *http.Request) {
	band, err := h.deps.ActiveBand(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, activeBandResponse{Band: band})
}
