package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
)

// AdminDependencies serves the admin panel.
type AdminDependencies interface {
	PendingJudges(ctx context.Context) (PendingSnapshot, error)
	Rankings(ctx context.Context, roundID int64, top int) (Leaderboard, error)
	UpdateScore(ctx context.Context, judgeID, bandID, criterionID int64, value float64) error
	DeleteScores(ctx context.Context, judgeID, bandID int64) (int64, error)
	Reset(ctx context.Context, confirm string) error
}

// AdminHandler handles admin requests.
type AdminHandler struct {
	deps AdminDependencies
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(deps AdminDependencies) *AdminHandler {
	return &AdminHandler{deps: deps}
}

// HandlePending handles GET /api/admin/pending-judges.
func (h *AdminHandler) HandlePending(w http.ResponseWriter, r *http.Request) {
	snap, err := h.deps.PendingJudges(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// HandleRankings handles GET /api/admin/rankings?round_id=&top=.
func (h *AdminHandler) HandleRankings(w http.ResponseWriter, r *http.Request) {
	roundID := int64(1)
	if raw := r.URL.Query().Get("round_id"); raw != "" {
		id, err := parseID(raw, "round_id")
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err)
			return
		}
		roundID = id
	}
	top := 0
	if raw := r.URL.Query().Get("top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: top", ErrBadRequest))
			return
		}
		top = n
	}
	lb, err := h.deps.Rankings(r.Context(), roundID, top)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lb)
}

type updateScoreRequest struct {
	JudgeID     int64    `json:"judge_id"`
	BandID      int64    `json:"band_id"`
	CriterionID int64    `json:"criteria_id"`
	Score       *float64 `json:"score"`
}

// HandleUpdateScore handles PUT /api/admin/scores.
func (h *AdminHandler) HandleUpdateScore(w http.ResponseWriter, r *http.Request) {
	var req updateScoreRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if req.JudgeID <= 0 || req.BandID <= 0 || req.CriterionID <= 0 || req.Score == nil {
		writeError(w, http.StatusBadRequest, "bad_request",
			fmt.Errorf("%w: judge_id, band_id, criteria_id and score are required", ErrBadRequest))
		return
	}
	if err := h.deps.UpdateScore(r.Context(), req.JudgeID, req.BandID, req.CriterionID, *req.Score); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{Success: true, Message: "Score updated"})
}

type deleteResponse struct {
	ackResponse
	Deleted int64 `json:"deleted"`
}

// HandleDeleteScores handles DELETE /api/admin/scores?judge_id=&band_id=.
func (h *AdminHandler) HandleDeleteScores(w http.ResponseWriter, r *http.Request) {
	judgeID, err := queryID(r, "judge_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	bandID, err := queryID(r, "band_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	n, err := h.deps.DeleteScores(r.Context(), judgeID, bandID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{
		ackResponse: ackResponse{Success: true, Message: "Scores deleted"},
		Deleted:     n,
	})
}

type resetRequest struct {
	Confirm string `json:"confirm"`
}

// HandleReset handles POST /api/admin/reset.
func (h *AdminHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := h.deps.Reset(r.Context(), req.Confirm); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{Success: true, Message: "System reset complete"})
}
