package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/okian/tabulator/internal/domain/model"
)

// JudgeDependencies serves the judge scoring form.
type JudgeDependencies interface {
	JudgeSnapshot(ctx context.Context, judgeID int64) (JudgeSnapshot, error)
	SubmitScores(ctx context.Context, judgeID, bandID int64, entries []model.ScoreEntry) error
	JudgeHistory(ctx context.Context, judgeID int64) ([]model.BandScores, error)
}

// JudgeHandler handles judge requests.
type JudgeHandler struct {
	deps JudgeDependencies
}

// NewJudgeHandler creates a new judge handler.
func NewJudgeHandler(deps JudgeDependencies) *JudgeHandler {
	return &JudgeHandler{deps: deps}
}

// HandleSnapshot handles GET /api/judge/active-band?judge_id=.
func (h *JudgeHandler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	judgeID, err := queryID(r, "judge_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	snap, err := h.deps.JudgeSnapshot(r.Context(), judgeID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type submitRequest struct {
	JudgeID int64             `json:"judge_id"`
	BandID  int64             `json:"band_id"`
	Scores  []scoreEntryInput `json:"scores"`
}

// scoreEntryInput keeps an absent score distinguishable from zero.
type scoreEntryInput struct {
	CriterionID int64    `json:"criteria_id"`
	Score       *float64 `json:"score"`
}

func (req submitRequest) entries() ([]model.ScoreEntry, error) {
	out := make([]model.ScoreEntry, 0, len(req.Scores))
	for _, in := range req.Scores {
		if in.Score == nil {
			return nil, fmt.Errorf("%w: criteria %d", model.ErrMissingScore, in.CriterionID)
		}
		out = append(out, model.ScoreEntry{CriterionID: in.CriterionID, Value: *in.Score})
	}
	return out, nil
}

// HandleSubmit handles POST /api/judge/scores.
func (h *JudgeHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	entries, err := req.entries()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.deps.SubmitScores(r.Context(), req.JudgeID, req.BandID, entries); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{Success: true, Message: "Scores submitted and finalized"})
}

type historyResponse struct {
	Bands []model.BandScores `json:"bands"`
}

// HandleHistory handles GET /api/judge/scores?judge_id=.
func (h *JudgeHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	judgeID, err := queryID(r, "judge_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	history, err := h.deps.JudgeHistory(r.Context(), judgeID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Bands: history})
}
