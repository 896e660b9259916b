// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/okian/tabulator/internal/domain/model"
	"github.com/okian/tabulator/internal/domain/types"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	BandDependencies
	JudgeDependencies
	AdminDependencies
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler *HealthHandler
	statsHandler  *StatsHandler
	bandHandler   *BandHandler
	judgeHandler  *JudgeHandler
	adminHandler  *AdminHandler
}

// NewServer creates a new API server with all handlers. clients may be nil
// when no hub runs in this process.
func NewServer(deps Dependencies, statsProvider StatsProvider, clients ClientCounter) *Server {
	return &Server{
		healthHandler: NewHealthHandler(clients),
		statsHandler:  NewStatsHandler(statsProvider),
		bandHandler:   NewBandHandler(deps),
		judgeHandler:  NewJudgeHandler(deps),
		adminHandler:  NewAdminHandler(deps),
	}
}

// Register attaches all HTTP routes to r.
func (s *Server) Register(_ context.Context, r chi.Router) {
	r.Get("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	r.Get("/metrics", s.healthHandler.HandleMetrics)
	r.Get("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	r.Route("/api", func(r chi.Router) {
		r.Get("/active-band", MetricsMiddleware(s.bandHandler.HandleActiveBand, "active_band"))

		r.Route("/judge", func(r chi.Router) {
			r.Get("/active-band", MetricsMiddleware(s.judgeHandler.HandleSnapshot, "judge_snapshot"))
			r.Post("/scores", MetricsMiddleware(s.judgeHandler.HandleSubmit, "judge_submit"))
			r.Get("/scores", MetricsMiddleware(s.judgeHandler.HandleHistory, "judge_history"))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/bands/{id}/activate", MetricsMiddleware(s.bandHandler.HandleActivate, "band_activate"))
			r.Post("/bands/deactivate", MetricsMiddleware(s.bandHandler.HandleDeactivate, "band_deactivate"))
			r.Get("/pending-judges", MetricsMiddleware(s.adminHandler.HandlePending, "pending_judges"))
			r.Get("/rankings", MetricsMiddleware(s.adminHandler.HandleRankings, "rankings"))
			r.Put("/scores", MetricsMiddleware(s.adminHandler.HandleUpdateScore, "admin_update_score"))
			r.Delete("/scores", MetricsMiddleware(s.adminHandler.HandleDeleteScores, "admin_delete_scores"))
			r.Post("/reset", MetricsMiddleware(s.adminHandler.HandleReset, "reset"))
		})
	})
}

// Snapshot reads return the object itself; these aliases keep the handler
// signatures readable.
type (
	JudgeSnapshot   = types.JudgeSnapshot
	PendingSnapshot = types.PendingSnapshot
	Leaderboard     = types.Leaderboard
)

type ackResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type errorResponse struct {
	Success       bool         `json:"success"`
	Code          string       `json:"code"`
	Message       string       `json:"message"`
	PendingJudges []model.User `json:"pending_judges,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeDomainError maps the domain error kinds onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	resp := errorResponse{Message: userMessage(err)}
	status := http.StatusInternalServerError

	switch model.Kind(err) {
	case model.ErrValidation:
		status, resp.Code = http.StatusBadRequest, "bad_request"
	case model.ErrNotFound:
		status, resp.Code = http.StatusNotFound, "not_found"
	case model.ErrConflict:
		status, resp.Code = http.StatusConflict, "conflict"
		var blocked *model.BlockedError
		if errors.As(err, &blocked) {
			resp.Code = "blocked"
			resp.PendingJudges = blocked.Pending
		}
	default:
		resp.Code = "internal_error"
		resp.Message = http.StatusText(status)
	}
	writeJSON(w, status, resp)
}

// userMessage returns the innermost domain message rather than the op chain.
func userMessage(err error) string {
	var blocked *model.BlockedError
	if errors.As(err, &blocked) {
		return blocked.Error()
	}
	var rng *model.RangeError
	if errors.As(err, &rng) {
		return rng.Error()
	}
	for _, known := range []error{
		model.ErrBandNotFound, model.ErrCriterionNotFound, model.ErrScoreNotFound,
		model.ErrUserNotFound, model.ErrRoundNotFound, model.ErrNotActive,
		model.ErrAlreadyFinalized, model.ErrUnknownCriterion, model.ErrEmptySubmission,
		model.ErrMissingScore, model.ErrDuplicateCriteria,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return err.Error()
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return ErrInvalidJSON
	}
	return nil
}

func queryID(r *http.Request, key string) (int64, error) {
	return parseID(r.URL.Query().Get(key), key)
}

func parseID(raw, key string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrInvalidID, key)
	}
	return id, nil
}
