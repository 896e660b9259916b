// Package service composes the score store, the active band gate and the
// ranking engine into the operations exposed by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/okian/tabulator/internal/adapters/notify"
	"github.com/okian/tabulator/internal/adapters/repository"
	"github.com/okian/tabulator/internal/config"
	"github.com/okian/tabulator/internal/domain/gate"
	"github.com/okian/tabulator/internal/domain/model"
	"github.com/okian/tabulator/internal/domain/ranking"
	"github.com/okian/tabulator/internal/domain/types"
	"github.com/okian/tabulator/pkg/logger"
	"github.com/okian/tabulator/pkg/metrics"
)

// ResetKeyword must be sent to confirm a system reset.
const ResetKeyword = "RESET_ALL"

// Service implements the API dependencies for the tabulator.
type Service struct {
	store    repository.Store
	gate     *gate.Gate
	marker   gate.Marker
	notifier notify.Notifier

	topN    int
	started time.Time

	logger logger.Logger
}

// New wires a service over store. The store is owned by the caller.
func New(store repository.Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		notifier: notify.Noop{},
		topN:     config.New().TopN,
		started:  time.Now(),
		logger:   logger.Named("service"),
	}
	for _, opt := range opts {
		opt(s)
	}

	gateOpts := []gate.Option{gate.WithNotifier(s.notifier), gate.WithLogger(s.logger.Named("gate"))}
	if s.marker != nil {
		gateOpts = append(gateOpts, gate.WithMarker(s.marker))
	}
	s.gate = gate.New(store, gateOpts...)
	return s
}

// Seed fills an empty store from seed. A store that already has bands or
// users is left untouched. It reports whether anything was written.
func (s *Service) Seed(ctx context.Context, seed *config.Seed) (bool, error) {
	const op = "service.Seed"

	if seed == nil {
		return false, nil
	}
	users, err := s.store.Users(ctx)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	bands, err := s.bandCount(ctx)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if len(users) > 0 || bands > 0 {
		s.logger.Info(ctx, "store already populated, skipping seed",
			logger.Int("users", len(users)), logger.Int("bands", bands))
		return false, nil
	}

	for _, c := range seed.Criteria {
		if _, err := s.store.CreateCriterion(ctx, model.Criterion{
			RoundID: c.Round, Name: c.Name, Weight: c.Weight, DisplayOrder: c.DisplayOrder,
		}); err != nil {
			return false, fmt.Errorf("%s: criterion %q: %w", op, c.Name, err)
		}
	}
	for _, b := range seed.Bands {
		if _, err := s.store.CreateBand(ctx, model.Band{
			RoundID: b.Round, Name: b.Name, PerformanceOrder: b.PerformanceOrder,
		}); err != nil {
			return false, fmt.Errorf("%s: band %q: %w", op, b.Name, err)
		}
	}
	for _, u := range seed.Users {
		if _, err := s.store.CreateUser(ctx, u.Name, model.Role(u.Role)); err != nil {
			return false, fmt.Errorf("%s: user %q: %w", op, u.Name, err)
		}
	}

	s.logger.Info(ctx, "store seeded",
		logger.Int("criteria", len(seed.Criteria)),
		logger.Int("bands", len(seed.Bands)),
		logger.Int("users", len(seed.Users)))
	return true, nil
}

func (s *Service) bandCount(ctx context.Context) (int, error) {
	rounds, err := s.store.Rounds(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range rounds {
		bands, err := s.store.Bands(ctx, r.ID)
		if err != nil {
			return 0, err
		}
		n += len(bands)
	}
	return n, nil
}

// ActivateBand switches the active band through the gate.
func (s *Service) ActivateBand(ctx context.Context, bandID int64) (model.Band, error) {
	return s.gate.Activate(ctx, bandID)
}

// DeactivateBand clears the active band.
func (s *Service) DeactivateBand(ctx context.Context) error {
	return s.gate.Deactivate(ctx)
}

// ActiveBand returns the active band or nil.
func (s *Service) ActiveBand(ctx context.Context) (*model.Band, error) {
	b, ok, err := s.gate.Active(ctx)
	if err != nil || !ok {
		return nil, err
	}
	return &b, nil
}

// JudgeSnapshot is what judgeID sees on the scoring form right now.
func (s *Service) JudgeSnapshot(ctx context.Context, judgeID int64) (types.JudgeSnapshot, error) {
	const op = "service.JudgeSnapshot"

	if judgeID <= 0 {
		return types.JudgeSnapshot{}, model.WrapKind(op, model.ErrValidation, errMissingJudge)
	}
	snap := types.JudgeSnapshot{Criteria: []model.Criterion{}}

	band, err := s.ActiveBand(ctx)
	if err != nil {
		return types.JudgeSnapshot{}, fmt.Errorf("%s: %w", op, err)
	}
	if band == nil {
		return snap, nil
	}
	snap.Band = band

	if snap.Criteria, err = s.store.Criteria(ctx, band.RoundID); err != nil {
		return types.JudgeSnapshot{}, fmt.Errorf("%s: %w", op, err)
	}
	if snap.IsFinalized, err = s.store.IsFinalized(ctx, judgeID, band.ID); err != nil {
		return types.JudgeSnapshot{}, fmt.Errorf("%s: %w", op, err)
	}
	if !snap.IsFinalized {
		return snap, nil
	}

	if snap.Scores, err = s.store.JudgeScores(ctx, judgeID, band.ID); err != nil {
		return types.JudgeSnapshot{}, fmt.Errorf("%s: %w", op, err)
	}
	total, err := s.store.WeightedTotal(ctx, judgeID, band.ID)
	if err != nil {
		return types.JudgeSnapshot{}, fmt.Errorf("%s: %w", op, err)
	}
	snap.WeightedTotal = &total
	return snap, nil
}

// SubmitScores finalizes a judge's batch for the active band and tells the
// admins about it.
func (s *Service) SubmitScores(ctx context.Context, judgeID, bandID int64, entries []model.ScoreEntry) error {
	const op = "service.SubmitScores"

	if judgeID <= 0 {
		return model.WrapKind(op, model.ErrValidation, errMissingJudge)
	}
	if bandID <= 0 {
		return model.WrapKind(op, model.ErrValidation, errMissingBand)
	}

	err := s.store.SubmitScores(ctx, judgeID, bandID, entries)
	metrics.RecordScoreSubmission(submissionOutcome(err))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.logger.Info(ctx, "scores submitted",
		logger.Int64("judge_id", judgeID),
		logger.Int64("band_id", bandID),
		logger.Int("entries", len(entries)))
	s.notifier.Notify(ctx, model.ScoresSubmitted{BandID: bandID, JudgeID: judgeID})
	s.refreshPendingGauge(ctx)
	return nil
}

// JudgeHistory lists judgeID's finalized scores grouped per band.
func (s *Service) JudgeHistory(ctx context.Context, judgeID int64) ([]model.BandScores, error) {
	const op = "service.JudgeHistory"

	if judgeID <= 0 {
		return nil, model.WrapKind(op, model.ErrValidation, errMissingJudge)
	}
	history, err := s.store.JudgeHistory(ctx, judgeID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if history == nil {
		history = []model.BandScores{}
	}
	return history, nil
}

// PendingJudges reports who still owes scores for the active band. Without
// an active band nobody is pending.
func (s *Service) PendingJudges(ctx context.Context) (types.PendingSnapshot, error) {
	const op = "service.PendingJudges"

	judges, err := s.store.Judges(ctx)
	if err != nil {
		return types.PendingSnapshot{}, fmt.Errorf("%s: %w", op, err)
	}
	snap := types.PendingSnapshot{
		PendingJudges: []model.User{},
		TotalJudges:   len(judges),
		AllSubmitted:  true,
	}

	band, err := s.ActiveBand(ctx)
	if err != nil {
		return types.PendingSnapshot{}, fmt.Errorf("%s: %w", op, err)
	}
	if band == nil {
		return snap, nil
	}
	snap.ActiveBand = band

	pending, err := s.store.PendingJudges(ctx, band.ID)
	if err != nil {
		return types.PendingSnapshot{}, fmt.Errorf("%s: %w", op, err)
	}
	if pending != nil {
		snap.PendingJudges = pending
	}
	snap.SubmittedCount = snap.TotalJudges - len(snap.PendingJudges)
	snap.AllSubmitted = len(snap.PendingJudges) == 0
	metrics.UpdatePendingJudges(len(snap.PendingJudges))
	return snap, nil
}

// Rankings computes the leaderboard of roundID. top <= 0 uses the
// configured default cut.
func (s *Service) Rankings(ctx context.Context, roundID int64, top int) (types.Leaderboard, error) {
	const op = "service.Rankings"
	start := time.Now()

	if _, err := s.store.Round(ctx, roundID); err != nil {
		return types.Leaderboard{}, fmt.Errorf("%s: %w", op, err)
	}
	bands, err := s.store.Bands(ctx, roundID)
	if err != nil {
		return types.Leaderboard{}, fmt.Errorf("%s: %w", op, err)
	}
	users, err := s.store.Users(ctx)
	if err != nil {
		return types.Leaderboard{}, fmt.Errorf("%s: %w", op, err)
	}
	scores, err := s.store.FinalizedScores(ctx, roundID)
	if err != nil {
		return types.Leaderboard{}, fmt.Errorf("%s: %w", op, err)
	}

	if top <= 0 {
		top = s.topN
	}
	lb := ranking.Compute(roundID, bands, users, scores)
	lb.Top = ranking.TopN(lb.Rankings, top)

	metrics.RecordRankingLatency(float64(time.Since(start).Microseconds()) / 1000)
	return lb, nil
}

// UpdateScore overwrites one score as an administrator.
func (s *Service) UpdateScore(ctx context.Context, judgeID, bandID, criterionID int64, value float64) error {
	const op = "service.UpdateScore"

	if err := s.store.UpdateScore(ctx, judgeID, bandID, criterionID, value); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	metrics.RecordAdminCorrection("update")
	s.logger.Info(ctx, "score corrected",
		logger.Int64("judge_id", judgeID),
		logger.Int64("band_id", bandID),
		logger.Int64("criteria_id", criterionID),
		logger.Float64("score", value))
	s.notifier.Notify(ctx, model.AdminUpdate{Type: model.AdminUpdateScoresUpdated, BandID: bandID, JudgeID: judgeID})
	return nil
}

// DeleteScores removes a judge's batch for a band so it can be scored again.
func (s *Service) DeleteScores(ctx context.Context, judgeID, bandID int64) (int64, error) {
	const op = "service.DeleteScores"

	if judgeID <= 0 {
		return 0, model.WrapKind(op, model.ErrValidation, errMissingJudge)
	}
	if bandID <= 0 {
		return 0, model.WrapKind(op, model.ErrValidation, errMissingBand)
	}
	n, err := s.store.DeleteJudgeBandScores(ctx, judgeID, bandID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("%s: %w", op, model.ErrScoreNotFound)
	}
	metrics.RecordAdminCorrection("delete")
	s.logger.Info(ctx, "scores deleted",
		logger.Int64("judge_id", judgeID),
		logger.Int64("band_id", bandID),
		logger.Int64("rows", n))
	s.notifier.Notify(ctx, model.AdminUpdate{Type: model.AdminUpdateScoresDeleted, BandID: bandID, JudgeID: judgeID})
	s.refreshPendingGauge(ctx)
	return n, nil
}

// Reset wipes scores, bands and judges. confirm must equal ResetKeyword.
func (s *Service) Reset(ctx context.Context, confirm string) error {
	const op = "service.Reset"

	if strings.TrimSpace(confirm) != ResetKeyword {
		return fmt.Errorf("%s: %w", op, ErrResetNotConfirmed)
	}
	if err := s.store.Reset(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	// Bands are gone, so the gate only marks the change and tells judges.
	if err := s.gate.Deactivate(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	metrics.RecordAdminCorrection("reset")
	metrics.UpdatePendingJudges(0)
	s.logger.Warn(ctx, "system reset")
	s.notifier.Notify(ctx, model.AdminUpdate{Type: model.AdminUpdateReset})
	return nil
}

func (s *Service) refreshPendingGauge(ctx context.Context) {
	if _, err := s.PendingJudges(ctx); err != nil {
		s.logger.Debug(ctx, "pending gauge refresh failed", logger.Error(err))
	}
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]interface{} {
	stats := map[string]interface{}{
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"goroutines":     runtime.NumGoroutine(),
		"top_n":          s.topN,
	}
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if n, err := s.bandCount(ctx); err == nil {
		stats["bands"] = n
	}
	if pending, err := s.PendingJudges(ctx); err == nil {
		stats["judges"] = pending.TotalJudges
		stats["pending_judges"] = len(pending.PendingJudges)
		if pending.ActiveBand != nil {
			stats["active_band_id"] = pending.ActiveBand.ID
		} else {
			stats["active_band_id"] = nil
		}
	} else {
		s.logger.Warn(ctx, "stats unavailable", logger.Error(err))
	}
	return stats
}

func submissionOutcome(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, model.ErrNotActive):
		return "not_active"
	case errors.Is(err, model.ErrAlreadyFinalized):
		return "already_finalized"
	case errors.Is(err, model.ErrValidation):
		return "invalid"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
