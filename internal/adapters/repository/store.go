// Package repository persists bands, criteria, judges and scores and owns
// the single-active-band and finalize-once invariants.
package repository

import (
	"context"
	"fmt"

	"github.com/okian/tabulator/internal/domain/model"
)

// Store provides transactional access to the competition state.
//
// Every method that mutates more than one row runs in a single transaction:
// either all rows change or none do.
type Store interface {
	// Registry writes, used by seeding and administration collaborators.
	CreateUser(ctx context.Context, name string, role model.Role) (model.User, error)
	CreateBand(ctx context.Context, b model.Band) (model.Band, error)
	CreateCriterion(ctx context.Context, c model.Criterion) (model.Criterion, error)

	// Registry reads. Bands are ordered by round then performance order.
	Rounds(ctx context.Context) ([]model.Round, error)
	Round(ctx context.Context, id int64) (model.Round, error)
	Band(ctx context.Context, id int64) (model.Band, error)
	Bands(ctx context.Context, roundID int64) ([]model.Band, error)
	Criteria(ctx context.Context, roundID int64) ([]model.Criterion, error)
	Users(ctx context.Context) ([]model.User, error)
	Judges(ctx context.Context) ([]model.User, error)

	// ActiveBand returns the active band, if any.
	ActiveBand(ctx context.Context) (model.Band, bool, error)
	// ActivateBand clears every active flag and sets bandID active atomically.
	ActivateBand(ctx context.Context, bandID int64) (model.Band, error)
	// DeactivateAll clears every active flag.
	DeactivateAll(ctx context.Context) error

	// SubmitScores finalizes a judge's batch for the active band exactly once.
	SubmitScores(ctx context.Context, judgeID, bandID int64, entries []model.ScoreEntry) error
	IsFinalized(ctx context.Context, judgeID, bandID int64) (bool, error)
	WeightedTotal(ctx context.Context, judgeID, bandID int64) (float64, error)
	JudgeScores(ctx context.Context, judgeID, bandID int64) ([]model.Score, error)
	// PendingJudges lists judges without a finalized score for bandID, by name.
	PendingJudges(ctx context.Context, bandID int64) ([]model.User, error)
	FinalizedScores(ctx context.Context, roundID int64) ([]model.Score, error)
	JudgeHistory(ctx context.Context, judgeID int64) ([]model.BandScores, error)

	// Admin corrections. They bypass finalize-once.
	UpdateScore(ctx context.Context, judgeID, bandID, criterionID int64, value float64) error
	DeleteJudgeBandScores(ctx context.Context, judgeID, bandID int64) (int64, error)
	// Reset removes scores, bands and judges. Rounds, criteria and admins stay.
	Reset(ctx context.Context) error

	Close() error
}

// Drivers accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open returns the Store for driver.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (Store, error) {
	switch driver {
	case DriverSQLite:
		return NewSQLiteStore(ctx, dsn, opts...)
	case DriverPostgres:
		return NewPostgresStore(ctx, dsn, opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}
