package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/okian/tabulator/internal/domain/model"
	"github.com/okian/tabulator/internal/domain/scoring"
	"github.com/okian/tabulator/pkg/logger"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

// Connection pragmas. _txlock=immediate makes every transaction take the
// write lock up front so check-then-write sequences serialize.
const sqlitePragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"

const bandColumns = `b.id, b.name, b.round_id, r.name, b.performance_order, b.is_active`

const bandFrom = ` FROM bands b JOIN rounds r ON r.id = b.round_id`

// SQLiteStore implements Store on an embedded SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger logger.Logger
	now    func() time.Time
}

// NewSQLiteStore opens (or creates) the database at dsn and applies migrations.
// dsn is a file path or a file: URI; connection pragmas are appended.
func NewSQLiteStore(ctx context.Context, dsn string, opts ...Option) (*SQLiteStore, error) {
	const op = "repository.NewSQLiteStore"
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", dsn+sep+sqlitePragmas)
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", op, err)
	}
	// A single connection serializes writers and keeps in-memory databases shared.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}
	if err := applyMigrations(ctx, db, sqliteMigrations, "migrations/sqlite"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	o.logger.Info(ctx, "sqlite store ready", logger.String("dsn", dsn))
	return &SQLiteStore{db: db, logger: o.logger, now: o.now}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction and rolls back on any error.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanBand(r rowScanner) (model.Band, error) {
	var b model.Band
	err := r.Scan(&b.ID, &b.Name, &b.RoundID, &b.RoundName, &b.PerformanceOrder, &b.Active)
	return b, err
}

func scanUsers(rows *sql.Rows) ([]model.User, error) {
	defer rows.Close()
	out := []model.User{}
	for rows.Next() {
		var u model.User
		var role string
		if err := rows.Scan(&u.ID, &u.Name, &role); err != nil {
			return nil, err
		}
		u.Role = model.Role(role)
		out = append(out, u)
	}
	return out, rows.Err()
}

func scanScores(rows *sql.Rows) ([]model.Score, error) {
	defer rows.Close()
	out := []model.Score{}
	for rows.Next() {
		var sc model.Score
		var updated int64
		if err := rows.Scan(&sc.JudgeID, &sc.BandID, &sc.CriterionID, &sc.Value, &sc.Finalized, &updated); err != nil {
			return nil, err
		}
		sc.UpdatedAt = time.UnixMilli(updated).UTC()
		out = append(out, sc)
	}
	return out, rows.Err()
}

// CreateUser inserts a judge or an admin.
func (s *SQLiteStore) CreateUser(ctx context.Context, name string, role model.Role) (model.User, error) {
	const op = "repository.CreateUser"
	defer observe("create_user")()
	if !role.Valid() {
		return model.User{}, fmt.Errorf("%s: %w: %q", op, ErrInvalidRole, role)
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO users (name, role) VALUES (?, ?)`, name, string(role))
	if err != nil {
		return model.User{}, fmt.Errorf("%s: %w", op, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.User{}, fmt.Errorf("%s: %w", op, err)
	}
	return model.User{ID: id, Name: name, Role: role}, nil
}

// CreateBand inserts an inactive band.
func (s *SQLiteStore) CreateBand(ctx context.Context, b model.Band) (model.Band, error) {
	const op = "repository.CreateBand"
	defer observe("create_band")()
	round, err := s.Round(ctx, b.RoundID)
	if err != nil {
		return model.Band{}, fmt.Errorf("%s: %w", op, err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO bands (name, round_id, performance_order, is_active) VALUES (?, ?, ?, 0)`,
		b.Name, b.RoundID, b.PerformanceOrder)
	if err != nil {
		return model.Band{}, fmt.Errorf("%s: %w", op, err)
	}
	if b.ID, err = res.LastInsertId(); err != nil {
		return model.Band{}, fmt.Errorf("%s: %w", op, err)
	}
	b.RoundName = round.Name
	b.Active = false
	return b, nil
}

// CreateCriterion inserts a criterion for a round.
func (s *SQLiteStore) CreateCriterion(ctx context.Context, c model.Criterion) (model.Criterion, error) {
	const op = "repository.CreateCriterion"
	defer observe("create_criterion")()
	if c.Weight <= 0 {
		return model.Criterion{}, fmt.Errorf("%s: %w: weight must be positive", op, model.ErrValidation)
	}
	if _, err := s.Round(ctx, c.RoundID); err != nil {
		return model.Criterion{}, fmt.Errorf("%s: %w", op, err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO criteria (round_id, name, weight, display_order) VALUES (?, ?, ?, ?)`,
		c.RoundID, c.Name, c.Weight, c.DisplayOrder)
	if err != nil {
		return model.Criterion{}, fmt.Errorf("%s: %w", op, err)
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return model.Criterion{}, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

// Rounds lists the fixed rounds in order.
func (s *SQLiteStore) Rounds(ctx context.Context) ([]model.Round, error) {
	const op = "repository.Rounds"
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, position FROM rounds ORDER BY position, id`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()
	out := []model.Round{}
	for rows.Next() {
		var r model.Round
		if err := rows.Scan(&r.ID, &r.Name, &r.Position); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// Round returns one round or ErrRoundNotFound.
func (s *SQLiteStore) Round(ctx context.Context, id int64) (model.Round, error) {
	var r model.Round
	err := s.db.QueryRowContext(ctx, `SELECT id, name, position FROM rounds WHERE id = ?`, id).
		Scan(&r.ID, &r.Name, &r.Position)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Round{}, model.ErrRoundNotFound
	}
	if err != nil {
		return model.Round{}, fmt.Errorf("repository.Round: %w", err)
	}
	return r, nil
}

// Band returns one band or ErrBandNotFound.
func (s *SQLiteStore) Band(ctx context.Context, id int64) (model.Band, error) {
	defer observe("band")()
	return bandByID(ctx, s.db, id)
}

func bandByID(ctx context.Context, q queryer, id int64) (model.Band, error) {
	b, err := scanBand(q.QueryRowContext(ctx, `SELECT `+bandColumns+bandFrom+` WHERE b.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Band{}, model.ErrBandNotFound
	}
	if err != nil {
		return model.Band{}, fmt.Errorf("repository.Band: %w", err)
	}
	return b, nil
}

// Bands lists the bands of a round, or of every round when roundID is 0.
func (s *SQLiteStore) Bands(ctx context.Context, roundID int64) ([]model.Band, error) {
	const op = "repository.Bands"
	defer observe("bands")()
	query := `SELECT ` + bandColumns + bandFrom
	var args []any
	if roundID != 0 {
		query += ` WHERE b.round_id = ?`
		args = append(args, roundID)
	}
	query += ` ORDER BY r.position, b.performance_order, b.id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()
	out := []model.Band{}
	for rows.Next() {
		b, err := scanBand(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// Criteria lists the criteria of a round in display order.
func (s *SQLiteStore) Criteria(ctx context.Context, roundID int64) ([]model.Criterion, error) {
	defer observe("criteria")()
	return criteriaForRound(ctx, s.db, roundID)
}

func criteriaForRound(ctx context.Context, q queryer, roundID int64) ([]model.Criterion, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, round_id, name, weight, display_order FROM criteria WHERE round_id = ? ORDER BY display_order, id`,
		roundID)
	if err != nil {
		return nil, fmt.Errorf("repository.Criteria: %w", err)
	}
	defer rows.Close()
	out := []model.Criterion{}
	for rows.Next() {
		var c model.Criterion
		if err := rows.Scan(&c.ID, &c.RoundID, &c.Name, &c.Weight, &c.DisplayOrder); err != nil {
			return nil, fmt.Errorf("repository.Criteria: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository.Criteria: %w", err)
	}
	return out, nil
}

// Users lists every user by name.
func (s *SQLiteStore) Users(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, role FROM users ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("repository.Users: %w", err)
	}
	users, err := scanUsers(rows)
	if err != nil {
		return nil, fmt.Errorf("repository.Users: %w", err)
	}
	return users, nil
}

// Judges lists users with the judge role by name.
func (s *SQLiteStore) Judges(ctx context.Context) ([]model.User, error) {
	defer observe("judges")()
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, role FROM users WHERE role = 'judge' ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("repository.Judges: %w", err)
	}
	users, err := scanUsers(rows)
	if err != nil {
		return nil, fmt.Errorf("repository.Judges: %w", err)
	}
	return users, nil
}

// ActiveBand returns the active band joined with its round name.
func (s *SQLiteStore) ActiveBand(ctx context.Context) (model.Band, bool, error) {
	defer observe("active_band")()
	b, err := scanBand(s.db.QueryRowContext(ctx, `SELECT `+bandColumns+bandFrom+` WHERE b.is_active = 1 LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Band{}, false, nil
	}
	if err != nil {
		return model.Band{}, false, fmt.Errorf("repository.ActiveBand: %w", err)
	}
	return b, true, nil
}

// ActivateBand clears every active flag and sets bandID in one transaction.
func (s *SQLiteStore) ActivateBand(ctx context.Context, bandID int64) (model.Band, error) {
	const op = "repository.ActivateBand"
	defer observe("activate_band")()
	var band model.Band
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		b, err := bandByID(ctx, tx, bandID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE bands SET is_active = 0 WHERE is_active = 1`); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE bands SET is_active = 1 WHERE id = ?`, bandID); err != nil {
			return err
		}
		b.Active = true
		band = b
		return nil
	})
	if err != nil {
		return model.Band{}, fmt.Errorf("%s: %w", op, err)
	}
	return band, nil
}

// DeactivateAll clears every active flag.
func (s *SQLiteStore) DeactivateAll(ctx context.Context) error {
	defer observe("deactivate_all")()
	if _, err := s.db.ExecContext(ctx, `UPDATE bands SET is_active = 0 WHERE is_active = 1`); err != nil {
		return fmt.Errorf("repository.DeactivateAll: %w", err)
	}
	return nil
}

// SubmitScores validates and finalizes a batch in one transaction.
func (s *SQLiteStore) SubmitScores(ctx context.Context, judgeID, bandID int64, entries []model.ScoreEntry) error {
	const op = "repository.SubmitScores"
	defer observe("submit_scores")()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		band, err := bandByID(ctx, tx, bandID)
		if err != nil {
			return err
		}
		if !band.Active {
			return model.ErrNotActive
		}
		var isJudge int
		err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE id = ? AND role = 'judge'`, judgeID).Scan(&isJudge)
		if err != nil {
			return err
		}
		if isJudge == 0 {
			return model.ErrUserNotFound
		}
		var finalized int
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM scores WHERE judge_id = ? AND band_id = ? AND is_finalized = 1`,
			judgeID, bandID).Scan(&finalized)
		if err != nil {
			return err
		}
		if finalized > 0 {
			return model.ErrAlreadyFinalized
		}
		criteria, err := criteriaForRound(ctx, tx, band.RoundID)
		if err != nil {
			return err
		}
		if err := scoring.NewValidator(criteria).ValidateBatch(entries); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO scores (judge_id, band_id, criteria_id, score, is_finalized, updated_at)
VALUES (?, ?, ?, ?, 1, ?)
ON CONFLICT (judge_id, band_id, criteria_id) DO UPDATE SET
    score = excluded.score,
    is_finalized = 1,
    updated_at = excluded.updated_at`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		now := s.now().UTC().UnixMilli()
		for _, e := range entries {
			if _, err := stmt.ExecContext(ctx, judgeID, bandID, e.CriterionID, e.Value, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// IsFinalized reports whether judgeID has a finalized score for bandID.
func (s *SQLiteStore) IsFinalized(ctx context.Context, judgeID, bandID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scores WHERE judge_id = ? AND band_id = ? AND is_finalized = 1`,
		judgeID, bandID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("repository.IsFinalized: %w", err)
	}
	return n > 0, nil
}

// WeightedTotal sums a judge's scores for a band.
func (s *SQLiteStore) WeightedTotal(ctx context.Context, judgeID, bandID int64) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(score), 0) FROM scores WHERE judge_id = ? AND band_id = ?`,
		judgeID, bandID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("repository.WeightedTotal: %w", err)
	}
	return total, nil
}

// JudgeScores returns a judge's scores for a band in criterion display order.
func (s *SQLiteStore) JudgeScores(ctx context.Context, judgeID, bandID int64) ([]model.Score, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT s.judge_id, s.band_id, s.criteria_id, s.score, s.is_finalized, s.updated_at
FROM scores s JOIN criteria c ON c.id = s.criteria_id
WHERE s.judge_id = ? AND s.band_id = ?
ORDER BY c.display_order, c.id`, judgeID, bandID)
	if err != nil {
		return nil, fmt.Errorf("repository.JudgeScores: %w", err)
	}
	scores, err := scanScores(rows)
	if err != nil {
		return nil, fmt.Errorf("repository.JudgeScores: %w", err)
	}
	return scores, nil
}

// PendingJudges lists judges without a finalized score for bandID.
func (s *SQLiteStore) PendingJudges(ctx context.Context, bandID int64) ([]model.User, error) {
	defer observe("pending_judges")()
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, role FROM users
WHERE role = 'judge' AND id NOT IN (
    SELECT DISTINCT judge_id FROM scores WHERE band_id = ? AND is_finalized = 1
)
ORDER BY name, id`, bandID)
	if err != nil {
		return nil, fmt.Errorf("repository.PendingJudges: %w", err)
	}
	users, err := scanUsers(rows)
	if err != nil {
		return nil, fmt.Errorf("repository.PendingJudges: %w", err)
	}
	return users, nil
}

// FinalizedScores returns every finalized score of a round.
func (s *SQLiteStore) FinalizedScores(ctx context.Context, roundID int64) ([]model.Score, error) {
	defer observe("finalized_scores")()
	rows, err := s.db.QueryContext(ctx, `SELECT s.judge_id, s.band_id, s.criteria_id, s.score, s.is_finalized, s.updated_at
FROM scores s JOIN bands b ON b.id = s.band_id
WHERE b.round_id = ? AND s.is_finalized = 1`, roundID)
	if err != nil {
		return nil, fmt.Errorf("repository.FinalizedScores: %w", err)
	}
	scores, err := scanScores(rows)
	if err != nil {
		return nil, fmt.Errorf("repository.FinalizedScores: %w", err)
	}
	return scores, nil
}

// JudgeHistory groups a judge's finalized scores by band.
func (s *SQLiteStore) JudgeHistory(ctx context.Context, judgeID int64) ([]model.BandScores, error) {
	const op = "repository.JudgeHistory"
	rows, err := s.db.QueryContext(ctx, `SELECT `+bandColumns+`,
    s.judge_id, s.band_id, s.criteria_id, s.score, s.is_finalized, s.updated_at`+bandFrom+`
JOIN scores s ON s.band_id = b.id
JOIN criteria c ON c.id = s.criteria_id
WHERE s.judge_id = ? AND s.is_finalized = 1
ORDER BY r.position, b.performance_order, b.id, c.display_order, c.id`, judgeID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := []model.BandScores{}
	for rows.Next() {
		var (
			b       model.Band
			sc      model.Score
			updated int64
		)
		if err := rows.Scan(&b.ID, &b.Name, &b.RoundID, &b.RoundName, &b.PerformanceOrder, &b.Active,
			&sc.JudgeID, &sc.BandID, &sc.CriterionID, &sc.Value, &sc.Finalized, &updated); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		sc.UpdatedAt = time.UnixMilli(updated).UTC()
		if n := len(out); n == 0 || out[n-1].Band.ID != b.ID {
			out = append(out, model.BandScores{Band: b})
		}
		last := &out[len(out)-1]
		last.Scores = append(last.Scores, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	for i := range out {
		out[i].Total = scoring.Total(out[i].Scores)
	}
	return out, nil
}

// UpdateScore overwrites one existing score after validating it against the
// criterion's current weight.
func (s *SQLiteStore) UpdateScore(ctx context.Context, judgeID, bandID, criterionID int64, value float64) error {
	const op = "repository.UpdateScore"
	defer observe("update_score")()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var c model.Criterion
		err := tx.QueryRowContext(ctx, `SELECT id, round_id, name, weight, display_order FROM criteria WHERE id = ?`, criterionID).
			Scan(&c.ID, &c.RoundID, &c.Name, &c.Weight, &c.DisplayOrder)
		if errors.Is(err, sql.ErrNoRows) {
			return model.ErrCriterionNotFound
		}
		if err != nil {
			return err
		}
		if err := scoring.ValidateValue(c, value); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE scores SET score = ?, updated_at = ? WHERE judge_id = ? AND band_id = ? AND criteria_id = ?`,
			value, s.now().UTC().UnixMilli(), judgeID, bandID, criterionID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return model.ErrScoreNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// DeleteJudgeBandScores removes a judge's batch for a band.
func (s *SQLiteStore) DeleteJudgeBandScores(ctx context.Context, judgeID, bandID int64) (int64, error) {
	defer observe("delete_scores")()
	res, err := s.db.ExecContext(ctx, `DELETE FROM scores WHERE judge_id = ? AND band_id = ?`, judgeID, bandID)
	if err != nil {
		return 0, fmt.Errorf("repository.DeleteJudgeBandScores: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("repository.DeleteJudgeBandScores: %w", err)
	}
	return n, nil
}

// Reset removes scores, bands and judges.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM scores`,
			`DELETE FROM bands`,
			`DELETE FROM users WHERE role = 'judge'`,
		} {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("repository.Reset: %w", err)
	}
	s.logger.Warn(ctx, "store reset")
	return nil
}
