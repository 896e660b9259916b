package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/okian/tabulator/internal/domain/model"
	"github.com/okian/tabulator/internal/domain/scoring"
	"github.com/okian/tabulator/pkg/logger"
)

// activationLockKey is the advisory lock taken by every activation.
const activationLockKey = 0x626f7462

type roundRow struct {
	ID       int64  `gorm:"primaryKey;autoIncrement:false"`
	Name     string `gorm:"not null"`
	Position int    `gorm:"not null"`
}

func (roundRow) TableName() string { return "rounds" }

type userRow struct {
	ID   int64  `gorm:"primaryKey"`
	Name string `gorm:"not null"`
	Role string `gorm:"not null;index"`
}

func (userRow) TableName() string { return "users" }

type bandRow struct {
	ID               int64  `gorm:"primaryKey"`
	Name             string `gorm:"not null"`
	RoundID          int64  `gorm:"not null;index"`
	PerformanceOrder int    `gorm:"not null"`
	IsActive         bool   `gorm:"not null;default:false"`
}

func (bandRow) TableName() string { return "bands" }

type criterionRow struct {
	ID           int64   `gorm:"primaryKey"`
	RoundID      int64   `gorm:"not null;index"`
	Name         string  `gorm:"not null"`
	Weight       float64 `gorm:"not null"`
	DisplayOrder int     `gorm:"not null;default:0"`
}

func (criterionRow) TableName() string { return "criteria" }

type scoreRow struct {
	ID          int64     `gorm:"primaryKey"`
	JudgeID     int64     `gorm:"not null;uniqueIndex:idx_scores_judge_band_criteria"`
	BandID      int64     `gorm:"not null;uniqueIndex:idx_scores_judge_band_criteria;index:idx_scores_band"`
	CriteriaID  int64     `gorm:"not null;uniqueIndex:idx_scores_judge_band_criteria"`
	Score       float64   `gorm:"not null"`
	IsFinalized bool      `gorm:"not null;default:false"`
	UpdatedAt   time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (scoreRow) TableName() string { return "scores" }

// bandView is a band joined with its round name.
type bandView struct {
	ID               int64
	Name             string
	RoundID          int64
	RoundName        string
	PerformanceOrder int
	IsActive         bool
}

func (v bandView) model() model.Band {
	return model.Band{
		ID:               v.ID,
		Name:             v.Name,
		RoundID:          v.RoundID,
		RoundName:        v.RoundName,
		PerformanceOrder: v.PerformanceOrder,
		Active:           v.IsActive,
	}
}

func (r userRow) model() model.User {
	return model.User{ID: r.ID, Name: r.Name, Role: model.Role(r.Role)}
}

func (r criterionRow) model() model.Criterion {
	return model.Criterion{ID: r.ID, RoundID: r.RoundID, Name: r.Name, Weight: r.Weight, DisplayOrder: r.DisplayOrder}
}

func (r scoreRow) model() model.Score {
	return model.Score{
		JudgeID:     r.JudgeID,
		BandID:      r.BandID,
		CriterionID: r.CriteriaID,
		Value:       r.Score,
		Finalized:   r.IsFinalized,
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

// PostgresStore implements Store on PostgreSQL through gorm.
type PostgresStore struct {
	db     *gorm.DB
	logger logger.Logger
	now    func() time.Time
}

// NewPostgresStore connects to dsn, migrates the schema and seeds the rounds.
func NewPostgresStore(ctx context.Context, dsn string, opts ...Option) (*PostgresStore, error) {
	const op = "repository.NewPostgresStore"
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", op, err)
	}
	s := &PostgresStore{db: db, logger: o.logger, now: o.now}
	if err := s.migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("%s: %w: %w", op, ErrMigrate, err)
	}

	o.logger.Info(ctx, "postgres store ready")
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(&roundRow{}, &userRow{}, &bandRow{}, &criterionRow{}, &scoreRow{}); err != nil {
		return err
	}
	if err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_bands_single_active ON bands (is_active) WHERE is_active`).Error; err != nil {
		return err
	}
	rounds := []roundRow{{ID: 1, Name: "Round 1", Position: 1}, {ID: 2, Name: "Round 2", Position: 2}}
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rounds).Error
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func bandQuery(db *gorm.DB) *gorm.DB {
	return db.Table("bands AS b").
		Select("b.id, b.name, b.round_id, r.name AS round_name, b.performance_order, b.is_active").
		Joins("JOIN rounds AS r ON r.id = b.round_id")
}

func (s *PostgresStore) CreateUser(ctx context.Context, name string, role model.Role) (model.User, error) {
	const op = "repository.CreateUser"
	defer observe("create_user")()
	if !role.Valid() {
		return model.User{}, fmt.Errorf("%s: %w: %q", op, ErrInvalidRole, role)
	}
	row := userRow{Name: name, Role: string(role)}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return model.User{}, fmt.Errorf("%s: %w", op, err)
	}
	return row.model(), nil
}

func (s *PostgresStore) CreateBand(ctx context.Context, b model.Band) (model.Band, error) {
	const op = "repository.CreateBand"
	defer observe("create_band")()
	round, err := s.Round(ctx, b.RoundID)
	if err != nil {
		return model.Band{}, fmt.Errorf("%s: %w", op, err)
	}
	row := bandRow{Name: b.Name, RoundID: b.RoundID, PerformanceOrder: b.PerformanceOrder}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return model.Band{}, fmt.Errorf("%s: %w", op, err)
	}
	return bandView{ID: row.ID, Name: row.Name, RoundID: row.RoundID, RoundName: round.Name, PerformanceOrder: row.PerformanceOrder}.model(), nil
}

func (s *PostgresStore) CreateCriterion(ctx context.Context, c model.Criterion) (model.Criterion, error) {
	const op = "repository.CreateCriterion"
	defer observe("create_criterion")()
	if c.Weight <= 0 {
		return model.Criterion{}, fmt.Errorf("%s: %w: weight must be positive", op, model.ErrValidation)
	}
	if _, err := s.Round(ctx, c.RoundID); err != nil {
		return model.Criterion{}, fmt.Errorf("%s: %w", op, err)
	}
	row := criterionRow{RoundID: c.RoundID, Name: c.Name, Weight: c.Weight, DisplayOrder: c.DisplayOrder}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return model.Criterion{}, fmt.Errorf("%s: %w", op, err)
	}
	return row.model(), nil
}

func (s *PostgresStore) Rounds(ctx context.Context) ([]model.Round, error) {
	var rows []roundRow
	if err := s.db.WithContext(ctx).Order("position, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("repository.Rounds: %w", err)
	}
	out := make([]model.Round, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Round{ID: r.ID, Name: r.Name, Position: r.Position})
	}
	return out, nil
}

func (s *PostgresStore) Round(ctx context.Context, id int64) (model.Round, error) {
	var r roundRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Round{}, model.ErrRoundNotFound
	}
	if err != nil {
		return model.Round{}, fmt.Errorf("repository.Round: %w", err)
	}
	return model.Round{ID: r.ID, Name: r.Name, Position: r.Position}, nil
}

func (s *PostgresStore) Band(ctx context.Context, id int64) (model.Band, error) {
	defer observe("band")()
	return pgBandByID(s.db.WithContext(ctx), id)
}

func pgBandByID(db *gorm.DB, id int64) (model.Band, error) {
	var views []bandView
	if err := bandQuery(db).Where("b.id = ?", id).Limit(1).Scan(&views).Error; err != nil {
		return model.Band{}, fmt.Errorf("repository.Band: %w", err)
	}
	if len(views) == 0 {
		return model.Band{}, model.ErrBandNotFound
	}
	return views[0].model(), nil
}

func (s *PostgresStore) Bands(ctx context.Context, roundID int64) ([]model.Band, error) {
	defer observe("bands")()
	q := bandQuery(s.db.WithContext(ctx))
	if roundID != 0 {
		q = q.Where("b.round_id = ?", roundID)
	}
	var views []bandView
	if err := q.Order("r.position, b.performance_order, b.id").Scan(&views).Error; err != nil {
		return nil, fmt.Errorf("repository.Bands: %w", err)
	}
	out := make([]model.Band, 0, len(views))
	for _, v := range views {
		out = append(out, v.model())
	}
	return out, nil
}

func (s *PostgresStore) Criteria(ctx context.Context, roundID int64) ([]model.Criterion, error) {
	defer observe("criteria")()
	return pgCriteria(s.db.WithContext(ctx), roundID)
}

func pgCriteria(db *gorm.DB, roundID int64) ([]model.Criterion, error) {
	var rows []criterionRow
	if err := db.Where("round_id = ?", roundID).Order("display_order, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("repository.Criteria: %w", err)
	}
	out := make([]model.Criterion, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

func usersFrom(rows []userRow) []model.User {
	out := make([]model.User, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out
}

func (s *PostgresStore) Users(ctx context.Context) ([]model.User, error) {
	var rows []userRow
	if err := s.db.WithContext(ctx).Order("name, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("repository.Users: %w", err)
	}
	return usersFrom(rows), nil
}

func (s *PostgresStore) Judges(ctx context.Context) ([]model.User, error) {
	defer observe("judges")()
	var rows []userRow
	if err := s.db.WithContext(ctx).Where("role = ?", string(model.RoleJudge)).Order("name, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("repository.Judges: %w", err)
	}
	return usersFrom(rows), nil
}

func (s *PostgresStore) ActiveBand(ctx context.Context) (model.Band, bool, error) {
	defer observe("active_band")()
	var views []bandView
	if err := bandQuery(s.db.WithContext(ctx)).Where("b.is_active").Limit(1).Scan(&views).Error; err != nil {
		return model.Band{}, false, fmt.Errorf("repository.ActiveBand: %w", err)
	}
	if len(views) == 0 {
		return model.Band{}, false, nil
	}
	return views[0].model(), true, nil
}

// ActivateBand serializes activations on an advisory lock so concurrent
// callers never observe two active bands.
func (s *PostgresStore) ActivateBand(ctx context.Context, bandID int64) (model.Band, error) {
	const op = "repository.ActivateBand"
	defer observe("activate_band")()
	var band model.Band
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", activationLockKey).Error; err != nil {
			return err
		}
		b, err := pgBandByID(tx, bandID)
		if err != nil {
			return err
		}
		if err := tx.Model(&bandRow{}).Where("is_active").Update("is_active", false).Error; err != nil {
			return err
		}
		if err := tx.Model(&bandRow{}).Where("id = ?", bandID).Update("is_active", true).Error; err != nil {
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

func (s *PostgresStore) DeactivateAll(ctx context.Context) error {
	defer observe("deactivate_all")()
	err := s.db.WithContext(ctx).Model(&bandRow{}).Where("is_active").Update("is_active", false).Error
	if err != nil {
		return fmt.Errorf("repository.DeactivateAll: %w", err)
	}
	return nil
}

// SubmitScores locks the band row so a batch and a concurrent duplicate
// submission for the same band serialize.
func (s *PostgresStore) SubmitScores(ctx context.Context, judgeID, bandID int64, entries []model.ScoreEntry) error {
	const op = "repository.SubmitScores"
	defer observe("submit_scores")()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var band bandRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", bandID).Take(&band).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.ErrBandNotFound
		}
		if err != nil {
			return err
		}
		if !band.IsActive {
			return model.ErrNotActive
		}
		var n int64
		if err := tx.Model(&userRow{}).Where("id = ? AND role = ?", judgeID, string(model.RoleJudge)).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return model.ErrUserNotFound
		}
		if err := tx.Model(&scoreRow{}).Where("judge_id = ? AND band_id = ? AND is_finalized", judgeID, bandID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return model.ErrAlreadyFinalized
		}
		criteria, err := pgCriteria(tx, band.RoundID)
		if err != nil {
			return err
		}
		if err := scoring.NewValidator(criteria).ValidateBatch(entries); err != nil {
			return err
		}
		now := s.now().UTC()
		rows := make([]scoreRow, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, scoreRow{
				JudgeID:     judgeID,
				BandID:      bandID,
				CriteriaID:  e.CriterionID,
				Score:       e.Value,
				IsFinalized: true,
				UpdatedAt:   now,
			})
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "judge_id"}, {Name: "band_id"}, {Name: "criteria_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"score", "is_finalized", "updated_at"}),
		}).Create(&rows).Error
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *PostgresStore) IsFinalized(ctx context.Context, judgeID, bandID int64) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&scoreRow{}).
		Where("judge_id = ? AND band_id = ? AND is_finalized", judgeID, bandID).Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("repository.IsFinalized: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) WeightedTotal(ctx context.Context, judgeID, bandID int64) (float64, error) {
	var total float64
	err := s.db.WithContext(ctx).Model(&scoreRow{}).
		Select("COALESCE(SUM(score), 0)").
		Where("judge_id = ? AND band_id = ?", judgeID, bandID).Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("repository.WeightedTotal: %w", err)
	}
	return total, nil
}

func scoresFrom(rows []scoreRow) []model.Score {
	out := make([]model.Score, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out
}

func (s *PostgresStore) JudgeScores(ctx context.Context, judgeID, bandID int64) ([]model.Score, error) {
	var rows []scoreRow
	err := s.db.WithContext(ctx).Table("scores AS s").
		Select("s.*").
		Joins("JOIN criteria AS c ON c.id = s.criteria_id").
		Where("s.judge_id = ? AND s.band_id = ?", judgeID, bandID).
		Order("c.display_order, c.id").Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("repository.JudgeScores: %w", err)
	}
	return scoresFrom(rows), nil
}

func (s *PostgresStore) PendingJudges(ctx context.Context, bandID int64) ([]model.User, error) {
	defer observe("pending_judges")()
	db := s.db.WithContext(ctx)
	finalized := db.Model(&scoreRow{}).Distinct("judge_id").Where("band_id = ? AND is_finalized", bandID)
	var rows []userRow
	err := db.Where("role = ? AND id NOT IN (?)", string(model.RoleJudge), finalized).Order("name, id").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("repository.PendingJudges: %w", err)
	}
	return usersFrom(rows), nil
}

func (s *PostgresStore) FinalizedScores(ctx context.Context, roundID int64) ([]model.Score, error) {
	defer observe("finalized_scores")()
	var rows []scoreRow
	err := s.db.WithContext(ctx).Table("scores AS s").
		Select("s.*").
		Joins("JOIN bands AS b ON b.id = s.band_id").
		Where("b.round_id = ? AND s.is_finalized", roundID).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("repository.FinalizedScores: %w", err)
	}
	return scoresFrom(rows), nil
}

type historyRow struct {
	bandView
	JudgeID     int64
	CriteriaID  int64
	Score       float64
	IsFinalized bool
	UpdatedAt   time.Time
}

func (s *PostgresStore) JudgeHistory(ctx context.Context, judgeID int64) ([]model.BandScores, error) {
	var rows []historyRow
	err := s.db.WithContext(ctx).Raw(`SELECT b.id, b.name, b.round_id, r.name AS round_name, b.performance_order, b.is_active,
    s.judge_id, s.criteria_id, s.score, s.is_finalized, s.updated_at
FROM bands b
JOIN rounds r ON r.id = b.round_id
JOIN scores s ON s.band_id = b.id
JOIN criteria c ON c.id = s.criteria_id
WHERE s.judge_id = ? AND s.is_finalized
ORDER BY r.position, b.performance_order, b.id, c.display_order, c.id`, judgeID).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("repository.JudgeHistory: %w", err)
	}

	out := []model.BandScores{}
	for _, r := range rows {
		if n := len(out); n == 0 || out[n-1].Band.ID != r.ID {
			out = append(out, model.BandScores{Band: r.bandView.model()})
		}
		last := &out[len(out)-1]
		last.Scores = append(last.Scores, model.Score{
			JudgeID:     r.JudgeID,
			BandID:      r.ID,
			CriterionID: r.CriteriaID,
			Value:       r.Score,
			Finalized:   r.IsFinalized,
			UpdatedAt:   r.UpdatedAt.UTC(),
		})
	}
	for i := range out {
		out[i].Total = scoring.Total(out[i].Scores)
	}
	return out, nil
}

func (s *PostgresStore) UpdateScore(ctx context.Context, judgeID, bandID, criterionID int64, value float64) error {
	const op = "repository.UpdateScore"
	defer observe("update_score")()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c criterionRow
		err := tx.Where("id = ?", criterionID).Take(&c).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.ErrCriterionNotFound
		}
		if err != nil {
			return err
		}
		if err := scoring.ValidateValue(c.model(), value); err != nil {
			return err
		}
		res := tx.Model(&scoreRow{}).
			Where("judge_id = ? AND band_id = ? AND criteria_id = ?", judgeID, bandID, criterionID).
			Updates(map[string]any{"score": value, "updated_at": s.now().UTC()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return model.ErrScoreNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *PostgresStore) DeleteJudgeBandScores(ctx context.Context, judgeID, bandID int64) (int64, error) {
	defer observe("delete_scores")()
	res := s.db.WithContext(ctx).Where("judge_id = ? AND band_id = ?", judgeID, bandID).Delete(&scoreRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("repository.DeleteJudgeBandScores: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *PostgresStore) Reset(ctx context.Context) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, q := range []string{
			`DELETE FROM scores`,
			`DELETE FROM bands`,
			`DELETE FROM users WHERE role = 'judge'`,
		} {
			if err := tx.Exec(q).Error; err != nil {
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
