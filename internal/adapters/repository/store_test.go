package repository

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/tabulator/internal/domain/model"
)

var fixedNow = time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "tabulator.db")
	s, err := NewSQLiteStore(context.Background(), dsn, WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// fixture is a small competition: two judges, one admin, two criteria and
// three bands in round one, one band in round two.
type fixture struct {
	alice, bob, admin model.User
	music, stage      model.Criterion
	late              model.Criterion
	first, second     model.Band
	third, finalist   model.Band
}

func seedFixture(t *testing.T, s Store) fixture {
	t.Helper()
	ctx := context.Background()
	var f fixture
	var err error

	f.bob, err = s.CreateUser(ctx, "Bob", model.RoleJudge)
	require.NoError(t, err)
	f.alice, err = s.CreateUser(ctx, "Alice", model.RoleJudge)
	require.NoError(t, err)
	f.admin, err = s.CreateUser(ctx, "Root", model.RoleAdmin)
	require.NoError(t, err)

	f.music, err = s.CreateCriterion(ctx, model.Criterion{RoundID: 1, Name: "Musicianship", Weight: 60, DisplayOrder: 1})
	require.NoError(t, err)
	f.stage, err = s.CreateCriterion(ctx, model.Criterion{RoundID: 1, Name: "Stage presence", Weight: 40, DisplayOrder: 2})
	require.NoError(t, err)
	f.late, err = s.CreateCriterion(ctx, model.Criterion{RoundID: 2, Name: "Originality", Weight: 100, DisplayOrder: 1})
	require.NoError(t, err)

	f.second, err = s.CreateBand(ctx, model.Band{Name: "Second", RoundID: 1, PerformanceOrder: 2})
	require.NoError(t, err)
	f.first, err = s.CreateBand(ctx, model.Band{Name: "First", RoundID: 1, PerformanceOrder: 1})
	require.NoError(t, err)
	f.third, err = s.CreateBand(ctx, model.Band{Name: "Third", RoundID: 1, PerformanceOrder: 3})
	require.NoError(t, err)
	f.finalist, err = s.CreateBand(ctx, model.Band{Name: "Finalist", RoundID: 2, PerformanceOrder: 1})
	require.NoError(t, err)
	return f
}

func (f fixture) fullBatch(music, stage float64) []model.ScoreEntry {
	return []model.ScoreEntry{
		{CriterionID: f.music.ID, Value: music},
		{CriterionID: f.stage.ID, Value: stage},
	}
}

func TestSQLiteStore(t *testing.T) {
	runStoreContract(t, newSQLiteStore)
}

func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("rounds are seeded", func(t *testing.T) {
		s := newStore(t)
		rounds, err := s.Rounds(context.Background())
		require.NoError(t, err)
		require.Len(t, rounds, 2)
		assert.Equal(t, "Round 1", rounds[0].Name)
		assert.Equal(t, "Round 2", rounds[1].Name)

		_, err = s.Round(context.Background(), 9)
		assert.ErrorIs(t, err, model.ErrRoundNotFound)
	})

	t.Run("registry reads are ordered", func(t *testing.T) {
		s := newStore(t)
		f := seedFixture(t, s)
		ctx := context.Background()

		bands, err := s.Bands(ctx, 1)
		require.NoError(t, err)
		require.Len(t, bands, 3)
		assert.Equal(t, []string{"First", "Second", "Third"}, []string{bands[0].Name, bands[1].Name, bands[2].Name})
		assert.Equal(t, "Round 1", bands[0].RoundName)

		all, err := s.Bands(ctx, 0)
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal(t, f.finalist.ID, all[3].ID)

		criteria, err := s.Criteria(ctx, 1)
		require.NoError(t, err)
		require.Len(t, criteria, 2)
		assert.Equal(t, f.music.ID, criteria[0].ID)

		judges, err := s.Judges(ctx)
		require.NoError(t, err)
		require.Len(t, judges, 2)
		assert.Equal(t, "Alice", judges[0].Name)

		users, err := s.Users(ctx)
		require.NoError(t, err)
		assert.Len(t, users, 3)
	})

	t.Run("create validations", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.CreateUser(ctx, "Mallory", model.Role("guest"))
		assert.ErrorIs(t, err, ErrInvalidRole)

		_, err = s.CreateBand(ctx, model.Band{Name: "Nowhere", RoundID: 7})
		assert.ErrorIs(t, err, model.ErrRoundNotFound)

		_, err = s.CreateCriterion(ctx, model.Criterion{RoundID: 1, Name: "Zero", Weight: 0})
		assert.ErrorIs(t, err, model.ErrValidation)
	})

	t.Run("activation keeps a single active band", func(t *testing.T) {
		s := newStore(t)
		f := seedFixture(t, s)
		ctx := context.Background()

		_, ok, err := s.ActiveBand(ctx)
		require.NoError(t, err)
		assert.False(t, ok)

		b, err := s.ActivateBand(ctx, f.first.ID)
		require.NoError(t, err)
		assert.True(t, b.Active)

		_, err = s.ActivateBand(ctx, f.second.ID)
		require.NoError(t, err)

		active, ok, err := s.ActiveBand(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, f.second.ID, active.ID)
		assert.Equal(t, "Round 1", active.RoundName)

		bands, err := s.Bands(ctx, 0)
		require.NoError(t, err)
		count := 0
		for _, b := range bands {
			if b.Active {
				count++
			}
		}
		assert.Equal(t, 1, count)

		_, err = s.ActivateBand(ctx, 9999)
		assert.ErrorIs(t, err, model.ErrBandNotFound)
		active, ok, err = s.ActiveBand(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, f.second.ID, active.ID, "failed activation must not clear the active band")

		require.NoError(t, s.DeactivateAll(ctx))
		_, ok, err = s.ActiveBand(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("concurrent activations leave one active band", func(t *testing.T) {
		s := newStore(t)
		f := seedFixture(t, s)
		ctx := context.Background()
		ids := []int64{f.first.ID, f.second.ID, f.third.ID, f.finalist.ID}

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(id int64) {
				defer wg.Done()
				_, _ = s.ActivateBand(ctx, id)
			}(ids[i%len(ids)])
		}
		wg.Wait()

		bands, err := s.Bands(ctx, 0)
		require.NoError(t, err)
		count := 0
		for _, b := range bands {
			if b.Active {
				count++
			}
		}
		assert.Equal(t, 1, count)
	})

	t.Run("submit finalizes once", func(t *testing.T) {
		s := newStore(t)
		f := seedFixture(t, s)
		ctx := context.Background()
		_, err := s.ActivateBand(ctx, f.first.ID)
		require.NoError(t, err)

		require.NoError(t, s.SubmitScores(ctx, f.alice.ID, f.first.ID, f.fullBatch(50, 30)))

		ok, err := s.IsFinalized(ctx, f.alice.ID, f.first.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		total, err := s.WeightedTotal(ctx, f.alice.ID, f.first.ID)
		require.NoError(t, err)
		assert.InDelta(t, 80.0, total, 1e-9)

		scores, err := s.JudgeScores(ctx, f.alice.ID, f.first.ID)
		require.NoError(t, err)
		require.Len(t, scores, 2)
		assert.Equal(t, f.music.ID, scores[0].CriterionID)
		assert.True(t, scores[0].Finalized)
		assert.True(t, scores[0].UpdatedAt.Equal(fixedNow))

		err = s.SubmitScores(ctx, f.alice.ID, f.first.ID, f.fullBatch(10, 10))
		assert.ErrorIs(t, err, model.ErrAlreadyFinalized)

		total, err = s.WeightedTotal(ctx, f.alice.ID, f.first.ID)
		require.NoError(t, err)
		assert.InDelta(t, 80.0, total, 1e-9, "rejected resubmission must not change stored scores")
	})

	t.Run("submit rejections", func(t *testing.T) {
		s := newStore(t)
		f := seedFixture(t, s)
		ctx := context.Background()

		err := s.SubmitScores(ctx, f.alice.ID, 9999, f.fullBatch(1, 1))
		assert.ErrorIs(t, err, model.ErrBandNotFound)

		err = s.SubmitScores(ctx, f.alice.ID, f.first.ID, f.fullBatch(1, 1))
		assert.ErrorIs(t, err, model.ErrNotActive)

		_, err = s.ActivateBand(ctx, f.first.ID)
		require.NoError(t, err)

		err = s.SubmitScores(ctx, f.admin.ID, f.first.ID, f.fullBatch(1, 1))
		assert.ErrorIs(t, err, model.ErrUserNotFound)

		err = s.SubmitScores(ctx, f.alice.ID, f.first.ID, nil)
		assert.ErrorIs(t, err, model.ErrEmptySubmission)

		err = s.SubmitScores(ctx, f.alice.ID, f.first.ID, []model.ScoreEntry{{CriterionID: f.late.ID, Value: 5}})
		assert.ErrorIs(t, err, model.ErrUnknownCriterion)

		err = s.SubmitScores(ctx, f.alice.ID, f.first.ID, f.fullBatch(61, 10))
		assert.ErrorIs(t, err, model.ErrOutOfRange)
		var rangeErr *model.RangeError
		require.True(t, errors.As(err, &rangeErr))
		assert.Equal(t, 60.0, rangeErr.Max)

		err = s.SubmitScores(ctx, f.alice.ID, f.first.ID, f.fullBatch(10, -1))
		assert.ErrorIs(t, err, model.ErrOutOfRange)

		ok, err := s.IsFinalized(ctx, f.alice.ID, f.first.ID)
		require.NoError(t, err)
		assert.False(t, ok, "a rejected batch must leave nothing behind")

		scores, err := s.JudgeScores(ctx, f.alice.ID, f.first.ID)
		require.NoError(t, err)
		assert.Empty(t, scores)
	})

	t.Run("concurrent duplicate submissions finalize once", func(t *testing.T) {
		s := newStore(t)
		f := seedFixture(t, s)
		ctx := context.Background()
		_, err := s.ActivateBand(ctx, f.first.ID)
		require.NoError(t, err)

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(v float64) {
				defer wg.Done()
				if err := s.SubmitScores(ctx, f.bob.ID, f.first.ID, f.fullBatch(v, v)); err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
			}(float64(i + 1))
		}
		wg.Wait()
		assert.Equal(t, 1, succeeded)
	})

	t.Run("pending judges", func(t *testing.T) {
		s := newStore(t)
		f := seedFixture(t, s)
		ctx := context.Background()
		_, err := s.ActivateBand(ctx, f.first.ID)
		require.NoError(t, err)

		pending, err := s.PendingJudges(ctx, f.first.ID)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, "Alice", pending[0].Name)
		assert.Equal(t, "Bob", pending[1].Name)

		require.NoError(t, s.SubmitScores(ctx, f.alice.ID, f.first.ID, f.fullBatch(40, 20)))
		pending, err = s.PendingJudges(ctx, f.first.ID)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, f.bob.ID, pending[0].ID)

		require.NoError(t, s.SubmitScores(ctx, f.bob.ID, f.first.ID, f.fullBatch(30, 30)))
		pending, err = s.PendingJudges(ctx, f.first.ID)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("finalized scores and history", func(t *testing.T) {
		s := newStore(t)
		f := seedFixture(t, s)
		ctx := context.Background()

		_, err := s.ActivateBand(ctx, f.first.ID)
		require.NoError(t, err)
		require.NoError(t, s.SubmitScores(ctx, f.alice.ID, f.first.ID, f.fullBatch(40, 20)))
		_, err = s.ActivateBand(ctx, f.second.ID)
		require.NoError(t, err)
		require.NoError(t, s.SubmitScores(ctx, f.alice.ID, f.second.ID, f.fullBatch(55, 35)))
		_, err = s.ActivateBand(ctx, f.finalist.ID)
		require.NoError(t, err)
		require.NoError(t, s.SubmitScores(ctx, f.alice.ID, f.finalist.ID, []model.ScoreEntry{{CriterionID: f.late.ID, Value: 77}}))

		round1, err := s.FinalizedScores(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, round1, 4)
		round2, err := s.FinalizedScores(ctx, 2)
		require.NoError(t, err)
		assert.Len(t, round2, 1)

		history, err := s.JudgeHistory(ctx, f.alice.ID)
		require.NoError(t, err)
		require.Len(t, history, 3)
		assert.Equal(t, f.first.ID, history[0].Band.ID)
		assert.InDelta(t, 60.0, history[0].Total, 1e-9)
		assert.Len(t, history[0].Scores, 2)
		assert.Equal(t, f.second.ID, history[1].Band.ID)
		assert.InDelta(t, 90.0, history[1].Total, 1e-9)
		secondTotal, err := s.WeightedTotal(ctx, f.alice.ID, f.second.ID)
		require.NoError(t, err)
		assert.InDelta(t, secondTotal, history[1].Total, 1e-9)
		assert.Equal(t, f.finalist.ID, history[2].Band.ID)
		assert.Equal(t, "Round 2", history[2].Band.RoundName)

		empty, err := s.JudgeHistory(ctx, f.bob.ID)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("admin corrections", func(t *testing.T) {
		s := newStore(t)
		f := seedFixture(t, s)
		ctx := context.Background()
		_, err := s.ActivateBand(ctx, f.first.ID)
		require.NoError(t, err)
		require.NoError(t, s.SubmitScores(ctx, f.alice.ID, f.first.ID, f.fullBatch(40, 20)))

		require.NoError(t, s.UpdateScore(ctx, f.alice.ID, f.first.ID, f.music.ID, 59))
		total, err := s.WeightedTotal(ctx, f.alice.ID, f.first.ID)
		require.NoError(t, err)
		assert.InDelta(t, 79.0, total, 1e-9)

		err = s.UpdateScore(ctx, f.alice.ID, f.first.ID, f.music.ID, 61)
		assert.ErrorIs(t, err, model.ErrOutOfRange)
		err = s.UpdateScore(ctx, f.alice.ID, f.first.ID, 9999, 1)
		assert.ErrorIs(t, err, model.ErrCriterionNotFound)
		err = s.UpdateScore(ctx, f.bob.ID, f.first.ID, f.music.ID, 1)
		assert.ErrorIs(t, err, model.ErrScoreNotFound)

		n, err := s.DeleteJudgeBandScores(ctx, f.alice.ID, f.first.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		ok, err := s.IsFinalized(ctx, f.alice.ID, f.first.ID)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.SubmitScores(ctx, f.alice.ID, f.first.ID, f.fullBatch(10, 10)), "deleted batch can be resubmitted")

		n, err = s.DeleteJudgeBandScores(ctx, f.bob.ID, f.first.ID)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("reset keeps rounds criteria and admins", func(t *testing.T) {
		s := newStore(t)
		f := seedFixture(t, s)
		ctx := context.Background()
		_, err := s.ActivateBand(ctx, f.first.ID)
		require.NoError(t, err)
		require.NoError(t, s.SubmitScores(ctx, f.alice.ID, f.first.ID, f.fullBatch(40, 20)))

		require.NoError(t, s.Reset(ctx))

		bands, err := s.Bands(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, bands)
		judges, err := s.Judges(ctx)
		require.NoError(t, err)
		assert.Empty(t, judges)
		users, err := s.Users(ctx)
		require.NoError(t, err)
		require.Len(t, users, 1)
		assert.Equal(t, model.RoleAdmin, users[0].Role)
		criteria, err := s.Criteria(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, criteria, 2)
		rounds, err := s.Rounds(ctx)
		require.NoError(t, err)
		assert.Len(t, rounds, 2)
		scores, err := s.FinalizedScores(ctx, 1)
		require.NoError(t, err)
		assert.Empty(t, scores)
	})
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "x")
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "reopen.db")

	s, err := Open(ctx, DriverSQLite, dsn)
	require.NoError(t, err)
	_, err = s.CreateUser(ctx, "Alice", model.RoleJudge)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, DriverSQLite, dsn)
	require.NoError(t, err)
	defer s.Close()
	judges, err := s.Judges(ctx)
	require.NoError(t, err)
	assert.Len(t, judges, 1)
}
