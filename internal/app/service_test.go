package service_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/tabulator/internal/adapters/marker"
	"github.com/okian/tabulator/internal/adapters/repository"
	service "github.com/okian/tabulator/internal/app"
	"github.com/okian/tabulator/internal/config"
	"github.com/okian/tabulator/internal/domain/model"
)

type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) Notify(_ context.Context, ev model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Event(nil), r.events...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

var seed = &config.Seed{
	Criteria: []config.SeedCriterion{
		{Round: 1, Name: "Musicianship", Weight: 60, DisplayOrder: 1},
		{Round: 1, Name: "Stage presence", Weight: 40, DisplayOrder: 2},
		{Round: 2, Name: "Originality", Weight: 100, DisplayOrder: 1},
	},
	Bands: []config.SeedBand{
		{Round: 1, Name: "Amps", PerformanceOrder: 1},
		{Round: 1, Name: "Brass", PerformanceOrder: 2},
		{Round: 2, Name: "Finalist", PerformanceOrder: 1},
	},
	Users: []config.SeedUser{
		{Name: "Alice", Role: "judge"},
		{Name: "Bob", Role: "judge"},
		{Name: "Root", Role: "admin"},
	},
}

type world struct {
	svc          *service.Service
	store        repository.Store
	events       *recorder
	marker       *marker.Memory
	alice, bob   model.User
	amps, brass  model.Band
	music, stage model.Criterion
}

func newWorld(t *testing.T) world {
	ctx := context.Background()
	store, err := repository.NewSQLiteStore(ctx, "file:"+filepath.Join(t.TempDir(), "service.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	w := world{store: store, events: &recorder{}, marker: marker.NewMemory()}
	w.svc = service.New(store,
		service.WithNotifier(w.events),
		service.WithMarker(w.marker),
		service.WithTopN(1),
	)
	if _, err := w.svc.Seed(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	judges, _ := store.Judges(ctx)
	w.alice, w.bob = judges[0], judges[1]
	bands, _ := store.Bands(ctx, 1)
	w.amps, w.brass = bands[0], bands[1]
	criteria, _ := store.Criteria(ctx, 1)
	w.music, w.stage = criteria[0], criteria[1]
	return w
}

func (w world) submit(judge model.User, band model.Band, music, stage float64) error {
	return w.svc.SubmitScores(context.Background(), judge.ID, band.ID, []model.ScoreEntry{
		{CriterionID: w.music.ID, Value: music},
		{CriterionID: w.stage.ID, Value: stage},
	})
}

func TestService_Seed(t *testing.T) {
	Convey("Given a seeded service", t, func() {
		w := newWorld(t)
		ctx := context.Background()

		Convey("Then the registry is populated", func() {
			So(w.alice.Name, ShouldEqual, "Alice")
			So(w.bob.Name, ShouldEqual, "Bob")
			So(w.amps.Name, ShouldEqual, "Amps")
			So(w.music.Weight, ShouldEqual, 60)
		})

		Convey("When seeding again", func() {
			wrote, err := w.svc.Seed(ctx, seed)

			Convey("Then nothing is written twice", func() {
				So(err, ShouldBeNil)
				So(wrote, ShouldBeFalse)
				judges, _ := w.store.Judges(ctx)
				So(judges, ShouldHaveLength, 2)
			})
		})

		Convey("When seeding with nil", func() {
			wrote, err := w.svc.Seed(ctx, nil)
			So(err, ShouldBeNil)
			So(wrote, ShouldBeFalse)
		})
	})
}

func TestService_ScoringFlow(t *testing.T) {
	Convey("Given a seeded service with no active band", t, func() {
		w := newWorld(t)
		ctx := context.Background()

		Convey("The judge snapshot is empty", func() {
			snap, err := w.svc.JudgeSnapshot(ctx, w.alice.ID)
			So(err, ShouldBeNil)
			So(snap.Band, ShouldBeNil)
			So(snap.Criteria, ShouldBeEmpty)
			So(snap.IsFinalized, ShouldBeFalse)
		})

		Convey("Nobody is pending", func() {
			snap, err := w.svc.PendingJudges(ctx)
			So(err, ShouldBeNil)
			So(snap.ActiveBand, ShouldBeNil)
			So(snap.PendingJudges, ShouldBeEmpty)
			So(snap.TotalJudges, ShouldEqual, 2)
			So(snap.AllSubmitted, ShouldBeTrue)
		})

		Convey("A snapshot without a judge id is rejected", func() {
			_, err := w.svc.JudgeSnapshot(ctx, 0)
			So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
		})

		Convey("Submitting scores is refused", func() {
			err := w.submit(w.alice, w.amps, 50, 30)
			So(errors.Is(err, model.ErrNotActive), ShouldBeTrue)
			So(w.events.all(), ShouldBeEmpty)
		})

		Convey("When the first band is activated", func() {
			band, err := w.svc.ActivateBand(ctx, w.amps.ID)
			So(err, ShouldBeNil)
			So(band.ID, ShouldEqual, w.amps.ID)

			active, err := w.svc.ActiveBand(ctx)
			So(err, ShouldBeNil)
			So(active.Name, ShouldEqual, "Amps")
			So(active.RoundName, ShouldEqual, "Round 1")

			marked, _ := w.marker.Load(ctx)
			So(marked.IsZero(), ShouldBeFalse)

			Convey("Then the judge sees the scoring form", func() {
				snap, err := w.svc.JudgeSnapshot(ctx, w.alice.ID)
				So(err, ShouldBeNil)
				So(snap.Band.ID, ShouldEqual, w.amps.ID)
				So(snap.Criteria, ShouldHaveLength, 2)
				So(snap.IsFinalized, ShouldBeFalse)
				So(snap.Scores, ShouldBeEmpty)
				So(snap.WeightedTotal, ShouldBeNil)
			})

			Convey("And Alice submits", func() {
				w.events.reset()
				So(w.submit(w.alice, w.amps, 50, 30), ShouldBeNil)

				So(w.events.all(), ShouldResemble, []model.Event{
					model.ScoresSubmitted{BandID: w.amps.ID, JudgeID: w.alice.ID},
				})

				snap, err := w.svc.JudgeSnapshot(ctx, w.alice.ID)
				So(err, ShouldBeNil)
				So(snap.IsFinalized, ShouldBeTrue)
				So(snap.Scores, ShouldHaveLength, 2)
				So(*snap.WeightedTotal, ShouldEqual, 80)

				pending, err := w.svc.PendingJudges(ctx)
				So(err, ShouldBeNil)
				So(pending.PendingJudges, ShouldHaveLength, 1)
				So(pending.PendingJudges[0].Name, ShouldEqual, "Bob")
				So(pending.SubmittedCount, ShouldEqual, 1)
				So(pending.AllSubmitted, ShouldBeFalse)

				Convey("A second submission is refused", func() {
					err := w.submit(w.alice, w.amps, 10, 10)
					So(errors.Is(err, model.ErrAlreadyFinalized), ShouldBeTrue)
				})

				Convey("Switching bands is blocked by Bob", func() {
					_, err := w.svc.ActivateBand(ctx, w.brass.ID)
					var blocked *model.BlockedError
					So(errors.As(err, &blocked), ShouldBeTrue)
					So(blocked.Pending, ShouldHaveLength, 1)
					So(blocked.Pending[0].ID, ShouldEqual, w.bob.ID)
				})

				Convey("After Bob submits the next band can go live", func() {
					So(w.submit(w.bob, w.amps, 40, 20), ShouldBeNil)
					_, err := w.svc.ActivateBand(ctx, w.brass.ID)
					So(err, ShouldBeNil)

					lb, err := w.svc.Rankings(ctx, 1, 0)
					So(err, ShouldBeNil)
					So(lb.Rankings, ShouldHaveLength, 2)
					So(lb.Rankings[0].BandID, ShouldEqual, w.amps.ID)
					So(lb.Rankings[0].AverageScore, ShouldEqual, 70)
					So(lb.Rankings[0].Rank, ShouldEqual, 1)
					So(lb.Rankings[1].Rank, ShouldEqual, 2)
					So(lb.Top, ShouldHaveLength, 1)
					So(lb.Judges, ShouldHaveLength, 2)

					lb, err = w.svc.Rankings(ctx, 1, 5)
					So(err, ShouldBeNil)
					So(lb.Top, ShouldHaveLength, 2)
				})

				Convey("The judge history lists the band", func() {
					history, err := w.svc.JudgeHistory(ctx, w.alice.ID)
					So(err, ShouldBeNil)
					So(history, ShouldHaveLength, 1)
					So(history[0].Total, ShouldEqual, 80)

					history, err = w.svc.JudgeHistory(ctx, w.bob.ID)
					So(err, ShouldBeNil)
					So(history, ShouldNotBeNil)
					So(history, ShouldBeEmpty)
				})
			})
		})
	})
}

func TestService_AdminCorrections(t *testing.T) {
	Convey("Given Alice finalized the active band", t, func() {
		w := newWorld(t)
		ctx := context.Background()
		_, err := w.svc.ActivateBand(ctx, w.amps.ID)
		So(err, ShouldBeNil)
		So(w.submit(w.alice, w.amps, 50, 30), ShouldBeNil)
		w.events.reset()

		Convey("An admin can correct a score within the weight", func() {
			So(w.svc.UpdateScore(ctx, w.alice.ID, w.amps.ID, w.music.ID, 55), ShouldBeNil)
			So(w.events.all(), ShouldResemble, []model.Event{
				model.AdminUpdate{Type: model.AdminUpdateScoresUpdated, BandID: w.amps.ID, JudgeID: w.alice.ID},
			})
			total, _ := w.store.WeightedTotal(ctx, w.alice.ID, w.amps.ID)
			So(total, ShouldEqual, 85)
		})

		Convey("A correction above the weight is refused", func() {
			err := w.svc.UpdateScore(ctx, w.alice.ID, w.amps.ID, w.music.ID, 61)
			So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
			So(w.events.all(), ShouldBeEmpty)
		})

		Convey("Deleting the batch lets Alice score again", func() {
			n, err := w.svc.DeleteScores(ctx, w.alice.ID, w.amps.ID)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 2)
			So(w.events.all(), ShouldResemble, []model.Event{
				model.AdminUpdate{Type: model.AdminUpdateScoresDeleted, BandID: w.amps.ID, JudgeID: w.alice.ID},
			})
			So(w.submit(w.alice, w.amps, 20, 20), ShouldBeNil)

			Convey("Deleting nothing is not found", func() {
				_, err := w.svc.DeleteScores(ctx, w.bob.ID, w.amps.ID)
				So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("Reset needs the keyword", func() {
			err := w.svc.Reset(ctx, "yes")
			So(errors.Is(err, service.ErrResetNotConfirmed), ShouldBeTrue)
			So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
		})

		Convey("Reset wipes scores, bands and judges", func() {
			before, _ := w.marker.Load(ctx)
			So(w.svc.Reset(ctx, service.ResetKeyword), ShouldBeNil)

			judges, _ := w.store.Judges(ctx)
			So(judges, ShouldBeEmpty)
			bands, _ := w.store.Bands(ctx, 1)
			So(bands, ShouldBeEmpty)
			active, err := w.svc.ActiveBand(ctx)
			So(err, ShouldBeNil)
			So(active, ShouldBeNil)

			after, _ := w.marker.Load(ctx)
			So(after.After(before), ShouldBeTrue)
			So(w.events.all(), ShouldResemble, []model.Event{
				model.BandChanged{},
				model.AdminUpdate{Type: model.AdminUpdateReset},
			})
		})
	})
}

func TestService_Rankings(t *testing.T) {
	Convey("Given a seeded service", t, func() {
		w := newWorld(t)
		ctx := context.Background()

		Convey("An unknown round is a validation error", func() {
			_, err := w.svc.Rankings(ctx, 9, 0)
			So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
		})

		Convey("A round without scores ranks every band first", func() {
			lb, err := w.svc.Rankings(ctx, 2, 0)
			So(err, ShouldBeNil)
			So(lb.RoundID, ShouldEqual, 2)
			So(lb.Rankings, ShouldHaveLength, 1)
			So(lb.Rankings[0].Rank, ShouldEqual, 1)
			So(lb.Judges, ShouldBeEmpty)
		})
	})
}

func TestService_Stats(t *testing.T) {
	Convey("Given a seeded service with an active band", t, func() {
		w := newWorld(t)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := w.svc.ActivateBand(ctx, w.amps.ID)
		So(err, ShouldBeNil)

		Convey("Stats describe the competition", func() {
			stats := w.svc.GetStats(ctx)
			So(stats["bands"], ShouldEqual, 3)
			So(stats["judges"], ShouldEqual, 2)
			So(stats["pending_judges"], ShouldEqual, 2)
			So(stats["active_band_id"], ShouldEqual, w.amps.ID)
			So(stats["top_n"], ShouldEqual, 1)
		})
	})
}
