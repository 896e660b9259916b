package gate_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/tabulator/internal/adapters/marker"
	"github.com/okian/tabulator/internal/adapters/repository"
	"github.com/okian/tabulator/internal/domain/gate"
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

type brokenMarker struct{}

func (brokenMarker) Touch(context.Context) error { return errors.New("disk full") }

type world struct {
	store        repository.Store
	alice, bob   model.User
	crit         model.Criterion
	first, other model.Band
}

func newWorld(t *testing.T) world {
	ctx := context.Background()
	s, err := repository.NewSQLiteStore(ctx, "file:"+filepath.Join(t.TempDir(), "gate.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	w := world{store: s}
	w.alice, _ = s.CreateUser(ctx, "Alice", model.RoleJudge)
	w.bob, _ = s.CreateUser(ctx, "Bob", model.RoleJudge)
	w.crit, _ = s.CreateCriterion(ctx, model.Criterion{RoundID: 1, Name: "Overall", Weight: 100})
	w.first, _ = s.CreateBand(ctx, model.Band{Name: "First", RoundID: 1, PerformanceOrder: 1})
	w.other, _ = s.CreateBand(ctx, model.Band{Name: "Other", RoundID: 1, PerformanceOrder: 2})
	return w
}

func (w world) submit(judge model.User, band model.Band) error {
	return w.store.SubmitScores(context.Background(), judge.ID, band.ID,
		[]model.ScoreEntry{{CriterionID: w.crit.ID, Value: 50}})
}

func TestGateActivate(t *testing.T) {
	Convey("Given a gate over a store with two judges", t, func() {
		ctx := context.Background()
		w := newWorld(t)
		events := &recorder{}
		mark := marker.NewMemory()
		g := gate.New(w.store, gate.WithMarker(mark), gate.WithNotifier(events))

		Convey("Activating with nothing active succeeds and emits the band", func() {
			b, err := g.Activate(ctx, w.first.ID)
			So(err, ShouldBeNil)
			So(b.Active, ShouldBeTrue)
			So(b.RoundName, ShouldEqual, "Round 1")

			evs := events.all()
			So(evs, ShouldHaveLength, 1)
			changed, ok := evs[0].(model.BandChanged)
			So(ok, ShouldBeTrue)
			So(changed.BandID, ShouldEqual, w.first.ID)
			So(changed.Band.Name, ShouldEqual, "First")

			ts, _ := mark.Load(ctx)
			So(ts.IsZero(), ShouldBeFalse)
		})

		Convey("Activating an unknown band fails with not found and changes nothing", func() {
			_, err := g.Activate(ctx, 9999)
			So(errors.Is(err, model.ErrBandNotFound), ShouldBeTrue)
			So(events.all(), ShouldBeEmpty)
		})

		Convey("Switching away while judges are pending is blocked", func() {
			_, err := g.Activate(ctx, w.first.ID)
			So(err, ShouldBeNil)
			So(w.submit(w.alice, w.first), ShouldBeNil)

			_, err = g.Activate(ctx, w.other.ID)
			So(errors.Is(err, model.ErrBlocked), ShouldBeTrue)

			var blocked *model.BlockedError
			So(errors.As(err, &blocked), ShouldBeTrue)
			So(blocked.Band.ID, ShouldEqual, w.first.ID)
			So(blocked.Pending, ShouldHaveLength, 1)
			So(blocked.Pending[0].Name, ShouldEqual, "Bob")

			active, ok, err := g.Active(ctx)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(active.ID, ShouldEqual, w.first.ID)
			So(events.all(), ShouldHaveLength, 1)
		})

		Convey("Switching succeeds once every judge has finalized", func() {
			_, err := g.Activate(ctx, w.first.ID)
			So(err, ShouldBeNil)
			So(w.submit(w.alice, w.first), ShouldBeNil)
			So(w.submit(w.bob, w.first), ShouldBeNil)

			b, err := g.Activate(ctx, w.other.ID)
			So(err, ShouldBeNil)
			So(b.ID, ShouldEqual, w.other.ID)
			So(events.all(), ShouldHaveLength, 2)
		})

		Convey("Re-activating the active band is allowed even with pending judges", func() {
			_, err := g.Activate(ctx, w.first.ID)
			So(err, ShouldBeNil)
			_, err = g.Activate(ctx, w.first.ID)
			So(err, ShouldBeNil)
			So(events.all(), ShouldHaveLength, 2)
		})

		Convey("Deactivate clears the band and emits an empty change", func() {
			_, err := g.Activate(ctx, w.first.ID)
			So(err, ShouldBeNil)
			So(g.Deactivate(ctx), ShouldBeNil)
			So(g.Deactivate(ctx), ShouldBeNil)

			_, ok, err := g.Active(ctx)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)

			evs := events.all()
			So(evs, ShouldHaveLength, 3)
			last := evs[2].(model.BandChanged)
			So(last.BandID, ShouldEqual, 0)
			So(last.Band, ShouldBeNil)
		})

		Convey("After deactivation any band may be activated", func() {
			_, err := g.Activate(ctx, w.first.ID)
			So(err, ShouldBeNil)
			So(g.Deactivate(ctx), ShouldBeNil)
			_, err = g.Activate(ctx, w.other.ID)
			So(err, ShouldBeNil)
		})
	})
}

func TestGateWithoutJudges(t *testing.T) {
	Convey("Given a store with bands but no judges", t, func() {
		ctx := context.Background()
		s, err := repository.NewSQLiteStore(ctx, "file:"+filepath.Join(t.TempDir(), "nojudges.db"))
		So(err, ShouldBeNil)
		defer s.Close()
		a, _ := s.CreateBand(ctx, model.Band{Name: "A", RoundID: 1, PerformanceOrder: 1})
		b, _ := s.CreateBand(ctx, model.Band{Name: "B", RoundID: 1, PerformanceOrder: 2})
		g := gate.New(s)

		Convey("Switching is never blocked", func() {
			_, err := g.Activate(ctx, a.ID)
			So(err, ShouldBeNil)
			_, err = g.Activate(ctx, b.ID)
			So(err, ShouldBeNil)
		})
	})
}

func TestGateMarkerFailure(t *testing.T) {
	Convey("Given a marker that cannot be written", t, func() {
		ctx := context.Background()
		w := newWorld(t)
		events := &recorder{}
		g := gate.New(w.store, gate.WithMarker(brokenMarker{}), gate.WithNotifier(events))

		Convey("The transition still commits and the event is still emitted", func() {
			_, err := g.Activate(ctx, w.first.ID)
			So(err, ShouldBeNil)
			So(events.all(), ShouldHaveLength, 1)
		})
	})
}

func TestGateConcurrentActivations(t *testing.T) {
	Convey("Given many concurrent activations of cleared bands", t, func() {
		ctx := context.Background()
		s, err := repository.NewSQLiteStore(ctx, "file:"+filepath.Join(t.TempDir(), "race.db"))
		So(err, ShouldBeNil)
		defer s.Close()

		var ids []int64
		for i := 1; i <= 5; i++ {
			b, err := s.CreateBand(ctx, model.Band{Name: "Band", RoundID: 1, PerformanceOrder: i})
			So(err, ShouldBeNil)
			ids = append(ids, b.ID)
		}
		g := gate.New(s)

		var wg sync.WaitGroup
		for i := 0; i < 25; i++ {
			wg.Add(1)
			go func(id int64) {
				defer wg.Done()
				_, _ = g.Activate(ctx, id)
			}(ids[i%len(ids)])
		}
		wg.Wait()

		Convey("Exactly one band ends up active", func() {
			bands, err := s.Bands(ctx, 0)
			So(err, ShouldBeNil)
			active := 0
			for _, b := range bands {
				if b.Active {
					active++
				}
			}
			So(active, ShouldEqual, 1)
		})
	})
}
