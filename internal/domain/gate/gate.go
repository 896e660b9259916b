// Package gate moves the single active band and refuses to switch away from
// a band that still has judges owing scores.
package gate

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/tabulator/internal/domain/model"
	"github.com/okian/tabulator/pkg/logger"
	"github.com/okian/tabulator/pkg/metrics"
)

// Store is the slice of the score store the gate needs.
type Store interface {
	Band(ctx context.Context, id int64) (model.Band, error)
	ActiveBand(ctx context.Context) (model.Band, bool, error)
	Judges(ctx context.Context) ([]model.User, error)
	PendingJudges(ctx context.Context, bandID int64) ([]model.User, error)
	ActivateBand(ctx context.Context, bandID int64) (model.Band, error)
	DeactivateAll(ctx context.Context) error
}

// Marker records that the active band changed.
type Marker interface {
	Touch(ctx context.Context) error
}

// Notifier receives band transitions. It must not block.
type Notifier interface {
	Notify(ctx context.Context, ev model.Event)
}

// Gate owns active band transitions.
type Gate struct {
	store    Store
	marker   Marker
	notifier Notifier
	logger   logger.Logger
}

// New wires a gate. marker and notifier may be nil.
func New(store Store, opts ...Option) *Gate {
	g := &Gate{store: store, logger: logger.Named("gate")}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Activate makes bandID the active band. When a different band is active and
// judges exist, every judge must have finalized that band first; otherwise a
// *model.BlockedError is returned. The check and the transition are not one
// transaction; the transition itself is atomic.
func (g *Gate) Activate(ctx context.Context, bandID int64) (model.Band, error) {
	const op = "gate.Activate"

	if _, err := g.store.Band(ctx, bandID); err != nil {
		metrics.RecordActivation(outcome(err))
		return model.Band{}, fmt.Errorf("%s: %w", op, err)
	}

	current, ok, err := g.store.ActiveBand(ctx)
	if err != nil {
		metrics.RecordActivation("error")
		return model.Band{}, fmt.Errorf("%s: %w", op, err)
	}
	if ok && current.ID != bandID {
		if err := g.checkCleared(ctx, current); err != nil {
			metrics.RecordActivation(outcome(err))
			return model.Band{}, fmt.Errorf("%s: %w", op, err)
		}
	}

	band, err := g.store.ActivateBand(ctx, bandID)
	if err != nil {
		metrics.RecordActivation(outcome(err))
		return model.Band{}, fmt.Errorf("%s: %w", op, err)
	}
	metrics.RecordActivation("ok")
	metrics.UpdatePendingJudges(0)

	g.logger.Info(ctx, "band activated",
		logger.Int64("band_id", band.ID),
		logger.String("band", band.Name),
		logger.String("round", band.RoundName))

	g.changed(ctx, model.BandChanged{BandID: band.ID, Band: &band})
	return band, nil
}

func (g *Gate) checkCleared(ctx context.Context, current model.Band) error {
	judges, err := g.store.Judges(ctx)
	if err != nil {
		return err
	}
	if len(judges) == 0 {
		return nil
	}
	pending, err := g.store.PendingJudges(ctx, current.ID)
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		metrics.UpdatePendingJudges(len(pending))
		return &model.BlockedError{Band: current, Pending: pending}
	}
	return nil
}

// Deactivate clears the active band. It is idempotent.
func (g *Gate) Deactivate(ctx context.Context) error {
	const op = "gate.Deactivate"
	if err := g.store.DeactivateAll(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	g.logger.Info(ctx, "active band cleared")
	g.changed(ctx, model.BandChanged{})
	return nil
}

// Active returns the active band joined with its round name.
func (g *Gate) Active(ctx context.Context) (model.Band, bool, error) {
	b, ok, err := g.store.ActiveBand(ctx)
	if err != nil {
		return model.Band{}, false, fmt.Errorf("gate.Active: %w", err)
	}
	return b, ok, nil
}

// changed touches the marker and emits ev. Neither failure undoes the
// committed transition.
func (g *Gate) changed(ctx context.Context, ev model.BandChanged) {
	if g.marker != nil {
		if err := g.marker.Touch(ctx); err != nil {
			metrics.RecordErrorByComponent("gate", "marker")
			g.logger.Warn(ctx, "touch change marker", logger.Error(err))
		}
	}
	if g.notifier != nil {
		g.notifier.Notify(ctx, ev)
	}
}

func outcome(err error) string {
	switch {
	case errors.Is(err, model.ErrBlocked):
		return "blocked"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
