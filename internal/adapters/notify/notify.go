// Package notify carries state change events from the API process to the
// fan-out hub, either in process or over HTTP. Notifying never blocks the
// caller and never fails it.
package notify

import (
	"context"

	"github.com/okian/tabulator/internal/domain/model"
	"github.com/okian/tabulator/pkg/logger"
	"github.com/okian/tabulator/pkg/metrics"
)

// Notifier receives state change events.
type Notifier interface {
	Notify(ctx context.Context, ev model.Event)
}

// Publisher is an in-process fan-out hub.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event) error
}

// Local publishes straight into a hub in the same process.
type Local struct {
	hub    Publisher
	logger logger.Logger
}

// NewLocal returns a notifier over hub.
func NewLocal(hub Publisher) *Local {
	return &Local{hub: hub, logger: logger.Named("notify")}
}

func (l *Local) Notify(ctx context.Context, ev model.Event) {
	if err := l.hub.Publish(ctx, ev); err != nil {
		metrics.RecordNotifyDelivery("failed")
		l.logger.Warn(ctx, "local publish failed", logger.String("event", string(ev.Name())), logger.Error(err))
		return
	}
	metrics.RecordNotifyDelivery("local")
}

// Noop discards events.
type Noop struct{}

func (Noop) Notify(context.Context, model.Event) {}

// Multi forwards each event to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev model.Event) {
	for _, n := range m {
		n.Notify(ctx, ev)
	}
}
