package fanout

import (
	"context"
	"time"

	"github.com/okian/tabulator/internal/domain/model"
	"github.com/okian/tabulator/pkg/logger"
	"github.com/okian/tabulator/pkg/metrics"
)

// Watch event kinds.
const (
	WatchInit      = "init"
	WatchChange    = "change"
	WatchHeartbeat = "heartbeat"
	WatchReconnect = "reconnect"
)

// WatchEvent is one observation pushed to a polling stream.
type WatchEvent struct {
	Kind   string      `json:"type"`
	BandID int64       `json:"band_id"`
	Band   *model.Band `json:"band"`
}

// BandSource reads the active band.
type BandSource interface {
	ActiveBand(ctx context.Context) (model.Band, bool, error)
}

// MarkerSource reads the change marker.
type MarkerSource interface {
	Load(ctx context.Context) (time.Time, error)
}

// Watcher polls the active band and the change marker for one stream.
type Watcher struct {
	source      BandSource
	marker      MarkerSource
	interval    time.Duration
	maxLifetime time.Duration
	now         func() time.Time
	logger      logger.Logger
}

// NewWatcher returns a watcher. marker may be nil.
func NewWatcher(source BandSource, marker MarkerSource, interval, maxLifetime time.Duration) *Watcher {
	return &Watcher{
		source:      source,
		marker:      marker,
		interval:    interval,
		maxLifetime: maxLifetime,
		now:         time.Now,
		logger:      logger.Named("watcher"),
	}
}

// Run emits an init event at once, then a change event whenever the active
// band id differs from the last one sent or the marker moved past the last
// value seen, and a heartbeat otherwise. After maxLifetime it emits
// reconnect and returns nil. An emit error ends the stream with that error.
func (w *Watcher) Run(ctx context.Context, emit func(WatchEvent) error) error {
	metrics.IncWatcherStreams()
	defer metrics.DecWatcherStreams()

	lastMarker := w.now()
	band, ok, _ := w.active(ctx)
	lastID := bandID(band, ok)
	if err := emit(watchEvent(WatchInit, band, ok)); err != nil {
		return err
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	lifetime := time.NewTimer(w.maxLifetime)
	defer lifetime.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-lifetime.C:
			metrics.RecordWatcherReconnect()
			return emit(WatchEvent{Kind: WatchReconnect})
		case <-ticker.C:
			advanced := false
			if w.marker != nil {
				ts, err := w.marker.Load(ctx)
				if err != nil {
					w.logger.Warn(ctx, "read change marker", logger.Error(err))
				} else if ts.After(lastMarker) {
					lastMarker = ts
					advanced = true
				}
			}
			ev := WatchEvent{Kind: WatchHeartbeat}
			band, ok, err := w.active(ctx)
			if id := bandID(band, ok); err == nil && (id != lastID || advanced) {
				lastID = id
				ev = watchEvent(WatchChange, band, ok)
			}
			if err := emit(ev); err != nil {
				return err
			}
		}
	}
}

func (w *Watcher) active(ctx context.Context) (model.Band, bool, error) {
	b, ok, err := w.source.ActiveBand(ctx)
	if err != nil {
		w.logger.Warn(ctx, "read active band", logger.Error(err))
		return model.Band{}, false, err
	}
	return b, ok, nil
}

func bandID(b model.Band, ok bool) int64 {
	if !ok {
		return 0
	}
	return b.ID
}

func watchEvent(kind string, b model.Band, ok bool) WatchEvent {
	if !ok {
		return WatchEvent{Kind: kind}
	}
	return WatchEvent{Kind: kind, BandID: b.ID, Band: &b}
}
