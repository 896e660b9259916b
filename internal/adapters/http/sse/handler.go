// Package sse streams active band changes to clients that cannot hold a
// websocket.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/okian/tabulator/internal/fanout"
	"github.com/okian/tabulator/pkg/logger"
)

const retryMillis = 3000

// Handler serves GET /events/stream.
type Handler struct {
	source      fanout.BandSource
	marker      fanout.MarkerSource
	interval    time.Duration
	maxLifetime time.Duration
	logger      logger.Logger
}

// NewHandler creates a stream handler. marker may be nil.
func NewHandler(source fanout.BandSource, marker fanout.MarkerSource, interval, maxLifetime time.Duration) *Handler {
	return &Handler{
		source:      source,
		marker:      marker,
		interval:    interval,
		maxLifetime: maxLifetime,
		logger:      logger.Named("sse"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// A stream outlives the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprintf(w, "retry: %d\n\n", retryMillis); err != nil {
		return
	}
	flusher.Flush()

	watcher := fanout.NewWatcher(h.source, h.marker, h.interval, h.maxLifetime)
	err := watcher.Run(r.Context(), func(ev fanout.WatchEvent) error {
		if err := writeEvent(w, ev); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil && r.Context().Err() == nil {
		h.logger.Debug(r.Context(), "stream ended", logger.Error(err))
	}
}

func writeEvent(w http.ResponseWriter, ev fanout.WatchEvent) error {
	switch ev.Kind {
	case fanout.WatchHeartbeat:
		_, err := fmt.Fprint(w, ": heartbeat\n\n")
		return err
	case fanout.WatchReconnect:
		_, err := fmt.Fprint(w, "event: reconnect\ndata: timeout\n\n")
		return err
	default:
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "event: band_change\ndata: %s\n\n", data)
		return err
	}
}
