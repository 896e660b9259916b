// Package judgesim drives simulated judges against a running tabulator. Each
// judge holds a live subscription and scores every band that goes live.
package judgesim

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/tabulator/pkg/logger"
)

// Run plays every configured judge until ctx ends and returns the counters.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	stats := &Stats{StartTime: time.Now()}
	log := logger.Named("judgesim")
	log.Info(ctx, "starting judge simulation",
		logger.String("api", cfg.APIURL),
		logger.String("ws", cfg.WSURL),
		logger.Int("judges", len(cfg.JudgeIDs)),
		logger.String("think_time", cfg.ThinkTime.String()))

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range cfg.JudgeIDs {
		j := newJudge(id, cfg, stats, seed)
		g.Go(func() error { return j.run(gctx) })
	}
	err := g.Wait()

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	log.Info(context.Background(), "final statistics",
		logger.Int64("bands_seen", atomic.LoadInt64(&stats.BandsSeen)),
		logger.Int64("submitted", atomic.LoadInt64(&stats.Submitted)),
		logger.Int64("rejected", atomic.LoadInt64(&stats.Rejected)),
		logger.Int64("failed", atomic.LoadInt64(&stats.Failed)),
		logger.String("duration", stats.Duration.String()))
	return stats, err
}
