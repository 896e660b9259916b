package judgesim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/tabulator/internal/client"
	"github.com/okian/tabulator/internal/domain/model"
	"github.com/okian/tabulator/internal/domain/types"
	"github.com/okian/tabulator/pkg/logger"
)

// judge plays one judge: every time a band it has not finalized goes live, it
// waits a moment and submits random scores.
type judge struct {
	id        int64
	cfg       *Config
	http      *http.Client
	stats     *Stats
	logger    logger.Logger
	snapshots chan types.JudgeSnapshot

	mu  sync.Mutex
	rng *rand.Rand
}

func newJudge(id int64, cfg *Config, stats *Stats, seed uint64) *judge {
	return &judge{
		id:        id,
		cfg:       cfg,
		http:      &http.Client{Timeout: cfg.Timeout},
		stats:     stats,
		logger:    logger.Named("judgesim").Named(fmt.Sprintf("judge-%d", id)),
		snapshots: make(chan types.JudgeSnapshot, 1),
		rng:       rand.New(rand.NewPCG(seed, uint64(id))),
	}
}

// run subscribes and acts on snapshots until ctx ends.
func (j *judge) run(ctx context.Context) error {
	c, err := client.New(client.Config{
		APIURL: j.cfg.APIURL,
		WSURL:  j.cfg.WSURL,
		Role:   model.RoleJudge,
		UserID: j.id,
	}, client.OnChange(j.offer), client.WithLogger(j.logger))
	if err != nil {
		return err
	}

	go func() {
		if err := c.Run(ctx); err != nil && ctx.Err() == nil {
			j.logger.Warn(ctx, "subscription ended", logger.Error(err))
		}
	}()

	var done int64
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap := <-j.snapshots:
			if snap.Band == nil || snap.IsFinalized || snap.Band.ID == done {
				continue
			}
			atomic.AddInt64(&j.stats.BandsSeen, 1)
			if err := j.score(ctx, snap); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				j.logger.Warn(ctx, "submission failed",
					logger.Int64("band_id", snap.Band.ID), logger.Error(err))
				continue
			}
			done = snap.Band.ID
		}
	}
}

// offer keeps only the newest snapshot.
func (j *judge) offer(raw json.RawMessage) {
	var snap types.JudgeSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return
	}
	for {
		select {
		case j.snapshots <- snap:
			return
		default:
		}
		select {
		case <-j.snapshots:
		default:
		}
	}
}

func (j *judge) score(ctx context.Context, snap types.JudgeSnapshot) error {
	j.mu.Lock()
	var wait time.Duration
	if j.cfg.ThinkTime > 0 {
		wait = time.Duration(j.rng.Int64N(int64(j.cfg.ThinkTime)))
	}
	entries := RandomScores(j.rng, snap.Criteria)
	j.mu.Unlock()

	timer := time.NewTimer(wait)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
	}

	body, err := json.Marshal(map[string]any{
		"judge_id": j.id,
		"band_id":  snap.Band.ID,
		"scores":   entries,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.cfg.APIURL+"/api/judge/scores", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := j.http.Do(req)
	if err != nil {
		atomic.AddInt64(&j.stats.Failed, 1)
		return err
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
		atomic.AddInt64(&j.stats.Submitted, 1)
		j.logger.Info(ctx, "scores submitted",
			logger.Int64("band_id", snap.Band.ID), logger.String("band", snap.Band.Name))
		return nil
	case resp.StatusCode == http.StatusConflict:
		// Another submission or a band switch won; treat the band as done.
		atomic.AddInt64(&j.stats.Rejected, 1)
		return nil
	default:
		atomic.AddInt64(&j.stats.Failed, 1)
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, bytes.TrimSpace(msg))
	}
}
