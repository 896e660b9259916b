// Package ranking computes round leaderboards from finalized scores.
//
// Averages divide each band's total by the number of judges that finalized
// anything in the round, so a judge who skipped a band contributes zero to it
// rather than shrinking its denominator. Ranks follow standard competition
// ranking (1, 1, 3) on averages compared at two decimal places.
package ranking

import (
	"math"
	"sort"

	"github.com/okian/tabulator/internal/domain/model"
	"github.com/okian/tabulator/internal/domain/types"
)

// Compute builds the leaderboard of one round. bands are the round's bands,
// judges the known users used for names, scores the finalized scores of the
// round. Scores of bands outside the round are ignored.
func Compute(roundID int64, bands []model.Band, judges []model.User, scores []model.Score) types.Leaderboard {
	inRound := make(map[int64]struct{}, len(bands))
	for _, b := range bands {
		inRound[b.ID] = struct{}{}
	}

	totals := make(map[int64]map[int64]float64, len(bands))
	participating := make(map[int64]struct{})
	for _, s := range scores {
		if !s.Finalized {
			continue
		}
		if _, ok := inRound[s.BandID]; !ok {
			continue
		}
		participating[s.JudgeID] = struct{}{}
		perJudge, ok := totals[s.BandID]
		if !ok {
			perJudge = make(map[int64]float64)
			totals[s.BandID] = perJudge
		}
		perJudge[s.JudgeID] += s.Value
	}

	lb := types.Leaderboard{
		RoundID:  roundID,
		Judges:   participants(judges, participating),
		Rankings: make([]types.Entry, 0, len(bands)),
	}

	for _, b := range bands {
		e := types.Entry{
			BandID:           b.ID,
			BandName:         b.Name,
			PerformanceOrder: b.PerformanceOrder,
			JudgeScores:      make(map[int64]float64, len(lb.Judges)),
		}
		for _, j := range lb.Judges {
			v := totals[b.ID][j.ID]
			e.JudgeScores[j.ID] = v
			e.TotalScore += v
		}
		if n := len(lb.Judges); n > 0 {
			e.AverageScore = round2(e.TotalScore / float64(n))
		}
		lb.Rankings = append(lb.Rankings, e)
	}

	AssignRanks(lb.Rankings)
	return lb
}

// AssignRanks sorts entries by average descending, keeping performance order
// for equal averages, and assigns competition ranks.
func AssignRanks(entries []types.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		ci, cj := cents(entries[i].AverageScore), cents(entries[j].AverageScore)
		if ci != cj {
			return ci > cj
		}
		return entries[i].PerformanceOrder < entries[j].PerformanceOrder
	})
	for i := range entries {
		if i > 0 && cents(entries[i].AverageScore) == cents(entries[i-1].AverageScore) {
			entries[i].Rank = entries[i-1].Rank
			continue
		}
		entries[i].Rank = i + 1
	}
}

// TopN returns the first n entries of a ranked slice plus every following
// entry that shares the rank of the n-th one. A tie group is never split.
// n <= 0 returns all entries.
func TopN(entries []types.Entry, n int) []types.Entry {
	if n <= 0 || n >= len(entries) {
		return append([]types.Entry(nil), entries...)
	}
	cut := entries[n-1].Rank
	end := n
	for end < len(entries) && entries[end].Rank == cut {
		end++
	}
	return append([]types.Entry(nil), entries[:end]...)
}

func participants(users []model.User, ids map[int64]struct{}) []model.User {
	byID := make(map[int64]model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	out := make([]model.User, 0, len(ids))
	for id := range ids {
		u, ok := byID[id]
		if !ok {
			u = model.User{ID: id, Role: model.RoleJudge}
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func cents(v float64) int64 {
	return int64(math.Round(v * 100))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
