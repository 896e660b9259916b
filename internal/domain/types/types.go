// Package types contains the read shapes shared by the service and the HTTP layer.
package types

import "github.com/okian/tabulator/internal/domain/model"

// Entry is one band's line on a round leaderboard.
type Entry struct {
	BandID           int64             `json:"band_id"`
	BandName         string            `json:"band_name"`
	PerformanceOrder int               `json:"performance_order"`
	JudgeScores      map[int64]float64 `json:"judge_scores"`
	TotalScore       float64           `json:"total_score"`
	AverageScore     float64           `json:"average_score"`
	Rank             int               `json:"rank"`
}

// Leaderboard is a freshly computed ranking for one round.
type Leaderboard struct {
	RoundID  int64        `json:"round_id"`
	Judges   []model.User `json:"judges"`
	Rankings []Entry      `json:"rankings"`
	Top      []Entry      `json:"top"`
}

// JudgeSnapshot is what a judge needs to render the scoring form.
type JudgeSnapshot struct {
	Band          *model.Band       `json:"band"`
	Criteria      []model.Criterion `json:"criteria"`
	IsFinalized   bool              `json:"is_finalized"`
	Scores        []model.Score     `json:"scores,omitempty"`
	WeightedTotal *float64          `json:"weighted_total,omitempty"`
}

// PendingSnapshot is the admin view of who still owes scores.
type PendingSnapshot struct {
	ActiveBand     *model.Band  `json:"active_band"`
	PendingJudges  []model.User `json:"pending_judges"`
	TotalJudges    int          `json:"total_judges"`
	SubmittedCount int          `json:"submitted_count"`
	AllSubmitted   bool         `json:"all_submitted"`
}
