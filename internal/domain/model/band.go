// Package model contains domain models passed between layers.
package model

import "time"

// Role is the audience a user belongs to.
type Role string

// Known roles.
const (
	RoleJudge Role = "judge"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleJudge || r == RoleAdmin
}

// Round is one of the two fixed competition phases.
type Round struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
}

// Band is a performing act. RoundName is filled by reads that join rounds.
type Band struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	RoundID          int64  `json:"round_id"`
	RoundName        string `json:"round_name,omitempty"`
	PerformanceOrder int    `json:"performance_order"`
	Active           bool   `json:"is_active"`
}

// Criterion is a scoring dimension. Weight is the maximum score.
type Criterion struct {
	ID           int64   `json:"id"`
	RoundID      int64   `json:"round_id"`
	Name         string  `json:"name"`
	Weight       float64 `json:"weight"`
	DisplayOrder int     `json:"display_order"`
}

// User is a judge or an admin.
type User struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// Score is one (judge, band, criterion) value.
type Score struct {
	JudgeID     int64     `json:"judge_id"`
	BandID      int64     `json:"band_id"`
	CriterionID int64     `json:"criteria_id"`
	Value       float64   `json:"score"`
	Finalized   bool      `json:"is_finalized"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ScoreEntry is one line of a submitted batch.
type ScoreEntry struct {
	CriterionID int64   `json:"criteria_id"`
	Value       float64 `json:"score"`
}

// BandScores groups a judge's finalized scores for one band.
type BandScores struct {
	Band   Band    `json:"band"`
	Scores []Score `json:"scores"`
	Total  float64 `json:"total"`
}
