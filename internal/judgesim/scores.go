package judgesim

import (
	"math"
	"math/rand/v2"

	"github.com/okian/tabulator/internal/domain/model"
)

// RandomScores draws one in-range score per criterion, in half points.
func RandomScores(rng *rand.Rand, criteria []model.Criterion) []model.ScoreEntry {
	out := make([]model.ScoreEntry, 0, len(criteria))
	for _, c := range criteria {
		halves := int(math.Floor(c.Weight * 2))
		v := float64(rng.IntN(halves+1)) / 2
		out = append(out, model.ScoreEntry{CriterionID: c.ID, Value: v})
	}
	return out
}
