// Package scoring validates judge score batches against criterion weights.
//
// A criterion weight is the inclusive upper bound of a score and doubles as
// its scale; scores are never multiplied by it.
package scoring

import (
	"fmt"
	"math"

	"github.com/okian/tabulator/internal/domain/model"
)

// Validator checks scores for one round.
type Validator struct {
	criteria map[int64]model.Criterion
}

// NewValidator indexes the criteria of a round.
func NewValidator(criteria []model.Criterion) *Validator {
	v := &Validator{criteria: make(map[int64]model.Criterion, len(criteria))}
	for _, c := range criteria {
		v.criteria[c.ID] = c
	}
	return v
}

// Criterion returns the indexed criterion with id.
func (v *Validator) Criterion(id int64) (model.Criterion, bool) {
	c, ok := v.criteria[id]
	return c, ok
}

// ValidateBatch checks a full submission. Every entry must name a known
// criterion at most once and carry a value within [0, weight].
func (v *Validator) ValidateBatch(entries []model.ScoreEntry) error {
	if len(entries) == 0 {
		return model.ErrEmptySubmission
	}
	seen := make(map[int64]struct{}, len(entries))
	for _, e := range entries {
		c, ok := v.criteria[e.CriterionID]
		if !ok {
			return fmt.Errorf("%w: %d", model.ErrUnknownCriterion, e.CriterionID)
		}
		if _, dup := seen[e.CriterionID]; dup {
			return fmt.Errorf("%w: %d", model.ErrDuplicateCriteria, e.CriterionID)
		}
		seen[e.CriterionID] = struct{}{}
		if err := ValidateValue(c, e.Value); err != nil {
			return err
		}
	}
	return nil
}

// ValidateValue checks a single value against a criterion.
func ValidateValue(c model.Criterion, value float64) error {
	if math.IsNaN(value) || value < 0 || value > c.Weight {
		return &model.RangeError{CriterionID: c.ID, Criterion: c.Name, Value: value, Max: c.Weight}
	}
	return nil
}

// Total sums score values. Weights are already applied by the scale.
func Total(scores []model.Score) float64 {
	var sum float64
	for _, s := range scores {
		sum += s.Value
	}
	return sum
}
