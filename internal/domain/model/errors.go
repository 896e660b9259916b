package model

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every domain error wraps exactly one of them so callers can
// map failures with errors.Is without knowing the specific cause.
var (
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
	ErrTransient  = errors.New("transient failure")
)

// Specific causes.
var (
	ErrBandNotFound      = NewKind(ErrNotFound, "band not found")
	ErrCriterionNotFound = NewKind(ErrNotFound, "criteria not found")
	ErrScoreNotFound     = NewKind(ErrNotFound, "score not found")
	ErrUserNotFound      = NewKind(ErrNotFound, "judge not found")
	ErrRoundNotFound     = NewKind(ErrValidation, "invalid round")
	ErrNotActive         = NewKind(ErrConflict, "band is not currently active for scoring")
	ErrAlreadyFinalized  = NewKind(ErrConflict, "scores already finalized for this band")
	ErrBlocked           = NewKind(ErrConflict, "cannot switch bands while judges are pending")
	ErrUnknownCriterion  = NewKind(ErrValidation, "invalid criteria")
	ErrOutOfRange        = NewKind(ErrValidation, "score out of range")
	ErrEmptySubmission   = NewKind(ErrValidation, "no scores submitted")
	ErrMissingScore      = NewKind(ErrValidation, "score is required for every criteria")
	ErrDuplicateCriteria = NewKind(ErrValidation, "criteria submitted more than once")
	ErrUnknownEvent      = NewKind(ErrValidation, "unknown event")
)

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

// NewKind returns an error with message msg that matches kind under errors.Is.
func NewKind(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// WrapKind annotates err with op and additionally tags it with kind.
func WrapKind(op string, kind, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, kind, err)
}

// RangeError reports a score outside [0, Max] for a criterion.
type RangeError struct {
	CriterionID int64
	Criterion   string
	Value       float64
	Max         float64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("score must be between 0 and %g", e.Max)
}

func (e *RangeError) Unwrap() error { return ErrOutOfRange }

// BlockedError reports the judges that still owe scores for the active band.
type BlockedError struct {
	Band    Band
	Pending []User
}

func (e *BlockedError) Error() string {
	names := make([]string, len(e.Pending))
	for i, u := range e.Pending {
		names[i] = u.Name
	}
	return fmt.Sprintf("cannot switch bands, the following judges have not yet submitted scores for %q: %s",
		e.Band.Name, strings.Join(names, ", "))
}

func (e *BlockedError) Unwrap() error { return ErrBlocked }

// Kind returns the error kind err belongs to, or nil for unclassified errors.
func Kind(err error) error {
	for _, k := range []error{ErrValidation, ErrConflict, ErrNotFound, ErrTransient} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
