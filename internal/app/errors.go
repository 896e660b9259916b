package service

import (
	"errors"

	"github.com/okian/tabulator/internal/domain/model"
)

var (
	// ErrResetNotConfirmed is returned when the reset keyword is missing.
	ErrResetNotConfirmed = model.NewKind(model.ErrValidation, "invalid confirmation, type RESET_ALL to confirm")

	errMissingJudge = errors.New("judge_id is required")
	errMissingBand  = errors.New("band_id is required")
)
