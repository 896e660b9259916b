package judgesim

import "errors"

var (
	ErrInvalidConfig = errors.New("invalid simulator config")
	ErrRejected      = errors.New("submission rejected")
)
