package api

import "errors"

// Sentinel kinds for API errors.
var (
	ErrBadRequest  = errors.New("bad request")
	ErrInvalidJSON = errors.New("invalid JSON")
	ErrInvalidID   = errors.New("invalid id")
)
