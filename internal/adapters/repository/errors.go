package repository

import "errors"

// Sentinel kinds for store errors. Domain failures use the model package kinds.
var (
	ErrUnknownDriver = errors.New("unknown store driver")
	ErrMigrate       = errors.New("migrate store")
	ErrInvalidRole   = errors.New("invalid role")
)
