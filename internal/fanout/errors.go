package fanout

import "errors"

var (
	ErrClosed      = errors.New("hub closed")
	ErrInvalidRole = errors.New("invalid role")
)
