package client

import "errors"

var (
	ErrInvalidRole     = errors.New("invalid role")
	ErrMissingURL      = errors.New("api and websocket urls are required")
	ErrUnexpectedReply = errors.New("unexpected register reply")
	ErrSnapshot        = errors.New("snapshot request failed")
	ErrGaveUp          = errors.New("reconnect gave up")
	ErrPingTimeout     = errors.New("hub stopped answering pings")
)
