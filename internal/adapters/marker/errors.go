package marker

import "errors"

var (
	ErrWrite   = errors.New("write marker")
	ErrRead    = errors.New("read marker")
	ErrCorrupt = errors.New("corrupt marker")
)
