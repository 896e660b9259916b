package worker

import "errors"

// ErrDrainTimeout reports a worker still running when shutdown gave up.
var ErrDrainTimeout = errors.New("worker did not drain before shutdown deadline")
