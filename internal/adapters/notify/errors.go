package notify

import "errors"

var ErrDelivery = errors.New("notify delivery failed")
