package statsbus

import "errors"

var ErrPublisherClosed = errors.New("stats publisher closed")
