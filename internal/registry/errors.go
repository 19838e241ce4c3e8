package registry

import "errors"

var ErrRegistryClosed = errors.New("room registry is closed")
