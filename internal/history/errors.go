package history

import "errors"

var (
	ErrHistoryDisabled = errors.New("room history is disabled")
	ErrStoreClosed     = errors.New("history store is closed")
)
