package relay

import "errors"

var (
	ErrUnknownEvent      = errors.New("unknown event")
	ErrMalformedPayload  = errors.New("malformed payload")
	ErrRecipientNotFound = errors.New("recipient not connected")
	ErrRateLimited       = errors.New("too many messages")
)
