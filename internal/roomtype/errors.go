package roomtype

import "errors"

var (
	ErrUnknownRoomType = errors.New("unknown room type")
	ErrInvalidPreset   = errors.New("invalid room preset")
)
