package room

import "errors"

var (
	ErrRoomFull      = errors.New("room is full")
	ErrRoomClosed    = errors.New("room is closed")
	ErrAlreadyMember = errors.New("user already in room")
)
