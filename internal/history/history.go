// Package history keeps an append-only log of what happened in each room.
package history

import (
	"context"
	"time"
)

type Kind string

const (
	KindJoined         Kind = "joined"
	KindLeft           Kind = "left"
	KindStarted        Kind = "started"
	KindSpeakerChanged Kind = "speaker-changed"
	KindClosed         Kind = "closed"
)

type Event struct {
	RoomID   int       `json:"roomId"`
	RoomType string    `json:"roomType"`
	Kind     Kind      `json:"kind"`
	UserID   string    `json:"userId,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Turn     uint64    `json:"turn,omitempty"`
	At       time.Time `json:"at"`
}

// Recorder accepts events without blocking the caller.
type Recorder interface {
	Record(Event)
	ListByRoom(ctx context.Context, roomID int, limit int) ([]Event, error)
	Close(ctx context.Context) error
}

type Nop struct{}

func (Nop) Record(Event) {}

func (Nop) ListByRoom(context.Context, int, int) ([]Event, error) {
	return nil, ErrHistoryDisabled
}

func (Nop) Close(context.Context) error { return nil }

var (
	_ Recorder = Nop{}
	_ Recorder = (*Store)(nil)
)
