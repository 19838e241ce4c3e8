package room

import (
	"time"

	"github.com/strongfeels/stagedelight/internal/roomtype"
)

// Reason names the operation that produced an Outcome.
type Reason string

const (
	ReasonJoin       Reason = "join"
	ReasonLeave      Reason = "leave"
	ReasonStartVote  Reason = "start-vote"
	ReasonForceStart Reason = "force-start"
	ReasonAutoStart  Reason = "auto-start"
	ReasonSkipVote   Reason = "skip-vote"
	ReasonNext       Reason = "next"
	ReasonTimeout    Reason = "timeout"
	ReasonWatchdog   Reason = "watchdog"
)

type Tally struct {
	Votes  int `json:"votes"`
	Needed int `json:"needed"`
}

// Outcome describes what a single room operation changed. The relay layer turns it
// into broadcasts without comparing room state before and after.
type Outcome struct {
	RoomID int
	Reason Reason

	// Ignored marks a defensive no-op: nothing in the room changed.
	Ignored bool

	QueueChanged bool
	Queue        []string

	// Started is set only on the Waiting to Active transition; HasStarted is the
	// state after the operation.
	Started    bool
	HasStarted bool

	// Rotated reports an index advance (skip, timeout, watchdog). SpeakerChanged is
	// also set when a departure hands the turn to someone else.
	Rotated        bool
	SpeakerChanged bool
	Speaker        string
	Turn           uint64

	// Tallies are non-nil when they should be reported to the room.
	StartVotes *Tally
	SkipVotes  *Tally

	// Empty is set when the last member left; the room is closed for good.
	Empty bool
}

type Snapshot struct {
	ID         int
	Type       roomtype.RoomType
	Label      string
	Duration   time.Duration
	Queue      []string
	Members    int
	HasStarted bool
	Speaker    string
	Turn       uint64
	StartVotes Tally
	SkipVotes  Tally
	CreatedAt  time.Time
}
