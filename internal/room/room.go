// Package room implements the turn-taking state machine of a single room.
//
// A room is Waiting until enough members vote to start or the auto-start deadline
// fires, then Active for the rest of its life. Every exported operation takes the
// room lock for its whole duration and returns an Outcome describing what changed.
package room

import (
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/strongfeels/stagedelight/internal/roomtype"
)

type User struct {
	ID       string
	JoinedAt time.Time
}

// Notifier receives outcomes the room produced on its own, outside any caller's
// operation (auto-start, turn watchdog). It is invoked without the room lock held
// but inside Acquire, so whatever it publishes stays in order with callers.
type Notifier func(*Room, Outcome)

type Options struct {
	// Capacity bounds membership; zero means unbounded.
	Capacity        int
	AutoStartWindow time.Duration
	// TurnGrace is added to the turn duration before the watchdog advances a silent
	// speaker. Negative disables the watchdog.
	TurnGrace time.Duration
	Scheduler Scheduler
	Notify    Notifier
	Now       func() time.Time
}

type Room struct {
	// order serializes a state change together with the broadcasts describing it.
	order sync.Mutex
	mu    sync.Mutex

	id        int
	roomType  roomtype.RoomType
	config    roomtype.Config
	opts      Options
	createdAt time.Time

	queue        []User
	users        map[string]User
	speakerIndex int
	started      bool
	closed       bool
	startVotes   map[string]struct{}
	skipVotes    map[string]struct{}
	turn         uint64

	autoStart    Timer
	autoStartGen uint64
	watchdog     Timer
}

func New(id int, t roomtype.RoomType, config roomtype.Config, opts Options) *Room {
	if opts.Scheduler == nil {
		opts.Scheduler = WallClock()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Room{
		id:         id,
		roomType:   t,
		config:     config,
		opts:       opts,
		createdAt:  opts.Now(),
		users:      make(map[string]User),
		startVotes: make(map[string]struct{}),
		skipVotes:  make(map[string]struct{}),
	}
}

func (r *Room) ID() int                 { return r.id }
func (r *Room) Type() roomtype.RoomType { return r.roomType }
func (r *Room) Config() roomtype.Config { return r.config }

// Acquire takes the room's publish order. Callers hold it from an operation until
// they have delivered its Outcome so members observe outcomes in the order they
// were applied. Timer callbacks take it before touching state.
func (r *Room) Acquire() { r.order.Lock() }

func (r *Room) Release() { r.order.Unlock() }

func (r *Room) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

func (r *Room) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Room) HasStarted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

func (r *Room) AddUser(user User) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.closed:
		return Outcome{}, ErrRoomClosed
	case r.isMemberLocked(user.ID):
		return Outcome{}, ErrAlreadyMember
	case r.opts.Capacity > 0 && len(r.users) >= r.opts.Capacity:
		return Outcome{}, ErrRoomFull
	}

	if user.JoinedAt.IsZero() {
		user.JoinedAt = r.opts.Now()
	}
	r.users[user.ID] = user
	r.queue = append(r.queue, user)

	if !r.started && len(r.queue) == 1 && r.autoStart == nil {
		r.armAutoStartLocked()
	}

	out := r.outcomeLocked(ReasonJoin)
	out.QueueChanged = true
	out.SkipVotes = r.skipTallyLocked()
	if !r.started {
		out.StartVotes = r.startTallyLocked()
	}
	return out, nil
}

func (r *Room) RemoveUser(userID string) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, pos, ok := lo.FindIndexOf(r.queue, func(u User) bool { return u.ID == userID })
	if !ok {
		return r.ignoredLocked(ReasonLeave)
	}

	previous, hadSpeaker := r.currentSpeakerLocked()

	delete(r.users, userID)
	delete(r.startVotes, userID)
	delete(r.skipVotes, userID)
	r.queue = slices.Delete(r.queue, pos, pos+1)

	// The index stays put; whoever now sits there speaks.
	if r.speakerIndex >= len(r.queue) {
		r.speakerIndex = 0
	}

	out := Outcome{RoomID: r.id, Reason: ReasonLeave, QueueChanged: true}

	if len(r.queue) == 0 {
		r.cancelAutoStartLocked()
		r.stopWatchdogLocked()
	} else if r.started {
		current, _ := r.currentSpeakerLocked()
		if !hadSpeaker || current.ID != previous.ID {
			r.designateLocked()
			out.SpeakerChanged = true
		}
	}

	if len(r.users) == 0 {
		r.closed = true
		out.Empty = true
	} else if r.started {
		out.SkipVotes = r.skipTallyLocked()
	} else {
		out.StartVotes = r.startTallyLocked()
	}

	r.fillLocked(&out)
	return out
}

func (r *Room) VoteToStart(userID string) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started || !r.isMemberLocked(userID) {
		return r.ignoredLocked(ReasonStartVote)
	}

	r.startVotes[userID] = struct{}{}
	if len(r.startVotes) >= r.config.MinVotesToStart {
		return r.forceStartLocked(ReasonStartVote)
	}

	out := r.outcomeLocked(ReasonStartVote)
	out.StartVotes = r.startTallyLocked()
	return out
}

// ForceStart moves a Waiting room to Active. It is a no-op on an Active room.
func (r *Room) ForceStart() Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.forceStartLocked(ReasonForceStart)
}

func (r *Room) VoteSkip(userID string) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started || !r.isMemberLocked(userID) || len(r.queue) == 0 {
		return r.ignoredLocked(ReasonSkipVote)
	}

	r.skipVotes[userID] = struct{}{}
	needed := r.skipNeededLocked()

	var out Outcome
	if len(r.skipVotes) >= needed {
		out = r.advanceLocked(ReasonSkipVote)
	} else {
		out = r.outcomeLocked(ReasonSkipVote)
	}
	out.SkipVotes = &Tally{Votes: len(r.skipVotes), Needed: needed}
	return out
}

// NextSpeaker unconditionally hands the turn to the next queued user.
func (r *Room) NextSpeaker() Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.advanceLocked(ReasonNext)
}

// ExpireTurn handles a speaker reporting that their time ran out. Reports from
// anyone but the current speaker, or for a turn other than the current one, are
// ignored. A zero turn skips the generation check.
func (r *Room) ExpireTurn(userID string, turn uint64) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	speaker, ok := r.currentSpeakerLocked()
	if !r.started || !ok || speaker.ID != userID || (turn != 0 && turn != r.turn) {
		return r.ignoredLocked(ReasonTimeout)
	}
	return r.advanceLocked(ReasonTimeout)
}

func (r *Room) CurrentSpeaker() (User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentSpeakerLocked()
}

func (r *Room) SkipVotesNeeded() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.skipNeededLocked()
}

func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		ID:         r.id,
		Type:       r.roomType,
		Label:      r.config.Label,
		Duration:   r.config.Duration,
		Queue:      r.queueIDsLocked(),
		Members:    len(r.users),
		HasStarted: r.started,
		Turn:       r.turn,
		StartVotes: *r.startTallyLocked(),
		SkipVotes:  *r.skipTallyLocked(),
		CreatedAt:  r.createdAt,
	}
	if speaker, ok := r.currentSpeakerLocked(); ok && r.started {
		snap.Speaker = speaker.ID
	}
	return snap
}

// Close stops the room's timers and refuses further members.
func (r *Room) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.cancelAutoStartLocked()
	r.stopWatchdogLocked()
}

func (r *Room) forceStartLocked(reason Reason) Outcome {
	if r.started {
		return r.ignoredLocked(reason)
	}

	r.started = true
	clear(r.startVotes)
	r.cancelAutoStartLocked()

	out := Outcome{RoomID: r.id, Reason: reason, Started: true}
	if len(r.queue) > 0 {
		r.designateLocked()
		out.SpeakerChanged = true
	}
	r.fillLocked(&out)
	return out
}

func (r *Room) advanceLocked(reason Reason) Outcome {
	if len(r.queue) == 0 {
		return r.ignoredLocked(reason)
	}

	r.speakerIndex = (r.speakerIndex + 1) % len(r.queue)
	r.designateLocked()

	out := Outcome{RoomID: r.id, Reason: reason, Rotated: true, SpeakerChanged: true}
	r.fillLocked(&out)
	return out
}

// designateLocked starts a new turn for whoever sits at the speaker index.
func (r *Room) designateLocked() {
	clear(r.skipVotes)
	r.turn++
	r.armWatchdogLocked()
}

func (r *Room) armAutoStartLocked() {
	if r.opts.AutoStartWindow <= 0 {
		return
	}
	r.autoStartGen++
	gen := r.autoStartGen
	r.autoStart = r.opts.Scheduler.AfterFunc(r.opts.AutoStartWindow, func() {
		r.fireAutoStart(gen)
	})
}

func (r *Room) cancelAutoStartLocked() {
	if r.autoStart != nil {
		r.autoStart.Stop()
		r.autoStart = nil
	}
	r.autoStartGen++
}

func (r *Room) fireAutoStart(gen uint64) {
	r.Acquire()
	defer r.Release()

	r.mu.Lock()
	if gen != r.autoStartGen || r.closed || len(r.queue) == 0 {
		r.mu.Unlock()
		return
	}
	r.autoStart = nil
	out := r.forceStartLocked(ReasonAutoStart)
	r.mu.Unlock()

	if !out.Ignored {
		r.notify(out)
	}
}

func (r *Room) armWatchdogLocked() {
	r.stopWatchdogLocked()
	if r.opts.TurnGrace < 0 || len(r.queue) == 0 {
		return
	}
	turn := r.turn
	r.watchdog = r.opts.Scheduler.AfterFunc(r.config.Duration+r.opts.TurnGrace, func() {
		r.fireWatchdog(turn)
	})
}

func (r *Room) stopWatchdogLocked() {
	if r.watchdog != nil {
		r.watchdog.Stop()
		r.watchdog = nil
	}
}

func (r *Room) fireWatchdog(turn uint64) {
	r.Acquire()
	defer r.Release()

	r.mu.Lock()
	if !r.started || r.closed || turn != r.turn {
		r.mu.Unlock()
		return
	}
	out := r.advanceLocked(ReasonWatchdog)
	r.mu.Unlock()

	if !out.Ignored {
		r.notify(out)
	}
}

func (r *Room) notify(out Outcome) {
	if r.opts.Notify != nil {
		r.opts.Notify(r, out)
	}
}

func (r *Room) isMemberLocked(userID string) bool {
	_, ok := r.users[userID]
	return ok
}

func (r *Room) currentSpeakerLocked() (User, bool) {
	if len(r.queue) == 0 {
		return User{}, false
	}
	return r.queue[r.speakerIndex], true
}

// skipNeededLocked is ceil(members / 2), always from live membership.
func (r *Room) skipNeededLocked() int {
	return (len(r.users) + 1) / 2
}

func (r *Room) skipTallyLocked() *Tally {
	return &Tally{Votes: len(r.skipVotes), Needed: r.skipNeededLocked()}
}

func (r *Room) startTallyLocked() *Tally {
	return &Tally{Votes: len(r.startVotes), Needed: r.config.MinVotesToStart}
}

func (r *Room) queueIDsLocked() []string {
	return lo.Map(r.queue, func(u User, _ int) string { return u.ID })
}

func (r *Room) outcomeLocked(reason Reason) Outcome {
	out := Outcome{RoomID: r.id, Reason: reason}
	r.fillLocked(&out)
	return out
}

func (r *Room) ignoredLocked(reason Reason) Outcome {
	out := r.outcomeLocked(reason)
	out.Ignored = true
	return out
}

func (r *Room) fillLocked(out *Outcome) {
	out.Queue = r.queueIDsLocked()
	out.HasStarted = r.started
	out.Turn = r.turn
	if speaker, ok := r.currentSpeakerLocked(); ok && r.started {
		out.Speaker = speaker.ID
	}
}
