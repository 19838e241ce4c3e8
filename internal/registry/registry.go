// Package registry owns the process-wide table of live rooms.
package registry

import (
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/samber/lo"
	"github.com/strongfeels/stagedelight/internal/room"
	"github.com/strongfeels/stagedelight/internal/roomtype"
	"go.uber.org/atomic"
)

// Registry routes joins to rooms of the requested type and drops rooms once their
// last member leaves. Admission and removal both run under the registry lock, so a
// room is never filled past capacity and never admits anyone after it emptied.
type Registry struct {
	sync.Mutex

	logger  *slog.Logger
	catalog *roomtype.Catalog
	options room.Options
	rooms   map[int]*room.Room
	nextID  atomic.Int64
	closed  bool

	notify atomic.Value
}

type Params struct {
	Catalog *roomtype.Catalog
	Options room.Options
	Logger  *slog.Logger
}

func New(params Params) *Registry {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		logger:  logger,
		catalog: params.Catalog,
		options: params.Options,
		rooms:   make(map[int]*room.Room),
	}
	r.options.Notify = r.dispatch
	return r
}

// OnOutcome registers the receiver of outcomes rooms produce on their own timers.
func (r *Registry) OnOutcome(fn room.Notifier) {
	r.notify.Store(fn)
}

func (r *Registry) dispatch(rm *room.Room, out room.Outcome) {
	if fn, ok := r.notify.Load().(room.Notifier); ok && fn != nil {
		fn(rm, out)
	}
}

func (r *Registry) Catalog() *roomtype.Catalog { return r.catalog }

// Capacity is the member limit applied to every room; zero means unbounded.
func (r *Registry) Capacity() int { return r.options.Capacity }

// FindOrCreate returns the lowest-id open room of type t with a free seat, or a
// freshly registered one.
func (r *Registry) FindOrCreate(t roomtype.RoomType) (*room.Room, error) {
	r.Lock()
	defer r.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}
	if rm := r.findLocked(t); rm != nil {
		return rm, nil
	}
	return r.createLocked(t)
}

// Join admits user into the lowest-id room of type t with a free seat, creating one
// when none has room. The final check and the admission happen under one registry
// lock hold, so two concurrent joiners cannot both take the last seat.
//
// The room is returned acquired (see room.Room.Acquire); the caller releases it
// once the outcome has been published. Lock order is room order, then registry,
// then the room's state lock.
func (r *Registry) Join(t roomtype.RoomType, user room.User) (*room.Room, room.Outcome, error) {
	for {
		r.Lock()
		if r.closed {
			r.Unlock()
			return nil, room.Outcome{}, ErrRegistryClosed
		}

		candidate := r.findLocked(t)
		if candidate == nil {
			rm, out, err := r.createAndJoinLocked(t, user)
			r.Unlock()
			return rm, out, err
		}
		r.Unlock()

		candidate.Acquire()
		out, admitted, err := r.admit(t, candidate, user)
		if err != nil {
			candidate.Release()
			return nil, room.Outcome{}, err
		}
		if admitted {
			return candidate, out, nil
		}
		candidate.Release()
	}
}

// admit adds user to candidate if a fresh scan would still pick it.
func (r *Registry) admit(t roomtype.RoomType, candidate *room.Room, user room.User) (room.Outcome, bool, error) {
	r.Lock()
	defer r.Unlock()

	if r.closed {
		return room.Outcome{}, false, ErrRegistryClosed
	}
	if r.findLocked(t) != candidate {
		return room.Outcome{}, false, nil
	}
	out, err := candidate.AddUser(user)
	switch {
	case err == nil:
		return out, true, nil
	case errors.Is(err, room.ErrRoomFull), errors.Is(err, room.ErrRoomClosed):
		return room.Outcome{}, false, nil
	default:
		return room.Outcome{}, false, err
	}
}

// createAndJoinLocked registers a fresh room and admits user. Nobody else can reach
// the room before the registry lock is released, so acquiring it cannot block.
func (r *Registry) createAndJoinLocked(t roomtype.RoomType, user room.User) (*room.Room, room.Outcome, error) {
	rm, err := r.createLocked(t)
	if err != nil {
		return nil, room.Outcome{}, err
	}
	rm.Acquire()
	out, err := rm.AddUser(user)
	if err != nil {
		rm.Release()
		return nil, room.Outcome{}, err
	}
	return rm, out, nil
}

// Leave removes userID from rm and unregisters rm when it became empty. Callers
// that publish the outcome hold rm's order (room.Room.Acquire) around it.
func (r *Registry) Leave(rm *room.Room, userID string) room.Outcome {
	r.Lock()
	defer r.Unlock()

	out := rm.RemoveUser(userID)
	if out.Empty {
		r.removeLocked(rm.ID())
	}
	return out
}

func (r *Registry) Remove(id int) {
	r.Lock()
	defer r.Unlock()
	r.removeLocked(id)
}

func (r *Registry) Get(id int) (*room.Room, bool) {
	r.Lock()
	defer r.Unlock()
	rm, ok := r.rooms[id]
	return rm, ok
}

// Rooms lists live rooms in ascending id order.
func (r *Registry) Rooms() []*room.Room {
	r.Lock()
	defer r.Unlock()
	return r.sortedLocked()
}

// Stats sums membership per room type. Every declared type is present.
func (r *Registry) Stats() map[roomtype.RoomType]int {
	r.Lock()
	defer r.Unlock()

	stats := lo.SliceToMap(r.catalog.Types(), func(t roomtype.RoomType) (roomtype.RoomType, int) {
		return t, 0
	})
	for _, rm := range r.rooms {
		stats[rm.Type()] += rm.Size()
	}
	return stats
}

// Close stops every room's timers and refuses further joins.
func (r *Registry) Close() {
	r.Lock()
	defer r.Unlock()

	r.closed = true
	for id, rm := range r.rooms {
		rm.Close()
		delete(r.rooms, id)
	}
}

func (r *Registry) findLocked(t roomtype.RoomType) *room.Room {
	for _, rm := range r.sortedLocked() {
		if rm.Type() != t || rm.Closed() {
			continue
		}
		if r.options.Capacity <= 0 || rm.Size() < r.options.Capacity {
			return rm
		}
	}
	return nil
}

func (r *Registry) createLocked(t roomtype.RoomType) (*room.Room, error) {
	config, ok := r.catalog.Get(t)
	if !ok {
		return nil, roomtype.ErrUnknownRoomType
	}

	id := int(r.nextID.Inc())
	rm := room.New(id, t, config, r.options)
	r.rooms[id] = rm

	r.logger.Info("room created", slog.Int("room", id), slog.String("type", string(t)))
	return rm, nil
}

func (r *Registry) removeLocked(id int) {
	rm, ok := r.rooms[id]
	if !ok {
		return
	}
	rm.Close()
	delete(r.rooms, id)

	r.logger.Info("room removed", slog.Int("room", id), slog.String("type", string(rm.Type())))
}

func (r *Registry) sortedLocked() []*room.Room {
	ids := lo.Keys(r.rooms)
	slices.Sort(ids)
	return lo.Map(ids, func(id int, _ int) *room.Room { return r.rooms[id] })
}
