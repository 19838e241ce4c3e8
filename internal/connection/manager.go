// Package connection tracks live client connections and the room each one sits in.
package connection

import (
	"sync"

	"github.com/samber/lo"
	"github.com/strongfeels/stagedelight/internal/room"
	"go.uber.org/atomic"
)

// Conn is a client transport able to deliver JSON messages.
type Conn interface {
	ID() string
	WriteJSON(v any) error
	Close() error
}

type entry struct {
	conn Conn
	room *room.Room
}

// Manager maps each connection to at most one room.
type Manager struct {
	mu    sync.RWMutex
	conns map[string]*entry
	count atomic.Int64
}

func NewManager() *Manager {
	return &Manager{conns: make(map[string]*entry)}
}

func (m *Manager) Register(conn Conn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exist := m.conns[conn.ID()]; exist {
		return ErrConnectionExists
	}
	m.conns[conn.ID()] = &entry{conn: conn}
	m.count.Inc()
	return nil
}

// Unregister forgets the connection and returns the room it was bound to, if any.
func (m *Manager) Unregister(id string) *room.Room {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, exist := m.conns[id]
	if !exist {
		return nil
	}
	delete(m.conns, id)
	m.count.Dec()
	return e.room
}

func (m *Manager) Bind(id string, rm *room.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, exist := m.conns[id]
	if !exist {
		return ErrConnectionNotFound
	}
	e.room = rm
	return nil
}

// Unbind clears the connection's room and returns the previous one.
func (m *Manager) Unbind(id string) *room.Room {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, exist := m.conns[id]
	if !exist {
		return nil
	}
	rm := e.room
	e.room = nil
	return rm
}

func (m *Manager) RoomOf(id string) (*room.Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, exist := m.conns[id]
	if !exist || e.room == nil {
		return nil, false
	}
	return e.room, true
}

func (m *Manager) Get(id string) (Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, exist := m.conns[id]
	if !exist {
		return nil, false
	}
	return e.conn, true
}

func (m *Manager) All() []Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return lo.MapToSlice(m.conns, func(_ string, e *entry) Conn { return e.conn })
}

// InRoom returns the connections currently bound to the room with the given id.
func (m *Manager) InRoom(roomID int) []Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Conn
	for _, e := range m.conns {
		if e.room != nil && e.room.ID() == roomID {
			result = append(result, e.conn)
		}
	}
	return result
}

func (m *Manager) Count() int {
	return int(m.count.Load())
}
