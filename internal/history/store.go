package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	_ "modernc.org/sqlite"
)

const (
	bufferSize   = 1024
	defaultLimit = 200
)

const schema = `
CREATE TABLE IF NOT EXISTS room_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	instance TEXT NOT NULL,
	room_id INTEGER NOT NULL,
	room_type TEXT NOT NULL,
	kind TEXT NOT NULL,
	user_id TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT '',
	turn INTEGER NOT NULL DEFAULT 0,
	at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_room_events_room ON room_events(instance, room_id, id);
`

// Store writes events to SQLite from a single background goroutine. Room ids restart
// with the process, so every row is tagged with the id of the process that wrote it
// and reads only see the current process.
type Store struct {
	db       *sql.DB
	logger   *slog.Logger
	instance string

	mu     sync.RWMutex
	closed bool
	events chan Event
	done   chan struct{}

	pending atomic.Int64
	dropped atomic.Int64
}

func Open(path string, logger *slog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer goroutine; a single connection avoids SQLITE_BUSY between it and readers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s := &Store{
		db:       db,
		logger:   logger,
		instance: uuid.NewString(),
		events:   make(chan Event, bufferSize),
		done:     make(chan struct{}),
	}
	go s.run()

	logger.Info("history store opened", slog.String("path", path), slog.String("instance", s.instance))
	return s, nil
}

// Record queues e for writing. When the buffer is full the event is dropped.
func (s *Store) Record(e Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}

	s.pending.Inc()
	select {
	case s.events <- e:
	default:
		s.pending.Dec()
		if n := s.dropped.Inc(); n == 1 || n%100 == 0 {
			s.logger.Warn("history buffer full, dropping events", slog.Int64("dropped", n))
		}
	}
}

func (s *Store) run() {
	defer close(s.done)
	for e := range s.events {
		if err := s.insert(e); err != nil {
			s.logger.Error("history insert", slog.Int("room", e.RoomID), slog.String("err", err.Error()))
		}
		s.pending.Dec()
	}
}

func (s *Store) insert(e Event) error {
	_, err := s.db.Exec(
		`INSERT INTO room_events (instance, room_id, room_type, kind, user_id, reason, turn, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.instance, e.RoomID, e.RoomType, string(e.Kind), e.UserID, e.Reason, int64(e.Turn), e.At.UTC(),
	)
	return err
}

// ListByRoom returns the oldest limit events of a room in insertion order.
func (s *Store) ListByRoom(ctx context.Context, roomID int, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT room_id, room_type, kind, user_id, reason, turn, at
		 FROM room_events WHERE instance = ? AND room_id = ? ORDER BY id LIMIT ?`,
		s.instance, roomID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]Event, 0)
	for rows.Next() {
		var (
			e    Event
			kind string
			turn int64
		)
		if err := rows.Scan(&e.RoomID, &e.RoomType, &kind, &e.UserID, &e.Reason, &turn, &e.At); err != nil {
			return nil, err
		}
		e.Kind = Kind(kind)
		e.Turn = uint64(turn)
		result = append(result, e)
	}
	return result, rows.Err()
}

// Close stops accepting events, drains the queue and closes the database.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	s.closed = true
	close(s.events)
	s.mu.Unlock()

	select {
	case <-s.done:
	case <-ctx.Done():
		s.logger.Warn("history drain interrupted", slog.String("err", ctx.Err().Error()))
	}
	return s.db.Close()
}

// Flush blocks until every event queued so far has been written.
func (s *Store) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for s.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
