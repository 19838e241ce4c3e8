package wsutils

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const DefaultWriteTimeout = 5 * time.Second

// ThreadSafeWriter serializes writes on a websocket connection. Reads stay owned by
// the single reader goroutine.
type ThreadSafeWriter struct {
	*websocket.Conn
	sync.Mutex

	id           string
	writeTimeout time.Duration
}

func (t *ThreadSafeWriter) ID() string { return t.id }

func (t *ThreadSafeWriter) WriteJSON(val any) error {
	t.Lock()
	defer t.Unlock()

	if err := t.Conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return err
	}
	return t.Conn.WriteJSON(val)
}

// WriteControl is safe to call concurrently with WriteJSON.
func (t *ThreadSafeWriter) WriteControl(messageType int, data []byte) error {
	t.Lock()
	defer t.Unlock()

	return t.Conn.WriteControl(messageType, data, time.Now().Add(t.writeTimeout))
}

func (t *ThreadSafeWriter) Close() error {
	return t.Conn.Close()
}

func (t *ThreadSafeWriter) ReadJSON(val any) error {
	return t.Conn.ReadJSON(val)
}

func NewThreadSafeWriter(id string, conn *websocket.Conn, writeTimeout time.Duration) *ThreadSafeWriter {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &ThreadSafeWriter{
		Conn:         conn,
		id:           id,
		writeTimeout: writeTimeout,
	}
}
