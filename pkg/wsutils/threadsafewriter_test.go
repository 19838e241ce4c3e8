package wsutils

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentWrites(t *testing.T) {
	const writers, perWriter = 8, 25

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		writer := NewThreadSafeWriter("server", conn, 0)
		defer writer.Close()

		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				for j := 0; j < perWriter; j++ {
					assert.NoError(t, writer.WriteJSON(map[string]int{"writer": i, "seq": j}))
				}
			}(i)
		}
		wg.Wait()
		// Wait for the client to close after reading everything.
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	for i := 0; i < writers*perWriter; i++ {
		var msg map[string]int
		require.NoError(t, client.ReadJSON(&msg))
	}
}

func TestDefaults(t *testing.T) {
	w := NewThreadSafeWriter("abc", nil, 0)
	assert.Equal(t, "abc", w.ID())
	assert.Equal(t, DefaultWriteTimeout, w.writeTimeout)
}
