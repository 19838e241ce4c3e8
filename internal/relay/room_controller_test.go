package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	echo "github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/strongfeels/stagedelight/internal/history"
	"github.com/strongfeels/stagedelight/internal/room"
	"github.com/strongfeels/stagedelight/pkg/protocol"
)

func newTestServer(t *testing.T, f *fixture, recorder history.Recorder, options SocketOptions) *httptest.Server {
	t.Helper()
	ctrl := NewRoomController(newRoomController_Params{
		Logger:   f.relay.logger,
		Relay:    f.relay,
		Registry: f.registry,
		History:  recorder,
		Options:  options,
	})

	router := echo.New()
	require.NoError(t, ctrl.Resolve(router))

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads messages until one with the given event arrives.
func readUntil(t *testing.T, conn *websocket.Conn, event string) protocol.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg protocol.Message
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Event == event {
			return msg
		}
	}
}

func TestSocketJoinFlow(t *testing.T) {
	f := newFixture(t, room.Options{})
	srv := newTestServer(t, f, f.history, SocketOptions{})

	alice := dial(t, srv)
	readUntil(t, alice, protocol.EventRoomStats)

	require.NoError(t, alice.WriteJSON(protocol.Message{
		Event: protocol.EventJoinRoom,
		Data:  json.RawMessage(`{"roomType":"concert"}`),
	}))

	var joined protocol.RoomJoined
	msg := readUntil(t, alice, protocol.EventRoomJoined)
	require.NoError(t, json.Unmarshal(msg.Data, &joined))
	assert.Equal(t, "concert", joined.RoomType)
	assert.Equal(t, 360, joined.Duration)
	assert.Equal(t, []string{joined.UserID}, joined.Queue)

	bob := dial(t, srv)
	readUntil(t, bob, protocol.EventRoomStats)
	require.NoError(t, bob.WriteJSON(protocol.Message{Event: protocol.EventJoinRoom, Data: json.RawMessage(`{"roomType":"concert"}`)}))
	readUntil(t, alice, protocol.EventUserJoined)

	// Closing the socket is a departure.
	require.NoError(t, bob.Close())
	left := readUntil(t, alice, protocol.EventUserLeft)
	assert.NotEmpty(t, left.Data)

	assert.Eventually(t, func() bool { return f.conns.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestSocketRateLimit(t *testing.T) {
	f := newFixture(t, room.Options{})
	srv := newTestServer(t, f, f.history, SocketOptions{MessagesPerSecond: 0.001, MessageBurst: 1})

	conn := dial(t, srv)
	readUntil(t, conn, protocol.EventRoomStats)

	require.NoError(t, conn.WriteJSON(protocol.Message{Event: protocol.EventPing}))
	readUntil(t, conn, protocol.EventPong)

	require.NoError(t, conn.WriteJSON(protocol.Message{Event: protocol.EventPing}))
	msg := readUntil(t, conn, protocol.EventError)

	var payload protocol.Error
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Equal(t, ErrRateLimited.Error(), payload.Message)
}

func TestHTTPEndpoints(t *testing.T) {
	f := newFixture(t, room.Options{})
	srv := newTestServer(t, f, f.history, SocketOptions{})

	a := f.connect(t, "a")
	joined := f.join(t, a, "classroom")

	getJSON := func(path string, v any) int {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		if v != nil && resp.StatusCode == http.StatusOK {
			require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
		}
		return resp.StatusCode
	}

	var stats map[string]int
	assert.Equal(t, http.StatusOK, getJSON("/api/v1/stats", &stats))
	assert.Equal(t, 1, stats["classroom"])

	var types protocol.RoomTypeListResponse
	assert.Equal(t, http.StatusOK, getJSON("/api/v1/room-types", &types))
	require.Len(t, types.RoomTypes, 5)
	assert.Equal(t, "conference", types.RoomTypes[0].RoomType)
	assert.Equal(t, 900, types.RoomTypes[0].Duration)
	assert.Equal(t, 5, types.RoomTypes[0].Capacity)

	var rooms protocol.RoomListResponse
	assert.Equal(t, http.StatusOK, getJSON("/api/v1/rooms", &rooms))
	require.Len(t, rooms.Rooms, 1)
	assert.Equal(t, joined.RoomID, rooms.Rooms[0].RoomID)
	assert.Equal(t, []string{"a"}, rooms.Rooms[0].Queue)
	assert.Equal(t, 2, rooms.Rooms[0].StartVotes.Needed)

	var events []history.Event
	assert.Equal(t, http.StatusOK, getJSON("/api/v1/rooms/1/history", &events))
	require.Len(t, events, 1)
	assert.Equal(t, history.KindJoined, events[0].Kind)

	assert.Equal(t, http.StatusBadRequest, getJSON("/api/v1/rooms/abc/history", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON("/api/v1/rooms/1/history?limit=-2", nil))
}

func TestHistoryDisabled(t *testing.T) {
	f := newFixture(t, room.Options{})
	srv := newTestServer(t, f, history.Nop{}, SocketOptions{})

	resp, err := http.Get(srv.URL + "/api/v1/rooms/1/history")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCheckOrigin(t *testing.T) {
	anyOrigin := checkOrigin([]string{"*"})
	restricted := checkOrigin([]string{"https://stage.example"})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://evil.example")
	assert.True(t, anyOrigin(req))
	assert.False(t, restricted(req))

	req.Header.Set("Origin", "https://stage.example")
	assert.True(t, restricted(req))
}
