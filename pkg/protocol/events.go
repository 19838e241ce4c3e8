package protocol

import "encoding/json"

type RoomID = int

type UserID = string

// Inbound events.
const (
	EventJoinRoom     = "join-room"
	EventVoteToStart  = "vote-to-start"
	EventVoteSkip     = "vote-skip"
	EventTimeExpired  = "time-expired"
	EventLeaveRoom    = "leave-room"
	EventPing         = "ping"
	EventOffer        = "offer"
	EventAnswer       = "answer"
	EventIceCandidate = "ice-candidate"
)

// Outbound events.
const (
	EventRoomStats         = "room-stats"
	EventRoomJoined        = "room-joined"
	EventUserJoined        = "user-joined"
	EventUserLeft          = "user-left"
	EventQueueUpdated      = "queue-updated"
	EventStartVotesUpdated = "start-votes-updated"
	EventRoomStarted       = "room-started"
	EventSpeakerChanged    = "speaker-changed"
	EventSkipVotesUpdated  = "skip-votes-updated"
	EventError             = "error"
	EventPong              = "pong"
)

// Message is the websocket envelope in both directions.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewMessage marshals data into an envelope. A nil data yields no payload.
func NewMessage(event string, data any) (Message, error) {
	if data == nil {
		return Message{Event: event}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, err
	}
	return Message{Event: event, Data: raw}, nil
}

type JoinRoomRequest struct {
	RoomType string `json:"roomType"`
}

// TimeExpiredRequest optionally names the turn the report is about. Zero skips the
// stale report check.
type TimeExpiredRequest struct {
	Turn uint64 `json:"turn,omitempty"`
}

// RelayRequest carries an opaque negotiation payload to another connection.
type RelayRequest struct {
	To      UserID          `json:"to"`
	Payload json.RawMessage `json:"payload"`
}

type RelayMessage struct {
	From    UserID          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

type RoomStats map[string]int

type RoomJoined struct {
	RoomID     RoomID   `json:"roomId"`
	RoomType   string   `json:"roomType"`
	Label      string   `json:"label"`
	UserID     UserID   `json:"userId"`
	Queue      []UserID `json:"queue"`
	HasStarted bool     `json:"hasStarted"`
	// Duration is the turn length in seconds.
	Duration int `json:"duration"`
}

type StartVotes struct {
	Votes      int  `json:"votes"`
	Needed     int  `json:"needed"`
	HasStarted bool `json:"hasStarted"`
}

type SkipVotes struct {
	Votes  int `json:"votes"`
	Needed int `json:"needed"`
}

type Speaker struct {
	SpeakerID UserID `json:"speakerId"`
	Turn      uint64 `json:"turn"`
}

type Error struct {
	Message string `json:"message"`
}

// RoomInfo is the HTTP listing shape of a live room.
type RoomInfo struct {
	RoomID     RoomID     `json:"roomId"`
	RoomType   string     `json:"roomType"`
	Label      string     `json:"label"`
	Duration   int        `json:"duration"`
	Members    int        `json:"members"`
	Queue      []UserID   `json:"queue"`
	HasStarted bool       `json:"hasStarted"`
	SpeakerID  UserID     `json:"speakerId,omitempty"`
	Turn       uint64     `json:"turn"`
	StartVotes StartVotes `json:"startVotes"`
	SkipVotes  SkipVotes  `json:"skipVotes"`
	CreatedAt  int64      `json:"createdAt"`
}

type RoomListResponse struct {
	Rooms []RoomInfo `json:"rooms"`
}

type RoomTypeInfo struct {
	RoomType        string `json:"roomType"`
	Label           string `json:"label"`
	Duration        int    `json:"duration"`
	MinVotesToStart int    `json:"minVotesToStart"`
	Capacity        int    `json:"capacity"`
}

type RoomTypeListResponse struct {
	RoomTypes []RoomTypeInfo `json:"roomTypes"`
}
