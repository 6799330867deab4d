package relay

// Server-originated event envelopes. Field names are part of the wire
// protocol consumed by the browser client.

const (
	eventUserJoined = "user-joined"
	eventRoomInfo   = "room-info"
	eventUserLeft   = "user-left"
)

const (
	joinedMessage = "A new user joined the call"
	leftMessage   = "A user left the call"
)

type userJoinedEvent struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	Message  string `json:"message"`
	RoomSize int    `json:"room_size"`
}

type roomInfoEvent struct {
	Type        string `json:"type"`
	RoomID      string `json:"room_id"`
	UserID      string `json:"user_id"`
	RoomSize    int    `json:"room_size"`
	IsInitiator bool   `json:"is_initiator"`
}

type userLeftEvent struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	Message  string `json:"message"`
	RoomSize int    `json:"room_size"`
}
