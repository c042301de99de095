package realtime

import "github.com/bytedance/sonic"

// Board events emitted after a successful mutation.
const (
	TaskCreated            = "task:created"
	TaskUpdated            = "task:updated"
	TaskMoved              = "task:moved"
	TaskDeleted            = "task:deleted"
	TasksReordered         = "tasks:reordered"
	TasksImported          = "tasks:imported"
	ProjectUpdated         = "project:updated"
	ProjectColumnsUpdated  = "project:columns-updated"
	ProjectDeleted         = "project:deleted"
	ProjectMemberJoined    = "project:member-joined"
	ProjectMemberRemoved   = "project:member-removed"
	UserJoinedProject      = "user:joined-project"
	UserRemovedFromProject = "user:removed-from-project"
)

// Connection level frames.
const (
	FrameJoin      = "join"
	FrameLeave     = "leave"
	FrameJoinUser  = "join-user"
	FrameLeaveUser = "leave-user"

	SocketJoined     = "socket:joined"
	SocketJoinedUser = "socket:joined-user"
	SocketError      = "socket:error"
)

const userRoomPrefix = "user:"

// Room names a fan-out group. Project rooms use the bare project id, user
// rooms are prefixed with "user:".
type Room string

func ProjectRoom(projectID string) Room { return Room(projectID) }

func UserRoom(userID string) Room { return Room(userRoomPrefix + userID) }

// Envelope is the unit travelling between the board API, Redis and the hub.
type Envelope struct {
	Room    Room                   `json:"room"`
	Event   string                 `json:"event"`
	Payload sonic.NoCopyRawMessage `json:"payload,omitempty"`
}

// NewEnvelope encodes payload for delivery to room.
func NewEnvelope(room Room, event string, payload any) (Envelope, error) {
	env := Envelope{Room: room, Event: event}
	if payload == nil {
		return env, nil
	}
	data, err := sonic.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	env.Payload = data
	return env, nil
}

// Frame is the websocket wire shape in both directions.
type Frame struct {
	Type    string                 `json:"type"`
	Payload sonic.NoCopyRawMessage `json:"payload,omitempty"`
}
