package contracts

// Routing keys for room lifecycle events.
const (
	EventRoomCreated  = "room.created"
	EventRoomDeleted  = "room.deleted"
	EventMemberJoined = "member.joined"
	EventMemberLeft   = "member.left"
)

// RoomEvent is the AMQP body of every lifecycle event. It never carries
// passwords or message content.
type RoomEvent struct {
	RoomID string `json:"roomId"`
	Member string `json:"member,omitempty"`
	Count  int    `json:"count"`
	At     string `json:"at"`
}
