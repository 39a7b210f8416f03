package ws

// Envelope types on the wire.
const (
	TypeJoin     = "join"
	TypeChat     = "chat"
	TypeRoomInfo = "room-info"
	TypeError    = "error"
)

// Close codes and reasons sent when the relay ends a connection.
const (
	CloseGoingAway       = 1001
	ClosePolicyViolation = 1008
	CloseMessageTooBig   = 1009

	reasonShuttingDown = "Server shutting down"
	reasonTooSlow      = "Client too slow"
	reasonTooLarge     = "Message too large"
)

type EventKind int

const (
	EventOpen EventKind = iota + 1
	EventMessage
	EventClose
	EventProbeAck
	EventSweepTick
	EventShutdown
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventClose:
		return "close"
	case EventProbeAck:
		return "probe-ack"
	case EventSweepTick:
		return "sweep-tick"
	case EventShutdown:
		return "shutdown"
	}
	return "unknown"
}

// Event is everything the Core reacts to. Conn is only set for EventOpen and
// Data only for EventMessage.
type Event struct {
	Kind   EventKind
	ConnID ConnID
	Conn   Conn
	Data   []byte
}
