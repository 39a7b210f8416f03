package ws

import "errors"

var ErrConnectionClosed = errors.New("connection closed")

type ConnID string

// Conn is the transport side of a relay connection as seen by the Core. All
// methods must return promptly.
type Conn interface {
	// Send queues a text frame.
	Send(data []byte) error
	// BufferedAmount is the number of queued bytes not yet written.
	BufferedAmount() int
	IsOpen() bool
	// Ping queues a liveness probe. The answer arrives as EventProbeAck.
	Ping() error
	// Close starts the closing handshake with the given code and reason.
	Close(code int, reason string)
	// Terminate drops the transport without a closing handshake.
	Terminate()
}
