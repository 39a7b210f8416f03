package ws

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hilthontt/roomrelay/internal/infrastructure/logging"
)

const defaultWriteWait = 10 * time.Second

// Client adapts a gorilla connection to Conn. Outbound frames are queued and
// written by a single write pump so the Core never blocks on the network.
type Client struct {
	id        ConnID
	conn      *websocket.Conn
	core      *Core
	logger    logging.Logger
	writeWait time.Duration

	mu         sync.Mutex
	queue      [][]byte
	buffered   int
	closeFrame []byte

	pingPending atomic.Bool
	open        atomic.Bool
	wake        chan struct{}
	done        chan struct{}
	closeOnce   sync.Once
	termOnce    sync.Once
}

func NewClient(conn *websocket.Conn, id ConnID, core *Core, logger logging.Logger) *Client {
	c := &Client{
		id:        id,
		conn:      conn,
		core:      core,
		logger:    logger,
		writeWait: defaultWriteWait,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	c.open.Store(true)
	return c
}

func (c *Client) ID() ConnID {
	return c.id
}

// Start registers the client with the core and runs its pumps. It reports
// false when the core has already stopped.
func (c *Client) Start() bool {
	if !c.core.Submit(Event{Kind: EventOpen, ConnID: c.id, Conn: c}) {
		c.Close(CloseGoingAway, reasonShuttingDown)
		c.core.goWriter(c.writePump)
		return false
	}

	c.core.goWriter(c.writePump)
	go c.readPump()
	return true
}

func (c *Client) Send(data []byte) error {
	if !c.open.Load() {
		return ErrConnectionClosed
	}

	c.mu.Lock()
	c.queue = append(c.queue, data)
	c.buffered += len(data)
	c.mu.Unlock()

	c.signal()
	return nil
}

func (c *Client) BufferedAmount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffered
}

func (c *Client) IsOpen() bool {
	return c.open.Load()
}

func (c *Client) Ping() error {
	if !c.open.Load() {
		return ErrConnectionClosed
	}
	c.pingPending.Store(true)
	c.signal()
	return nil
}

// Close drops anything still queued, sends a close frame and then closes the
// socket.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.open.Store(false)

		c.mu.Lock()
		c.closeFrame = websocket.FormatCloseMessage(code, reason)
		c.queue = nil
		c.buffered = 0
		c.mu.Unlock()

		c.signal()
	})
}

func (c *Client) Terminate() {
	c.termOnce.Do(func() {
		c.open.Store(false)
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Client) readPump() {
	defer func() {
		c.core.Submit(Event{Kind: EventClose, ConnID: c.id})
		c.Terminate()
	}()

	// Liveness is the heartbeat's job, so no read deadline survives the upgrade.
	_ = c.conn.SetReadDeadline(time.Time{})
	c.conn.SetReadLimit(c.core.ReadLimit())
	c.conn.SetPongHandler(func(string) error {
		c.core.Submit(Event{Kind: EventProbeAck, ConnID: c.id})
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Debug(logging.Relay, logging.Connect, "read failed", map[logging.ExtraKey]any{
					logging.ConnID:       c.id,
					logging.ErrorMessage: err.Error(),
				})
			}
			return
		}

		if !c.core.Submit(Event{Kind: EventMessage, ConnID: c.id, Data: data}) {
			return
		}
	}
}

func (c *Client) writePump() {
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}

		if frame := c.takeCloseFrame(); frame != nil {
			_ = c.conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(c.writeWait))
			c.Terminate()
			return
		}

		if c.pingPending.Swap(false) {
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait)); err != nil {
				c.Terminate()
				return
			}
		}

		for c.open.Load() {
			msg, ok := c.next()
			if !ok {
				break
			}

			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			err := c.conn.WriteMessage(websocket.TextMessage, msg)
			c.release(len(msg))
			if err != nil {
				c.logger.Debug(logging.Relay, logging.Backpressure, "write failed", map[logging.ExtraKey]any{
					logging.ConnID:       c.id,
					logging.ErrorMessage: err.Error(),
				})
				c.Terminate()
				return
			}
		}
	}
}

func (c *Client) takeCloseFrame() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	frame := c.closeFrame
	c.closeFrame = nil
	return frame
}

func (c *Client) next() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) == 0 {
		return nil, false
	}
	msg := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	return msg, true
}

func (c *Client) release(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buffered -= n
	if c.buffered < 0 {
		c.buffered = 0
	}
}
