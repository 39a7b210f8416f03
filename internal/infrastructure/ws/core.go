package ws

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hilthontt/roomrelay/internal/infrastructure/events"
	"github.com/hilthontt/roomrelay/internal/infrastructure/logging"
	"github.com/hilthontt/roomrelay/internal/infrastructure/metrics"
	"github.com/hilthontt/roomrelay/internal/infrastructure/ratelimiter"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	MaxFrameSize      int
	MaxBufferedBytes  int
	HeartbeatInterval time.Duration
	EventQueueSize    int
	RateLimit         int
	RateWindow        time.Duration
	Rooms             RoomLimits
}

func DefaultConfig() Config {
	return Config{
		MaxFrameSize:      4_000_000,
		MaxBufferedBytes:  8 * 1024 * 1024,
		HeartbeatInterval: 30 * time.Second,
		EventQueueSize:    1024,
		RateLimit:         5,
		RateWindow:        time.Second,
		Rooms:             DefaultRoomLimits(),
	}
}

type Stats struct {
	Rooms       int `json:"rooms"`
	Connections int `json:"connections"`
}

type Option func(*Core)

func WithClock(clock ratelimiter.Clock) Option {
	return func(c *Core) { c.now = clock }
}

func WithMetrics(m *metrics.Relay) Option {
	return func(c *Core) { c.metrics = m }
}

func WithPublisher(p events.Publisher) Option {
	return func(c *Core) { c.publisher = p }
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Core) { c.tracer = t }
}

// Core owns the connection registry and the rooms. Every state change
// happens on the goroutine running Run, in the order events were submitted.
type Core struct {
	cfg       Config
	registry  *Registry
	rooms     *RoomManager
	limiter   *ratelimiter.FixedWindow
	inbox     chan Event
	done      chan struct{}
	now       ratelimiter.Clock
	logger    logging.Logger
	metrics   *metrics.Relay
	publisher events.Publisher
	tracer    trace.Tracer

	connections atomic.Int64
	roomCount   atomic.Int64

	// stopping refuses new submissions. inflight counts Submit calls that
	// passed the check and may still be enqueueing.
	stopping atomic.Bool
	inflight atomic.Int64

	writersMu     sync.RWMutex
	writersSealed bool
	writers       sync.WaitGroup
}

func NewCore(cfg Config, logger logging.Logger, opts ...Option) *Core {
	c := &Core{
		cfg:       cfg,
		registry:  NewRegistry(),
		inbox:     make(chan Event, cfg.EventQueueSize),
		done:      make(chan struct{}),
		now:       time.Now,
		logger:    logger,
		publisher: events.NopPublisher{},
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.metrics == nil {
		c.metrics = metrics.NewRelay(prometheus.NewRegistry())
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer("roomrelay/ws")
	}
	c.rooms = NewRoomManager(cfg.Rooms, c.now)
	c.limiter = ratelimiter.NewFixedWindow(cfg.RateLimit, cfg.RateWindow, c.now)

	return c
}

// Run applies submitted events and heartbeat ticks until ctx is cancelled,
// then closes every connection with 1001.
func (c *Core) Run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.stopping.Store(true)
			c.drain()
			c.Dispatch(Event{Kind: EventShutdown})
			return
		case <-ticker.C:
			c.Dispatch(Event{Kind: EventSweepTick})
		case ev := <-c.inbox:
			c.Dispatch(ev)
		}
	}
}

// drain applies everything accepted before stopping was set, including
// events from Submit calls still in flight.
func (c *Core) drain() {
	for {
		select {
		case ev := <-c.inbox:
			c.Dispatch(ev)
			continue
		default:
		}

		if c.inflight.Load() == 0 && len(c.inbox) == 0 {
			return
		}
		runtime.Gosched()
	}
}

// Submit hands ev to the loop. It reports false once the loop is stopping;
// an event for which it reported true is always applied.
func (c *Core) Submit(ev Event) bool {
	c.inflight.Add(1)
	defer c.inflight.Add(-1)

	if c.stopping.Load() {
		return false
	}

	select {
	case c.inbox <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *Core) Done() <-chan struct{} {
	return c.done
}

// goWriter runs a client write pump, tracked by Wait unless Wait has already
// been called.
func (c *Core) goWriter(pump func()) {
	c.writersMu.RLock()
	defer c.writersMu.RUnlock()

	if c.writersSealed {
		go pump()
		return
	}
	c.writers.Add(1)
	go func() {
		defer c.writers.Done()
		pump()
	}()
}

// Wait blocks until every client write pump has sent its final frames and
// exited, or ctx expires. Call it after Done so the 1001 close frames
// queued by the shutdown pass reach the peers.
func (c *Core) Wait(ctx context.Context) error {
	c.writersMu.Lock()
	c.writersSealed = true
	c.writersMu.Unlock()

	flushed := make(chan struct{})
	go func() {
		c.writers.Wait()
		close(flushed)
	}()

	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatch applies a single event. Only the loop goroutine may call it
// while Run is active.
func (c *Core) Dispatch(ev Event) {
	switch ev.Kind {
	case EventOpen:
		c.open(ev.ConnID, ev.Conn)
	case EventMessage:
		c.handleMessage(ev.ConnID, ev.Data)
	case EventClose:
		c.disconnect(ev.ConnID, metrics.CauseClient)
	case EventProbeAck:
		c.registry.MarkAlive(ev.ConnID)
	case EventSweepTick:
		c.sweep()
	case EventShutdown:
		c.shutdown()
	default:
		c.logger.Warnf("ws: unknown event kind %d", ev.Kind)
	}
}

func (c *Core) Stats() Stats {
	return Stats{
		Rooms:       int(c.roomCount.Load()),
		Connections: int(c.connections.Load()),
	}
}

// ReadLimit is the frame size the transport must still deliver so that
// oversized frames are rejected here rather than by the transport.
func (c *Core) ReadLimit() int64 {
	return int64(c.cfg.MaxFrameSize) + 1
}

func (c *Core) open(id ConnID, conn Conn) {
	c.registry.Register(id, conn)
	c.syncGauges()

	c.logger.Debug(logging.Relay, logging.Connect, "connection registered", map[logging.ExtraKey]any{
		logging.ConnID: id,
	})
}

func (c *Core) shutdown() {
	peers := c.registry.Peers()
	for _, p := range peers {
		p.Conn.Close(CloseGoingAway, reasonShuttingDown)
	}
	for _, p := range peers {
		c.disconnect(p.ID, metrics.CauseShutdown)
	}

	c.logger.Info(logging.General, logging.Shutdown, "relay stopped", map[logging.ExtraKey]any{
		"Closed": len(peers),
	})
}

func (c *Core) syncGauges() {
	conns, rooms := c.registry.Len(), c.rooms.Len()
	c.connections.Store(int64(conns))
	c.roomCount.Store(int64(rooms))
	c.metrics.SetConnections(conns)
	c.metrics.SetRooms(rooms)
}
