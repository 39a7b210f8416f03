package ws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/hilthontt/roomrelay/internal/infrastructure/contracts"
	"github.com/hilthontt/roomrelay/internal/infrastructure/logging"
	"github.com/hilthontt/roomrelay/internal/infrastructure/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu          sync.Mutex
	frames      [][]byte
	open        bool
	buffered    int
	pings       int
	closeCode   int
	closeReason string
	terminated  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{open: true}
}

func (f *fakeConn) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return ErrConnectionClosed
	}
	f.frames = append(f.frames, data)
	return nil
}

func (f *fakeConn) BufferedAmount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buffered
}

func (f *fakeConn) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeConn) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return nil
}

func (f *fakeConn) Close(code int, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return
	}
	f.open = false
	f.closeCode = code
	f.closeReason = reason
}

func (f *fakeConn) Terminate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	f.terminated = true
}

func (f *fakeConn) setBuffered(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buffered = n
}

func (f *fakeConn) setOpen(open bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = open
}

// take returns and clears the frames received so far.
func (f *fakeConn) take(t *testing.T) []frame {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]frame, 0, len(f.frames))
	for _, raw := range f.frames {
		var fr frame
		require.NoError(t, json.Unmarshal(raw, &fr))
		fr.raw = raw
		out = append(out, fr)
	}
	f.frames = nil
	return out
}

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Message string          `json:"message"`
	raw     []byte
}

func (fr frame) roomInfo(t *testing.T) RoomInfoPayload {
	t.Helper()
	require.Equal(t, TypeRoomInfo, fr.Type)
	var p RoomInfoPayload
	require.NoError(t, json.Unmarshal(fr.Payload, &p))
	return p
}

func (fr frame) chat(t *testing.T) map[string]any {
	t.Helper()
	require.Equal(t, TypeChat, fr.Type)
	var p map[string]any
	require.NoError(t, json.Unmarshal(fr.Payload, &p))
	return p
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	keys   []string
	events []contracts.RoomEvent
}

func (p *recordingPublisher) Publish(routingKey string, ev contracts.RoomEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) routingKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

type memoryBroker struct {
	mu       sync.Mutex
	received []string
}

func (b *memoryBroker) PublishMessage(_ context.Context, routingKey string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.received = append(b.received, routingKey)
	return nil
}

func (b *memoryBroker) keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.received...)
}

type testRelay struct {
	core      *Core
	clock     *fakeClock
	publisher *recordingPublisher
	metrics   *metrics.Relay
	conns     map[ConnID]*fakeConn
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RateLimit = 1000
	cfg.EventQueueSize = 16
	return cfg
}

func newTestRelay(t *testing.T, mutate func(*Config)) *testRelay {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	clock := &fakeClock{now: time.Date(2024, 5, 1, 9, 30, 0, 250_000_000, time.UTC)}
	publisher := &recordingPublisher{}
	m := metrics.NewRelay(prometheus.NewRegistry())

	return &testRelay{
		core: NewCore(cfg, logging.NewNop(),
			WithClock(clock.Now),
			WithPublisher(publisher),
			WithMetrics(m),
		),
		clock:     clock,
		publisher: publisher,
		metrics:   m,
		conns:     make(map[ConnID]*fakeConn),
	}
}

func (r *testRelay) connect(id ConnID) *fakeConn {
	conn := newFakeConn()
	r.conns[id] = conn
	r.core.Dispatch(Event{Kind: EventOpen, ConnID: id, Conn: conn})
	return conn
}

func (r *testRelay) sendRaw(id ConnID, data string) {
	r.core.Dispatch(Event{Kind: EventMessage, ConnID: id, Data: []byte(data)})
}

func (r *testRelay) send(t *testing.T, id ConnID, msgType string, payload any) {
	t.Helper()
	data, err := json.Marshal(map[string]any{"type": msgType, "payload": payload})
	require.NoError(t, err)
	r.core.Dispatch(Event{Kind: EventMessage, ConnID: id, Data: data})
}

func (r *testRelay) join(t *testing.T, id ConnID, room, name, password string) {
	t.Helper()
	r.send(t, id, TypeJoin, map[string]any{"roomId": room, "name": name, "password": password})
}

func (r *testRelay) closeConn(id ConnID) {
	r.core.Dispatch(Event{Kind: EventClose, ConnID: id})
}

// joined connects and joins each name into room, then discards the
// room-info frames produced along the way.
func (r *testRelay) joined(t *testing.T, room string, names ...string) []*fakeConn {
	t.Helper()
	conns := make([]*fakeConn, 0, len(names))
	for _, name := range names {
		conn := r.connect(ConnID(name))
		r.join(t, ConnID(name), room, name, "")
		conns = append(conns, conn)
	}
	for _, conn := range conns {
		conn.take(t)
	}
	return conns
}

func errorReasons(frames []frame) []string {
	var reasons []string
	for _, fr := range frames {
		if fr.Type == TypeError {
			reasons = append(reasons, fr.Message)
		}
	}
	return reasons
}
