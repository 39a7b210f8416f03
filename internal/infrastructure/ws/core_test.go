package ws

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hilthontt/roomrelay/internal/infrastructure/contracts"
	"github.com/hilthontt/roomrelay/internal/infrastructure/events"
	"github.com/hilthontt/roomrelay/internal/infrastructure/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestJoinCreatesRoom(t *testing.T) {
	r := newTestRelay(t, nil)
	alice := r.connect("a")

	r.join(t, "a", "  lobby ", "alice", "")

	frames := alice.take(t)
	require.Len(t, frames, 1)
	info := frames[0].roomInfo(t)
	assert.Equal(t, []string{"alice"}, info.Users)
	assert.Equal(t, 1, info.Count)

	assert.Equal(t, Stats{Rooms: 1, Connections: 1}, r.core.Stats())
	assert.Equal(t, []string{contracts.EventRoomCreated, contracts.EventMemberJoined}, r.publisher.routingKeys())
	assert.Equal(t, "lobby", r.publisher.events[0].RoomID)
}

func TestJoinBroadcastsRoomInfoToEveryMember(t *testing.T) {
	r := newTestRelay(t, nil)
	alice := r.connect("a")
	bob := r.connect("b")

	r.join(t, "a", "lobby", "alice", "pw")
	alice.take(t)
	r.join(t, "b", "lobby", "bob", "pw")

	for _, conn := range []*fakeConn{alice, bob} {
		frames := conn.take(t)
		require.Len(t, frames, 1)
		info := frames[0].roomInfo(t)
		assert.Equal(t, []string{"alice", "bob"}, info.Users)
		assert.Equal(t, 2, info.Count)
	}
}

func TestJoinRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		setup  func(t *testing.T, r *testRelay)
		join   map[string]any
		reason string
	}{
		{
			name:   "missing room",
			join:   map[string]any{"name": "bob"},
			reason: "Missing fields",
		},
		{
			name:   "empty name",
			join:   map[string]any{"roomId": "lobby", "name": ""},
			reason: "Missing fields",
		},
		{
			name:   "blank room",
			join:   map[string]any{"roomId": "   ", "name": "bob"},
			reason: "Invalid room or name",
		},
		{
			name: "wrong password",
			setup: func(t *testing.T, r *testRelay) {
				r.connect("a")
				r.join(t, "a", "lobby", "alice", "secret")
			},
			join:   map[string]any{"roomId": "lobby", "name": "bob", "password": "guess"},
			reason: "Wrong password",
		},
		{
			name: "name taken ignores case",
			setup: func(t *testing.T, r *testRelay) {
				r.connect("a")
				r.join(t, "a", "lobby", "alice", "")
			},
			join:   map[string]any{"roomId": "lobby", "name": " ALICE "},
			reason: "Name taken",
		},
		{
			name:   "room full",
			mutate: func(c *Config) { c.Rooms.MaxMembersPerRoom = 1 },
			setup: func(t *testing.T, r *testRelay) {
				r.connect("a")
				r.join(t, "a", "lobby", "alice", "")
			},
			join:   map[string]any{"roomId": "lobby", "name": "bob"},
			reason: "Room full",
		},
		{
			name:   "server full",
			mutate: func(c *Config) { c.Rooms.MaxRooms = 1 },
			setup: func(t *testing.T, r *testRelay) {
				r.connect("a")
				r.join(t, "a", "lobby", "alice", "")
			},
			join:   map[string]any{"roomId": "other", "name": "bob"},
			reason: "Server full",
		},
		{
			name:   "password checked before capacity",
			mutate: func(c *Config) { c.Rooms.MaxMembersPerRoom = 1 },
			setup: func(t *testing.T, r *testRelay) {
				r.connect("a")
				r.join(t, "a", "lobby", "alice", "secret")
			},
			join:   map[string]any{"roomId": "lobby", "name": "alice"},
			reason: "Wrong password",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRelay(t, tt.mutate)
			if tt.setup != nil {
				tt.setup(t, r)
			}
			before := r.core.Stats()

			bob := r.connect("b")
			r.send(t, "b", TypeJoin, tt.join)

			frames := bob.take(t)
			require.Len(t, frames, 1)
			assert.Equal(t, TypeError, frames[0].Type)
			assert.Equal(t, tt.reason, frames[0].Message)
			assert.Equal(t, before.Rooms, r.core.Stats().Rooms)

			_, inRoom := r.core.rooms.RoomOf("b")
			assert.False(t, inRoom)
		})
	}
}

func TestJoinTwiceIsRejected(t *testing.T) {
	r := newTestRelay(t, nil)
	alice := r.connect("a")
	r.join(t, "a", "lobby", "alice", "")
	alice.take(t)

	r.join(t, "a", "other", "alice", "")

	assert.Equal(t, []string{"Already joined"}, errorReasons(alice.take(t)))
	assert.Equal(t, 1, r.core.Stats().Rooms)
}

func TestJoinTruncatesLongFields(t *testing.T) {
	r := newTestRelay(t, nil)
	alice := r.connect("a")

	r.join(t, "a", strings.Repeat("r", 80), strings.Repeat("n", 30), "")

	info := alice.take(t)[0].roomInfo(t)
	assert.Equal(t, []string{strings.Repeat("n", 20)}, info.Users)
	_, ok := r.core.rooms.GetRoom(strings.Repeat("r", 50))
	assert.True(t, ok)
}

func TestJoinCoercesScalarFields(t *testing.T) {
	r := newTestRelay(t, nil)
	alice := r.connect("a")

	r.sendRaw("a", `{"type":"join","payload":{"roomId":42,"name":true}}`)

	info := alice.take(t)[0].roomInfo(t)
	assert.Equal(t, []string{"true"}, info.Users)
	_, ok := r.core.rooms.GetRoom("42")
	assert.True(t, ok)
}

func TestChatFanOutIsIdenticalAndScopedToRoom(t *testing.T) {
	r := newTestRelay(t, nil)
	conns := r.joined(t, "lobby", "alice", "bob")
	alice, bob := conns[0], conns[1]
	carol := r.joined(t, "elsewhere", "carol")[0]

	r.send(t, "alice", TypeChat, map[string]any{"message": "  hi there ", "sender": "mallory"})

	af, bf := alice.take(t), bob.take(t)
	require.Len(t, af, 1)
	require.Len(t, bf, 1)
	assert.Equal(t, af[0].raw, bf[0].raw)
	assert.Empty(t, carol.take(t))

	payload := af[0].chat(t)
	assert.Equal(t, "alice", payload["sender"])
	assert.Equal(t, "  hi there ", payload["message"])
	assert.Equal(t, "2024-05-01T09:30:00.250Z", payload["timestamp"])
	assert.NotContains(t, payload, "file")
}

func TestChatWithFileOnly(t *testing.T) {
	r := newTestRelay(t, nil)
	alice := r.joined(t, "lobby", "alice")[0]

	file := map[string]any{"name": "cat.png", "type": "image/png", "size": 1024, "data": "data:image/png;base64,AAAA"}
	r.send(t, "alice", TypeChat, map[string]any{"file": file})

	frames := alice.take(t)
	require.Len(t, frames, 1)
	payload := frames[0].chat(t)
	assert.Equal(t, "", payload["message"])
	assert.Equal(t, map[string]any{"name": "cat.png", "type": "image/png", "size": 1024.0, "data": "data:image/png;base64,AAAA"}, payload["file"])
}

func TestChatFalsyFileCountsAsNoFile(t *testing.T) {
	r := newTestRelay(t, nil)
	alice := r.joined(t, "lobby", "alice")[0]

	for _, file := range []any{false, 0, ""} {
		r.send(t, "alice", TypeChat, map[string]any{"message": "hi", "file": file})
		frames := alice.take(t)
		require.Len(t, frames, 1, "file %v", file)
		assert.Equal(t, TypeChat, frames[0].Type)
		assert.NotContains(t, frames[0].chat(t), "file")

		r.send(t, "alice", TypeChat, map[string]any{"message": " ", "file": file})
		assert.Equal(t, []string{"Empty message"}, errorReasons(alice.take(t)), "file %v", file)
	}
}

func TestChatRejections(t *testing.T) {
	r := newTestRelay(t, nil)
	alice := r.joined(t, "lobby", "alice")[0]
	loner := r.connect("loner")

	r.send(t, "loner", TypeChat, map[string]any{"message": "hello?"})
	assert.Equal(t, []string{"Not in a room"}, errorReasons(loner.take(t)))

	cases := []struct {
		payload map[string]any
		reason  string
	}{
		{map[string]any{"message": "   "}, "Empty message"},
		{map[string]any{}, "Empty message"},
		{map[string]any{"message": strings.Repeat("x", 10_001)}, "Message too long"},
		{map[string]any{"message": "hi", "file": map[string]any{"name": "a", "type": "b", "size": 3_000_000, "data": "x"}}, "Invalid file"},
		{map[string]any{"message": "hi", "file": map[string]any{"name": "a", "type": "b", "size": "3", "data": "x"}}, "Invalid file"},
		{map[string]any{"file": "not a file"}, "Invalid file"},
	}
	for _, c := range cases {
		r.send(t, "alice", TypeChat, c.payload)
		assert.Equal(t, []string{c.reason}, errorReasons(alice.take(t)), "payload %v", c.payload)
	}
}

func TestChatAtLengthLimitIsAccepted(t *testing.T) {
	r := newTestRelay(t, nil)
	alice := r.joined(t, "lobby", "alice")[0]

	r.send(t, "alice", TypeChat, map[string]any{"message": strings.Repeat("é", 10_000)})

	frames := alice.take(t)
	require.Len(t, frames, 1)
	assert.Equal(t, TypeChat, frames[0].Type)
}

func TestRateLimitRejectsSixthMessageInWindow(t *testing.T) {
	r := newTestRelay(t, func(c *Config) { c.RateLimit = 5 })
	alice := r.connect("alice")
	r.join(t, "alice", "lobby", "alice", "")

	for i := 0; i < 4; i++ {
		r.send(t, "alice", TypeChat, map[string]any{"message": "spam"})
	}
	frames := alice.take(t)
	require.Len(t, frames, 5)
	assert.Empty(t, errorReasons(frames))

	r.send(t, "alice", TypeChat, map[string]any{"message": "one too many"})
	assert.Equal(t, []string{"Rate limit exceeded"}, errorReasons(alice.take(t)))

	r.clock.Advance(1001 * time.Millisecond)
	r.send(t, "alice", TypeChat, map[string]any{"message": "later"})
	frames = alice.take(t)
	require.Len(t, frames, 1)
	assert.Equal(t, TypeChat, frames[0].Type)
}

func TestRateLimitAppliesToMalformedFrames(t *testing.T) {
	r := newTestRelay(t, func(c *Config) { c.RateLimit = 2 })
	conn := r.connect("a")

	r.sendRaw("a", "{")
	r.sendRaw("a", "{")
	r.sendRaw("a", "{")

	assert.Equal(t, []string{"Invalid JSON", "Invalid JSON", "Rate limit exceeded"}, errorReasons(conn.take(t)))
}

func TestMalformedFramesKeepConnectionOpen(t *testing.T) {
	r := newTestRelay(t, nil)
	conn := r.connect("a")

	r.sendRaw("a", "not json")
	r.sendRaw("a", `[1,2]`)
	r.sendRaw("a", `{"payload":{}}`)
	r.sendRaw("a", `{"type":"join"}`)
	r.sendRaw("a", `{"type":"join","payload":"lobby"}`)
	r.sendRaw("a", `{"type":"dance","payload":{}}`)

	assert.Equal(t, []string{
		"Invalid JSON",
		"Invalid message",
		"Invalid message",
		"Invalid message",
		"Invalid message",
	}, errorReasons(conn.take(t)))
	assert.True(t, conn.IsOpen())
	assert.Equal(t, 1, r.core.Stats().Connections)
}

func TestOversizedFrameClosesWithMessageTooBig(t *testing.T) {
	r := newTestRelay(t, func(c *Config) { c.MaxFrameSize = 64 })
	alice := r.connect("alice")
	r.join(t, "alice", "lobby", "alice", "")
	alice.take(t)

	r.sendRaw("alice", `{"type":"chat","payload":{"message":"`+strings.Repeat("x", 64)+`"}}`)

	assert.Equal(t, CloseMessageTooBig, alice.closeCode)
	assert.Equal(t, "Message too large", alice.closeReason)
	assert.Equal(t, Stats{}, r.core.Stats())

	r.closeConn("alice")
	assert.Equal(t, Stats{}, r.core.Stats())
}

func TestDisconnectOfLastMemberDeletesRoom(t *testing.T) {
	r := newTestRelay(t, nil)
	alice := r.connect("a")
	r.join(t, "a", "lobby", "alice", "secret")
	alice.take(t)

	r.closeConn("a")

	assert.Empty(t, alice.take(t))
	assert.Equal(t, Stats{}, r.core.Stats())
	assert.Equal(t, []string{
		contracts.EventRoomCreated,
		contracts.EventMemberJoined,
		contracts.EventMemberLeft,
		contracts.EventRoomDeleted,
	}, r.publisher.routingKeys())

	// A recreated room does not remember the old password.
	bob := r.connect("b")
	r.join(t, "b", "lobby", "bob", "")
	frames := bob.take(t)
	require.Len(t, frames, 1)
	assert.Equal(t, TypeRoomInfo, frames[0].Type)
}

func TestDisconnectBroadcastsRoomInfoOnce(t *testing.T) {
	r := newTestRelay(t, nil)
	conns := r.joined(t, "lobby", "alice", "bob", "carol")

	r.closeConn("bob")
	r.closeConn("bob")

	for _, conn := range []*fakeConn{conns[0], conns[2]} {
		frames := conn.take(t)
		require.Len(t, frames, 1)
		info := frames[0].roomInfo(t)
		assert.Equal(t, []string{"alice", "carol"}, info.Users)
		assert.Equal(t, 2, info.Count)
	}
	assert.Empty(t, conns[1].take(t))
}

func TestDisconnectClearsRateWindow(t *testing.T) {
	r := newTestRelay(t, func(c *Config) { c.RateLimit = 1 })
	conn := r.connect("a")
	r.sendRaw("a", "{")
	r.sendRaw("a", "{")
	assert.Equal(t, []string{"Invalid JSON", "Rate limit exceeded"}, errorReasons(conn.take(t)))

	r.closeConn("a")
	conn = r.connect("a")
	r.sendRaw("a", "{")
	assert.Equal(t, []string{"Invalid JSON"}, errorReasons(conn.take(t)))
}

func TestSlowConsumerIsEvicted(t *testing.T) {
	r := newTestRelay(t, func(c *Config) { c.MaxBufferedBytes = 100 })
	conns := r.joined(t, "lobby", "alice", "bob", "carol")
	alice, bob, carol := conns[0], conns[1], conns[2]
	bob.setBuffered(101)

	r.send(t, "alice", TypeChat, map[string]any{"message": "hello"})

	assert.Equal(t, ClosePolicyViolation, bob.closeCode)
	assert.Equal(t, "Client too slow", bob.closeReason)
	assert.Empty(t, bob.take(t))

	for _, conn := range []*fakeConn{alice, carol} {
		frames := conn.take(t)
		require.Len(t, frames, 2)
		assert.Equal(t, TypeChat, frames[0].Type)
		assert.Equal(t, []string{"alice", "carol"}, frames[1].roomInfo(t).Users)
	}
	assert.Equal(t, 2, r.core.Stats().Connections)
}

func TestBufferAtCeilingIsNotEvicted(t *testing.T) {
	r := newTestRelay(t, func(c *Config) { c.MaxBufferedBytes = 100 })
	conns := r.joined(t, "lobby", "alice", "bob")
	conns[1].setBuffered(100)

	r.send(t, "alice", TypeChat, map[string]any{"message": "hello"})

	assert.True(t, conns[1].IsOpen())
	require.Len(t, conns[1].take(t), 1)
}

func TestBroadcastSkipsConnectionsThatAreNotOpen(t *testing.T) {
	r := newTestRelay(t, nil)
	conns := r.joined(t, "lobby", "alice", "bob")
	conns[1].setOpen(false)

	r.send(t, "alice", TypeChat, map[string]any{"message": "hello"})

	require.Len(t, conns[0].take(t), 1)
	assert.Empty(t, conns[1].take(t))
	assert.Equal(t, 2, r.core.Stats().Connections)
	assert.Zero(t, conns[1].closeCode)
}

func TestHeartbeatTerminatesSilentConnections(t *testing.T) {
	r := newTestRelay(t, nil)
	conns := r.joined(t, "lobby", "alice", "bob")
	alice, bob := conns[0], conns[1]

	r.core.Dispatch(Event{Kind: EventSweepTick})
	assert.Equal(t, 1, alice.pings)
	assert.Equal(t, 1, bob.pings)

	r.core.Dispatch(Event{Kind: EventProbeAck, ConnID: "alice"})
	r.core.Dispatch(Event{Kind: EventSweepTick})

	assert.True(t, bob.terminated)
	assert.Zero(t, bob.closeCode)
	assert.False(t, alice.terminated)
	assert.Equal(t, 2, alice.pings)
	assert.Equal(t, 1, r.core.Stats().Connections)

	frames := alice.take(t)
	require.Len(t, frames, 1)
	assert.Equal(t, []string{"alice"}, frames[0].roomInfo(t).Users)
}

func TestShutdownClosesEveryConnection(t *testing.T) {
	r := newTestRelay(t, nil)
	conns := r.joined(t, "lobby", "alice", "bob")
	idle := r.connect("idle")

	r.core.Dispatch(Event{Kind: EventShutdown})

	for _, conn := range append(conns, idle) {
		assert.Equal(t, CloseGoingAway, conn.closeCode)
		assert.Equal(t, "Server shutting down", conn.closeReason)
	}
	assert.Equal(t, Stats{}, r.core.Stats())
}

func TestRunAppliesEventsAndStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig()
	cfg.HeartbeatInterval = time.Hour
	core := NewCore(cfg, logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go core.Run(ctx)

	conn := newFakeConn()
	require.True(t, core.Submit(Event{Kind: EventOpen, ConnID: "a", Conn: conn}))
	require.True(t, core.Submit(Event{Kind: EventMessage, ConnID: "a", Data: []byte(`{"type":"join","payload":{"roomId":"lobby","name":"alice"}}`)}))

	require.Eventually(t, func() bool { return core.Stats().Rooms == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-core.Done()

	assert.False(t, core.Submit(Event{Kind: EventClose, ConnID: "a"}))
	assert.Equal(t, CloseGoingAway, conn.closeCode)
	assert.Equal(t, Stats{}, core.Stats())
}

func TestRunSweepsOnInterval(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	core := NewCore(cfg, logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go core.Run(ctx)

	conn := newFakeConn()
	require.True(t, core.Submit(Event{Kind: EventOpen, ConnID: "silent", Conn: conn}))

	require.Eventually(t, func() bool { return core.Stats().Connections == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	<-core.Done()

	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.True(t, conn.terminated)
	assert.GreaterOrEqual(t, conn.pings, 1)
}

func TestSubmitDuringShutdownIsAppliedOrRefused(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig()
	cfg.HeartbeatInterval = time.Hour
	cfg.EventQueueSize = 4
	core := NewCore(cfg, logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go core.Run(ctx)

	const submitters = 64
	conns := make([]*fakeConn, submitters)
	accepted := make([]bool, submitters)

	var wg sync.WaitGroup
	for i := range submitters {
		conns[i] = newFakeConn()
		wg.Add(1)
		go func() {
			defer wg.Done()
			accepted[i] = core.Submit(Event{Kind: EventOpen, ConnID: ConnID(fmt.Sprintf("c%d", i)), Conn: conns[i]})
		}()
		if i == submitters/2 {
			cancel()
		}
	}
	wg.Wait()
	<-core.Done()

	for i, conn := range conns {
		conn.mu.Lock()
		code := conn.closeCode
		conn.mu.Unlock()
		if accepted[i] {
			assert.Equal(t, CloseGoingAway, code, "conn %d was accepted but never closed", i)
		} else {
			assert.Zero(t, code, "conn %d was refused but still registered", i)
		}
	}
	assert.Equal(t, Stats{}, core.Stats())
	assert.False(t, core.Submit(Event{Kind: EventClose, ConnID: "c0"}))
}

func TestShutdownEventsReachTheBroker(t *testing.T) {
	defer goleak.VerifyNone(t)

	broker := &memoryBroker{}
	publisher := events.NewRoomPublisher(broker, 16, logging.NewNop(), nil)
	pubCtx, stopPublisher := context.WithCancel(context.Background())
	pubDone := make(chan struct{})
	go func() {
		defer close(pubDone)
		publisher.Run(pubCtx)
	}()

	cfg := testConfig()
	cfg.HeartbeatInterval = time.Hour
	core := NewCore(cfg, logging.NewNop(), WithPublisher(publisher))
	coreCtx, stopCore := context.WithCancel(context.Background())
	go core.Run(coreCtx)

	require.True(t, core.Submit(Event{Kind: EventOpen, ConnID: "a", Conn: newFakeConn()}))
	require.True(t, core.Submit(Event{Kind: EventMessage, ConnID: "a", Data: []byte(`{"type":"join","payload":{"roomId":"lobby","name":"alice"}}`)}))

	stopCore()
	<-core.Done()
	stopPublisher()
	<-pubDone

	assert.Equal(t, []string{
		contracts.EventRoomCreated,
		contracts.EventMemberJoined,
		contracts.EventMemberLeft,
		contracts.EventRoomDeleted,
	}, broker.keys())
}
