package ws

import "github.com/hilthontt/roomrelay/internal/infrastructure/ratelimiter"

type entry struct {
	conn  Conn
	alive bool
	rate  ratelimiter.Window
}

type Peer struct {
	ID   ConnID
	Conn Conn
}

// Registry tracks every open connection with its liveness flag and rate
// window. It is owned by the Core loop and not safe for concurrent use.
type Registry struct {
	conns map[ConnID]*entry
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[ConnID]*entry),
	}
}

// Register adds conn as alive with a fresh rate window.
func (r *Registry) Register(id ConnID, conn Conn) {
	r.conns[id] = &entry{conn: conn, alive: true}
}

func (r *Registry) Get(id ConnID) (*entry, bool) {
	e, ok := r.conns[id]
	return e, ok
}

// Unregister removes id and reports whether it was registered.
func (r *Registry) Unregister(id ConnID) bool {
	if _, ok := r.conns[id]; !ok {
		return false
	}
	delete(r.conns, id)
	return true
}

func (r *Registry) MarkAlive(id ConnID) bool {
	e, ok := r.conns[id]
	if ok {
		e.alive = true
	}
	return ok
}

// Sweep splits connections into those that did not answer the previous
// probe and those that are probed now. Probed connections are left pending.
func (r *Registry) Sweep() (expired, probed []Peer) {
	for id, e := range r.conns {
		if !e.alive {
			expired = append(expired, Peer{ID: id, Conn: e.conn})
			continue
		}
		e.alive = false
		probed = append(probed, Peer{ID: id, Conn: e.conn})
	}
	return expired, probed
}

func (r *Registry) Peers() []Peer {
	peers := make([]Peer, 0, len(r.conns))
	for id, e := range r.conns {
		peers = append(peers, Peer{ID: id, Conn: e.conn})
	}
	return peers
}

func (r *Registry) Len() int {
	return len(r.conns)
}
