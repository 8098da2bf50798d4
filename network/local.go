// Package network provides an in-process transport for running a whole
// committee of consensus engines inside one process. It backs the local
// simulation command and the multi-node tests; a production deployment
// replaces it with a real P2P transport implementing the same interface.
package network

import (
	"sync"

	"github.com/r3e-network/dbft"
	"github.com/r3e-network/dbft/logging"
)

// Handler receives raw consensus payloads. The consensus engine implements it.
type Handler interface {
	HandleMessage(sender dbft.ID, payload []byte)
}

// Local is a message bus connecting the validators of a simulated committee.
// Delivery is synchronous: handlers only enqueue, so a deliver call never
// blocks on consensus processing.
type Local struct {
	mut    sync.RWMutex
	nodes  map[dbft.ID]Handler
	downed map[dbft.ID]bool

	logger logging.Logger
}

// NewLocal returns an empty bus.
func NewLocal() *Local {
	return &Local{
		nodes:  make(map[dbft.ID]Handler),
		downed: make(map[dbft.ID]bool),
		logger: logging.New("network"),
	}
}

// Attach registers the handler for a validator seat and returns the endpoint
// that seat uses to send.
func (l *Local) Attach(id dbft.ID, h Handler) *Endpoint {
	l.mut.Lock()
	defer l.mut.Unlock()
	l.nodes[id] = h
	return &Endpoint{id: id, bus: l}
}

// Endpoint returns the sending endpoint for a seat without attaching its
// handler. This breaks the construction cycle between an engine, which needs
// its endpoint, and the bus, which needs the engine as handler.
func (l *Local) Endpoint(id dbft.ID) *Endpoint {
	return &Endpoint{id: id, bus: l}
}

// SetDown marks a seat as unreachable. Traffic to and from a downed seat is
// dropped silently, like a crashed or partitioned validator.
func (l *Local) SetDown(id dbft.ID, down bool) {
	l.mut.Lock()
	defer l.mut.Unlock()
	l.downed[id] = down
}

func (l *Local) deliver(from, to dbft.ID, payload []byte) {
	l.mut.RLock()
	h, ok := l.nodes[to]
	blocked := l.downed[from] || l.downed[to]
	l.mut.RUnlock()

	if !ok || from == to {
		return
	}
	if blocked {
		l.logger.Debugf("dropping %d -> %d, seat down", from, to)
		return
	}
	h.HandleMessage(from, payload)
}

func (l *Local) broadcast(from dbft.ID, payload []byte) {
	l.mut.RLock()
	targets := make([]dbft.ID, 0, len(l.nodes))
	for id := range l.nodes {
		targets = append(targets, id)
	}
	l.mut.RUnlock()

	for _, id := range targets {
		l.deliver(from, id, payload)
	}
}

// Endpoint is one seat's view of the bus. It implements the consensus
// engine's network interface.
type Endpoint struct {
	id  dbft.ID
	bus *Local
}

// Broadcast delivers the payload to every other attached seat.
func (e *Endpoint) Broadcast(payload []byte) {
	e.bus.broadcast(e.id, payload)
}

// Send delivers the payload to a single seat.
func (e *Endpoint) Send(target dbft.ID, payload []byte) {
	e.bus.deliver(e.id, target, payload)
}
