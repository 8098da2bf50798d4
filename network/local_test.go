package network

import (
	"testing"

	"github.com/r3e-network/dbft"
)

type recorder struct {
	got []dbft.ID
}

func (r *recorder) HandleMessage(sender dbft.ID, payload []byte) {
	r.got = append(r.got, sender)
}

func TestBroadcastSkipsSender(t *testing.T) {
	bus := NewLocal()
	var nodes [3]recorder
	endpoints := make([]*Endpoint, 3)
	for i := range nodes {
		endpoints[i] = bus.Attach(dbft.ID(i), &nodes[i])
	}

	endpoints[0].Broadcast([]byte("m"))

	if len(nodes[0].got) != 0 {
		t.Error("sender should not receive its own broadcast")
	}
	for i := 1; i < 3; i++ {
		if len(nodes[i].got) != 1 || nodes[i].got[0] != 0 {
			t.Errorf("node %d: got: %v, want one message from 0", i, nodes[i].got)
		}
	}
}

func TestSendTargetsOneSeat(t *testing.T) {
	bus := NewLocal()
	var a, b recorder
	ea := bus.Attach(0, &a)
	bus.Attach(1, &b)

	ea.Send(1, []byte("m"))
	ea.Send(2, []byte("m")) // unattached seat, dropped

	if len(b.got) != 1 {
		t.Errorf("node 1: got %d messages, want 1", len(b.got))
	}
	if len(a.got) != 0 {
		t.Errorf("node 0: got %d messages, want 0", len(a.got))
	}
}

func TestDownedSeatIsIsolated(t *testing.T) {
	bus := NewLocal()
	var a, b recorder
	ea := bus.Attach(0, &a)
	eb := bus.Attach(1, &b)

	bus.SetDown(1, true)
	ea.Broadcast([]byte("m"))
	eb.Broadcast([]byte("m"))
	if len(a.got) != 0 || len(b.got) != 0 {
		t.Errorf("downed seat exchanged messages: a=%v b=%v", a.got, b.got)
	}

	bus.SetDown(1, false)
	ea.Broadcast([]byte("m"))
	if len(b.got) != 1 {
		t.Errorf("node 1 after reconnect: got %d messages, want 1", len(b.got))
	}
}
