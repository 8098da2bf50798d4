package eventloop_test

import (
	"context"
	"testing"
	"time"

	"github.com/r3e-network/dbft/eventloop"
)

type testEvent int

type otherEvent int

func TestHandler(t *testing.T) {
	el := eventloop.New(10)
	c := make(chan any)
	el.RegisterHandler(testEvent(0), func(event any) {
		c <- event
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go el.Run(ctx)

	want := testEvent(42)
	el.AddEvent(want)

	var event any
	select {
	case <-ctx.Done():
		t.Fatal("timed out")
	case event = <-c:
	}

	e, ok := event.(testEvent)
	if !ok {
		t.Fatalf("wrong type for event: got: %T, want: %T", event, want)
	}

	if e != want {
		t.Fatalf("wrong value for event: got: %v, want: %v", e, want)
	}
}

func TestPrioritizedHandlerRunsFirst(t *testing.T) {
	type eventData struct {
		event    any
		priority bool
	}

	el := eventloop.New(10)
	c := make(chan eventData)
	el.RegisterHandler(testEvent(0), func(event any) {
		c <- eventData{event: event, priority: false}
	})
	el.RegisterHandler(testEvent(0), func(event any) {
		c <- eventData{event: event, priority: true}
	}, eventloop.Prioritize())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go el.Run(ctx)

	want := testEvent(42)
	el.AddEvent(want)

	for i := 0; i < 2; i++ {
		var data eventData
		select {
		case <-ctx.Done():
			t.Fatal("timed out")
		case data = <-c:
		}

		if i == 0 && !data.priority {
			t.Fatal("expected the prioritized handler to run first")
		}

		if i == 1 && data.priority {
			t.Fatal("expected the plain handler to run second")
		}

		if e, ok := data.event.(testEvent); !ok || e != want {
			t.Fatalf("wrong event: got: %v, want: %v", data.event, want)
		}
	}
}

func TestUnregisterHandler(t *testing.T) {
	el := eventloop.New(10)
	calls := 0
	id := el.RegisterHandler(testEvent(0), func(any) { calls++ })

	ctx := context.Background()
	el.AddEvent(testEvent(1))
	el.Tick(ctx)

	el.UnregisterHandler(testEvent(0), id)
	el.AddEvent(testEvent(2))
	el.Tick(ctx)

	if calls != 1 {
		t.Errorf("handler calls: got: %d, want: 1", calls)
	}
}

func TestDelayUntil(t *testing.T) {
	el := eventloop.New(10)
	var order []any
	el.RegisterHandler(testEvent(0), func(event any) { order = append(order, event) })
	el.RegisterHandler(otherEvent(0), func(event any) { order = append(order, event) })

	el.DelayUntil(otherEvent(0), testEvent(1))
	el.AddEvent(otherEvent(2))

	ctx := context.Background()
	for el.Tick(ctx) {
	}

	if len(order) != 2 {
		t.Fatalf("number of events handled: got: %d, want: 2", len(order))
	}
	if order[0] != otherEvent(2) {
		t.Errorf("first event: got: %v, want: %v", order[0], otherEvent(2))
	}
	if order[1] != testEvent(1) {
		t.Errorf("second event: got: %v, want: %v", order[1], testEvent(1))
	}
}

func TestRunInAddEvent(t *testing.T) {
	el := eventloop.New(10)
	c := make(chan any, 1)
	el.RegisterHandler(testEvent(0), func(event any) {
		c <- event
	}, eventloop.RunInAddEvent())

	// the handler should run during AddEvent, before any Tick.
	el.AddEvent(testEvent(7))

	select {
	case event := <-c:
		if event != testEvent(7) {
			t.Errorf("wrong event: got: %v, want: %v", event, testEvent(7))
		}
	default:
		t.Fatal("handler did not run in AddEvent")
	}
}
