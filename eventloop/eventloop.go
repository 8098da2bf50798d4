// Package eventloop provides the single-goroutine event loop that drives the
// consensus engine. Inbound network messages, timer expirations, and local
// block-ready notifications are all serialized through it, so the engine's
// state is only ever mutated from one control path.
package eventloop

import (
	"context"
	"reflect"
	"sync"
)

type handlerOpts struct {
	runInAddEvent bool
	priority      bool
}

// HandlerOption sets configuration options for event handlers.
type HandlerOption func(*handlerOpts)

// Prioritize instructs the event loop to run the handler before handlers that
// do not have priority. It should only be used if you must look at an event
// before other handlers get to look at it.
func Prioritize() HandlerOption {
	return func(ho *handlerOpts) {
		ho.priority = true
	}
}

// RunInAddEvent instructs the event loop to run the handler as part of
// AddEvent. Because AddEvent may run outside the event loop goroutine, only
// thread-safe state may be touched from such a handler.
func RunInAddEvent() HandlerOption {
	return func(ho *handlerOpts) {
		ho.runInAddEvent = true
	}
}

// EventHandler processes an event.
type EventHandler func(event any)

type handler struct {
	callback EventHandler
	opts     handlerOpts
}

// EventLoop accepts events of any type and executes registered event handlers.
type EventLoop struct {
	eventQ queue

	mut sync.Mutex // protects the following:

	ctx context.Context // set by Run

	waitingEvents map[reflect.Type][]any
	handlers      map[reflect.Type][]handler
}

// New returns a new event loop with the requested buffer size.
func New(bufferSize uint) *EventLoop {
	return &EventLoop{
		ctx:           context.Background(),
		eventQ:        newQueue(bufferSize),
		waitingEvents: make(map[reflect.Type][]any),
		handlers:      make(map[reflect.Type][]handler),
	}
}

// RegisterHandler registers the given event handler for the given event type
// with the given handler options, if any. The returned id can be passed to
// UnregisterHandler.
func (el *EventLoop) RegisterHandler(eventType any, callback EventHandler, opts ...HandlerOption) int {
	h := handler{callback: callback}
	for _, opt := range opts {
		opt(&h.opts)
	}

	el.mut.Lock()
	defer el.mut.Unlock()
	t := reflect.TypeOf(eventType)

	handlers := el.handlers[t]

	// search for a free slot for the handler
	i := 0
	for ; i < len(handlers); i++ {
		if handlers[i].callback == nil {
			break
		}
	}

	if i == len(handlers) {
		handlers = append(handlers, h)
	} else {
		handlers[i] = h
	}

	el.handlers[t] = handlers
	return i
}

// UnregisterHandler unregisters the handler for the given event type with the given id.
func (el *EventLoop) UnregisterHandler(eventType any, id int) {
	el.mut.Lock()
	defer el.mut.Unlock()
	el.handlers[reflect.TypeOf(eventType)][id].callback = nil
}

// AddEvent adds an event to the event queue.
func (el *EventLoop) AddEvent(event any) {
	if event != nil {
		// run handlers with the runInAddEvent option
		el.processEvent(event, true)
		el.eventQ.push(event)
	}
}

// Context returns the context associated with the event loop.
// If neither Run nor Tick have been called, Context returns context.Background.
func (el *EventLoop) Context() context.Context {
	el.mut.Lock()
	defer el.mut.Unlock()

	return el.ctx
}

func (el *EventLoop) setContext(ctx context.Context) {
	el.mut.Lock()
	defer el.mut.Unlock()

	el.ctx = ctx
}

// Run runs the event loop. A context object can be provided to stop the event loop.
func (el *EventLoop) Run(ctx context.Context) {
	el.setContext(ctx)

loop:
	for {
		event, ok := el.eventQ.pop()
		if !ok {
			select {
			case <-el.eventQ.ready():
				continue loop
			case <-ctx.Done():
				break loop
			}
		}
		el.processEvent(event, false)
	}

	// handle the events that were in the queue when the context was
	// cancelled before quitting.
	l := el.eventQ.len()
	for i := 0; i < l; i++ {
		event, _ := el.eventQ.pop()
		el.processEvent(event, false)
	}
}

// Tick processes a single event. Returns true if an event was handled.
func (el *EventLoop) Tick(ctx context.Context) bool {
	el.setContext(ctx)

	event, ok := el.eventQ.pop()
	if !ok {
		return false
	}

	el.processEvent(event, false)
	return true
}

// processEvent dispatches the event to the correct handlers.
func (el *EventLoop) processEvent(event any, runningInAddEvent bool) {
	t := reflect.TypeOf(event)

	if !runningInAddEvent {
		defer el.dispatchDelayedEvents(t)
	}

	// Must copy handlers to a list so that they can be executed after
	// unlocking the mutex. There should be few handlers (< 10) registered
	// for each event type.
	var priorityList, handlerList []EventHandler

	el.mut.Lock()
	for _, handler := range el.handlers[t] {
		if handler.opts.runInAddEvent != runningInAddEvent || handler.callback == nil {
			continue
		}
		if handler.opts.priority {
			priorityList = append(priorityList, handler.callback)
		} else {
			handlerList = append(handlerList, handler.callback)
		}
	}
	el.mut.Unlock()

	for _, callback := range priorityList {
		callback(event)
	}

	for _, callback := range handlerList {
		callback(event)
	}
}

func (el *EventLoop) dispatchDelayedEvents(t reflect.Type) {
	var (
		events []any
		ok     bool
	)

	el.mut.Lock()
	if events, ok = el.waitingEvents[t]; ok {
		delete(el.waitingEvents, t)
	}
	el.mut.Unlock()

	for _, event := range events {
		el.AddEvent(event)
	}
}

// DelayUntil allows us to delay handling of an event until after another event
// has happened. The eventType parameter decides the type of event to wait for,
// and it should be the zero value of that event type. The event parameter is
// the event that will be delayed.
func (el *EventLoop) DelayUntil(eventType, event any) {
	if eventType == nil || event == nil {
		return
	}
	el.mut.Lock()
	t := reflect.TypeOf(eventType)
	el.waitingEvents[t] = append(el.waitingEvents[t], event)
	el.mut.Unlock()
}
