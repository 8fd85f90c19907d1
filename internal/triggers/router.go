// Package triggers routes external message-bus events to the missions
// whose schedule names them. A background consumer feeds a single dispatch
// goroutine; each mission attaches one listener at activation and detaches
// it at deactivation or deletion, so the listener set never grows beyond
// the set of armed event-triggered missions.
package triggers

import (
	"context"
	"sync"

	"github.com/fleetops/missionctl/internal/logging"
)

// Message is one event delivered from the message bus: the platform that
// raised it and the event name, matched against a mission's
// {source, event} schedule.
type Message struct {
	Source string
	Event  string
}

// Listener is notified of every message the router receives. It runs on
// the router's single dispatch goroutine and must not block.
type Listener func(msg Message)

// Subscription is an opaque handle returned by Subscribe, used to detach a
// listener later.
type Subscription struct {
	id uint64
}

// Router fans a single ordered stream of bus messages out to every
// currently-subscribed listener.
type Router struct {
	mu        sync.Mutex
	listeners map[uint64]Listener
	nextID    uint64
	queue     chan Message
}

const routerQueueDepth = 256

// NewRouter builds an empty Router. Call Run to start its dispatch loop.
func NewRouter() *Router {
	return &Router{
		listeners: make(map[uint64]Listener),
		queue:     make(chan Message, routerQueueDepth),
	}
}

// Run processes queued messages on the calling goroutine until ctx is
// canceled. This is the router's single dedicated dispatch thread; all
// listener callbacks run here, in message order.
func (r *Router) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-r.queue:
			r.dispatch(msg)
		}
	}
}

func (r *Router) dispatch(msg Message) {
	r.mu.Lock()
	listeners := make([]Listener, 0, len(r.listeners))
	for _, l := range r.listeners {
		listeners = append(listeners, l)
	}
	r.mu.Unlock()

	for _, l := range listeners {
		l(msg)
	}
}

// Publish enqueues msg for dispatch. Safe to call from any goroutine; a
// full queue drops the message rather than blocking the publisher.
func (r *Router) Publish(msg Message) {
	select {
	case r.queue <- msg:
	default:
		logging.Op().Warn("trigger router queue full, dropping message", "source", msg.Source, "event", msg.Event)
	}
}

// Subscribe registers l and returns a handle for Unsubscribe. Each mission
// calls this once, at activation.
func (r *Router) Subscribe(l Listener) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.listeners[id] = l
	return Subscription{id: id}
}

// Unsubscribe detaches the listener sub identifies. Each mission calls
// this once, at deactivation or deletion, so a mission's listener count
// never exceeds one regardless of how many times it is armed and disarmed.
func (r *Router) Unsubscribe(sub Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.listeners, sub.id)
}
