package core

import (
	"sync"
	"time"
)

// EventKind is the tagged union of lifecycle events the bus carries.
type EventKind string

const (
	EventSessionCreated     EventKind = "session_created"
	EventSessionDestroyed   EventKind = "session_destroyed"
	EventNavigationStarted  EventKind = "navigation_started"
	EventNavigationComplete EventKind = "navigation_completed"
	EventPageContentChanged EventKind = "page_content_changed"
	EventAnalysisCompleted  EventKind = "analysis_completed"
	EventToolStarted        EventKind = "tool_started"
	EventToolCompleted      EventKind = "tool_completed"
	EventModuleError        EventKind = "module_error"
)

// Event is an immutable lifecycle notification broadcast to subscribers in
// emission order per session.
type Event struct {
	Kind      EventKind
	SessionID string
	Timestamp time.Time

	// Payload fields, populated according to Kind. Unused fields are zero.
	URL           string
	Mode          PerceptionMode
	ElementCount  int
	Duration      time.Duration
	ToolName      string
	Success       bool
	CacheHit      bool
	Err           *CoreError
}

const subscriberQueueCapacity = 1024

// subscriber is one consumer's bounded mailbox plus the mutex and closed
// flag that guard it against a send after unsubscribe.
type subscriber struct {
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

// EventBus fans lifecycle events out to subscribers. Publication is
// non-blocking: a lagging subscriber has its oldest queued event dropped
// (oldest-drop) rather than stalling the producer. Events emitted by the
// same session are delivered in emission order to each subscriber —
// each subscriber's mailbox is filled under that subscriber's own mutex,
// and the core never publishes concurrently for one session because
// the coordinated executor holds a per-session lock around its
// execution (see Executor.sessionLock in executor.go).
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[int]*subscriber
	nextID      int
	onDrop      func(subscriberID int, dropped Event)
}

// NewEventBus constructs an empty bus. onDrop, if non-nil, is invoked
// (off the publish path, in a goroutine) whenever a subscriber's queue
// overflows and an event is dropped; intended for logging.
func NewEventBus(onDrop func(subscriberID int, dropped Event)) *EventBus {
	return &EventBus{
		subscribers: make(map[int]*subscriber),
		onDrop:      onDrop,
	}
}

// Subscribe registers a new consumer and returns its channel plus an
// unsubscribe function. The channel has capacity subscriberQueueCapacity;
// callers must keep draining it promptly.
func (b *EventBus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	sub := &subscriber{ch: make(chan Event, subscriberQueueCapacity)}
	b.subscribers[id] = sub

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subscribers[id]; ok {
			s.mu.Lock()
			if !s.closed {
				close(s.ch)
				s.closed = true
			}
			s.mu.Unlock()
			delete(b.subscribers, id)
		}
	}
	return sub.ch, unsubscribe
}

// Publish fans an event out to every current subscriber. Non-blocking:
// a full subscriber channel has its oldest buffered event dropped to make
// room, so Publish never stalls the caller regardless of consumer speed.
func (b *EventBus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, sub := range b.subscribers {
		sub.mu.Lock()
		if sub.closed {
			sub.mu.Unlock()
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Oldest-drop: make room by discarding the head, then enqueue.
			var dropped Event
			select {
			case dropped = <-sub.ch:
			default:
			}
			select {
			case sub.ch <- evt:
			default:
			}
			if b.onDrop != nil {
				go b.onDrop(id, dropped)
			}
		}
		sub.mu.Unlock()
	}
}

// SubscriberCount reports the current number of active subscribers, for
// diagnostics and tests.
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
