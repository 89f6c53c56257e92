package event_manager

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultMaxHandlersPerType = 100

// EventFilter restricts which events a channel subscriber receives.
// Empty Types means all types.
type EventFilter struct {
	Types []EventType
}

func (f EventFilter) matches(t EventType) bool {
	if len(f.Types) == 0 {
		return true
	}
	for _, ft := range f.Types {
		if ft == t {
			return true
		}
	}
	return false
}

// Subscriber receives events over a buffered channel. Slow subscribers
// lose events rather than stall the bus.
type Subscriber struct {
	ID      uuid.UUID
	Filter  EventFilter
	Channel chan Event
}

type handlerEntry struct {
	id uuid.UUID
	fn func(Event)
}

// EventManager fans events out to synchronous handlers (registration
// order, panic-isolated) and to filtered channel subscribers
// (non-blocking, drop on full).
type EventManager struct {
	mu          sync.RWMutex
	handlers    map[EventType][]handlerEntry
	subscribers map[uuid.UUID]*Subscriber
	maxHandlers int
	logger      zerolog.Logger
}

func NewEventManager() *EventManager {
	return &EventManager{
		handlers:    make(map[EventType][]handlerEntry),
		subscribers: make(map[uuid.UUID]*Subscriber),
		maxHandlers: DefaultMaxHandlersPerType,
		logger:      log.With().Str("component", "EventManager").Logger(),
	}
}

// SetMaxHandlersPerType adjusts the leak guard. Zero restores the default.
func (em *EventManager) SetMaxHandlersPerType(n int) {
	em.mu.Lock()
	defer em.mu.Unlock()
	if n <= 0 {
		n = DefaultMaxHandlersPerType
	}
	em.maxHandlers = n
}

// On registers a synchronous handler for one event type. Handlers run in
// registration order during Publish. The returned func unregisters.
func (em *EventManager) On(t EventType, fn func(Event)) (func(), error) {
	em.mu.Lock()
	defer em.mu.Unlock()

	if len(em.handlers[t]) >= em.maxHandlers {
		return nil, ErrTooManyHandlers
	}

	id := uuid.New()
	em.handlers[t] = append(em.handlers[t], handlerEntry{id: id, fn: fn})

	return func() {
		em.mu.Lock()
		defer em.mu.Unlock()
		entries := em.handlers[t]
		for i, e := range entries {
			if e.id == id {
				em.handlers[t] = append(entries[:i:i], entries[i+1:]...)
				return
			}
		}
	}, nil
}

// Subscribe creates a channel subscriber. bufferSize <= 0 defaults to 100.
func (em *EventManager) Subscribe(filter EventFilter, bufferSize int) *Subscriber {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	sub := &Subscriber{
		ID:      uuid.New(),
		Filter:  filter,
		Channel: make(chan Event, bufferSize),
	}

	em.mu.Lock()
	em.subscribers[sub.ID] = sub
	em.mu.Unlock()

	em.logger.Debug().
		Str("subscriberID", sub.ID.String()).
		Int("typeCount", len(filter.Types)).
		Msg("Subscriber registered")
	return sub
}

func (em *EventManager) Unsubscribe(id uuid.UUID) {
	em.mu.Lock()
	sub, ok := em.subscribers[id]
	if ok {
		delete(em.subscribers, id)
	}
	em.mu.Unlock()

	if ok {
		close(sub.Channel)
		em.logger.Debug().Str("subscriberID", id.String()).Msg("Subscriber removed")
	}
}

// Publish builds an Event around data and delivers it: synchronous
// handlers first, then channel subscribers. A panicking handler is
// logged and skipped; it never halts fan-out.
func (em *EventManager) Publish(data EventData, raw string) Event {
	event := Event{
		ID:        uuid.New(),
		Type:      data.GetEventType(),
		Data:      data,
		Raw:       raw,
		Timestamp: time.Now(),
	}

	em.mu.RLock()
	entries := make([]handlerEntry, len(em.handlers[event.Type]))
	copy(entries, em.handlers[event.Type])
	subs := make([]*Subscriber, 0, len(em.subscribers))
	for _, sub := range em.subscribers {
		if sub.Filter.matches(event.Type) {
			subs = append(subs, sub)
		}
	}
	em.mu.RUnlock()

	for _, entry := range entries {
		em.invoke(entry, event)
	}

	for _, sub := range subs {
		select {
		case sub.Channel <- event:
		default:
			em.logger.Warn().
				Str("subscriberID", sub.ID.String()).
				Str("eventType", string(event.Type)).
				Msg("Subscriber channel full, dropping event")
		}
	}

	return event
}

func (em *EventManager) invoke(entry handlerEntry, event Event) {
	defer func() {
		if r := recover(); r != nil {
			em.logger.Error().
				Str("eventType", string(event.Type)).
				Interface("panic", r).
				Msg("Event handler panicked")
		}
	}()
	entry.fn(event)
}

// WaitFor blocks until one event of type t is published or the timeout
// elapses. timeout <= 0 waits until ctx is done.
func (em *EventManager) WaitFor(ctx context.Context, t EventType, timeout time.Duration) (Event, error) {
	ch := make(chan Event, 1)
	var once sync.Once
	off, err := em.On(t, func(e Event) {
		once.Do(func() { ch <- e })
	})
	if err != nil {
		return Event{}, err
	}
	defer off()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case e := <-ch:
		return e, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return Event{}, ErrWaitTimeout
		}
		return Event{}, ctx.Err()
	}
}

// HandlerCount reports registered synchronous handlers for a type.
func (em *EventManager) HandlerCount(t EventType) int {
	em.mu.RLock()
	defer em.mu.RUnlock()
	return len(em.handlers[t])
}

// SubscriberCount reports active channel subscribers.
func (em *EventManager) SubscriberCount() int {
	em.mu.RLock()
	defer em.mu.RUnlock()
	return len(em.subscribers)
}
