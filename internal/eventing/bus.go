package eventing

import (
	"context"
	"errors"
	"reflect"
	"sync"
)

// EventHandler handles a published event.
type EventHandler func(ctx context.Context, event any) error

// EventBus delivers events to subscribed handlers.
type EventBus interface {
	Publish(ctx context.Context, event any) error
	Subscribe(eventType string, handler EventHandler) func()
}

// ErrNilEvent is returned when a nil event is published.
var ErrNilEvent = errors.New("eventing: nil event")

// ErrInvalidEventType is returned when the event type cannot be determined.
var ErrInvalidEventType = errors.New("eventing: invalid event type")

// ErrClosed is returned when publishing on a closed bus.
var ErrClosed = errors.New("eventing: bus closed")

type subscription struct {
	handler EventHandler
}

// InMemoryBus is an in-process event bus. Subscribers only observe events
// published after they subscribed; nothing is persisted or replayed.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[string]map[*subscription]struct{}
	closed   bool
}

// NewInMemoryBus constructs a new in-memory bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		handlers: make(map[string]map[*subscription]struct{}),
	}
}

// Publish dispatches an event to all handlers of its type.
func (b *InMemoryBus) Publish(ctx context.Context, event any) error {
	if event == nil {
		return ErrNilEvent
	}

	eventType := EventType(event)
	if eventType == "" {
		return ErrInvalidEventType
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	subs := make([]*subscription, 0, len(b.handlers[eventType]))
	for sub := range b.handlers[eventType] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	var firstErr error
	for _, sub := range subs {
		if err := sub.handler(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Subscribe registers a handler for an event type and returns a function
// that removes it. The returned function is safe to call more than once.
func (b *InMemoryBus) Subscribe(eventType string, handler EventHandler) func() {
	if eventType == "" || handler == nil {
		return func() {}
	}

	sub := &subscription{handler: handler}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	set, ok := b.handlers[eventType]
	if !ok {
		set = make(map[*subscription]struct{})
		b.handlers[eventType] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			if set, ok := b.handlers[eventType]; ok {
				delete(set, sub)
				if len(set) == 0 {
					delete(b.handlers, eventType)
				}
			}
			b.mu.Unlock()
		})
	}
}

// SubscriberCount returns the number of live subscriptions for an event type.
func (b *InMemoryBus) SubscriberCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}

// Close drops every subscription. Later publishes fail with ErrClosed.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	b.closed = true
	b.handlers = make(map[string]map[*subscription]struct{})
	b.mu.Unlock()
}

// SubscribeChan subscribes to events of type T that pass filter and forwards
// them to a buffered channel. Sends never block the publisher: when the buffer
// is full the event is dropped for this subscriber, so waiters should treat a
// receive as a wake-up and re-read the state they care about.
func SubscribeChan[T any](bus EventBus, filter func(T) bool, buffer int) (<-chan T, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan T, buffer)
	unsubscribe := bus.Subscribe(EventTypeOf[T](), func(_ context.Context, event any) error {
		evt, ok := event.(T)
		if !ok {
			return ErrInvalidEventType
		}
		if filter != nil && !filter(evt) {
			return nil
		}
		select {
		case ch <- evt:
		default:
		}
		return nil
	})
	return ch, unsubscribe
}

// EventType returns the fully-qualified type name for an event instance.
func EventType(event any) string {
	if event == nil {
		return ""
	}
	t := reflect.TypeOf(event)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.String()
}

// EventTypeOf returns the fully-qualified type name for a type parameter.
func EventTypeOf[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}
