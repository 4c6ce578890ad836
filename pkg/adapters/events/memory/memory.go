package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/aescanero/msgflow/pkg/domain"
	"github.com/aescanero/msgflow/pkg/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type subscription struct {
	id      ports.SubscriptionID
	handler ports.EventHandler
}

// InMemoryEventBus implements EventBus with synchronous, ordered delivery
type InMemoryEventBus struct {
	subscribers map[domain.EventType][]subscription
	nextID      ports.SubscriptionID
	mu          sync.RWMutex
	logger      *zap.Logger
}

// NewInMemoryEventBus creates a new in-memory event bus
func NewInMemoryEventBus(logger *zap.Logger) *InMemoryEventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryEventBus{
		subscribers: make(map[domain.EventType][]subscription),
		logger:      logger.With(zap.String("component", "event_bus")),
	}
}

// On registers a handler for an event type
func (e *InMemoryEventBus) On(eventType domain.EventType, handler ports.EventHandler) ports.SubscriptionID {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	e.subscribers[eventType] = append(e.subscribers[eventType], subscription{id: e.nextID, handler: handler})
	return e.nextID
}

// OnAll registers a handler for every event type
func (e *InMemoryEventBus) OnAll(handler ports.EventHandler) []ports.SubscriptionID {
	ids := make([]ports.SubscriptionID, 0, len(domain.EventTypes))
	for _, t := range domain.EventTypes {
		ids = append(ids, e.On(t, handler))
	}
	return ids
}

// Off removes a handler. Unknown ids are ignored.
func (e *InMemoryEventBus) Off(eventType domain.EventType, id ports.SubscriptionID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs := e.subscribers[eventType]
	for i, s := range subs {
		if s.id == id {
			// copy so a concurrent Emit iterating the old slice is unaffected
			next := make([]subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			e.subscribers[eventType] = next
			return
		}
	}
}

// Emit delivers the event to every handler of its type
func (e *InMemoryEventBus) Emit(event domain.Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	e.mu.RLock()
	subs := e.subscribers[event.Type]
	e.mu.RUnlock()

	for _, s := range subs {
		e.invoke(s, event)
	}
}

// Close drops all subscribers
func (e *InMemoryEventBus) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.subscribers = make(map[domain.EventType][]subscription)
	return nil
}

func (e *InMemoryEventBus) invoke(s subscription, event domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event handler panicked",
				zap.String("event_type", string(event.Type)),
				zap.String("session_id", event.SessionID),
				zap.Uint64("subscription_id", uint64(s.id)),
				zap.Error(fmt.Errorf("%v", r)))
		}
	}()

	s.handler(event)
}
