package dispatch

import (
	"fmt"
	"sync"

	"github.com/aescanero/msgflow/pkg/domain"
)

// ResultProcessed is the label reported by the generic handler
const ResultProcessed = "processed"

// Outcome is the layer-specific result of processing one message
type Outcome struct {
	Layer            domain.Layer
	MessageType      string
	ProcessingResult string
	Metrics          map[string]any
	NextAction       string
}

// Handler derives an outcome from a message's information elements. It must
// be deterministic and free of side effects.
type Handler func(ies domain.IEs) (Outcome, error)

type key struct {
	layer       domain.Layer
	messageType string
}

// Table maps (layer, message type) pairs to handlers
type Table struct {
	mu       sync.RWMutex
	handlers map[key]Handler
}

// NewTable creates a table with the built-in message semantics of every layer
func NewTable() *Table {
	t := &Table{handlers: make(map[key]Handler)}
	registerPHY(t)
	registerMAC(t)
	registerRLC(t)
	registerPDCP(t)
	registerRRC(t)
	registerNAS(t)
	registerSIP(t)
	registerIMS(t)
	return t
}

// Register adds or replaces the handler for a layer and message type
func (t *Table) Register(layer domain.Layer, messageType string, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.handlers[key{layer, messageType}] = h
}

// Lookup returns the handler registered for a layer and message type
func (t *Table) Lookup(layer domain.Layer, messageType string) (Handler, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h, ok := t.handlers[key{layer, messageType}]
	return h, ok
}

// Len returns the number of registered entries
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.handlers)
}

// Process runs the handler for the message. Unknown layers or message types
// are handled generically. The payload is not inspected by any built-in
// handler. A panicking handler is reported as an error.
func (t *Table) Process(layer domain.Layer, messageType string, payload any, ies domain.IEs) (out Outcome, err error) {
	h, ok := t.Lookup(layer, messageType)
	if !ok {
		return generic(layer, messageType, ies), nil
	}

	defer func() {
		if r := recover(); r != nil {
			out = Outcome{}
			err = fmt.Errorf("handler %s/%s panicked: %v", layer, messageType, r)
		}
	}()

	out, err = h(ies)
	if err != nil {
		return Outcome{}, fmt.Errorf("handler %s/%s: %w", layer, messageType, err)
	}

	out.Layer = layer
	out.MessageType = messageType
	if out.Metrics == nil {
		out.Metrics = map[string]any{}
	}
	return out, nil
}

// generic echoes the information elements as metrics
func generic(layer domain.Layer, messageType string, ies domain.IEs) Outcome {
	return Outcome{
		Layer:            layer,
		MessageType:      messageType,
		ProcessingResult: ResultProcessed,
		Metrics:          map[string]any(ies.Clone()),
	}
}

// pick copies the named elements that are present
func pick(ies domain.IEs, names ...string) map[string]any {
	m := make(map[string]any, len(names))
	for _, n := range names {
		if v, ok := ies.Value(n); ok {
			m[n] = v
		}
	}
	return m
}

// fixed builds a handler that reports the named elements under a fixed
// processing result and next action
func fixed(result, next string, names ...string) Handler {
	return func(ies domain.IEs) (Outcome, error) {
		return Outcome{
			ProcessingResult: result,
			Metrics:          pick(ies, names...),
			NextAction:       next,
		}, nil
	}
}
