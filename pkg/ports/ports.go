// Package ports declares the interfaces between the engine and its adapters.
package ports

import (
	"context"
	"time"

	"github.com/aescanero/msgflow/pkg/domain"
)

// EventHandler receives lifecycle events
type EventHandler func(event domain.Event)

// SubscriptionID identifies a registered handler
type SubscriptionID uint64

// EventBus is the in-process publish/subscribe channel for lifecycle events.
// Handlers are invoked synchronously, in registration order, on the
// emitting goroutine. A panicking handler must not affect the emitter or
// other handlers.
type EventBus interface {
	On(eventType domain.EventType, handler EventHandler) SubscriptionID
	OnAll(handler EventHandler) []SubscriptionID
	Off(eventType domain.EventType, id SubscriptionID)
	Emit(event domain.Event)
}

// RunStorage persists finished flow runs for the persistence collaborator
type RunStorage interface {
	SaveRun(ctx context.Context, run *domain.FlowRun) error
	GetRun(ctx context.Context, sessionID string) (*domain.FlowRun, error)
	ListRuns(ctx context.Context) ([]string, error)
	DeleteRun(ctx context.Context, sessionID string) error
}

// MetricsCollector records engine metrics
type MetricsCollector interface {
	RecordFlowStarted()
	RecordFlowFinished(status domain.RunStatus, duration time.Duration)
	RecordStep(layer domain.Layer, success bool, duration time.Duration)
	RecordDependencyWait(duration time.Duration)
	SetActiveFlows(count int)
	SetQueueDepth(depth int)
	RecordWorkerPoolStatus(idle, busy, stopped int)
}
