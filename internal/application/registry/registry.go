// Package registry tracks the flows currently executing and aggregates
// statistics across them.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aescanero/msgflow/pkg/domain"
	"github.com/aescanero/msgflow/pkg/ports"
	"go.uber.org/zap"
)

type entry struct {
	flow      *domain.FlowContext
	cancel    context.CancelCauseFunc
	startedAt time.Time
}

// Registry is the active-flow table shared by all executions
type Registry struct {
	mu      sync.RWMutex
	flows   map[string]*entry
	bus     ports.EventBus
	metrics ports.MetricsCollector
	logger  *zap.Logger
}

// New creates an empty registry. metrics may be nil.
func New(bus ports.EventBus, metrics ports.MetricsCollector, logger *zap.Logger) *Registry {
	return &Registry{
		flows:   make(map[string]*entry),
		bus:     bus,
		metrics: metrics,
		logger:  logger.With(zap.String("component", "flow_registry")),
	}
}

// Register adds a flow and returns a context that is cancelled with
// ErrFlowStopped when the flow is stopped
func (r *Registry) Register(ctx context.Context, fc *domain.FlowContext) (context.Context, error) {
	if fc == nil || fc.SessionID == "" {
		return nil, fmt.Errorf("flow context must have a session id")
	}

	r.mu.Lock()
	if _, exists := r.flows[fc.SessionID]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("session %s: %w", fc.SessionID, domain.ErrDuplicateSession)
	}

	flowCtx, cancel := context.WithCancelCause(ctx)
	r.flows[fc.SessionID] = &entry{
		flow:      fc,
		cancel:    cancel,
		startedAt: time.Now(),
	}
	count := len(r.flows)
	r.mu.Unlock()

	r.reportActive(count)
	return flowCtx, nil
}

// Deregister removes a flow. It reports whether the flow was still present.
// An entry registered later under the same session id is left alone.
func (r *Registry) Deregister(fc *domain.FlowContext) bool {
	r.mu.Lock()
	e, ok := r.flows[fc.SessionID]
	if ok && e.flow == fc {
		delete(r.flows, fc.SessionID)
	} else {
		ok = false
	}
	count := len(r.flows)
	r.mu.Unlock()

	if !ok {
		return false
	}
	e.cancel(nil)
	r.reportActive(count)
	return true
}

// GetActiveFlow returns the context of an active flow
func (r *Registry) GetActiveFlow(sessionID string) (*domain.FlowContext, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.flows[sessionID]
	if !ok {
		return nil, false
	}
	return e.flow, true
}

// GetAllActiveFlows returns the contexts of all active flows ordered by
// session id
func (r *Registry) GetAllActiveFlows() []*domain.FlowContext {
	r.mu.RLock()
	flows := make([]*domain.FlowContext, 0, len(r.flows))
	for _, e := range r.flows {
		flows = append(flows, e.flow)
	}
	r.mu.RUnlock()

	sort.Slice(flows, func(i, j int) bool {
		return flows[i].SessionID < flows[j].SessionID
	})
	return flows
}

// StopFlow removes a flow, signals its execution to terminate and emits
// flow_stopped. A step already in progress finishes its current suspension
// point before the execution observes the signal.
func (r *Registry) StopFlow(sessionID string) error {
	r.mu.Lock()
	e, ok := r.flows[sessionID]
	if ok {
		delete(r.flows, sessionID)
	}
	count := len(r.flows)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, domain.ErrFlowNotFound)
	}

	e.cancel(domain.ErrFlowStopped)
	r.reportActive(count)

	r.logger.Info("flow stopped",
		zap.String("session_id", sessionID),
		zap.Duration("running_for", time.Since(e.startedAt)))

	r.bus.Emit(domain.Event{
		Type:      domain.EventFlowStopped,
		SessionID: sessionID,
		Context:   e.flow,
	})
	return nil
}

// StopAll stops every active flow
func (r *Registry) StopAll() {
	for _, fc := range r.GetAllActiveFlows() {
		_ = r.StopFlow(fc.SessionID)
	}
}

// GetFlowStatistics aggregates the message history of every active flow
func (r *Registry) GetFlowStatistics() domain.FlowStatistics {
	flows := r.GetAllActiveFlows()

	stats := domain.FlowStatistics{ActiveFlows: len(flows)}

	var total, successes int
	var totalTime float64
	for _, fc := range flows {
		for _, h := range fc.History() {
			total++
			totalTime += processingTime(h.Result)
			if h.Result.Success {
				successes++
			}
		}
	}

	stats.TotalMessagesProcessed = total
	if total > 0 {
		stats.AverageProcessingTime = totalTime / float64(total)
		stats.SuccessRate = float64(successes) / float64(total) * 100
	}
	return stats
}

// processingTime prefers the finalized metric and falls back to the result
func processingTime(res domain.MessageFlowResult) float64 {
	if v, ok := res.Metrics["processing_time_ms"].(float64); ok {
		return v
	}
	return res.ProcessingTime
}

func (r *Registry) reportActive(count int) {
	if r.metrics != nil {
		r.metrics.SetActiveFlows(count)
	}
}
