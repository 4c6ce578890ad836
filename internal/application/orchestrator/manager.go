package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aescanero/msgflow/internal/application/registry"
	"github.com/aescanero/msgflow/internal/application/workers"
	"github.com/aescanero/msgflow/pkg/domain"
	"github.com/aescanero/msgflow/pkg/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrFlowInProgress is returned when a finished run is requested for a
	// flow that is still queued or running
	ErrFlowInProgress = errors.New("flow still in progress")

	// ErrInvalidFlow wraps validation failures of submitted flows
	ErrInvalidFlow = errors.New("validation failed")
)

// FlowStatus is the lifecycle status reported for a submitted flow
type FlowStatus string

const (
	FlowStatusQueued    FlowStatus = "queued"
	FlowStatusRunning   FlowStatus = "running"
	FlowStatusCompleted FlowStatus = FlowStatus(domain.RunStatusCompleted)
	FlowStatusFailed    FlowStatus = FlowStatus(domain.RunStatusFailed)
	FlowStatusStopped   FlowStatus = FlowStatus(domain.RunStatusStopped)
)

// FlowView is the status of a flow with its latest context
type FlowView struct {
	SessionID string               `json:"session_id"`
	Status    FlowStatus           `json:"status"`
	Context   *domain.FlowSnapshot `json:"context,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// Manager coordinates flow submission and execution
type Manager struct {
	orchestrator *Orchestrator
	registry     *registry.Registry
	pool         *workers.Pool
	storage      ports.RunStorage
	eventBus     ports.EventBus
	validator    *Validator
	logger       *zap.Logger

	// Track submitted executions until they finish
	executions sync.Map // map[string]*executionContext

	flowTimeout time.Duration
}

// executionContext holds state for a single submitted flow
type executionContext struct {
	flow        *domain.FlowContext
	status      FlowStatus
	submittedAt time.Time
	cancelFunc  context.CancelCauseFunc
	mu          sync.Mutex

	// registered is set once the flow emitted flow_started; from then on
	// stops go through the registry
	registered bool

	// stopRequested marks a stop issued before registration; the manager
	// emits flow_stopped once the execution has ended
	stopRequested bool
}

// NewManager creates a new flow manager. A flowTimeout of zero leaves
// executions unbounded.
func NewManager(
	orchestrator *Orchestrator,
	registry *registry.Registry,
	pool *workers.Pool,
	storage ports.RunStorage,
	eventBus ports.EventBus,
	validator *Validator,
	logger *zap.Logger,
	flowTimeout time.Duration,
) *Manager {
	m := &Manager{
		orchestrator: orchestrator,
		registry:     registry,
		pool:         pool,
		storage:      storage,
		eventBus:     eventBus,
		validator:    validator,
		logger:       logger.With(zap.String("component", "flow_manager")),
		flowTimeout:  flowTimeout,
	}
	eventBus.On(domain.EventFlowStarted, m.markRegistered)
	return m
}

// markRegistered records that a submitted flow reached the registry
func (m *Manager) markRegistered(event domain.Event) {
	val, ok := m.executions.Load(event.SessionID)
	if !ok {
		return
	}
	exec := val.(*executionContext)
	if exec.flow != event.Context {
		return
	}

	exec.mu.Lock()
	exec.registered = true
	exec.mu.Unlock()
}

// SubmitFlow validates a flow and queues it for execution. A uuid session
// id is assigned when fc has none. It returns the session id.
func (m *Manager) SubmitFlow(ctx context.Context, steps []domain.MessageFlowStep, fc *domain.FlowContext) (string, error) {
	if fc == nil {
		return "", fmt.Errorf("flow context is required")
	}

	if err := m.validator.Validate(steps); err != nil {
		m.logger.Warn("flow validation failed",
			zap.String("session_id", fc.SessionID),
			zap.Error(err))
		return "", fmt.Errorf("%w: %w", ErrInvalidFlow, err)
	}

	if fc.SessionID == "" {
		fc.SessionID = uuid.New().String()
	}
	sessionID := fc.SessionID

	if _, active := m.registry.GetActiveFlow(sessionID); active {
		return "", fmt.Errorf("session %s: %w", sessionID, domain.ErrDuplicateSession)
	}

	exec := &executionContext{
		flow:        fc,
		status:      FlowStatusQueued,
		submittedAt: time.Now(),
	}
	if _, loaded := m.executions.LoadOrStore(sessionID, exec); loaded {
		return "", fmt.Errorf("session %s: %w", sessionID, domain.ErrDuplicateSession)
	}

	job := workers.Job{
		ID:   sessionID,
		Run:  func(ctx context.Context) { m.execute(ctx, steps, exec) },
		Drop: func() { m.stopQueued(exec) },
	}
	if err := m.pool.Submit(job); err != nil {
		m.executions.Delete(sessionID)
		return "", fmt.Errorf("failed to queue flow: %w", err)
	}

	m.logger.Info("flow submitted",
		zap.String("session_id", sessionID),
		zap.Int("steps", len(steps)))

	return sessionID, nil
}

// execute runs a dequeued flow on a worker
func (m *Manager) execute(ctx context.Context, steps []domain.MessageFlowStep, exec *executionContext) {
	sessionID := exec.flow.SessionID
	defer m.executions.Delete(sessionID)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	exec.mu.Lock()
	if exec.status != FlowStatusQueued {
		exec.mu.Unlock()
		return
	}
	exec.status = FlowStatusRunning
	exec.cancelFunc = cancel
	exec.mu.Unlock()

	if m.flowTimeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, m.flowTimeout)
		defer cancelTimeout()
	}

	m.logger.Debug("flow dequeued",
		zap.String("session_id", sessionID),
		zap.Duration("queued_for", time.Since(exec.submittedAt)))

	// stopped between dequeue and here
	if runCtx.Err() != nil && errors.Is(context.Cause(runCtx), domain.ErrFlowStopped) {
		m.recordStopped(exec.flow, time.Now())
		return
	}

	results, err := m.orchestrator.Execute(runCtx, steps, exec.flow)

	exec.mu.Lock()
	stoppedEarly := exec.stopRequested
	exec.cancelFunc = nil
	exec.mu.Unlock()

	if errors.Is(err, domain.ErrFlowStopped) {
		if stoppedEarly {
			m.eventBus.Emit(domain.Event{
				Type:      domain.EventFlowStopped,
				SessionID: sessionID,
				Context:   exec.flow,
			})
		}
		return
	}
	if err != nil {
		m.logger.Warn("flow execution ended with error",
			zap.String("session_id", sessionID),
			zap.Int("results", len(results)),
			zap.Error(err))
	}
}

// GetFlow returns the status of a queued, running or finished flow
func (m *Manager) GetFlow(ctx context.Context, sessionID string) (*FlowView, error) {
	if fc, ok := m.registry.GetActiveFlow(sessionID); ok {
		snap := fc.Snapshot()
		return &FlowView{SessionID: sessionID, Status: FlowStatusRunning, Context: &snap}, nil
	}

	run, err := m.storage.GetRun(ctx, sessionID)
	if err == nil {
		return &FlowView{
			SessionID: sessionID,
			Status:    FlowStatus(run.Status),
			Context:   &run.Context,
			Error:     run.Error,
		}, nil
	}
	if !errors.Is(err, domain.ErrFlowNotFound) {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	if val, ok := m.executions.Load(sessionID); ok {
		exec := val.(*executionContext)
		exec.mu.Lock()
		status := exec.status
		exec.mu.Unlock()
		return &FlowView{SessionID: sessionID, Status: status}, nil
	}

	return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrFlowNotFound)
}

// GetRun returns the record of a finished flow
func (m *Manager) GetRun(ctx context.Context, sessionID string) (*domain.FlowRun, error) {
	if _, ok := m.registry.GetActiveFlow(sessionID); ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrFlowInProgress)
	}

	run, err := m.storage.GetRun(ctx, sessionID)
	if err == nil {
		return run, nil
	}
	if errors.Is(err, domain.ErrFlowNotFound) {
		if _, queued := m.executions.Load(sessionID); queued {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrFlowInProgress)
		}
	}
	return nil, err
}

// ListRuns returns the session ids of the stored runs
func (m *Manager) ListRuns(ctx context.Context) ([]string, error) {
	ids, err := m.storage.ListRuns(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return ids, nil
}

// DeleteRun removes the record of a finished flow
func (m *Manager) DeleteRun(ctx context.Context, sessionID string) error {
	if _, err := m.GetRun(ctx, sessionID); err != nil {
		return err
	}
	if err := m.storage.DeleteRun(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}

// StopFlow stops a running or queued flow
func (m *Manager) StopFlow(sessionID string) error {
	err := m.registry.StopFlow(sessionID)
	if err == nil || !errors.Is(err, domain.ErrFlowNotFound) {
		return err
	}

	val, ok := m.executions.Load(sessionID)
	if !ok {
		return err
	}
	exec := val.(*executionContext)

	exec.mu.Lock()
	switch exec.status {
	case FlowStatusQueued:
		exec.mu.Unlock()
		if m.stopQueued(exec) {
			return nil
		}
		return fmt.Errorf("session %s: %w", sessionID, domain.ErrFlowNotFound)

	case FlowStatusRunning:
		if exec.registered || exec.cancelFunc == nil {
			exec.mu.Unlock()
			// registered since the first lookup, or already finished
			return m.registry.StopFlow(sessionID)
		}
		// dequeued but not yet registered
		exec.stopRequested = true
		exec.status = FlowStatusStopped
		exec.cancelFunc(domain.ErrFlowStopped)
		exec.mu.Unlock()
		return nil
	}
	exec.mu.Unlock()

	return fmt.Errorf("session %s: %w", sessionID, domain.ErrFlowNotFound)
}

// stopQueued marks a flow that never started as stopped and records its
// run. It reports whether the flow was still queued.
func (m *Manager) stopQueued(exec *executionContext) bool {
	exec.mu.Lock()
	if exec.status != FlowStatusQueued {
		exec.mu.Unlock()
		return false
	}
	exec.status = FlowStatusStopped
	exec.mu.Unlock()

	fc := exec.flow
	m.executions.Delete(fc.SessionID)
	m.recordStopped(fc, time.Now())

	m.logger.Info("queued flow stopped", zap.String("session_id", fc.SessionID))
	return true
}

// recordStopped emits flow_stopped for a flow that never started and saves
// its empty run
func (m *Manager) recordStopped(fc *domain.FlowContext, at time.Time) {
	m.eventBus.Emit(domain.Event{
		Type:      domain.EventFlowStopped,
		SessionID: fc.SessionID,
		Context:   fc,
	})

	run := &domain.FlowRun{
		SessionID:   fc.SessionID,
		Status:      domain.RunStatusStopped,
		Results:     []domain.MessageFlowResult{},
		Context:     fc.Snapshot(),
		StartedAt:   at,
		CompletedAt: at,
	}

	ctx, cancel := context.WithTimeout(context.Background(), runSaveTimeout)
	defer cancel()
	if err := m.storage.SaveRun(ctx, run); err != nil {
		m.logger.Error("failed to save stopped run",
			zap.String("session_id", fc.SessionID),
			zap.Error(err))
	}
}

// Shutdown stops every active flow and drains the worker pool
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down flow manager")

	m.registry.StopAll()

	if err := m.pool.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down worker pool: %w", err)
	}

	m.logger.Info("flow manager shut down complete")
	return nil
}
