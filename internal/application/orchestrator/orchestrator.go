package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aescanero/msgflow/internal/application/dispatch"
	"github.com/aescanero/msgflow/internal/application/registry"
	"github.com/aescanero/msgflow/pkg/domain"
	"github.com/aescanero/msgflow/pkg/ports"
	"go.uber.org/zap"
)

const (
	// DefaultDependencyTimeout bounds the wait for unattempted dependencies
	DefaultDependencyTimeout = 5 * time.Second

	// DefaultResponseDelay is the simulated latency of a synthesized response
	DefaultResponseDelay = 50 * time.Millisecond

	runSaveTimeout = 5 * time.Second
)

// Config holds the execution timings
type Config struct {
	// DependencyTimeout of zero or less uses DefaultDependencyTimeout
	DependencyTimeout time.Duration
	ResponseDelay     time.Duration
}

// DefaultConfig returns the default execution timings
func DefaultConfig() Config {
	return Config{
		DependencyTimeout: DefaultDependencyTimeout,
		ResponseDelay:     DefaultResponseDelay,
	}
}

// Orchestrator executes message flows
type Orchestrator struct {
	table    *dispatch.Table
	registry *registry.Registry
	bus      ports.EventBus
	metrics  ports.MetricsCollector
	storage  ports.RunStorage
	logger   *zap.Logger

	dependencyTimeout time.Duration
	responseDelay     time.Duration
}

// NewOrchestrator creates an orchestrator. storage may be nil, in which
// case finished runs are not persisted.
func NewOrchestrator(
	table *dispatch.Table,
	registry *registry.Registry,
	bus ports.EventBus,
	metrics ports.MetricsCollector,
	storage ports.RunStorage,
	logger *zap.Logger,
	cfg Config,
) *Orchestrator {
	if cfg.DependencyTimeout <= 0 {
		cfg.DependencyTimeout = DefaultDependencyTimeout
	}
	if cfg.ResponseDelay < 0 {
		cfg.ResponseDelay = 0
	}

	return &Orchestrator{
		table:             table,
		registry:          registry,
		bus:               bus,
		metrics:           metrics,
		storage:           storage,
		logger:            logger.With(zap.String("component", "orchestrator")),
		dependencyTimeout: cfg.DependencyTimeout,
		responseDelay:     cfg.ResponseDelay,
	}
}

// Execute runs steps in order against fc and returns one result per
// attempted step. Step failures are recorded in the results; the returned
// error is non-nil only when the flow aborts (FlowAbortError,
// DependencyTimeoutError) or is stopped (ErrFlowStopped). Partial results
// are returned in both cases.
func (o *Orchestrator) Execute(ctx context.Context, steps []domain.MessageFlowStep, fc *domain.FlowContext) ([]domain.MessageFlowResult, error) {
	if fc == nil {
		return nil, fmt.Errorf("flow context is required")
	}

	flowCtx, err := o.registry.Register(ctx, fc)
	if err != nil {
		return nil, fmt.Errorf("failed to register flow: %w", err)
	}

	startedAt := time.Now()
	logger := o.logger.With(zap.String("session_id", fc.SessionID))

	o.metrics.RecordFlowStarted()
	o.bus.Emit(domain.Event{
		Type:      domain.EventFlowStarted,
		SessionID: fc.SessionID,
		Steps:     steps,
		Context:   fc,
	})
	logger.Info("flow started", zap.Int("steps", len(steps)))

	results := make([]domain.MessageFlowResult, 0, len(steps))
	runErr := o.run(flowCtx, steps, fc, &results)

	status := domain.RunStatusCompleted
	switch {
	case runErr == nil:
		o.bus.Emit(domain.Event{
			Type:      domain.EventFlowCompleted,
			SessionID: fc.SessionID,
			Results:   results,
			Context:   fc,
		})
		logger.Info("flow completed",
			zap.Int("results", len(results)),
			zap.Duration("duration", time.Since(startedAt)))

	case errors.Is(runErr, domain.ErrFlowStopped):
		status = domain.RunStatusStopped
		logger.Info("flow execution interrupted", zap.Int("results", len(results)))

	default:
		status = domain.RunStatusFailed
		o.bus.Emit(domain.Event{
			Type:      domain.EventFlowFailed,
			SessionID: fc.SessionID,
			Results:   results,
			Context:   fc,
			Err:       runErr,
		})
		logger.Error("flow failed",
			zap.Int("results", len(results)),
			zap.Error(runErr))
	}

	o.registry.Deregister(fc)
	duration := time.Since(startedAt)
	o.metrics.RecordFlowFinished(status, duration)
	o.saveRun(fc, status, results, runErr, startedAt)

	return results, runErr
}

// run is the step cursor. Any panic escaping step processing aborts the
// flow at the current step.
func (o *Orchestrator) run(ctx context.Context, steps []domain.MessageFlowStep, fc *domain.FlowContext, results *[]domain.MessageFlowResult) (err error) {
	tracker := newAttemptTracker()
	var current string

	defer func() {
		if r := recover(); r != nil {
			err = &domain.FlowAbortError{
				SessionID: fc.SessionID,
				StepID:    current,
				Err:       fmt.Errorf("panic: %v", r),
			}
		}
	}()

	for i := range steps {
		step := steps[i]
		current = step.StepID

		if ctx.Err() != nil {
			return o.interrupted(ctx, fc, step.StepID)
		}

		if err := step.CheckStructure(); err != nil {
			return &domain.FlowAbortError{SessionID: fc.SessionID, StepID: step.StepID, Err: err}
		}

		if !tracker.met(step) {
			waitStart := time.Now()
			if err := tracker.wait(ctx, step, o.dependencyTimeout); err != nil {
				var timeout *domain.DependencyTimeoutError
				if errors.As(err, &timeout) {
					return err
				}
				return o.interrupted(ctx, fc, step.StepID)
			}
			o.metrics.RecordDependencyWait(time.Since(waitStart))
		}

		result, err := o.processStep(ctx, step, fc)
		if err != nil {
			return o.interrupted(ctx, fc, step.StepID)
		}

		*results = append(*results, result)
		tracker.mark(step.StepID)
		fc.Apply(step, result)

		o.bus.Emit(domain.Event{
			Type:      domain.EventStepCompleted,
			SessionID: fc.SessionID,
			Step:      &step,
			Result:    &result,
			Context:   fc,
		})
		o.metrics.RecordStep(step.Layer, result.Success, time.Duration(result.ProcessingTime*float64(time.Millisecond)))
	}

	return nil
}

// interrupted maps a cancelled context to the flow outcome. A stop request
// yields ErrFlowStopped, any other cancellation aborts the flow.
func (o *Orchestrator) interrupted(ctx context.Context, fc *domain.FlowContext, stepID string) error {
	cause := context.Cause(ctx)
	if errors.Is(cause, domain.ErrFlowStopped) {
		return domain.ErrFlowStopped
	}
	return &domain.FlowAbortError{SessionID: fc.SessionID, StepID: stepID, Err: cause}
}

func (o *Orchestrator) saveRun(fc *domain.FlowContext, status domain.RunStatus, results []domain.MessageFlowResult, runErr error, startedAt time.Time) {
	if o.storage == nil {
		return
	}

	run := &domain.FlowRun{
		SessionID:   fc.SessionID,
		Status:      status,
		Results:     results,
		Context:     fc.Snapshot(),
		StartedAt:   startedAt,
		CompletedAt: time.Now(),
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), runSaveTimeout)
	defer cancel()

	if err := o.storage.SaveRun(ctx, run); err != nil {
		o.logger.Error("failed to save flow run",
			zap.String("session_id", fc.SessionID),
			zap.Error(err))
	}
}
