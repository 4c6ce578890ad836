package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aescanero/msgflow/internal/application/dispatch"
	"github.com/aescanero/msgflow/pkg/domain"
	"go.uber.org/zap"
)

// processStep runs one step. Dispatch and response failures produce a
// failed result; the returned error is only the cancellation of ctx.
func (o *Orchestrator) processStep(ctx context.Context, step domain.MessageFlowStep, fc *domain.FlowContext) (domain.MessageFlowResult, error) {
	start := time.Now()

	o.bus.Emit(domain.Event{
		Type:      domain.EventStepStarted,
		SessionID: fc.SessionID,
		Step:      &step,
		Context:   fc,
	})

	if err := sleep(ctx, time.Duration(step.ProcessingDelay)*time.Millisecond); err != nil {
		return domain.MessageFlowResult{}, err
	}

	out, err := o.table.Process(step.Layer, step.MessageType, step.DataPayload, step.InformationElements)
	var size int
	if err == nil {
		size, err = payloadSize(step.DataPayload)
	}
	elapsed := millisSince(start)

	if err != nil {
		return o.failStep(fc, step, elapsed, err), nil
	}

	var response *domain.Response
	if step.ExpectedResponse != nil {
		response, err = o.respond(ctx, step, out)
		if ctx.Err() != nil {
			return domain.MessageFlowResult{}, context.Cause(ctx)
		}
		if err != nil {
			return o.failStep(fc, step, elapsed, err), nil
		}
	}

	metrics := stepMetrics(step, elapsed, true)
	metrics["message_size_bytes"] = size
	for k, v := range out.Metrics {
		metrics[k] = v
	}

	nextSteps := make([]string, 0, 2)
	if out.NextAction != "" {
		nextSteps = append(nextSteps, out.NextAction)
	}
	nextSteps = append(nextSteps, step.StepID+"_success")

	result := domain.MessageFlowResult{
		StepID:         step.StepID,
		Success:        true,
		ProcessingTime: elapsed,
		ResponseData:   response,
		Metrics:        metrics,
		NextSteps:      nextSteps,
	}

	o.bus.Emit(domain.Event{
		Type:      domain.EventStepSuccess,
		SessionID: fc.SessionID,
		Step:      &step,
		Result:    &result,
	})
	o.logger.Debug("step processed",
		zap.String("session_id", fc.SessionID),
		zap.String("step_id", step.StepID),
		zap.String("layer", string(step.Layer)),
		zap.String("message_type", step.MessageType),
		zap.String("processing_result", out.ProcessingResult))

	return result, nil
}

func (o *Orchestrator) failStep(fc *domain.FlowContext, step domain.MessageFlowStep, elapsed float64, cause error) domain.MessageFlowResult {
	err := &domain.StepProcessingError{StepID: step.StepID, Layer: step.Layer, Err: cause}

	metrics := stepMetrics(step, elapsed, false)
	if size, sizeErr := payloadSize(step.DataPayload); sizeErr == nil {
		metrics["message_size_bytes"] = size
	}

	result := domain.MessageFlowResult{
		StepID:         step.StepID,
		Success:        false,
		ProcessingTime: elapsed,
		Error:          err.Error(),
		Metrics:        metrics,
		NextSteps:      []string{},
	}

	o.bus.Emit(domain.Event{
		Type:      domain.EventStepFailed,
		SessionID: fc.SessionID,
		Step:      &step,
		Result:    &result,
		Err:       err,
	})
	o.logger.Warn("step failed",
		zap.String("session_id", fc.SessionID),
		zap.String("step_id", step.StepID),
		zap.String("layer", string(step.Layer)),
		zap.Error(cause))

	return result
}

// respond synthesizes the acknowledgement for a step that expects one. A
// positive timeout shorter than the response delay fails the step once
// the timeout elapses.
func (o *Orchestrator) respond(ctx context.Context, step domain.MessageFlowStep, out dispatch.Outcome) (*domain.Response, error) {
	expected := step.ExpectedResponse
	timeout := time.Duration(expected.Timeout) * time.Millisecond

	if expected.Timeout > 0 && timeout < o.responseDelay {
		if err := sleep(ctx, timeout); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%s after %s: %w", expected.MessageType, timeout, domain.ErrResponseTimeout)
	}

	if err := sleep(ctx, o.responseDelay); err != nil {
		return nil, err
	}

	return &domain.Response{
		MessageType:        expected.MessageType,
		Success:            true,
		Timestamp:          time.Now(),
		CorrelationID:      step.StepID,
		ResponseMetrics:    out.Metrics,
		ValidationCriteria: expected.ValidationCriteria.Clone(),
	}, nil
}

// stepMetrics are the generic metrics recorded for every step. Layer
// metrics are merged over them by the caller.
func stepMetrics(step domain.MessageFlowStep, elapsed float64, success bool) map[string]any {
	return map[string]any{
		"processing_time_ms": elapsed,
		"layer":              string(step.Layer),
		"direction":          string(step.Direction),
		"success":            success,
		"timestamp":          time.Now().UnixMilli(),
	}
}

func payloadSize(payload any) (int, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize payload: %w", err)
	}
	return len(b), nil
}

func millisSince(t time.Time) float64 {
	return float64(time.Since(t)) / float64(time.Millisecond)
}

// sleep waits for d or until ctx is done, returning the context cause
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
