package domain

import "time"

// Response is the acknowledgement synthesized for a step that declares an
// expected response
type Response struct {
	MessageType        string         `json:"message_type"`
	Success            bool           `json:"success"`
	Timestamp          time.Time      `json:"timestamp"`
	CorrelationID      string         `json:"correlation_id"`
	ResponseMetrics    map[string]any `json:"response_metrics,omitempty"`
	ValidationCriteria IEs            `json:"validation_criteria,omitempty"`
}

// Fields renders the response as the map merged into FlowContext variables
func (r *Response) Fields() map[string]any {
	return map[string]any{
		"message_type": r.MessageType,
		"response_data": map[string]any{
			"success":          r.Success,
			"timestamp":        r.Timestamp.UnixMilli(),
			"correlation_id":   r.CorrelationID,
			"response_metrics": r.ResponseMetrics,
		},
		"validation_criteria": r.ValidationCriteria,
	}
}

// MessageFlowResult is the outcome of processing one step
type MessageFlowResult struct {
	StepID         string         `json:"step_id"`
	Success        bool           `json:"success"`
	ProcessingTime float64        `json:"processing_time"` // milliseconds
	ResponseData   *Response      `json:"response_data,omitempty"`
	Error          string         `json:"error,omitempty"`
	Metrics        map[string]any `json:"metrics"`
	NextSteps      []string       `json:"next_steps"`
}

// FlowStatistics aggregates the message history of all active flows
type FlowStatistics struct {
	ActiveFlows            int     `json:"active_flows"`
	TotalMessagesProcessed int     `json:"total_messages_processed"`
	AverageProcessingTime  float64 `json:"average_processing_time"`
	SuccessRate            float64 `json:"success_rate"`
}

// RunStatus is the terminal status of a flow execution
type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusStopped   RunStatus = "stopped"
)

// FlowRun is the record of a finished execution handed to run storage
type FlowRun struct {
	SessionID   string              `json:"session_id"`
	Status      RunStatus           `json:"status"`
	Results     []MessageFlowResult `json:"results"`
	Context     FlowSnapshot        `json:"context"`
	Error       string              `json:"error,omitempty"`
	StartedAt   time.Time           `json:"started_at"`
	CompletedAt time.Time           `json:"completed_at"`
}
