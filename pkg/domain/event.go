package domain

import "time"

// EventType names a lifecycle notification
type EventType string

const (
	EventFlowStarted   EventType = "flow_started"
	EventStepStarted   EventType = "step_started"
	EventStepSuccess   EventType = "step_success"
	EventStepFailed    EventType = "step_failed"
	EventStepCompleted EventType = "step_completed"
	EventFlowCompleted EventType = "flow_completed"
	EventFlowFailed    EventType = "flow_failed"
	EventFlowStopped   EventType = "flow_stopped"
)

// EventTypes lists every lifecycle event in emission order of a flow
var EventTypes = []EventType{
	EventFlowStarted,
	EventStepStarted,
	EventStepSuccess,
	EventStepFailed,
	EventStepCompleted,
	EventFlowCompleted,
	EventFlowFailed,
	EventFlowStopped,
}

// Event is published on the event bus. Fields not relevant to the event
// type are left empty: step events carry Step (and Result once known),
// flow_started carries Steps, flow_completed carries Results and
// flow_failed carries Err.
type Event struct {
	ID        string
	Type      EventType
	SessionID string
	Timestamp time.Time

	Step    *MessageFlowStep
	Steps   []MessageFlowStep
	Result  *MessageFlowResult
	Results []MessageFlowResult
	Context *FlowContext
	Err     error
}

// EventRecord is the serializable projection of an Event
type EventRecord struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`

	StepID      string             `json:"step_id,omitempty"`
	Layer       Layer              `json:"layer,omitempty"`
	MessageType string             `json:"message_type,omitempty"`
	Result      *MessageFlowResult `json:"result,omitempty"`
	StepCount   int                `json:"step_count,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// Record projects the event for transport
func (e Event) Record() EventRecord {
	rec := EventRecord{
		ID:        e.ID,
		Type:      e.Type,
		SessionID: e.SessionID,
		Timestamp: e.Timestamp,
		Result:    e.Result,
	}
	if e.Step != nil {
		rec.StepID = e.Step.StepID
		rec.Layer = e.Step.Layer
		rec.MessageType = e.Step.MessageType
	}
	switch {
	case len(e.Results) > 0:
		rec.StepCount = len(e.Results)
	case len(e.Steps) > 0:
		rec.StepCount = len(e.Steps)
	}
	if e.Err != nil {
		rec.Error = e.Err.Error()
	}
	return rec
}
