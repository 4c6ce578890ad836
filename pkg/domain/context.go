package domain

import (
	"encoding/json"
	"sync"
)

// PLMN is the public land mobile network identity
type PLMN struct {
	MCC string `json:"mcc" yaml:"mcc"`
	MNC string `json:"mnc" yaml:"mnc"`
}

// HistoryEntry is a processed step annotated with its result
type HistoryEntry struct {
	Step   MessageFlowStep   `json:"step"`
	Result MessageFlowResult `json:"processing_result"`
}

// FlowSnapshot is a point-in-time copy of a FlowContext
type FlowSnapshot struct {
	SessionID          string                                  `json:"session_id"`
	UEID               string                                  `json:"ue_id"`
	CellID             string                                  `json:"cell_id"`
	PLMN               PLMN                                    `json:"plmn"`
	CurrentState       string                                  `json:"current_state"`
	Variables          map[string]any                          `json:"variables"`
	LayerStates        map[Layer]map[string]MessageFlowResult `json:"layer_states"`
	MessageHistory     []HistoryEntry                          `json:"message_history"`
	PerformanceMetrics map[string]any                          `json:"performance_metrics"`
}

// FlowContext is the mutable state of one flow execution. Only the
// executing orchestrator writes to it; readers go through the accessors,
// which copy under a read lock.
type FlowContext struct {
	SessionID    string
	UEID         string
	CellID       string
	PLMN         PLMN
	CurrentState string

	mu                 sync.RWMutex
	variables          map[string]any
	layerStates        map[Layer]map[string]MessageFlowResult
	messageHistory     []HistoryEntry
	performanceMetrics map[string]any
}

// NewFlowContext creates an empty context for a session
func NewFlowContext(sessionID, ueID, cellID string, plmn PLMN) *FlowContext {
	return &FlowContext{
		SessionID:          sessionID,
		UEID:               ueID,
		CellID:             cellID,
		PLMN:               plmn,
		CurrentState:       "IDLE",
		variables:          make(map[string]any),
		layerStates:        make(map[Layer]map[string]MessageFlowResult),
		performanceMetrics: make(map[string]any),
	}
}

// SetVariable seeds a variable before execution
func (c *FlowContext) SetVariable(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.variables == nil {
		c.variables = make(map[string]any)
	}
	c.variables[key] = value
}

// Apply records the outcome of a step: response fields are merged into the
// variables, the result becomes the layer state for its message type,
// metrics are merged last-write-wins and the step is appended to history.
func (c *FlowContext) Apply(step MessageFlowStep, result MessageFlowResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.variables == nil {
		c.variables = make(map[string]any)
	}
	if c.layerStates == nil {
		c.layerStates = make(map[Layer]map[string]MessageFlowResult)
	}
	if c.performanceMetrics == nil {
		c.performanceMetrics = make(map[string]any)
	}

	if result.ResponseData != nil {
		for k, v := range result.ResponseData.Fields() {
			c.variables[k] = v
		}
	}

	states, ok := c.layerStates[step.Layer]
	if !ok {
		states = make(map[string]MessageFlowResult)
		c.layerStates[step.Layer] = states
	}
	states[step.MessageType] = result

	for k, v := range result.Metrics {
		c.performanceMetrics[k] = v
	}

	c.messageHistory = append(c.messageHistory, HistoryEntry{Step: step, Result: result})
}

// Variable returns one variable
func (c *FlowContext) Variable(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.variables[key]
	return v, ok
}

// LayerState returns the last result recorded for a layer and message type
func (c *FlowContext) LayerState(layer Layer, messageType string) (MessageFlowResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.layerStates[layer][messageType]
	return r, ok
}

// History returns a copy of the message history
func (c *FlowContext) History() []HistoryEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]HistoryEntry, len(c.messageHistory))
	copy(out, c.messageHistory)
	return out
}

// Snapshot copies the whole context
func (c *FlowContext) Snapshot() FlowSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := FlowSnapshot{
		SessionID:          c.SessionID,
		UEID:               c.UEID,
		CellID:             c.CellID,
		PLMN:               c.PLMN,
		CurrentState:       c.CurrentState,
		Variables:          make(map[string]any, len(c.variables)),
		LayerStates:        make(map[Layer]map[string]MessageFlowResult, len(c.layerStates)),
		MessageHistory:     make([]HistoryEntry, len(c.messageHistory)),
		PerformanceMetrics: make(map[string]any, len(c.performanceMetrics)),
	}
	for k, v := range c.variables {
		snap.Variables[k] = v
	}
	for layer, states := range c.layerStates {
		cp := make(map[string]MessageFlowResult, len(states))
		for k, v := range states {
			cp[k] = v
		}
		snap.LayerStates[layer] = cp
	}
	copy(snap.MessageHistory, c.messageHistory)
	for k, v := range c.performanceMetrics {
		snap.PerformanceMetrics[k] = v
	}
	return snap
}

// MarshalJSON encodes a snapshot of the context
func (c *FlowContext) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Snapshot())
}
