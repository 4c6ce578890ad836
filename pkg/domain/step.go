package domain

import "fmt"

// Layer identifies the protocol layer a message belongs to
type Layer string

const (
	LayerPHY  Layer = "PHY"
	LayerMAC  Layer = "MAC"
	LayerRLC  Layer = "RLC"
	LayerPDCP Layer = "PDCP"
	LayerRRC  Layer = "RRC"
	LayerNAS  Layer = "NAS"
	LayerSIP  Layer = "SIP"
	LayerIMS  Layer = "IMS"
)

// Layers lists the layers with dedicated message semantics
var Layers = []Layer{LayerPHY, LayerMAC, LayerRLC, LayerPDCP, LayerRRC, LayerNAS, LayerSIP, LayerIMS}

// Known reports whether the layer has dedicated message semantics
func (l Layer) Known() bool {
	for _, k := range Layers {
		if l == k {
			return true
		}
	}
	return false
}

// Direction is the transfer direction of a message
type Direction string

const (
	DirectionUL            Direction = "UL"
	DirectionDL            Direction = "DL"
	DirectionBidirectional Direction = "BIDIRECTIONAL"
)

// ExpectedResponse describes the acknowledgement a step waits for
type ExpectedResponse struct {
	MessageType        string `json:"message_type" yaml:"message_type"`
	Timeout            int    `json:"timeout" yaml:"timeout"` // milliseconds
	ValidationCriteria IEs    `json:"validation_criteria,omitempty" yaml:"validation_criteria,omitempty"`
}

// MessageFlowStep describes one protocol message of a flow
type MessageFlowStep struct {
	StepID              string            `json:"step_id" yaml:"step_id"`
	Timestamp           int64             `json:"timestamp" yaml:"timestamp"`
	Direction           Direction         `json:"direction" yaml:"direction"`
	Layer               Layer             `json:"layer" yaml:"layer"`
	MessageType         string            `json:"message_type" yaml:"message_type"`
	MessageName         string            `json:"message_name" yaml:"message_name"`
	Source              string            `json:"source" yaml:"source"`
	Destination         string            `json:"destination" yaml:"destination"`
	DataPayload         any               `json:"data_payload,omitempty" yaml:"data_payload,omitempty"`
	InformationElements IEs               `json:"information_elements,omitempty" yaml:"information_elements,omitempty"`
	LayerParameters     IEs               `json:"layer_parameters,omitempty" yaml:"layer_parameters,omitempty"`
	ExpectedResponse    *ExpectedResponse `json:"expected_response,omitempty" yaml:"expected_response,omitempty"`
	Dependencies        []string          `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	ProcessingDelay     int               `json:"processing_delay" yaml:"processing_delay"` // milliseconds

	// Retry counters are carried for the flow definition provider; the
	// engine does not act on them.
	RetryCount int `json:"retry_count" yaml:"retry_count"`
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}

// CheckStructure verifies the fields the engine relies on
func (s *MessageFlowStep) CheckStructure() error {
	if s.StepID == "" {
		return fmt.Errorf("%w: step_id is required", ErrMalformedStep)
	}
	if s.Layer == "" {
		return fmt.Errorf("%w: step %s has no layer", ErrMalformedStep, s.StepID)
	}
	for _, dep := range s.Dependencies {
		if dep == "" {
			return fmt.Errorf("%w: step %s has an empty dependency", ErrMalformedStep, s.StepID)
		}
	}
	if s.ProcessingDelay < 0 {
		return fmt.Errorf("%w: step %s has negative processing delay", ErrMalformedStep, s.StepID)
	}
	return nil
}
