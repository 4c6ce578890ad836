// Package flowdef loads declarative message flow definitions.
//
// A definition holds the initial flow context and the ordered steps:
//
//	context:
//	  ue_id: ue-001
//	  cell_id: cell-1
//	  plmn: {mcc: "001", mnc: "01"}
//	steps:
//	  - step_id: prach
//	    layer: PHY
//	    message_type: PRACH_Preamble
//	    information_elements: {preamble_id: 12}
//
// YAML and JSON documents are both accepted.
package flowdef

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aescanero/msgflow/pkg/domain"
	"gopkg.in/yaml.v3"
)

// ContextSpec is the initial state of a flow
type ContextSpec struct {
	SessionID string         `json:"session_id" yaml:"session_id"`
	UEID      string         `json:"ue_id" yaml:"ue_id"`
	CellID    string         `json:"cell_id" yaml:"cell_id"`
	PLMN      domain.PLMN    `json:"plmn" yaml:"plmn"`
	Variables map[string]any `json:"variables,omitempty" yaml:"variables,omitempty"`
}

// Definition is a complete flow: its context and ordered steps
type Definition struct {
	Context ContextSpec              `json:"context" yaml:"context"`
	Steps   []domain.MessageFlowStep `json:"steps" yaml:"steps"`
}

// Parse decodes a YAML or JSON definition
func Parse(data []byte) (*Definition, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("flow definition is empty")
	}

	def := &Definition{}
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, def); err != nil {
			return nil, fmt.Errorf("failed to parse JSON flow definition: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(trimmed, def); err != nil {
			return nil, fmt.Errorf("failed to parse YAML flow definition: %w", err)
		}
	}

	if len(def.Steps) == 0 {
		return nil, fmt.Errorf("flow definition has no steps")
	}
	return def, nil
}

// Load reads and parses a definition file
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read flow definition %s: %w", path, err)
	}

	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// FlowContext builds a fresh execution context seeded with the variables
func (d *Definition) FlowContext() *domain.FlowContext {
	fc := domain.NewFlowContext(d.Context.SessionID, d.Context.UEID, d.Context.CellID, d.Context.PLMN)
	for k, v := range d.Context.Variables {
		fc.SetVariable(k, v)
	}
	return fc
}

// Marshal renders the definition as YAML
func (d *Definition) Marshal() ([]byte, error) {
	out, err := yaml.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal flow definition: %w", err)
	}
	return out, nil
}
