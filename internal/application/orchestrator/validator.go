package orchestrator

import (
	"fmt"

	"github.com/aescanero/msgflow/pkg/domain"
)

// Validator validates flow definitions before they are queued
type Validator struct{}

// NewValidator creates a new flow validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks that a flow can run to completion on the sequential
// cursor: every step is well formed, step ids are unique and dependencies
// only reference earlier steps.
func (v *Validator) Validate(steps []domain.MessageFlowStep) error {
	if len(steps) == 0 {
		return fmt.Errorf("flow must have at least one step")
	}

	seen := make(map[string]bool, len(steps))
	for i := range steps {
		step := &steps[i]

		if err := step.CheckStructure(); err != nil {
			return fmt.Errorf("invalid step at position %d: %w", i, err)
		}

		if seen[step.StepID] {
			return fmt.Errorf("duplicate step ID: %s", step.StepID)
		}

		for _, dep := range step.Dependencies {
			if dep == step.StepID {
				return fmt.Errorf("step %s depends on itself", step.StepID)
			}
			if !seen[dep] {
				return fmt.Errorf("step %s depends on %s which is not an earlier step", step.StepID, dep)
			}
		}

		seen[step.StepID] = true
	}

	return nil
}
