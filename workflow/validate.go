package workflow

import (
	"fmt"

	"github.com/ayu2310/Wflow/errors"
)

// Validate checks a workflow before it is persisted. It returns an error
// for structural problems and a list of non-fatal warnings the caller
// should surface (duplicate step order values, for example).
func (w *Workflow) Validate() ([]string, error) {
	if w.Name == "" {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "workflow name is required")
	}
	if w.UserID == "" {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "workflow owner is required")
	}
	if len(w.Steps) == 0 {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "workflow must have at least one step")
	}
	if w.Settings.TimeoutSeconds < 0 {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "timeout must be positive")
	}

	var warnings []string
	if err := validateSteps(w.Steps, &warnings, "steps"); err != nil {
		return nil, err
	}
	return warnings, nil
}

// validateSteps walks a step list, recursing into condition branches.
func validateSteps(steps []Step, warnings *[]string, path string) error {
	seenIDs := make(map[string]bool, len(steps))
	seenOrders := make(map[int]bool, len(steps))

	for i, step := range steps {
		where := fmt.Sprintf("%s[%d]", path, i)

		if step.ID == "" {
			return errors.Wrapf(errors.ErrInvalidRequest, "%s: step id is required", where)
		}
		if seenIDs[step.ID] {
			return errors.Wrapf(errors.ErrInvalidRequest, "%s: duplicate step id %q", where, step.ID)
		}
		seenIDs[step.ID] = true

		if !IsValidStepType(string(step.Type)) {
			return errors.Wrapf(errors.ErrInvalidRequest, "%s: unknown step type %q", where, step.Type)
		}

		// Duplicate order values are ambiguous but tolerated: ordering
		// falls back to step ID, and the caller logs the warning.
		if seenOrders[step.Order] {
			*warnings = append(*warnings,
				fmt.Sprintf("%s: duplicate order %d, ties broken by step id", where, step.Order))
		}
		seenOrders[step.Order] = true

		if step.Type == StepCondition {
			cfg, err := ParseConditionConfig(step.Config)
			if err != nil {
				return errors.Wrapf(err, "%s", where)
			}
			if err := validateSteps(cfg.Then, warnings, where+".then"); err != nil {
				return err
			}
			if err := validateSteps(cfg.Else, warnings, where+".else"); err != nil {
				return err
			}
		}
	}

	return nil
}
