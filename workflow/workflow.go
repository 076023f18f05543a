// Package workflow defines browser-automation workflow documents: an
// ordered list of typed steps plus execution settings consumed by the
// engine when provisioning a session.
package workflow

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/ayu2310/Wflow/errors"
)

// StepType identifies which browser-automation primitive a step invokes.
type StepType string

const (
	StepNavigate  StepType = "navigate"
	StepAct       StepType = "act"
	StepExtract   StepType = "extract"
	StepObserve   StepType = "observe"
	StepAgent     StepType = "agent"
	StepWait      StepType = "wait"
	StepCondition StepType = "condition"
)

// IsValidStepType returns true if the string is a known step type
func IsValidStepType(s string) bool {
	switch StepType(s) {
	case StepNavigate, StepAct, StepExtract, StepObserve,
		StepAgent, StepWait, StepCondition:
		return true
	default:
		return false
	}
}

// Step is one typed unit of browser automation work within a workflow.
//
// Required defaults to true when unset: a failing step aborts the run
// unless the workflow author explicitly marks it optional.
type Step struct {
	ID          string          `json:"id"`
	Type        StepType        `json:"type"`
	Order       int             `json:"order"`
	Required    *bool           `json:"required,omitempty"`
	Description string          `json:"description,omitempty"`
	Config      json.RawMessage `json:"config,omitempty"`
}

// IsRequired reports whether a failure of this step aborts the execution.
func (s Step) IsRequired() bool {
	return s.Required == nil || *s.Required
}

// Viewport is the browser viewport handed to the session provider.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ExecutionSettings carries per-workflow run settings.
type ExecutionSettings struct {
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
	Headless       *bool    `json:"headless,omitempty"`
	Viewport       Viewport `json:"viewport,omitempty"`
	Timezone       string   `json:"timezone,omitempty"`
}

// Workflow is an ordered list of steps plus run settings. The scheduler
// core references workflows by ID; step semantics belong to the step
// executor collaborator.
type Workflow struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Steps       []Step            `json:"steps"`
	Settings    ExecutionSettings `json:"settings"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// SortSteps orders steps by ascending Order, ties broken by step ID so
// execution order is deterministic even for duplicate Order values.
func SortSteps(steps []Step) {
	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].Order != steps[j].Order {
			return steps[i].Order < steps[j].Order
		}
		return steps[i].ID < steps[j].ID
	})
}

// ConditionKind tags the condition variant of a condition step.
type ConditionKind string

const (
	ConditionElementExists ConditionKind = "element_exists"
	ConditionTextContains  ConditionKind = "text_contains"
	ConditionURLEquals     ConditionKind = "url_equals"
)

// Condition is a tagged variant evaluated against the live page. It is
// parsed and validated once at workflow save time, never re-parsed per
// evaluation.
type Condition struct {
	Kind     ConditionKind `json:"kind"`
	Selector string        `json:"selector,omitempty"`
	Text     string        `json:"text,omitempty"`
	URL      string        `json:"url,omitempty"`
}

// Validate checks the condition carries the field its kind requires.
func (c Condition) Validate() error {
	switch c.Kind {
	case ConditionElementExists:
		if c.Selector == "" {
			return errors.Wrap(errors.ErrInvalidRequest, "element_exists condition requires a selector")
		}
	case ConditionTextContains:
		if c.Text == "" {
			return errors.Wrap(errors.ErrInvalidRequest, "text_contains condition requires text")
		}
	case ConditionURLEquals:
		if c.URL == "" {
			return errors.Wrap(errors.ErrInvalidRequest, "url_equals condition requires a url")
		}
	default:
		return errors.Wrapf(errors.ErrInvalidRequest, "unknown condition kind %q", c.Kind)
	}
	return nil
}

// ConditionStepConfig is the config blob of a condition step: a predicate
// plus two branch step lists. Branch steps follow the same required and
// optional semantics as top-level steps.
type ConditionStepConfig struct {
	Condition Condition `json:"condition"`
	Then      []Step    `json:"then,omitempty"`
	Else      []Step    `json:"else,omitempty"`
}

// ParseConditionConfig decodes and validates a condition step's config.
func ParseConditionConfig(raw json.RawMessage) (*ConditionStepConfig, error) {
	if len(raw) == 0 {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "condition step missing config")
	}
	var cfg ConditionStepConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse condition step config")
	}
	if err := cfg.Condition.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
