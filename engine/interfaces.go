// Package engine runs workflows. It dequeues due jobs, drives each run
// through the execution state machine, and delegates actual browser work
// to collaborator interfaces so the lifecycle core stays independent of
// any automation backend.
package engine

import (
	"context"
	"encoding/json"

	"github.com/ayu2310/Wflow/execution"
	"github.com/ayu2310/Wflow/workflow"
)

// SessionConfig is the browser environment requested for one run
type SessionConfig struct {
	Headless bool              `json:"headless"`
	Viewport workflow.Viewport `json:"viewport"`
	Timezone string            `json:"timezone,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SessionHandle identifies a provisioned browser session
type SessionHandle struct {
	ID         string `json:"id"`
	ConnectURL string `json:"connect_url,omitempty"`
}

// SessionProvider provisions and tears down browser sessions.
// CloseSession must be idempotent: the engine closes defensively on
// every exit path and may close the same handle twice.
type SessionProvider interface {
	CreateSession(ctx context.Context, cfg SessionConfig) (*SessionHandle, error)
	CloseSession(ctx context.Context, handle *SessionHandle) error
}

// StepExecutor performs one step against a live session. The engine
// owns ordering, retries, and state; the executor owns step semantics.
type StepExecutor interface {
	ExecuteStep(ctx context.Context, session *SessionHandle, step workflow.Step) (json.RawMessage, error)
	EvaluateCondition(ctx context.Context, session *SessionHandle, cond workflow.Condition) (bool, error)
}

// Notifier receives run lifecycle events, gated by the schedule's
// notification flags. Notification failures never affect run outcomes.
type Notifier interface {
	NotifyStart(ctx context.Context, exec *execution.Execution)
	NotifySuccess(ctx context.Context, exec *execution.Execution)
	NotifyFailure(ctx context.Context, exec *execution.Execution)
}

// NopNotifier discards all events
type NopNotifier struct{}

func (NopNotifier) NotifyStart(context.Context, *execution.Execution)   {}
func (NopNotifier) NotifySuccess(context.Context, *execution.Execution) {}
func (NopNotifier) NotifyFailure(context.Context, *execution.Execution) {}
