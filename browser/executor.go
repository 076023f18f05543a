package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/ayu2310/Wflow/engine"
	"github.com/ayu2310/Wflow/errors"
	"github.com/ayu2310/Wflow/workflow"
)

// Executor forwards steps to the runner service that holds the live
// page for a session. Step semantics live entirely on the runner side;
// this type only owns transport and error mapping.
type Executor struct {
	runnerURL string
	apiKey    string
	client    *http.Client
}

// NewExecutor creates a step executor
func NewExecutor(runnerURL, apiKey string, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Executor{
		runnerURL: runnerURL,
		apiKey:    apiKey,
		client:    &http.Client{Timeout: timeout},
	}
}

type executeStepRequest struct {
	SessionID  string          `json:"session_id"`
	ConnectURL string          `json:"connect_url,omitempty"`
	StepID     string          `json:"step_id"`
	StepType   string          `json:"step_type"`
	Config     json.RawMessage `json:"config,omitempty"`
}

type executeStepResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// ExecuteStep runs one step against the session's page
func (e *Executor) ExecuteStep(ctx context.Context, session *engine.SessionHandle, step workflow.Step) (json.RawMessage, error) {
	if e.runnerURL == "" {
		return nil, errors.New("no step runner configured")
	}

	req := executeStepRequest{
		SessionID:  session.ID,
		ConnectURL: session.ConnectURL,
		StepID:     step.ID,
		StepType:   string(step.Type),
		Config:     step.Config,
	}

	var resp executeStepResponse
	if err := e.do(ctx, e.runnerURL+"/v1/steps/execute", req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return resp.Result, errors.Newf("step %s failed: %s", step.ID, resp.Error)
	}
	return resp.Result, nil
}

type evaluateConditionRequest struct {
	SessionID  string `json:"session_id"`
	ConnectURL string `json:"connect_url,omitempty"`
	Kind       string `json:"kind"`
	Selector   string `json:"selector,omitempty"`
	Text       string `json:"text,omitempty"`
	URL        string `json:"url,omitempty"`
}

type evaluateConditionResponse struct {
	Outcome bool   `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// EvaluateCondition checks a predicate against the session's page
func (e *Executor) EvaluateCondition(ctx context.Context, session *engine.SessionHandle, cond workflow.Condition) (bool, error) {
	if e.runnerURL == "" {
		return false, errors.New("no step runner configured")
	}

	req := evaluateConditionRequest{
		SessionID:  session.ID,
		ConnectURL: session.ConnectURL,
		Kind:       string(cond.Kind),
		Selector:   cond.Selector,
		Text:       cond.Text,
		URL:        cond.URL,
	}

	var resp evaluateConditionResponse
	if err := e.do(ctx, e.runnerURL+"/v1/conditions/evaluate", req, &resp); err != nil {
		return false, err
	}
	if resp.Error != "" {
		return false, errors.Newf("condition evaluation failed: %s", resp.Error)
	}
	return resp.Outcome, nil
}

func (e *Executor) do(ctx context.Context, url string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "failed to encode request body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.Newf("step runner returned %d: %s", resp.StatusCode, string(msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "failed to decode response")
	}
	return nil
}
