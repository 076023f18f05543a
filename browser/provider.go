// Package browser implements the engine's collaborator interfaces over
// a cloud browser provider's HTTP API: sessions are provisioned
// remotely and steps are forwarded to a runner service holding the live
// page.
package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ayu2310/Wflow/engine"
	"github.com/ayu2310/Wflow/errors"
	"github.com/ayu2310/Wflow/logger"
)

// DefaultRequestTimeout for provider API calls
const DefaultRequestTimeout = 60 * time.Second

// Provider provisions sessions via the cloud browser API
type Provider struct {
	serviceURL string
	apiKey     string
	projectID  string
	client     *http.Client
}

// NewProvider creates a session provider
func NewProvider(serviceURL, apiKey, projectID string, timeout time.Duration) *Provider {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Provider{
		serviceURL: serviceURL,
		apiKey:     apiKey,
		projectID:  projectID,
		client:     &http.Client{Timeout: timeout},
	}
}

type createSessionRequest struct {
	ProjectID string          `json:"projectId"`
	Headless  bool            `json:"headless"`
	Viewport  sessionViewport `json:"viewport"`
	Timezone  string          `json:"timezone,omitempty"`
}

type sessionViewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type createSessionResponse struct {
	ID         string `json:"id"`
	ConnectURL string `json:"connectUrl"`
	Status     string `json:"status"`
}

// CreateSession provisions a remote browser session
func (p *Provider) CreateSession(ctx context.Context, cfg engine.SessionConfig) (*engine.SessionHandle, error) {
	if p.serviceURL == "" {
		return nil, errors.Wrap(errors.ErrProvisioning, "no browser service configured")
	}

	body := createSessionRequest{
		ProjectID: p.projectID,
		Headless:  cfg.Headless,
		Viewport:  sessionViewport{Width: cfg.Viewport.Width, Height: cfg.Viewport.Height},
		Timezone:  cfg.Timezone,
	}

	var resp createSessionResponse
	if err := p.do(ctx, http.MethodPost, p.serviceURL+"/v1/sessions", body, &resp); err != nil {
		return nil, errors.Wrapf(errors.ErrProvisioning, "failed to create browser session: %v", err)
	}

	logger.Logger.Debugw("browser session created",
		"session_id", resp.ID, "status", resp.Status)
	return &engine.SessionHandle{ID: resp.ID, ConnectURL: resp.ConnectURL}, nil
}

// CloseSession releases a session. Closing an already released session
// is not an error, so the engine can close defensively on every path.
func (p *Provider) CloseSession(ctx context.Context, handle *engine.SessionHandle) error {
	if handle == nil || handle.ID == "" {
		return nil
	}

	url := fmt.Sprintf("%s/v1/sessions/%s", p.serviceURL, handle.ID)
	err := p.do(ctx, http.MethodDelete, url, nil, nil)
	if err != nil && errors.Is(err, errStatusNotFound) {
		return nil
	}
	return errors.Wrapf(err, "failed to close session %s", handle.ID)
}

var errStatusNotFound = errors.New("not found")

func (p *Provider) do(ctx context.Context, method, url string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to encode request body")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("X-BB-API-Key", p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errStatusNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.Newf("browser service returned %d: %s", resp.StatusCode, string(data))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.Wrap(err, "failed to decode response")
		}
	}
	return nil
}
