package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Config holds the configuration for connecting to the wallet API.
type Config struct {
	APIURL        string // Base URL, e.g. "http://localhost:8080"
	AgentIdentity string // Delegated signing key, uncompressed public key hex
	AgentAddress  string // Agent's wallet address, e.g. "0x..."
}

// WalletClient is a pure HTTP client for the wallet API.
type WalletClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewWalletClient creates a new client for the wallet API.
func NewWalletClient(cfg Config) *WalletClient {
	return &WalletClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the wallet API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the wallet API and returns the response body.
func (c *WalletClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// GetAgentStatus returns the autonomous agent's current status.
func (c *WalletClient) GetAgentStatus(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/agent/status", nil, nil)
}

// GetRunHistory returns recent analysis run records, newest first.
func (c *WalletClient) GetRunHistory(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/agent/history", nil, nil)
}

// StartAgent starts the scheduled analysis loop.
func (c *WalletClient) StartAgent(ctx context.Context, intervalSeconds int64) (json.RawMessage, error) {
	body := map[string]any{
		"identity": c.cfg.AgentIdentity,
		"address":  c.cfg.AgentAddress,
	}
	if intervalSeconds > 0 {
		body["intervalSeconds"] = intervalSeconds
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/agent/start", nil, body)
}

// StopAgent stops the scheduled analysis loop.
func (c *WalletClient) StopAgent(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/agent/stop", nil, nil)
}

// Analyze triggers a single analysis run and returns the pipeline result.
func (c *WalletClient) Analyze(ctx context.Context) (json.RawMessage, error) {
	body := map[string]string{
		"identity": c.cfg.AgentIdentity,
		"address":  c.cfg.AgentAddress,
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/agent/analyze", nil, body)
}

// GetAutomationConfig returns the current automation settings.
func (c *WalletClient) GetAutomationConfig(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/automation/config", nil, nil)
}

// SetAutomationLevel changes the automation level.
func (c *WalletClient) SetAutomationLevel(ctx context.Context, level string) (json.RawMessage, error) {
	body := map[string]string{"level": level}
	return c.doRequest(ctx, http.MethodPut, "/v1/automation/level", nil, body)
}

// EmergencyStop engages the emergency stop, halting all signing.
func (c *WalletClient) EmergencyStop(ctx context.Context, reason string) (json.RawMessage, error) {
	body := map[string]string{"reason": reason}
	return c.doRequest(ctx, http.MethodPost, "/v1/automation/emergency/stop", nil, body)
}

// ResumeAutomation releases the emergency stop.
func (c *WalletClient) ResumeAutomation(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/automation/emergency/resume", nil, nil)
}

// ListPendingIntents returns settlement intents awaiting approval.
func (c *WalletClient) ListPendingIntents(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/intents/pending", nil, nil)
}

// ApproveIntent approves a pending settlement intent.
func (c *WalletClient) ApproveIntent(ctx context.Context, intentID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/intents/"+intentID+"/approve", nil, nil)
}

// DenyIntent denies a pending settlement intent.
func (c *WalletClient) DenyIntent(ctx context.Context, intentID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/intents/"+intentID+"/deny", nil, nil)
}

// GetPolicy returns the signing policy for the agent's identity.
func (c *WalletClient) GetPolicy(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/policies/"+c.cfg.AgentIdentity, nil, nil)
}

// UpdatePolicy applies a partial update to the agent's signing policy.
func (c *WalletClient) UpdatePolicy(ctx context.Context, update map[string]any) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPatch, "/v1/policies/"+c.cfg.AgentIdentity, nil, update)
}
