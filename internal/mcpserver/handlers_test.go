package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testIdentity = "0x04a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f90"
	testAddress  = "0x1234567890abcdef1234567890abcdef12345678"
)

// --- Test helpers ---

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	cfg := Config{
		APIURL:        ts.URL,
		AgentIdentity: testIdentity,
		AgentAddress:  testAddress,
	}
	client := NewWalletClient(cfg)
	h := NewHandlers(client)
	return h, ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

// ============================================================
// Client tests
// ============================================================

func TestClient_DoRequest_HTTPError_WithAPIMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "invalid_level",
			"message": "unknown automation level",
		})
	}))
	defer ts.Close()

	client := NewWalletClient(Config{APIURL: ts.URL, AgentIdentity: testIdentity, AgentAddress: testAddress})
	_, err := client.SetAutomationLevel(context.Background(), "turbo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "unknown automation level")
}

func TestClient_DoRequest_HTTPError_NonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))
	defer ts.Close()

	client := NewWalletClient(Config{APIURL: ts.URL, AgentIdentity: testIdentity, AgentAddress: testAddress})
	_, err := client.GetAgentStatus(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestClient_DoRequest_ConnectionRefused(t *testing.T) {
	client := NewWalletClient(Config{APIURL: "http://127.0.0.1:1", AgentIdentity: testIdentity, AgentAddress: testAddress})
	_, err := client.GetAgentStatus(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

func TestClient_Analyze_SendsConfiguredIdentity(t *testing.T) {
	var gotBody map[string]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		_, _ = w.Write([]byte(`{"success":true,"result":{"outcome":"hold"}}`))
	}))
	defer ts.Close()

	client := NewWalletClient(Config{APIURL: ts.URL, AgentIdentity: testIdentity, AgentAddress: testAddress})
	_, err := client.Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testIdentity, gotBody["identity"])
	assert.Equal(t, testAddress, gotBody["address"])
}

// ============================================================
// Handler tests
// ============================================================

func TestHandleGetAgentStatus(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/agent/status", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"active":      true,
			"address":     testAddress,
			"totalRuns":   42,
			"successRate": 0.95,
			"outcomes":    map[string]int{"hold": 30, "completed": 12},
			"automation":  map[string]any{"level": "semi-auto"},
			"emergency":   map[string]any{"stopped": false},
		})
	}))
	defer cleanup()

	result, err := h.HandleGetAgentStatus(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Loop: running")
	assert.Contains(t, text, "Total runs: 42")
	assert.Contains(t, text, "Success rate: 95%")
	assert.Contains(t, text, "semi-auto")
	assert.NotContains(t, text, "EMERGENCY")
}

func TestHandleGetAgentStatus_StoppedWithEmergency(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"active":    false,
			"totalRuns": 3,
			"emergency": map[string]any{"stopped": true, "reason": "gas spike"},
		})
	}))
	defer cleanup()

	result, err := h.HandleGetAgentStatus(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Loop: stopped")
	assert.Contains(t, text, "EMERGENCY STOP ENGAGED: gas spike")
}

func TestHandleAnalyzeNow(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/agent/analyze", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"result": map[string]any{
				"outcome": "completed",
				"decision": map[string]any{
					"action":     "yield_optimize",
					"confidence": 0.8,
					"reasoning":  "stable APY above threshold",
				},
				"risk":   map[string]any{"level": "low", "score": 0.12},
				"txHash": "0xabc",
			},
		})
	}))
	defer cleanup()

	result, err := h.HandleAnalyzeNow(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Outcome: completed")
	assert.Contains(t, text, "yield_optimize")
	assert.Contains(t, text, "confidence 80%")
	assert.Contains(t, text, "Risk: low")
	assert.Contains(t, text, "0xabc")
}

func TestHandleSetAutomationLevel_RequiresLevel(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))
	defer cleanup()

	result, err := h.HandleSetAutomationLevel(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleSetAutomationLevel(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/v1/automation/level", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"level":"full-auto"}`, string(body))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"level":                "full-auto",
			"maxAmountPerAction":   100.0,
			"requireApprovalAbove": 100.0,
		})
	}))
	defer cleanup()

	result, err := h.HandleSetAutomationLevel(context.Background(), makeRequest(map[string]any{"level": "full-auto"}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Automation level updated")
	assert.Contains(t, text, "Level: full-auto")
	assert.Contains(t, text, "$100.00")
}

func TestHandleEmergencyStop(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/automation/emergency/stop", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"stopped":     true,
			"reason":      "manual halt",
			"triggeredBy": "user",
		})
	}))
	defer cleanup()

	result, err := h.HandleEmergencyStop(context.Background(), makeRequest(map[string]any{"reason": "manual halt"}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "EMERGENCY STOP ENGAGED")
	assert.Contains(t, text, "manual halt")
	assert.Contains(t, text, "resume_automation")
}

func TestHandleResumeAutomation(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/automation/emergency/resume", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"stopped": false, "reason": ""})
	}))
	defer cleanup()

	result, err := h.HandleResumeAutomation(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "not engaged")
}

func TestHandleListPendingIntents_Empty(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"pending": []any{}})
	}))
	defer cleanup()

	result, err := h.HandleListPendingIntents(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "No intents waiting")
}

func TestHandleListPendingIntents(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/intents/pending", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"pending": []map[string]any{
				{
					"id":     "intent-1",
					"status": "pending",
					"simulation": map[string]any{
						"fromChain":     1,
						"toChain":       137,
						"token":         "USDC",
						"amount":        "25.00",
						"estimatedFees": "0.45",
						"estimatedTime": 180,
					},
				},
			},
		})
	}))
	defer cleanup()

	result, err := h.HandleListPendingIntents(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "intent-1")
	assert.Contains(t, text, "25.00 USDC from chain 1 to chain 137")
	assert.Contains(t, text, "Estimated fees: 0.45")
	assert.Contains(t, text, "approve_intent")
}

func TestHandleApproveIntent_RequiresID(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))
	defer cleanup()

	result, err := h.HandleApproveIntent(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleApproveIntent(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/intents/intent-7/approve", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "approved"})
	}))
	defer cleanup()

	result, err := h.HandleApproveIntent(context.Background(), makeRequest(map[string]any{"intent_id": "intent-7"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "intent-7 approved")
}

func TestHandleDenyIntent_APIError(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "not_pending",
			"message": "intent is not awaiting approval",
		})
	}))
	defer cleanup()

	result, err := h.HandleDenyIntent(context.Background(), makeRequest(map[string]any{"intent_id": "intent-9"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "not awaiting approval")
}

func TestHandleGetPolicy(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/policies/"+testIdentity, r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"identity":            testIdentity,
			"maxAmount":           50.0,
			"requireGasBelowGwei": 80.0,
			"cooldownSeconds":     300,
			"allowedChains":       []int64{1, 137},
			"allowedTokens":       []string{"ETH", "USDC"},
		})
	}))
	defer cleanup()

	result, err := h.HandleGetPolicy(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Max amount per action: $50.00")
	assert.Contains(t, text, "Gas ceiling: 80.0 gwei")
	assert.Contains(t, text, "Signing cooldown: 300s")
	assert.Contains(t, text, "Allowed chains: 1, 137")
	assert.Contains(t, text, "Allowed tokens: ETH, USDC")
}

func TestHandleUpdatePolicy_RequiresField(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))
	defer cleanup()

	result, err := h.HandleUpdatePolicy(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleUpdatePolicy(t *testing.T) {
	var gotBody map[string]any
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"identity":  testIdentity,
			"maxAmount": 25.0,
		})
	}))
	defer cleanup()

	result, err := h.HandleUpdatePolicy(context.Background(), makeRequest(map[string]any{
		"max_amount": 25.0,
	}))
	require.NoError(t, err)
	assert.Equal(t, 25.0, gotBody["maxAmount"])
	assert.Contains(t, resultText(t, result), "Policy updated")
	assert.Contains(t, resultText(t, result), "$25.00")
}

func TestHandleGetRunHistory(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/agent/history", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"history": []map[string]any{
				{"timestamp": "2026-08-30T10:00:00Z", "outcome": "completed", "scheduled": true, "action": "rebalance"},
				{"timestamp": "2026-08-30T09:59:00Z", "outcome": "failed", "scheduled": false, "error": "indexer unavailable"},
			},
		})
	}))
	defer cleanup()

	result, err := h.HandleGetRunHistory(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "completed (scheduled)")
	assert.Contains(t, text, "Action: rebalance")
	assert.Contains(t, text, "failed (manual)")
	assert.Contains(t, text, "Error: indexer unavailable")
}

func TestHandleStartAgent(t *testing.T) {
	var gotBody map[string]any
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/agent/start", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"status":  map[string]any{"active": true, "totalRuns": 0},
		})
	}))
	defer cleanup()

	result, err := h.HandleStartAgent(context.Background(), makeRequest(map[string]any{"interval_seconds": 30}))
	require.NoError(t, err)
	assert.Equal(t, testIdentity, gotBody["identity"])
	assert.Equal(t, 30.0, gotBody["intervalSeconds"])
	text := resultText(t, result)
	assert.Contains(t, text, "Agent started")
	assert.Contains(t, text, "Loop: running")
}
