package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *WalletClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *WalletClient) *Handlers {
	return &Handlers{client: client}
}

// HandleGetAgentStatus reports the agent's current state.
func (h *Handlers) HandleGetAgentStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetAgentStatus(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get agent status: %v", err)), nil
	}

	text, err := formatStatus(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse status: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetRunHistory lists recent analysis runs.
func (h *Handlers) HandleGetRunHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetRunHistory(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get run history: %v", err)), nil
	}

	text, err := formatHistory(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse history: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleStartAgent starts the scheduled analysis loop.
func (h *Handlers) HandleStartAgent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	interval := req.GetInt("interval_seconds", 0)

	raw, err := h.client.StartAgent(ctx, int64(interval))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start agent: %v", err)), nil
	}

	text, err := formatStatusEnvelope(raw, "Agent started.")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse status: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleStopAgent stops the scheduled analysis loop.
func (h *Handlers) HandleStopAgent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.StopAgent(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to stop agent: %v", err)), nil
	}

	text, err := formatStatusEnvelope(raw, "Agent stopped. Manual analysis remains available.")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse status: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleAnalyzeNow triggers a single analysis run.
func (h *Handlers) HandleAnalyzeNow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.Analyze(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Analysis failed: %v", err)), nil
	}

	text, err := formatAnalysisResult(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse analysis result: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetAutomationConfig returns the current automation settings.
func (h *Handlers) HandleGetAutomationConfig(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetAutomationConfig(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get automation config: %v", err)), nil
	}

	text, err := formatAutomationConfig(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse automation config: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleSetAutomationLevel changes the automation level.
func (h *Handlers) HandleSetAutomationLevel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	level := req.GetString("level", "")
	if level == "" {
		return mcp.NewToolResultError("level is required"), nil
	}

	raw, err := h.client.SetAutomationLevel(ctx, level)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to set automation level: %v", err)), nil
	}

	text, err := formatAutomationConfig(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse automation config: %v", err)), nil
	}

	return mcp.NewToolResultText("Automation level updated.\n\n" + text), nil
}

// HandleEmergencyStop engages the emergency stop.
func (h *Handlers) HandleEmergencyStop(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reason := req.GetString("reason", "")

	raw, err := h.client.EmergencyStop(ctx, reason)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Emergency stop failed: %v", err)), nil
	}

	text, err := formatEmergencyState(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse emergency state: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleResumeAutomation releases the emergency stop.
func (h *Handlers) HandleResumeAutomation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ResumeAutomation(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Resume failed: %v", err)), nil
	}

	text, err := formatEmergencyState(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse emergency state: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleListPendingIntents lists settlement intents awaiting approval.
func (h *Handlers) HandleListPendingIntents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListPendingIntents(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list pending intents: %v", err)), nil
	}

	text, err := formatIntentList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse intents: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleApproveIntent approves a pending settlement intent.
func (h *Handlers) HandleApproveIntent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	intentID := req.GetString("intent_id", "")
	if intentID == "" {
		return mcp.NewToolResultError("intent_id is required"), nil
	}

	if _, err := h.client.ApproveIntent(ctx, intentID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Approval failed: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Intent %s approved. Execution will proceed on the bridge.", intentID)), nil
}

// HandleDenyIntent denies a pending settlement intent.
func (h *Handlers) HandleDenyIntent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	intentID := req.GetString("intent_id", "")
	if intentID == "" {
		return mcp.NewToolResultError("intent_id is required"), nil
	}

	if _, err := h.client.DenyIntent(ctx, intentID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Denial failed: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Intent %s denied. Nothing was executed.", intentID)), nil
}

// HandleGetPolicy returns the agent's signing policy.
func (h *Handlers) HandleGetPolicy(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetPolicy(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get policy: %v", err)), nil
	}

	text, err := formatPolicy(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse policy: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleUpdatePolicy applies a partial policy update.
func (h *Handlers) HandleUpdatePolicy(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	update := make(map[string]any)
	args := req.GetArguments()
	if v, ok := args["max_amount"].(float64); ok {
		update["maxAmount"] = v
	}
	if v, ok := args["require_gas_below_gwei"].(float64); ok {
		update["requireGasBelowGwei"] = v
	}
	if v, ok := args["cooldown_seconds"].(float64); ok {
		update["cooldownSeconds"] = int64(v)
	}
	if len(update) == 0 {
		return mcp.NewToolResultError("provide at least one of max_amount, require_gas_below_gwei, cooldown_seconds"), nil
	}

	raw, err := h.client.UpdatePolicy(ctx, update)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Policy update failed: %v", err)), nil
	}

	text, err := formatPolicy(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse policy: %v", err)), nil
	}

	return mcp.NewToolResultText("Policy updated.\n\n" + text), nil
}

// --- Formatting helpers ---

func formatStatus(raw json.RawMessage) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("Agent Status:\n")
	if active, ok := m["active"].(bool); ok && active {
		sb.WriteString("  Loop: running\n")
		if v := getString(m, "address"); v != "" {
			sb.WriteString(fmt.Sprintf("  Address: %s\n", v))
		}
		if v, ok := getFloat(m, "intervalSeconds"); ok {
			sb.WriteString(fmt.Sprintf("  Interval: %.0fs\n", v))
		}
	} else {
		sb.WriteString("  Loop: stopped\n")
	}
	if v, ok := getFloat(m, "totalRuns"); ok {
		sb.WriteString(fmt.Sprintf("  Total runs: %.0f\n", v))
	}
	if v, ok := getFloat(m, "successRate"); ok {
		sb.WriteString(fmt.Sprintf("  Success rate: %.0f%%\n", v*100))
	}
	if outcomes, ok := m["outcomes"].(map[string]any); ok && len(outcomes) > 0 {
		sb.WriteString("  Outcomes:\n")
		for name, count := range outcomes {
			if n, ok := count.(float64); ok {
				sb.WriteString(fmt.Sprintf("    %s: %.0f\n", name, n))
			}
		}
	}
	if auto, ok := m["automation"].(map[string]any); ok {
		sb.WriteString(fmt.Sprintf("  Automation level: %s\n", getString(auto, "level")))
	}
	if emg, ok := m["emergency"].(map[string]any); ok {
		if stopped, ok := emg["stopped"].(bool); ok && stopped {
			sb.WriteString(fmt.Sprintf("  EMERGENCY STOP ENGAGED: %s\n", getString(emg, "reason")))
		}
	}

	return sb.String(), nil
}

// formatStatusEnvelope handles {"success": true, "status": {...}} responses.
func formatStatusEnvelope(raw json.RawMessage, prefix string) (string, error) {
	var resp struct {
		Status json.RawMessage `json:"status"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Status == nil {
		return prefix, nil
	}
	text, err := formatStatus(resp.Status)
	if err != nil {
		return "", err
	}
	return prefix + "\n\n" + text, nil
}

func formatHistory(raw json.RawMessage) (string, error) {
	var resp struct {
		History []map[string]any `json:"history"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.History) == 0 {
		return "No analysis runs recorded yet.", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Last %d run(s), newest first:\n\n", len(resp.History)))
	for i, rec := range resp.History {
		outcome := getString(rec, "outcome")
		trigger := "manual"
		if scheduled, ok := rec["scheduled"].(bool); ok && scheduled {
			trigger = "scheduled"
		}
		sb.WriteString(fmt.Sprintf("%d. [%s] %s (%s)\n", i+1, formatTimestamp(rec), outcome, trigger))
		if v := getString(rec, "action"); v != "" {
			sb.WriteString(fmt.Sprintf("   Action: %s\n", v))
		}
		if v := getString(rec, "error"); v != "" {
			sb.WriteString(fmt.Sprintf("   Error: %s\n", v))
		}
	}
	return sb.String(), nil
}

func formatAnalysisResult(raw json.RawMessage) (string, error) {
	var resp struct {
		Result map[string]any `json:"result"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Result == nil {
		return "", fmt.Errorf("unexpected analysis response format")
	}
	m := resp.Result

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Outcome: %s\n", getString(m, "outcome")))

	if dec, ok := m["decision"].(map[string]any); ok {
		sb.WriteString(fmt.Sprintf("Recommendation: %s", getString(dec, "action")))
		if v, ok := getFloat(dec, "confidence"); ok {
			sb.WriteString(fmt.Sprintf(" (confidence %.0f%%)", v*100))
		}
		sb.WriteString("\n")
		if v := getString(dec, "reasoning"); v != "" {
			sb.WriteString(fmt.Sprintf("Reasoning: %s\n", v))
		}
	}
	if rk, ok := m["risk"].(map[string]any); ok {
		sb.WriteString(fmt.Sprintf("Risk: %s", getString(rk, "level")))
		if v, ok := getFloat(rk, "score"); ok {
			sb.WriteString(fmt.Sprintf(" (score %.2f)", v))
		}
		sb.WriteString("\n")
	}
	if v := getString(m, "intentId"); v != "" {
		sb.WriteString(fmt.Sprintf("Intent ID: %s\n", v))
	}
	if v := getString(m, "txHash"); v != "" {
		sb.WriteString(fmt.Sprintf("Tx hash: %s\n", v))
	}
	if v := getString(m, "error"); v != "" {
		sb.WriteString(fmt.Sprintf("Error: %s\n", v))
	}

	return sb.String(), nil
}

func formatAutomationConfig(raw json.RawMessage) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("Automation Config:\n")
	sb.WriteString(fmt.Sprintf("  Level: %s\n", getString(m, "level")))
	if v, ok := getFloat(m, "maxAmountPerAction"); ok {
		sb.WriteString(fmt.Sprintf("  Max per action: $%.2f\n", v))
	}
	if v, ok := getFloat(m, "requireApprovalAbove"); ok {
		sb.WriteString(fmt.Sprintf("  Approval required above: $%.2f\n", v))
	}
	if actions, ok := m["allowedActions"].([]any); ok && len(actions) > 0 {
		names := make([]string, 0, len(actions))
		for _, a := range actions {
			if s, ok := a.(string); ok {
				names = append(names, s)
			}
		}
		sb.WriteString(fmt.Sprintf("  Allowed actions: %s\n", strings.Join(names, ", ")))
	}
	if chains, ok := m["enabledChains"].([]any); ok && len(chains) > 0 {
		ids := make([]string, 0, len(chains))
		for _, c := range chains {
			if f, ok := c.(float64); ok {
				ids = append(ids, fmt.Sprintf("%.0f", f))
			}
		}
		sb.WriteString(fmt.Sprintf("  Enabled chains: %s\n", strings.Join(ids, ", ")))
	}

	return sb.String(), nil
}

func formatEmergencyState(raw json.RawMessage) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}

	stopped, _ := m["stopped"].(bool)
	if !stopped {
		return "Emergency stop is not engaged. Normal operation.", nil
	}

	var sb strings.Builder
	sb.WriteString("EMERGENCY STOP ENGAGED. All signing is halted.\n")
	if v := getString(m, "reason"); v != "" {
		sb.WriteString(fmt.Sprintf("  Reason: %s\n", v))
	}
	if v := getString(m, "triggeredBy"); v != "" {
		sb.WriteString(fmt.Sprintf("  Triggered by: %s\n", v))
	}
	sb.WriteString("\nUse resume_automation to resume.")
	return sb.String(), nil
}

func formatIntentList(raw json.RawMessage) (string, error) {
	var resp struct {
		Pending []map[string]any `json:"pending"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Pending) == 0 {
		return "No intents waiting for approval.", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d intent(s) waiting for approval:\n\n", len(resp.Pending)))
	for i, intent := range resp.Pending {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, getString(intent, "id")))
		if sim, ok := intent["simulation"].(map[string]any); ok {
			from, _ := getFloat(sim, "fromChain")
			to, _ := getFloat(sim, "toChain")
			sb.WriteString(fmt.Sprintf("   Bridge %s %s from chain %.0f to chain %.0f\n",
				getString(sim, "amount"), getString(sim, "token"), from, to))
			if v := getString(sim, "estimatedFees"); v != "" {
				sb.WriteString(fmt.Sprintf("   Estimated fees: %s\n", v))
			}
			if v, ok := getFloat(sim, "estimatedTime"); ok {
				sb.WriteString(fmt.Sprintf("   Estimated time: %.0fs\n", v))
			}
		}
		if i < len(resp.Pending)-1 {
			sb.WriteString("\n")
		}
	}
	sb.WriteString("\nUse approve_intent or deny_intent with the intent ID.")
	return sb.String(), nil
}

func formatPolicy(raw json.RawMessage) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("Signing Policy:\n")
	if v, ok := getFloat(m, "maxAmount"); ok {
		sb.WriteString(fmt.Sprintf("  Max amount per action: $%.2f\n", v))
	}
	if v, ok := getFloat(m, "requireGasBelowGwei"); ok && v > 0 {
		sb.WriteString(fmt.Sprintf("  Gas ceiling: %.1f gwei\n", v))
	}
	if v, ok := getFloat(m, "cooldownSeconds"); ok && v > 0 {
		sb.WriteString(fmt.Sprintf("  Signing cooldown: %.0fs\n", v))
	}
	if chains, ok := m["allowedChains"].([]any); ok && len(chains) > 0 {
		ids := make([]string, 0, len(chains))
		for _, c := range chains {
			if f, ok := c.(float64); ok {
				ids = append(ids, fmt.Sprintf("%.0f", f))
			}
		}
		sb.WriteString(fmt.Sprintf("  Allowed chains: %s\n", strings.Join(ids, ", ")))
	}
	if tokens, ok := m["allowedTokens"].([]any); ok && len(tokens) > 0 {
		names := make([]string, 0, len(tokens))
		for _, t := range tokens {
			if s, ok := t.(string); ok {
				names = append(names, s)
			}
		}
		sb.WriteString(fmt.Sprintf("  Allowed tokens: %s\n", strings.Join(names, ", ")))
	}

	return sb.String(), nil
}

func formatTimestamp(m map[string]any) string {
	raw := getString(m, "timestamp")
	if raw == "" {
		return "unknown time"
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return raw
	}
	return t.Format("2006-01-02 15:04:05")
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}

// getFloat extracts a float64 value from a map, trying multiple key names.
func getFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}
