package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the Prism Wallet MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolGetAgentStatus = mcp.NewTool("get_agent_status",
	mcp.WithDescription(
		"Get the autonomous agent's current status: whether the analysis loop is running, "+
			"total runs, success rate, outcome counts, automation level, and emergency stop state."),
)

var ToolGetRunHistory = mcp.NewTool("get_run_history",
	mcp.WithDescription(
		"List recent analysis runs, newest first. Each record shows the outcome "+
			"(completed, hold, pending_approval, aborted, failed), the action taken if any, "+
			"and whether the run was scheduled or triggered manually."),
)

var ToolStartAgent = mcp.NewTool("start_agent",
	mcp.WithDescription(
		"Start the agent's scheduled analysis loop. The agent periodically evaluates "+
			"market conditions and executes actions within its policy limits."),
	mcp.WithNumber("interval_seconds",
		mcp.Description("Seconds between analysis runs (default is the server's configured interval)")),
)

var ToolStopAgent = mcp.NewTool("stop_agent",
	mcp.WithDescription(
		"Stop the agent's scheduled analysis loop. Manual analysis and signing remain available."),
)

var ToolAnalyzeNow = mcp.NewTool("analyze_now",
	mcp.WithDescription(
		"Trigger a single analysis run immediately and return the decision pipeline result: "+
			"the recommendation, risk assessment, and whether an action was executed, held, "+
			"or queued for approval."),
)

var ToolGetAutomationConfig = mcp.NewTool("get_automation_config",
	mcp.WithDescription(
		"Get the current automation settings: level (manual/semi-auto/full-auto), "+
			"per-action amount ceiling, approval threshold, allowed actions, and enabled chains."),
)

var ToolSetAutomationLevel = mcp.NewTool("set_automation_level",
	mcp.WithDescription(
		"Change the automation level. 'manual' requires approval for every action, "+
			"'semi-auto' auto-executes small actions and asks for approval above a threshold, "+
			"'full-auto' executes everything within policy limits."),
	mcp.WithString("level",
		mcp.Required(),
		mcp.Description("The new automation level"),
		mcp.Enum("manual", "semi-auto", "full-auto")),
)

var ToolEmergencyStop = mcp.NewTool("emergency_stop",
	mcp.WithDescription(
		"Engage the emergency stop. All signing and autonomous actions halt immediately "+
			"until resume_automation is called. Use this when something looks wrong."),
	mcp.WithString("reason",
		mcp.Description("Why the stop was engaged (recorded in the audit trail)")),
)

var ToolResumeAutomation = mcp.NewTool("resume_automation",
	mcp.WithDescription(
		"Release the emergency stop and resume normal operation."),
)

var ToolListPendingIntents = mcp.NewTool("list_pending_intents",
	mcp.WithDescription(
		"List cross-chain settlement intents waiting for approval. Each shows the route, "+
			"amount, estimated fees, and estimated completion time from simulation."),
)

var ToolApproveIntent = mcp.NewTool("approve_intent",
	mcp.WithDescription(
		"Approve a pending settlement intent, releasing it for execution on the bridge."),
	mcp.WithString("intent_id",
		mcp.Required(),
		mcp.Description("The intent ID from list_pending_intents")),
)

var ToolDenyIntent = mcp.NewTool("deny_intent",
	mcp.WithDescription(
		"Deny a pending settlement intent. The intent is cancelled and nothing is executed."),
	mcp.WithString("intent_id",
		mcp.Required(),
		mcp.Description("The intent ID from list_pending_intents")),
)

var ToolGetPolicy = mcp.NewTool("get_policy",
	mcp.WithDescription(
		"Get the signing policy that constrains the agent's delegated key: USD ceiling per "+
			"action, allowed chains and tokens, gas price ceiling, and signing cooldown."),
)

var ToolUpdatePolicy = mcp.NewTool("update_policy",
	mcp.WithDescription(
		"Tighten or loosen the agent's signing policy. Only the fields you provide change; "+
			"omitted fields keep their current values."),
	mcp.WithNumber("max_amount",
		mcp.Description("USD ceiling per signed action")),
	mcp.WithNumber("require_gas_below_gwei",
		mcp.Description("Refuse to sign when gas is above this many gwei")),
	mcp.WithNumber("cooldown_seconds",
		mcp.Description("Minimum seconds between signings")),
)
