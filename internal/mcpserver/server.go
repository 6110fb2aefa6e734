// Package mcpserver exposes the wallet's control surface as MCP tools for LLMs.
package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all wallet tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("prism-wallet", "0.1.0")
	client := NewWalletClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolGetAgentStatus, h.HandleGetAgentStatus)
	s.AddTool(ToolGetRunHistory, h.HandleGetRunHistory)
	s.AddTool(ToolStartAgent, h.HandleStartAgent)
	s.AddTool(ToolStopAgent, h.HandleStopAgent)
	s.AddTool(ToolAnalyzeNow, h.HandleAnalyzeNow)
	s.AddTool(ToolGetAutomationConfig, h.HandleGetAutomationConfig)
	s.AddTool(ToolSetAutomationLevel, h.HandleSetAutomationLevel)
	s.AddTool(ToolEmergencyStop, h.HandleEmergencyStop)
	s.AddTool(ToolResumeAutomation, h.HandleResumeAutomation)
	s.AddTool(ToolListPendingIntents, h.HandleListPendingIntents)
	s.AddTool(ToolApproveIntent, h.HandleApproveIntent)
	s.AddTool(ToolDenyIntent, h.HandleDenyIntent)
	s.AddTool(ToolGetPolicy, h.HandleGetPolicy)
	s.AddTool(ToolUpdatePolicy, h.HandleUpdatePolicy)

	return s
}
