// Prism Wallet MCP Server - Exposes wallet control as MCP tools for LLMs
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/jayasurya0007/prism-wallet/internal/mcpserver"
)

func main() {
	cfg := mcpserver.Config{
		APIURL:        envOrDefault("PRISM_API_URL", "http://localhost:8080"),
		AgentIdentity: os.Getenv("PRISM_AGENT_IDENTITY"),
		AgentAddress:  os.Getenv("PRISM_AGENT_ADDRESS"),
	}

	if cfg.AgentIdentity == "" {
		fmt.Fprintln(os.Stderr, "PRISM_AGENT_IDENTITY is required")
		os.Exit(1)
	}
	if cfg.AgentAddress == "" {
		fmt.Fprintln(os.Stderr, "PRISM_AGENT_ADDRESS is required")
		os.Exit(1)
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
