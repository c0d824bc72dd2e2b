package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all DeepSentinel tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("deepsentinel", "1.0.0")
	client := NewDeepSentinelClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolGetTier, h.HandleGetTier)
	s.AddTool(ToolGetEntitlement, h.HandleGetEntitlement)
	s.AddTool(ToolCheckFeature, h.HandleCheckFeature)
	s.AddTool(ToolCheckQuota, h.HandleCheckQuota)
	s.AddTool(ToolListUpgrades, h.HandleListUpgrades)
	s.AddTool(ToolRecommendUpgrade, h.HandleRecommendUpgrade)
	s.AddTool(ToolLayersOverview, h.HandleLayersOverview)

	return s
}
