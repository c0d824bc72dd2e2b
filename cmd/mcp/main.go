// DeepSentinel MCP Server - Exposes entitlement tools to LLMs over stdio
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"deepsentinel/internal/mcpserver"
)

func main() {
	cfg := mcpserver.Config{
		APIURL:      envOrDefault("DEEPSENTINEL_API_URL", "http://localhost:8080"),
		APIKey:      os.Getenv("DEEPSENTINEL_API_KEY"),
		UserID:      os.Getenv("DEEPSENTINEL_USER_ID"),
		AdminSecret: os.Getenv("DEEPSENTINEL_ADMIN_SECRET"),
	}

	if cfg.APIKey == "" {
		fmt.Fprintln(os.Stderr, "DEEPSENTINEL_API_KEY is required")
		os.Exit(1)
	}
	if cfg.UserID == "" {
		fmt.Fprintln(os.Stderr, "DEEPSENTINEL_USER_ID is required")
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
