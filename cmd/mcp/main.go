// Fairhold MCP Server - Exposes Fairhold escrow operations as MCP tools for LLMs
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/fairhold/fairhold/internal/mcpserver"
)

func main() {
	cfg := mcpserver.Config{
		APIURL:       envOrDefault("FAIRHOLD_API_URL", "http://localhost:8080"),
		APIKey:       os.Getenv("FAIRHOLD_API_KEY"),
		PartyAddress: os.Getenv("FAIRHOLD_PARTY_ADDRESS"),
	}

	if cfg.APIKey == "" {
		fmt.Fprintln(os.Stderr, "FAIRHOLD_API_KEY is required")
		os.Exit(1)
	}
	if cfg.PartyAddress == "" {
		fmt.Fprintln(os.Stderr, "FAIRHOLD_PARTY_ADDRESS is required")
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
