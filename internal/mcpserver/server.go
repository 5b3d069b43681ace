package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all Fairhold tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("fairhold", "1.0.0")
	client := NewFairholdClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolCreateEscrow, h.HandleCreateEscrow)
	s.AddTool(ToolGetEscrow, h.HandleGetEscrow)
	s.AddTool(ToolEscrowStatus, h.HandleEscrowStatus)
	s.AddTool(ToolListEscrows, h.HandleListEscrows)
	s.AddTool(ToolDepositFunds, h.HandleDepositFunds)
	s.AddTool(ToolAcceptEscrow, h.HandleAcceptEscrow)
	s.AddTool(ToolRejectEscrow, h.HandleRejectEscrow)
	s.AddTool(ToolReleaseFunds, h.HandleReleaseFunds)
	s.AddTool(ToolRaiseDispute, h.HandleRaiseDispute)
	s.AddTool(ToolResolveDispute, h.HandleResolveDispute)
	s.AddTool(ToolCheckBalance, h.HandleCheckBalance)

	return s
}
