package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// Version is reported to MCP clients.
const Version = "0.1.0"

// NewMCPServer creates a configured MCP server with all risk tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("defiintel", Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	h := NewHandlers(NewRiskClient(cfg))

	s.AddTool(ToolAnalyzeWallet, h.HandleAnalyzeWallet)
	s.AddTool(ToolAnalyzeToken, h.HandleAnalyzeToken)
	s.AddTool(ToolAnalyzeSubject, h.HandleAnalyzeSubject)
	s.AddTool(ToolPredictFraud, h.HandlePredictFraud)
	s.AddTool(ToolGetAssessments, h.HandleGetAssessments)
	s.AddTool(ToolModelStatus, h.HandleModelStatus)
	s.AddTool(ToolTrainModel, h.HandleTrainModel)

	return s
}
