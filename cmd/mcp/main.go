// Command mcp exposes the risk scoring API as MCP tools over stdio.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/defiintel/internal/config"
	"github.com/mbd888/defiintel/internal/logging"
	"github.com/mbd888/defiintel/internal/mcpserver"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	// stdout carries the protocol
	logger := logging.NewWriter(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting MCP bridge", "api_url", cfg.APIURL, "api_key_set", cfg.APIKey != "")

	s := mcpserver.NewMCPServer(mcpserver.Config{
		APIURL: cfg.APIURL,
		APIKey: cfg.APIKey,
		Logger: logger,
	})
	err = server.ServeStdio(s, server.WithErrorLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError)))
	if err != nil {
		logger.Error("MCP server error", "error", err)
		os.Exit(1)
	}
}
