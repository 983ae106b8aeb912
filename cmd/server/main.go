// Command server runs the DeFi risk scoring API.
//
// Configuration comes from the environment (and a .env file when present);
// see internal/config for the variables.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/mbd888/defiintel/internal/config"
	"github.com/mbd888/defiintel/internal/logging"
	"github.com/mbd888/defiintel/internal/server"
)

// Stamped with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = ""
	commit  = "unknown"
)

func main() {
	if version != "" {
		server.Version = version
	}
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").Error("invalid configuration", "error", err)
		return err
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	storage := "memory"
	if cfg.DatabaseURL != "" {
		storage = "postgres"
	}
	logger.Info("starting defiintel",
		"version", server.Version,
		"commit", commit,
		"env", cfg.Env,
		"storage", storage,
		"model_path", cfg.ModelPath,
		"timezone", cfg.ExtractTimezone,
		"fallback", cfg.ModelFallback,
		"auth_required", cfg.AuthRequired,
	)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("server setup failed", "error", err)
		return err
	}
	if err := srv.Run(context.Background()); err != nil {
		logger.Error("server stopped with error", "error", err)
		return err
	}
	return nil
}
