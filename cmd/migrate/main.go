// Command migrate applies the assessment history schema with goose.
//
// Usage:
//
//	go run ./cmd/migrate up              # apply pending migrations
//	go run ./cmd/migrate status          # list applied and pending files
//	go run ./cmd/migrate down            # roll back the last migration
//	go run ./cmd/migrate -dir db/sql up  # use another migrations directory
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/mbd888/defiintel/internal/config"
	"github.com/mbd888/defiintel/internal/logging"
)

func main() {
	dir := flag.String("dir", "migrations", "migrations directory")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: migrate [-dir path] <command> [args]")
		fmt.Fprintln(os.Stderr, "Commands: up, down, status, version, redo, up-to <version>, down-to <version>")
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*dir, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func run(dir, command string, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = db.PingContext(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	logger.Info("running migrations", "command", command, "dir", dir)
	if err := goose.RunContext(context.Background(), command, db, dir, args...); err != nil {
		return fmt.Errorf("%s: %w", command, err)
	}
	return nil
}
