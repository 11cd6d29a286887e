// Package main is the entry point for the collaboration server.
//
// MAIN PACKAGE:
// main stays minimal. It reads configuration, builds the logger and hands
// both to internal/server, which wires everything else. All actual logic
// lives in imported packages so it can be tested without a process.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/peerbajaj/collab/internal/config"
	"github.com/peerbajaj/collab/internal/server"
)

func main() {
	// === 1. READ CONFIGURATION ===
	// Defaults, then CONFIG_FILE, then the environment. See internal/config.
	cfg, err := config.Load()
	if err != nil {
		// No logger yet: the level and format come from the config.
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	// One *slog.Logger for the whole process, passed down explicitly.
	// LOG_FORMAT=json for log shippers, text for a terminal.
	logger := newLogger(os.Stdout, cfg)
	slog.SetDefault(logger)

	// === 3. CREATE AND START THE SERVER ===
	srv, err := server.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level()}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
