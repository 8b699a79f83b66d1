// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tombee/foreman/internal/config"
	"github.com/tombee/foreman/internal/daemon"
	"github.com/tombee/foreman/internal/log"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		backendType = flag.String("backend", "", "Storage backend (memory, sqlite)")
		sqlitePath  = flag.String("sqlite-path", "", "SQLite database path")
		socketPath  = flag.String("socket", "", "Unix socket path")
		tcpAddr     = flag.String("tcp", "", "TCP address to listen on")
		runnersFile = flag.String("runners-file", "", "Path to runner definitions file")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("foremand %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Initialize structured logging from environment
	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	// Apply CLI flag overrides
	if *backendType != "" {
		cfg.Storage.Backend = *backendType
	}
	if *sqlitePath != "" {
		cfg.Storage.Path = *sqlitePath
	}
	if *socketPath != "" {
		cfg.Listen.SocketPath = *socketPath
	}
	if *tcpAddr != "" {
		cfg.Listen.TCPAddr = *tcpAddr
	}
	if *runnersFile != "" {
		cfg.RunnersFile = *runnersFile
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
		slog.SetDefault(log.New(&log.Config{Level: *logLevel, Format: log.Format(cfg.Log.Format), Output: os.Stderr}))
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	d, err := daemon.New(cfg)
	if err != nil {
		logger.Error("Failed to create daemon", slog.Any("error", err))
		os.Exit(1)
	}

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.Run(ctx); err != nil {
		logger.Error("Daemon error", slog.Any("error", err))
		os.Exit(1)
	}
}
