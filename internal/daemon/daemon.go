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

// Package daemon wires the engine together and serves the HTTP API.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/tombee/foreman/internal/clock"
	"github.com/tombee/foreman/internal/config"
	"github.com/tombee/foreman/internal/dispatch"
	"github.com/tombee/foreman/internal/events"
	"github.com/tombee/foreman/internal/health"
	"github.com/tombee/foreman/internal/ledger"
	internallog "github.com/tombee/foreman/internal/log"
	"github.com/tombee/foreman/internal/orchestrator"
	"github.com/tombee/foreman/internal/registry"
	"github.com/tombee/foreman/internal/scheduler"
	"github.com/tombee/foreman/internal/store"
	"github.com/tombee/foreman/internal/store/memory"
	"github.com/tombee/foreman/internal/store/sqlite"
	"github.com/tombee/foreman/pkg/httpclient"
)

// Daemon composes the execution engine and its HTTP surface.
type Daemon struct {
	cfg     *config.Config
	engine  *orchestrator.Orchestrator
	watcher *registry.Watcher
	server  *http.Server
	logger  *slog.Logger
}

// New builds a daemon from configuration.
func New(cfg *config.Config) (*Daemon, error) {
	logger := internallog.WithComponent(slog.Default(), "daemon")

	st, err := newStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	runners := registry.New()
	var watcher *registry.Watcher
	if cfg.RunnersFile != "" {
		defs, err := registry.LoadFile(cfg.RunnersFile)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to load runners file: %w", err)
		}
		runners.Apply(defs)

		watcher, err = registry.NewWatcher(cfg.RunnersFile, runners)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to watch runners file: %w", err)
		}
	}

	httpClient, err := httpclient.New(httpclient.DefaultConfig())
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	adapters := dispatch.NewRegistry()
	limits := cfg.Dispatch.TriggersPerSecond
	adapters.Register(dispatch.NewGitHubAdapter(httpClient), limits[dispatch.TypeGitHubActions])
	adapters.Register(dispatch.NewAzureDevOpsAdapter(httpClient), limits[dispatch.TypeAzureDevOps])
	adapters.Register(dispatch.NewJenkinsAdapter(httpClient), limits[dispatch.TypeJenkins])
	adapters.Register(dispatch.NewDockerAdapter(), limits[dispatch.TypeDocker])

	bus := events.NewBus()
	led := ledger.New()
	clk := clock.New()

	sched := scheduler.New(scheduler.Config{
		TickInterval:       cfg.TickInterval(),
		SnapshotLimit:      cfg.Scheduler.SnapshotLimit,
		MaxRunningDuration: cfg.MaxRunningDuration(),
		AllocationPolicy:   cfg.Allocation,
	}, st, runners, led, adapters, bus, clk)

	monitor := health.New(health.Config{
		Interval:     cfg.HealthInterval(),
		ProbeTimeout: cfg.ProbeTimeout(),
	}, runners, nil, bus, clk)

	engine := orchestrator.New(st, runners, led, adapters, bus, sched, monitor)

	d := &Daemon{
		cfg:     cfg,
		engine:  engine,
		watcher: watcher,
		logger:  logger,
	}
	d.server = &http.Server{Handler: NewAPI(engine).Routes()}
	return d, nil
}

func newStore(cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Backend {
	case "sqlite":
		return sqlite.New(sqlite.Config{Path: cfg.Path, HistoryLimit: cfg.HistoryLimit})
	default:
		return memory.New(memory.Config{HistoryLimit: cfg.HistoryLimit}), nil
	}
}

// Run starts the engine and serves the API until the context is
// cancelled or a listener fails.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.engine.Start(ctx); err != nil {
		return err
	}
	if d.watcher != nil {
		d.watcher.Start(ctx)
	}

	lns, err := listeners(d.cfg.Listen)
	if err != nil {
		d.shutdownEngine()
		return err
	}

	errCh := make(chan error, len(lns))
	var wg sync.WaitGroup
	for _, ln := range lns {
		d.logger.Info("listening", slog.String("address", ln.Addr().String()))
		wg.Add(1)
		go func(ln net.Listener) {
			defer wg.Done()
			if err := d.server.Serve(ln); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}(ln)
	}

	select {
	case <-ctx.Done():
		d.logger.Info("shutdown requested")
	case err := <-errCh:
		d.logger.Error("listener failed", internallog.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.cfg.ShutdownTimeout())
	defer cancel()
	if err := d.server.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn("forced server shutdown", internallog.Error(err))
	}
	wg.Wait()

	d.shutdownEngine()

	if d.cfg.Listen.SocketPath != "" {
		os.Remove(d.cfg.Listen.SocketPath)
	}
	d.logger.Info("daemon stopped")
	return nil
}

func (d *Daemon) shutdownEngine() {
	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			d.logger.Warn("failed to stop runner watcher", internallog.Error(err))
		}
	}
	if err := d.engine.Stop(); err != nil {
		d.logger.Warn("failed to stop engine", internallog.Error(err))
	}
}
