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

// Package health probes runner health on a fixed interval.
//
// The monitor walks the registry each interval and probes every runner.
// One runner's probe failure marks that runner unhealthy and nothing
// else; the rest of the pass continues. Runners without a health check
// URL are assumed healthy.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tombee/foreman/internal/clock"
	"github.com/tombee/foreman/internal/events"
	internallog "github.com/tombee/foreman/internal/log"
	"github.com/tombee/foreman/internal/metrics"
	"github.com/tombee/foreman/internal/registry"
	"github.com/tombee/foreman/pkg/httpclient"
)

const (
	// DefaultInterval is the probe period.
	DefaultInterval = 2 * time.Minute

	// DefaultProbeTimeout bounds one probe request.
	DefaultProbeTimeout = 10 * time.Second
)

// CheckError describes a failed health probe.
type CheckError struct {
	RunnerID   string
	URL        string
	StatusCode int
	Err        error
}

func (e *CheckError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("health check for runner %s failed: status %d from %s", e.RunnerID, e.StatusCode, e.URL)
	}
	return fmt.Sprintf("health check for runner %s failed: %v", e.RunnerID, e.Err)
}

func (e *CheckError) Unwrap() error {
	return e.Err
}

// Prober checks one runner. A nil error means healthy.
type Prober interface {
	Probe(ctx context.Context, runner *registry.Runner) error
}

// HTTPProber probes a runner's health check URL. Any 2xx response is
// healthy.
type HTTPProber struct {
	client  *http.Client
	timeout time.Duration
}

// NewHTTPProber creates an HTTP prober.
func NewHTTPProber(client *http.Client, timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	if client == nil {
		cfg := httpclient.DefaultConfig()
		cfg.Timeout = timeout
		cfg.RetryAttempts = 0
		cfg.UserAgent = "foreman-health-prober/1.0"
		client, _ = httpclient.New(cfg)
	}
	return &HTTPProber{client: client, timeout: timeout}
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context, runner *registry.Runner) error {
	if runner.HealthCheckURL == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, runner.HealthCheckURL, nil)
	if err != nil {
		return &CheckError{RunnerID: runner.ID, URL: runner.HealthCheckURL, Err: err}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return &CheckError{RunnerID: runner.ID, URL: runner.HealthCheckURL, Err: err}
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &CheckError{RunnerID: runner.ID, URL: runner.HealthCheckURL, StatusCode: resp.StatusCode}
	}
	return nil
}

// Config contains monitor configuration.
type Config struct {
	// Interval is the probe period. Default 2m.
	Interval time.Duration

	// ProbeTimeout bounds one probe. Default 10s.
	ProbeTimeout time.Duration
}

// Monitor runs the periodic health check pass.
type Monitor struct {
	runners *registry.Registry
	prober  Prober
	bus     *events.Bus
	clk     clock.Clock
	cfg     Config
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a health monitor.
func New(cfg Config, runners *registry.Registry, prober Prober, bus *events.Bus, clk clock.Clock) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if prober == nil {
		prober = NewHTTPProber(nil, cfg.ProbeTimeout)
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Monitor{
		runners: runners,
		prober:  prober,
		bus:     bus,
		clk:     clk,
		cfg:     cfg,
		logger:  internallog.WithComponent(slog.Default(), "health-monitor"),
	}
}

// Start begins the monitoring loop. The first pass runs immediately so
// runners do not sit in unknown health for a full interval.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("health monitor already running")
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.mu.Unlock()

	go m.loop(ctx)
	m.logger.Info("health monitor started", slog.Duration("interval", m.cfg.Interval))
	return nil
}

// Stop halts the monitoring loop.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	<-m.doneCh
	m.logger.Info("health monitor stopped")
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.doneCh)

	m.CheckAll(ctx)

	ticker := m.clk.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C():
			m.CheckAll(ctx)
		}
	}
}

// CheckAll probes every registered runner once.
func (m *Monitor) CheckAll(ctx context.Context) {
	for _, runner := range m.runners.List() {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		default:
		}
		m.check(ctx, runner)
	}
}

func (m *Monitor) check(ctx context.Context, runner *registry.Runner) {
	start := m.clk.Now()
	err := m.prober.Probe(ctx, runner)
	latency := m.clk.Since(start)

	status := registry.HealthHealthy
	probeErr := ""
	if err != nil {
		status = registry.HealthUnhealthy
		probeErr = err.Error()
		m.logger.Warn("runner unhealthy",
			slog.String(internallog.RunnerIDKey, runner.ID),
			slog.Duration("latency", latency),
			internallog.Error(err))
	} else {
		m.logger.Debug("runner healthy",
			slog.String(internallog.RunnerIDKey, runner.ID),
			slog.Duration("latency", latency))
	}

	previous := runner.Health
	m.runners.SetHealth(runner.ID, status, latency, probeErr)
	metrics.RecordHealthCheck(runner.ID, err == nil, latency)

	if m.bus != nil && previous != status {
		eventType := events.EventRunnerHealthy
		if status == registry.HealthUnhealthy {
			eventType = events.EventRunnerUnhealthy
		}
		m.bus.Publish(events.Event{Type: eventType, RunnerID: runner.ID})
	}
}
