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

// Package scheduler drives execution placement.
//
// The scheduler wakes on a fixed tick, takes a bounded snapshot of the
// queue in queue order, and for each snapshot entry tries to select a
// runner, reserve capacity, record the allocation, and dispatch. A
// failure on one execution never stops the tick; the rest of the
// snapshot is still processed.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tombee/foreman/internal/clock"
	"github.com/tombee/foreman/internal/dispatch"
	"github.com/tombee/foreman/internal/events"
	"github.com/tombee/foreman/internal/ledger"
	internallog "github.com/tombee/foreman/internal/log"
	"github.com/tombee/foreman/internal/metrics"
	"github.com/tombee/foreman/internal/registry"
	"github.com/tombee/foreman/internal/store"
)

const (
	// DefaultTickInterval is the wake-up period of the scheduler loop.
	DefaultTickInterval = 5 * time.Second

	// DefaultSnapshotLimit bounds how many queued executions one tick
	// examines.
	DefaultSnapshotLimit = 10
)

// Config contains scheduler configuration.
type Config struct {
	// TickInterval is how often the loop wakes. Default 5s.
	TickInterval time.Duration

	// SnapshotLimit bounds the queued executions examined per tick.
	// Default 10.
	SnapshotLimit int

	// MaxRunningDuration fails executions that have been running longer.
	// Zero disables the watchdog.
	MaxRunningDuration time.Duration

	// AllocationPolicy supplies resource defaults for the ledger.
	AllocationPolicy ledger.Policy
}

// Scheduler owns the placement loop.
type Scheduler struct {
	store    store.Store
	runners  *registry.Registry
	ledger   *ledger.Ledger
	adapters *dispatch.Registry
	bus      *events.Bus
	clk      clock.Clock
	cfg      Config
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a scheduler.
func New(cfg Config, st store.Store, runners *registry.Registry, led *ledger.Ledger, adapters *dispatch.Registry, bus *events.Bus, clk clock.Clock) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.SnapshotLimit <= 0 {
		cfg.SnapshotLimit = DefaultSnapshotLimit
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{
		store:    st,
		runners:  runners,
		ledger:   led,
		adapters: adapters,
		bus:      bus,
		clk:      clk,
		cfg:      cfg,
		logger:   internallog.WithComponent(slog.Default(), "scheduler"),
	}
}

// Start begins the scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.loop(ctx)
	s.logger.Info("scheduler started",
		slog.Duration("tick_interval", s.cfg.TickInterval),
		slog.Int("snapshot_limit", s.cfg.SnapshotLimit))
	return nil
}

// Stop halts the scheduling loop and waits for the current tick to
// finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := s.clk.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C():
			s.Tick(ctx)
		}
	}
}

// Tick runs one scheduling pass. Exported so the daemon can force a
// pass after intake and tests can drive the loop deterministically.
func (s *Scheduler) Tick(ctx context.Context) {
	if s.cfg.MaxRunningDuration > 0 {
		s.reapOverrunning(ctx)
	}

	queued, err := s.store.ListByStatus(ctx, store.StatusQueued)
	if err != nil {
		s.logger.Error("failed to list queued executions", internallog.Error(err))
		return
	}
	if len(queued) == 0 {
		s.logger.Debug("tick: queue empty")
		s.updateGauges(ctx)
		return
	}

	snapshot := queued
	if len(snapshot) > s.cfg.SnapshotLimit {
		snapshot = snapshot[:s.cfg.SnapshotLimit]
	}
	s.logger.Debug("tick", slog.Int("queued", len(queued)), slog.Int("snapshot", len(snapshot)))

	for _, exec := range snapshot {
		s.place(ctx, exec)
	}
	s.updateGauges(ctx)
}

// place attempts to assign and dispatch one queued execution. The
// execution stays queued when no runner fits; it fails terminally when
// dispatch is attempted and rejected.
func (s *Scheduler) place(ctx context.Context, exec *store.Execution) {
	available := s.runners.ListAvailable()
	runner := Select(exec, available)
	if runner == nil {
		s.logger.Debug("no runner available",
			slog.String(internallog.ExecutionIDKey, exec.ID),
			slog.String(internallog.SuiteKey, exec.Suite))
		return
	}

	if err := s.runners.Reserve(runner.ID); err != nil {
		// Lost the slot between snapshot and reserve; next tick retries.
		s.logger.Debug("reservation failed",
			slog.String(internallog.ExecutionIDKey, exec.ID),
			slog.String(internallog.RunnerIDKey, runner.ID),
			internallog.Error(err))
		return
	}

	cpuUnits, memoryMB := s.cfg.AllocationPolicy.Resolve(exec.Metadata)
	s.ledger.Allocate(exec.ID, runner.ID, cpuUnits, memoryMB)

	assigned, err := s.store.UpdateStatus(ctx, exec.ID, store.StatusAssigned, store.WithRunner(runner.ID))
	if err != nil {
		// Typically a concurrent cancellation; give the slot back.
		s.releaseResources(exec.ID)
		s.logger.Warn("assignment lost",
			slog.String(internallog.ExecutionIDKey, exec.ID),
			slog.String(internallog.RunnerIDKey, runner.ID),
			internallog.Error(err))
		return
	}
	s.publish(events.EventExecutionAssigned, assigned)

	s.dispatchAssigned(ctx, assigned, runner)
}

// dispatchAssigned triggers an assigned execution on its runner.
func (s *Scheduler) dispatchAssigned(ctx context.Context, exec *store.Execution, runner *registry.Runner) {
	adapter, err := s.adapters.ForRunner(runner)
	if err != nil {
		s.failDispatch(ctx, exec, runner, err)
		return
	}

	start := s.clk.Now()
	handle, err := adapter.Trigger(ctx, exec, runner)
	metrics.RecordDispatch(runner.Type, err, s.clk.Since(start))
	if err != nil {
		s.failDispatch(ctx, exec, runner, err)
		return
	}

	running, err := s.store.UpdateStatus(ctx, exec.ID, store.StatusRunning,
		store.WithHandle(handle.RunID, handle.RunURL))
	if err != nil {
		// Cancelled while the trigger was in flight. The external run is
		// already started; best effort cancellation happens in the facade.
		s.releaseResources(exec.ID)
		s.logger.Warn("execution cancelled during dispatch",
			slog.String(internallog.ExecutionIDKey, exec.ID),
			internallog.Error(err))
		return
	}

	s.logger.Info("execution dispatched",
		slog.String(internallog.ExecutionIDKey, exec.ID),
		slog.String(internallog.RunnerIDKey, runner.ID),
		slog.String(internallog.BackendKey, runner.Type),
		slog.String("run_id", handle.RunID))
	s.publish(events.EventExecutionRunning, running)
}

// failDispatch marks an execution failed after a rejected dispatch and
// returns the reserved capacity. Dispatch failures are terminal for the
// attempt; there is no automatic requeue.
func (s *Scheduler) failDispatch(ctx context.Context, exec *store.Execution, runner *registry.Runner, dispatchErr error) {
	s.logger.Error("dispatch failed",
		slog.String(internallog.ExecutionIDKey, exec.ID),
		slog.String(internallog.RunnerIDKey, runner.ID),
		slog.String(internallog.BackendKey, runner.Type),
		internallog.Error(dispatchErr))

	failed, err := s.store.UpdateStatus(ctx, exec.ID, store.StatusFailed, store.WithError(dispatchErr.Error()))
	if err != nil {
		s.logger.Error("failed to record dispatch failure",
			slog.String(internallog.ExecutionIDKey, exec.ID),
			internallog.Error(err))
	}

	s.releaseResources(exec.ID)

	if err := s.store.MoveToHistory(ctx, exec.ID); err != nil {
		s.logger.Warn("failed to archive execution",
			slog.String(internallog.ExecutionIDKey, exec.ID),
			internallog.Error(err))
	}

	metrics.RecordTerminal(string(store.StatusFailed))
	if failed != nil {
		s.publish(events.EventExecutionFailed, failed)
	}
}

// releaseResources returns an execution's reserved capacity. The ledger
// removal is the ownership token: only the caller that removed the
// allocation gives the runner slot back. A concurrent cancellation that
// already finalized the execution leaves nothing to release here.
func (s *Scheduler) releaseResources(executionID string) {
	if alloc, ok := s.ledger.Release(executionID); ok {
		s.runners.Release(alloc.RunnerID)
	}
}

// reapOverrunning fails executions that exceeded MaxRunningDuration.
func (s *Scheduler) reapOverrunning(ctx context.Context) {
	running, err := s.store.ListByStatus(ctx, store.StatusRunning)
	if err != nil {
		s.logger.Error("failed to list running executions", internallog.Error(err))
		return
	}

	for _, exec := range running {
		if exec.TriggeredAt == nil || s.clk.Since(*exec.TriggeredAt) <= s.cfg.MaxRunningDuration {
			continue
		}

		s.logger.Warn("execution exceeded max running duration",
			slog.String(internallog.ExecutionIDKey, exec.ID),
			slog.Duration("max_running_duration", s.cfg.MaxRunningDuration))

		failed, err := s.store.UpdateStatus(ctx, exec.ID, store.StatusFailed,
			store.WithError(fmt.Sprintf("exceeded max running duration %s", s.cfg.MaxRunningDuration)))
		if err != nil {
			continue
		}

		s.releaseResources(exec.ID)
		if err := s.store.MoveToHistory(ctx, exec.ID); err != nil {
			s.logger.Warn("failed to archive execution",
				slog.String(internallog.ExecutionIDKey, exec.ID),
				internallog.Error(err))
		}

		metrics.RecordTerminal(string(store.StatusFailed))
		s.publish(events.EventExecutionFailed, failed)
	}
}

func (s *Scheduler) updateGauges(ctx context.Context) {
	counts, err := s.store.CountByStatus(ctx)
	if err == nil {
		for _, status := range []store.Status{store.StatusQueued, store.StatusAssigned, store.StatusRunning} {
			metrics.SetQueueDepth(string(status), counts[status])
		}
	}
	for _, r := range s.runners.List() {
		metrics.SetRunnerJobs(r.ID, r.CurrentJobs)
	}
	if s.bus != nil {
		metrics.SetEventsDropped(s.bus.Dropped())
	}
}

func (s *Scheduler) publish(eventType events.EventType, exec *store.Execution) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{
		Type:        eventType,
		ExecutionID: exec.ID,
		RunnerID:    exec.AssignedRunnerID,
		Data:        exec,
	})
}
