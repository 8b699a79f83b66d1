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

// Package orchestrator is the facade over the execution engine.
//
// It owns intake (queueing, result and failure reports, cancellation)
// and composes the scheduler and health monitor loops. All lifecycle
// mutations flow through here so resource release, archival, events and
// metrics stay consistent no matter which surface (HTTP API, CLI)
// initiated the change.
package orchestrator

import (
	"context"
	"log/slog"

	"github.com/tombee/foreman/internal/dispatch"
	"github.com/tombee/foreman/internal/events"
	"github.com/tombee/foreman/internal/health"
	"github.com/tombee/foreman/internal/ledger"
	internallog "github.com/tombee/foreman/internal/log"
	"github.com/tombee/foreman/internal/metrics"
	"github.com/tombee/foreman/internal/registry"
	"github.com/tombee/foreman/internal/scheduler"
	"github.com/tombee/foreman/internal/store"
)

// Orchestrator coordinates the execution store, runner registry,
// resource ledger, dispatch adapters and background loops.
type Orchestrator struct {
	store    store.Store
	runners  *registry.Registry
	ledger   *ledger.Ledger
	adapters *dispatch.Registry
	bus      *events.Bus

	scheduler *scheduler.Scheduler
	monitor   *health.Monitor

	logger *slog.Logger
}

// New creates an orchestrator over the given components. The scheduler
// and monitor may be nil when the caller runs without background loops
// (tests, one-shot tools).
func New(st store.Store, runners *registry.Registry, led *ledger.Ledger, adapters *dispatch.Registry, bus *events.Bus, sched *scheduler.Scheduler, monitor *health.Monitor) *Orchestrator {
	return &Orchestrator{
		store:     st,
		runners:   runners,
		ledger:    led,
		adapters:  adapters,
		bus:       bus,
		scheduler: sched,
		monitor:   monitor,
		logger:    internallog.WithComponent(slog.Default(), "orchestrator"),
	}
}

// Start launches the background loops.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.monitor != nil {
		if err := o.monitor.Start(ctx); err != nil {
			return err
		}
	}
	if o.scheduler != nil {
		if err := o.scheduler.Start(ctx); err != nil {
			if o.monitor != nil {
				o.monitor.Stop()
			}
			return err
		}
	}
	return nil
}

// Stop halts the background loops and closes the store.
func (o *Orchestrator) Stop() error {
	if o.scheduler != nil {
		o.scheduler.Stop()
	}
	if o.monitor != nil {
		o.monitor.Stop()
	}
	return o.store.Close()
}

// QueueExecution validates and enqueues a new execution.
func (o *Orchestrator) QueueExecution(ctx context.Context, spec store.Spec) (*store.Execution, error) {
	exec, err := o.store.Create(ctx, spec)
	if err != nil {
		return nil, err
	}

	o.logger.Info("execution queued",
		slog.String(internallog.ExecutionIDKey, exec.ID),
		slog.String(internallog.SuiteKey, exec.Suite),
		slog.Int("priority", exec.Priority))
	metrics.RecordQueued()
	o.publish(events.EventExecutionQueued, exec)
	return exec, nil
}

// GetExecution returns one execution, active or archived.
func (o *Orchestrator) GetExecution(ctx context.Context, id string) (*store.Execution, error) {
	return o.store.Get(ctx, id)
}

// ListExecutions returns active executions in the given status.
func (o *Orchestrator) ListExecutions(ctx context.Context, status store.Status) ([]*store.Execution, error) {
	return o.store.ListByStatus(ctx, status)
}

// History returns archived executions, oldest first.
func (o *Orchestrator) History(ctx context.Context) ([]*store.Execution, error) {
	return o.store.History(ctx)
}

// ReportResult records a terminal result for a running execution and
// releases its resources.
func (o *Orchestrator) ReportResult(ctx context.Context, id string, result store.Result) (*store.Execution, error) {
	exec, err := o.store.UpdateStatus(ctx, id, store.StatusCompleted, store.WithResult(result))
	if err != nil {
		o.logger.Warn("result report rejected",
			slog.String(internallog.ExecutionIDKey, id),
			internallog.Error(err))
		return nil, err
	}

	o.finalize(ctx, exec)
	o.logger.Info("execution completed",
		slog.String(internallog.ExecutionIDKey, exec.ID),
		slog.Int("total", result.Total),
		slog.Int("failed", result.Failed))
	o.publish(events.EventExecutionCompleted, exec)
	return exec, nil
}

// ReportFailure records a terminal failure for a running execution and
// releases its resources.
func (o *Orchestrator) ReportFailure(ctx context.Context, id string, message string) (*store.Execution, error) {
	exec, err := o.store.UpdateStatus(ctx, id, store.StatusFailed, store.WithError(message))
	if err != nil {
		o.logger.Warn("failure report rejected",
			slog.String(internallog.ExecutionIDKey, id),
			internallog.Error(err))
		return nil, err
	}

	o.finalize(ctx, exec)
	o.logger.Info("execution failed",
		slog.String(internallog.ExecutionIDKey, exec.ID),
		slog.String("error", message))
	o.publish(events.EventExecutionFailed, exec)
	return exec, nil
}

// Cancel cancels an execution in any non-terminal status. For a running
// execution the external run is cancelled best effort; a backend that
// cannot cancel does not block the local transition.
func (o *Orchestrator) Cancel(ctx context.Context, id string) (*store.Execution, error) {
	exec, err := o.store.UpdateStatus(ctx, id, store.StatusCancelled)
	if err != nil {
		return nil, err
	}

	o.cancelUpstream(ctx, exec)
	o.finalize(ctx, exec)
	o.logger.Info("execution cancelled", slog.String(internallog.ExecutionIDKey, exec.ID))
	o.publish(events.EventExecutionCancelled, exec)
	return exec, nil
}

// cancelUpstream asks the backend to stop an already-triggered run.
func (o *Orchestrator) cancelUpstream(ctx context.Context, exec *store.Execution) {
	if exec.AssignedRunnerID == "" || exec.ExternalRunID == "" || o.adapters == nil {
		return
	}
	runner, ok := o.runners.Get(exec.AssignedRunnerID)
	if !ok {
		return
	}
	adapter, err := o.adapters.ForRunner(runner)
	if err != nil {
		return
	}
	canceller, ok := adapter.(dispatch.Canceller)
	if !ok {
		return
	}
	if err := canceller.Cancel(ctx, exec, runner); err != nil {
		o.logger.Warn("upstream cancellation failed",
			slog.String(internallog.ExecutionIDKey, exec.ID),
			slog.String(internallog.RunnerIDKey, runner.ID),
			internallog.Error(err))
	}
}

// finalize releases a terminal execution's resources and archives it.
// The runner slot is given back only when this call removed the ledger
// allocation; if the scheduler already released it, or the execution
// never held a runner, there is nothing to return.
func (o *Orchestrator) finalize(ctx context.Context, exec *store.Execution) {
	if alloc, ok := o.ledger.Release(exec.ID); ok {
		o.runners.Release(alloc.RunnerID)
	}
	if err := o.store.MoveToHistory(ctx, exec.ID); err != nil {
		o.logger.Warn("failed to archive execution",
			slog.String(internallog.ExecutionIDKey, exec.ID),
			internallog.Error(err))
	}
	metrics.RecordTerminal(string(exec.Status))
}

// Runners returns all registered runners.
func (o *Orchestrator) Runners() []*registry.Runner {
	return o.runners.List()
}

// Allocations returns the active resource allocations.
func (o *Orchestrator) Allocations() []*ledger.Allocation {
	return o.ledger.List()
}

// Status summarizes engine state for the status API.
type Status struct {
	Executions map[store.Status]int    `json:"executions"`
	Runners    []*registry.Runner      `json:"runners"`
	Usage      map[string]ledger.Usage `json:"usage"`
	History    int                     `json:"history"`
}

// Status reports active execution counts, runner state and resource
// usage.
func (o *Orchestrator) Status(ctx context.Context) (*Status, error) {
	counts, err := o.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	history, err := o.store.History(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{
		Executions: counts,
		Runners:    o.runners.List(),
		Usage:      o.ledger.Usage(),
		History:    len(history),
	}, nil
}

func (o *Orchestrator) publish(eventType events.EventType, exec *store.Execution) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.Event{
		Type:        eventType,
		ExecutionID: exec.ID,
		RunnerID:    exec.AssignedRunnerID,
		Data:        exec,
	})
}
