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

// Package dispatch triggers test executions on CI/CD backends.
//
// An Adapter knows how to trigger a run on one backend type. Adapters
// are looked up by runner type from a Registry, which also applies
// per-backend rate limiting so a burst of scheduler ticks cannot hammer
// an external API.
package dispatch

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/tombee/foreman/internal/registry"
	"github.com/tombee/foreman/internal/store"
)

// RunHandle identifies a triggered run on the external backend.
type RunHandle struct {
	RunID  string `json:"run_id"`
	RunURL string `json:"run_url,omitempty"`
}

// Adapter triggers executions on one backend type.
type Adapter interface {
	// Type returns the runner type this adapter serves.
	Type() string

	// Trigger starts the execution's suite on the given runner. A nil
	// error means the backend accepted the trigger; the handle may carry
	// an empty RunID if the backend does not return one synchronously.
	Trigger(ctx context.Context, exec *store.Execution, runner *registry.Runner) (*RunHandle, error)
}

// Canceller is an optional adapter capability. Cancellation is best
// effort; callers ignore errors from it.
type Canceller interface {
	Cancel(ctx context.Context, exec *store.Execution, runner *registry.Runner) error
}

// Error describes a failed dispatch attempt.
type Error struct {
	Backend     string
	ExecutionID string
	StatusCode  int
	Message     string
	Err         error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("dispatch to %s failed for execution %s: %s (status %d)", e.Backend, e.ExecutionID, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("dispatch to %s failed for execution %s: %s", e.Backend, e.ExecutionID, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a dispatch error for a backend and execution.
func NewError(backend, executionID, message string, err error) *Error {
	return &Error{Backend: backend, ExecutionID: executionID, Message: message, Err: err}
}

// Registry holds adapters keyed by runner type.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter, replacing any existing adapter for the same
// type. A positive triggersPerSecond wraps the adapter with a rate
// limiter.
func (r *Registry) Register(adapter Adapter, triggersPerSecond float64) {
	if triggersPerSecond > 0 {
		adapter = &limitedAdapter{
			adapter: adapter,
			limiter: rate.NewLimiter(rate.Limit(triggersPerSecond), 1),
		}
	}
	r.adapters[adapter.Type()] = adapter
}

// ForRunner returns the adapter for a runner's type.
func (r *Registry) ForRunner(runner *registry.Runner) (Adapter, error) {
	adapter, ok := r.adapters[runner.Type]
	if !ok {
		return nil, fmt.Errorf("no dispatch adapter for runner type %q", runner.Type)
	}
	return adapter, nil
}

// Types returns the registered adapter types.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.adapters))
	for t := range r.adapters {
		types = append(types, t)
	}
	return types
}

// limitedAdapter applies a rate limit in front of Trigger. Cancel is
// not limited; holding back a cancellation helps nobody.
type limitedAdapter struct {
	adapter Adapter
	limiter *rate.Limiter
}

func (l *limitedAdapter) Type() string {
	return l.adapter.Type()
}

func (l *limitedAdapter) Trigger(ctx context.Context, exec *store.Execution, runner *registry.Runner) (*RunHandle, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, NewError(l.adapter.Type(), exec.ID, "rate limiter wait cancelled", err)
	}
	return l.adapter.Trigger(ctx, exec, runner)
}

func (l *limitedAdapter) Cancel(ctx context.Context, exec *store.Execution, runner *registry.Runner) error {
	if c, ok := l.adapter.(Canceller); ok {
		return c.Cancel(ctx, exec, runner)
	}
	return nil
}

var _ Canceller = (*limitedAdapter)(nil)
