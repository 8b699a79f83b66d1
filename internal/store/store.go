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

// Package store provides execution record storage for the orchestrator.
//
// A Store is the single logical owner of execution lifecycle state. All
// status changes go through UpdateStatus, which validates the transition
// against the execution state machine and applies any field mutations
// atomically with it. Terminal executions are moved to a bounded,
// append-only history and never mutated again.
package store

import (
	"context"
	"time"
)

// Status represents the lifecycle state of an execution.
type Status string

const (
	// StatusQueued means the execution is waiting for a runner.
	StatusQueued Status = "queued"
	// StatusAssigned means a runner has been reserved but dispatch has not
	// completed yet.
	StatusAssigned Status = "assigned"
	// StatusRunning means the backend accepted the trigger and the external
	// run is in flight.
	StatusRunning Status = "running"
	// StatusCompleted means a terminal result was delivered.
	StatusCompleted Status = "completed"
	// StatusFailed means dispatch failed or a failure signal was delivered.
	StatusFailed Status = "failed"
	// StatusCancelled means the execution was cancelled before completion.
	StatusCancelled Status = "cancelled"
)

// IsTerminal returns true if the status permits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// transitions defines the legal execution state machine.
var transitions = map[Status][]Status{
	StatusQueued:   {StatusAssigned, StatusCancelled},
	StatusAssigned: {StatusRunning, StatusFailed, StatusCancelled},
	StatusRunning:  {StatusCompleted, StatusFailed, StatusCancelled},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Result holds the terminal result payload of a completed execution.
type Result struct {
	Total           int     `json:"total"`
	Passed          int     `json:"passed"`
	Failed          int     `json:"failed"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Execution represents one requested run of a test suite.
type Execution struct {
	ID                  string            `json:"id"`
	Status              Status            `json:"status"`
	Priority            int               `json:"priority"`
	Suite               string            `json:"suite"`
	Environment         string            `json:"environment"`
	RequestedRunnerID   string            `json:"requested_runner_id,omitempty"`
	RequestedRunnerType string            `json:"requested_runner_type,omitempty"`
	EstimatedDuration   time.Duration     `json:"estimated_duration,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	AssignedRunnerID    string            `json:"assigned_runner_id,omitempty"`
	ExternalRunID       string            `json:"external_run_id,omitempty"`
	ExternalRunURL      string            `json:"external_run_url,omitempty"`
	Result              *Result           `json:"result,omitempty"`
	Error               string            `json:"error,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
	TriggeredAt         *time.Time        `json:"triggered_at,omitempty"`
	CompletedAt         *time.Time        `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the execution. Stores hand out clones so
// callers can never mutate owned state behind the store's back.
func (e *Execution) Clone() *Execution {
	c := *e
	if e.Metadata != nil {
		c.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	if e.Result != nil {
		r := *e.Result
		c.Result = &r
	}
	if e.TriggeredAt != nil {
		t := *e.TriggeredAt
		c.TriggeredAt = &t
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Spec describes an execution to create.
type Spec struct {
	Suite               string            `json:"suite"`
	Environment         string            `json:"environment"`
	Priority            int               `json:"priority,omitempty"`
	RequestedRunnerID   string            `json:"requested_runner_id,omitempty"`
	RequestedRunnerType string            `json:"requested_runner_type,omitempty"`
	EstimatedDuration   time.Duration     `json:"estimated_duration,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

// Validate checks that the spec carries the required fields.
func (s Spec) Validate() error {
	if s.Suite == "" {
		return &ValidationError{Field: "suite", Message: "test suite is required"}
	}
	if s.Environment == "" {
		return &ValidationError{Field: "environment", Message: "environment is required"}
	}
	return nil
}

// Mutation is a field change applied atomically with a status transition.
type Mutation func(*Execution)

// WithRunner records the assigned runner.
func WithRunner(runnerID string) Mutation {
	return func(e *Execution) { e.AssignedRunnerID = runnerID }
}

// WithHandle records the external run handle returned by a dispatch backend.
func WithHandle(runID, runURL string) Mutation {
	return func(e *Execution) {
		e.ExternalRunID = runID
		e.ExternalRunURL = runURL
	}
}

// WithResult records the terminal result payload.
func WithResult(r Result) Mutation {
	return func(e *Execution) { e.Result = &r }
}

// WithError records a terminal error message.
func WithError(msg string) Mutation {
	return func(e *Execution) { e.Error = msg }
}

// Store is the contract for execution record storage.
//
// ListByStatus returns queued executions in queue order: priority
// descending, then creation time ascending, then ID ascending. Ordering
// for other statuses is unspecified.
type Store interface {
	// Create validates the spec and stores a new execution in StatusQueued.
	Create(ctx context.Context, spec Spec) (*Execution, error)

	// Get retrieves an execution by ID, checking history after the active
	// set. Returns NotFoundError if the ID is unknown.
	Get(ctx context.Context, id string) (*Execution, error)

	// UpdateStatus transitions an execution to the given status, applying
	// mutations atomically with the transition. Returns
	// InvalidTransitionError if the transition is not legal from the
	// current status, and the updated execution otherwise.
	UpdateStatus(ctx context.Context, id string, status Status, muts ...Mutation) (*Execution, error)

	// ListByStatus returns executions in the given status.
	ListByStatus(ctx context.Context, status Status) ([]*Execution, error)

	// MoveToHistory removes a terminal execution from the active set and
	// appends it to the bounded history. Oldest entries are evicted first.
	MoveToHistory(ctx context.Context, id string) error

	// History returns the retained terminal executions, oldest first.
	History(ctx context.Context) ([]*Execution, error)

	// CountByStatus returns the number of active executions per status.
	CountByStatus(ctx context.Context) (map[Status]int, error)

	// Close releases any resources held by the store.
	Close() error
}

// DefaultHistoryLimit is the history retention count used when a store is
// configured with a non-positive limit.
const DefaultHistoryLimit = 100
