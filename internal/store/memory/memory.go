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

// Package memory provides an in-memory execution store implementation.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tombee/foreman/internal/store"
)

// Compile-time interface assertion.
var _ store.Store = (*Store)(nil)

// Store is an in-memory execution store.
type Store struct {
	mu           sync.RWMutex
	active       map[string]*store.Execution
	history      []*store.Execution
	historyLimit int
}

// Config contains memory store configuration.
type Config struct {
	// HistoryLimit bounds the terminal-execution history. Non-positive
	// values fall back to store.DefaultHistoryLimit.
	HistoryLimit int
}

// New creates a new in-memory store.
func New(cfg Config) *Store {
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = store.DefaultHistoryLimit
	}
	return &Store{
		active:       make(map[string]*store.Execution),
		historyLimit: limit,
	}
}

// Create validates the spec and stores a new queued execution.
func (s *Store) Create(ctx context.Context, spec store.Spec) (*store.Execution, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	exec := &store.Execution{
		ID:                  uuid.New().String(),
		Status:              store.StatusQueued,
		Priority:            spec.Priority,
		Suite:               spec.Suite,
		Environment:         spec.Environment,
		RequestedRunnerID:   spec.RequestedRunnerID,
		RequestedRunnerType: spec.RequestedRunnerType,
		EstimatedDuration:   spec.EstimatedDuration,
		Metadata:            spec.Metadata,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	s.mu.Lock()
	s.active[exec.ID] = exec
	s.mu.Unlock()

	return exec.Clone(), nil
}

// Get retrieves an execution by ID, checking history after the active set.
func (s *Store) Get(ctx context.Context, id string) (*store.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if exec, ok := s.active[id]; ok {
		return exec.Clone(), nil
	}
	for _, exec := range s.history {
		if exec.ID == id {
			return exec.Clone(), nil
		}
	}
	return nil, &store.NotFoundError{ID: id}
}

// UpdateStatus transitions an execution, applying mutations atomically.
func (s *Store) UpdateStatus(ctx context.Context, id string, status store.Status, muts ...store.Mutation) (*store.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exec, ok := s.active[id]
	if !ok {
		// History entries are terminal and read-only; report the illegal
		// mutation attempt rather than a missing record.
		for _, h := range s.history {
			if h.ID == id {
				return nil, &store.InvalidTransitionError{ID: id, From: h.Status, To: status}
			}
		}
		return nil, &store.NotFoundError{ID: id}
	}

	if !store.CanTransition(exec.Status, status) {
		return nil, &store.InvalidTransitionError{ID: id, From: exec.Status, To: status}
	}

	now := time.Now()
	exec.Status = status
	exec.UpdatedAt = now
	switch {
	case status == store.StatusRunning:
		exec.TriggeredAt = &now
	case status.IsTerminal():
		exec.CompletedAt = &now
	}
	for _, mut := range muts {
		mut(exec)
	}

	return exec.Clone(), nil
}

// ListByStatus returns executions in the given status. Queued executions
// come back in queue order.
func (s *Store) ListByStatus(ctx context.Context, status store.Status) ([]*store.Execution, error) {
	s.mu.RLock()
	var result []*store.Execution
	for _, exec := range s.active {
		if exec.Status == status {
			result = append(result, exec.Clone())
		}
	}
	s.mu.RUnlock()

	if status == store.StatusQueued {
		sort.Slice(result, func(i, j int) bool {
			if result[i].Priority != result[j].Priority {
				return result[i].Priority > result[j].Priority
			}
			if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
				return result[i].CreatedAt.Before(result[j].CreatedAt)
			}
			return result[i].ID < result[j].ID
		})
	}
	return result, nil
}

// MoveToHistory moves a terminal execution to the bounded history.
func (s *Store) MoveToHistory(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exec, ok := s.active[id]
	if !ok {
		return &store.NotFoundError{ID: id}
	}
	if !exec.Status.IsTerminal() {
		return &store.InvalidTransitionError{ID: id, From: exec.Status, To: exec.Status}
	}

	delete(s.active, id)
	s.history = append(s.history, exec)
	if len(s.history) > s.historyLimit {
		s.history = s.history[len(s.history)-s.historyLimit:]
	}
	return nil
}

// History returns the retained terminal executions, oldest first.
func (s *Store) History(ctx context.Context) ([]*store.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*store.Execution, 0, len(s.history))
	for _, exec := range s.history {
		result = append(result, exec.Clone())
	}
	return result, nil
}

// CountByStatus returns the number of active executions per status.
func (s *Store) CountByStatus(ctx context.Context) (map[store.Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[store.Status]int)
	for _, exec := range s.active {
		counts[exec.Status]++
	}
	return counts, nil
}

// Close releases store resources. The memory store holds none.
func (s *Store) Close() error {
	return nil
}
