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

package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/tombee/foreman/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{Path: filepath.Join(t.TempDir(), "foreman.db"), HistoryLimit: 3})
	if err != nil {
		t.Fatalf("Failed to create sqlite store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exec, err := s.Create(ctx, store.Spec{
		Suite:       "integration",
		Environment: "staging",
		Priority:    7,
		Metadata:    map[string]string{"branch": "main"},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := s.Get(ctx, exec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != store.StatusQueued {
		t.Errorf("Expected status queued, got %s", got.Status)
	}
	if got.Suite != "integration" || got.Priority != 7 {
		t.Errorf("Round-trip mismatch: %+v", got)
	}
	if got.Metadata["branch"] != "main" {
		t.Errorf("Expected metadata preserved, got %v", got.Metadata)
	}
}

func TestStore_Create_Validation(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Create(context.Background(), store.Spec{Suite: "unit"})
	var verr *store.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
}

func TestStore_UpdateStatus_FullLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exec, _ := s.Create(ctx, store.Spec{Suite: "unit", Environment: "ci"})

	if _, err := s.UpdateStatus(ctx, exec.ID, store.StatusAssigned, store.WithRunner("r1")); err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	running, err := s.UpdateStatus(ctx, exec.ID, store.StatusRunning, store.WithHandle("42", "https://ci/42"))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if running.TriggeredAt == nil {
		t.Error("Expected TriggeredAt set")
	}

	completed, err := s.UpdateStatus(ctx, exec.ID, store.StatusCompleted, store.WithResult(store.Result{Total: 3, Passed: 2, Failed: 1, DurationSeconds: 4.5}))
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	got, _ := s.Get(ctx, exec.ID)
	if got.Result == nil || got.Result.Failed != 1 {
		t.Errorf("Expected result persisted, got %+v", got.Result)
	}
	if got.AssignedRunnerID != "r1" || got.ExternalRunID != "42" {
		t.Errorf("Expected assignment persisted, got %+v", got)
	}
	if completed.CompletedAt == nil {
		t.Error("Expected CompletedAt set")
	}
}

func TestStore_UpdateStatus_IllegalTransition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exec, _ := s.Create(ctx, store.Spec{Suite: "unit", Environment: "ci"})
	s.UpdateStatus(ctx, exec.ID, store.StatusCancelled)

	_, err := s.UpdateStatus(ctx, exec.ID, store.StatusAssigned)
	var terr *store.InvalidTransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("Expected InvalidTransitionError, got %v", err)
	}
}

func TestStore_QueueOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	low, _ := s.Create(ctx, store.Spec{Suite: "a", Environment: "ci", Priority: 1})
	high, _ := s.Create(ctx, store.Spec{Suite: "b", Environment: "ci", Priority: 9})

	queued, err := s.ListByStatus(ctx, store.StatusQueued)
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(queued) != 2 {
		t.Fatalf("Expected 2 queued, got %d", len(queued))
	}
	if queued[0].ID != high.ID || queued[1].ID != low.ID {
		t.Error("Expected priority-descending queue order")
	}
}

func TestStore_HistoryBoundedFIFO(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		exec, _ := s.Create(ctx, store.Spec{Suite: "unit", Environment: "ci"})
		s.UpdateStatus(ctx, exec.ID, store.StatusCancelled)
		if err := s.MoveToHistory(ctx, exec.ID); err != nil {
			t.Fatalf("MoveToHistory failed: %v", err)
		}
		ids = append(ids, exec.ID)
	}

	history, err := s.History(ctx)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("Expected 3 retained, got %d", len(history))
	}
	for i, exec := range history {
		if exec.ID != ids[i+2] {
			t.Errorf("History position %d: expected %s, got %s", i, ids[i+2], exec.ID)
		}
	}

	// Archived executions no longer appear in active listings.
	counts, _ := s.CountByStatus(ctx)
	if counts[store.StatusCancelled] != 0 {
		t.Errorf("Expected archived executions excluded from counts, got %d", counts[store.StatusCancelled])
	}
}
