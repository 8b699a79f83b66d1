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

package registry

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func healthyRunner(id string, priority, capacity int) Runner {
	return Runner{
		ID:                id,
		Name:              id,
		Type:              "docker",
		Priority:          priority,
		MaxConcurrentJobs: capacity,
		Health:            HealthHealthy,
	}
}

func TestRegistry_ListAvailable_FiltersAndOrders(t *testing.T) {
	g := New()
	g.Register(healthyRunner("r-low", 1, 2))
	g.Register(healthyRunner("r-high", 10, 2))
	g.Register(Runner{ID: "r-sick", Type: "docker", Priority: 20, MaxConcurrentJobs: 2, Health: HealthUnhealthy})
	g.Register(Runner{ID: "r-new", Type: "docker", Priority: 20, MaxConcurrentJobs: 2})

	available := g.ListAvailable()
	if len(available) != 2 {
		t.Fatalf("Expected 2 available runners, got %d", len(available))
	}
	if available[0].ID != "r-high" || available[1].ID != "r-low" {
		t.Errorf("Expected priority-descending order, got %s, %s", available[0].ID, available[1].ID)
	}
}

func TestRegistry_ListAvailable_ExcludesFullRunners(t *testing.T) {
	g := New()
	g.Register(healthyRunner("r1", 5, 1))

	if err := g.Reserve("r1"); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if len(g.ListAvailable()) != 0 {
		t.Error("Expected full runner to be excluded from available set")
	}

	g.Release("r1")
	if len(g.ListAvailable()) != 1 {
		t.Error("Expected released runner to be available again")
	}
}

func TestRegistry_Reserve_CapacityEnforced(t *testing.T) {
	g := New()
	g.Register(healthyRunner("r1", 5, 2))

	if err := g.Reserve("r1"); err != nil {
		t.Fatalf("first Reserve failed: %v", err)
	}
	if err := g.Reserve("r1"); err != nil {
		t.Fatalf("second Reserve failed: %v", err)
	}
	if err := g.Reserve("r1"); !errors.Is(err, ErrAtCapacity) {
		t.Fatalf("Expected ErrAtCapacity, got %v", err)
	}

	r, _ := g.Get("r1")
	if r.CurrentJobs != 2 {
		t.Errorf("Expected job count 2, got %d", r.CurrentJobs)
	}
}

func TestRegistry_Reserve_ConcurrentNeverOversubscribes(t *testing.T) {
	g := New()
	g.Register(healthyRunner("r1", 5, 10))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Reserve("r1")
		}()
	}
	wg.Wait()

	r, _ := g.Get("r1")
	if r.CurrentJobs != 10 {
		t.Errorf("Expected job count capped at 10, got %d", r.CurrentJobs)
	}
}

func TestRegistry_Release_FloorsAtZero(t *testing.T) {
	g := New()
	g.Register(healthyRunner("r1", 5, 2))

	g.Reserve("r1")
	g.Release("r1")
	g.Release("r1") // duplicate release

	r, _ := g.Get("r1")
	if r.CurrentJobs != 0 {
		t.Errorf("Expected job count 0 after duplicate release, got %d", r.CurrentJobs)
	}
}

func TestRegistry_SetHealth(t *testing.T) {
	g := New()
	g.Register(healthyRunner("r1", 5, 2))

	g.SetHealth("r1", HealthUnhealthy, 120*time.Millisecond, "connection refused")

	r, _ := g.Get("r1")
	if r.Health != HealthUnhealthy {
		t.Errorf("Expected unhealthy, got %s", r.Health)
	}
	if r.LastCheckLatency != 120*time.Millisecond {
		t.Errorf("Expected latency recorded, got %v", r.LastCheckLatency)
	}
	if r.LastCheckError != "connection refused" {
		t.Errorf("Expected error recorded, got %q", r.LastCheckError)
	}
}

func TestRegistry_Register_PreservesStateOnUpdate(t *testing.T) {
	g := New()
	g.Register(healthyRunner("r1", 5, 2))
	g.Reserve("r1")
	g.SetHealth("r1", HealthUnhealthy, 0, "down")

	// Reload the definition with a new priority.
	def := healthyRunner("r1", 9, 2)
	def.Health = ""
	g.Register(def)

	r, _ := g.Get("r1")
	if r.Priority != 9 {
		t.Errorf("Expected updated priority 9, got %d", r.Priority)
	}
	if r.CurrentJobs != 1 {
		t.Errorf("Expected preserved job count 1, got %d", r.CurrentJobs)
	}
	if r.Health != HealthUnhealthy {
		t.Errorf("Expected preserved health, got %s", r.Health)
	}
}

func TestRegistry_Apply_RemovesAbsentRunners(t *testing.T) {
	g := New()
	g.Register(healthyRunner("r1", 1, 1))
	g.Register(healthyRunner("r2", 2, 1))

	g.Apply([]Runner{healthyRunner("r2", 3, 1), healthyRunner("r3", 4, 1)})

	if _, ok := g.Get("r1"); ok {
		t.Error("Expected r1 removed")
	}
	if r2, ok := g.Get("r2"); !ok || r2.Priority != 3 {
		t.Error("Expected r2 updated")
	}
	if _, ok := g.Get("r3"); !ok {
		t.Error("Expected r3 added")
	}
}

func TestRegistry_Register_DefaultsCapacity(t *testing.T) {
	g := New()
	g.Register(Runner{ID: "r1", Type: "docker"})

	r, _ := g.Get("r1")
	if r.MaxConcurrentJobs != 1 {
		t.Errorf("Expected default capacity 1, got %d", r.MaxConcurrentJobs)
	}
	if r.Health != HealthUnknown {
		t.Errorf("Expected unknown health for new runner, got %s", r.Health)
	}
}
