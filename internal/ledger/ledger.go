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

// Package ledger tracks resource allocations for in-flight executions.
//
// An allocation is keyed by execution ID. Allocate and Release are both
// idempotent: allocating twice for the same execution returns the
// existing allocation, and releasing an unknown execution is a no-op.
// The ledger is bookkeeping, not admission control; capacity is enforced
// by the runner registry.
package ledger

import (
	"strconv"
	"sync"
	"time"
)

// Allocation records the resources held by one execution.
type Allocation struct {
	ExecutionID string    `json:"execution_id"`
	RunnerID    string    `json:"runner_id"`
	CPUUnits    int       `json:"cpu_units"`
	MemoryMB    int       `json:"memory_mb"`
	AllocatedAt time.Time `json:"allocated_at"`
}

// Policy supplies per-execution resource defaults. Metadata keys
// cpu_units and memory_mb override the defaults when present and valid.
type Policy struct {
	DefaultCPUUnits int `yaml:"default_cpu_units" json:"default_cpu_units"`
	DefaultMemoryMB int `yaml:"default_memory_mb" json:"default_memory_mb"`
}

// Resolve computes the resource request for an execution from its
// metadata, falling back to the policy defaults. Non-numeric or
// non-positive overrides are ignored.
func (p Policy) Resolve(metadata map[string]string) (cpuUnits, memoryMB int) {
	cpuUnits = p.DefaultCPUUnits
	memoryMB = p.DefaultMemoryMB
	if v, err := strconv.Atoi(metadata["cpu_units"]); err == nil && v > 0 {
		cpuUnits = v
	}
	if v, err := strconv.Atoi(metadata["memory_mb"]); err == nil && v > 0 {
		memoryMB = v
	}
	return cpuUnits, memoryMB
}

// Ledger tracks active allocations.
type Ledger struct {
	mu          sync.RWMutex
	allocations map[string]*Allocation
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{allocations: make(map[string]*Allocation)}
}

// Allocate records an allocation for an execution. If one already exists
// it is returned unchanged, so retried assignment paths do not double
// count.
func (l *Ledger) Allocate(executionID, runnerID string, cpuUnits, memoryMB int) *Allocation {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.allocations[executionID]; ok {
		a := *existing
		return &a
	}

	alloc := &Allocation{
		ExecutionID: executionID,
		RunnerID:    runnerID,
		CPUUnits:    cpuUnits,
		MemoryMB:    memoryMB,
		AllocatedAt: time.Now(),
	}
	l.allocations[executionID] = alloc
	a := *alloc
	return &a
}

// Release removes the allocation for an execution and returns it.
// Releasing an unknown or already-released execution is a no-op
// returning false. Exactly one caller observes true for a given
// allocation; that caller owns giving the runner slot back, so a
// cancellation racing the scheduler can never decrement the same
// reservation twice.
func (l *Ledger) Release(executionID string) (*Allocation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	alloc, ok := l.allocations[executionID]
	if !ok {
		return nil, false
	}
	delete(l.allocations, executionID)
	a := *alloc
	return &a, true
}

// Get returns the allocation for an execution, if any.
func (l *Ledger) Get(executionID string) (*Allocation, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	alloc, ok := l.allocations[executionID]
	if !ok {
		return nil, false
	}
	a := *alloc
	return &a, true
}

// List returns all active allocations.
func (l *Ledger) List() []*Allocation {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]*Allocation, 0, len(l.allocations))
	for _, alloc := range l.allocations {
		a := *alloc
		result = append(result, &a)
	}
	return result
}

// Usage sums the allocated resources per runner.
func (l *Ledger) Usage() map[string]Usage {
	l.mu.RLock()
	defer l.mu.RUnlock()

	usage := make(map[string]Usage)
	for _, alloc := range l.allocations {
		u := usage[alloc.RunnerID]
		u.CPUUnits += alloc.CPUUnits
		u.MemoryMB += alloc.MemoryMB
		u.Executions++
		usage[alloc.RunnerID] = u
	}
	return usage
}

// Usage aggregates the resources held against one runner.
type Usage struct {
	CPUUnits   int `json:"cpu_units"`
	MemoryMB   int `json:"memory_mb"`
	Executions int `json:"executions"`
}
