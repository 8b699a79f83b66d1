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

// Package registry provides the runner registry.
//
// The registry is the single logical owner of runner state. Job count
// changes go through Reserve and Release, which are serialized by one
// mutex, so a runner's capacity can never be oversubscribed even when
// scheduler ticks race with inbound completion signals. Health state is
// mutated only through SetHealth, which the health monitor calls.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// HealthStatus represents a runner's last observed health.
type HealthStatus string

const (
	// HealthHealthy means the last probe succeeded.
	HealthHealthy HealthStatus = "healthy"
	// HealthUnhealthy means the last probe failed.
	HealthUnhealthy HealthStatus = "unhealthy"
	// HealthUnknown means the runner has not been probed yet.
	HealthUnknown HealthStatus = "unknown"
)

// ErrAtCapacity is returned by Reserve when a runner has no remaining
// job slots. It signals normal backpressure, not a failure.
var ErrAtCapacity = errors.New("runner at capacity")

// Runner represents one execution backend instance.
type Runner struct {
	ID                string            `json:"id" yaml:"id"`
	Name              string            `json:"name" yaml:"name"`
	Type              string            `json:"type" yaml:"type"`
	Priority          int               `json:"priority" yaml:"priority"`
	MaxConcurrentJobs int               `json:"max_concurrent_jobs" yaml:"max_concurrent_jobs"`
	HealthCheckURL    string            `json:"health_check_url,omitempty" yaml:"health_check_url,omitempty"`
	Settings          map[string]string `json:"settings,omitempty" yaml:"settings,omitempty"`

	// Mutable state, owned by the registry.
	Health           HealthStatus  `json:"health"`
	LastCheckLatency time.Duration `json:"last_check_latency,omitempty"`
	LastCheckError   string        `json:"last_check_error,omitempty"`
	CurrentJobs      int           `json:"current_jobs"`
}

// Clone returns a copy of the runner safe to hand to callers.
func (r *Runner) Clone() *Runner {
	c := *r
	if r.Settings != nil {
		c.Settings = make(map[string]string, len(r.Settings))
		for k, v := range r.Settings {
			c.Settings[k] = v
		}
	}
	return &c
}

// HasCapacity reports whether the runner can accept another job.
func (r *Runner) HasCapacity() bool {
	return r.CurrentJobs < r.MaxConcurrentJobs
}

// Registry holds the known runners.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]*Runner
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{runners: make(map[string]*Runner)}
}

// Register adds a runner or replaces an existing definition with the same
// ID. Mutable state (health, job count) of an existing runner is
// preserved so a definition reload does not lose in-flight accounting.
func (g *Registry) Register(def Runner) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if def.MaxConcurrentJobs <= 0 {
		def.MaxConcurrentJobs = 1
	}

	if existing, ok := g.runners[def.ID]; ok {
		def.Health = existing.Health
		def.LastCheckLatency = existing.LastCheckLatency
		def.LastCheckError = existing.LastCheckError
		def.CurrentJobs = existing.CurrentJobs
	} else if def.Health == "" {
		def.Health = HealthUnknown
	}
	g.runners[def.ID] = &def
}

// Remove deletes a runner from the registry.
func (g *Registry) Remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.runners, id)
}

// Get returns a runner by ID.
func (g *Registry) Get(id string) (*Runner, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.runners[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// List returns all registered runners, ordered by ID for determinism.
func (g *Registry) List() []*Runner {
	g.mu.RLock()
	defer g.mu.RUnlock()

	result := make([]*Runner, 0, len(g.runners))
	for _, r := range g.runners {
		result = append(result, r.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// ListAvailable returns runners that are healthy and have remaining
// capacity, ordered by priority descending with ID as tie-break.
func (g *Registry) ListAvailable() []*Runner {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var result []*Runner
	for _, r := range g.runners {
		if r.Health == HealthHealthy && r.HasCapacity() {
			result = append(result, r.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Priority != result[j].Priority {
			return result[i].Priority > result[j].Priority
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// Reserve increments a runner's job count. The check and increment happen
// under one lock, so concurrent callers can never push the count past
// MaxConcurrentJobs. Returns ErrAtCapacity when no slot remains.
func (g *Registry) Reserve(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.runners[id]
	if !ok {
		return fmt.Errorf("runner not found: %s", id)
	}
	if !r.HasCapacity() {
		return ErrAtCapacity
	}
	r.CurrentJobs++
	return nil
}

// Release decrements a runner's job count. The count floors at zero so a
// duplicate release never goes negative.
func (g *Registry) Release(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.runners[id]
	if !ok {
		return
	}
	if r.CurrentJobs > 0 {
		r.CurrentJobs--
	}
}

// SetHealth records the outcome of a health probe.
func (g *Registry) SetHealth(id string, status HealthStatus, latency time.Duration, probeErr string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.runners[id]
	if !ok {
		return
	}
	r.Health = status
	r.LastCheckLatency = latency
	r.LastCheckError = probeErr
}
