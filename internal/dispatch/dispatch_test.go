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

package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tombee/foreman/internal/registry"
	"github.com/tombee/foreman/internal/store"
)

type fakeAdapter struct {
	typ      string
	triggers int
	err      error
}

func (f *fakeAdapter) Type() string { return f.typ }

func (f *fakeAdapter) Trigger(ctx context.Context, exec *store.Execution, runner *registry.Runner) (*RunHandle, error) {
	f.triggers++
	if f.err != nil {
		return nil, f.err
	}
	return &RunHandle{RunID: "run-1"}, nil
}

func TestRegistry_ForRunner(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeAdapter{typ: "docker"}, 0)

	adapter, err := reg.ForRunner(&registry.Runner{ID: "r1", Type: "docker"})
	if err != nil {
		t.Fatalf("ForRunner failed: %v", err)
	}
	if adapter.Type() != "docker" {
		t.Errorf("Expected docker adapter, got %s", adapter.Type())
	}

	if _, err := reg.ForRunner(&registry.Runner{ID: "r2", Type: "jenkins"}); err == nil {
		t.Error("Expected error for unregistered type")
	}
}

func TestRegistry_RateLimitedAdapterKeepsCapabilities(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeAdapter{typ: "docker"}, 100)

	adapter, err := reg.ForRunner(&registry.Runner{ID: "r1", Type: "docker"})
	if err != nil {
		t.Fatalf("ForRunner failed: %v", err)
	}

	exec := &store.Execution{ID: "exec-1", Suite: "unit", Environment: "ci"}
	handle, err := adapter.Trigger(context.Background(), exec, &registry.Runner{ID: "r1", Type: "docker"})
	if err != nil {
		t.Fatalf("Trigger failed: %v", err)
	}
	if handle.RunID != "run-1" {
		t.Errorf("Unexpected handle: %+v", handle)
	}

	// Cancel on a limited adapter whose inner adapter has no Canceller is
	// a no-op, not a panic.
	if c, ok := adapter.(Canceller); ok {
		if err := c.Cancel(context.Background(), exec, &registry.Runner{ID: "r1"}); err != nil {
			t.Errorf("Cancel failed: %v", err)
		}
	}
}

func TestRegistry_RateLimiterBlocksBurst(t *testing.T) {
	reg := NewRegistry()
	fake := &fakeAdapter{typ: "jenkins"}
	reg.Register(fake, 5) // 5/s, burst 1

	adapter, _ := reg.ForRunner(&registry.Runner{ID: "r1", Type: "jenkins"})
	exec := &store.Execution{ID: "exec-1"}
	runner := &registry.Runner{ID: "r1", Type: "jenkins"}

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := adapter.Trigger(context.Background(), exec, runner); err != nil {
			t.Fatalf("Trigger %d failed: %v", i, err)
		}
	}
	// Burst 1 at 5/s means the second and third trigger each wait ~200ms.
	if elapsed := time.Since(start); elapsed < 300*time.Millisecond {
		t.Errorf("Expected rate limiting to spread triggers, took %v", elapsed)
	}
	if fake.triggers != 3 {
		t.Errorf("Expected 3 triggers, got %d", fake.triggers)
	}
}

func TestRegistry_RateLimiterHonoursContext(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeAdapter{typ: "jenkins"}, 0.001)

	adapter, _ := reg.ForRunner(&registry.Runner{ID: "r1", Type: "jenkins"})
	exec := &store.Execution{ID: "exec-1"}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	adapter.Trigger(ctx, exec, &registry.Runner{ID: "r1", Type: "jenkins"})
	_, err := adapter.Trigger(ctx, exec, &registry.Runner{ID: "r1", Type: "jenkins"})
	var derr *Error
	if !errors.As(err, &derr) {
		t.Fatalf("Expected dispatch Error on cancelled wait, got %v", err)
	}
}

func TestError_Unwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := NewError("jenkins", "exec-1", "trigger failed", inner)

	if !errors.Is(err, inner) {
		t.Error("Expected errors.Is to find the wrapped error")
	}
	var derr *Error
	if !errors.As(error(err), &derr) || derr.Backend != "jenkins" {
		t.Errorf("Unexpected error details: %+v", derr)
	}
}

func TestResolveToken(t *testing.T) {
	t.Setenv("FOREMAN_TEST_TOKEN", "from-env")
	t.Setenv("FALLBACK_TOKEN", "fallback")

	tests := []struct {
		name     string
		settings map[string]string
		want     string
	}{
		{"literal wins", map[string]string{"token": "literal", "token_env": "FOREMAN_TEST_TOKEN"}, "literal"},
		{"token_env", map[string]string{"token_env": "FOREMAN_TEST_TOKEN"}, "from-env"},
		{"fallback env", map[string]string{}, "fallback"},
		{"unset token_env falls through", map[string]string{"token_env": "FOREMAN_UNSET_TOKEN"}, "fallback"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolveToken(tt.settings, "FALLBACK_TOKEN"); got != tt.want {
				t.Errorf("resolveToken() = %q, want %q", got, tt.want)
			}
		})
	}
}
