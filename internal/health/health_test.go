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

package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tombee/foreman/internal/clock"
	"github.com/tombee/foreman/internal/events"
	"github.com/tombee/foreman/internal/registry"
)

// flakyProber fails for runner IDs in the fail set.
type flakyProber struct {
	fail map[string]bool
}

func (p *flakyProber) Probe(ctx context.Context, runner *registry.Runner) error {
	if p.fail[runner.ID] {
		return &CheckError{RunnerID: runner.ID, Err: errors.New("connection refused")}
	}
	return nil
}

func TestHTTPProber_Probe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/down" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	prober := NewHTTPProber(srv.Client(), time.Second)

	if err := prober.Probe(context.Background(), &registry.Runner{ID: "up", HealthCheckURL: srv.URL + "/healthz"}); err != nil {
		t.Errorf("Expected healthy, got %v", err)
	}

	err := prober.Probe(context.Background(), &registry.Runner{ID: "down", HealthCheckURL: srv.URL + "/down"})
	var cerr *CheckError
	if !errors.As(err, &cerr) {
		t.Fatalf("Expected CheckError, got %v", err)
	}
	if cerr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503 recorded, got %d", cerr.StatusCode)
	}
}

func TestHTTPProber_NoURLIsHealthy(t *testing.T) {
	prober := NewHTTPProber(nil, time.Second)
	if err := prober.Probe(context.Background(), &registry.Runner{ID: "r1"}); err != nil {
		t.Errorf("Expected runner without URL healthy, got %v", err)
	}
}

func TestMonitor_CheckAll_UpdatesRegistry(t *testing.T) {
	runners := registry.New()
	runners.Register(registry.Runner{ID: "good", Type: "docker"})
	runners.Register(registry.Runner{ID: "bad", Type: "docker"})

	m := New(Config{}, runners, &flakyProber{fail: map[string]bool{"bad": true}}, nil, nil)
	m.CheckAll(context.Background())

	good, _ := runners.Get("good")
	if good.Health != registry.HealthHealthy {
		t.Errorf("Expected good healthy, got %s", good.Health)
	}
	bad, _ := runners.Get("bad")
	if bad.Health != registry.HealthUnhealthy {
		t.Errorf("Expected bad unhealthy, got %s", bad.Health)
	}
	if bad.LastCheckError == "" {
		t.Error("Expected probe error recorded")
	}
}

func TestMonitor_FailureIsolation(t *testing.T) {
	runners := registry.New()
	// ID order puts the failing runner first in the pass.
	runners.Register(registry.Runner{ID: "a-bad", Type: "docker"})
	runners.Register(registry.Runner{ID: "b-good", Type: "docker"})

	m := New(Config{}, runners, &flakyProber{fail: map[string]bool{"a-bad": true}}, nil, nil)
	m.CheckAll(context.Background())

	good, _ := runners.Get("b-good")
	if good.Health != registry.HealthHealthy {
		t.Errorf("Expected later runner still probed, got %s", good.Health)
	}
}

func TestMonitor_PublishesTransitionEvents(t *testing.T) {
	runners := registry.New()
	runners.Register(registry.Runner{ID: "r1", Type: "docker"})

	bus := events.NewBus()
	ch, unsub := bus.Subscribe(8)
	defer unsub()

	prober := &flakyProber{fail: map[string]bool{}}
	m := New(Config{}, runners, prober, bus, nil)

	// unknown -> healthy publishes
	m.CheckAll(context.Background())
	// healthy -> healthy does not
	m.CheckAll(context.Background())
	// healthy -> unhealthy publishes
	prober.fail["r1"] = true
	m.CheckAll(context.Background())

	var types []events.EventType
	for len(ch) > 0 {
		types = append(types, (<-ch).Type)
	}
	want := []events.EventType{events.EventRunnerHealthy, events.EventRunnerUnhealthy}
	if len(types) != len(want) {
		t.Fatalf("Expected %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("Event %d: expected %s, got %s", i, want[i], types[i])
		}
	}
}

func TestMonitor_LoopDrivenByClock(t *testing.T) {
	runners := registry.New()
	runners.Register(registry.Runner{ID: "r1", Type: "docker"})

	clk := clock.NewMock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	m := New(Config{Interval: 2 * time.Minute}, runners, &flakyProber{}, nil, clk)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	deadline := time.After(2 * time.Second)
	for {
		r, _ := runners.Get("r1")
		if r.Health == registry.HealthHealthy {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("Runner never probed, health %s", r.Health)
		case <-time.After(5 * time.Millisecond):
		}
	}
}
