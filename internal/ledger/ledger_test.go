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

package ledger

import "testing"

func TestLedger_AllocateAndRelease(t *testing.T) {
	l := New()

	alloc := l.Allocate("exec-1", "runner-1", 2, 1024)
	if alloc.ExecutionID != "exec-1" || alloc.RunnerID != "runner-1" {
		t.Errorf("Unexpected allocation: %+v", alloc)
	}
	if alloc.AllocatedAt.IsZero() {
		t.Error("Expected AllocatedAt to be set")
	}

	got, ok := l.Get("exec-1")
	if !ok || got.CPUUnits != 2 || got.MemoryMB != 1024 {
		t.Errorf("Expected allocation retrievable, got %+v ok=%v", got, ok)
	}

	l.Release("exec-1")
	if _, ok := l.Get("exec-1"); ok {
		t.Error("Expected allocation removed after release")
	}
}

func TestLedger_Allocate_Idempotent(t *testing.T) {
	l := New()

	first := l.Allocate("exec-1", "runner-1", 2, 1024)
	second := l.Allocate("exec-1", "runner-2", 8, 4096)

	if second.RunnerID != first.RunnerID || second.CPUUnits != first.CPUUnits {
		t.Errorf("Expected duplicate Allocate to return existing allocation, got %+v", second)
	}
	if len(l.List()) != 1 {
		t.Errorf("Expected 1 allocation, got %d", len(l.List()))
	}
}

func TestLedger_Release_Idempotent(t *testing.T) {
	l := New()
	l.Allocate("exec-1", "runner-1", 1, 512)

	alloc, ok := l.Release("exec-1")
	if !ok || alloc.RunnerID != "runner-1" {
		t.Fatalf("Expected first release to return the allocation, got %+v ok=%v", alloc, ok)
	}
	if _, ok := l.Release("exec-1"); ok {
		t.Error("Expected repeat release to report nothing removed")
	}
	if _, ok := l.Release("never-allocated"); ok {
		t.Error("Expected release of unknown execution to report nothing removed")
	}

	if len(l.List()) != 0 {
		t.Errorf("Expected empty ledger, got %d allocations", len(l.List()))
	}
}

func TestLedger_Usage(t *testing.T) {
	l := New()
	l.Allocate("exec-1", "runner-1", 2, 1024)
	l.Allocate("exec-2", "runner-1", 4, 2048)
	l.Allocate("exec-3", "runner-2", 1, 512)

	usage := l.Usage()
	r1 := usage["runner-1"]
	if r1.CPUUnits != 6 || r1.MemoryMB != 3072 || r1.Executions != 2 {
		t.Errorf("Unexpected runner-1 usage: %+v", r1)
	}
	if usage["runner-2"].Executions != 1 {
		t.Errorf("Unexpected runner-2 usage: %+v", usage["runner-2"])
	}
}

func TestPolicy_Resolve(t *testing.T) {
	p := Policy{DefaultCPUUnits: 2, DefaultMemoryMB: 1024}

	tests := []struct {
		name     string
		metadata map[string]string
		wantCPU  int
		wantMem  int
	}{
		{"defaults", nil, 2, 1024},
		{"override both", map[string]string{"cpu_units": "8", "memory_mb": "4096"}, 8, 4096},
		{"override cpu only", map[string]string{"cpu_units": "4"}, 4, 1024},
		{"non-numeric ignored", map[string]string{"cpu_units": "lots"}, 2, 1024},
		{"non-positive ignored", map[string]string{"memory_mb": "-1"}, 2, 1024},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cpu, mem := p.Resolve(tt.metadata)
			if cpu != tt.wantCPU || mem != tt.wantMem {
				t.Errorf("Resolve() = (%d, %d), want (%d, %d)", cpu, mem, tt.wantCPU, tt.wantMem)
			}
		})
	}
}
