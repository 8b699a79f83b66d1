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

package scheduler

import (
	"github.com/tombee/foreman/internal/registry"
	"github.com/tombee/foreman/internal/store"
)

// Select picks a runner for an execution from the available set. It is a
// pure function of its inputs so placement decisions are testable in
// isolation.
//
// Selection rules, in order:
//  1. A requested runner ID must match exactly; if that runner is not in
//     the available set, no placement happens this tick.
//  2. A requested runner type narrows the candidates to that type.
//  3. The highest-priority candidate wins, lowest ID breaking ties.
//
// The available set is expected in priority-descending, ID-ascending
// order, as returned by the registry.
func Select(exec *store.Execution, available []*registry.Runner) *registry.Runner {
	if exec.RequestedRunnerID != "" {
		for _, r := range available {
			if r.ID == exec.RequestedRunnerID {
				return r
			}
		}
		return nil
	}

	for _, r := range available {
		if exec.RequestedRunnerType != "" && r.Type != exec.RequestedRunnerType {
			continue
		}
		return r
	}
	return nil
}
