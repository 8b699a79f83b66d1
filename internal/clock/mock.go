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

package clock

import (
	"sync"
	"time"
)

// Mock is a Clock implementation for tests that allows manual time control.
type Mock struct {
	mu      sync.Mutex
	current time.Time
	tickers []*mockTicker
}

// NewMock returns a new Mock set to the given time.
func NewMock(t time.Time) *Mock {
	return &Mock{current: t}
}

// Now returns the mock's current time.
func (c *Mock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Since returns the time elapsed since t.
func (c *Mock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Advance moves the mock clock forward by d, firing any tickers that
// become due. Ticker channels are buffered; a tick that finds the buffer
// full is dropped, matching time.Ticker semantics.
func (c *Mock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	for _, t := range c.tickers {
		if t.stopped {
			continue
		}
		for !c.current.Before(t.next) {
			select {
			case t.ch <- c.current:
			default:
			}
			t.next = t.next.Add(t.interval)
		}
	}
}

// NewTicker returns a mock Ticker driven by Advance.
func (c *Mock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &mockTicker{
		clock:    c,
		ch:       make(chan time.Time, 1),
		interval: d,
		next:     c.current.Add(d),
	}
	c.tickers = append(c.tickers, t)
	return t
}

// After returns a channel that receives the time once Advance has moved
// the clock past d.
func (c *Mock) After(d time.Duration) <-chan time.Time {
	return c.NewTicker(d).C()
}

// mockTicker implements Ticker for tests. The stopped and next fields
// are guarded by the owning Mock's mutex; Advance reads them under it.
type mockTicker struct {
	clock    *Mock
	ch       chan time.Time
	interval time.Duration
	next     time.Time
	stopped  bool
}

func (t *mockTicker) C() <-chan time.Time {
	return t.ch
}

func (t *mockTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.stopped = true
}
