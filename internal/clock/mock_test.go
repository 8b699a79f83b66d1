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
	"testing"
	"time"
)

func TestMock_AdvanceFiresTicker(t *testing.T) {
	c := NewMock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ticker := c.NewTicker(time.Minute)
	defer ticker.Stop()

	c.Advance(30 * time.Second)
	select {
	case <-ticker.C():
		t.Fatal("Expected no tick before the interval elapses")
	default:
	}

	c.Advance(30 * time.Second)
	select {
	case now := <-ticker.C():
		if !now.Equal(time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)) {
			t.Errorf("Unexpected tick time %s", now)
		}
	default:
		t.Fatal("Expected a tick after the interval elapsed")
	}
}

func TestMock_StoppedTickerDoesNotFire(t *testing.T) {
	c := NewMock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ticker := c.NewTicker(time.Minute)
	ticker.Stop()

	c.Advance(5 * time.Minute)
	select {
	case <-ticker.C():
		t.Fatal("Expected no tick from a stopped ticker")
	default:
	}
}

// Stop may race a concurrent Advance, as it does when a loop under test
// shuts down while another goroutine drives the clock.
func TestMock_StopConcurrentWithAdvance(t *testing.T) {
	c := NewMock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	tickers := make([]Ticker, 16)
	for i := range tickers {
		tickers[i] = c.NewTicker(time.Second)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			c.Advance(time.Second)
		}
	}()
	go func() {
		defer wg.Done()
		for _, ticker := range tickers {
			ticker.Stop()
		}
	}()
	wg.Wait()
}
