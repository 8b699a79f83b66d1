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

// Package events provides the lifecycle event bus.
//
// Publishers never block: each subscriber has a buffered channel, and an
// event that would overflow a subscriber's buffer is dropped and counted
// rather than stalling the scheduler or health loops.
package events

import (
	"sync"
	"time"
)

// EventType identifies the type of event.
type EventType string

const (
	EventExecutionQueued    EventType = "execution.queued"
	EventExecutionAssigned  EventType = "execution.assigned"
	EventExecutionRunning   EventType = "execution.running"
	EventExecutionCompleted EventType = "execution.completed"
	EventExecutionFailed    EventType = "execution.failed"
	EventExecutionCancelled EventType = "execution.cancelled"
	EventRunnerHealthy      EventType = "runner.healthy"
	EventRunnerUnhealthy    EventType = "runner.unhealthy"
)

// Event is one lifecycle notification.
type Event struct {
	Type        EventType
	Timestamp   time.Time
	ExecutionID string
	RunnerID    string
	Data        any // Type depends on EventType
}

// DefaultBufferSize is the per-subscriber channel buffer used when
// Subscribe is called with a non-positive size.
const DefaultBufferSize = 64

// Bus fans events out to subscribers.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	nextID  int
	dropped uint64
}

// NewBus creates an event bus with no subscribers.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns its channel plus an
// unsubscribe function. The channel is closed on unsubscribe.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	b.subs[id] = ch
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// Publish delivers an event to every subscriber that has buffer space.
// Subscribers that are full miss the event; the drop is counted.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.dropped++
		}
	}
}

// Dropped returns the number of events dropped due to full subscriber
// buffers since the bus was created.
func (b *Bus) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}
