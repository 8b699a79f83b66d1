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

package events

import (
	"testing"
	"time"
)

func TestBus_PublishDeliversToSubscribers(t *testing.T) {
	b := NewBus()
	ch1, unsub1 := b.Subscribe(4)
	ch2, unsub2 := b.Subscribe(4)
	defer unsub1()
	defer unsub2()

	b.Publish(Event{Type: EventExecutionQueued, ExecutionID: "exec-1"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case evt := <-ch:
			if evt.Type != EventExecutionQueued || evt.ExecutionID != "exec-1" {
				t.Errorf("Unexpected event: %+v", evt)
			}
			if evt.Timestamp.IsZero() {
				t.Error("Expected timestamp stamped on publish")
			}
		case <-time.After(time.Second):
			t.Fatal("Timed out waiting for event")
		}
	}
}

func TestBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{Type: EventExecutionRunning})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	if b.Dropped() != 9 {
		t.Errorf("Expected 9 dropped events, got %d", b.Dropped())
	}
	// The one buffered event is still deliverable.
	select {
	case <-ch:
	default:
		t.Error("Expected one buffered event")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(1)

	unsub()
	unsub() // double unsubscribe is safe

	if _, ok := <-ch; ok {
		t.Error("Expected channel closed after unsubscribe")
	}

	// Publishing after unsubscribe neither panics nor counts drops.
	b.Publish(Event{Type: EventRunnerHealthy})
	if b.Dropped() != 0 {
		t.Errorf("Expected no drops, got %d", b.Dropped())
	}
}
