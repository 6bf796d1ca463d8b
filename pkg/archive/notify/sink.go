// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package notify carries human-readable status lines from the archive
// components to whatever presents them.
package notify

import (
	"fmt"
	"sync"
	"time"
)

// DefaultCapacity is the number of messages retained before the oldest is
// dropped.
const DefaultCapacity = 50

// clockLayout renders the capture time prefix.
const clockLayout = "15:04:05"

// Message is one timestamped status line.
type Message struct {
	Time time.Time
	Text string
}

// String renders the message as "[HH:MM:SS] text".
func (m Message) String() string {
	return fmt.Sprintf("[%s] %s", m.Time.Format(clockLayout), m.Text)
}

// Poster is the producer side of a Sink.
type Poster interface {
	Post(text string)
	Postf(format string, args ...any)
}

// Sink is a bounded, non-blocking message queue.
//
// # Description
//
// Post never blocks: when the queue is full the oldest message is dropped
// to make room. Drain is the non-blocking consumer side and is meant to be
// polled at the presenter's own cadence.
//
// # Thread Safety
//
// Sink is safe for concurrent use from any number of producers and
// consumers.
//
// # Example
//
//	sink := notify.NewSink(0)
//	sink.Post("Archive ready")
//	if msg, ok := sink.Drain(); ok {
//	    fmt.Println(msg) // [14:03:12] Archive ready
//	}
type Sink struct {
	mu      sync.Mutex
	queue   *ring[Message]
	dropped int64
	now     func() time.Time
}

// Compile-time interface satisfaction check
var _ Poster = (*Sink)(nil)

// NewSink creates a Sink holding up to capacity messages. Non-positive
// capacity selects DefaultCapacity.
func NewSink(capacity int) *Sink {
	return NewSinkWithClock(capacity, time.Now)
}

// NewSinkWithClock is NewSink with an injected clock.
func NewSinkWithClock(capacity int, now func() time.Time) *Sink {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if now == nil {
		now = time.Now
	}
	return &Sink{
		queue: newRing[Message](capacity),
		now:   now,
	}
}

// Post enqueues text stamped with the current clock reading.
func (s *Sink) Post(text string) {
	msg := Message{Time: s.now(), Text: text}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue.push(msg) {
		s.dropped++
	}
}

// Postf formats and posts a message.
func (s *Sink) Postf(format string, args ...any) {
	s.Post(fmt.Sprintf(format, args...))
}

// Drain removes and returns the oldest message. The bool is false when the
// queue is empty.
func (s *Sink) Drain() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.pop()
}

// Pending returns a copy of the queued messages without consuming them.
func (s *Sink) Pending() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.slice()
}

// Len returns the number of queued messages.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.size
}

// Dropped returns how many messages were discarded because the queue was
// full.
func (s *Sink) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
