// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backup holds payloads that could not be written to disk.
//
// The buffer is a last-resort tier bounded in both entry count and bytes.
// Nothing is ever flushed back to disk; the buffer exists to bound memory
// while keeping the most recent failures inspectable.
package backup

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultCapacity is the maximum number of retained entries.
	DefaultCapacity = 50

	// DefaultBudget is the maximum cumulative payload size in bytes (100 MiB).
	DefaultBudget int64 = 100 * 1024 * 1024
)

// ErrEntryTooLarge is returned when a single payload exceeds the byte budget.
var ErrEntryTooLarge = errors.New("backup entry exceeds byte budget")

// =============================================================================
// Types
// =============================================================================

// Entry is one spilled payload.
type Entry struct {
	// ID identifies the entry in logs and notices.
	ID string

	// Data is the buffer's own copy of the payload.
	Data []byte

	// AddedAt is when the entry was appended.
	AddedAt time.Time
}

// Size returns len(Data) as int64.
func (e Entry) Size() int64 {
	return int64(len(e.Data))
}

// Buffer is a FIFO of spilled payloads with a count cap and a byte budget.
//
// # Description
//
// Append evicts in two phases. If the buffer already holds capacity
// entries, the oldest one is evicted unconditionally. Then, while the new
// payload would push the cumulative size past the budget, the oldest
// remaining entry is evicted. The new payload is appended last. A single
// large payload may therefore evict several small ones.
//
// # Thread Safety
//
// Buffer is safe for concurrent use. Every mutation happens under one
// mutex, so callers never observe a partially evicted state.
//
// # Limitations
//
//   - No read-back or drain; Snapshot is for inspection only
//   - Entries are lost on process exit
type Buffer struct {
	mu       sync.Mutex
	entries  []Entry
	head     int
	size     int
	capacity int
	budget   int64
	total    int64
	evicted  int64
	now      func() time.Time
}

// New creates a Buffer. Non-positive arguments select DefaultCapacity and
// DefaultBudget.
func New(capacity int, budget int64) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Buffer{
		entries:  make([]Entry, capacity),
		capacity: capacity,
		budget:   budget,
		now:      time.Now,
	}
}

// Append copies data into the buffer, evicting older entries as needed.
//
// # Inputs
//
//   - data: Payload to retain. The caller keeps ownership of the slice.
//
// # Outputs
//
//   - Entry: The stored entry
//   - error: ErrEntryTooLarge if len(data) exceeds the whole budget; the
//     buffer is left untouched in that case
//
// # Examples
//
//	buf := backup.New(0, 0)
//	entry, err := buf.Append(payload)
//	if err != nil {
//	    logger.Error("spill refused", "error", err)
//	}
//
// # Assumptions
//
//   - Empty payloads are filtered by the caller; they are stored as-is
func (b *Buffer) Append(data []byte) (Entry, error) {
	if int64(len(data)) > b.budget {
		return Entry{}, fmt.Errorf("%w: %d > %d bytes", ErrEntryTooLarge, len(data), b.budget)
	}

	entry := Entry{
		ID:      uuid.NewString(),
		Data:    append([]byte(nil), data...),
		AddedAt: b.now(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size == b.capacity {
		b.popLocked()
	}
	for b.size > 0 && b.total+entry.Size() > b.budget {
		b.popLocked()
	}

	b.entries[(b.head+b.size)%b.capacity] = entry
	b.size++
	b.total += entry.Size()
	return entry, nil
}

// popLocked evicts the oldest entry. Callers hold mu and ensure size > 0.
func (b *Buffer) popLocked() {
	old := b.entries[b.head]
	b.entries[b.head] = Entry{}
	b.head = (b.head + 1) % b.capacity
	b.size--
	b.total -= old.Size()
	b.evicted++
}

// Len returns the number of retained entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// TotalBytes returns the cumulative size of retained entries.
func (b *Buffer) TotalBytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Evicted returns how many entries have been evicted since creation.
func (b *Buffer) Evicted() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.evicted
}

// Capacity returns the entry cap.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// Budget returns the byte budget.
func (b *Buffer) Budget() int64 {
	return b.budget
}

// Snapshot returns copies of the retained entries, oldest first.
func (b *Buffer) Snapshot() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Entry, b.size)
	for i := 0; i < b.size; i++ {
		e := b.entries[(b.head+i)%b.capacity]
		e.Data = append([]byte(nil), e.Data...)
		out[i] = e
	}
	return out
}
