// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package notify

// ring is a fixed-size circular queue that overwrites its oldest item when
// full. It is not safe for concurrent use; Sink guards it.
type ring[T any] struct {
	items    []T
	head     int
	tail     int
	size     int
	capacity int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity <= 0 {
		panic("notify: ring capacity must be positive")
	}
	return &ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// push appends item, reporting whether the oldest item was dropped.
func (r *ring[T]) push(item T) bool {
	dropped := false
	if r.size == r.capacity {
		var zero T
		r.items[r.head] = zero
		r.head = (r.head + 1) % r.capacity
		r.size--
		dropped = true
	}

	r.items[r.tail] = item
	r.tail = (r.tail + 1) % r.capacity
	r.size++
	return dropped
}

func (r *ring[T]) pop() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	item := r.items[r.head]
	r.items[r.head] = zero
	r.head = (r.head + 1) % r.capacity
	r.size--
	return item, true
}

// slice copies the queue contents, oldest first.
func (r *ring[T]) slice() []T {
	out := make([]T, r.size)
	idx := r.head
	for i := range out {
		out[i] = r.items[idx]
		idx = (idx + 1) % r.capacity
	}
	return out
}
