// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package coordinator

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// PanicInfo describes a recovered task panic.
type PanicInfo struct {
	// Value is what the task passed to panic().
	Value any

	// Stack is the goroutine stack at recovery time.
	Stack string
}

// Pool runs fire-and-forget tasks with bounded concurrency.
//
// # Description
//
// Go returns immediately; the task waits for one of the pool's slots in
// its own goroutine. Panics are recovered and handed to onPanic instead
// of crashing the process. A task whose context is cancelled while it
// waits for a slot is dropped without running.
//
// # Thread Safety
//
// Pool is safe for concurrent use.
//
// # Example
//
//	pool := NewPool(4, func(p PanicInfo) { logger.Error("task panic", "value", p.Value) })
//	_ = pool.Go(ctx, func(ctx context.Context) { persist(ctx) })
//	pool.Close(5 * time.Second)
type Pool struct {
	sem     *semaphore.Weighted
	onPanic func(PanicInfo)

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool creates a pool with the given number of slots (minimum 1).
func NewPool(workers int, onPanic func(PanicInfo)) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		sem:     semaphore.NewWeighted(int64(workers)),
		onPanic: onPanic,
	}
}

// Go schedules task. It returns ErrShutdown once Close has been called.
func (p *Pool) Go(ctx context.Context, task func(context.Context)) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrShutdown
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer p.sem.Release(1)
		defer p.recoverTask()
		task(ctx)
	}()
	return nil
}

func (p *Pool) recoverTask() {
	r := recover()
	if r == nil {
		return
	}
	if p.onPanic != nil {
		p.onPanic(PanicInfo{Value: r, Stack: string(debug.Stack())})
	}
}

// Close stops accepting tasks and waits up to timeout for running ones.
// It reports whether every task finished in time.
func (p *Pool) Close(timeout time.Duration) bool {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
