// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

// Package worker provides a dedicated-OS-thread abstraction used by the
// tile residency engine's submit and fence-monitor threads (§4.5.1) and by
// the TileUpdateManager's feedback-processing thread (§4.7).
//
// Each of those threads serializes a stream of closures onto one
// OS-locked goroutine. Locking matters here for the same reason it matters
// in a render thread: a MappingBackend talking to a real graphics API
// often requires all calls against one device queue to originate from a
// single, stable OS thread.
package worker

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Thread runs a dedicated OS thread that executes submitted closures one
// at a time, in submission order.
type Thread struct {
	funcs   chan func()
	done    chan struct{}
	running atomic.Bool
}

// New creates a thread and starts it. The goroutine backing it is locked
// to its OS thread for the lifetime of the Thread.
func New() *Thread {
	t := &Thread{
		funcs: make(chan func(), 16), // buffered so CallAsync rarely blocks
		done:  make(chan struct{}),
	}
	t.running.Store(true)

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		wg.Done()

		for {
			select {
			case f := <-t.funcs:
				f()
			case <-t.done:
				return
			}
		}
	}()

	wg.Wait()
	return t
}

// Call executes f on the thread and waits for its result. Returns nil if
// the thread has already been stopped.
func (t *Thread) Call(f func() any) any {
	if !t.running.Load() {
		return nil
	}

	done := make(chan any, 1)
	t.funcs <- func() {
		done <- f()
	}
	return <-done
}

// CallVoid executes f on the thread and waits for completion.
func (t *Thread) CallVoid(f func()) {
	if !t.running.Load() {
		return
	}

	done := make(chan struct{})
	t.funcs <- func() {
		f()
		close(done)
	}
	<-done
}

// CallAsync queues f for execution without waiting. If the queue is
// briefly full, it falls back to a synchronous call (CallVoid).
func (t *Thread) CallAsync(f func()) {
	if !t.running.Load() {
		return
	}

	select {
	case t.funcs <- f:
	default:
		t.CallVoid(f)
	}
}

// Stop halts the thread. Safe to call more than once.
func (t *Thread) Stop() {
	if t.running.Swap(false) {
		close(t.done)
	}
}

// IsRunning reports whether the thread is still accepting work.
func (t *Thread) IsRunning() bool {
	return t.running.Load()
}
