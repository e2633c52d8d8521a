// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package tile

import (
	"testing"

	"github.com/gogpu/vtex/backend"
	"github.com/gogpu/vtex/internal/heap"
)

func TestResource_BootstrapReservesPagesAndSubmits(t *testing.T) {
	h := heap.New(8)
	pool := NewPool(4)
	e := NewEngine(backend.ResourceHandle(1), 3, 4, 4, 2, EngineConfig{}, h, pool)
	r := NewResource(backend.ResourceHandle(1), "res.bin", e)

	if r.Ready() {
		t.Fatal("resource should not be ready before bootstrap")
	}

	if !r.Bootstrap(3, h, pool) {
		t.Fatal("bootstrap should succeed with pages and pool slots available")
	}
	if len(r.PackedPageIndices()) != 3 {
		t.Fatalf("packed pages = %d, want 3", len(r.PackedPageIndices()))
	}
	if r.bootstrapList.State() != Submitted {
		t.Fatalf("bootstrap list state = %v, want Submitted", r.bootstrapList.State())
	}
	if !r.bootstrapList.packed {
		t.Fatal("bootstrap list should be marked packed")
	}

	// A second call, now that bootstrapStarted is set, must be a no-op.
	if !r.Bootstrap(3, h, pool) {
		t.Fatal("repeated bootstrap call should report success without reallocating")
	}
}

func TestResource_BootstrapFailsWhenHeapExhausted(t *testing.T) {
	h := heap.New(2)
	pool := NewPool(4)
	e := NewEngine(backend.ResourceHandle(1), 3, 4, 4, 2, EngineConfig{}, h, pool)
	r := NewResource(backend.ResourceHandle(1), "res.bin", e)

	if r.Bootstrap(3, h, pool) {
		t.Fatal("bootstrap should fail when fewer pages are free than requested")
	}
	if got := h.NumFree(); got != 2 {
		t.Fatalf("heap free after failed bootstrap = %d, want 2 (pages returned)", got)
	}
}

func TestResource_MarkPackedPresentSetsOneShotFlag(t *testing.T) {
	h := heap.New(8)
	pool := NewPool(4)
	e := NewEngine(backend.ResourceHandle(1), 3, 4, 4, 2, EngineConfig{}, h, pool)
	r := NewResource(backend.ResourceHandle(1), "res.bin", e)

	r.markPackedPresent()
	if !r.Ready() {
		t.Fatal("resource should be ready after markPackedPresent")
	}
	if !r.ConsumeNeedsTransition() {
		t.Fatal("first ConsumeNeedsTransition should report true")
	}
	if r.ConsumeNeedsTransition() {
		t.Fatal("second ConsumeNeedsTransition should report false")
	}
}
