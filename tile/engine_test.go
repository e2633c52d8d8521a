// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package tile

import (
	"testing"

	"github.com/gogpu/vtex/backend"
	"github.com/gogpu/vtex/internal/heap"
)

func newTestEngine(t *testing.T, m, w0, h0, swapBuffers, heapCap, poolCap int) *Engine {
	t.Helper()
	h := heap.New(heapCap)
	p := NewPool(poolCap)
	return NewEngine(backend.ResourceHandle(1), m, w0, h0, swapBuffers, EngineConfig{MaxLoadsPerBatch: 64}, h, p)
}

// TestNewEngine_EvictionDelayDepth verifies the ring's depth comes from
// cfg.EvictionDelayDepth when set, instead of always being swapBuffers+1.
func TestNewEngine_EvictionDelayDepth(t *testing.T) {
	h := heap.New(64)
	p := NewPool(4)

	e := NewEngine(backend.ResourceHandle(1), 2, 1, 1, 2, EngineConfig{EvictionDelayDepth: 5}, h, p)
	if got := e.Ring().Depth(); got != 5 {
		t.Fatalf("ring depth = %d, want 5 (from EvictionDelayDepth)", got)
	}

	// Zero/unset falls back to swapBuffers+1 (§6 default).
	e = NewEngine(backend.ResourceHandle(1), 2, 1, 1, 2, EngineConfig{}, h, p)
	if got := e.Ring().Depth(); got != 3 {
		t.Fatalf("ring depth with unset EvictionDelayDepth = %d, want 3 (swapBuffers+1)", got)
	}
}

// S1 (Cold load): a region requests a finer mip than currently resident;
// the engine must add_ref the coarse-to-fine chain, surface a pending
// load, and, once QueueTiles is called, hand a non-empty UpdateList
// back with that load recorded.
func TestEngine_S1_ColdLoad(t *testing.T) {
	e := newTestEngine(t, 3, 4, 4, 2, 64, 4)

	feedback := make([]uint8, 4*4)
	feedback[0] = 0 // region (0,0) wants mip 0, the finest
	for i := 1; i < len(feedback); i++ {
		feedback[i] = uint8(e.m)
	}
	e.QueueFeedback(feedback, 1)
	e.ProcessFeedback(1)

	if got := e.Stats().PendingLoads; got != 3 {
		t.Fatalf("pending loads after cold request = %d, want 3 (mips 2,1,0)", got)
	}

	e.QueueTiles()

	var list *UpdateList
	for _, it := range e.pool.AllItems() {
		if it.State() == Submitted {
			list = it
		}
	}
	if list == nil {
		t.Fatal("expected a Submitted UpdateList after QueueTiles")
	}
	if len(list.Loads()) != 3 {
		t.Fatalf("submitted loads = %d, want 3", len(list.Loads()))
	}
	for _, ld := range list.Loads() {
		if e.state.Residency(ld.Coord) != Loading {
			t.Errorf("coord %+v residency = %v, want Loading", ld.Coord, e.state.Residency(ld.Coord))
		}
	}
}

// S2 (Dependency order): SetMinMip toward a finer mip must add_ref the
// coarser ancestors before the finest tile, so a coarse tile is never
// left wanted-but-not-loading while a finer descendant is already queued.
func TestEngine_S2_DependencyOrder(t *testing.T) {
	e := newTestEngine(t, 3, 2, 2, 2, 64, 4)

	e.setMinMip(0, 0, e.m, 0)

	for s := e.m - 1; s >= 0; s-- {
		c := Coord{X: 0 >> uint(s), Y: 0 >> uint(s), S: s}
		if e.state.Refcount(c) != 1 {
			t.Errorf("mip %d refcount = %d, want 1", s, e.state.Refcount(c))
		}
		if e.state.Residency(c) != NotResident {
			t.Errorf("mip %d residency = %v before any load completes, want NotResident", s, e.state.Residency(c))
		}
	}

	want := []Coord{{X: 0, Y: 0, S: 2}, {X: 0, Y: 0, S: 1}, {X: 0, Y: 0, S: 0}}
	if len(e.pendingLoads) != len(want) {
		t.Fatalf("pending loads = %v, want %v (coarse to fine)", e.pendingLoads, want)
	}
	for i, c := range want {
		if e.pendingLoads[i] != c {
			t.Errorf("pending load %d = %+v, want %+v (coarse to fine)", i, e.pendingLoads[i], c)
		}
	}
}

// S3 (Rescue): a tile queued for eviction that becomes wanted again before
// its delay expires must be pulled back out of the ring rather than
// evicted.
func TestEngine_S3_Rescue(t *testing.T) {
	e := newTestEngine(t, 1, 1, 1, 2, 64, 4)

	c := Coord{X: 0, Y: 0, S: 0}
	e.addRef(c)
	e.state.SetResident(c) // simulate completed load
	e.decRef(c)            // queues c into the ring's newest bucket

	e.addRef(c) // wanted again before eviction fires
	e.ring.Rescue(e.state)

	for _, bucket := range e.ring.buckets {
		for _, rc := range bucket {
			if rc == c {
				t.Fatalf("coord %+v should have been rescued out of the ring", c)
			}
		}
	}
	if e.state.Refcount(c) == 0 {
		t.Fatal("rescued coord should have nonzero refcount")
	}
}

// S5 (Heap pressure): when the heap has fewer free pages than pending
// loads, QueueTiles must only load as many tiles as pages are available
// and retain the rest for a later pass.
func TestEngine_S5_HeapPressure(t *testing.T) {
	e := newTestEngine(t, 1, 4, 1, 2, 2, 4) // only 2 heap pages for 4 regions

	feedback := make([]uint8, 4)
	e.QueueFeedback(feedback, 1) // every region wants mip 0
	e.ProcessFeedback(1)

	if got := e.Stats().PendingLoads; got != 4 {
		t.Fatalf("pending loads = %d, want 4", got)
	}

	e.QueueTiles()

	if got := e.Stats().HeapFree; got != 0 {
		t.Fatalf("heap free after first QueueTiles = %d, want 0", got)
	}
	if got := e.Stats().PendingLoads; got != 2 {
		t.Fatalf("pending loads retained = %d, want 2", got)
	}
}

// S6 (Evict-all): RequestEvictAll must zero every refcount, queue every
// resident tile for eviction, and discard pending loads and feedback in
// one shot, regardless of what ProcessFeedback was about to do.
func TestEngine_S6_EvictAll(t *testing.T) {
	e := newTestEngine(t, 1, 2, 2, 2, 64, 4)

	c := Coord{X: 0, Y: 0, S: 0}
	e.addRef(c)
	e.state.SetResident(c)

	e.QueueFeedback(make([]uint8, 4), 1)
	e.RequestEvictAll()
	e.ProcessFeedback(1)

	if e.state.Refcount(c) != 0 {
		t.Fatalf("refcount after evict-all = %d, want 0", e.state.Refcount(c))
	}
	if got := len(e.pendingLoads); got != 0 {
		t.Fatalf("pending loads after evict-all = %d, want 0", got)
	}

	found := false
	for _, rc := range *e.ring.ReadyToEvict() {
		if rc == c {
			found = true
		}
	}
	for _, bucket := range e.ring.buckets {
		for _, rc := range bucket {
			if rc == c {
				found = true
			}
		}
	}
	if !found {
		t.Fatal("resident coord should have been queued into the eviction ring")
	}
}

func TestEngine_UpdateMinMipMap_FullyResidentRegion(t *testing.T) {
	e := newTestEngine(t, 2, 1, 1, 2, 64, 4)

	coarse := Coord{X: 0, Y: 0, S: 1}
	fine := Coord{X: 0, Y: 0, S: 0}
	e.state.SetResident(coarse)
	e.state.SetResident(fine)
	e.state.AddRef(coarse)
	e.residencyChanged.Store(true)

	if !e.UpdateMinMipMap() {
		t.Fatal("expected UpdateMinMipMap to report a change")
	}
	if got := e.minMipMap[0]; got != 0 {
		t.Fatalf("min-mip map = %d, want 0 (both mips resident)", got)
	}
}

func TestEngine_UpdateMinMipMap_NoRefcountCollapsesToCoarsest(t *testing.T) {
	e := newTestEngine(t, 3, 1, 1, 2, 64, 4)
	e.residencyChanged.Store(true)

	if !e.UpdateMinMipMap() {
		t.Fatal("expected UpdateMinMipMap to report a change")
	}
	if got := e.minMipMap[0]; got != uint8(e.m) {
		t.Fatalf("min-mip map = %d, want %d", got, e.m)
	}
}
