// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package tile

import (
	"sync"
	"sync/atomic"

	"github.com/gogpu/vtex/backend"
	"github.com/gogpu/vtex/internal/heap"
)

// feedbackSlot holds one queued, not-yet-consumed feedback buffer tagged
// with the render fence at which it was resolved (§4.4.1 input).
type feedbackSlot struct {
	valid       bool
	renderFence uint64
	data        []uint8
}

// Engine is the per-StreamingResource ResidencyEngine (C5, §4.4): it
// translates feedback into refcount adjustments, drives the load/evict
// queues, and republishes the min-mip map. It is driven exclusively by
// T_feedback (the TileUpdateManager's worker thread); QueueFeedback and the
// atomic flag setters MarkResidencyChanged and RequestEvictAll are the only
// methods safe to call from other goroutines.
type Engine struct {
	cfg      EngineConfig
	resource backend.ResourceHandle

	m               int
	width0, height0 int

	state *State
	ring  *Ring
	heap  *heap.Allocator
	pool  *Pool

	tileRefs   []uint8 // desired mip per finest-grid region
	minMipMap  []uint8 // published per-region resident mip
	prevMinMip []uint8 // min_mip_map as of the previous publish

	pendingLoads []Coord

	residencyChanged atomic.Bool
	evictAllPending  atomic.Bool

	feedbackMu sync.Mutex
	feedback   []feedbackSlot
	nextSlot   int
}

// NewEngine constructs a ResidencyEngine for one streaming resource.
// swapBuffers sizes the queued-feedback ring (S, §4.4.1); the eviction
// delay ring's depth comes from cfg.EvictionDelayDepth, falling back to
// swapBuffers+1 when unset. heapAlloc and pool are shared across every
// resource bound to the same heap / uploader.
func NewEngine(resource backend.ResourceHandle, m, width0, height0, swapBuffers int, cfg EngineConfig, heapAlloc *heap.Allocator, pool *Pool) *Engine {
	regions := width0 * height0
	ringDepth := cfg.EvictionDelayDepth
	if ringDepth <= 0 {
		ringDepth = swapBuffers + 1
	}
	e := &Engine{
		cfg:        cfg,
		resource:   resource,
		m:          m,
		width0:     width0,
		height0:    height0,
		state:      NewState(m, width0, height0),
		ring:       NewRing(ringDepth),
		heap:       heapAlloc,
		pool:       pool,
		tileRefs:   make([]uint8, regions),
		minMipMap:  make([]uint8, regions),
		prevMinMip: make([]uint8, regions),
		feedback:   make([]feedbackSlot, swapBuffers),
	}
	for i := range e.tileRefs {
		e.tileRefs[i] = uint8(m)
		e.minMipMap[i] = uint8(m)
		e.prevMinMip[i] = uint8(m)
	}
	return e
}

// State exposes the underlying TileMappingState, mainly for tests and for
// the DataUploader's completion notifications (§4.5.3).
func (e *Engine) State() *State { return e.state }

// Ring exposes the eviction delay ring, mainly for the TileUpdateManager's
// end-of-frame NextFrame call (§4.7).
func (e *Engine) Ring() *Ring { return e.ring }

// MinMipMap returns the last-published per-region residency map. Callers
// must not retain or mutate the returned slice across the next publish.
func (e *Engine) MinMipMap() []uint8 { return e.minMipMap }

// MarkResidencyChanged flags that §4.7's min-mip recomputation should run
// on the next end-of-frame pass. Called by the DataUploader on every
// completion notification (§4.5.3).
func (e *Engine) MarkResidencyChanged() { e.residencyChanged.Store(true) }

// RequestEvictAll requests the zero-refcount shortcut (§4.4.1 step 1) on
// the next ProcessFeedback call — used when the renderer culls the
// resource entirely (e.g. object left the frustum).
func (e *Engine) RequestEvictAll() { e.evictAllPending.Store(true) }

// QueueFeedback records a resolved feedback buffer tagged with the render
// fence at which it was resolved. Safe to call from the render thread
// concurrently with ProcessFeedback running on the feedback thread.
func (e *Engine) QueueFeedback(resolved []uint8, renderFence uint64) {
	e.feedbackMu.Lock()
	defer e.feedbackMu.Unlock()

	slot := &e.feedback[e.nextSlot%len(e.feedback)]
	slot.valid = true
	slot.renderFence = renderFence
	if cap(slot.data) < len(resolved) {
		slot.data = make([]uint8, len(resolved))
	}
	slot.data = slot.data[:len(resolved)]
	copy(slot.data, resolved)
	e.nextSlot++
}

// consumeFeedback picks the queued buffer with the largest render fence
// not exceeding frameFenceCompleted, marks it consumed, and returns it.
func (e *Engine) consumeFeedback(frameFenceCompleted uint64) ([]uint8, bool) {
	e.feedbackMu.Lock()
	defer e.feedbackMu.Unlock()

	best := -1
	for i := range e.feedback {
		if !e.feedback[i].valid || e.feedback[i].renderFence > frameFenceCompleted {
			continue
		}
		if best == -1 || e.feedback[i].renderFence > e.feedback[best].renderFence {
			best = i
		}
	}
	if best == -1 {
		return nil, false
	}
	e.feedback[best].valid = false
	return e.feedback[best].data, true
}

func (e *Engine) clearFeedback() {
	e.feedbackMu.Lock()
	defer e.feedbackMu.Unlock()
	for i := range e.feedback {
		e.feedback[i].valid = false
	}
}

// ProcessFeedback is the feedback-to-loads/evictions translator (§4.4.1).
func (e *Engine) ProcessFeedback(frameFenceCompleted uint64) {
	if e.evictAllPending.Swap(false) {
		e.evictAll()
		return
	}

	buf, ok := e.consumeFeedback(frameFenceCompleted)
	if !ok {
		return // feedback under-run (§7): no-op
	}

	changed := false
	for y := 0; y < e.height0; y++ {
		for x := 0; x < e.width0; x++ {
			idx := y*e.width0 + x
			desired := int(buf[idx])
			if desired > e.m {
				desired = e.m
			}
			current := int(e.tileRefs[idx])
			if desired == current {
				continue
			}
			e.setMinMip(x, y, current, desired)
			e.tileRefs[idx] = uint8(desired)
			changed = true
		}
	}

	e.abandonPending()
	e.ring.Rescue(e.state)

	if changed {
		e.residencyChanged.Store(true)
	}
}

// evictAll implements the zero-refcount shortcut (§4.4.1 step 1).
func (e *Engine) evictAll() {
	for s := 0; s < e.m; s++ {
		w, h := e.state.MipDims(s)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := Coord{X: x, Y: y, S: s}
				if e.state.Refcount(c) > 0 {
					e.state.ZeroRefcount(c)
				}
				if e.state.Residency(c) == Resident {
					e.ring.Append(c)
				}
			}
		}
	}
	for i := range e.tileRefs {
		e.tileRefs[i] = uint8(e.m)
	}
	e.pendingLoads = e.pendingLoads[:0]
	e.clearFeedback()
	e.residencyChanged.Store(true)
}

// setMinMip adjusts refcounts between current mip c and desired mip d at
// region (x,y), per §4.4.2.
func (e *Engine) setMinMip(x, y, current, desired int) {
	if desired < current {
		// Want finer: coarse-to-fine so dependencies resolve first.
		for s := current - 1; s >= desired; s-- {
			e.addRef(Coord{X: x >> uint(s), Y: y >> uint(s), S: s})
		}
	} else if desired > current {
		// Want coarser: fine-to-coarse so dependents release first.
		for s := current; s <= desired-1; s++ {
			e.decRef(Coord{X: x >> uint(s), Y: y >> uint(s), S: s})
		}
	}
}

func (e *Engine) addRef(c Coord) {
	if e.state.AddRef(c) {
		e.pendingLoads = append(e.pendingLoads, c)
	}
}

func (e *Engine) decRef(c Coord) {
	if e.state.DecRef(c) {
		e.ring.Append(c)
	}
}

// abandonPending drops any pending load whose refcount has returned to
// zero before it was ever submitted (§4.4.1 step 4).
func (e *Engine) abandonPending() {
	out := e.pendingLoads[:0]
	for _, c := range e.pendingLoads {
		if e.state.Refcount(c) == 0 {
			continue
		}
		out = append(out, c)
	}
	e.pendingLoads = out
}

// QueueTiles obtains UpdateLists from the shared pool and fills them with
// evictions then loads, submitting each non-empty list (§4.4.3).
func (e *Engine) QueueTiles() {
	for {
		canLoad := len(e.pendingLoads) > 0 && e.heap.NumFree() > 0
		canEvict := len(*e.ring.ReadyToEvict()) > 0
		if !canLoad && !canEvict {
			return
		}

		list := e.pool.Allocate(e.resource)
		if list == nil {
			backend.Logger().Warn("UpdateList pool exhausted, deferring", "resource", e.resource)
			return // pool exhausted; retry next tick (§7)
		}

		e.queueEvictions(list)
		e.queueLoads(list)

		if list.IsEmpty() {
			e.pool.Release(list)
			return
		}
		list.state.Store(uint32(Submitted))
	}
}

// queueEvictions drains the ring's eligible bucket (§4.4.4).
func (e *Engine) queueEvictions(list *UpdateList) {
	ready := e.ring.ReadyToEvict()
	kept := (*ready)[:0]
	for _, c := range *ready {
		switch e.state.Residency(c) {
		case Resident:
			e.state.SetEvicting(c)
			idx := e.state.HeapIndex(c)
			e.heap.Free(idx)
			e.state.SetHeapIndex(c, heap.Invalid)
			list.AddEvict(c)
			backend.Logger().Debug("tile queued for eviction", "resource", e.resource, "coord", c, "page", idx)
		case Loading:
			kept = append(kept, c) // delay: still in flight
		default:
			// NotResident or Evicting: already handled, drop silently.
		}
	}
	*ready = kept
}

// queueLoads bounds and drains pending loads (§4.4.5).
func (e *Engine) queueLoads(list *UpdateList) {
	budget := len(e.pendingLoads)
	if e.cfg.MaxLoadsPerBatch > 0 && e.cfg.MaxLoadsPerBatch < budget {
		budget = e.cfg.MaxLoadsPerBatch
	}
	if free := e.heap.NumFree(); free < budget {
		budget = free
	}

	kept := e.pendingLoads[:0]
	taken := 0
	for _, c := range e.pendingLoads {
		if taken >= budget {
			kept = append(kept, c)
			continue
		}
		switch e.state.Residency(c) {
		case NotResident:
			idx := e.heap.Allocate()
			if idx == heap.Invalid {
				backend.Logger().Warn("heap exhausted, load deferred", "resource", e.resource, "coord", c)
				kept = append(kept, c)
				continue
			}
			e.state.SetLoading(c)
			e.state.SetHeapIndex(c, idx)
			list.AddLoad(c, uint32(idx))
			taken++
			backend.Logger().Debug("tile queued for load", "resource", e.resource, "coord", c, "page", idx)
		case Evicting:
			kept = append(kept, c) // delay, compacted toward the front
		default:
			// Resident or Loading: already satisfied or in flight.
		}
	}
	e.pendingLoads = kept
}

// UpdateMinMipMap republishes the min-mip map if residency changed since
// the last call, returning whether it did (§4.4.6).
func (e *Engine) UpdateMinMipMap() bool {
	if !e.residencyChanged.Swap(false) {
		return false
	}

	if !e.state.AnyRefcount() {
		for i := range e.minMipMap {
			e.minMipMap[i] = uint8(e.m)
		}
		copy(e.prevMinMip, e.minMipMap)
		return true
	}

	minR := e.state.MinResidentMip(e.cfg.OptimisticMinMip)
	for y := 0; y < e.height0; y++ {
		for x := 0; x < e.width0; x++ {
			idx := y*e.width0 + x
			start := minR
			if int(e.prevMinMip[idx]) > start {
				start = int(e.prevMinMip[idx])
			}
			if start >= e.m {
				// M and above is the always-resident packed footprint;
				// the walk only ever examines standard mips.
				start = e.m - 1
			}

			deepest := e.m
			for s := start; s >= 0 && s < e.m; s-- {
				c := Coord{X: x >> uint(s), Y: y >> uint(s), S: s}
				if e.state.Residency(c) != Resident {
					break
				}
				deepest = s
			}
			e.minMipMap[idx] = uint8(deepest)
		}
	}
	copy(e.prevMinMip, e.minMipMap)
	return true
}

// Stats is a point-in-time snapshot for tests and logging (not a metrics
// system — see SPEC_FULL.md Supplemented Features).
type Stats struct {
	PendingLoads  int
	PendingEvicts int
	HeapFree      int
}

// Stats returns a snapshot of this engine's queue depths and heap
// pressure.
func (e *Engine) Stats() Stats {
	return Stats{
		PendingLoads:  len(e.pendingLoads),
		PendingEvicts: len(*e.ring.ReadyToEvict()),
		HeapFree:      e.heap.NumFree(),
	}
}
