// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package tile

import (
	"sync/atomic"

	"github.com/gogpu/vtex/backend"
	"github.com/gogpu/vtex/internal/heap"
)

// Resource couples a ResidencyEngine with the bookkeeping its packed-mip
// bootstrap (§4.6) needs: the resource is not drawable until its
// permanently-resident packed payload has been mapped and copied once.
type Resource struct {
	Engine *Engine

	handle      backend.ResourceHandle
	file        string
	packedPages []heap.PageIndex

	ready            atomic.Bool
	needsTransition  atomic.Bool
	bootstrapStarted atomic.Bool
	bootstrapList    *UpdateList
}

// NewResource wraps engine for resource, identified by the backing file
// the injected TileStreamer resolves tile payloads against.
func NewResource(handle backend.ResourceHandle, file string, engine *Engine) *Resource {
	return &Resource{Engine: engine, handle: handle, file: file}
}

// Ready reports whether the packed-mip bootstrap has completed and the
// resource may be sampled.
func (r *Resource) Ready() bool { return r.ready.Load() }

// ConsumeNeedsTransition reports and clears the one-shot flag that asks
// the renderer to perform whatever resource-state transition its GPU API
// requires before first sampling this resource (§4.6). Call once per
// frame; returns false on every call after the first.
func (r *Resource) ConsumeNeedsTransition() bool {
	return r.needsTransition.Swap(false)
}

// Bootstrap reserves packedCount heap pages and submits the packed-mip
// UpdateList (§4.6). alloc is the shared heap allocator; pool the shared
// UpdateList pool. Returns false if the heap cannot supply packedCount pages
// or the pool has no free UpdateList; a later call tries again.
func (r *Resource) Bootstrap(packedCount int, alloc *heap.Allocator, pool *Pool) bool {
	if r.bootstrapStarted.Load() {
		return true
	}

	if r.packedPages == nil {
		pages := make([]heap.PageIndex, 0, packedCount)
		for len(pages) < packedCount {
			idx := alloc.Allocate()
			if idx == heap.Invalid {
				for _, p := range pages {
					alloc.Free(p)
				}
				backend.Logger().Debug("packed-mip bootstrap deferred, heap exhausted", "resource", r.handle)
				return false // heap full; try again next tick
			}
			pages = append(pages, idx)
		}
		r.packedPages = pages
	}

	list := pool.Allocate(r.handle)
	if list == nil {
		backend.Logger().Debug("packed-mip bootstrap deferred, UpdateList pool exhausted", "resource", r.handle)
		return false // pool exhausted; try again next tick
	}
	list.packed = true
	r.bootstrapList = list
	r.bootstrapStarted.Store(true)
	list.state.Store(uint32(Submitted))
	return true
}

// PackedPageIndices returns the heap pages reserved for the packed
// payload, for the submit thread to pass to MappingBackend.Map.
func (r *Resource) PackedPageIndices() []heap.PageIndex { return r.packedPages }

// markPackedPresent is called by the DataUploader once the packed-mip
// UpdateList reaches Free (§4.5.3): the resource becomes drawable and the
// renderer is asked, once, to perform its state transition.
func (r *Resource) markPackedPresent() {
	r.ready.Store(true)
	r.needsTransition.Store(true)
}

// Destroy releases every heap page this resource still holds, including
// the packed pages. Called only outside a frame boundary, after the
// pipeline has drained (§4.6, §5).
func (r *Resource) Destroy(alloc *heap.Allocator) {
	r.Engine.State().FreeHeapAllocations(alloc)
	for _, p := range r.packedPages {
		alloc.Free(p)
	}
	r.packedPages = nil
}
