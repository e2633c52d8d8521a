// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package tile

import (
	"sync/atomic"

	"github.com/gogpu/vtex/backend"
)

// ListState is an UpdateList's position in its transition graph (§3):
// Free -> Allocated -> Submitted -> {Uploading | PackedMapping} -> CopyPending -> Free.
type ListState uint32

const (
	// Free: available for allocation.
	Free ListState = iota
	// Allocated: claimed by a ResidencyEngine, being filled.
	Allocated
	// Submitted: filled and handed to the submit thread.
	Submitted
	// Uploading: mapping issued, streamer copy in flight.
	Uploading
	// PackedMapping: packed-mip bootstrap mapping/copy in flight.
	PackedMapping
	// CopyPending: copy committed, waiting on both fences.
	CopyPending
)

func (s ListState) String() string {
	switch s {
	case Free:
		return "Free"
	case Allocated:
		return "Allocated"
	case Submitted:
		return "Submitted"
	case Uploading:
		return "Uploading"
	case PackedMapping:
		return "PackedMapping"
	case CopyPending:
		return "CopyPending"
	default:
		return "ListState(?)"
	}
}

// loadEntry is one pending load: a coord and the heap page reserved for it.
type loadEntry struct {
	Coord     Coord
	HeapIndex uint32
}

// UpdateList is the batched unit of mapping + copy work moved through the
// pipeline (§3, §4.5). Its state is a single atomic so every thread
// touching it (feedback, submit, fence-monitor) observes the same value
// without taking a lock; each state's outgoing transition is written by
// exactly one of those threads (§5).
type UpdateList struct {
	state atomic.Uint32

	resource backend.ResourceHandle
	packed   bool // true for the packed-mip bootstrap UpdateList

	loads  []loadEntry
	evicts []Coord

	mapFence  backend.Fence
	hasMap    bool
	copyTicks []backend.Ticket
	// copyIssued parallels loads: true once a copy has been requested for
	// that entry. Lets the uploader resume issuing only the tiles it
	// hasn't yet requested when a semaphore permit was unavailable.
	copyIssued []bool

	poolIndex int // slot index in the owning Pool, set once at construction
}

// State returns the list's current state.
func (u *UpdateList) State() ListState {
	return ListState(u.state.Load())
}

// Resource returns the resource this list is (or was last) allocated to.
func (u *UpdateList) Resource() backend.ResourceHandle { return u.resource }

// AddLoad records a tile to be mapped and copied into heapIndex.
func (u *UpdateList) AddLoad(c Coord, heapIndex uint32) {
	u.loads = append(u.loads, loadEntry{Coord: c, HeapIndex: heapIndex})
}

// AddEvict records a tile to be unmapped.
func (u *UpdateList) AddEvict(c Coord) {
	u.evicts = append(u.evicts, c)
}

// IsEmpty reports whether the list carries no work at all.
func (u *UpdateList) IsEmpty() bool {
	return len(u.loads) == 0 && len(u.evicts) == 0 && !u.packed
}

// Loads returns the recorded loads.
func (u *UpdateList) Loads() []loadEntry { return u.loads }

// Evicts returns the recorded evictions.
func (u *UpdateList) Evicts() []Coord { return u.evicts }

func (u *UpdateList) reset(resource backend.ResourceHandle) {
	u.resource = resource
	u.packed = false
	u.loads = u.loads[:0]
	u.evicts = u.evicts[:0]
	u.hasMap = false
	u.mapFence = 0
	u.copyTicks = u.copyTicks[:0]
	u.copyIssued = u.copyIssued[:0]
}

// Pool is the fixed-capacity UpdateList pool DataUploader owns (§4.5.2).
// Allocation uses an atomic free count as a fast-path guard; on success a
// rotating index probes for a Free slot and CAS-acquires it, so multiple
// concurrent callers can each get a distinct list without a pool-wide lock.
type Pool struct {
	items     []*UpdateList
	freeCount atomic.Int32
	probe     atomic.Uint32
}

// NewPool creates a pool of capacity UpdateLists, all initially Free.
func NewPool(capacity int) *Pool {
	p := &Pool{items: make([]*UpdateList, capacity)}
	for i := range p.items {
		p.items[i] = &UpdateList{poolIndex: i}
	}
	p.freeCount.Store(int32(capacity))
	return p
}

// Capacity returns B, the pool's total size.
func (p *Pool) Capacity() int { return len(p.items) }

// NumFree returns the number of Free slots (may be stale under contention;
// used only as an allocation fast-path guard and for observability).
func (p *Pool) NumFree() int { return int(p.freeCount.Load()) }

// Allocate claims a Free UpdateList for resource, or returns nil if the
// pool is exhausted.
func (p *Pool) Allocate(resource backend.ResourceHandle) *UpdateList {
	for {
		if p.freeCount.Load() <= 0 {
			return nil
		}
		n := len(p.items)
		start := int(p.probe.Add(1)) % n
		for i := 0; i < n; i++ {
			idx := (start + i) % n
			item := p.items[idx]
			if item.state.CompareAndSwap(uint32(Free), uint32(Allocated)) {
				p.freeCount.Add(-1)
				item.reset(resource)
				return item
			}
		}
		// Every slot was momentarily taken by a racing allocator; the
		// free-count guard said one should be available, so retry.
		continue
	}
}

// Release returns list to the pool as Free. Called by the fence-monitor
// thread once both fences in a CopyPending list are satisfied.
func (p *Pool) Release(list *UpdateList) {
	list.resource = 0
	list.state.Store(uint32(Free))
	p.freeCount.Add(1)
}

// AllItems returns every UpdateList the pool owns, for the fence-monitor
// thread to scan. The returned slice must not be mutated.
func (p *Pool) AllItems() []*UpdateList { return p.items }
