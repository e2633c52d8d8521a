// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

// Package tile implements the per-resource state machine and concurrency
// protocol of the tile residency engine: the {refcount, heap-index,
// residency} grids (§4.3), the eviction delay ring (§4.2), the UpdateList
// pipeline (§4.4-§4.5), and the ResidencyEngine that ties them together.
package tile

import (
	"sync/atomic"

	"github.com/gogpu/vtex/backend"
	"github.com/gogpu/vtex/internal/heap"
)

// Coord is an alias for backend.Coord: callers queue feedback and read
// notifications using the same coordinate type the backend interfaces use.
type Coord = backend.Coord

// Residency is the per-tile state tag (§3).
type Residency uint32

const (
	// NotResident: quiescent, not mapped.
	NotResident Residency = iota
	// Resident: mapped and loaded; sample-safe.
	Resident
	// Loading: mapping + copy in flight; heap_index valid.
	Loading
	// Evicting: unmap in flight; heap_index already freed.
	Evicting
)

func (r Residency) String() string {
	switch r {
	case NotResident:
		return "NotResident"
	case Resident:
		return "Resident"
	case Loading:
		return "Loading"
	case Evicting:
		return "Evicting"
	default:
		return "Residency(?)"
	}
}

// State stores the three 2-D grids (refcount, heap-index, residency) for
// every mip of one streaming resource. Grids are allocated as flat buffers
// with per-mip offsets (§9) rather than nested slices, so a lookup is one
// bounds-checked index instead of two pointer chases.
//
// Concurrency (§4.3, §5): refcount and heap_index are written only by the
// feedback thread. residency is written by the feedback thread (transient
// states Loading/Evicting) and by the fence-monitor thread (terminal
// states Resident/NotResident); the two never write the same cell at the
// same time because the transient write always happens-before the
// terminal one. residency cells therefore use atomics so any reader
// observes a consistent tag without taking a lock.
type State struct {
	m int // number of standard mips, M

	mipWidth  []int // tile-grid width per mip, mip 0 is finest
	mipHeight []int // tile-grid height per mip
	mipOffset []int // flat index of mip s's first cell

	refcount  []uint32
	heapIndex []uint32 // heap.PageIndex values, heap.Invalid means none
	residency []atomic.Uint32
}

// NewState builds the grids for a resource with m standard mips whose
// finest mip spans width0 x height0 tiles.
func NewState(m, width0, height0 int) *State {
	s := &State{
		m:         m,
		mipWidth:  make([]int, m),
		mipHeight: make([]int, m),
		mipOffset: make([]int, m),
	}

	total := 0
	for lvl := 0; lvl < m; lvl++ {
		w := ceilShift(width0, lvl)
		h := ceilShift(height0, lvl)
		s.mipWidth[lvl] = w
		s.mipHeight[lvl] = h
		s.mipOffset[lvl] = total
		total += w * h
	}

	s.refcount = make([]uint32, total)
	s.heapIndex = make([]uint32, total)
	for i := range s.heapIndex {
		s.heapIndex[i] = uint32(heap.Invalid)
	}
	s.residency = make([]atomic.Uint32, total)
	return s
}

func ceilShift(n, shift int) int {
	v := n >> shift
	if n&((1<<shift)-1) != 0 {
		v++
	}
	if v < 1 {
		v = 1
	}
	return v
}

// MipCount returns M, the number of standard (streamable) mips.
func (s *State) MipCount() int { return s.m }

// MipDims returns the tile-grid width and height of mip lvl.
func (s *State) MipDims(lvl int) (width, height int) {
	return s.mipWidth[lvl], s.mipHeight[lvl]
}

func (s *State) index(c Coord) int {
	return s.mipOffset[c.S] + c.Y*s.mipWidth[c.S] + c.X
}

// Residency returns the current residency tag of c.
func (s *State) Residency(c Coord) Residency {
	return Residency(s.residency[s.index(c)].Load())
}

func (s *State) setResidency(c Coord, r Residency) {
	s.residency[s.index(c)].Store(uint32(r))
}

// SetResident marks c Resident.
func (s *State) SetResident(c Coord) { s.setResidency(c, Resident) }

// SetNotResident marks c NotResident.
func (s *State) SetNotResident(c Coord) { s.setResidency(c, NotResident) }

// SetLoading marks c Loading.
func (s *State) SetLoading(c Coord) { s.setResidency(c, Loading) }

// SetEvicting marks c Evicting.
func (s *State) SetEvicting(c Coord) { s.setResidency(c, Evicting) }

// Refcount returns the current reference count of c. Only the feedback
// thread calls this; it is a plain read, not an atomic one.
func (s *State) Refcount(c Coord) uint32 {
	return s.refcount[s.index(c)]
}

// AddRef increments c's refcount and reports whether it was previously
// zero (the caller must then enqueue a pending load).
func (s *State) AddRef(c Coord) (wasZero bool) {
	i := s.index(c)
	wasZero = s.refcount[i] == 0
	s.refcount[i]++
	return wasZero
}

// DecRef decrements c's refcount and reports whether it reached zero (the
// caller must then enqueue c into the eviction delay ring).
func (s *State) DecRef(c Coord) (reachedZero bool) {
	i := s.index(c)
	s.refcount[i]--
	return s.refcount[i] == 0
}

// ZeroRefcount forces c's refcount directly to zero, bypassing the normal
// one-at-a-time DecRef accounting. Used only by the evict-all shortcut
// (§4.4.1 step 1), which discards all outstanding references at once
// rather than stepping each count down through DecRef.
func (s *State) ZeroRefcount(c Coord) {
	s.refcount[s.index(c)] = 0
}

// HeapIndex returns the page currently backing c, or heap.Invalid.
func (s *State) HeapIndex(c Coord) heap.PageIndex {
	return heap.PageIndex(s.heapIndex[s.index(c)])
}

// SetHeapIndex records the page backing c.
func (s *State) SetHeapIndex(c Coord, idx heap.PageIndex) {
	s.heapIndex[s.index(c)] = uint32(idx)
}

// AnyRefcount reports whether any tile anywhere has refcount > 0. It scans
// only the coarsest mip (§4.3): SetMinMip always adds coarse-before-fine,
// so a nonzero finer refcount implies a nonzero coarsest-mip refcount
// somewhere in its ancestor chain.
func (s *State) AnyRefcount() bool {
	coarsest := s.m - 1
	start := s.mipOffset[coarsest]
	end := start + s.mipWidth[coarsest]*s.mipHeight[coarsest]
	for i := start; i < end; i++ {
		if s.refcount[i] > 0 {
			return true
		}
	}
	return false
}

func (s *State) mipFullyResident(lvl int) bool {
	start := s.mipOffset[lvl]
	end := start + s.mipWidth[lvl]*s.mipHeight[lvl]
	for i := start; i < end; i++ {
		if Residency(s.residency[i].Load()) != Resident {
			return false
		}
	}
	return true
}

// MinResidentMip returns the coarsest mip s such that every tile of mip s
// is Resident, or M if even the coarsest mip is not fully resident.
//
// When optimistic is true, only the coarsest mip is examined (the faster
// but possibly-optimistic heuristic flagged in §9). When false (the
// specified default, see DESIGN.md), the walk continues toward finer mips
// for as long as each remains fully resident, giving a tighter floor for
// update_min_mip_map's per-region walk.
func (s *State) MinResidentMip(optimistic bool) int {
	coarsest := s.m - 1
	if !s.mipFullyResident(coarsest) {
		return s.m
	}
	if optimistic {
		return coarsest
	}
	floor := coarsest
	for lvl := coarsest - 1; lvl >= 0; lvl-- {
		if !s.mipFullyResident(lvl) {
			break
		}
		floor = lvl
	}
	return floor
}

// FreeHeapAllocations returns every valid heap index still recorded in the
// grids to alloc. Called once, on resource destruction.
func (s *State) FreeHeapAllocations(alloc *heap.Allocator) {
	for i := range s.heapIndex {
		idx := heap.PageIndex(s.heapIndex[i])
		if idx.IsValid() {
			alloc.Free(idx)
			s.heapIndex[i] = uint32(heap.Invalid)
		}
	}
}
