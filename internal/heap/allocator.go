// Package heap provides the fixed-capacity pool of physical heap-page
// indices backing partially-resident textures.
//
// A streaming resource never owns GPU memory directly; it borrows pages
// from a shared Allocator sized to the device's reserved heap. Pages are
// uniform 64 KiB tiles, so unlike a general-purpose GPU memory allocator
// there is nothing to split or coalesce: handing out a page is just
// removing one dense index from a free pool.
package heap

import "sync"

// PageIndex identifies a single 64 KiB page within the shared heap.
type PageIndex uint32

// Invalid is the sentinel returned by Allocate when the heap is exhausted,
// and is the "no page" value stored in per-tile records before a tile
// enters Loading.
const Invalid PageIndex = ^PageIndex(0)

// IsValid reports whether i refers to an actual page.
func (i PageIndex) IsValid() bool {
	return i != Invalid
}

// Allocator is a fixed-capacity pool of page indices 0..N-1. Allocate and
// Free are O(1) and safe to call concurrently — the submit thread and the
// feedback thread both contend on the same heap when resources share it.
type Allocator struct {
	mu       sync.Mutex
	free     []PageIndex // released pages, LIFO
	next     PageIndex   // next never-allocated index
	capacity PageIndex
}

// New creates an Allocator with room for capacity pages. Panics if capacity
// is not positive; a zero-size heap is a configuration error, not a
// condition callers recover from at runtime.
func New(capacity int) *Allocator {
	if capacity <= 0 {
		panic("heap: capacity must be positive")
	}
	return &Allocator{
		free:     make([]PageIndex, 0, 64),
		capacity: PageIndex(capacity),
	}
}

// Allocate returns a free page index, or Invalid if the heap is exhausted.
// Exhaustion is not an error: callers defer the load and retry on the next
// tick (§7 Heap exhausted).
func (a *Allocator) Allocate() PageIndex {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		return idx
	}
	if a.next >= a.capacity {
		return Invalid
	}
	idx := a.next
	a.next++
	return idx
}

// Free returns a page to the pool. Safe to call with Invalid (no-op), so a
// caller may pass a tile's heap_index without first checking that one was
// ever assigned.
func (a *Allocator) Free(idx PageIndex) {
	if idx == Invalid {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.free = append(a.free, idx)
}

// NumFree returns the number of pages currently available to Allocate.
func (a *Allocator) NumFree() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return int(a.capacity-a.next) + len(a.free)
}

// Capacity returns the total number of pages the heap was built with.
func (a *Allocator) Capacity() int {
	return int(a.capacity)
}
