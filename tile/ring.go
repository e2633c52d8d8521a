// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package tile

// Ring is the per-resource eviction delay ring (§4.2): a depth-F sequence
// of buckets that defers a coord's eligibility for unmapping until it has
// survived F-1 frame boundaries, long enough that no GPU command list
// submitted before the coord's refcount dropped to zero can still be
// in flight referencing its heap page.
type Ring struct {
	buckets [][]Coord // buckets[0] is newest, buckets[depth-1] is eligible
}

// NewRing creates a ring of the given depth (normally eviction_delay_depth
// = swap_buffers + 1).
func NewRing(depth int) *Ring {
	if depth < 1 {
		panic("tile: ring depth must be at least 1")
	}
	r := &Ring{buckets: make([][]Coord, depth)}
	return r
}

// Depth returns F, the number of buckets.
func (r *Ring) Depth() int { return len(r.buckets) }

// Append pushes coord onto bucket 0, the newest bucket.
func (r *Ring) Append(coord Coord) {
	r.buckets[0] = append(r.buckets[0], coord)
}

// ReadyToEvict returns a pointer to the oldest bucket's slice. Callers
// mutate it in place: remove the coords they acted on, retain any they
// chose to delay another frame (§4.4.4).
func (r *Ring) ReadyToEvict() *[]Coord {
	return &r.buckets[len(r.buckets)-1]
}

// NextFrame rotates the ring: a coord appended in frame k becomes eligible
// no earlier than frame k + F - 1. The previous oldest bucket's leftover
// entries (those the caller chose to delay) are merged into the bucket
// that becomes the new oldest.
func (r *Ring) NextFrame() {
	n := len(r.buckets)
	if n == 1 {
		// Nothing to rotate into: the single bucket is both newest and
		// eligible, so its delayed leftovers simply stay in place.
		return
	}

	old := r.buckets
	next := make([][]Coord, n)
	next[n-1] = append(old[n-2], old[n-1]...)
	for i := n - 2; i >= 1; i-- {
		next[i] = old[i-1]
	}
	next[0] = nil
	r.buckets = next
}

// Rescue removes, from every bucket, any coord whose refcount is now
// greater than zero — it was queued for eviction but is wanted again.
func (r *Ring) Rescue(state *State) {
	for b := range r.buckets {
		bucket := r.buckets[b]
		out := bucket[:0]
		for _, c := range bucket {
			if state.Refcount(c) > 0 {
				continue
			}
			out = append(out, c)
		}
		r.buckets[b] = out
	}
}

// Clear drops every pending coord in every bucket.
func (r *Ring) Clear() {
	for b := range r.buckets {
		r.buckets[b] = nil
	}
}
