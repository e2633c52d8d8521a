// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

// Package backend declares the external collaborators the tile residency
// engine drives but never implements itself: the GPU mapping queue and the
// tile-payload I/O layer. §1 places both deliberately out of scope — a
// concrete Vulkan/DX12/Metal/GLES backend or file-backed streamer lives
// outside this module and satisfies these interfaces.
package backend

// MappingBackend performs virtual-to-physical GPU heap page mapping. It is
// the only thing in the engine that issues real mapping-queue commands;
// everywhere else coordinates and page indices are just data.
type MappingBackend interface {
	// Map binds coords[i] to heap page heapIndices[i] for every i.
	// len(coords) must equal len(heapIndices).
	Map(resource ResourceHandle, coords []Coord, heapIndices []uint32) (Fence, error)

	// Unmap releases the physical backing for coords. The heap pages
	// themselves have already been returned to the allocator by the
	// caller; Unmap only tears down the GPU-side mapping.
	Unmap(resource ResourceHandle, coords []Coord) (Fence, error)

	// Reached reports whether the mapping queue has passed fence. Safe to
	// call concurrently with Map/Unmap and from any goroutine.
	Reached(fence Fence) bool
}

// TileStreamer copies tile payload bytes from a resource's backing store
// into a heap page, or streams the packed-mip payload in one shot. File
// format and storage medium are entirely its concern (§1).
type TileStreamer interface {
	// StreamTile copies the payload for coord into heap page dstHeapPage.
	StreamTile(resourceFile string, coord Coord, dstHeapPage uint32) (Ticket, error)

	// StreamPacked copies the always-resident packed-mip payload into
	// packedPages, in order.
	StreamPacked(resourceFile string, packedPages []uint32) (Ticket, error)

	// PollComplete reports, per ticket, whether the copy has finished.
	// Callers prefer this batched form over polling one ticket at a time.
	PollComplete(tickets []Ticket) []bool
}
