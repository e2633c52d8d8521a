// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package backend

// Coord identifies a single tile: (X, Y) tile indices within mip level S.
// S == 0 is the finest standard mip; S increases toward coarser mips.
type Coord struct {
	X, Y int
	S    int
}

// Parent returns the coarser-mip coordinate that covers c, i.e. the
// region reached by SetMinMip's coarse-to-fine walk one level up.
func (c Coord) Parent() Coord {
	return Coord{X: c.X >> 1, Y: c.Y >> 1, S: c.S + 1}
}

// ResourceHandle identifies a streaming resource to a backend. It is an
// opaque, comparable value, never an owning pointer — resources hold
// back-edges to each other only as stable identifiers (§9).
type ResourceHandle uint64

// Fence is an opaque, monotonically increasing value a MappingBackend
// issues so a caller can later ask "has this completed?".
type Fence uint64

// Ticket identifies an in-flight TileStreamer copy operation.
type Ticket uint64
