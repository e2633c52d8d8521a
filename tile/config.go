// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package tile

// EngineConfig carries the subset of the top-level engine configuration
// that a single ResidencyEngine needs. The root package's Config is the
// authoritative source of defaults; it is translated into one EngineConfig
// per streaming resource.
type EngineConfig struct {
	// MaxLoadsPerBatch bounds how many pending loads one queue_tiles pass
	// places on a single UpdateList (max_tile_copies_per_batch, §6).
	MaxLoadsPerBatch int

	// OptimisticMinMip selects the coarsest-mip-only heuristic for
	// MinResidentMip instead of the conservative full walk (§9 Open
	// Question). Default false: see DESIGN.md for why conservative is the
	// specified behavior.
	OptimisticMinMip bool

	// EvictionDelayDepth is the eviction delay ring's depth F (§4.2). If
	// zero or negative, NewEngine falls back to swapBuffers+1, the value
	// §6 documents as the default.
	EvictionDelayDepth int
}
