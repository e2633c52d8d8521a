// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package vtex

import "github.com/gogpu/vtex/tile"

// PageSizeBytes is the fixed heap page size (§6): 64 KiB, matching the
// standard GPU tile size for partially-resident textures.
const PageSizeBytes = 64 << 10

// Config configures a Manager. Use DefaultConfig for sensible defaults and
// override only the fields that matter for your workload.
type Config struct {
	// SwapBuffers is the renderer's swapchain depth, usually 2-3. It sizes
	// both the queued-feedback ring per resource and, via
	// EvictionDelayDepth, how long an unreferenced tile survives before its
	// heap page may be reused.
	SwapBuffers int

	// EvictionDelayDepth is the number of frames a tile must remain
	// dereferenced before it becomes eligible for eviction. Default:
	// SwapBuffers + 1, guaranteeing no in-flight command list still
	// references a page before it's freed.
	EvictionDelayDepth int

	// HeapPages is the total number of 64 KiB pages available to back
	// resident tiles, shared across every resource registered with one
	// Manager.
	HeapPages int

	// MaxCopyBatches bounds the UpdateList pool capacity (≈128).
	MaxCopyBatches int

	// MaxTileCopiesPerBatch bounds how many loads one UpdateList carries
	// (≈32).
	MaxTileCopiesPerBatch int

	// MaxTilesInFlight bounds concurrent tile payload copies across every
	// resource (≈512).
	MaxTilesInFlight int

	// MaxTileMappingUpdatesPerAPICall bounds how many coords a single
	// MappingBackend.Map/Unmap call may carry (≈4096).
	MaxTileMappingUpdatesPerAPICall int

	// OptimisticMinMip selects the coarsest-mip-only MinResidentMip
	// heuristic instead of the conservative full walk (§9 Open Question).
	// See DESIGN.md for why the conservative walk is the default.
	OptimisticMinMip bool
}

// DefaultConfig returns sensible default configuration (§6).
func DefaultConfig() Config {
	const swapBuffers = 2
	return Config{
		SwapBuffers:                     swapBuffers,
		EvictionDelayDepth:              swapBuffers + 1,
		HeapPages:                       4096,
		MaxCopyBatches:                  128,
		MaxTileCopiesPerBatch:           32,
		MaxTilesInFlight:                512,
		MaxTileMappingUpdatesPerAPICall: 4096,
		OptimisticMinMip:                false,
	}
}

// engineConfig translates Config into the subset ResidencyEngine needs.
func (c Config) engineConfig() tile.EngineConfig {
	return tile.EngineConfig{
		MaxLoadsPerBatch:   c.MaxTileCopiesPerBatch,
		OptimisticMinMip:   c.OptimisticMinMip,
		EvictionDelayDepth: c.EvictionDelayDepth,
	}
}
