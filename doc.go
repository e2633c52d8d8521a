// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

// Package vtex implements on-demand tile residency management for
// partially-resident textures (PRTs): it turns GPU sampler feedback into a
// bounded stream of tile loads and evictions, tracks which tiles are
// physically mapped, and publishes a per-region min-mip residency map for
// the shader to consult.
//
// # Quick Start
//
//	mgr := vtex.NewManager(vtex.DefaultConfig(), mappingBackend, tileStreamer)
//	resource, err := mgr.CreateStreamingResource(handle, vtex.ResourceDescriptor{
//	    File:   "terrain.vtex",
//	    Mips:   12,
//	    Width:  64,
//	    Height: 64,
//	})
//	mgr.Start()
//	// per frame:
//	mgr.QueueFeedback(handle, resolvedBuffer, renderFence)
//	desc := mgr.BeginFrame()
//	// ... render, sampling desc.ResidencyBuffer ...
//	mgr.EndFrame(frameFence)
//	// at shutdown:
//	mgr.Finish()
//	mgr.Stop()
//
// # Resource Lifecycle
//
// A StreamingResource becomes drawable only after its packed (always
// resident) mips have bootstrapped; check Resource.Ready before sampling it.
//
// # Thread Safety
//
// Manager is safe for concurrent use from one render thread calling
// QueueFeedback/BeginFrame/EndFrame and its own internal worker threads.
// Resource and Engine are not meant to be driven from more than one
// render thread at a time.
package vtex
