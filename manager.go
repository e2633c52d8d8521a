// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package vtex

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/vtex/backend"
	"github.com/gogpu/vtex/internal/heap"
	"github.com/gogpu/vtex/internal/worker"
	"github.com/gogpu/vtex/tile"
)

// ResourceDescriptor describes a streaming texture resource to register
// with a Manager.
type ResourceDescriptor struct {
	// File identifies the resource's backing tile payload store; passed
	// through to TileStreamer verbatim.
	File string

	// Mips is M, the number of standard (streamable) mips.
	Mips int

	// Width and Height are the finest mip's tile-grid dimensions.
	Width, Height int

	// PackedPages is the number of heap pages the resource's permanently
	// resident packed-mip footprint occupies.
	PackedPages int
}

// resourceEntry bundles the per-resource state the Manager tracks.
type resourceEntry struct {
	handle   backend.ResourceHandle
	engine   *tile.Engine
	resource *tile.Resource
	regions  int
}

// FrameDescriptor carries the data the renderer needs to bind the
// residency buffer for sampling and to perform any per-resource state
// transitions (§6's begin_frame).
type FrameDescriptor struct {
	ResidencyBuffer []byte
}

// Manager is the TileUpdateManager (C7, §4.7): the aggregator that owns
// the shared residency buffer and the heap, and drives every registered
// resource's feedback-to-residency pipeline.
//
// Every call that mutates per-resource engine state (process_feedback,
// queue_tiles, ring rotation, min-mip publication) is routed through one
// dedicated worker.Thread, matching §5's T_feedback: there is exactly one
// mutator of refcount/heap_index/residency-transients/min_mip_map,
// regardless of which goroutine called Manager's public methods.
type Manager struct {
	cfg Config

	heap     *heap.Allocator
	uploader *tile.Uploader
	buffer   *residencyBuffer
	feedback *worker.Thread

	mu        sync.RWMutex
	resources map[backend.ResourceHandle]*resourceEntry

	frame atomic.Uint64

	group  *errgroup.Group
	cancel context.CancelFunc
	wake   chan struct{}
}

// NewManager constructs a Manager bound to the given mapping backend and
// tile streamer.
func NewManager(cfg Config, mapping backend.MappingBackend, streamer backend.TileStreamer) *Manager {
	return &Manager{
		cfg:       cfg,
		heap:      heap.New(cfg.HeapPages),
		uploader:  tile.NewUploader(mapping, streamer, cfg.MaxCopyBatches, cfg.MaxTilesInFlight, cfg.MaxTileMappingUpdatesPerAPICall),
		buffer:    newResidencyBuffer(),
		resources: make(map[backend.ResourceHandle]*resourceEntry),
		wake:      make(chan struct{}, 1),
	}
}

// CreateStreamingResource registers a new resource and begins its
// packed-mip bootstrap (§4.6). The resource is not drawable until
// Resource.Ready reports true. The bootstrap is attempted once, here: if
// the heap or the UpdateList pool cannot serve it at that moment, it is not
// attempted again and the resource does not become Ready. The new engine is
// published to the feedback thread after that attempt returns.
func (m *Manager) CreateStreamingResource(handle backend.ResourceHandle, desc ResourceDescriptor) (*tile.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.resources[handle]; exists {
		return nil, ErrResourceExists
	}

	engine := tile.NewEngine(handle, desc.Mips, desc.Width, desc.Height, m.cfg.SwapBuffers, m.cfg.engineConfig(), m.heap, m.uploader.Pool())
	resource := tile.NewResource(handle, desc.File, engine)

	m.uploader.Register(handle, resource)
	m.buffer.register(uint64(handle), desc.Width*desc.Height)

	if !resource.Bootstrap(desc.PackedPages, m.heap, m.uploader.Pool()) {
		backend.Logger().Warn("packed-mip bootstrap not started, heap or UpdateList pool exhausted", "resource", handle)
	} else {
		m.uploader.WakeSubmit()
	}

	m.resources[handle] = &resourceEntry{
		handle:   handle,
		engine:   engine,
		resource: resource,
		regions:  desc.Width * desc.Height,
	}
	return resource, nil
}

// Start launches the Manager's worker threads: the Uploader's submit and
// fence-monitor threads, and the feedback thread that repeatedly iterates
// every registered resource calling process_feedback and queue_tiles
// (§4.7).
func (m *Manager) Start() error {
	if m.group != nil {
		return ErrAlreadyStarted
	}

	m.uploader.Start()
	m.feedback = worker.New()

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	g, ctx := errgroup.WithContext(ctx)
	m.group = g

	g.Go(func() error {
		m.pollLoop(ctx)
		return nil
	})

	return nil
}

// Stop halts the feedback and uploader threads. Call after Finish drains.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
		_ = m.group.Wait()
		m.group = nil
	}
	if m.feedback != nil {
		m.feedback.Stop()
	}
	m.uploader.Stop()
}

// QueueFeedback records a resolved sampler-feedback buffer for handle,
// tagged with the render fence at which it was resolved. Safe to call
// from the render thread: Engine.QueueFeedback has its own internal lock
// and never touches T_feedback-owned state directly.
func (m *Manager) QueueFeedback(handle backend.ResourceHandle, resolved []byte, renderFence uint64) error {
	entry, ok := m.lookup(handle)
	if !ok {
		return ErrResourceUnknown
	}
	entry.engine.QueueFeedback(resolved, renderFence)
	m.wakePoll()
	return nil
}

// SetResidencyChanged flags handle's residency map for republishing at the
// next EndFrame, bypassing the normal completion-notification trigger.
func (m *Manager) SetResidencyChanged(handle backend.ResourceHandle) error {
	entry, ok := m.lookup(handle)
	if !ok {
		return ErrResourceUnknown
	}
	entry.engine.MarkResidencyChanged()
	return nil
}

// BeginFrame returns the current shared residency buffer snapshot for the
// renderer to bind before drawing.
func (m *Manager) BeginFrame() FrameDescriptor {
	return FrameDescriptor{ResidencyBuffer: m.buffer.snapshot()}
}

// EndFrame advances every resource's eviction delay ring and republishes
// any resource whose residency changed this frame (§4.7). Both operations
// run on the feedback thread, serialized against process_feedback and
// queue_tiles.
func (m *Manager) EndFrame(frameFenceCompleted uint64) {
	m.frame.Store(frameFenceCompleted)
	entries := m.snapshotEntries()

	m.feedback.CallVoid(func() {
		for _, e := range entries {
			e.engine.Ring().NextFrame()
			if e.engine.UpdateMinMipMap() {
				m.buffer.publish(uint64(e.handle), e.engine.MinMipMap())
			}
		}
	})
}

// Finish blocks until the Uploader's UpdateList pool is fully free (§5).
func (m *Manager) Finish() {
	m.uploader.Finish()
}

// Err returns the first fatal backend error observed — a MappingBackend or
// TileStreamer failure (§7) — or nil if none has occurred. Callers should
// treat a non-nil result as fatal: drain via Finish and tear the Manager
// down rather than continue driving frames.
func (m *Manager) Err() error {
	return m.uploader.Err()
}

func (m *Manager) lookup(handle backend.ResourceHandle) (*resourceEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.resources[handle]
	return e, ok
}

func (m *Manager) snapshotEntries() []*resourceEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*resourceEntry, 0, len(m.resources))
	for _, e := range m.resources {
		out = append(out, e)
	}
	return out
}

func (m *Manager) wakePoll() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// pollLoop wakes on queued feedback or a periodic tick and dispatches one
// process_feedback + queue_tiles pass per resource onto the feedback
// thread, so abandoned loads and rescues still make progress even without
// fresh feedback.
func (m *Manager) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(4 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		case <-ticker.C:
		}

		entries := m.snapshotEntries()
		frame := m.frame.Load()
		submittedAny := false

		m.feedback.CallVoid(func() {
			for _, e := range entries {
				e.engine.ProcessFeedback(frame)
				before := e.engine.Stats()
				e.engine.QueueTiles()
				after := e.engine.Stats()
				if after.PendingLoads < before.PendingLoads || after.PendingEvicts < before.PendingEvicts {
					submittedAny = true
				}
			}
		})

		if submittedAny {
			m.uploader.WakeSubmit()
		}
	}
}
