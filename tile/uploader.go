// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package tile

import (
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/gogpu/vtex/backend"
	"github.com/gogpu/vtex/internal/worker"
)

// resourceOwner is the subset of Resource the uploader needs: the
// engine the notifications flow into, plus the packed-present callback.
// The packed-page and backing-file lookups below type-assert the owner to
// *Resource; an owner of any other type gets no packed pages and an empty
// file name.
type resourceOwner interface {
	engine() *Engine
	markPackedPresent()
}

func (r *Resource) engine() *Engine { return r.Engine }

// Uploader is the DataUploader (C6, §4.5): it owns the UpdateList pool,
// the two injected external collaborators, and the submit + fence-monitor
// threads that drive every UpdateList through its state machine.
type Uploader struct {
	mapping  backend.MappingBackend
	streamer backend.TileStreamer
	pool     *Pool

	// inFlight bounds concurrent tile copies at max_tiles_in_flight (§6).
	inFlight *semaphore.Weighted

	// maxMappingUpdatesPerCall bounds how many coords one Map/Unmap call
	// carries (max_tile_mapping_updates_per_api_call, §6). Zero means
	// unbounded.
	maxMappingUpdatesPerCall int

	resources map[backend.ResourceHandle]resourceOwner

	submitThread *worker.Thread
	fenceThread  *worker.Thread

	submitWake chan struct{}
	fenceWake  chan struct{}
	stop       chan struct{}

	// fatalMu guards fatalErr: the first backend fence failure / device
	// loss observed (§7). Once set, the engine is expected to drain what
	// it can and abort; callers poll Err to notice.
	fatalMu  sync.Mutex
	fatalErr error
}

// setFatal records err as the fatal backend failure if none is recorded
// yet, and logs it at Error level (§7: "surfaced upward as a fatal error;
// engine aborts after draining what it can").
func (u *Uploader) setFatal(op string, resource backend.ResourceHandle, err error) {
	backend.Logger().Error("backend operation failed, engine will abort after draining", "op", op, "resource", resource, "error", err)

	u.fatalMu.Lock()
	defer u.fatalMu.Unlock()
	if u.fatalErr == nil {
		u.fatalErr = err
	}
}

// Err returns the first fatal backend error observed (a MappingBackend or
// TileStreamer failure, per §7), or nil if none has occurred.
func (u *Uploader) Err() error {
	u.fatalMu.Lock()
	defer u.fatalMu.Unlock()
	return u.fatalErr
}

// NewUploader constructs an Uploader bound to mapping and streamer, with a
// pool of the given capacity, maxTilesInFlight bounding concurrent per-tile
// copies, and maxMappingUpdatesPerCall bounding how many coords a single
// Map/Unmap call carries (0 means unbounded).
func NewUploader(mapping backend.MappingBackend, streamer backend.TileStreamer, poolCapacity, maxTilesInFlight int, maxMappingUpdatesPerCall int) *Uploader {
	u := &Uploader{
		mapping:                  mapping,
		streamer:                 streamer,
		pool:                     NewPool(poolCapacity),
		inFlight:                 semaphore.NewWeighted(int64(maxTilesInFlight)),
		maxMappingUpdatesPerCall: maxMappingUpdatesPerCall,
		resources:                make(map[backend.ResourceHandle]resourceOwner),
		submitWake:               make(chan struct{}, 1),
		fenceWake:                make(chan struct{}, 1),
		stop:                     make(chan struct{}),
	}
	return u
}

// mapChunked issues Map in batches of at most u.maxMappingUpdatesPerCall
// coords (§6's max_tile_mapping_updates_per_api_call), returning the last
// (and therefore highest, fences being monotonically increasing, §6) fence
// issued. The caller only needs to wait on that one fence for every chunk
// to have been reached.
func (u *Uploader) mapChunked(resource backend.ResourceHandle, coords []backend.Coord, heapIndices []uint32) (backend.Fence, error) {
	limit := u.maxMappingUpdatesPerCall
	if limit <= 0 || len(coords) <= limit {
		return u.mapping.Map(resource, coords, heapIndices)
	}

	var fence backend.Fence
	for start := 0; start < len(coords); start += limit {
		end := start + limit
		if end > len(coords) {
			end = len(coords)
		}
		f, err := u.mapping.Map(resource, coords[start:end], heapIndices[start:end])
		if err != nil {
			return fence, err
		}
		fence = f
	}
	return fence, nil
}

// unmapChunked is mapChunked's counterpart for Unmap.
func (u *Uploader) unmapChunked(resource backend.ResourceHandle, coords []backend.Coord) (backend.Fence, error) {
	limit := u.maxMappingUpdatesPerCall
	if limit <= 0 || len(coords) <= limit {
		return u.mapping.Unmap(resource, coords)
	}

	var fence backend.Fence
	for start := 0; start < len(coords); start += limit {
		end := start + limit
		if end > len(coords) {
			end = len(coords)
		}
		f, err := u.mapping.Unmap(resource, coords[start:end])
		if err != nil {
			return fence, err
		}
		fence = f
	}
	return fence, nil
}

// Pool returns the UpdateList pool, so ResidencyEngine.QueueTiles can
// allocate from the same pool the uploader drains.
func (u *Uploader) Pool() *Pool { return u.pool }

// Register associates a resource handle with its owner, so notifications
// land on the right Engine/Resource.
func (u *Uploader) Register(handle backend.ResourceHandle, owner resourceOwner) {
	u.resources[handle] = owner
}

// Unregister drops a resource's notification target. Call only after
// finish() has drained its UpdateLists.
func (u *Uploader) Unregister(handle backend.ResourceHandle) {
	delete(u.resources, handle)
}

// Start launches the submit and fence-monitor threads (§4.5.1).
func (u *Uploader) Start() {
	u.submitThread = worker.New()
	u.fenceThread = worker.New()

	go u.submitLoop()
	go u.fenceLoop()
}

// Stop halts both worker threads. Call only after Finish has drained.
func (u *Uploader) Stop() {
	close(u.stop)
	u.submitThread.Stop()
	u.fenceThread.Stop()
}

// WakeSubmit signals the submit thread that at least one UpdateList has
// moved to Submitted. Single-slot: redundant wakes coalesce.
func (u *Uploader) WakeSubmit() {
	select {
	case u.submitWake <- struct{}{}:
	default:
	}
}

func (u *Uploader) wakeFence() {
	select {
	case u.fenceWake <- struct{}{}:
	default:
	}
}

// Finish blocks until every UpdateList in the pool is Free (§5).
func (u *Uploader) Finish() {
	for {
		if u.pool.NumFree() == u.pool.Capacity() {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func (u *Uploader) submitLoop() {
	for {
		select {
		case <-u.stop:
			return
		case <-u.submitWake:
		}

		mappedAny := false
		u.submitThread.CallVoid(func() {
			for _, list := range u.pool.AllItems() {
				if list.State() != Submitted {
					continue
				}
				if u.submitOne(list) {
					mappedAny = true
				}
			}
		})

		if mappedAny {
			u.wakeFence()
		}
	}
}

func (u *Uploader) submitOne(list *UpdateList) bool {
	resource := list.Resource()
	mapped := false

	if len(list.evicts) > 0 {
		fence, err := u.unmapChunked(resource, list.evicts)
		if err == nil {
			list.mapFence = fence
			list.hasMap = true
			mapped = true
		} else {
			u.setFatal("Unmap", resource, err)
		}
	}

	if list.packed {
		owner := u.resources[resource]
		var pages []uint32
		packedLevel := 0
		if r, ok := owner.(*Resource); ok {
			for _, p := range r.PackedPageIndices() {
				pages = append(pages, uint32(p))
			}
			packedLevel = r.engine().State().MipCount()
		}
		// Packed tiles have no (x,y,s) in the per-mip grids (s >= M); the
		// backend only needs a coord per page to bind it, so synthesize
		// one keyed by page order at mip level M.
		coords := make([]backend.Coord, len(pages))
		for i := range coords {
			coords[i] = backend.Coord{X: i, S: packedLevel}
		}
		fence, err := u.mapChunked(resource, coords, pages)
		if err == nil {
			list.mapFence = fence
			list.hasMap = true
			mapped = true
		} else {
			u.setFatal("Map(packed)", resource, err)
		}
		list.state.Store(uint32(PackedMapping))
		return mapped
	}

	if len(list.loads) > 0 {
		coords := make([]backend.Coord, len(list.loads))
		heapIndices := make([]uint32, len(list.loads))
		for i, ld := range list.loads {
			coords[i] = ld.Coord
			heapIndices[i] = ld.HeapIndex
		}
		fence, err := u.mapChunked(resource, coords, heapIndices)
		if err == nil {
			list.mapFence = fence
			list.hasMap = true
			mapped = true
		} else {
			u.setFatal("Map", resource, err)
		}
		list.state.Store(uint32(Uploading))
		return mapped
	}

	list.state.Store(uint32(CopyPending))
	return mapped
}

func (u *Uploader) fenceLoop() {
	for {
		select {
		case <-u.stop:
			return
		case <-u.fenceWake:
		}

		anyInFlight := false
		u.fenceThread.CallVoid(func() {
			for _, list := range u.pool.AllItems() {
				switch list.State() {
				case PackedMapping:
					anyInFlight = true
					u.advancePackedMapping(list)
				case Uploading:
					anyInFlight = true
					u.advanceUploading(list)
				case CopyPending:
					anyInFlight = true
					u.advanceCopyPending(list)
				}
			}
		})

		if anyInFlight {
			u.wakeFence()
			time.Sleep(time.Millisecond)
		}
	}
}

func (u *Uploader) advancePackedMapping(list *UpdateList) {
	if list.hasMap && !u.mapping.Reached(list.mapFence) {
		return
	}

	owner, ok := u.resources[list.Resource()]
	if !ok {
		list.state.Store(uint32(CopyPending))
		return
	}
	r, ok := owner.(*Resource)
	if !ok {
		list.state.Store(uint32(CopyPending))
		return
	}

	pages := make([]uint32, len(r.PackedPageIndices()))
	for i, p := range r.PackedPageIndices() {
		pages[i] = uint32(p)
	}
	ticket, err := u.streamer.StreamPacked(r.file, pages)
	if err == nil {
		list.copyTicks = append(list.copyTicks, ticket)
	} else {
		u.setFatal("StreamPacked", list.Resource(), err)
	}
	list.state.Store(uint32(CopyPending))
}

// advanceUploading issues StreamTile for every load not yet ticketed,
// bounded by the max_tiles_in_flight semaphore, then waits for every
// ticket on the list to complete before advancing to CopyPending. A
// permit acquired for a tile is held until that tile's ticket is
// confirmed complete, then released in bulk once the whole list is done.
func (u *Uploader) advanceUploading(list *UpdateList) {
	if len(list.copyTicks) != len(list.loads) {
		list.copyTicks = make([]backend.Ticket, len(list.loads))
		list.copyIssued = make([]bool, len(list.loads))
	}

	owner := u.resources[list.Resource()]
	file := ""
	if r, ok := owner.(*Resource); ok {
		file = r.file
	}

	allIssued := true
	for i, ld := range list.loads {
		if list.copyIssued[i] {
			continue
		}
		if !u.inFlight.TryAcquire(1) {
			allIssued = false
			continue
		}
		ticket, err := u.streamer.StreamTile(file, ld.Coord, ld.HeapIndex)
		if err != nil {
			u.setFatal("StreamTile", list.Resource(), err)
			u.inFlight.Release(1)
			allIssued = false
			continue
		}
		list.copyTicks[i] = ticket
		list.copyIssued[i] = true
	}
	if !allIssued {
		return // retry the remaining tiles next tick
	}

	if !allTrue(u.streamer.PollComplete(list.copyTicks)) {
		return
	}
	if len(list.loads) > 0 {
		u.inFlight.Release(int64(len(list.loads)))
	}
	list.state.Store(uint32(CopyPending))
}

func (u *Uploader) advanceCopyPending(list *UpdateList) {
	copyDone := true
	if len(list.copyTicks) > 0 {
		copyDone = allTrue(u.streamer.PollComplete(list.copyTicks))
	}
	mapDone := !list.hasMap || u.mapping.Reached(list.mapFence)
	if !copyDone || !mapDone {
		return
	}

	u.deliverNotifications(list)
	u.pool.Release(list)
}

func (u *Uploader) deliverNotifications(list *UpdateList) {
	owner, ok := u.resources[list.Resource()]
	if !ok {
		return
	}
	eng := owner.engine()

	for _, c := range list.evicts {
		eng.State().SetNotResident(c)
	}
	for _, ld := range list.loads {
		eng.State().SetResident(ld.Coord)
	}
	if len(list.evicts) > 0 || len(list.loads) > 0 {
		eng.MarkResidencyChanged()
	}
	if list.packed {
		owner.markPackedPresent()
	}
}

func allTrue(bs []bool) bool {
	for _, b := range bs {
		if !b {
			return false
		}
	}
	return true
}
