// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

// Package fake provides in-process MappingBackend and TileStreamer fakes
// for tests, per §9: "for tests, provide in-process fakes that complete
// on demand." Both fakes default to completing every fence/ticket
// immediately; tests that need to exercise in-flight states (delayed
// completion, heap pressure across ticks) can disable AutoComplete and
// drive completion explicitly.
package fake

import (
	"sync"

	"github.com/gogpu/vtex/backend"
)

// Mapping is an in-process backend.MappingBackend.
type Mapping struct {
	mu sync.Mutex

	// AutoComplete, when true (the default), makes every fence Reached
	// immediately. Set false to control completion timing from a test via
	// Complete.
	AutoComplete bool

	nextFence backend.Fence
	completed map[backend.Fence]bool

	// Calls records every Map/Unmap invocation for assertions.
	Calls []MappingCall
}

// MappingCall records one Map or Unmap invocation.
type MappingCall struct {
	Unmap    bool
	Resource backend.ResourceHandle
	Coords   []backend.Coord
}

// NewMapping returns a Mapping fake with AutoComplete enabled.
func NewMapping() *Mapping {
	return &Mapping{
		AutoComplete: true,
		completed:    make(map[backend.Fence]bool),
	}
}

func (m *Mapping) issue() backend.Fence {
	m.nextFence++
	f := m.nextFence
	if m.AutoComplete {
		m.completed[f] = true
	}
	return f
}

// Map implements backend.MappingBackend.
func (m *Mapping) Map(resource backend.ResourceHandle, coords []backend.Coord, heapIndices []uint32) (backend.Fence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := make([]backend.Coord, len(coords))
	copy(cp, coords)
	m.Calls = append(m.Calls, MappingCall{Resource: resource, Coords: cp})
	return m.issue(), nil
}

// Unmap implements backend.MappingBackend.
func (m *Mapping) Unmap(resource backend.ResourceHandle, coords []backend.Coord) (backend.Fence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := make([]backend.Coord, len(coords))
	copy(cp, coords)
	m.Calls = append(m.Calls, MappingCall{Unmap: true, Resource: resource, Coords: cp})
	return m.issue(), nil
}

// Reached implements backend.MappingBackend.
func (m *Mapping) Reached(fence backend.Fence) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completed[fence]
}

// Complete marks fence (and everything issued before it) as reached. Use
// with AutoComplete = false to control timing deterministically.
func (m *Mapping) Complete(fence backend.Fence) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for f := backend.Fence(1); f <= fence; f++ {
		m.completed[f] = true
	}
}

// Streamer is an in-process backend.TileStreamer.
type Streamer struct {
	mu sync.Mutex

	// AutoComplete, when true (the default), makes every ticket complete
	// immediately.
	AutoComplete bool

	nextTicket backend.Ticket
	completed  map[backend.Ticket]bool

	// TilesStreamed records every StreamTile destination page, in order.
	TilesStreamed []uint32
	// PackedStreamed records every StreamPacked invocation's pages.
	PackedStreamed [][]uint32
}

// NewStreamer returns a Streamer fake with AutoComplete enabled.
func NewStreamer() *Streamer {
	return &Streamer{
		AutoComplete: true,
		completed:    make(map[backend.Ticket]bool),
	}
}

func (s *Streamer) issue() backend.Ticket {
	s.nextTicket++
	t := s.nextTicket
	if s.AutoComplete {
		s.completed[t] = true
	}
	return t
}

// StreamTile implements backend.TileStreamer.
func (s *Streamer) StreamTile(resourceFile string, coord backend.Coord, dstHeapPage uint32) (backend.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TilesStreamed = append(s.TilesStreamed, dstHeapPage)
	return s.issue(), nil
}

// StreamPacked implements backend.TileStreamer.
func (s *Streamer) StreamPacked(resourceFile string, packedPages []uint32) (backend.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]uint32, len(packedPages))
	copy(cp, packedPages)
	s.PackedStreamed = append(s.PackedStreamed, cp)
	return s.issue(), nil
}

// PollComplete implements backend.TileStreamer.
func (s *Streamer) PollComplete(tickets []backend.Ticket) []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]bool, len(tickets))
	for i, t := range tickets {
		out[i] = s.completed[t]
	}
	return out
}

// Complete marks ticket (and everything issued before it) as done.
func (s *Streamer) Complete(ticket backend.Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for t := backend.Ticket(1); t <= ticket; t++ {
		s.completed[t] = true
	}
}
