// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package fake

import (
	"testing"

	"github.com/gogpu/vtex/backend"
)

func TestMapping_AutoComplete(t *testing.T) {
	m := NewMapping()

	fence, err := m.Map(1, []backend.Coord{{X: 0, Y: 0, S: 0}}, []uint32{3})
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if !m.Reached(fence) {
		t.Error("fence should be reached immediately with AutoComplete")
	}
}

func TestMapping_ManualComplete(t *testing.T) {
	m := NewMapping()
	m.AutoComplete = false

	fence, _ := m.Map(1, []backend.Coord{{X: 0, Y: 0, S: 0}}, []uint32{3})
	if m.Reached(fence) {
		t.Error("fence should not be reached before Complete")
	}

	m.Complete(fence)
	if !m.Reached(fence) {
		t.Error("fence should be reached after Complete")
	}
}

func TestStreamer_ManualComplete(t *testing.T) {
	s := NewStreamer()
	s.AutoComplete = false

	ticket, _ := s.StreamTile("res.bin", backend.Coord{X: 0, Y: 0, S: 0}, 5)
	done := s.PollComplete([]backend.Ticket{ticket})
	if done[0] {
		t.Error("ticket should not be complete before Complete")
	}

	s.Complete(ticket)
	done = s.PollComplete([]backend.Ticket{ticket})
	if !done[0] {
		t.Error("ticket should be complete after Complete")
	}
}

func TestStreamer_RecordsCalls(t *testing.T) {
	s := NewStreamer()

	s.StreamTile("res.bin", backend.Coord{X: 1, Y: 2, S: 0}, 7)
	if len(s.TilesStreamed) != 1 || s.TilesStreamed[0] != 7 {
		t.Errorf("TilesStreamed = %v, want [7]", s.TilesStreamed)
	}

	s.StreamPacked("res.bin", []uint32{0, 1})
	if len(s.PackedStreamed) != 1 {
		t.Fatalf("PackedStreamed length = %d, want 1", len(s.PackedStreamed))
	}
}
