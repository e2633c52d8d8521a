// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package backend

import "errors"

// Errors a MappingBackend or TileStreamer may return. All are treated as
// fatal by the engine (§7 Backend fence failure / device loss): there is
// no recoverable path once the backend itself has failed, so the engine
// surfaces these upward and aborts after draining what it can.
var (
	// ErrDeviceLost indicates the backing GPU device is gone and cannot
	// be recovered; the caller must tear down and recreate the engine.
	ErrDeviceLost = errors.New("backend: device lost")

	// ErrResourceUnknown indicates a ResourceHandle the backend has never
	// seen, which is always a caller bug (a handle outlived its resource).
	ErrResourceUnknown = errors.New("backend: unknown resource handle")
)
