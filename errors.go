// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package vtex

import (
	"errors"

	"github.com/gogpu/vtex/backend"
)

// Sentinel errors re-exported from backend.
var (
	ErrDeviceLost      = backend.ErrDeviceLost
	ErrResourceUnknown = backend.ErrResourceUnknown
)

// Public API sentinel errors.
var (
	// ErrAlreadyStarted is returned by Start when the Manager's worker
	// thread is already running.
	ErrAlreadyStarted = errors.New("vtex: manager already started")

	// ErrResourceExists is returned by CreateStreamingResource when the
	// given handle is already registered.
	ErrResourceExists = errors.New("vtex: resource already registered")
)
