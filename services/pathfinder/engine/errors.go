// Copyright (C) 2026 Moleculab (dev@moleculab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"errors"
	"sync"
)

// Sentinel errors for the exploration engine.
var (
	// ErrNilContext indicates a nil context.Context was supplied.
	ErrNilContext = errors.New("context must not be nil")

	// ErrInvalidConfig indicates the engine was constructed without a
	// required collaborator.
	ErrInvalidConfig = errors.New("invalid engine configuration")

	// ErrMissingParent indicates a morph names a parent fingerprint that
	// is not in the candidate map. This is an invariant violation: the
	// job aborts rather than continuing on a corrupt tree.
	ErrMissingParent = errors.New("morph parent missing from candidate tree")

	// ErrCorruptTree indicates a parent, ancestor or descendant link (or a
	// prune worklist entry) points at a fingerprint that is not in the
	// candidate map.
	ErrCorruptTree = errors.New("candidate tree descendant link is dangling")
)

// errRecorder captures the first invariant violation observed inside a
// parallel stage. Workers record instead of returning; the driver checks
// the slot when the stage completes.
type errRecorder struct {
	mu  sync.Mutex
	err error
}

func (r *errRecorder) record(err error) {
	r.mu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.mu.Unlock()
}

func (r *errRecorder) get() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
