// Copyright (C) 2026 Moleculab (dev@moleculab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/moleculab/molpath/services/pathfinder/molecule"
	"github.com/moleculab/molpath/services/pathfinder/parallel"
	"github.com/moleculab/molpath/services/pathfinder/store"
)

// updateTree back-propagates the "this subtree improved" signal.
//
// For every parent that gained children this iteration, the minimum child
// distance is computed, then the ancestor chain is walked toward the
// root; every ancestor whose own distance exceeds that minimum gets its
// staleness counter reset. The walk holds at most one exclusive handle at
// a time: the current handle is released before the parent's is acquired,
// which is what keeps concurrent walks deadlock-free.
//
// Mode asymmetry, kept deliberately: the path-mode walk terminates at the
// root without touching its counter; the activity-mode walk also resets
// the root's counter unconditionally when it reaches it.
func (e *Engine) updateTree(ctx context.Context, ec *Context, v variant, parents []string) error {
	var rec errRecorder

	err := parallel.For(ctx, e.threads, len(parents), func(i int) {
		h, ok := ec.Candidates.Acquire(parents[i])
		if !ok {
			// The parent was pruned... cannot happen between accept and
			// update, so treat it as corruption.
			rec.record(fmt.Errorf("%w: modified parent %s vanished",
				ErrCorruptTree, parents[i]))
			return
		}

		minDistance := e.minChildDistance(ec, v, h, &rec)

		if v.resetRootOnWalk() {
			e.walkToRootActivity(ec, v, h, minDistance, &rec)
		} else {
			e.walkToRootPath(ec, v, h, minDistance, &rec)
		}
	})
	if err != nil {
		return err
	}
	return rec.get()
}

// minChildDistance scans the held parent's current children. Child
// handles are shared and taken one at a time while the parent stays held;
// the wait graph only ever follows the parent-to-child direction here.
func (e *Engine) minChildDistance(ec *Context, v variant, h *store.Handle, rec *errRecorder) float64 {
	minDistance := math.Inf(1)
	for child := range h.Mol().Descendants {
		ch, ok := ec.Candidates.AcquireShared(child)
		if !ok {
			rec.record(fmt.Errorf("%w: descendant %s of %s",
				ErrCorruptTree, child, h.Mol().Fingerprint))
			continue
		}
		if d := v.dist(ch.Mol()); d < minDistance {
			minDistance = d
		}
		ch.Release()
	}
	return minDistance
}

// walkToRootPath updates ancestors until it stands on the root, leaving
// the root untouched. In scaffold mode the synthetic temp source is the
// root.
func (e *Engine) walkToRootPath(ec *Context, v variant, h *store.Handle,
	minDistance float64, rec *errRecorder) {

	atRoot := func(m *molecule.Molecule) bool {
		if ec.ScaffoldMode() {
			return m.Fingerprint == ec.TempSource.Fingerprint
		}
		return m.IsSource()
	}

	for !atRoot(h.Mol()) {
		if minDistance < v.dist(h.Mol()) {
			h.Mol().ItersWithoutDistImprovement = 0
		}
		next := h.Mol().ParentFingerprint
		h.Release()
		var ok bool
		h, ok = ec.Candidates.Acquire(next)
		if !ok {
			rec.record(fmt.Errorf("%w: ancestor %s", ErrCorruptTree, next))
			return
		}
	}
	h.Release()
}

// walkToRootActivity updates every ancestor including the root, whose
// counter is reset unconditionally on arrival.
func (e *Engine) walkToRootActivity(ec *Context, v variant, h *store.Handle,
	minDistance float64, rec *errRecorder) {

	for {
		m := h.Mol()
		if minDistance < v.dist(m) {
			m.ItersWithoutDistImprovement = 0
		}
		next := m.ParentFingerprint
		if next == "" {
			m.ItersWithoutDistImprovement = 0
			h.Release()
			return
		}
		h.Release()
		var ok bool
		h, ok = ec.Candidates.Acquire(next)
		if !ok {
			rec.record(fmt.Errorf("%w: ancestor %s", ErrCorruptTree, next))
			return
		}
	}
}
