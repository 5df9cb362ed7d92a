// Copyright (C) 2026 Moleculab (dev@moleculab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"sync"

	"github.com/moleculab/molpath/services/pathfinder/molecule"
	"github.com/moleculab/molpath/services/pathfinder/parallel"
)

// findLeaves scans the candidate map, ages every non-source candidate by
// one iteration, and returns clones of the current leaves (path mode's
// morphing frontier). Output order is unspecified.
func (e *Engine) findLeaves(ctx context.Context, ec *Context) ([]*molecule.Molecule, error) {
	keys := ec.Candidates.Keys()

	var mu sync.Mutex
	leaves := make([]*molecule.Molecule, 0, len(keys))

	err := parallel.For(ctx, e.threads, len(keys), func(i int) {
		h, ok := ec.Candidates.Acquire(keys[i])
		if !ok {
			return
		}
		m := h.Mol()
		if !m.IsSource() {
			m.ItersWithoutDistImprovement++
		}
		var clone *molecule.Molecule
		if m.IsLeaf() {
			clone = m.Clone()
		}
		h.Release()

		if clone != nil {
			mu.Lock()
			leaves = append(leaves, clone)
			mu.Unlock()
		}
	})
	return leaves, err
}

// findNextBag scans the candidate map and returns clones of every
// non-decayed candidate (activity mode's frontier), aging both the
// improvement counter and the freshness counter as it goes. Decayed nodes
// are skipped entirely: they contribute no morphs and stop aging.
func (e *Engine) findNextBag(ctx context.Context, ec *Context) ([]*molecule.Molecule, error) {
	keys := ec.Candidates.Keys()

	var mu sync.Mutex
	bag := make([]*molecule.Molecule, 0, len(keys))

	err := parallel.For(ctx, e.threads, len(keys), func(i int) {
		h, ok := ec.Candidates.Acquire(keys[i])
		if !ok {
			return
		}
		m := h.Mol()
		if m.Decayed {
			h.Release()
			return
		}
		m.ItersWithoutDistImprovement++
		m.ItersFresh++
		clone := m.Clone()
		h.Release()

		mu.Lock()
		bag = append(bag, clone)
		mu.Unlock()
	})
	return bag, err
}
