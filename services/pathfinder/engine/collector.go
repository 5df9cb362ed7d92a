// Copyright (C) 2026 Moleculab (dev@moleculab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"sync"
	"sync/atomic"

	"github.com/moleculab/molpath/services/pathfinder/molecule"
)

// MorphCollector is the deduplicating sink handed to the morphing kernel.
//
// The kernel calls OnMorph from arbitrary worker goroutines. Every call,
// duplicate or not, counts one collect attempt so the producing parent is
// charged even for morphs it failed to make unique. Only the first
// occurrence of a fingerprint enters the output sequence.
type MorphCollector struct {
	attempts atomic.Uint32

	mu     sync.Mutex
	seen   map[string]struct{}
	morphs []*molecule.Molecule
}

// NewMorphCollector returns an empty collector.
func NewMorphCollector() *MorphCollector {
	return &MorphCollector{seen: make(map[string]struct{})}
}

// OnMorph implements chem.MorphSink.
func (c *MorphCollector) OnMorph(m *molecule.Molecule) {
	c.attempts.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.seen[m.Fingerprint]; dup {
		return
	}
	c.seen[m.Fingerprint] = struct{}{}
	c.morphs = append(c.morphs, m)
}

// WithdrawAttemptCount returns the attempt count accumulated since the
// last withdrawal and resets it. The driver charges the count to the
// parent that just produced morphs.
func (c *MorphCollector) WithdrawAttemptCount() uint32 {
	return c.attempts.Swap(0)
}

// Morphs returns the deduplicated output sequence. The order is the
// arrival order of first occurrences; the comparator sort imposes the
// meaningful order afterwards.
func (c *MorphCollector) Morphs() []*molecule.Molecule {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.morphs
}
