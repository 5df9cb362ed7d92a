// Copyright (C) 2026 Moleculab (dev@moleculab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"fmt"
	"sync"

	"github.com/moleculab/molpath/services/pathfinder/molecule"
	"github.com/moleculab/molpath/services/pathfinder/parallel"
)

// acceptMorphs commits surviving morphs into the candidate tree via a
// parallel prefix scan.
//
// The scan gives every survivor its exclusive prefix count, so the
// per-iteration acceptance cap (path mode) admits exactly the first
// CntCandidatesToKeepMax survivors in comparator order even though blocks
// commit concurrently. Each accepted morph is inserted, then its parent
// is locked and gains the morph in both descendant sets; the parent joins
// the modified set that seeds the tree update. In scaffold mode the
// scaffold index is claimed first; a collision skips the morph.
//
// Outputs:
//
//	[]string - modified parent fingerprints (unordered).
//	int - total survivor count (cap overflow included; the acceptance
//	      ratio report uses it).
//	error - first invariant violation observed, if any.
func (e *Engine) acceptMorphs(ec *Context, v variant,
	morphs []*molecule.Molecule, survivors []bool) ([]string, int, error) {

	capEnabled := v.acceptCap()
	capLimit := ec.Params.CntCandidatesToKeepMax

	var rec errRecorder
	var mu sync.Mutex
	modified := make(map[string]struct{})

	weight := func(i int) int {
		if survivors[i] {
			return 1
		}
		return 0
	}

	commit := func(i, prefix int) {
		if !survivors[i] {
			return
		}
		if capEnabled && prefix >= capLimit {
			return
		}

		m := morphs[i].Clone()
		m.EnsureSets()

		if ec.ScaffoldMode() {
			if !ec.CandidateScaffolds.InsertIfAbsent(m.ScaffoldFingerprint, m.Fingerprint) {
				// Scaffold already claimed by an earlier candidate.
				return
			}
		}

		h, _ := ec.Candidates.Insert(m)
		h.Set(m)
		h.Release()

		ph, ok := ec.Candidates.Acquire(m.ParentFingerprint)
		if !ok {
			rec.record(fmt.Errorf("%w: accepting %s under %s",
				ErrMissingParent, m.Fingerprint, m.ParentFingerprint))
			return
		}
		pm := ph.Mol()
		pm.EnsureSets()
		pm.Descendants[m.Fingerprint] = struct{}{}
		pm.HistoricDescendants[m.Fingerprint] = struct{}{}
		parent := pm.Fingerprint
		ph.Release()

		mu.Lock()
		modified[parent] = struct{}{}
		mu.Unlock()
	}

	total := parallel.Scan(e.threads, len(morphs), weight, commit)

	parents := make([]string, 0, len(modified))
	for p := range modified {
		parents = append(parents, p)
	}
	return parents, total, rec.get()
}
