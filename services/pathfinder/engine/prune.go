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
	"log/slog"

	"github.com/moleculab/molpath/services/pathfinder/parallel"
)

// pruneTree walks the tree from its roots with a parallel worklist and
// removes stale growth.
//
// Per node, in order:
//
//   - Decayed nodes (activity mode) are inert: their children are fed to
//     the worklist and nothing else happens.
//   - A node past its freshness budget decays now, once, and is likewise
//     only traversed.
//   - A node that is deferred (externally flagged) or stale
//     (ItersWithoutDistImprovement past the threshold) and is not a
//     source either loses its whole subtree (when deferred, or when its
//     cumulative morph charge exceeds CntMaxMorphs) or keeps its place
//     but loses all children and starts a fresh staleness count.
//   - Everything else just feeds its children.
//
// Every erased fingerprint is detached from its parent, appended to the
// pruned log, removed from the scaffold index in scaffold mode, and
// erased from the candidate map. Sources are never erased.
func (e *Engine) pruneTree(ctx context.Context, ec *Context, v variant, deferred map[string]struct{}) error {
	var rec errRecorder

	err := parallel.Do(ctx, e.threads, ec.pruneRoots(), func(key string, feeder parallel.Feeder[string]) {
		h, ok := ec.Candidates.Acquire(key)
		if !ok {
			rec.record(fmt.Errorf("%w: prune worklist entry %s", ErrCorruptTree, key))
			return
		}
		m := h.Mol()

		if v.usesDecay() {
			if m.Decayed {
				for child := range m.Descendants {
					feeder.Add(child)
				}
				h.Release()
				return
			}
			if m.ItersFresh > ec.Params.DecayThreshold {
				e.logger.Info("decaying candidate",
					slog.String("fingerprint", m.Fingerprint),
					slog.String("id", m.ID),
				)
				m.Decayed = true
				for child := range m.Descendants {
					feeder.Add(child)
				}
				h.Release()
				return
			}
		}

		_, isDeferred := deferred[key]
		stale := m.ItersWithoutDistImprovement > ec.Params.ItThreshold

		if (isDeferred || stale) && !m.IsSource() {
			tooManyDerivations := false
			if count, ok := ec.Derivations.Get(key); ok {
				tooManyDerivations = count > ec.Params.CntMaxMorphs
			}

			if isDeferred || tooManyDerivations {
				// Whole-subtree erase, node included.
				parentKey := m.ParentFingerprint
				h.Release()

				ph, ok := ec.Candidates.Acquire(parentKey)
				if !ok {
					rec.record(fmt.Errorf("%w: parent %s of pruned %s",
						ErrCorruptTree, parentKey, key))
					return
				}
				delete(ph.Mol().Descendants, key)
				ph.Release()

				e.eraseSubtree(ec, key, &rec)
			} else {
				// Keep the node, purge its children: a clean slate.
				children := make([]string, 0, len(m.Descendants))
				for child := range m.Descendants {
					children = append(children, child)
				}
				for _, child := range children {
					e.eraseSubtree(ec, child, &rec)
				}
				m.Descendants = make(map[string]struct{})
				m.ItersWithoutDistImprovement = 0
				h.Release()
			}
		} else {
			for child := range m.Descendants {
				feeder.Add(child)
			}
			h.Release()
		}
	})
	if err != nil {
		return err
	}
	return rec.get()
}

// eraseSubtree removes root and everything below it, breadth-first.
func (e *Engine) eraseSubtree(ec *Context, root string, rec *errRecorder) {
	queue := []string{root}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		h, ok := ec.Candidates.Acquire(current)
		if !ok {
			rec.record(fmt.Errorf("%w: erasing %s", ErrCorruptTree, current))
			continue
		}
		m := h.Mol()
		for child := range m.Descendants {
			queue = append(queue, child)
		}
		scaffold := m.ScaffoldFingerprint
		h.Release()

		ec.Pruned.Append(current)
		if ec.ScaffoldMode() {
			ec.CandidateScaffolds.Erase(scaffold)
		}
		ec.Candidates.Erase(current)
	}
}
