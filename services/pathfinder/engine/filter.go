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

	"github.com/moleculab/molpath/services/pathfinder/molecule"
	"github.com/moleculab/molpath/services/pathfinder/parallel"
	"github.com/moleculab/molpath/services/pathfinder/randx"
)

// maxAcceptableSascore is the synthetic-accessibility cutoff (Ertl's
// recommended value).
const maxAcceptableSascore = 6.0

// filterMorphs evaluates the rejection predicates over the morph list and
// fills survivors.
//
// In path mode the list is sorted and each morph first rolls for survival:
// the first CntCandidatesToKeep morphs (and any morph equal to the target)
// are certain, the tail decays linearly from 25%. Morphs that fail the
// roll are dead without running predicates. Activity mode sends every
// morph through the predicate chain.
func (e *Engine) filterMorphs(ctx context.Context, ec *Context, v variant,
	morphs []*molecule.Molecule, survivors []bool) error {

	n := len(morphs)
	keep := ec.Params.CntCandidatesToKeep
	var rec errRecorder

	err := parallel.For(ctx, e.threads, n, func(idx int) {
		m := morphs[idx]

		if v.stochasticFilter() {
			acceptProbability := 1.0
			isTarget := false
			if !ec.ScaffoldMode() {
				isTarget = m.Fingerprint == ec.Target.Fingerprint
			} else {
				isTarget = m.ScaffoldFingerprint == ec.Target.ScaffoldFingerprint
			}
			if idx >= keep && !isTarget {
				acceptProbability = 0.25 - float64(idx-keep)/(float64(n-keep)*4.0)
			}
			mightSurvive := randx.IntInRange(0, 99) < int(acceptProbability*100)
			if !mightSurvive {
				survivors[idx] = false
				return
			}
		}

		survivors[idx] = !e.morphIsDead(ec, m, &rec)
	})
	if err != nil {
		return err
	}
	return rec.get()
}

// morphIsDead runs the rejection predicates, ordered by cost, short
// circuiting on the first hit.
func (e *Engine) morphIsDead(ec *Context, m *molecule.Molecule, rec *errRecorder) bool {
	p := ec.Params

	// badWeight
	if m.Weight < p.MinAcceptableWeight || m.Weight > p.MaxAcceptableWeight {
		e.logger.Debug("rejecting morph on weight",
			slog.String("fingerprint", m.Fingerprint),
			slog.Float64("weight", m.Weight),
		)
		return true
	}

	// badSascore
	if p.UseSynthesisFeasibility && m.Sascore > maxAcceptableSascore {
		e.logger.Debug("rejecting morph on sascore",
			slog.String("fingerprint", m.Fingerprint),
			slog.Float64("sascore", m.Sascore),
		)
		return true
	}

	// alreadyExists
	if !ec.ScaffoldMode() {
		if ec.Candidates.Contains(m.Fingerprint) {
			return true
		}
	} else {
		inCandidates := ec.CandidateScaffolds.Contains(m.ScaffoldFingerprint)
		onPath := ec.PathScaffolds.Contains(m.ScaffoldFingerprint)
		if inCandidates ||
			(onPath && m.ScaffoldFingerprint != ec.Target.ScaffoldFingerprint) {
			return true
		}
	}

	// alreadyTriedByParent. A missing parent is a corrupt tree, not a
	// rejection.
	ph, ok := ec.Candidates.AcquireShared(m.ParentFingerprint)
	if !ok {
		rec.record(fmt.Errorf("%w: %s claims parent %s",
			ErrMissingParent, m.Fingerprint, m.ParentFingerprint))
		return true
	}
	_, tried := ph.Mol().HistoricDescendants[m.Fingerprint]
	ph.Release()
	if tried {
		return true
	}

	// tooManyProducedMorphs
	if count, ok := ec.Derivations.Get(m.Fingerprint); ok && count > p.CntMaxMorphs {
		return true
	}

	return false
}
