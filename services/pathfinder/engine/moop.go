// Copyright (C) 2026 Moleculab (dev@moleculab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"log/slog"

	"github.com/moleculab/molpath/services/pathfinder/molecule"
	"github.com/moleculab/molpath/services/pathfinder/parallel"
)

// moopFilter peels dominated layers off the morph set, up to MaxMOOPRuns
// passes or until no morph remains scheduled.
//
// A morph is non-optimal when some other scheduled morph has a signed
// etalon distance no larger on every descriptor and strictly smaller on at
// least one; the signed components are compared as-is, not by magnitude.
// Each pass keeps the non-optimal flag in next — the rejected frontier is
// re-examined by the following pass — and mirrors the
// complement into survivors. The fixed point is the Pareto frontier over
// descriptor space.
func (e *Engine) moopFilter(ctx context.Context, ec *Context,
	morphs []*molecule.Molecule, survivors []bool) error {

	next := make([]bool, len(survivors))
	copy(next, survivors)

	run := 0
	for run < ec.Params.MaxMOOPRuns {
		scheduled := 0
		accepted := 0
		for idx := range next {
			if next[idx] {
				scheduled++
			}
			if survivors[idx] {
				accepted++
			}
		}
		e.logger.Debug("moop pass",
			slog.Int("run", run+1),
			slog.Int("scheduled", scheduled),
			slog.Int("survivors", accepted),
		)
		if scheduled == 0 {
			break
		}
		if err := e.moopPass(ctx, morphs, survivors, next); err != nil {
			return err
		}
		run++
	}
	return nil
}

// moopPass runs one domination sweep. The pass reads a snapshot of the
// scheduling mask so every element is judged against the same frontier
// regardless of worker interleaving, then writes the new mask.
func (e *Engine) moopPass(ctx context.Context, morphs []*molecule.Molecule,
	survivors, next []bool) error {

	in := make([]bool, len(next))
	copy(in, next)

	return parallel.For(ctx, e.threads, len(morphs), func(idx int) {
		if !in[idx] {
			return
		}
		first := morphs[idx].EtalonDistances

		notOptimal := false
		for second := range morphs {
			if second == idx || !in[second] {
				continue
			}
			dominated := dominates(morphs[second].EtalonDistances, first)
			if dominated {
				notOptimal = true
				break
			}
		}
		next[idx] = notOptimal
		survivors[idx] = !notOptimal
	})
}

// dominates reports whether candidate b is at least as good as a on every
// descriptor and not identical. Distances are "lower is better".
func dominates(b, a []float64) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return false
	}
	bad := 0
	equal := 0
	for k := 0; k < n; k++ {
		if a[k] >= b[k] {
			bad++
		}
		if a[k] == b[k] {
			equal++
		}
	}
	return bad == len(a) && equal != len(a)
}
