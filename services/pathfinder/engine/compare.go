// Copyright (C) 2026 Moleculab (dev@moleculab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"math"

	"github.com/moleculab/molpath/services/pathfinder/molecule"
)

// dblEpsilon is the distance between 1.0 and the next representable
// float64, the unit used by the comparator's equality tolerance.
const dblEpsilon = 2.220446049250313e-16

// CompareMorphs orders morphs along the arc from the closest decoy to the
// target. Morphs are rated by the sum of their distance to the target and
// to their closest decoy; that sum is minimal on the connecting line
// between decoy and target. When two sums are equal within tolerance the
// morphs may lie on the same connecting line, and proximity to the target
// alone decides, which keeps convergence going in late stages when most
// morphs sit on the line between the last decoy and the target.
//
// Returns true when a sorts before b. The relation is a strict weak
// order: the tolerance band makes near-equal sums compare by
// DistToTarget on both sides.
func CompareMorphs(a, b *molecule.Molecule) bool {
	aSum := a.DistToTarget + a.DistToClosestDecoy
	bSum := b.DistToTarget + b.DistToClosestDecoy

	approxEqual := math.Abs(aSum-bSum) <=
		32*dblEpsilon*math.Max(math.Abs(aSum), math.Abs(bSum))

	if approxEqual {
		return a.DistToTarget < b.DistToTarget
	}
	return aSum < bSum
}
