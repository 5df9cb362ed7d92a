// Copyright (C) 2026 Moleculab (dev@moleculab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moleculab/molpath/services/pathfinder/molecule"
)

// staleTree builds CC -> CCN -> {CCNN, CCNO} with CCN past the staleness
// threshold.
func staleTree(t *testing.T, ec *Context) {
	seed(t, ec, "CC", "", nil)
	seed(t, ec, "CCN", "CC", func(m *molecule.Molecule) {
		m.ItersWithoutDistImprovement = ec.Params.ItThreshold + 1
	})
	seed(t, ec, "CCNN", "CCN", nil)
	seed(t, ec, "CCNO", "CCN", nil)
}

func TestPrune_StaleWithTooManyDerivations_ErasesSubtree(t *testing.T) {
	ec := pathContext()
	staleTree(t, ec)
	ec.Derivations.Add("CCN", ec.Params.CntMaxMorphs+1)

	e := newTestEngine()
	require.NoError(t, e.pruneTree(context.Background(), ec, pathVariant{}, nil))

	assert.False(t, ec.Candidates.Contains("CCN"))
	assert.False(t, ec.Candidates.Contains("CCNN"))
	assert.False(t, ec.Candidates.Contains("CCNO"))
	assert.True(t, ec.Candidates.Contains("CC"), "sources are never erased")

	pruned := ec.Pruned.Snapshot()
	assert.ElementsMatch(t, []string{"CCN", "CCNN", "CCNO"}, pruned)

	rh, ok := ec.Candidates.AcquireShared("CC")
	require.True(t, ok)
	assert.Empty(t, rh.Mol().Descendants, "erased child detached from parent")
	rh.Release()

	checkTreeInvariants(t, ec)
}

func TestPrune_StaleWithinBudget_PurgesChildrenOnly(t *testing.T) {
	ec := pathContext()
	staleTree(t, ec)
	// Derivation charge stays under the cap: keep the node, clean slate.

	e := newTestEngine()
	require.NoError(t, e.pruneTree(context.Background(), ec, pathVariant{}, nil))

	assert.True(t, ec.Candidates.Contains("CCN"), "node itself is kept")
	assert.False(t, ec.Candidates.Contains("CCNN"))
	assert.False(t, ec.Candidates.Contains("CCNO"))

	rh, ok := ec.Candidates.AcquireShared("CCN")
	require.True(t, ok)
	assert.Empty(t, rh.Mol().Descendants)
	assert.Zero(t, rh.Mol().ItersWithoutDistImprovement, "clean slate")
	rh.Release()

	assert.ElementsMatch(t, []string{"CCNN", "CCNO"}, ec.Pruned.Snapshot())
}

func TestPrune_DeferredErasesSubtreeRegardlessOfBudget(t *testing.T) {
	ec := pathContext()
	seed(t, ec, "CC", "", nil)
	seed(t, ec, "CCN", "CC", nil) // not stale at all
	seed(t, ec, "CCNN", "CCN", nil)

	deferred := map[string]struct{}{"CCN": {}}

	e := newTestEngine()
	require.NoError(t, e.pruneTree(context.Background(), ec, pathVariant{}, deferred))

	assert.False(t, ec.Candidates.Contains("CCN"))
	assert.False(t, ec.Candidates.Contains("CCNN"))
	assert.ElementsMatch(t, []string{"CCN", "CCNN"}, ec.Pruned.Snapshot())
}

func TestPrune_FreshTreeUntouched(t *testing.T) {
	ec := pathContext()
	seed(t, ec, "CC", "", nil)
	seed(t, ec, "CCN", "CC", nil)
	seed(t, ec, "CCNN", "CCN", nil)

	e := newTestEngine()
	require.NoError(t, e.pruneTree(context.Background(), ec, pathVariant{}, nil))

	assert.Equal(t, 3, ec.Candidates.Len())
	assert.Empty(t, ec.Pruned.Snapshot())
}

func TestPrune_StaleSourceSurvives(t *testing.T) {
	ec := pathContext()
	seed(t, ec, "CC", "", func(m *molecule.Molecule) {
		m.ItersWithoutDistImprovement = ec.Params.ItThreshold + 10
	})

	e := newTestEngine()
	require.NoError(t, e.pruneTree(context.Background(), ec, pathVariant{}, nil))
	assert.True(t, ec.Candidates.Contains("CC"))
}

func TestPrune_ActivityDecay(t *testing.T) {
	ec := activityContext()
	ec.StartMols = []string{"CC"}
	seed(t, ec, "CC", "", nil)
	seed(t, ec, "CCN", "CC", func(m *molecule.Molecule) {
		m.ItersFresh = ec.Params.DecayThreshold + 1
	})
	seed(t, ec, "CCNN", "CCN", nil)

	e := newTestEngine()
	require.NoError(t, e.pruneTree(context.Background(), ec, activityVariant{}, nil))

	rh, ok := ec.Candidates.AcquireShared("CCN")
	require.True(t, ok)
	assert.True(t, rh.Mol().Decayed, "past the freshness budget")
	rh.Release()

	assert.True(t, ec.Candidates.Contains("CCN"), "decayed node remains in the tree")
	assert.True(t, ec.Candidates.Contains("CCNN"), "descendants are traversed, not erased")
	assert.Empty(t, ec.Pruned.Snapshot())
}

func TestPrune_DecayedNodeIsInert(t *testing.T) {
	// An already-decayed node is only traversed: no second decay, no
	// pruning even when stale.
	ec := activityContext()
	ec.StartMols = []string{"CC"}
	seed(t, ec, "CC", "", nil)
	seed(t, ec, "CCN", "CC", func(m *molecule.Molecule) {
		m.Decayed = true
		m.ItersWithoutDistImprovement = ec.Params.ItThreshold + 10
	})
	seed(t, ec, "CCNN", "CCN", func(m *molecule.Molecule) {
		m.ItersWithoutDistImprovement = ec.Params.ItThreshold + 1
	})
	ec.Derivations.Add("CCNN", ec.Params.CntMaxMorphs+1)

	e := newTestEngine()
	require.NoError(t, e.pruneTree(context.Background(), ec, activityVariant{}, nil))

	assert.True(t, ec.Candidates.Contains("CCN"), "decayed node never pruned")
	assert.False(t, ec.Candidates.Contains("CCNN"),
		"children of a decayed node still prune normally")
}

func TestPrune_WideTree(t *testing.T) {
	// A branchy tree exercises the worklist across workers.
	ec := pathContext()
	seed(t, ec, "CC", "", nil)
	fingerprints := []string{"CA", "CB", "CD", "CE", "CF", "CG", "CH", "CI"}
	for _, fp := range fingerprints {
		seed(t, ec, fp, "CC", nil)
		seed(t, ec, fp+"X", fp, nil)
	}

	e := newTestEngine()
	require.NoError(t, e.pruneTree(context.Background(), ec, pathVariant{}, nil))
	assert.Equal(t, 1+2*len(fingerprints), ec.Candidates.Len())
}
