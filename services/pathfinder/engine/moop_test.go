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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moleculab/molpath/services/pathfinder/molecule"
)

func withDistances(vectors ...[]float64) []*molecule.Molecule {
	mols := make([]*molecule.Molecule, len(vectors))
	for i, v := range vectors {
		mols[i] = molecule.New(fmt.Sprintf("m%d", i))
		mols[i].ID = fmt.Sprintf("M%d", i)
		mols[i].EtalonDistances = v
	}
	return mols
}

func TestMoopPass_ParetoReduction(t *testing.T) {
	morphs := withDistances([]float64{1, 2}, []float64{2, 3}, []float64{0, 0})
	survivors := []bool{true, true, true}
	next := []bool{true, true, true}

	e := newTestEngine()
	require.NoError(t, e.moopPass(context.Background(), morphs, survivors, next))

	assert.Equal(t, []bool{false, false, true}, survivors,
		"only the undominated vector survives the first pass")
	assert.Equal(t, []bool{true, true, false}, next,
		"the dominated frontier is retained for re-examination")
}

func TestMoopPass_EqualVectorsDoNotDominate(t *testing.T) {
	morphs := withDistances([]float64{1, 1}, []float64{1, 1})
	survivors := []bool{true, true}
	next := []bool{true, true}

	e := newTestEngine()
	require.NoError(t, e.moopPass(context.Background(), morphs, survivors, next))

	assert.Equal(t, []bool{true, true}, survivors)
}

func TestMoopFilter_SinglePassBudget(t *testing.T) {
	morphs := withDistances([]float64{1, 2}, []float64{2, 3}, []float64{0, 0})
	survivors := []bool{true, true, true}

	ec := activityContext()
	ec.Params.MaxMOOPRuns = 1

	e := newTestEngine()
	require.NoError(t, e.moopFilter(context.Background(), ec, morphs, survivors))

	assert.Equal(t, []bool{false, false, true}, survivors)
}

func TestMoopFilter_PeelsLayers(t *testing.T) {
	// With enough passes the rejected frontier is re-admitted layer by
	// layer: the second pass judges {m0, m1} against each other only, so
	// m0 returns while m1 stays dominated until the third pass leaves it
	// alone in the frontier.
	morphs := withDistances([]float64{1, 2}, []float64{2, 3}, []float64{0, 0})
	survivors := []bool{true, true, true}

	ec := activityContext()
	ec.Params.MaxMOOPRuns = 2

	e := newTestEngine()
	require.NoError(t, e.moopFilter(context.Background(), ec, morphs, survivors))

	assert.Equal(t, []bool{true, false, true}, survivors)
}

func TestMoopFilter_FixedPoint(t *testing.T) {
	// A fully undominated set is a fixed point: the first pass changes
	// nothing and the frontier empties, stopping the loop early.
	morphs := withDistances([]float64{0, 2}, []float64{1, 1}, []float64{2, 0})
	survivors := []bool{true, true, true}

	ec := activityContext()
	ec.Params.MaxMOOPRuns = 10

	e := newTestEngine()
	require.NoError(t, e.moopFilter(context.Background(), ec, morphs, survivors))
	assert.Equal(t, []bool{true, true, true}, survivors)

	again := append([]bool(nil), survivors...)
	require.NoError(t, e.moopFilter(context.Background(), ec, morphs, again))
	assert.Equal(t, survivors, again, "repeated filtering is idempotent")
}

func TestMoopFilter_SkipsNonSurvivors(t *testing.T) {
	// A morph already rejected upstream never joins the frontier.
	morphs := withDistances([]float64{0, 0}, []float64{5, 5})
	survivors := []bool{false, true}

	ec := activityContext()
	e := newTestEngine()
	require.NoError(t, e.moopFilter(context.Background(), ec, morphs, survivors))

	assert.False(t, survivors[0], "upstream rejection is final")
	assert.True(t, survivors[1], "dominator was not scheduled, so no domination applies")
}
