// Copyright (C) 2026 Moleculab (dev@moleculab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moleculab/molpath/services/pathfinder/chem"
	"github.com/moleculab/molpath/services/pathfinder/molecule"
)

func TestAccept_CommitsSurvivors(t *testing.T) {
	ec := pathContext()
	seed(t, ec, "CC", "", nil)

	morphs := []*molecule.Molecule{
		morph("CCN", "CC", nil),
		morph("CCS", "CC", nil),
		morph("CCP", "CC", nil),
	}
	survivors := []bool{true, false, true}

	e := newTestEngine()
	parents, count, err := e.acceptMorphs(ec, pathVariant{}, morphs, survivors)
	require.NoError(t, err)

	assert.Equal(t, 2, count)
	assert.Equal(t, []string{"CC"}, parents)
	assert.True(t, ec.Candidates.Contains("CCN"))
	assert.False(t, ec.Candidates.Contains("CCS"))
	assert.True(t, ec.Candidates.Contains("CCP"))

	checkTreeInvariants(t, ec)
}

func TestAccept_RespectsCap(t *testing.T) {
	ec := pathContext()
	seed(t, ec, "CC", "", nil)
	ec.Params.CntCandidatesToKeepMax = 3

	morphs := make([]*molecule.Molecule, 10)
	survivors := make([]bool, 10)
	for i := range morphs {
		morphs[i] = morph(fmt.Sprintf("CC%d", i), "CC", nil)
		survivors[i] = true
	}

	e := newTestEngine()
	_, count, err := e.acceptMorphs(ec, pathVariant{}, morphs, survivors)
	require.NoError(t, err)

	assert.Equal(t, 10, count, "survivor count includes cap overflow")
	assert.Equal(t, 1+3, ec.Candidates.Len(), "source plus exactly the cap")

	// The cap admits the first survivors in list (comparator) order.
	for i := 0; i < 3; i++ {
		assert.True(t, ec.Candidates.Contains(fmt.Sprintf("CC%d", i)))
	}
	for i := 3; i < 10; i++ {
		assert.False(t, ec.Candidates.Contains(fmt.Sprintf("CC%d", i)))
	}
}

func TestAccept_CapDisabledInActivityMode(t *testing.T) {
	ec := activityContext()
	seed(t, ec, "CC", "", nil)
	ec.Params.CntCandidatesToKeepMax = 3

	morphs := make([]*molecule.Molecule, 10)
	survivors := make([]bool, 10)
	for i := range morphs {
		morphs[i] = morph(fmt.Sprintf("CC%d", i), "CC", nil)
		survivors[i] = true
	}

	e := newTestEngine()
	_, _, err := e.acceptMorphs(ec, activityVariant{}, morphs, survivors)
	require.NoError(t, err)

	assert.Equal(t, 1+10, ec.Candidates.Len())
}

func TestAccept_MissingParent(t *testing.T) {
	ec := pathContext()
	seed(t, ec, "CC", "", nil)

	morphs := []*molecule.Molecule{morph("CCN", "GHOST", nil)}
	survivors := []bool{true}

	e := newTestEngine()
	_, _, err := e.acceptMorphs(ec, pathVariant{}, morphs, survivors)
	require.ErrorIs(t, err, ErrMissingParent)
}

func TestAccept_ScaffoldCollisionSkips(t *testing.T) {
	ec := pathContext()
	ec.ScaffoldSelector = chem.ScaffoldMostGeneral
	ec.TempSource = molecule.New("scaffold_root")
	seed(t, ec, "CC", "", func(m *molecule.Molecule) {
		m.ScaffoldFingerprint = "C"
	})
	ec.CandidateScaffolds.InsertIfAbsent("C", "CC")

	// Two survivors sharing one scaffold: the first claims it, the second
	// is skipped entirely.
	morphs := []*molecule.Molecule{
		morph("CCN", "CC", func(m *molecule.Molecule) { m.ScaffoldFingerprint = "CN" }),
		morph("NCC", "CC", func(m *molecule.Molecule) { m.ScaffoldFingerprint = "CN" }),
	}
	survivors := []bool{true, true}

	e := newTestEngine()
	_, _, err := e.acceptMorphs(ec, pathVariant{}, morphs, survivors)
	require.NoError(t, err)

	// Exactly one of the two claims the scaffold; the loser is skipped.
	accepted := 0
	for _, fp := range []string{"CCN", "NCC"} {
		if ec.Candidates.Contains(fp) {
			accepted++
		}
	}
	assert.Equal(t, 1, accepted, "scaffold collision skips the second insert")
	assert.Equal(t, ec.Candidates.Len(), ec.CandidateScaffolds.Len(),
		"scaffold index stays bijective with the candidate map")
}

func TestAccept_HistoricSupersetMaintained(t *testing.T) {
	ec := pathContext()
	seed(t, ec, "CC", "", nil)

	morphs := []*molecule.Molecule{morph("CCN", "CC", nil)}
	e := newTestEngine()
	_, _, err := e.acceptMorphs(ec, pathVariant{}, morphs, []bool{true})
	require.NoError(t, err)

	rh, ok := ec.Candidates.AcquireShared("CC")
	require.True(t, ok)
	_, inDesc := rh.Mol().Descendants["CCN"]
	_, inHist := rh.Mol().HistoricDescendants["CCN"]
	rh.Release()
	assert.True(t, inDesc)
	assert.True(t, inHist)
}
