// Copyright (C) 2026 Moleculab (dev@moleculab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"github.com/moleculab/molpath/services/pathfinder/chem"
	"github.com/moleculab/molpath/services/pathfinder/config"
	"github.com/moleculab/molpath/services/pathfinder/molecule"
	"github.com/moleculab/molpath/services/pathfinder/store"
)

// Context is the per-job state the engine iterates on. The candidate map
// IS the exploration tree; parent/child linkage lives inside each
// molecule. Everything except the concurrent structures round-trips
// through the job manager's snapshot.
//
// Concurrency: Candidates, CandidateScaffolds, PathScaffolds, Derivations
// and Pruned are mutated concurrently within a stage under their own
// locking. All remaining fields are read-only while a stage runs and are
// refreshed only between iterations.
type Context struct {
	JobID          string
	IterIdx        int
	ElapsedSeconds int64

	Fingerprint chem.FingerprintSelector
	SimCoeff    chem.SimCoeffSelector
	DimRed      chem.DimRedSelector
	ChemOpers   []chem.ChemOperSelector

	Params config.Params

	Source *molecule.Molecule
	Target *molecule.Molecule
	Decoys []*molecule.Molecule

	// SourcePool are the activity-mode seed molecules; StartMols the
	// fingerprints actually seeded (the prune roots).
	SourcePool []*molecule.Molecule
	StartMols  []string

	EtalonValues            []float64
	DescriptorWeights       []float64
	NormalizationCoefs      []molecule.NormCoef
	ImputedValues           []float64
	RelevantDescriptorNames []string

	ScaffoldSelector chem.ScaffoldSelector

	// TempSource is the synthetic tree root of scaffold mode.
	TempSource         *molecule.Molecule
	PathMolecules      []*molecule.Molecule
	PathScaffolds      *store.ScaffoldIndex
	CandidateScaffolds *store.ScaffoldIndex

	Candidates  *store.Candidates
	Derivations *store.Derivations
	Pruned      *store.PrunedLog
}

// NewContext returns a Context with empty concurrent structures.
func NewContext() *Context {
	return &Context{
		Candidates:         store.NewCandidates(),
		Derivations:        store.NewDerivations(),
		Pruned:             store.NewPrunedLog(),
		CandidateScaffolds: store.NewScaffoldIndex(),
		PathScaffolds:      store.NewScaffoldIndex(),
	}
}

// ScaffoldMode reports whether scaffold hopping is active for this job.
func (c *Context) ScaffoldMode() bool {
	return c.ScaffoldSelector != chem.ScaffoldNone
}

// pruneRoots returns the worklist seeds for the prune stage.
func (c *Context) pruneRoots() []string {
	if c.Params.ActivityMorphing {
		return append([]string(nil), c.StartMols...)
	}
	if c.ScaffoldMode() {
		return []string{c.TempSource.Fingerprint}
	}
	return []string{c.Source.Fingerprint}
}
