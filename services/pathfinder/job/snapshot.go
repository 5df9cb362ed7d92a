// Copyright (C) 2026 Moleculab (dev@moleculab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package job implements the hand-off side of the engine: the snapshot
// format a job's state persists as, a Badger-backed snapshot store, and a
// local queue manager implementing the engine's JobManager contract.
package job

import (
	"github.com/moleculab/molpath/services/pathfinder/chem"
	"github.com/moleculab/molpath/services/pathfinder/config"
	"github.com/moleculab/molpath/services/pathfinder/engine"
	"github.com/moleculab/molpath/services/pathfinder/molecule"
)

// Snapshot is the persisted form of one job's exploration state: every
// engine Context field except the concurrent runtime structures, which
// are rebuilt on restore. A Snapshot with IterIdx 0 and no candidates is
// a fresh job definition.
type Snapshot struct {
	JobID          string `json:"job_id"`
	IterIdx        int    `json:"iter_idx"`
	ElapsedSeconds int64  `json:"elapsed_seconds"`

	Fingerprint chem.FingerprintSelector `json:"fingerprint_selector"`
	SimCoeff    chem.SimCoeffSelector    `json:"sim_coeff_selector"`
	DimRed      chem.DimRedSelector      `json:"dim_red_selector"`
	ChemOpers   []chem.ChemOperSelector  `json:"chem_oper_selectors"`

	Params config.Params `json:"params"`

	Source *molecule.Molecule   `json:"source,omitempty"`
	Target *molecule.Molecule   `json:"target,omitempty"`
	Decoys []*molecule.Molecule `json:"decoys,omitempty"`

	SourcePool []*molecule.Molecule `json:"source_pool,omitempty"`
	StartMols  []string             `json:"start_mols,omitempty"`

	EtalonValues            []float64           `json:"etalon_values,omitempty"`
	DescriptorWeights       []float64           `json:"descriptor_weights,omitempty"`
	NormalizationCoefs      []molecule.NormCoef `json:"normalization_coefficients,omitempty"`
	ImputedValues           []float64           `json:"imputed_values,omitempty"`
	RelevantDescriptorNames []string            `json:"relevant_descriptor_names,omitempty"`

	ScaffoldSelector   chem.ScaffoldSelector         `json:"scaffold_selector"`
	TempSource         *molecule.Molecule            `json:"temp_source,omitempty"`
	PathMolecules      []*molecule.Molecule          `json:"path_molecules,omitempty"`
	PathScaffolds      map[string]string             `json:"path_scaffolds,omitempty"`
	CandidateScaffolds map[string]string             `json:"candidate_scaffolds,omitempty"`
	Candidates         map[string]*molecule.Molecule `json:"candidates,omitempty"`
	MorphDerivations   map[string]uint32             `json:"morph_derivations,omitempty"`
	PrunedThisIter     []string                      `json:"pruned_this_iter,omitempty"`
}

// FromContext captures a consistent snapshot of ec. Call only between
// iterations, when no stage is mutating the context.
func FromContext(ec *engine.Context) *Snapshot {
	return &Snapshot{
		JobID:          ec.JobID,
		IterIdx:        ec.IterIdx,
		ElapsedSeconds: ec.ElapsedSeconds,

		Fingerprint: ec.Fingerprint,
		SimCoeff:    ec.SimCoeff,
		DimRed:      ec.DimRed,
		ChemOpers:   append([]chem.ChemOperSelector(nil), ec.ChemOpers...),

		Params: ec.Params,

		Source:     ec.Source,
		Target:     ec.Target,
		Decoys:     append([]*molecule.Molecule(nil), ec.Decoys...),
		SourcePool: append([]*molecule.Molecule(nil), ec.SourcePool...),
		StartMols:  append([]string(nil), ec.StartMols...),

		EtalonValues:            append([]float64(nil), ec.EtalonValues...),
		DescriptorWeights:       append([]float64(nil), ec.DescriptorWeights...),
		NormalizationCoefs:      append([]molecule.NormCoef(nil), ec.NormalizationCoefs...),
		ImputedValues:           append([]float64(nil), ec.ImputedValues...),
		RelevantDescriptorNames: append([]string(nil), ec.RelevantDescriptorNames...),

		ScaffoldSelector:   ec.ScaffoldSelector,
		TempSource:         ec.TempSource,
		PathMolecules:      append([]*molecule.Molecule(nil), ec.PathMolecules...),
		PathScaffolds:      ec.PathScaffolds.Snapshot(),
		CandidateScaffolds: ec.CandidateScaffolds.Snapshot(),
		Candidates:         ec.Candidates.Snapshot(),
		MorphDerivations:   ec.Derivations.Snapshot(),
		PrunedThisIter:     ec.Pruned.Snapshot(),
	}
}

// Apply rebuilds ec from the snapshot, including the concurrent runtime
// structures.
func (s *Snapshot) Apply(ec *engine.Context) {
	ec.JobID = s.JobID
	ec.IterIdx = s.IterIdx
	ec.ElapsedSeconds = s.ElapsedSeconds

	ec.Fingerprint = s.Fingerprint
	ec.SimCoeff = s.SimCoeff
	ec.DimRed = s.DimRed
	ec.ChemOpers = append([]chem.ChemOperSelector(nil), s.ChemOpers...)

	ec.Params = s.Params

	ec.Source = s.Source
	ec.Target = s.Target
	ec.Decoys = append([]*molecule.Molecule(nil), s.Decoys...)
	ec.SourcePool = append([]*molecule.Molecule(nil), s.SourcePool...)
	ec.StartMols = append([]string(nil), s.StartMols...)

	ec.EtalonValues = append([]float64(nil), s.EtalonValues...)
	ec.DescriptorWeights = append([]float64(nil), s.DescriptorWeights...)
	ec.NormalizationCoefs = append([]molecule.NormCoef(nil), s.NormalizationCoefs...)
	ec.ImputedValues = append([]float64(nil), s.ImputedValues...)
	ec.RelevantDescriptorNames = append([]string(nil), s.RelevantDescriptorNames...)

	ec.ScaffoldSelector = s.ScaffoldSelector
	ec.TempSource = s.TempSource
	ec.PathMolecules = append([]*molecule.Molecule(nil), s.PathMolecules...)

	for _, m := range s.Candidates {
		clone := m.Clone()
		clone.EnsureSets()
		h, _ := ec.Candidates.Insert(clone)
		h.Set(clone)
		h.Release()
	}
	for scaffold, fp := range s.PathScaffolds {
		ec.PathScaffolds.InsertIfAbsent(scaffold, fp)
	}
	for scaffold, fp := range s.CandidateScaffolds {
		ec.CandidateScaffolds.InsertIfAbsent(scaffold, fp)
	}
	ec.Derivations.Restore(s.MorphDerivations)
	for _, fp := range s.PrunedThisIter {
		ec.Pruned.Append(fp)
	}
}

// moleculeFromSpec converts a config molecule into the engine type.
func moleculeFromSpec(spec config.MoleculeSpec) *molecule.Molecule {
	m := molecule.New(spec.Fingerprint)
	m.ID = spec.ID
	m.Weight = spec.Weight
	m.Sascore = spec.Sascore
	return m
}

// FromSpec builds a fresh-job snapshot from a validated job document.
func FromSpec(spec config.JobSpec) *Snapshot {
	snap := &Snapshot{
		JobID:  spec.ID,
		Params: spec.Params,

		EtalonValues:            append([]float64(nil), spec.EtalonValues...),
		DescriptorWeights:       append([]float64(nil), spec.DescriptorWeights...),
		NormalizationCoefs:      append([]molecule.NormCoef(nil), spec.NormalizationCoefs...),
		ImputedValues:           append([]float64(nil), spec.ImputedValues...),
		RelevantDescriptorNames: append([]string(nil), spec.RelevantDescriptorNames...),

		ScaffoldSelector: chem.ParseScaffoldSelector(spec.ScaffoldSelector),
	}
	if spec.Params.ActivityMorphing {
		for _, s := range spec.SourcePool {
			snap.SourcePool = append(snap.SourcePool, moleculeFromSpec(s))
		}
	} else {
		snap.Source = moleculeFromSpec(spec.Source)
		snap.Target = moleculeFromSpec(spec.Target)
	}
	for _, d := range spec.Decoys {
		snap.Decoys = append(snap.Decoys, moleculeFromSpec(d))
	}
	if snap.ScaffoldSelector != chem.ScaffoldNone {
		root := molecule.New("scaffold_root")
		root.ID = "SCAFFOLD_ROOT"
		snap.TempSource = root
	}
	return snap
}
