// Copyright (C) 2026 Moleculab (dev@moleculab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chem

import (
	"context"

	"github.com/moleculab/molpath/services/pathfinder/molecule"
)

// MorphSink receives produced morphs. Implementations must be safe for
// concurrent use: the morphing kernel calls OnMorph from arbitrary worker
// goroutines, once per produced morph, duplicates included.
type MorphSink interface {
	OnMorph(m *molecule.Molecule)
}

// MorphingOptions carries the per-invocation knobs of the morphing kernel.
type MorphingOptions struct {
	Fingerprint FingerprintSelector
	SimCoeff    SimCoeffSelector
	Operators   []ChemOperSelector

	// Target is the goal molecule in path mode; nil in activity mode.
	Target *molecule.Molecule

	// Decoys bias distance scoring; may be empty.
	Decoys []*molecule.Molecule

	// Scaffold is non-nil in scaffold-hopping mode. The kernel must then
	// stamp each morph's ScaffoldFingerprint before emitting it.
	Scaffold ScaffoldProvider
}

// Morpher is the external transformation kernel.
//
// GenerateMorphs applies randomized operators to candidate up to attempts
// times and emits every result to sink. It must honor ctx: cancellation
// stops emission promptly, and partial output is acceptable. Failures to
// produce an individual morph are not errors; the returned error is
// reserved for kernel-level breakage.
type Morpher interface {
	GenerateMorphs(ctx context.Context, candidate *molecule.Molecule,
		attempts int, opts MorphingOptions, sink MorphSink) error
}

// SimCoefCalculator computes similarity between two fingerprint identities
// and converts similarity to a distance in [0,1].
type SimCoefCalculator interface {
	GetSimCoef(a, b string) (float64, error)
	ConvertToDistance(sim float64) float64
}

// ScaffoldProvider extracts a scaffold identity from a fingerprint identity
// and advertises the operator subset that preserves scaffolds.
type ScaffoldProvider interface {
	GetScaffold(fingerprint string) (string, error)
	UsefulOperators() []ChemOperSelector
}

// DescriptorSource is one batch of descriptor computation (PaDEL in
// production). Add enqueues molecules, Compute runs the external process,
// Get retrieves the raw descriptor vector for a previously added molecule.
type DescriptorSource interface {
	Add(m *molecule.Molecule)
	Compute(ctx context.Context) error
	Get(m *molecule.Molecule) ([]float64, error)
}

// DescriptorSourceFactory creates one DescriptorSource per batch directory.
// The engine creates a fresh batch for every padelBatchSize morphs.
type DescriptorSourceFactory interface {
	NewBatch(outputDir string) (DescriptorSource, error)
}

// DimensionReducer projects molecules into 2D for visualization. The engine
// only schedules it; the projection itself is out of scope.
type DimensionReducer interface {
	Reduce(ctx context.Context, mols []*molecule.Molecule,
		fp FingerprintSelector, sim SimCoeffSelector) error
}
