// Copyright (C) 2026 Moleculab (dev@moleculab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package chemtest implements the chem interfaces over plain strings: a
// random string-edit morpher, an edit-distance similarity calculator, a
// sorted-letter scaffold and an arithmetic descriptor source.
//
// It exists so the engine's tests and the CLI's dry-run mode can exercise
// the whole pipeline without a chemistry toolkit. It is not a chemistry
// engine; fingerprints here are arbitrary letter strings.
package chemtest

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/moleculab/molpath/services/pathfinder/chem"
	"github.com/moleculab/molpath/services/pathfinder/molecule"
	"github.com/moleculab/molpath/services/pathfinder/randx"
)

// atomWeight is the weight assigned per fingerprint letter.
const atomWeight = 12.0

const alphabet = "CNOPS"

// Calculator scores similarity as normalized edit distance.
type Calculator struct{}

// GetSimCoef returns 1 - lev(a,b)/max(len(a),len(b)).
func (Calculator) GetSimCoef(a, b string) (float64, error) {
	la, lb := len(a), len(b)
	if la == 0 && lb == 0 {
		return 1, nil
	}
	max := la
	if lb > max {
		max = lb
	}
	return 1 - float64(editDistance(a, b))/float64(max), nil
}

// ConvertToDistance maps similarity onto [0,1].
func (Calculator) ConvertToDistance(sim float64) float64 {
	return 1 - sim
}

func editDistance(a, b string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min3(cur[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// Scaffold reduces a fingerprint to its sorted set of distinct letters.
type Scaffold struct{}

// GetScaffold returns the sorted distinct letters of fingerprint.
func (Scaffold) GetScaffold(fingerprint string) (string, error) {
	seen := make(map[rune]struct{})
	var letters []rune
	for _, r := range fingerprint {
		if _, ok := seen[r]; !ok {
			seen[r] = struct{}{}
			letters = append(letters, r)
		}
	}
	sort.Slice(letters, func(i, j int) bool { return letters[i] < letters[j] })
	return string(letters), nil
}

// UsefulOperators returns the scaffold-preserving operator subset.
func (Scaffold) UsefulOperators() []chem.ChemOperSelector {
	return []chem.ChemOperSelector{chem.OperAddAtom, chem.OperRemoveAtom}
}

// Morpher produces morphs by random single-letter edits.
type Morpher struct {
	Calc Calculator
}

// GenerateMorphs emits up to attempts random edits of candidate. Each
// edit is scored against the target and decoys with the edit-distance
// calculator. Duplicate edits are emitted as-is; the collector dedups.
func (g *Morpher) GenerateMorphs(ctx context.Context, candidate *molecule.Molecule,
	attempts int, opts chem.MorphingOptions, sink chem.MorphSink) error {

	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		fp := mutate(candidate.Fingerprint)
		if fp == "" {
			continue
		}
		m, err := buildMorph(fp, candidate, opts, g.Calc)
		if err != nil {
			return err
		}
		sink.OnMorph(m)
	}
	return nil
}

func mutate(fp string) string {
	switch randx.IntInRange(0, 2) {
	case 0: // append
		return fp + string(alphabet[randx.IntInRange(0, len(alphabet)-1)])
	case 1: // drop last
		if len(fp) <= 1 {
			return fp + string(alphabet[randx.IntInRange(0, len(alphabet)-1)])
		}
		return fp[:len(fp)-1]
	default: // mutate one position
		if len(fp) == 0 {
			return fp
		}
		pos := randx.IntInRange(0, len(fp)-1)
		return fp[:pos] + string(alphabet[randx.IntInRange(0, len(alphabet)-1)]) + fp[pos+1:]
	}
}

func buildMorph(fp string, parent *molecule.Molecule,
	opts chem.MorphingOptions, calc Calculator) (*molecule.Molecule, error) {

	m := molecule.New(fp)
	m.ParentFingerprint = parent.Fingerprint
	m.Weight = atomWeight * float64(len(fp))
	m.Sascore = 1

	if opts.Target != nil {
		sim, err := calc.GetSimCoef(fp, opts.Target.Fingerprint)
		if err != nil {
			return nil, err
		}
		m.DistToTarget = calc.ConvertToDistance(sim)
	}

	m.DistToClosestDecoy = 0
	if len(opts.Decoys) > 0 {
		closest := 1.0
		for _, d := range opts.Decoys {
			sim, err := calc.GetSimCoef(fp, d.Fingerprint)
			if err != nil {
				return nil, err
			}
			if dist := calc.ConvertToDistance(sim); dist < closest {
				closest = dist
			}
		}
		m.DistToClosestDecoy = closest
	}

	if opts.Scaffold != nil {
		s, err := opts.Scaffold.GetScaffold(fp)
		if err != nil {
			return nil, err
		}
		m.ScaffoldFingerprint = s
	}
	return m, nil
}

// ScriptedMorpher replays a fixed parent → children script, for tests
// that need exact tree shapes. Children are scored like Morpher's output.
type ScriptedMorpher struct {
	Calc Calculator

	// Script maps a parent fingerprint to the morphs it produces.
	Script map[string][]string
}

// GenerateMorphs emits the scripted children of candidate, ignoring
// attempts.
func (g *ScriptedMorpher) GenerateMorphs(ctx context.Context, candidate *molecule.Molecule,
	attempts int, opts chem.MorphingOptions, sink chem.MorphSink) error {

	for _, fp := range g.Script[candidate.Fingerprint] {
		if err := ctx.Err(); err != nil {
			return err
		}
		m, err := buildMorph(fp, candidate, opts, g.Calc)
		if err != nil {
			return err
		}
		sink.OnMorph(m)
	}
	return nil
}

// Descriptors is a deterministic in-process DescriptorSourceFactory. The
// computed vector is [length, distinct letters, carbon count] truncated
// or padded to the relevant descriptor count.
type Descriptors struct {
	// Names mirrors the job's relevant descriptor names; only its length
	// matters.
	Names []string
}

// NewBatch implements chem.DescriptorSourceFactory. The directory is
// accepted for interface fidelity and never written.
func (d *Descriptors) NewBatch(outputDir string) (chem.DescriptorSource, error) {
	return &descriptorBatch{names: d.Names, values: make(map[string][]float64)}, nil
}

type descriptorBatch struct {
	names  []string
	values map[string][]float64
	mols   []*molecule.Molecule
}

func (b *descriptorBatch) Add(m *molecule.Molecule) {
	b.mols = append(b.mols, m)
}

func (b *descriptorBatch) Compute(ctx context.Context) error {
	for _, m := range b.mols {
		if err := ctx.Err(); err != nil {
			return err
		}
		fp := m.Fingerprint
		distinct := make(map[rune]struct{})
		for _, r := range fp {
			distinct[r] = struct{}{}
		}
		raw := []float64{
			float64(len(fp)),
			float64(len(distinct)),
			float64(strings.Count(fp, "C")),
		}
		n := len(b.names)
		if n == 0 {
			n = len(raw)
		}
		values := make([]float64, n)
		for i := range values {
			values[i] = raw[i%len(raw)]
		}
		b.values[fp] = values
	}
	return nil
}

func (b *descriptorBatch) Get(m *molecule.Molecule) ([]float64, error) {
	values, ok := b.values[m.Fingerprint]
	if !ok {
		return nil, fmt.Errorf("no descriptors computed for %s", m.Fingerprint)
	}
	return append([]float64(nil), values...), nil
}
