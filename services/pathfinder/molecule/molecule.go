// Copyright (C) 2026 Moleculab (dev@moleculab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package molecule defines the candidate item that the exploration tree is
// made of, together with the descriptor arithmetic used by activity-mode
// scoring.
//
// A Molecule is a value type. The candidate store owns the authoritative
// copies; stages that need a private view (the leaf frontier, the morph
// list) work on clones so that concurrent mutation of the tree never
// aliases stage-local data.
package molecule

import (
	"math"
)

// Molecule is one node of the exploration tree.
//
// Fingerprint is the stable identity (a canonical SMILES in production,
// opaque to this engine). ParentFingerprint is empty iff the molecule is a
// source. Descendants holds currently attached children; HistoricDescendants
// every child ever produced from this node (it only grows).
type Molecule struct {
	Fingerprint       string `json:"fingerprint"`
	ID                string `json:"id,omitempty"`
	ParentFingerprint string `json:"parent_fingerprint,omitempty"`

	Descendants         map[string]struct{} `json:"descendants,omitempty"`
	HistoricDescendants map[string]struct{} `json:"historic_descendants,omitempty"`

	DistToTarget       float64 `json:"dist_to_target"`
	DistToClosestDecoy float64 `json:"dist_to_closest_decoy"`

	Weight  float64 `json:"weight"`
	Sascore float64 `json:"sascore"`

	ScaffoldFingerprint string `json:"scaffold_fingerprint,omitempty"`

	ItersWithoutDistImprovement int `json:"iters_without_dist_improvement"`

	// Activity-mode fields.
	ItersFresh       int       `json:"iters_fresh"`
	Decayed          bool      `json:"decayed"`
	DescriptorValues []float64 `json:"descriptor_values,omitempty"`
	EtalonDistances  []float64 `json:"etalon_distances,omitempty"`
	DistToEtalon     float64   `json:"dist_to_etalon"`
}

// New returns a molecule with initialized descendant sets.
func New(fingerprint string) *Molecule {
	return &Molecule{
		Fingerprint:         fingerprint,
		Descendants:         make(map[string]struct{}),
		HistoricDescendants: make(map[string]struct{}),
	}
}

// EnsureSets lazily allocates the descendant sets. Molecules decoded from
// snapshots or built literally in tests may carry nil maps.
func (m *Molecule) EnsureSets() {
	if m.Descendants == nil {
		m.Descendants = make(map[string]struct{})
	}
	if m.HistoricDescendants == nil {
		m.HistoricDescendants = make(map[string]struct{})
	}
}

// IsSource reports whether the molecule is an exploration root.
func (m *Molecule) IsSource() bool {
	return m.ParentFingerprint == ""
}

// IsLeaf reports whether the molecule currently has no attached children.
func (m *Molecule) IsLeaf() bool {
	return len(m.Descendants) == 0
}

// Clone returns a deep copy. Descendant sets and descriptor slices are
// copied; the clone shares no mutable state with the receiver.
func (m *Molecule) Clone() *Molecule {
	c := *m
	c.Descendants = make(map[string]struct{}, len(m.Descendants))
	for k := range m.Descendants {
		c.Descendants[k] = struct{}{}
	}
	c.HistoricDescendants = make(map[string]struct{}, len(m.HistoricDescendants))
	for k := range m.HistoricDescendants {
		c.HistoricDescendants[k] = struct{}{}
	}
	if m.DescriptorValues != nil {
		c.DescriptorValues = append([]float64(nil), m.DescriptorValues...)
	}
	if m.EtalonDistances != nil {
		c.EtalonDistances = append([]float64(nil), m.EtalonDistances...)
	}
	return &c
}

// NormCoef is the per-descriptor normalization range observed on the
// training actives. Descriptors are mapped to [0,1] over [Min,Max].
type NormCoef struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// NormalizeDescriptors rescales DescriptorValues in place.
//
// Missing values (NaN) are replaced by the matching imputed value before
// scaling, or by the range minimum when no imputed value exists for that
// index; a degenerate range (Max <= Min) maps to 0. A coefs slice shorter
// than DescriptorValues leaves the tail untouched.
func (m *Molecule) NormalizeDescriptors(coefs []NormCoef, imputed []float64) {
	for i := range m.DescriptorValues {
		if i >= len(coefs) {
			break
		}
		v := m.DescriptorValues[i]
		if math.IsNaN(v) {
			if i < len(imputed) {
				v = imputed[i]
			} else {
				v = coefs[i].Min
			}
		}
		span := coefs[i].Max - coefs[i].Min
		if span <= 0 {
			m.DescriptorValues[i] = 0
			continue
		}
		m.DescriptorValues[i] = (v - coefs[i].Min) / span
	}
}

// ComputeEtalonDistances fills EtalonDistances with the signed, weighted
// per-descriptor offsets from the etalon point and summarizes them into
// DistToEtalon as the mean absolute offset. A molecule with no finite
// descriptor values gets DistToEtalon = +Inf so it never wins a
// minimum-distance comparison.
func (m *Molecule) ComputeEtalonDistances(etalon, weights []float64) {
	n := len(m.DescriptorValues)
	if len(etalon) < n {
		n = len(etalon)
	}
	m.EtalonDistances = make([]float64, n)

	sum := 0.0
	finite := 0
	for i := 0; i < n; i++ {
		w := 1.0
		if i < len(weights) {
			w = weights[i]
		}
		d := w * (m.DescriptorValues[i] - etalon[i])
		m.EtalonDistances[i] = d
		if !math.IsNaN(d) && !math.IsInf(d, 0) {
			sum += math.Abs(d)
			finite++
		}
	}
	if finite == 0 {
		m.DistToEtalon = math.Inf(1)
		return
	}
	m.DistToEtalon = sum / float64(finite)
}
