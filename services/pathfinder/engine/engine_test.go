// Copyright (C) 2026 Moleculab (dev@moleculab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moleculab/molpath/services/pathfinder/chem/chemtest"
	"github.com/moleculab/molpath/services/pathfinder/config"
	"github.com/moleculab/molpath/services/pathfinder/molecule"
)

// newTestEngine builds an engine with quiet logging and the synthetic
// morpher; individual tests swap collaborators as needed.
func newTestEngine() *Engine {
	return &Engine{
		threads: 4,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		morpher: &chemtest.Morpher{},
	}
}

// pathContext returns a minimal path-mode context: source "CC", target
// "CCO", default parameters.
func pathContext() *Context {
	ec := NewContext()
	ec.JobID = "test-job"
	ec.Params = config.DefaultParams()
	ec.Source = molecule.New("CC")
	ec.Target = molecule.New("CCO")
	return ec
}

// activityContext returns a minimal activity-mode context with two seed
// molecules.
func activityContext() *Context {
	ec := NewContext()
	ec.JobID = "test-job"
	ec.Params = config.DefaultParams()
	ec.Params.ActivityMorphing = true
	ec.SourcePool = []*molecule.Molecule{molecule.New("CC"), molecule.New("NN")}
	ec.EtalonValues = []float64{0, 0, 0}
	ec.RelevantDescriptorNames = []string{"length", "distinct", "carbons"}
	ec.NormalizationCoefs = []molecule.NormCoef{{Min: 0, Max: 10}, {Min: 0, Max: 5}, {Min: 0, Max: 10}}
	return ec
}

// seed inserts a molecule into the tree and links it under parent (empty
// parent means source).
func seed(t *testing.T, ec *Context, fingerprint, parent string, mut func(*molecule.Molecule)) *molecule.Molecule {
	t.Helper()
	m := molecule.New(fingerprint)
	m.ParentFingerprint = parent
	if mut != nil {
		mut(m)
	}
	h, created := ec.Candidates.Insert(m)
	require.True(t, created, "duplicate seed %s", fingerprint)
	h.Release()

	if parent != "" {
		ph, ok := ec.Candidates.Acquire(parent)
		require.True(t, ok, "seed parent %s missing", parent)
		ph.Mol().Descendants[fingerprint] = struct{}{}
		ph.Mol().HistoricDescendants[fingerprint] = struct{}{}
		ph.Release()
	}
	return m
}

// morph builds a free-standing morph claiming parent, with sane defaults
// for the filter predicates.
func morph(fingerprint, parent string, mut func(*molecule.Molecule)) *molecule.Molecule {
	m := molecule.New(fingerprint)
	m.ParentFingerprint = parent
	m.Weight = 100
	if mut != nil {
		mut(m)
	}
	return m
}

// checkTreeInvariants asserts the structural invariants: every non-source
// candidate is linked from its parent, and historic descendants contain
// current descendants.
func checkTreeInvariants(t *testing.T, ec *Context) {
	t.Helper()
	snapshot := ec.Candidates.Snapshot()
	for fp, m := range snapshot {
		if m.ParentFingerprint != "" {
			parent, ok := snapshot[m.ParentFingerprint]
			require.True(t, ok, "parent of %s missing", fp)
			_, linked := parent.Descendants[fp]
			require.True(t, linked, "%s not in parent's descendants", fp)
		}
		for d := range m.Descendants {
			_, hist := m.HistoricDescendants[d]
			require.True(t, hist, "descendant %s of %s missing from historic set", d, fp)
		}
	}
}

// stubJobs is a single-shot JobManager for driver tests.
type stubJobs struct {
	prepare  func(ec *Context)
	served   bool
	deferred []string

	commits []commitRecord
}

type commitRecord struct {
	iterIdx     int
	canContinue bool
	pathFound   bool
}

func (s *stubJobs) GetJob(ctx context.Context, ec *Context) bool {
	if s.served || ctx.Err() != nil {
		return false
	}
	s.served = true
	s.prepare(ec)
	return true
}

func (s *stubJobs) RefreshIteration(ec *Context) {}

func (s *stubJobs) DeferredPruned(jobID string) []string {
	d := s.deferred
	s.deferred = nil
	return d
}

func (s *stubJobs) CommitIteration(ec *Context, canContinue, pathFound bool) bool {
	s.commits = append(s.commits, commitRecord{ec.IterIdx, canContinue, pathFound})
	return canContinue
}
