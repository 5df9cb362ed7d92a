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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moleculab/molpath/services/pathfinder/chem/chemtest"
	"github.com/moleculab/molpath/services/pathfinder/config"
	"github.com/moleculab/molpath/services/pathfinder/molecule"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{}, &stubJobs{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig, "missing morpher")

	_, err = New(Config{Morpher: &chemtest.Morpher{}}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig, "missing job manager")

	eng, err := New(Config{Morpher: &chemtest.Morpher{}}, &stubJobs{}, quietLogger())
	require.NoError(t, err)
	assert.NotNil(t, eng)
}

func TestRun_NilContext(t *testing.T) {
	eng, err := New(Config{Morpher: &chemtest.Morpher{}}, &stubJobs{}, quietLogger())
	require.NoError(t, err)
	//nolint:staticcheck // deliberate nil context
	assert.ErrorIs(t, eng.Run(nil), ErrNilContext)
}

// TestRun_TrivialDirectHit: source equals target, so the path exists the
// moment the tree is seeded; the first iteration detects it.
func TestRun_TrivialDirectHit(t *testing.T) {
	jobs := &stubJobs{prepare: func(ec *Context) {
		ec.JobID = "trivial"
		ec.Params = config.DefaultParams()
		ec.Source = molecule.New("A")
		ec.Target = molecule.New("A")
	}}

	eng, err := New(Config{
		Threads: 2,
		Morpher: &chemtest.ScriptedMorpher{Script: map[string][]string{}},
	}, jobs, quietLogger())
	require.NoError(t, err)

	require.NoError(t, eng.Run(context.Background()))

	require.Len(t, jobs.commits, 1)
	assert.True(t, jobs.commits[0].pathFound)
	assert.False(t, jobs.commits[0].canContinue)
	assert.Equal(t, 1, jobs.commits[0].iterIdx)
}

// TestRun_PathConvergence: CC morphs to CCN, which morphs to the target
// CCO on the second iteration.
func TestRun_PathConvergence(t *testing.T) {
	var final *Context
	jobs := &stubJobs{prepare: func(ec *Context) {
		ec.JobID = "converge"
		ec.Params = config.DefaultParams()
		ec.Source = molecule.New("CC")
		ec.Target = molecule.New("CCO")
		final = ec
	}}

	eng, err := New(Config{
		Threads: 2,
		Morpher: &chemtest.ScriptedMorpher{Script: map[string][]string{
			"CC":  {"CCN"},
			"CCN": {"CCO"},
		}},
	}, jobs, quietLogger())
	require.NoError(t, err)

	require.NoError(t, eng.Run(context.Background()))

	require.Len(t, jobs.commits, 2)
	assert.False(t, jobs.commits[0].pathFound)
	assert.True(t, jobs.commits[0].canContinue)
	assert.True(t, jobs.commits[1].pathFound)

	assert.True(t, final.Candidates.Contains("CC"))
	assert.True(t, final.Candidates.Contains("CCN"))
	assert.True(t, final.Candidates.Contains("CCO"))

	// The parent chain traces back to the source.
	rh, ok := final.Candidates.AcquireShared("CCO")
	require.True(t, ok)
	assert.Equal(t, "CCN", rh.Mol().ParentFingerprint)
	rh.Release()

	checkTreeInvariants(t, final)
}

func TestRun_IterationBudget(t *testing.T) {
	jobs := &stubJobs{prepare: func(ec *Context) {
		ec.JobID = "budget"
		ec.Params = config.DefaultParams()
		ec.Params.CntIterations = 2
		ec.Source = molecule.New("CC")
		ec.Target = molecule.New("OOOOOO") // unreachable via script
	}}

	eng, err := New(Config{
		Threads: 2,
		Morpher: &chemtest.ScriptedMorpher{Script: map[string][]string{
			"CC": {"CCN"},
		}},
	}, jobs, quietLogger())
	require.NoError(t, err)

	require.NoError(t, eng.Run(context.Background()))

	require.Len(t, jobs.commits, 2)
	assert.True(t, jobs.commits[0].canContinue)
	assert.False(t, jobs.commits[1].canContinue, "iteration budget exhausted")
	assert.False(t, jobs.commits[1].pathFound)
}

func TestRun_DerivationChargingAndAging(t *testing.T) {
	var final *Context
	jobs := &stubJobs{prepare: func(ec *Context) {
		ec.JobID = "charges"
		ec.Params = config.DefaultParams()
		ec.Params.CntIterations = 1
		ec.Source = molecule.New("CC")
		ec.Target = molecule.New("ZZZ")
		final = ec
	}}

	eng, err := New(Config{
		Threads: 2,
		Morpher: &chemtest.ScriptedMorpher{Script: map[string][]string{
			"CC": {"CCN", "CCS"},
		}},
	}, jobs, quietLogger())
	require.NoError(t, err)
	require.NoError(t, eng.Run(context.Background()))

	count, ok := final.Derivations.Get("CC")
	require.True(t, ok)
	assert.Equal(t, uint32(2), count, "parent charged per collect attempt")

	// Accepted children aged zero iterations so far; source never ages.
	rh, ok := final.Candidates.AcquireShared("CC")
	require.True(t, ok)
	assert.Zero(t, rh.Mol().ItersWithoutDistImprovement)
	rh.Release()
}

func TestRun_ActivityMode(t *testing.T) {
	var final *Context
	jobs := &stubJobs{prepare: func(ec *Context) {
		ec.JobID = "activity"
		ec.Params = config.DefaultParams()
		ec.Params.ActivityMorphing = true
		ec.Params.CntIterations = 2
		ec.Params.StartMolMaxCount = 2
		ec.SourcePool = []*molecule.Molecule{
			molecule.New("CC"), molecule.New("NN"), molecule.New("OO"),
		}
		ec.EtalonValues = []float64{0, 0, 0}
		ec.RelevantDescriptorNames = []string{"length", "distinct", "carbons"}
		ec.NormalizationCoefs = []molecule.NormCoef{
			{Min: 0, Max: 10}, {Min: 0, Max: 5}, {Min: 0, Max: 10},
		}
		final = ec
	}}

	eng, err := New(Config{
		Threads:    2,
		StorageDir: t.TempDir(),
		Morpher: &chemtest.ScriptedMorpher{Script: map[string][]string{
			"CC": {"CCC"},
			"NN": {"NNC"},
		}},
		Descriptors: &chemtest.Descriptors{Names: []string{"length", "distinct", "carbons"}},
	}, jobs, quietLogger())
	require.NoError(t, err)

	require.NoError(t, eng.Run(context.Background()))

	require.Len(t, jobs.commits, 2)
	assert.False(t, jobs.commits[1].canContinue)

	assert.Len(t, final.StartMols, 2, "seeding respects the start-molecule cap")
	assert.False(t, final.Candidates.Contains("OO"))
	assert.True(t, final.Candidates.Contains("CCC"))

	// Accepted morphs carry normalized descriptors and etalon distances.
	rh, ok := final.Candidates.AcquireShared("CCC")
	require.True(t, ok)
	assert.NotEmpty(t, rh.Mol().EtalonDistances)
	rh.Release()

	checkTreeInvariants(t, final)
}

func TestRun_CancelledBeforeIteration(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	jobs := &stubJobs{prepare: func(ec *Context) {
		ec.JobID = "cancelled"
		ec.Params = config.DefaultParams()
		ec.Source = molecule.New("CC")
		ec.Target = molecule.New("CCO")
	}}

	eng, err := New(Config{
		Threads: 2,
		Morpher: &chemtest.ScriptedMorpher{Script: map[string][]string{"CC": {"CCN"}}},
	}, jobs, quietLogger())
	require.NoError(t, err)

	// GetJob observes the dead context and declines; the engine exits
	// without committing anything.
	require.NoError(t, eng.Run(ctx))
	assert.Empty(t, jobs.commits)
}

func TestRun_DeferredPruneRequest(t *testing.T) {
	var final *Context
	jobs := &stubJobs{prepare: func(ec *Context) {
		ec.JobID = "deferred"
		ec.Params = config.DefaultParams()
		ec.Params.CntIterations = 2
		ec.Source = molecule.New("CC")
		ec.Target = molecule.New("ZZZ")
		final = ec
	}}
	// CCN is accepted on iteration 1 and the deferred feed, read by that
	// same iteration's prune, erases it; CC's historic set keeps it from
	// being accepted again on iteration 2.
	jobs.deferred = []string{"CCN"}

	eng, err := New(Config{
		Threads: 2,
		Morpher: &chemtest.ScriptedMorpher{Script: map[string][]string{
			"CC": {"CCN"},
		}},
	}, jobs, quietLogger())
	require.NoError(t, err)
	require.NoError(t, eng.Run(context.Background()))

	assert.False(t, final.Candidates.Contains("CCN"),
		"deferred request prunes the branch")
	assert.True(t, final.Candidates.Contains("CC"))
}
