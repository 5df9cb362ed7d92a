// Copyright (C) 2026 Moleculab (dev@moleculab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package engine implements the parallel best-first morphing exploration
// loop: it grows a tree of candidate molecules from one or more sources,
// scoring, filtering, committing and pruning morphs each iteration until
// a path is found or the job's budgets run out.
//
// The engine is variant-parameterized. Path mode explores toward a single
// target molecule; activity mode explores a source pool toward an etalon
// point in descriptor space with Pareto filtering and branch decay. Both
// share one pipeline; see variant.go for the split.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/moleculab/molpath/services/pathfinder/chem"
	"github.com/moleculab/molpath/services/pathfinder/molecule"
	"github.com/moleculab/molpath/services/pathfinder/parallel"
)

// JobManager is the engine's hand-off contract with the surrounding job
// infrastructure.
type JobManager interface {
	// GetJob blocks until a job is available and populates ec (possibly
	// from a restored snapshot). A false return asks the engine to shut
	// down.
	GetJob(ctx context.Context, ec *Context) bool

	// RefreshIteration re-reads the mutable per-iteration inputs
	// (parameters, selectors, decoys) into ec. Called between iterations
	// only.
	RefreshIteration(ec *Context)

	// DeferredPruned returns fingerprints externally flagged for pruning
	// this iteration.
	DeferredPruned(jobID string) []string

	// CommitIteration reports a finished iteration and returns whether
	// the engine should continue this job. The manager may veto
	// canContinue (pause, cancel) or revive it (extended budgets).
	CommitIteration(ec *Context, canContinue, pathFound bool) bool
}

// Config wires the engine's collaborators.
type Config struct {
	// Threads is the worker count for parallel stages; 0 means the
	// process default.
	Threads int

	// StorageDir is the root for descriptor batch directories.
	StorageDir string

	// Morpher is the external transformation kernel. Required.
	Morpher chem.Morpher

	// ScaffoldFactory builds a scaffold provider for a selector. Required
	// only for scaffold-mode jobs.
	ScaffoldFactory func(chem.ScaffoldSelector) (chem.ScaffoldProvider, error)

	// Descriptors creates descriptor batches. Required only for
	// activity-mode jobs.
	Descriptors chem.DescriptorSourceFactory

	// Reducer serves the optional visualization stage.
	Reducer chem.DimensionReducer
}

// Engine runs exploration jobs pulled from a JobManager.
type Engine struct {
	threads         int
	storageDir      string
	morpher         chem.Morpher
	scaffoldFactory func(chem.ScaffoldSelector) (chem.ScaffoldProvider, error)
	descriptors     chem.DescriptorSourceFactory
	reducer         chem.DimensionReducer

	jobs   JobManager
	logger *slog.Logger

	metricsOnce      sync.Once
	stageLatency     metric.Float64Histogram
	iterationLatency metric.Float64Histogram
	acceptedMorphs   metric.Int64Counter
	prunedMolecules  metric.Int64Counter
}

// New creates an Engine.
//
// Inputs:
//
//	cfg - collaborator wiring; Morpher is required.
//	jobs - the job manager. Required.
//	logger - execution logs; nil uses slog.Default().
func New(cfg Config, jobs JobManager, logger *slog.Logger) (*Engine, error) {
	if cfg.Morpher == nil || jobs == nil {
		return nil, ErrInvalidConfig
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		threads:         parallel.Workers(cfg.Threads),
		storageDir:      cfg.StorageDir,
		morpher:         cfg.Morpher,
		scaffoldFactory: cfg.ScaffoldFactory,
		descriptors:     cfg.Descriptors,
		reducer:         cfg.Reducer,
		jobs:            jobs,
		logger:          logger,
	}, nil
}

// Run pulls jobs and iterates them until the job manager requests
// shutdown or ctx is cancelled. On cancellation mid-iteration no commit
// is made; the manager decides what to do with the abandoned context.
func (e *Engine) Run(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	e.initMetrics()
	e.logger.Info("pathfinder thread started")

	canContinue := false
	pathFound := false
	var ec *Context
	var v variant

	for {
		if !canContinue {
			ec = NewContext()
			if !e.jobs.GetJob(ctx, ec) {
				break
			}
			canContinue = true
			pathFound = false
			v = variantFor(ec.Params)

			if ec.Candidates.Len() == 0 {
				if err := e.seedJob(ec); err != nil {
					e.logger.Error("job seeding failed",
						slog.String("job_id", ec.JobID),
						slog.String("error", err.Error()),
					)
					canContinue = e.jobs.CommitIteration(ec, false, false)
					continue
				}
			}
			e.logger.Info("job accepted",
				slog.String("job_id", ec.JobID),
				slog.String("variant", v.name()),
				slog.Int("iteration", ec.IterIdx),
				slog.Int("candidates", ec.Candidates.Len()),
			)
		}

		iterFound, iterContinue, err := e.runIteration(ctx, ec, v)
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			e.logger.Info("cancelled mid-iteration, no commit",
				slog.String("job_id", ec.JobID),
			)
			return err
		default:
			// Runtime-internal or invariant failure: report, stop the job,
			// let the manager decide about a retry.
			e.logger.Error("iteration failed",
				slog.String("job_id", ec.JobID),
				slog.Int("iteration", ec.IterIdx),
				slog.String("error", err.Error()),
			)
			iterContinue = false
		}
		pathFound = iterFound

		canContinue = e.jobs.CommitIteration(ec, iterContinue, pathFound)
	}

	e.logger.Info("pathfinder thread terminated")
	return nil
}

// runIteration executes one full stage pipeline.
func (e *Engine) runIteration(parent context.Context, ec *Context, v variant) (bool, bool, error) {
	ctx, span := tracer.Start(parent, "pathfinder.Iteration",
		trace.WithAttributes(
			attribute.String("job_id", ec.JobID),
			attribute.Int("iteration", ec.IterIdx),
			attribute.String("variant", v.name()),
		),
	)
	defer span.End()

	iterStart := time.Now()
	sw := newStopwatch()

	// Refresh mutable inputs, clear the per-iteration pruned log.
	e.jobs.RefreshIteration(ec)
	ec.Pruned.Reset()

	// Frontier selection.
	frontier, err := v.selectFrontier(ctx, e, ec)
	if err != nil {
		return false, false, e.failSpan(span, err)
	}
	e.endStage(ctx, ec, sw, "select_frontier")

	// Morph generation: serial over the frontier, parallel inside the
	// kernel; attempts charged to the parent whether or not they were
	// unique.
	collector := NewMorphCollector()
	morphs, err := e.generateMorphs(ctx, ec, v, frontier, collector)
	if err != nil {
		return false, false, e.failSpan(span, err)
	}
	e.endStage(ctx, ec, sw, "generate_morphs")
	e.logger.Debug("morphs collected",
		slog.String("job_id", ec.JobID),
		slog.Int("iteration", ec.IterIdx),
		slog.Int("frontier", len(frontier)),
		slog.Int("morphs", len(morphs)),
	)

	if v.sortsMorphs() {
		parallel.Sort(e.threads, morphs, CompareMorphs)
		if err := ctx.Err(); err != nil {
			return false, false, e.failSpan(span, err)
		}
		e.endStage(ctx, ec, sw, "sort_morphs")
	}

	survivors := make([]bool, len(morphs))
	if v.initialSurvivor() {
		for i := range survivors {
			survivors[i] = true
		}
	}
	if err := e.filterMorphs(ctx, ec, v, morphs, survivors); err != nil {
		return false, false, e.failSpan(span, err)
	}
	e.endStage(ctx, ec, sw, "filter_morphs")

	if v.computesDescriptors() {
		if err := e.computeDescriptors(ctx, ec, morphs, survivors); err != nil {
			return false, false, e.failSpan(span, err)
		}
		e.endStage(ctx, ec, sw, "compute_descriptors")
	}

	if v.runsMOOP() {
		if err := e.moopFilter(ctx, ec, morphs, survivors); err != nil {
			return false, false, e.failSpan(span, err)
		}
		e.endStage(ctx, ec, sw, "moop_filter")
	}

	candidatesBefore := ec.Candidates.Len()
	modifiedParents, survivorCount, err := e.acceptMorphs(ec, v, morphs, survivors)
	if err := errors.Join(err, ctx.Err()); err != nil {
		return false, false, e.failSpan(span, err)
	}
	e.endStage(ctx, ec, sw, "accept_morphs")
	if e.acceptedMorphs != nil {
		e.acceptedMorphs.Add(ctx, int64(ec.Candidates.Len()-candidatesBefore))
	}
	e.logger.Debug("acceptance ratio",
		slog.String("job_id", ec.JobID),
		slog.Int("iteration", ec.IterIdx),
		slog.Int("survivors", survivorCount),
		slog.Int("morphs", len(morphs)),
	)

	if err := e.updateTree(ctx, ec, v, modifiedParents); err != nil {
		return false, false, e.failSpan(span, err)
	}
	e.endStage(ctx, ec, sw, "update_tree")

	pathFound := false
	if v.detectsPath() {
		if !ec.ScaffoldMode() {
			pathFound = ec.Candidates.Contains(ec.Target.Fingerprint)
		} else {
			pathFound = ec.CandidateScaffolds.Contains(ec.Target.ScaffoldFingerprint)
		}
		if pathFound {
			e.logger.Info("path has been found",
				slog.String("job_id", ec.JobID),
				slog.Int("iteration", ec.IterIdx+1),
				slog.Bool("subpath", ec.ScaffoldMode()),
			)
		}
	}

	if !pathFound {
		deferred := e.deferredSet(ec)
		prunedBefore := ec.Pruned.Len()
		if err := e.pruneTree(ctx, ec, v, deferred); err != nil {
			return false, false, e.failSpan(span, err)
		}
		e.endStage(ctx, ec, sw, "prune_tree")
		if e.prunedMolecules != nil {
			e.prunedMolecules.Add(ctx, int64(ec.Pruned.Len()-prunedBefore))
		}
	}

	if ec.Params.UseVisualization && e.reducer != nil {
		if err := e.reduceDimensions(ctx, ec); err != nil {
			// Visualization is advisory; a failure never stops the job.
			e.logger.Warn("dimension reduction failed",
				slog.String("job_id", ec.JobID),
				slog.String("error", err.Error()),
			)
		}
		e.endStage(ctx, ec, sw, "dimension_reduction")
	}

	e.reportMinDistance(ec, v)

	if err := ctx.Err(); err != nil {
		return false, false, e.failSpan(span, err)
	}

	ec.IterIdx++
	ec.ElapsedSeconds += int64(time.Since(iterStart).Seconds())
	if e.iterationLatency != nil {
		e.iterationLatency.Record(ctx, time.Since(iterStart).Seconds(),
			metric.WithAttributes(attribute.String("variant", v.name())),
		)
	}

	canContinue := true
	if itersDepleted := ec.Params.CntIterations <= ec.IterIdx; itersDepleted {
		e.logger.Info("max iteration count reached", slog.String("job_id", ec.JobID))
		canContinue = false
	}
	if timeDepleted := ec.Params.TimeMaxSeconds <= ec.ElapsedSeconds; timeDepleted {
		e.logger.Info("time budget exhausted", slog.String("job_id", ec.JobID))
		canContinue = false
	}
	if pathFound {
		canContinue = false
	}

	span.SetStatus(codes.Ok, "")
	return pathFound, canContinue, nil
}

// generateMorphs drives the external kernel over the frontier and charges
// attempt counts. A kernel error is logged and the loop moves on to the
// next candidate; morphs the kernel emitted before failing stay collected.
func (e *Engine) generateMorphs(ctx context.Context, ec *Context, v variant,
	frontier []*molecule.Molecule, collector *MorphCollector) ([]*molecule.Molecule, error) {

	var scaffold chem.ScaffoldProvider
	operators := ec.ChemOpers
	if ec.ScaffoldMode() {
		if e.scaffoldFactory == nil {
			return nil, ErrInvalidConfig
		}
		var err error
		scaffold, err = e.scaffoldFactory(ec.ScaffoldSelector)
		if err != nil {
			return nil, err
		}
		if ec.ScaffoldSelector != chem.ScaffoldOriginalMolecule {
			operators = scaffold.UsefulOperators()
		}
	}

	opts := chem.MorphingOptions{
		Fingerprint: ec.Fingerprint,
		SimCoeff:    ec.SimCoeff,
		Operators:   operators,
		Decoys:      ec.Decoys,
		Scaffold:    scaffold,
	}
	if v.detectsPath() {
		opts.Target = ec.Target
	}

	for _, candidate := range frontier {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		attempts := v.morphAttempts(ec, candidate)
		if err := e.morpher.GenerateMorphs(ctx, candidate, attempts, opts, collector); err != nil {
			e.logger.Warn("morph generation failed for candidate",
				slog.String("fingerprint", candidate.Fingerprint),
				slog.String("error", err.Error()),
			)
		}
		ec.Derivations.Add(candidate.Fingerprint, collector.WithdrawAttemptCount())
	}
	return collector.Morphs(), nil
}

// deferredSet folds the manager's deferred-prune feed into a set,
// excluding sources (they are never pruned).
func (e *Engine) deferredSet(ec *Context) map[string]struct{} {
	deferred := make(map[string]struct{})
	for _, fp := range e.jobs.DeferredPruned(ec.JobID) {
		if !ec.Params.ActivityMorphing && fp == ec.Source.Fingerprint {
			continue
		}
		if ec.ScaffoldMode() && fp == ec.TempSource.Fingerprint {
			continue
		}
		deferred[fp] = struct{}{}
	}
	return deferred
}

// reduceDimensions schedules the external visualization projection over
// the whole landscape: candidates, decoys, endpoints, and in scaffold
// mode the committed path.
func (e *Engine) reduceDimensions(ctx context.Context, ec *Context) error {
	snapshot := ec.Candidates.Snapshot()
	mols := make([]*molecule.Molecule, 0, len(snapshot)+len(ec.Decoys)+3+len(ec.PathMolecules))
	for _, m := range snapshot {
		mols = append(mols, m)
	}
	mols = append(mols, ec.Decoys...)
	if ec.Source != nil {
		mols = append(mols, ec.Source)
	}
	if ec.Target != nil {
		mols = append(mols, ec.Target)
	}
	if ec.ScaffoldMode() {
		mols = append(mols, ec.PathMolecules...)
		mols = append(mols, ec.TempSource)
	}
	return e.reducer.Reduce(ctx, mols, ec.Fingerprint, ec.SimCoeff)
}

// reportMinDistance logs the closest candidate of the whole tree, the
// per-iteration progress signal operators watch.
func (e *Engine) reportMinDistance(ec *Context, v variant) {
	minDistance := math.Inf(1)
	if v.detectsPath() {
		// Structural distances live in [0,1].
		minDistance = 1
	}
	for _, key := range ec.Candidates.Keys() {
		h, ok := ec.Candidates.AcquireShared(key)
		if !ok {
			continue
		}
		d := v.dist(h.Mol())
		if d < minDistance {
			minDistance = d
		}
		if v.detectsPath() && d == 0 {
			e.logger.Info("zero distance candidate",
				slog.String("job_id", ec.JobID),
				slog.String("fingerprint", h.Mol().Fingerprint),
			)
		}
		h.Release()
	}
	e.logger.Info("min distance",
		slog.String("job_id", ec.JobID),
		slog.Int("iteration", ec.IterIdx+1),
		slog.Float64("distance", minDistance),
	)
}

// seedJob initializes a fresh context's candidate tree.
func (e *Engine) seedJob(ec *Context) error {
	if ec.Params.ActivityMorphing {
		limit := ec.Params.StartMolMaxCount
		if limit == 0 || limit > len(ec.SourcePool) {
			limit = len(ec.SourcePool)
		}
		for _, src := range ec.SourcePool[:limit] {
			m := src.Clone()
			m.EnsureSets()
			h, created := ec.Candidates.Insert(m)
			h.Release()
			if created {
				ec.StartMols = append(ec.StartMols, m.Fingerprint)
			}
		}
		e.logger.Info("seeded source pool",
			slog.String("job_id", ec.JobID),
			slog.Int("sources", len(ec.StartMols)),
		)
		return nil
	}

	if !ec.ScaffoldMode() {
		m := ec.Source.Clone()
		m.EnsureSets()
		h, _ := ec.Candidates.Insert(m)
		h.Release()
		return nil
	}

	// Scaffold mode roots the tree at the synthetic temp source and
	// pre-populates both scaffold indexes with the endpoints.
	if e.scaffoldFactory == nil || ec.TempSource == nil {
		return ErrInvalidConfig
	}
	scaffold, err := e.scaffoldFactory(ec.ScaffoldSelector)
	if err != nil {
		return err
	}
	sourceScaffold, err := scaffold.GetScaffold(ec.Source.Fingerprint)
	if err != nil {
		return err
	}
	targetScaffold, err := scaffold.GetScaffold(ec.Target.Fingerprint)
	if err != nil {
		return err
	}
	ec.TempSource.ScaffoldFingerprint = sourceScaffold
	ec.Target.ScaffoldFingerprint = targetScaffold

	root := ec.TempSource.Clone()
	root.EnsureSets()
	h, _ := ec.Candidates.Insert(root)
	h.Release()

	ec.CandidateScaffolds.InsertIfAbsent(sourceScaffold, ec.Source.Fingerprint)
	ec.PathScaffolds.InsertIfAbsent(sourceScaffold, ec.Source.Fingerprint)
	ec.PathScaffolds.InsertIfAbsent(targetScaffold, ec.Target.Fingerprint)

	for _, decoy := range ec.Decoys {
		s, err := scaffold.GetScaffold(decoy.Fingerprint)
		if err != nil {
			return err
		}
		decoy.ScaffoldFingerprint = s
	}
	return nil
}

// failSpan records err on the span and passes it through.
func (e *Engine) failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// stopwatch measures stage laps.
type stopwatch struct {
	last time.Time
}

func newStopwatch() *stopwatch {
	return &stopwatch{last: time.Now()}
}

func (s *stopwatch) lap() time.Duration {
	now := time.Now()
	d := now.Sub(s.last)
	s.last = now
	return d
}

// endStage records and logs one finished stage.
func (e *Engine) endStage(ctx context.Context, ec *Context, sw *stopwatch, stage string) {
	d := sw.lap()
	if e.stageLatency != nil {
		e.stageLatency.Record(ctx, d.Seconds(),
			metric.WithAttributes(attribute.String("stage", stage)),
		)
	}
	e.logger.Debug("stage complete",
		slog.String("job_id", ec.JobID),
		slog.Int("iteration", ec.IterIdx+1),
		slog.String("stage", stage),
		slog.Duration("duration", d),
	)
}
