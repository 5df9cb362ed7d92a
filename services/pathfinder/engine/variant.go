// Copyright (C) 2026 Moleculab (dev@moleculab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"

	"github.com/moleculab/molpath/services/pathfinder/config"
	"github.com/moleculab/molpath/services/pathfinder/molecule"
)

// variant is the strategy object that parameterizes the shared iteration
// pipeline into its two modes. It is selected once per job so the stage
// kernels never branch on a mode flag inside their hot loops.
type variant interface {
	name() string

	// selectFrontier picks this iteration's morphing frontier and applies
	// the per-candidate counter increments.
	selectFrontier(ctx context.Context, e *Engine, ec *Context) ([]*molecule.Molecule, error)

	// morphAttempts decides how many attempts a frontier candidate gets.
	morphAttempts(ec *Context, m *molecule.Molecule) int

	// dist is the scalar each tree-update and report compares on.
	dist(m *molecule.Molecule) float64

	sortsMorphs() bool
	stochasticFilter() bool
	initialSurvivor() bool
	acceptCap() bool
	resetRootOnWalk() bool
	usesDecay() bool
	runsMOOP() bool
	computesDescriptors() bool
	detectsPath() bool
}

func variantFor(p config.Params) variant {
	if p.ActivityMorphing {
		return activityVariant{}
	}
	return pathVariant{}
}

// pathVariant explores from one source toward one target molecule.
type pathVariant struct{}

func (pathVariant) name() string { return "path" }

func (pathVariant) selectFrontier(ctx context.Context, e *Engine, ec *Context) ([]*molecule.Molecule, error) {
	return e.findLeaves(ctx, ec)
}

func (pathVariant) morphAttempts(ec *Context, m *molecule.Molecule) int {
	if m.DistToTarget < ec.Params.DistToTargetDepthSwitch {
		return ec.Params.CntMorphsInDepth
	}
	return ec.Params.CntMorphs
}

func (pathVariant) dist(m *molecule.Molecule) float64 { return m.DistToTarget }

func (pathVariant) sortsMorphs() bool         { return true }
func (pathVariant) stochasticFilter() bool    { return true }
func (pathVariant) initialSurvivor() bool     { return false }
func (pathVariant) acceptCap() bool           { return true }
func (pathVariant) resetRootOnWalk() bool     { return false }
func (pathVariant) usesDecay() bool           { return false }
func (pathVariant) runsMOOP() bool            { return false }
func (pathVariant) computesDescriptors() bool { return false }
func (pathVariant) detectsPath() bool         { return true }

// activityVariant explores a source pool toward the etalon point in
// descriptor space.
type activityVariant struct{}

func (activityVariant) name() string { return "activity" }

func (activityVariant) selectFrontier(ctx context.Context, e *Engine, ec *Context) ([]*molecule.Molecule, error) {
	return e.findNextBag(ctx, ec)
}

func (activityVariant) morphAttempts(ec *Context, m *molecule.Molecule) int {
	return ec.Params.CntMorphs
}

func (activityVariant) dist(m *molecule.Molecule) float64 { return m.DistToEtalon }

func (activityVariant) sortsMorphs() bool         { return false }
func (activityVariant) stochasticFilter() bool    { return false }
func (activityVariant) initialSurvivor() bool     { return true }
func (activityVariant) acceptCap() bool           { return false }
func (activityVariant) resetRootOnWalk() bool     { return true }
func (activityVariant) usesDecay() bool           { return true }
func (activityVariant) runsMOOP() bool            { return true }
func (activityVariant) computesDescriptors() bool { return true }
func (activityVariant) detectsPath() bool         { return false }
