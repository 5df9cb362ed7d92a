// Copyright (C) 2026 Moleculab (dev@moleculab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/moleculab/molpath/services/pathfinder/molecule"
)

// computeDescriptors runs the external descriptor batches for surviving
// morphs (activity mode).
//
// Morphs are processed in groups of PadelBatchSize, one DescriptorSource
// per group under a per-iteration storage directory. Every morph in a
// group gets its iteration-scoped ID; only survivors are submitted.
// Retrieved vectors are normalized and turned into etalon distances in
// place. A failing batch is skipped: its survivors are marked dead and
// the iteration continues, per the external-kernel error policy.
func (e *Engine) computeDescriptors(ctx context.Context, ec *Context,
	morphs []*molecule.Molecule, survivors []bool) error {

	if len(morphs) == 0 {
		return nil
	}
	if e.descriptors == nil {
		return fmt.Errorf("%w: descriptor source factory not wired", ErrInvalidConfig)
	}

	batch := ec.Params.PadelBatchSize
	steps := len(morphs)/batch + 1

	for step := 0; step < steps; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lo := step * batch
		hi := lo + batch
		if hi > len(morphs) {
			hi = len(morphs)
		}
		if lo >= hi {
			break
		}

		dir := filepath.Join(e.storageDir,
			fmt.Sprintf("%s_%d", ec.JobID, ec.IterIdx),
			fmt.Sprintf("run_%d", step))

		source, err := e.descriptors.NewBatch(dir)
		if err != nil {
			e.logger.Warn("descriptor batch creation failed, skipping batch",
				slog.Int("batch", step),
				slog.String("error", err.Error()),
			)
			for idx := lo; idx < hi; idx++ {
				survivors[idx] = false
			}
			continue
		}

		added := false
		for idx := lo; idx < hi; idx++ {
			m := morphs[idx]
			m.ID = fmt.Sprintf("MORPH_%d_%d", ec.IterIdx, idx+1)
			if survivors[idx] {
				source.Add(m)
				added = true
			}
		}
		if !added {
			continue
		}

		if err := source.Compute(ctx); err != nil {
			e.logger.Warn("descriptor computation failed, skipping batch",
				slog.Int("batch", step),
				slog.String("error", err.Error()),
			)
			for idx := lo; idx < hi; idx++ {
				survivors[idx] = false
			}
			continue
		}

		for idx := lo; idx < hi; idx++ {
			if !survivors[idx] {
				continue
			}
			m := morphs[idx]
			values, err := source.Get(m)
			if err != nil {
				e.logger.Warn("dropping morph without descriptors",
					slog.String("id", m.ID),
					slog.String("error", err.Error()),
				)
				survivors[idx] = false
				continue
			}
			m.DescriptorValues = values
			m.NormalizeDescriptors(ec.NormalizationCoefs, ec.ImputedValues)
			m.ComputeEtalonDistances(ec.EtalonValues, ec.DescriptorWeights)
		}
	}
	return nil
}
