// Copyright (C) 2026 Moleculab (dev@moleculab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("molpath.pathfinder")
	meter  = otel.Meter("molpath.pathfinder")
)

// initMetrics lazily initializes instruments. Failures degrade
// observability, not execution: they are logged once and the nil
// instruments are skipped at record sites.
func (e *Engine) initMetrics() {
	e.metricsOnce.Do(func() {
		var initErrors []string

		var err error
		e.stageLatency, err = meter.Float64Histogram("pathfinder_stage_duration_seconds",
			metric.WithDescription("Time spent in each iteration stage"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "stage_latency: "+err.Error())
		}

		e.iterationLatency, err = meter.Float64Histogram("pathfinder_iteration_duration_seconds",
			metric.WithDescription("Total iteration time"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "iteration_latency: "+err.Error())
		}

		e.acceptedMorphs, err = meter.Int64Counter("pathfinder_accepted_morphs_total",
			metric.WithDescription("Number of morphs committed into the candidate tree"),
		)
		if err != nil {
			initErrors = append(initErrors, "accepted_morphs: "+err.Error())
		}

		e.prunedMolecules, err = meter.Int64Counter("pathfinder_pruned_molecules_total",
			metric.WithDescription("Number of candidates erased by pruning"),
		)
		if err != nil {
			initErrors = append(initErrors, "pruned_molecules: "+err.Error())
		}

		if len(initErrors) > 0 {
			e.logger.Error("failed to initialize some pathfinder metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}
