// Copyright (C) 2026 Moleculab (dev@moleculab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config defines the YAML-facing configuration of the pathfinder:
// per-job exploration parameters, molecule specs, and the process-level
// settings the CLI wires (logging, metrics, storage).
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/moleculab/molpath/services/pathfinder/molecule"
)

// ErrInvalidConfig wraps all validation failures from this package.
var ErrInvalidConfig = errors.New("invalid configuration")

var validate = validator.New()

// Params are the per-job exploration parameters. They are frozen for the
// duration of one iteration and may be replaced by the job manager between
// iterations.
type Params struct {
	// CntMorphs is the number of morph attempts per frontier candidate.
	CntMorphs int `yaml:"cnt_morphs" validate:"min=1"`

	// CntMorphsInDepth replaces CntMorphs in path mode once a candidate is
	// closer to the target than DistToTargetDepthSwitch.
	CntMorphsInDepth int `yaml:"cnt_morphs_in_depth" validate:"min=1"`

	// DistToTargetDepthSwitch is the proximity threshold that triggers
	// depth mode.
	DistToTargetDepthSwitch float64 `yaml:"dist_to_target_depth_switch" validate:"min=0"`

	// CntCandidatesToKeep is the guaranteed-accept window of the
	// stochastic filter (path mode).
	CntCandidatesToKeep int `yaml:"cnt_candidates_to_keep" validate:"min=1"`

	// CntCandidatesToKeepMax caps accepted morphs per iteration (path mode).
	CntCandidatesToKeepMax int `yaml:"cnt_candidates_to_keep_max" validate:"min=1"`

	// CntMaxMorphs is the cumulative per-node attempt cap; exceeding it
	// makes a stale node eligible for whole-subtree pruning.
	CntMaxMorphs uint32 `yaml:"cnt_max_morphs" validate:"min=1"`

	// ItThreshold is how many iterations without improvement a branch
	// survives before pruning considers it stale.
	ItThreshold int `yaml:"it_threshold" validate:"min=0"`

	// DecayThreshold is the activity-mode freshness budget in iterations.
	DecayThreshold int `yaml:"decay_threshold" validate:"min=0"`

	// MinAcceptableWeight and MaxAcceptableWeight bound morph weight.
	MinAcceptableWeight float64 `yaml:"min_acceptable_weight" validate:"min=0"`
	MaxAcceptableWeight float64 `yaml:"max_acceptable_weight" validate:"min=0"`

	// UseSynthesisFeasibility enables the sascore <= 6 predicate.
	UseSynthesisFeasibility bool `yaml:"use_synthesis_feasibility"`

	// MaxMOOPRuns bounds the Pareto-filter pass count (activity mode).
	MaxMOOPRuns int `yaml:"max_moop_runs" validate:"min=1"`

	// CntIterations and TimeMaxSeconds are the termination budgets.
	CntIterations  int   `yaml:"cnt_iterations" validate:"min=1"`
	TimeMaxSeconds int64 `yaml:"time_max_seconds" validate:"min=1"`

	// StartMolMaxCount caps activity-mode seeding; 0 means all sources.
	StartMolMaxCount int `yaml:"start_mol_max_count" validate:"min=0"`

	// PadelBatchSize is the descriptor-computation batch size.
	PadelBatchSize int `yaml:"padel_batch_size" validate:"min=1"`

	// ActivityMorphing selects the activity variant of the engine.
	ActivityMorphing bool `yaml:"activity_morphing"`

	// UseVisualization schedules the dimensionality-reduction stage.
	UseVisualization bool `yaml:"use_visualization"`
}

// DefaultParams returns the parameter set jobs start from.
func DefaultParams() Params {
	return Params{
		CntMorphs:               90,
		CntMorphsInDepth:        200,
		DistToTargetDepthSwitch: 0.1,
		CntCandidatesToKeep:     50,
		CntCandidatesToKeepMax:  100,
		CntMaxMorphs:            1500,
		ItThreshold:             5,
		DecayThreshold:          10,
		MinAcceptableWeight:     0,
		MaxAcceptableWeight:     500,
		MaxMOOPRuns:             10,
		CntIterations:           500,
		TimeMaxSeconds:          21600,
		PadelBatchSize:          500,
	}
}

// Validate checks tag constraints plus the cross-field invariants the tags
// cannot express.
func (p *Params) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if p.MaxAcceptableWeight < p.MinAcceptableWeight {
		return fmt.Errorf("%w: max_acceptable_weight below min_acceptable_weight", ErrInvalidConfig)
	}
	if p.CntCandidatesToKeepMax < p.CntCandidatesToKeep {
		return fmt.Errorf("%w: cnt_candidates_to_keep_max below cnt_candidates_to_keep", ErrInvalidConfig)
	}
	return nil
}

// MoleculeSpec describes one input molecule in a job document.
type MoleculeSpec struct {
	Fingerprint string  `yaml:"fingerprint" validate:"required"`
	ID          string  `yaml:"id"`
	Weight      float64 `yaml:"weight"`
	Sascore     float64 `yaml:"sascore"`
}

// JobSpec is the YAML shape of one exploration job.
type JobSpec struct {
	ID string `yaml:"id"`

	Source MoleculeSpec   `yaml:"source"`
	Target MoleculeSpec   `yaml:"target"`
	Decoys []MoleculeSpec `yaml:"decoys"`

	// SourcePool seeds activity mode; Source/Target are ignored there.
	SourcePool []MoleculeSpec `yaml:"source_pool"`

	EtalonValues            []float64           `yaml:"etalon_values"`
	DescriptorWeights       []float64           `yaml:"descriptor_weights"`
	NormalizationCoefs      []molecule.NormCoef `yaml:"normalization_coefficients"`
	ImputedValues           []float64           `yaml:"imputed_values"`
	RelevantDescriptorNames []string            `yaml:"relevant_descriptor_names"`

	// ScaffoldSelector: "none", "most_general", or "original_molecule".
	ScaffoldSelector string `yaml:"scaffold_selector"`

	Params Params `yaml:"params"`
}

// Validate checks the job document for the mode it selects.
func (j *JobSpec) Validate() error {
	if err := j.Params.Validate(); err != nil {
		return err
	}
	switch j.ScaffoldSelector {
	case "", "none", "most_general", "original_molecule":
	default:
		return fmt.Errorf("%w: unknown scaffold_selector %q", ErrInvalidConfig, j.ScaffoldSelector)
	}
	if j.Params.ActivityMorphing {
		if len(j.SourcePool) == 0 {
			return fmt.Errorf("%w: activity morphing requires a source_pool", ErrInvalidConfig)
		}
		if len(j.EtalonValues) == 0 {
			return fmt.Errorf("%w: activity morphing requires etalon_values", ErrInvalidConfig)
		}
		if j.ScaffoldSelector != "" && j.ScaffoldSelector != "none" && j.ScaffoldSelector != "most_general" {
			return fmt.Errorf("%w: activity morphing supports only the most_general scaffold selector", ErrInvalidConfig)
		}
		return nil
	}
	if j.Source.Fingerprint == "" || j.Target.Fingerprint == "" {
		return fmt.Errorf("%w: path mode requires source and target", ErrInvalidConfig)
	}
	if j.Source.Fingerprint == j.Target.Fingerprint {
		return fmt.Errorf("%w: source and target must differ", ErrInvalidConfig)
	}
	return nil
}

// File is the top-level CLI configuration document.
type File struct {
	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
		JSON  bool   `yaml:"json"`
	} `yaml:"logging"`

	Metrics struct {
		// Listen is the Prometheus listen address, e.g. ":9464".
		// Empty disables the endpoint.
		Listen string `yaml:"listen"`
	} `yaml:"metrics"`

	Storage struct {
		// Dir is the root directory for snapshots and descriptor batches.
		Dir string `yaml:"dir"`
	} `yaml:"storage"`

	Engine struct {
		// Threads is the worker count; 0 means the process default.
		Threads int `yaml:"threads" validate:"min=0"`

		// Seed makes runs reproducible when non-zero.
		Seed int64 `yaml:"seed"`
	} `yaml:"engine"`

	Job JobSpec `yaml:"job"`
}

// Load reads and validates a configuration file. Params defaults are
// applied before the document overrides them.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	f := &File{}
	f.Job.Params = DefaultParams()
	if err := yaml.Unmarshal(raw, f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := f.Job.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}
