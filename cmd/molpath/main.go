// Copyright (C) 2026 Moleculab (dev@moleculab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command molpath runs molecular exploration jobs from a YAML definition.
//
// Usage:
//
//	molpath run --config job.yaml
//	molpath run --config job.yaml --seed 42
//	molpath snapshots --config job.yaml
//
// The binary drives the exploration engine with the built-in synthetic
// string chemistry, which makes it a dry-run harness: real morphing,
// similarity and descriptor kernels are linked in by downstream builds
// that provide chem implementations.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/moleculab/molpath/pkg/logging"
	"github.com/moleculab/molpath/services/pathfinder/chem"
	"github.com/moleculab/molpath/services/pathfinder/chem/chemtest"
	"github.com/moleculab/molpath/services/pathfinder/config"
	"github.com/moleculab/molpath/services/pathfinder/engine"
	"github.com/moleculab/molpath/services/pathfinder/job"
	"github.com/moleculab/molpath/services/pathfinder/randx"
)

func main() {
	root := &cobra.Command{
		Use:           "molpath",
		Short:         "Parallel best-first molecular exploration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCommand(), snapshotsCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runCommand() *cobra.Command {
	var configPath string
	var seed int64
	var threads int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one exploration job to completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if threads > 0 {
				cfg.Engine.Threads = threads
			}
			if seed != 0 {
				cfg.Engine.Seed = seed
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "molpath.yaml", "job configuration file")
	cmd.Flags().Int64Var(&seed, "seed", 0, "RNG seed for reproducible runs (0 = config seed, time-based when unset)")
	cmd.Flags().IntVar(&threads, "threads", 0, "worker count override (0 = config/default)")
	return cmd
}

func run(ctx context.Context, cfg *config.File) error {
	logger, err := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "pathfinder",
		JSON:    cfg.Logging.JSON,
	})
	if err != nil {
		return err
	}
	defer logger.Close()
	slog.SetDefault(logger.Logger)

	if cfg.Engine.Seed != 0 {
		randx.Seed(cfg.Engine.Seed)
		logger.Info("seeded rng", slog.Int64("seed", cfg.Engine.Seed))
	}

	if cfg.Metrics.Listen != "" {
		shutdown, err := serveMetrics(cfg.Metrics.Listen, logger.Logger)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store *job.SnapshotStore
	if cfg.Storage.Dir != "" {
		store, err = job.OpenSnapshotStore(job.StoreConfig{
			Path:       filepath.Join(cfg.Storage.Dir, "snapshots"),
			SyncWrites: true,
		})
		if err != nil {
			return err
		}
		defer store.Close()
	}

	manager := job.NewManager(store, logger.Logger)
	jobID, err := manager.Submit(cfg.Job)
	if err != nil {
		return err
	}
	manager.Close() // single-job run; GetJob returns false after this job

	eng, err := engine.New(engine.Config{
		Threads:    cfg.Engine.Threads,
		StorageDir: cfg.Storage.Dir,
		Morpher:    &chemtest.Morpher{},
		ScaffoldFactory: func(sel chem.ScaffoldSelector) (chem.ScaffoldProvider, error) {
			return chemtest.Scaffold{}, nil
		},
		Descriptors: &chemtest.Descriptors{Names: cfg.Job.RelevantDescriptorNames},
	}, manager, logger.Logger)
	if err != nil {
		return err
	}

	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if result, ok := manager.ResultOf(jobID); ok {
		logger.Info("job finished",
			slog.String("job_id", result.JobID),
			slog.Int("iterations", result.Iterations),
			slog.Bool("path_found", result.PathFound),
			slog.Int("candidates", result.Candidates),
		)
	}
	return nil
}

// serveMetrics exposes the OTel meter provider through the Prometheus
// exporter on addr.
func serveMetrics(addr string, logger *slog.Logger) (func(), error) {
	exporter, err := otelprom.New()
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Info("metrics listening", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
		_ = provider.Shutdown(ctx)
	}, nil
}

func snapshotsCommand() *cobra.Command {
	var configPath string
	var jobID string

	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "Inspect persisted job snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.Storage.Dir == "" {
				return errors.New("no storage.dir configured")
			}
			store, err := job.OpenSnapshotStore(job.StoreConfig{
				Path: filepath.Join(cfg.Storage.Dir, "snapshots"),
			})
			if err != nil {
				return err
			}
			defer store.Close()

			if jobID == "" {
				jobs, err := store.Jobs()
				if err != nil {
					return err
				}
				for _, id := range jobs {
					fmt.Println(id)
				}
				return nil
			}

			snap, err := store.Latest(jobID)
			if err != nil {
				return err
			}
			fmt.Printf("job %s: iteration %d, %d candidates, %d pruned last iteration\n",
				snap.JobID, snap.IterIdx, len(snap.Candidates), len(snap.PrunedThisIter))
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "molpath.yaml", "job configuration file")
	cmd.Flags().StringVar(&jobID, "job", "", "job ID to inspect (empty lists jobs)")
	return cmd
}
