// Copyright (C) 2026 Moleculab (dev@moleculab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package job

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/moleculab/molpath/services/pathfinder/config"
	"github.com/moleculab/molpath/services/pathfinder/engine"
)

// Sentinel errors for the job manager.
var (
	// ErrManagerClosed is returned when submitting to a closed manager.
	ErrManagerClosed = errors.New("job manager is closed")
)

// Manager is a local queue implementation of engine.JobManager. Jobs
// enter as snapshots (fresh definitions or restored state), the engine
// pulls them one at a time, and every committed iteration is persisted
// through the optional snapshot store.
//
// Thread Safety: safe for concurrent use; submission, control calls and
// the engine loop may run on different goroutines.
type Manager struct {
	logger *slog.Logger
	store  *SnapshotStore

	mu        sync.Mutex
	closed    bool
	queue     chan *Snapshot
	cancelled map[string]bool
	updates   map[string]config.Params
	deferred  map[string][]string
	results   map[string]Result
}

// Result is the terminal outcome of a job as seen by the manager.
type Result struct {
	JobID      string
	Iterations int
	PathFound  bool
	Pruned     []string
	Candidates int
}

// NewManager creates a Manager. store may be nil (no persistence).
func NewManager(store *SnapshotStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:    logger,
		store:     store,
		queue:     make(chan *Snapshot, 16),
		cancelled: make(map[string]bool),
		updates:   make(map[string]config.Params),
		deferred:  make(map[string][]string),
		results:   make(map[string]Result),
	}
}

// Submit queues a fresh job built from spec and returns its ID (generated
// when the spec carries none).
func (m *Manager) Submit(spec config.JobSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}
	snap := FromSpec(spec)
	if snap.JobID == "" {
		snap.JobID = uuid.NewString()[:12]
	}
	return snap.JobID, m.enqueue(snap)
}

// Resume queues a previously persisted snapshot.
func (m *Manager) Resume(snap *Snapshot) error {
	return m.enqueue(snap)
}

func (m *Manager) enqueue(snap *Snapshot) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	m.mu.Unlock()
	m.queue <- snap
	m.logger.Info("job queued", slog.String("job_id", snap.JobID))
	return nil
}

// Close stops the queue; a blocked GetJob returns false once the queue
// drains.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.queue)
	}
}

// Cancel flags a job so its next commit stops it.
func (m *Manager) Cancel(jobID string) {
	m.mu.Lock()
	m.cancelled[jobID] = true
	m.mu.Unlock()
}

// SetParams replaces a running job's parameters from the next iteration.
func (m *Manager) SetParams(jobID string, p config.Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.updates[jobID] = p
	m.mu.Unlock()
	return nil
}

// RequestPrune defers fingerprints for pruning in the job's next
// iteration, the hook interactive frontends use to cut branches.
func (m *Manager) RequestPrune(jobID string, fingerprints ...string) {
	m.mu.Lock()
	m.deferred[jobID] = append(m.deferred[jobID], fingerprints...)
	m.mu.Unlock()
}

// ResultOf returns the recorded outcome of a finished job.
func (m *Manager) ResultOf(jobID string) (Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[jobID]
	return r, ok
}

// GetJob implements engine.JobManager.
func (m *Manager) GetJob(ctx context.Context, ec *engine.Context) bool {
	select {
	case snap, ok := <-m.queue:
		if !ok {
			return false
		}
		snap.Apply(ec)
		return true
	case <-ctx.Done():
		return false
	}
}

// RefreshIteration implements engine.JobManager: parameter replacements
// land here, between iterations, never mid-stage.
func (m *Manager) RefreshIteration(ec *engine.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.updates[ec.JobID]; ok {
		ec.Params = p
		delete(m.updates, ec.JobID)
		m.logger.Info("parameters replaced", slog.String("job_id", ec.JobID))
	}
}

// DeferredPruned implements engine.JobManager; the feed drains on read.
func (m *Manager) DeferredPruned(jobID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.deferred[jobID]
	delete(m.deferred, jobID)
	return out
}

// CommitIteration implements engine.JobManager. The iteration's snapshot
// is persisted (best effort), the job's result record is updated, and the
// continue decision folds in external cancellation.
func (m *Manager) CommitIteration(ec *engine.Context, canContinue, pathFound bool) bool {
	if m.store != nil {
		if err := m.store.Put(FromContext(ec)); err != nil {
			m.logger.Error("snapshot persistence failed",
				slog.String("job_id", ec.JobID),
				slog.String("error", err.Error()),
			)
		}
	}

	m.mu.Lock()
	m.results[ec.JobID] = Result{
		JobID:      ec.JobID,
		Iterations: ec.IterIdx,
		PathFound:  pathFound,
		Pruned:     ec.Pruned.Snapshot(),
		Candidates: ec.Candidates.Len(),
	}
	externallyCancelled := m.cancelled[ec.JobID]
	m.mu.Unlock()

	if externallyCancelled {
		m.logger.Info("job cancelled externally", slog.String("job_id", ec.JobID))
		return false
	}
	return canContinue
}
