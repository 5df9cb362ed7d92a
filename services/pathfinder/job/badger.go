// Copyright (C) 2026 Moleculab (dev@moleculab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package job

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// ErrSnapshotNotFound is returned when a job has no persisted snapshot.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// StoreConfig configures the snapshot store.
type StoreConfig struct {
	// Path is the BadgerDB directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in RAM; for tests.
	InMemory bool

	// SyncWrites trades write latency for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging; nil disables it.
	Logger *slog.Logger
}

// SnapshotStore persists one snapshot per (job, iteration) in BadgerDB,
// with a latest pointer per job. Keys:
//
//	snap/<job>/<iter big-endian> -> snapshot JSON
//	latest/<job>                 -> iter big-endian
type SnapshotStore struct {
	db *badger.DB
}

// OpenSnapshotStore opens (creating if needed) the store.
func OpenSnapshotStore(cfg StoreConfig) (*SnapshotStore, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot store: %w", err)
	}
	return &SnapshotStore{db: db}, nil
}

// Close releases the database.
func (s *SnapshotStore) Close() error {
	return s.db.Close()
}

func snapKey(jobID string, iter int) []byte {
	key := make([]byte, 0, len("snap/")+len(jobID)+1+8)
	key = append(key, "snap/"...)
	key = append(key, jobID...)
	key = append(key, '/')
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(iter))
	return append(key, n[:]...)
}

func latestKey(jobID string) []byte {
	return []byte("latest/" + jobID)
}

// Put persists snap under its job and iteration, updating the latest
// pointer.
func (s *SnapshotStore) Put(snap *Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	var iter [8]byte
	binary.BigEndian.PutUint64(iter[:], uint64(snap.IterIdx))

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(snapKey(snap.JobID, snap.IterIdx), raw); err != nil {
			return err
		}
		return txn.Set(latestKey(snap.JobID), iter[:])
	})
}

// Get loads the snapshot of one iteration.
func (s *SnapshotStore) Get(jobID string, iter int) (*Snapshot, error) {
	var snap *Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapKey(jobID, iter))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrSnapshotNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			snap = &Snapshot{}
			return json.Unmarshal(val, snap)
		})
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Latest loads the most recently committed snapshot of a job.
func (s *SnapshotStore) Latest(jobID string) (*Snapshot, error) {
	var iter int
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(latestKey(jobID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrSnapshotNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			iter = int(binary.BigEndian.Uint64(val))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return s.Get(jobID, iter)
}

// Jobs lists every job ID with a latest pointer.
func (s *SnapshotStore) Jobs() ([]string, error) {
	var jobs []string
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte("latest/")})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			jobs = append(jobs, strings.TrimPrefix(key, "latest/"))
		}
		return nil
	})
	return jobs, err
}

// badgerLogger adapts slog to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
