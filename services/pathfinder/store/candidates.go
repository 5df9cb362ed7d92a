// Copyright (C) 2026 Moleculab (dev@moleculab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store holds the shared mutable state of an exploration job: the
// concurrent candidate map (the tree itself), the scaffold index, the
// morph-derivation counters, and the per-iteration pruned log.
//
// The candidate map is a sharded hash map with a lock per entry. Handles
// serialize writers of the same key while writers of different keys
// proceed in parallel, which is the property every stage kernel depends
// on. Handles are not re-entrant. Child-to-parent walks release the current
// handle before acquiring the next key; the only nested acquisitions take
// child handles while the parent's is held, so the lock order never cycles.
package store

import (
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/moleculab/molpath/services/pathfinder/molecule"
)

const shardCount = 64

type entry struct {
	mu  sync.RWMutex
	mol *molecule.Molecule
}

type shard struct {
	mu sync.RWMutex
	m  map[string]*entry
}

// Candidates is the concurrent fingerprint → molecule map.
//
// Thread Safety: all methods are safe for concurrent use. Mutation of a
// molecule is only legal while holding the exclusive Handle for its key.
type Candidates struct {
	shards [shardCount]shard
	size   atomic.Int64
}

// NewCandidates returns an empty candidate map.
func NewCandidates() *Candidates {
	c := &Candidates{}
	for i := range c.shards {
		c.shards[i].m = make(map[string]*entry)
	}
	return c
}

func (c *Candidates) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &c.shards[h.Sum32()%shardCount]
}

// Handle is an exclusive per-key lock on one stored molecule.
type Handle struct {
	e *entry
}

// Mol returns the locked molecule. Valid until Release.
func (h *Handle) Mol() *molecule.Molecule {
	return h.e.mol
}

// Set replaces the stored molecule under the held lock.
func (h *Handle) Set(m *molecule.Molecule) {
	h.e.mol = m
}

// Release unlocks the entry. The handle must not be used afterwards.
func (h *Handle) Release() {
	h.e.mu.Unlock()
}

// RHandle is a shared (read-only) per-key lock.
type RHandle struct {
	e *entry
}

// Mol returns the locked molecule. Callers must not mutate it.
func (h *RHandle) Mol() *molecule.Molecule {
	return h.e.mol
}

// Release drops the shared lock.
func (h *RHandle) Release() {
	h.e.mu.RUnlock()
}

// Insert stores mol under its fingerprint.
//
// Outputs:
//
//	*Handle - exclusive handle on the stored molecule (the existing one if
//	          the key was already present).
//	bool - true if the key was newly inserted.
//
// Insertion is all-or-nothing: concurrent inserters of the same key get
// the same entry and exactly one of them observes true.
func (c *Candidates) Insert(mol *molecule.Molecule) (*Handle, bool) {
	s := c.shardFor(mol.Fingerprint)

	s.mu.Lock()
	e, ok := s.m[mol.Fingerprint]
	if !ok {
		e = &entry{mol: mol}
		s.m[mol.Fingerprint] = e
		c.size.Add(1)
	}
	s.mu.Unlock()

	e.mu.Lock()
	return &Handle{e: e}, !ok
}

// Acquire returns an exclusive handle on key, or false if absent.
func (c *Candidates) Acquire(key string) (*Handle, bool) {
	s := c.shardFor(key)
	s.mu.RLock()
	e, ok := s.m[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	return &Handle{e: e}, true
}

// AcquireShared returns a shared handle on key, or false if absent.
func (c *Candidates) AcquireShared(key string) (*RHandle, bool) {
	s := c.shardFor(key)
	s.mu.RLock()
	e, ok := s.m[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	e.mu.RLock()
	return &RHandle{e: e}, true
}

// Contains reports key membership without locking the entry.
func (c *Candidates) Contains(key string) bool {
	s := c.shardFor(key)
	s.mu.RLock()
	_, ok := s.m[key]
	s.mu.RUnlock()
	return ok
}

// Erase removes key from the map. Goroutines already holding the entry's
// handle keep a valid but orphaned molecule; new acquires fail.
func (c *Candidates) Erase(key string) bool {
	s := c.shardFor(key)
	s.mu.Lock()
	_, ok := s.m[key]
	if ok {
		delete(s.m, key)
		c.size.Add(-1)
	}
	s.mu.Unlock()
	return ok
}

// Len returns the current candidate count.
func (c *Candidates) Len() int {
	return int(c.size.Load())
}

// Keys snapshots the key set. The snapshot is consistent per shard, not
// globally; stages that iterate tolerate keys vanishing underneath them.
func (c *Candidates) Keys() []string {
	keys := make([]string, 0, c.Len())
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		for k := range s.m {
			keys = append(keys, k)
		}
		s.mu.RUnlock()
	}
	return keys
}

// Snapshot clones every stored molecule, keyed by fingerprint. Used for
// snapshot persistence between iterations, when no stage is running.
func (c *Candidates) Snapshot() map[string]*molecule.Molecule {
	out := make(map[string]*molecule.Molecule, c.Len())
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		for k, e := range s.m {
			e.mu.RLock()
			out[k] = e.mol.Clone()
			e.mu.RUnlock()
		}
		s.mu.RUnlock()
	}
	return out
}
