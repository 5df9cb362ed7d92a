// Copyright (C) 2026 Moleculab (dev@moleculab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moleculab/molpath/services/pathfinder/molecule"
)

func TestCandidates_InsertAcquireErase(t *testing.T) {
	c := NewCandidates()

	h, created := c.Insert(molecule.New("CCO"))
	require.True(t, created)
	assert.Equal(t, "CCO", h.Mol().Fingerprint)
	h.Release()

	h, created = c.Insert(molecule.New("CCO"))
	assert.False(t, created, "second insert of same key")
	h.Release()

	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Contains("CCO"))

	h2, ok := c.Acquire("CCO")
	require.True(t, ok)
	h2.Mol().Weight = 42
	h2.Release()

	rh, ok := c.AcquireShared("CCO")
	require.True(t, ok)
	assert.Equal(t, 42.0, rh.Mol().Weight)
	rh.Release()

	assert.True(t, c.Erase("CCO"))
	assert.False(t, c.Erase("CCO"))
	assert.False(t, c.Contains("CCO"))
	assert.Equal(t, 0, c.Len())

	_, ok = c.Acquire("CCO")
	assert.False(t, ok)
}

func TestCandidates_ConcurrentInsertSameKey(t *testing.T) {
	c := NewCandidates()

	var createdCount atomic.Int32
	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, created := c.Insert(molecule.New("X"))
			if created {
				createdCount.Add(1)
			}
			h.Release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), createdCount.Load(), "insertion must be all-or-nothing")
	assert.Equal(t, 1, c.Len())
}

func TestCandidates_PerKeyExclusivity(t *testing.T) {
	c := NewCandidates()
	h, _ := c.Insert(molecule.New("K"))
	h.Release()

	// Counter increments under exclusive handles must not lose updates.
	const writers = 8
	const perWriter = 500
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				h, ok := c.Acquire("K")
				if !ok {
					t.Error("key vanished")
					return
				}
				h.Mol().ItersWithoutDistImprovement++
				h.Release()
			}
		}()
	}
	wg.Wait()

	rh, ok := c.AcquireShared("K")
	require.True(t, ok)
	assert.Equal(t, writers*perWriter, rh.Mol().ItersWithoutDistImprovement)
	rh.Release()
}

func TestCandidates_DifferentKeysProceedInParallel(t *testing.T) {
	c := NewCandidates()
	ha, _ := c.Insert(molecule.New("A"))
	hb, _ := c.Insert(molecule.New("B"))
	hb.Release()

	// While holding A exclusively, B must stay acquirable.
	done := make(chan struct{})
	go func() {
		h, ok := c.Acquire("B")
		if ok {
			h.Release()
		}
		close(done)
	}()
	<-done
	ha.Release()
}

func TestCandidates_KeysAndSnapshot(t *testing.T) {
	c := NewCandidates()
	for i := 0; i < 100; i++ {
		h, _ := c.Insert(molecule.New(fmt.Sprintf("mol-%03d", i)))
		h.Release()
	}

	keys := c.Keys()
	assert.Len(t, keys, 100)

	snap := c.Snapshot()
	require.Len(t, snap, 100)

	// Snapshot molecules are clones.
	snap["mol-000"].Weight = 999
	rh, ok := c.AcquireShared("mol-000")
	require.True(t, ok)
	assert.Zero(t, rh.Mol().Weight)
	rh.Release()
}

func TestHandle_Set(t *testing.T) {
	c := NewCandidates()
	h, _ := c.Insert(molecule.New("A"))
	replacement := molecule.New("A")
	replacement.Weight = 7
	h.Set(replacement)
	h.Release()

	rh, ok := c.AcquireShared("A")
	require.True(t, ok)
	assert.Equal(t, 7.0, rh.Mol().Weight)
	rh.Release()
}
