// Copyright (C) 2026 Moleculab (dev@moleculab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package randx is the process-wide synchronized random source used by the
// stochastic filter. A single mutex-guarded generator keeps draws uniform
// across all worker goroutines, and Seed makes test runs reproducible.
package randx

import (
	"math/rand"
	"sync"
	"time"
)

var (
	mu  sync.Mutex
	rng = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Seed reseeds the shared generator. Intended for tests and for the CLI's
// --seed flag; production jobs run with the time-based default.
func Seed(seed int64) {
	mu.Lock()
	defer mu.Unlock()
	rng = rand.New(rand.NewSource(seed))
}

// IntInRange returns a uniform integer in [lo, hi], both bounds inclusive.
// It panics if hi < lo.
func IntInRange(lo, hi int) int {
	mu.Lock()
	defer mu.Unlock()
	return lo + rng.Intn(hi-lo+1)
}

// Float64 returns a uniform float in [0, 1).
func Float64() float64 {
	mu.Lock()
	defer mu.Unlock()
	return rng.Float64()
}
