// Copyright (C) 2026 Moleculab (dev@moleculab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package parallel adapts the engine's data-parallel stage shapes (ranged
// for, worklist with feeder, prefix scan, sort) onto goroutine worker
// pools sharing one cancellation context.
//
// For and Do are cooperative: workers sample ctx between elements and
// unwind on cancellation. Scan and Sort run to completion once started;
// callers recheck the context on return. This mirrors the runtime the
// engine was designed against, where scans and sorts are not interruptible.
package parallel

import (
	"context"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// sequentialThreshold is the slice size below which Sort stops splitting.
// Small segments sort faster sequentially for cache locality.
const sequentialThreshold = 1 << 11

// Workers normalizes a configured worker count: non-positive means the
// process default (NumCPU).
func Workers(n int) int {
	if n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

// For runs fn(i) for every i in [0, n) across a worker pool.
//
// Indices are handed out through a shared atomic cursor, so uneven element
// costs balance automatically. Each worker checks ctx between elements;
// on cancellation the remaining indices are skipped and ctx.Err() is
// returned. Panics in fn are recovered, logged, and surfaced as a
// cancellation of the remaining work.
func For(ctx context.Context, workers, n int, fn func(i int)) error {
	if n == 0 {
		return ctx.Err()
	}
	workers = Workers(workers)
	if workers > n {
		workers = n
	}

	var cursor atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					buf := make([]byte, 4096)
					m := runtime.Stack(buf, false)
					slog.Error("panic in parallel.For worker",
						slog.Any("panic", r),
						slog.String("stack", string(buf[:m])),
					)
					err = &PanicError{Value: r}
				}
			}()
			for {
				if err := ctx.Err(); err != nil {
					return err
				}
				i := int(cursor.Add(1)) - 1
				if i >= n {
					return nil
				}
				fn(i)
			}
		})
	}
	return g.Wait()
}

// Feeder lets a Do callback enqueue further work items.
type Feeder[T any] interface {
	Add(item T)
}

type worklist[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []T
	active int
	done   bool
}

func (w *worklist[T]) Add(item T) {
	w.mu.Lock()
	w.queue = append(w.queue, item)
	w.mu.Unlock()
	w.cond.Signal()
}

// Do drains a self-feeding worklist with a worker pool, the parallel-do
// shape used by tree pruning: fn may push newly discovered items through
// the feeder and any idle worker picks them up.
//
// Do returns when the queue is empty and no worker is mid-item, or when
// ctx is cancelled (in-flight items finish, queued items are dropped).
func Do[T any](ctx context.Context, workers int, seed []T, fn func(item T, feeder Feeder[T])) error {
	wl := &worklist[T]{queue: append([]T(nil), seed...)}
	wl.cond = sync.NewCond(&wl.mu)
	workers = Workers(workers)

	// Wake sleeping workers when the context dies.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			wl.cond.Broadcast()
		case <-stop:
		}
	}()

	var panicked atomic.Pointer[PanicError]
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				wl.mu.Lock()
				for len(wl.queue) == 0 && wl.active > 0 && !wl.done && ctx.Err() == nil {
					wl.cond.Wait()
				}
				if wl.done || ctx.Err() != nil || (len(wl.queue) == 0 && wl.active == 0) {
					wl.done = true
					wl.mu.Unlock()
					wl.cond.Broadcast()
					return
				}
				item := wl.queue[len(wl.queue)-1]
				wl.queue = wl.queue[:len(wl.queue)-1]
				wl.active++
				wl.mu.Unlock()

				func() {
					defer func() {
						if r := recover(); r != nil {
							buf := make([]byte, 4096)
							m := runtime.Stack(buf, false)
							slog.Error("panic in parallel.Do worker",
								slog.Any("panic", r),
								slog.String("stack", string(buf[:m])),
							)
							panicked.Store(&PanicError{Value: r})
						}
					}()
					fn(item, wl)
				}()

				wl.mu.Lock()
				wl.active--
				if len(wl.queue) == 0 && wl.active == 0 {
					wl.done = true
					wl.cond.Broadcast()
				}
				wl.mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if p := panicked.Load(); p != nil {
		return p
	}
	return ctx.Err()
}

// Scan is a two-pass parallel prefix scan over [0, n).
//
// weight(i) is the element's contribution (0 or 1 for acceptance
// counting); commit(i, prefix) receives the exclusive prefix sum of all
// weights before i. Blocks commit concurrently, but within a block commits
// run in index order with an exact base offset, so every element observes
// the same prefix it would under a sequential scan. The total weight is
// returned.
//
// Scan is not cancellable; callers sample their context on return.
func Scan(workers, n int, weight func(i int) int, commit func(i, prefix int)) int {
	if n == 0 {
		return 0
	}
	workers = Workers(workers)
	if workers > n {
		workers = n
	}
	blockSize := (n + workers - 1) / workers
	blocks := (n + blockSize - 1) / blockSize

	// Pre-scan: per-block sums.
	sums := make([]int, blocks)
	var wg sync.WaitGroup
	for b := 0; b < blocks; b++ {
		wg.Add(1)
		go func(b int) {
			defer wg.Done()
			lo, hi := b*blockSize, (b+1)*blockSize
			if hi > n {
				hi = n
			}
			s := 0
			for i := lo; i < hi; i++ {
				s += weight(i)
			}
			sums[b] = s
		}(b)
	}
	wg.Wait()

	// Exclusive prefix over block sums.
	bases := make([]int, blocks)
	total := 0
	for b := 0; b < blocks; b++ {
		bases[b] = total
		total += sums[b]
	}

	// Final scan: commit with exact prefixes.
	for b := 0; b < blocks; b++ {
		wg.Add(1)
		go func(b int) {
			defer wg.Done()
			lo, hi := b*blockSize, (b+1)*blockSize
			if hi > n {
				hi = n
			}
			running := bases[b]
			for i := lo; i < hi; i++ {
				commit(i, running)
				running += weight(i)
			}
		}(b)
	}
	wg.Wait()

	return total
}

// Sort sorts items with a parallel merge sort. Segments below the
// sequential threshold fall back to the standard library sort. Sort is not
// cancellable.
func Sort[T any](workers int, items []T, less func(a, b T) bool) {
	workers = Workers(workers)
	depth := 0
	for 1<<depth < workers {
		depth++
	}
	buf := make([]T, len(items))
	mergeSort(items, buf, less, depth)
}

func mergeSort[T any](items, buf []T, less func(a, b T) bool, depth int) {
	if len(items) < sequentialThreshold || depth == 0 {
		sort.SliceStable(items, func(i, j int) bool { return less(items[i], items[j]) })
		return
	}
	mid := len(items) / 2
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		mergeSort(items[:mid], buf[:mid], less, depth-1)
	}()
	mergeSort(items[mid:], buf[mid:], less, depth-1)
	wg.Wait()

	copy(buf, items)
	merge(buf[:mid], buf[mid:len(items)], items, less)
}

func merge[T any](a, b, out []T, less func(x, y T) bool) {
	i, j, k := 0, 0, 0
	for i < len(a) && j < len(b) {
		if less(b[j], a[i]) {
			out[k] = b[j]
			j++
		} else {
			out[k] = a[i]
			i++
		}
		k++
	}
	for i < len(a) {
		out[k] = a[i]
		i++
		k++
	}
	for j < len(b) {
		out[k] = b[j]
		j++
		k++
	}
}

// PanicError wraps a recovered worker panic so stage failures surface as
// runtime-internal errors at the iteration boundary instead of crashing
// the process.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return "panic in parallel worker"
}
