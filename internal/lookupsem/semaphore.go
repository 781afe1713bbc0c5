// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package lookupsem bounds the number of lookup requests (topic lookups,
// partitioned metadata, and schema lookups) in flight at once, so a burst
// of client lookups cannot overwhelm the metadata store.
package lookupsem

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrAcquireTimeout is returned when a permit could not be acquired before
// the configured timeout elapsed.
var ErrAcquireTimeout = errors.New("lookupsem: acquire timed out")

// Semaphore bounds concurrent lookups. Every successful Acquire must be
// matched by exactly one call to the returned release function.
type Semaphore struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

// New creates a Semaphore admitting at most maxConcurrent lookups at once.
func New(maxConcurrent int64, acquireTimeout time.Duration) *Semaphore {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Semaphore{
		sem:     semaphore.NewWeighted(maxConcurrent),
		timeout: acquireTimeout,
	}
}

// Acquire blocks until a permit is available or the acquire timeout
// elapses. On success it returns a release function that must be called
// exactly once.
func (s *Semaphore) Acquire(ctx context.Context) (release func(), err error) {
	acquireCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if err := s.sem.Acquire(acquireCtx, 1); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrAcquireTimeout
		}
		return nil, err
	}

	var released bool
	return func() {
		if released {
			return
		}
		released = true
		s.sem.Release(1)
	}, nil
}

// TryAcquire attempts to acquire a permit without blocking.
func (s *Semaphore) TryAcquire() (release func(), ok bool) {
	if !s.sem.TryAcquire(1) {
		return nil, false
	}
	var released bool
	return func() {
		if released {
			return
		}
		released = true
		s.sem.Release(1)
	}, true
}
