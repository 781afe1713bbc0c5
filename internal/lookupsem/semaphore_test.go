// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package lookupsem

import (
	"context"
	"testing"
	"time"
)

func TestTryAcquireRespectsLimit(t *testing.T) {
	s := New(1, time.Second)

	release1, ok := s.TryAcquire()
	if !ok {
		t.Fatal("expected first TryAcquire to succeed")
	}
	if _, ok := s.TryAcquire(); ok {
		t.Fatal("expected second TryAcquire to fail while first permit held")
	}

	release1()

	release2, ok := s.TryAcquire()
	if !ok {
		t.Fatal("expected TryAcquire to succeed after release")
	}
	release2()
}

func TestReleaseIsIdempotent(t *testing.T) {
	s := New(1, time.Second)

	release, ok := s.TryAcquire()
	if !ok {
		t.Fatal("expected TryAcquire to succeed")
	}
	release()
	release() // must not panic or double-release the underlying semaphore

	if _, ok := s.TryAcquire(); !ok {
		t.Fatal("expected a permit to be available after release")
	}
}

func TestAcquireTimesOut(t *testing.T) {
	s := New(1, 10*time.Millisecond)

	release, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer release()

	if _, err := s.Acquire(context.Background()); err != ErrAcquireTimeout {
		t.Fatalf("expected ErrAcquireTimeout, got %v", err)
	}
}
