// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/absmach/brokerproxy/internal/discovery"
)

type fakeDiscovery struct {
	closed chan struct{}
}

func newFakeDiscovery() *fakeDiscovery { return &fakeDiscovery{closed: make(chan struct{})} }

func (f *fakeDiscovery) OwnerOf(context.Context, string) (discovery.Broker, error) {
	return discovery.Broker{}, nil
}
func (f *fakeDiscovery) ListActiveBrokers(context.Context) ([]discovery.Broker, error) { return nil, nil }
func (f *fakeDiscovery) LeastLoaded(context.Context) (discovery.Broker, error)          { return discovery.Broker{}, nil }
func (f *fakeDiscovery) Close() error {
	close(f.closed)
	return nil
}

func TestRunClosesDiscoveryOnShutdown(t *testing.T) {
	disc := newFakeDiscovery()
	svc := &Service{
		Logger:    slog.Default(),
		Discovery: disc,
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- svc.Run(ctx) }()

	cancel()

	select {
	case <-disc.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected discovery provider to be closed on shutdown")
	}

	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
