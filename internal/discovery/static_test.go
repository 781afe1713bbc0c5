// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"testing"
)

func TestStaticProviderOwnerOfIsStable(t *testing.T) {
	ctx := context.Background()
	p := NewStatic([]string{"broker-1:6650", "broker-2:6650", "broker-3:6650"})

	first, err := p.OwnerOf(ctx, "persistent://tenant/ns/my-topic")
	if err != nil {
		t.Fatalf("OwnerOf: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := p.OwnerOf(ctx, "persistent://tenant/ns/my-topic")
		if err != nil {
			t.Fatalf("OwnerOf: %v", err)
		}
		if again.ServiceURL != first.ServiceURL {
			t.Fatalf("expected stable ownership, got %q then %q", first.ServiceURL, again.ServiceURL)
		}
	}
}

func TestStaticProviderOwnerOfEmptyReturnsUnknownTopic(t *testing.T) {
	p := NewStatic(nil)
	if _, err := p.OwnerOf(context.Background(), "any-topic"); err != ErrUnknownTopic {
		t.Fatalf("expected ErrUnknownTopic, got %v", err)
	}
}

func TestStaticProviderListActiveBrokers(t *testing.T) {
	p := NewStatic([]string{"broker-1:6650", "broker-2:6650"})
	brokers, err := p.ListActiveBrokers(context.Background())
	if err != nil {
		t.Fatalf("ListActiveBrokers: %v", err)
	}
	if len(brokers) != 2 {
		t.Fatalf("expected 2 brokers, got %d", len(brokers))
	}
}
