// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package egress

import (
	"net/netip"
	"testing"
)

func TestValidateHostGlob(t *testing.T) {
	v, err := New([]string{"broker-*.internal"}, []string{"10.0.0.0/8"}, []int{6650})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resolve := func(string) ([]netip.Addr, error) { return []netip.Addr{netip.MustParseAddr("10.0.0.1")}, nil }

	if err := v.Validate("broker-1.internal", 6650, resolve); err != nil {
		t.Fatalf("expected matching host to pass, got %v", err)
	}
	if err := v.Validate("evil.example.com", 6650, resolve); err == nil {
		t.Fatal("expected non-matching host to be rejected")
	}
}

func TestValidatePortAllowList(t *testing.T) {
	v, err := New([]string{"broker.internal"}, []string{"10.0.0.0/8"}, []int{6650, 6651})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resolve := func(string) ([]netip.Addr, error) { return []netip.Addr{netip.MustParseAddr("10.0.0.1")}, nil }

	if err := v.Validate("broker.internal", 6650, resolve); err != nil {
		t.Fatalf("expected allowed port to pass, got %v", err)
	}
	if err := v.Validate("broker.internal", 9999, resolve); err == nil {
		t.Fatal("expected disallowed port to be rejected")
	}
}

func TestValidateCIDR(t *testing.T) {
	v, err := New([]string{"broker.internal"}, []string{"10.0.0.0/24"}, []int{6650})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	inRange := func(string) ([]netip.Addr, error) {
		return []netip.Addr{netip.MustParseAddr("10.0.0.5")}, nil
	}
	outOfRange := func(string) ([]netip.Addr, error) {
		return []netip.Addr{netip.MustParseAddr("192.168.1.5")}, nil
	}

	if err := v.Validate("broker.internal", 6650, inRange); err != nil {
		t.Fatalf("expected in-range address to pass, got %v", err)
	}
	if err := v.Validate("broker.internal", 6650, outOfRange); err == nil {
		t.Fatal("expected out-of-range address to be rejected")
	}
}

func TestValidateDeniesEverythingByDefault(t *testing.T) {
	v, err := New(nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resolve := func(string) ([]netip.Addr, error) {
		return []netip.Addr{netip.MustParseAddr("10.0.0.1")}, nil
	}

	if err := v.Validate("anything.internal", 6650, resolve); err == nil {
		t.Fatal("expected an unconfigured validator to deny every target")
	}
}

func TestValidateDeniesWhenCIDRAllowListUnsetEvenIfHostAndPortMatch(t *testing.T) {
	v, err := New([]string{"broker.internal"}, nil, []int{6650})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resolve := func(string) ([]netip.Addr, error) {
		return []netip.Addr{netip.MustParseAddr("10.0.0.1")}, nil
	}

	if err := v.Validate("broker.internal", 6650, resolve); err == nil {
		t.Fatal("expected a host/port match with no CIDR allow-list configured to still be denied")
	}
}
