// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import "testing"

func validConfig() *Config {
	return &Config{
		Listener:  ListenerConfig{Address: ":6650"},
		Discovery: DiscoveryConfig{Mode: "static", StaticBrokers: []string{"broker-1:6650"}},
		Auth:      AuthConfig{Mode: "noop"},
		Lookup:    LookupConfig{MaxConcurrent: 50},
	}
}

func TestValidateAcceptsMinimalConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected minimal config to validate, got %v", err)
	}
}

func TestValidateRejectsNoListenerAddress(t *testing.T) {
	cfg := validConfig()
	cfg.Listener.Address = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected missing listener address to be rejected")
	}
}

func TestValidateRejectsTLSWithoutCertFiles(t *testing.T) {
	cfg := validConfig()
	cfg.Listener.TLSAddress = ":6651"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected tlsAddress without cert/key files to be rejected")
	}
}

func TestValidateRejectsStaticDiscoveryWithoutBrokers(t *testing.T) {
	cfg := validConfig()
	cfg.Discovery.StaticBrokers = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected static discovery without brokers to be rejected")
	}
}

func TestValidateRejectsEtcdDiscoveryWithoutEndpoints(t *testing.T) {
	cfg := validConfig()
	cfg.Discovery.Mode = "etcd"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected etcd discovery without endpoints to be rejected")
	}
}

func TestValidateRejectsUnknownAuthMode(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.Mode = "kerberos"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected unknown auth mode to be rejected")
	}
}

func TestValidateRejectsNonPositiveLookupConcurrency(t *testing.T) {
	cfg := validConfig()
	cfg.Lookup.MaxConcurrent = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected non-positive lookup concurrency to be rejected")
	}
}
