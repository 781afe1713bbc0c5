// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package resolve wraps a DNS cache with a forced short refresh interval,
// so that an operator's CIDR allow-list in internal/egress stays accurate
// even when a broker hostname's backing IP rotates.
package resolve

import (
	"context"
	"net/netip"
	"time"

	"github.com/rs/dnscache"
)

// Resolver caches DNS lookups and refreshes them on a fixed interval
// rather than honoring record TTLs, so address-based egress checks cannot
// be bypassed by a long-lived DNS record.
type Resolver struct {
	cache *dnscache.Resolver
	stop  chan struct{}
}

// New starts a Resolver that refreshes every refresh interval.
func New(refresh time.Duration) *Resolver {
	if refresh <= 0 {
		refresh = time.Second
	}
	r := &Resolver{
		cache: &dnscache.Resolver{},
		stop:  make(chan struct{}),
	}
	go r.refreshLoop(refresh)
	return r
}

func (r *Resolver) refreshLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.cache.Refresh(true)
		case <-r.stop:
			return
		}
	}
}

// Lookup resolves host to its cached addresses, matching the signature
// egress.Validator.Validate expects.
func (r *Resolver) Lookup(host string) ([]netip.Addr, error) {
	ips, err := r.cache.LookupHost(context.Background(), host)
	if err != nil {
		return nil, err
	}
	addrs := make([]netip.Addr, 0, len(ips))
	for _, ip := range ips {
		if a, err := netip.ParseAddr(ip); err == nil {
			addrs = append(addrs, a)
		}
	}
	return addrs, nil
}

// Close stops the background refresh loop.
func (r *Resolver) Close() error {
	close(r.stop)
	return nil
}
