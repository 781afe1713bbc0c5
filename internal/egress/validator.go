// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package egress validates that a direct-proxy destination is one the
// operator has explicitly allow-listed, by hostname glob, resolved IP
// CIDR, and port.
package egress

import (
	"fmt"
	"net/netip"
	"path"
)

// Validator implements the BrokerProxyValidator collaborator: it decides
// whether a (host, port) pair may be dialed in direct-proxy mode.
type Validator struct {
	hostGlobs []string
	cidrs     []netip.Prefix
	ports     map[int]bool
}

// New builds a Validator from operator-supplied allow-lists. All three
// allow-lists default to deny-all: an unset hostGlobs, cidrStrs, or ports
// means no direct-proxy target will ever validate against that dimension.
func New(hostGlobs []string, cidrStrs []string, ports []int) (*Validator, error) {
	v := &Validator{hostGlobs: hostGlobs}

	for _, c := range cidrStrs {
		prefix, err := netip.ParsePrefix(c)
		if err != nil {
			return nil, fmt.Errorf("egress: invalid CIDR %q: %w", c, err)
		}
		v.cidrs = append(v.cidrs, prefix)
	}

	if len(ports) > 0 {
		v.ports = make(map[int]bool, len(ports))
		for _, p := range ports {
			v.ports[p] = true
		}
	}

	return v, nil
}

// Validate checks host against the hostname glob allow-list and port
// against the port allow-list, then resolves host and checks every
// resolved address against the CIDR allow-list. resolve is injected so
// callers can pass a caching resolver.
func (v *Validator) Validate(host string, port int, resolve func(string) ([]netip.Addr, error)) error {
	if !v.portAllowed(port) {
		return fmt.Errorf("egress: port %d not in allow-list", port)
	}
	if !v.hostAllowed(host) {
		return fmt.Errorf("egress: host %q does not match any allowed pattern", host)
	}

	if len(v.cidrs) == 0 {
		return fmt.Errorf("egress: no allowed CIDRs configured, refusing %q", host)
	}

	addrs, err := resolve(host)
	if err != nil {
		return fmt.Errorf("egress: resolve %q: %w", host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("egress: host %q resolved to no addresses", host)
	}
	for _, a := range addrs {
		if !v.cidrAllowed(a) {
			return fmt.Errorf("egress: resolved address %s not in allowed CIDRs", a)
		}
	}
	return nil
}

func (v *Validator) portAllowed(port int) bool {
	if len(v.ports) == 0 {
		return false
	}
	return v.ports[port]
}

func (v *Validator) hostAllowed(host string) bool {
	if len(v.hostGlobs) == 0 {
		return false
	}
	for _, g := range v.hostGlobs {
		if ok, _ := path.Match(g, host); ok {
			return true
		}
	}
	return false
}

func (v *Validator) cidrAllowed(addr netip.Addr) bool {
	for _, p := range v.cidrs {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
