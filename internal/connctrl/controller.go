// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package connctrl implements the ConnectionController: admission caps on
// the total number of connections and on connections per client IP.
package connctrl

import (
	"errors"
	"sync"
	"time"
)

// ErrTooManyConnections is returned by Admit when a cap would be exceeded.
var ErrTooManyConnections = errors.New("connctrl: too many connections")

// Controller tracks live connection counts against a global cap and a
// per-IP cap, admitting or rejecting new connections accordingly.
type Controller struct {
	mu        sync.Mutex
	total     int
	perIP     map[string]int
	maxTotal  int
	maxPerIP  int

	cleanupTimer *time.Timer
}

// New creates a Controller. maxTotal <= 0 means unlimited total
// connections; maxPerIP <= 0 means unlimited per-IP connections.
func New(maxTotal, maxPerIP int) *Controller {
	c := &Controller{
		perIP:    make(map[string]int),
		maxTotal: maxTotal,
		maxPerIP: maxPerIP,
	}
	c.cleanupTimer = time.AfterFunc(5*time.Minute, c.cleanup)
	return c
}

// Admit attempts to reserve a connection slot for ip. On success, the
// caller must call Release(ip) exactly once when the connection closes.
func (c *Controller) Admit(ip string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxTotal > 0 && c.total >= c.maxTotal {
		return ErrTooManyConnections
	}
	if c.maxPerIP > 0 && c.perIP[ip] >= c.maxPerIP {
		return ErrTooManyConnections
	}

	c.total++
	c.perIP[ip]++
	return nil
}

// Release returns a previously admitted slot for ip.
func (c *Controller) Release(ip string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.total > 0 {
		c.total--
	}
	if n, ok := c.perIP[ip]; ok {
		if n <= 1 {
			delete(c.perIP, ip)
		} else {
			c.perIP[ip] = n - 1
		}
	}
}

// Stats returns the current total connection count and number of distinct
// IPs with at least one open connection.
func (c *Controller) Stats() (total, distinctIPs int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total, len(c.perIP)
}

// cleanup drops zero-count IP entries that Release should already have
// removed, guarding against any accounting drift over a long uptime.
func (c *Controller) cleanup() {
	c.mu.Lock()
	for ip, n := range c.perIP {
		if n <= 0 {
			delete(c.perIP, ip)
		}
	}
	c.cleanupTimer = time.AfterFunc(5*time.Minute, c.cleanup)
	c.mu.Unlock()
}

// Close stops the background cleanup timer.
func (c *Controller) Close() {
	if c.cleanupTimer != nil {
		c.cleanupTimer.Stop()
	}
}
