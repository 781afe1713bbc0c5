// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package lookupproxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

var (
	// ErrPoolClosed is returned when the pool is closed.
	ErrPoolClosed = errors.New("lookupproxy: broker connection pool is closed")
	// ErrPoolExhausted is returned when no connections are available.
	ErrPoolExhausted = errors.New("lookupproxy: broker connection pool exhausted")
)

// PoolConfig holds broker connection pool configuration.
type PoolConfig struct {
	MaxIdle         int
	MaxActive       int
	IdleTimeout     time.Duration
	MaxConnLifetime time.Duration
	DialTimeout     time.Duration
	WaitTimeout     time.Duration
}

// pooledConn wraps a net.Conn with metadata tracked by the pool.
type pooledConn struct {
	net.Conn
	createdAt time.Time
	pool      *BrokerPool
}

// Close returns the connection to the pool instead of closing the socket,
// unless the pool has been closed or the connection has expired.
func (c *pooledConn) Close() error {
	return c.pool.put(c)
}

// DialFunc creates a new connection to a broker.
type DialFunc func(ctx context.Context, serviceURL string) (net.Conn, error)

// BrokerPool is a per-broker connection pool used by the lookup path to
// avoid a fresh dial for every metadata RPC.
type BrokerPool struct {
	mu       sync.Mutex
	idle     []*pooledConn
	active   int
	dialFunc DialFunc
	config   PoolConfig
	closed   bool
	waitChan chan struct{}
}

// NewBrokerPool creates a connection pool calling dialFunc to create new
// connections.
func NewBrokerPool(dialFunc DialFunc, config PoolConfig) *BrokerPool {
	if config.MaxIdle <= 0 {
		config.MaxIdle = 10
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = 5 * time.Minute
	}
	if config.MaxConnLifetime == 0 {
		config.MaxConnLifetime = 30 * time.Minute
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 10 * time.Second
	}

	p := &BrokerPool{
		dialFunc: dialFunc,
		config:   config,
		waitChan: make(chan struct{}, 1),
	}
	go p.cleanIdleConnections()
	return p
}

// Get retrieves a connection to serviceURL from the pool or dials a new
// one.
func (p *BrokerPool) Get(ctx context.Context, serviceURL string) (net.Conn, error) {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	for len(p.idle) > 0 {
		conn := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]

		if p.isValid(conn) {
			p.active++
			p.mu.Unlock()
			return conn, nil
		}
		_ = conn.Conn.Close()
	}

	if p.config.MaxActive > 0 && p.active >= p.config.MaxActive {
		p.mu.Unlock()
		if p.config.WaitTimeout > 0 {
			timer := time.NewTimer(p.config.WaitTimeout)
			defer timer.Stop()
			select {
			case <-p.waitChan:
				return p.Get(ctx, serviceURL)
			case <-timer.C:
				return nil, ErrPoolExhausted
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return nil, ErrPoolExhausted
	}

	p.active++
	p.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, p.config.DialTimeout)
	defer cancel()

	raw, err := p.dialFunc(dialCtx, serviceURL)
	if err != nil {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
		return nil, fmt.Errorf("lookupproxy: dial broker %s: %w", serviceURL, err)
	}

	return &pooledConn{Conn: raw, createdAt: time.Now(), pool: p}, nil
}

func (p *BrokerPool) put(conn *pooledConn) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.active--

	if p.closed || !p.isValid(conn) {
		return conn.Conn.Close()
	}
	if len(p.idle) >= p.config.MaxIdle {
		return conn.Conn.Close()
	}

	p.idle = append(p.idle, conn)
	select {
	case p.waitChan <- struct{}{}:
	default:
	}
	return nil
}

func (p *BrokerPool) isValid(conn *pooledConn) bool {
	if p.config.MaxConnLifetime > 0 && time.Since(conn.createdAt) > p.config.MaxConnLifetime {
		return false
	}
	return true
}

func (p *BrokerPool) cleanIdleConnections() {
	ticker := time.NewTicker(p.config.IdleTimeout / 2)
	defer ticker.Stop()

	for range ticker.C {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return
		}

		var kept []*pooledConn
		now := time.Now()
		for _, conn := range p.idle {
			if p.config.IdleTimeout > 0 && now.Sub(conn.createdAt) > p.config.IdleTimeout {
				_ = conn.Conn.Close()
			} else {
				kept = append(kept, conn)
			}
		}
		p.idle = kept
		p.mu.Unlock()
	}
}

// Close closes the pool and all idle connections.
func (p *BrokerPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for _, conn := range p.idle {
		_ = conn.Conn.Close()
	}
	p.idle = nil
	return nil
}

// Stats returns the pool's idle and active connection counts.
func (p *BrokerPool) Stats() (idle, active int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle), p.active
}
