// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package server runs the proxy's client-facing listeners: accept loop,
// per-IP admission, and graceful connection draining on shutdown.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/absmach/brokerproxy/internal/connctrl"
	"github.com/absmach/brokerproxy/internal/metrics"
	"github.com/absmach/brokerproxy/internal/wireerr"
	"github.com/absmach/brokerproxy/internal/wqueue"
)

// ErrShutdownTimeout is returned when graceful shutdown exceeds the
// configured timeout.
var ErrShutdownTimeout = errors.New("server: shutdown timeout exceeded")

// DefaultWorkers is the worker pool size used when Config.Workers is
// unset.
const DefaultWorkers = 10000

// Config holds a single listener's configuration.
type Config struct {
	Address         string
	TLSConfig       *tls.Config
	ShutdownTimeout time.Duration
	Logger          *slog.Logger

	// Workers bounds the number of connections this listener services
	// concurrently: each accepted connection is confined to one pool
	// worker for its whole lifetime. Accept() stalls once the pool is
	// full, applying backpressure instead of spawning an unbounded
	// goroutine per connection. Defaults to DefaultWorkers.
	Workers int
}

// ConnHandler processes one accepted, admitted connection to completion.
type ConnHandler func(ctx context.Context, conn net.Conn) error

// Listener is a protocol-agnostic TCP listener with admission control and
// graceful shutdown.
type Listener struct {
	config  Config
	admit   *connctrl.Controller
	metrics *metrics.Metrics
	handle  ConnHandler
	name    string
	pool    *wqueue.Queue

	wg sync.WaitGroup

	mu    sync.Mutex
	addr  string
	ready chan struct{}
}

// New creates a Listener named name (used as the "listener" metric label).
func New(name string, cfg Config, admit *connctrl.Controller, m *metrics.Metrics, handle ConnHandler) *Listener {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	return &Listener{
		name:    name,
		config:  cfg,
		admit:   admit,
		metrics: m,
		handle:  handle,
		pool:    wqueue.New(cfg.Workers, 0),
		ready:   make(chan struct{}),
	}
}

// Addr blocks until the listener is bound and returns its address. Mainly
// useful in tests that bind to ":0" and need the ephemeral port chosen by
// the kernel.
func (s *Listener) Addr() string {
	<-s.ready
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Serve starts the listener and blocks until ctx is cancelled, then drains
// in-flight connections with the configured shutdown timeout.
func (s *Listener) Serve(ctx context.Context) error {
	defer func() { go s.pool.Close() }()

	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.config.Address, err)
	}
	if s.config.TLSConfig != nil {
		ln = tls.NewListener(ln, s.config.TLSConfig)
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()
	close(s.ready)
	s.config.Logger.Info("listener started", slog.String("name", s.name), slog.String("address", s.addr))

	connCtx, connCancel := context.WithCancel(context.Background())
	defer connCancel()

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return
				default:
					s.config.Logger.Error("accept failed", slog.String("error", err.Error()))
					continue
				}
			}

			s.wg.Add(1)
			submitted := conn
			task := func() {
				defer s.wg.Done()
				s.handleAdmitted(connCtx, submitted)
			}
			if err := s.pool.SubmitWait(ctx, task); err != nil {
				s.wg.Done()
				submitted.Close()
			}
		}
	}()

	<-ctx.Done()
	s.config.Logger.Info("shutdown signal received, closing listener", slog.String("name", s.name))

	if err := ln.Close(); err != nil {
		s.config.Logger.Error("error closing listener", slog.String("error", err.Error()))
	}
	<-acceptDone

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(s.config.ShutdownTimeout):
		s.config.Logger.Warn("shutdown timeout exceeded, forcing connection closure", slog.String("name", s.name))
		connCancel()
		select {
		case <-done:
			return ErrShutdownTimeout
		case <-time.After(time.Second):
			return ErrShutdownTimeout
		}
	}
}

func (s *Listener) handleAdmitted(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	ip := hostOf(conn.RemoteAddr().String())
	if err := s.admit.Admit(ip); err != nil {
		if s.metrics != nil {
			s.metrics.RejectedConnections.WithLabelValues("admission").Inc()
		}
		s.config.Logger.Debug("connection rejected", slog.String("remote", conn.RemoteAddr().String()), slog.String("error", err.Error()))
		return
	}
	defer s.admit.Release(ip)

	if s.metrics != nil {
		s.metrics.NewConnections.WithLabelValues(s.name).Inc()
	}

	if tlsConn, ok := conn.(*tls.Conn); ok {
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			s.config.Logger.Debug("TLS handshake failed", slog.String("remote", conn.RemoteAddr().String()), slog.String("error", err.Error()))
			return
		}
	}

	if err := s.handle(ctx, conn); err != nil && !errors.Is(err, io.EOF) {
		kind := wireerr.KindOf(err)
		s.config.Logger.Debug("connection handler error",
			slog.String("remote", conn.RemoteAddr().String()),
			slog.String("kind", kind.String()),
			slog.String("error", err.Error()))
	}
}

func hostOf(addr string) string {
	if idx := strings.LastIndexByte(addr, ':'); idx >= 0 {
		return addr[:idx]
	}
	return addr
}
