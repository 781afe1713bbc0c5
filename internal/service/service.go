// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package service owns the proxy's startup and shutdown ordering: accept
// traffic, then on shutdown stop accepting before tearing down the shared
// services that in-flight connections depend on.
package service

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/absmach/brokerproxy/internal/connctrl"
	"github.com/absmach/brokerproxy/internal/discovery"
	"github.com/absmach/brokerproxy/internal/health"
	"github.com/absmach/brokerproxy/internal/resolve"
	"github.com/absmach/brokerproxy/internal/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// Service wires every shared component and runs the listeners, metrics
// server, and health server together, shutting them down in a fixed order
// when its context is cancelled.
type Service struct {
	Logger    *slog.Logger
	Listeners []*server.Listener

	Admit     *connctrl.Controller
	Resolver  *resolve.Resolver
	Discovery discovery.Provider

	Registry       *prometheus.Registry
	MetricsAddress string
	HealthAddress  string
	HealthChecker  *health.Checker

	ShutdownTimeout time.Duration
}

// Run blocks until ctx is cancelled or a component fails, then closes
// shared services in dependency order: listeners first (so no new
// connection can start depending on a service we're about to close),
// then the resolver, then the discovery provider.
func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, ln := range s.Listeners {
		ln := ln
		g.Go(func() error { return ln.Serve(gctx) })
	}

	if s.MetricsAddress != "" {
		g.Go(func() error { return s.serveMetrics(gctx) })
	}
	if s.HealthAddress != "" {
		g.Go(func() error { return s.serveHealth(gctx) })
	}

	err := g.Wait()

	s.Logger.Info("stopping shared services")
	if s.Admit != nil {
		s.Admit.Close()
	}
	if s.Resolver != nil {
		_ = s.Resolver.Close()
	}
	if s.Discovery != nil {
		_ = s.Discovery.Close()
	}

	return err
}

func (s *Service) serveMetrics(ctx context.Context) error {
	handler := promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{})
	return serveHTTP(ctx, s.MetricsAddress, handler, s.Logger, "metrics")
}

func (s *Service) serveHealth(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", health.LivenessHandler())
	mux.HandleFunc("/readyz", s.HealthChecker.ReadinessHandler())
	return serveHTTP(ctx, s.HealthAddress, mux, s.Logger, "health")
}

func serveHTTP(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger, name string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("name", name), slog.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
