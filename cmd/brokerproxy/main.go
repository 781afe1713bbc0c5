// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Command brokerproxy runs the broker proxy: it accepts client
// connections, services topic lookups, and splices admitted clients onto
// their owning broker.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/absmach/brokerproxy/internal/auth"
	"github.com/absmach/brokerproxy/internal/config"
	"github.com/absmach/brokerproxy/internal/connctrl"
	"github.com/absmach/brokerproxy/internal/directproxy"
	"github.com/absmach/brokerproxy/internal/discovery"
	"github.com/absmach/brokerproxy/internal/egress"
	"github.com/absmach/brokerproxy/internal/health"
	"github.com/absmach/brokerproxy/internal/lookupproxy"
	"github.com/absmach/brokerproxy/internal/lookupsem"
	"github.com/absmach/brokerproxy/internal/metrics"
	"github.com/absmach/brokerproxy/internal/proxyconn"
	"github.com/absmach/brokerproxy/internal/resolve"
	"github.com/absmach/brokerproxy/internal/server"
	"github.com/absmach/brokerproxy/internal/service"
	"github.com/absmach/brokerproxy/internal/topicstats"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/natefinch/lumberjack.v2"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "brokerproxy",
		Short: "Client-facing proxy for the broker cluster",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the YAML config file")

	root.AddCommand(serveCmd(), validateConfigCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy until terminated",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
}

func validateConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "Load and validate the config file without starting the proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(configPath)
			if err == nil {
				fmt.Println("config OK")
			}
			return err
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use: "version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("brokerproxy dev")
			return nil
		},
	}
}

func run(cfg *config.Config) error {
	logger := setupLogger(cfg.Logging)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	resolver := resolve.New(cfg.DNSRefresh)

	validator, err := egress.New(cfg.Egress.AllowedHostGlobs, cfg.Egress.AllowedCIDRs, cfg.Egress.AllowedPorts)
	if err != nil {
		return fmt.Errorf("build egress validator: %w", err)
	}

	discoveryProvider, err := buildDiscovery(cfg.Discovery)
	if err != nil {
		return fmt.Errorf("build discovery provider: %w", err)
	}

	authenticator, authorizer := buildAuth(cfg.Auth)

	admit := connctrl.New(cfg.Listener.MaxConnections, cfg.Listener.MaxPerIP)
	sem := lookupsem.New(cfg.Lookup.MaxConcurrent, cfg.Lookup.AcquireTimeout)
	stats := topicstats.New(cfg.TopicStats.MaxEntries)

	lookup := &lookupproxy.Handler{
		Discovery:       discoveryProvider,
		Semaphore:       sem,
		Metrics:         m,
		DirectProxyMode: true,
	}
	direct := &directproxy.Handler{
		Validator:  validator,
		Resolve:    resolver.Lookup,
		TopicStats: stats,
		Metrics:    m,
	}

	handleConn := func(ctx context.Context, raw net.Conn) error {
		conn := proxyconn.New(raw, logger, m)
		conn.Authenticator = authenticator
		conn.Authorizer = authorizer
		conn.Lookup = lookup
		conn.DirectProxy = direct
		return conn.Serve(ctx)
	}

	var listeners []*server.Listener
	if cfg.Listener.Address != "" {
		listeners = append(listeners, server.New("plaintext", server.Config{
			Address:         cfg.Listener.Address,
			ShutdownTimeout: cfg.ShutdownTimeout,
			Workers:         cfg.Listener.MaxConnections,
			Logger:          logger,
		}, admit, m, handleConn))
	}
	if cfg.Listener.TLSAddress != "" {
		tlsConf, err := loadTLS(cfg.Listener.TLSCertFile, cfg.Listener.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("load TLS material: %w", err)
		}
		listeners = append(listeners, server.New("tls", server.Config{
			Address:         cfg.Listener.TLSAddress,
			TLSConfig:       tlsConf,
			ShutdownTimeout: cfg.ShutdownTimeout,
			Workers:         cfg.Listener.MaxConnections,
			Logger:          logger,
		}, admit, m, handleConn))
	}

	healthChecker := health.NewChecker(10 * time.Second)
	healthChecker.Register("discovery", func(ctx context.Context) error {
		_, err := discoveryProvider.ListActiveBrokers(ctx)
		return err
	})

	svc := &service.Service{
		Logger:          logger,
		Listeners:       listeners,
		Admit:           admit,
		Resolver:        resolver,
		Discovery:       discoveryProvider,
		Registry:        reg,
		MetricsAddress:  cfg.MetricsAddress,
		HealthAddress:   cfg.HealthAddress,
		HealthChecker:   healthChecker,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return svc.Run(ctx)
}

func buildDiscovery(cfg config.DiscoveryConfig) (discovery.Provider, error) {
	switch cfg.Mode {
	case "etcd":
		return discovery.NewEtcd(cfg.EtcdEndpoints, cfg.EtcdUsername, cfg.EtcdPassword)
	default:
		return discovery.NewStatic(cfg.StaticBrokers), nil
	}
}

func buildAuth(cfg config.AuthConfig) (auth.Authenticator, auth.Authorizer) {
	if cfg.Mode == "shared_secret" {
		a := &auth.SharedSecretAuth{Secret: cfg.SharedSecret, TopicPrefixACLs: cfg.TopicPrefixACLs}
		return a, a
	}
	return auth.NoopAuth{}, auth.NoopAuth{}
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var out = os.Stdout
	opts := &slog.HandlerOptions{Level: level}

	if cfg.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		if cfg.Format == "text" {
			return slog.New(slog.NewTextHandler(rotator, opts))
		}
		return slog.New(slog.NewJSONHandler(rotator, opts))
	}

	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(out, opts))
	}
	return slog.New(slog.NewJSONHandler(out, opts))
}

func loadTLS(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}
