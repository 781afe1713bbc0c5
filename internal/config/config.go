// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package config loads and validates the proxy's configuration from a YAML
// file, overridable by environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ListenerConfig describes one client-facing listener.
type ListenerConfig struct {
	Address        string `yaml:"address" env:"ADDRESS" envDefault:":6650"`
	TLSAddress     string `yaml:"tlsAddress" env:"TLS_ADDRESS"`
	TLSCertFile    string `yaml:"tlsCertFile" env:"TLS_CERT_FILE"`
	TLSKeyFile     string `yaml:"tlsKeyFile" env:"TLS_KEY_FILE"`
	MaxConnections int    `yaml:"maxConnections" env:"MAX_CONNECTIONS" envDefault:"10000"`
	MaxPerIP       int    `yaml:"maxPerIP" env:"MAX_PER_IP" envDefault:"100"`
}

// EgressConfig bounds which backend endpoints direct-proxy mode may dial.
type EgressConfig struct {
	AllowedHostGlobs []string `yaml:"allowedHostGlobs"`
	AllowedCIDRs     []string `yaml:"allowedCIDRs"`
	AllowedPorts     []int    `yaml:"allowedPorts"`
}

// DiscoveryConfig selects and configures the broker discovery provider.
type DiscoveryConfig struct {
	Mode          string   `yaml:"mode" env:"DISCOVERY_MODE" envDefault:"static"` // static|etcd
	EtcdEndpoints []string `yaml:"etcdEndpoints" env:"ETCD_ENDPOINTS" envSeparator:","`
	EtcdUsername  string   `yaml:"etcdUsername" env:"ETCD_USERNAME"`
	EtcdPassword  string   `yaml:"etcdPassword" env:"ETCD_PASSWORD"`
	StaticBrokers []string `yaml:"staticBrokers" env:"STATIC_BROKERS" envSeparator:","`
}

// AuthConfig selects and configures the authenticator/authorizer pair.
type AuthConfig struct {
	Mode            string            `yaml:"mode" env:"AUTH_MODE" envDefault:"noop"` // noop|shared_secret
	SharedSecret    string            `yaml:"sharedSecret" env:"AUTH_SHARED_SECRET"`
	TopicPrefixACLs map[string]string `yaml:"topicPrefixACLs"`
}

// TopicStatsConfig bounds the in-memory topic stats registry.
type TopicStatsConfig struct {
	MaxEntries int `yaml:"maxEntries" env:"TOPIC_STATS_MAX_ENTRIES" envDefault:"100000"`
}

// LookupConfig configures the lookup-path concurrency gate.
type LookupConfig struct {
	MaxConcurrent  int64         `yaml:"maxConcurrent" env:"LOOKUP_MAX_CONCURRENT" envDefault:"50"`
	AcquireTimeout time.Duration `yaml:"acquireTimeout" env:"LOOKUP_ACQUIRE_TIMEOUT" envDefault:"5s"`
}

// LoggingConfig controls the slog handler and optional file rotation.
type LoggingConfig struct {
	Level    string `yaml:"level" env:"LOG_LEVEL" envDefault:"info"`
	Format   string `yaml:"format" env:"LOG_FORMAT" envDefault:"json"`
	FilePath string `yaml:"filePath" env:"LOG_FILE_PATH"`
	MaxSizeMB int   `yaml:"maxSizeMB" env:"LOG_MAX_SIZE_MB" envDefault:"100"`
	MaxBackups int  `yaml:"maxBackups" env:"LOG_MAX_BACKUPS" envDefault:"5"`
}

// Config is the root configuration for the brokerproxy binary.
type Config struct {
	Listener     ListenerConfig   `yaml:"listener"`
	Egress       EgressConfig     `yaml:"egress"`
	Discovery    DiscoveryConfig  `yaml:"discovery"`
	Auth         AuthConfig       `yaml:"auth"`
	TopicStats   TopicStatsConfig `yaml:"topicStats"`
	Lookup       LookupConfig     `yaml:"lookup"`
	Logging      LoggingConfig    `yaml:"logging"`

	MetricsAddress string        `yaml:"metricsAddress" env:"METRICS_ADDRESS" envDefault:":9090"`
	HealthAddress  string        `yaml:"healthAddress" env:"HEALTH_ADDRESS" envDefault:":8080"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	DNSRefresh      time.Duration `yaml:"dnsRefresh" env:"DNS_REFRESH" envDefault:"1s"`
}

// Load reads path (if non-empty) as YAML, then applies environment variable
// overrides on top, then validates. A .env file in the working directory is
// loaded first, if present, and is not an error when absent.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for internally-inconsistent settings
// that would otherwise surface as a confusing runtime error.
func (c *Config) Validate() error {
	if c.Listener.Address == "" && c.Listener.TLSAddress == "" {
		return fmt.Errorf("listener: at least one of address or tlsAddress must be set")
	}
	if c.Listener.TLSAddress != "" && (c.Listener.TLSCertFile == "" || c.Listener.TLSKeyFile == "") {
		return fmt.Errorf("listener: tlsAddress requires tlsCertFile and tlsKeyFile")
	}
	switch c.Discovery.Mode {
	case "static":
		if len(c.Discovery.StaticBrokers) == 0 {
			return fmt.Errorf("discovery: mode=static requires staticBrokers")
		}
	case "etcd":
		if len(c.Discovery.EtcdEndpoints) == 0 {
			return fmt.Errorf("discovery: mode=etcd requires etcdEndpoints")
		}
	default:
		return fmt.Errorf("discovery: unsupported mode %q", c.Discovery.Mode)
	}
	switch c.Auth.Mode {
	case "noop", "shared_secret":
	default:
		return fmt.Errorf("auth: unsupported mode %q", c.Auth.Mode)
	}
	if c.Lookup.MaxConcurrent <= 0 {
		return fmt.Errorf("lookup: maxConcurrent must be positive")
	}
	return nil
}
