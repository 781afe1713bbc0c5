// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for the proxy.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the fixed set of Prometheus series the proxy exposes.
// Names are a stable operator-facing contract and must not be renamed.
type Metrics struct {
	ActiveConnections   prometheus.Gauge
	NewConnections      *prometheus.CounterVec
	RejectedConnections *prometheus.CounterVec
	BinaryOps           *prometheus.CounterVec
	BinaryBytes         *prometheus.CounterVec

	LookupLatency   prometheus.Histogram
	LookupInFlight  prometheus.Gauge
	LookupRejected  *prometheus.CounterVec
	DirectProxyConns prometheus.Gauge

	TopicBytesIn  *prometheus.CounterVec
	TopicBytesOut *prometheus.CounterVec
}

// New registers and returns the proxy's metric set against reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		ActiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "pulsar_proxy_active_connections",
			Help: "Number of active client connections currently open",
		}),
		NewConnections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsar_proxy_new_connections",
			Help: "Total number of new connections accepted",
		}, []string{"listener"}),
		RejectedConnections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsar_proxy_rejected_connections",
			Help: "Total number of connections rejected at admission",
		}, []string{"reason"}),
		BinaryOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsar_proxy_binary_ops",
			Help: "Total number of binary commands processed, by kind",
		}, []string{"kind", "direction"}),
		BinaryBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsar_proxy_binary_bytes",
			Help: "Total bytes processed on client connections",
		}, []string{"direction"}),
		LookupLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "pulsar_proxy_lookup_latency_seconds",
			Help:    "Lookup request latency",
			Buckets: prometheus.DefBuckets,
		}),
		LookupInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "pulsar_proxy_lookup_in_flight",
			Help: "Number of lookup requests currently holding a semaphore permit",
		}),
		LookupRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsar_proxy_lookup_rejected",
			Help: "Total number of lookups rejected, by reason",
		}, []string{"reason"}),
		DirectProxyConns: f.NewGauge(prometheus.GaugeOpts{
			Name: "pulsar_proxy_direct_proxy_connections",
			Help: "Number of connections currently in direct-proxy (splice) mode",
		}),
		TopicBytesIn: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsar_proxy_topic_bytes_in",
			Help: "Bytes received for a topic, client to broker",
		}, []string{"topic"}),
		TopicBytesOut: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsar_proxy_topic_bytes_out",
			Help: "Bytes sent for a topic, broker to client",
		}, []string{"topic"}),
	}
}
