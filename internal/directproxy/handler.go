// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package directproxy implements DirectProxyHandler: once a client has
// been handed off from the lookup path, it dials the owning broker and
// splices the two sockets together until either side closes.
package directproxy

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/absmach/brokerproxy/internal/egress"
	"github.com/absmach/brokerproxy/internal/metrics"
	"github.com/absmach/brokerproxy/internal/proxyconn"
	"github.com/absmach/brokerproxy/internal/topicstats"
	"github.com/absmach/brokerproxy/internal/wire"
	"github.com/absmach/brokerproxy/internal/wireerr"
)

// Handler implements proxyconn.DirectProxyStarter.
type Handler struct {
	Validator  *egress.Validator
	Resolve    func(string) ([]netip.Addr, error)
	TopicStats *topicstats.Registry
	Metrics    *metrics.Metrics

	DialTimeout time.Duration
	IdleTimeout time.Duration
}

var _ proxyconn.DirectProxyStarter = (*Handler)(nil)

// Start validates brokerServiceURL against the egress allow-lists, dials
// it, performs the proxy's own Connect/Connected handshake with the
// backend, flushes the frames the connection buffered before the dial (the
// data-plane frame that triggered the handoff), then splices client and
// broker sockets until one side closes.
func (h *Handler) Start(ctx context.Context, conn *proxyconn.Connection, brokerServiceURL string, topic string) error {
	host, port, err := splitServiceURL(brokerServiceURL)
	if err != nil {
		return wireerr.New("parse_broker_url", wireerr.ProtocolError, conn.ID, conn.RemoteAddr, err)
	}

	if err := h.Validator.Validate(host, port, h.Resolve); err != nil {
		return wireerr.New("validate_egress", wireerr.AuthorizationError, conn.ID, conn.RemoteAddr, err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, h.dialTimeout())
	defer cancel()

	var dialer net.Dialer
	broker, err := dialer.DialContext(dialCtx, "tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	if err != nil {
		select {
		case <-dialCtx.Done():
			return wireerr.New("dial_broker", wireerr.ServiceNotReady, conn.ID, conn.RemoteAddr, dialCtx.Err())
		default:
		}
		return wireerr.New("dial_broker", wireerr.ServiceNotReady, conn.ID, conn.RemoteAddr, err)
	}
	defer broker.Close()

	if err := h.handshake(dialCtx, broker); err != nil {
		return wireerr.New("broker_handshake", wireerr.ServiceNotReady, conn.ID, conn.RemoteAddr, err)
	}

	for _, pending := range conn.DrainPending() {
		if err := wire.WriteFrame(broker, pending.Command, pending.Payload); err != nil {
			return wireerr.New("flush_pending", wireerr.UnknownError, conn.ID, conn.RemoteAddr, err)
		}
	}

	stats := h.TopicStats.Get(topic)
	if h.Metrics != nil {
		h.Metrics.DirectProxyConns.Inc()
		defer h.Metrics.DirectProxyConns.Dec()
	}

	return relay(ctx, conn.Socket, broker, stats, h.IdleTimeout)
}

// handshake performs the proxy's own Connect/Connected exchange with the
// backend broker before any client frame is forwarded, matching the
// ProxyConnectingToBroker stage's documented backend handshake.
func (h *Handler) handshake(ctx context.Context, broker net.Conn) error {
	if deadline, ok := ctx.Deadline(); ok {
		if err := broker.SetDeadline(deadline); err != nil {
			return fmt.Errorf("set handshake deadline: %w", err)
		}
		defer broker.SetDeadline(time.Time{})
	}

	if err := wire.WriteFrame(broker, wire.Command{Type: wire.TypeConnect, ClientVersion: "brokerproxy"}, nil); err != nil {
		return fmt.Errorf("send connect: %w", err)
	}
	frame, err := wire.ReadFrame(broker)
	if err != nil {
		return fmt.Errorf("read connected: %w", err)
	}
	if frame.Command.Type != wire.TypeConnected {
		return fmt.Errorf("expected Connected from backend, got %d", frame.Command.Type)
	}
	return nil
}

func (h *Handler) dialTimeout() time.Duration {
	if h.DialTimeout > 0 {
		return h.DialTimeout
	}
	return 10 * time.Second
}

func splitServiceURL(serviceURL string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(serviceURL)
	if err != nil {
		return "", 0, fmt.Errorf("directproxy: invalid broker service URL %q: %w", serviceURL, err)
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return "", 0, fmt.Errorf("directproxy: invalid port in %q: %w", serviceURL, err)
	}
	return host, port, nil
}
