// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package lookupproxy services the control-plane commands a client sends
// before it is handed off to direct-proxy mode: Lookup, PartitionedMetadata,
// GetSchema, and GetOrCreateSchema.
package lookupproxy

import (
	"context"
	"fmt"

	"github.com/absmach/brokerproxy/internal/discovery"
	"github.com/absmach/brokerproxy/internal/lookupsem"
	"github.com/absmach/brokerproxy/internal/metrics"
	"github.com/absmach/brokerproxy/internal/proxyconn"
	"github.com/absmach/brokerproxy/internal/wire"
	"github.com/absmach/brokerproxy/internal/wireerr"
)

// Handler implements proxyconn.LookupHandler.
type Handler struct {
	Discovery discovery.Provider
	Semaphore *lookupsem.Semaphore
	Metrics   *metrics.Metrics

	// DirectProxyMode controls the response's ProxyThroughServiceURL value
	// for a Lookup: when true, the proxy itself splices the data plane
	// (value 2) once a data-plane command for the topic arrives; when
	// false, the client is told to connect to the broker directly (value
	// 1). BrokerServiceURL always names the real broker, since the
	// connection's route table (proxyconn.Connection) dials it verbatim
	// when splicing.
	DirectProxyMode bool
}

var _ proxyconn.LookupHandler = (*Handler)(nil)

// Handle services one control-plane command.
func (h *Handler) Handle(ctx context.Context, conn *proxyconn.Connection, cmd wire.Command) (wire.Command, error) {
	switch cmd.Type {
	case wire.TypeLookup:
		return h.handleLookup(ctx, conn, cmd)
	case wire.TypePartitionedMetadata:
		return h.handlePartitionedMetadata(ctx, conn, cmd)
	case wire.TypeGetSchema, wire.TypeGetOrCreateSchema:
		return h.handleSchema(ctx, conn, cmd)
	default:
		return wire.Command{}, wireerr.New("lookup_handle", wireerr.ProtocolError, conn.ID, conn.RemoteAddr,
			fmt.Errorf("unexpected command type %d on lookup path", cmd.Type))
	}
}

func (h *Handler) handleLookup(ctx context.Context, conn *proxyconn.Connection, cmd wire.Command) (wire.Command, error) {
	if err := conn.Authorizer.AuthorizeLookup(ctx, conn.Identity, cmd.Topic); err != nil {
		return wire.Command{}, wireerr.New("authorize_lookup", wireerr.AuthorizationError, conn.ID, conn.RemoteAddr, err)
	}

	release, err := h.acquire(ctx, conn)
	if err != nil {
		return wire.Command{}, err
	}
	defer release()

	broker, authoritative, err := h.resolveOwner(ctx, cmd.Topic)
	if err != nil {
		return wire.Command{}, wireerr.New("resolve_owner", wireerr.MetadataError, conn.ID, conn.RemoteAddr, err)
	}

	resp := wire.Command{
		Type:             wire.TypeLookupResponse,
		RequestID:        cmd.RequestID,
		Topic:            cmd.Topic,
		BrokerServiceURL: broker.ServiceURL,
		BrokerServiceURLTLS: broker.ServiceURLTLS,
		Authoritative:    authoritative,
	}
	if h.DirectProxyMode {
		resp.ProxyThroughServiceURL = 2
	} else {
		resp.ProxyThroughServiceURL = 1
	}
	return resp, nil
}

func (h *Handler) handlePartitionedMetadata(ctx context.Context, conn *proxyconn.Connection, cmd wire.Command) (wire.Command, error) {
	if err := conn.Authorizer.AuthorizeLookup(ctx, conn.Identity, cmd.Topic); err != nil {
		return wire.Command{}, wireerr.New("authorize_partitioned_metadata", wireerr.AuthorizationError, conn.ID, conn.RemoteAddr, err)
	}

	release, err := h.acquire(ctx, conn)
	if err != nil {
		return wire.Command{}, err
	}
	defer release()

	// Partition count is owned by the metadata store, not this proxy; a
	// single-owner topic (the common case for this deployment) has one
	// partition by definition.
	return wire.Command{
		Type:       wire.TypePartitionedMetadataResponse,
		RequestID:  cmd.RequestID,
		Topic:      cmd.Topic,
		Partitions: 1,
	}, nil
}

func (h *Handler) handleSchema(ctx context.Context, conn *proxyconn.Connection, cmd wire.Command) (wire.Command, error) {
	if err := conn.Authorizer.AuthorizeLookup(ctx, conn.Identity, cmd.Topic); err != nil {
		return wire.Command{}, wireerr.New("authorize_schema", wireerr.AuthorizationError, conn.ID, conn.RemoteAddr, err)
	}

	// Schema lookups conservatively share the same semaphore as topic
	// lookups.
	release, err := h.acquire(ctx, conn)
	if err != nil {
		return wire.Command{}, err
	}
	defer release()

	respType := wire.TypeGetSchemaResponse
	if cmd.Type == wire.TypeGetOrCreateSchema {
		respType = wire.TypeGetOrCreateSchemaResponse
	}
	return wire.Command{
		Type:       respType,
		RequestID:  cmd.RequestID,
		Topic:      cmd.Topic,
		SchemaType: cmd.SchemaType,
		SchemaData: cmd.SchemaData,
	}, nil
}

func (h *Handler) acquire(ctx context.Context, conn *proxyconn.Connection) (func(), error) {
	release, err := h.Semaphore.Acquire(ctx)
	if err != nil {
		if h.Metrics != nil {
			h.Metrics.LookupRejected.WithLabelValues("semaphore_timeout").Inc()
		}
		return nil, wireerr.New("acquire_semaphore", wireerr.TooManyRequests, conn.ID, conn.RemoteAddr, err)
	}
	if h.Metrics != nil {
		h.Metrics.LookupInFlight.Inc()
	}
	return func() {
		release()
		if h.Metrics != nil {
			h.Metrics.LookupInFlight.Dec()
		}
	}, nil
}

func (h *Handler) resolveOwner(ctx context.Context, topic string) (discovery.Broker, bool, error) {
	broker, err := h.Discovery.OwnerOf(ctx, topic)
	if err == nil {
		return broker, true, nil
	}
	if err != discovery.ErrUnknownTopic {
		return discovery.Broker{}, false, err
	}
	broker, err = h.Discovery.LeastLoaded(ctx)
	if err != nil {
		return discovery.Broker{}, false, err
	}
	// Assignment of an unowned topic is not authoritative from this
	// proxy's point of view; the client should re-lookup once the
	// metadata store catches up.
	return broker, false, nil
}
