// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package lookupproxy

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/absmach/brokerproxy/internal/auth"
	"github.com/absmach/brokerproxy/internal/discovery"
	"github.com/absmach/brokerproxy/internal/lookupsem"
	"github.com/absmach/brokerproxy/internal/proxyconn"
	"github.com/absmach/brokerproxy/internal/wire"
)

func newTestConn(t *testing.T, authz auth.Authorizer) *proxyconn.Connection {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })
	conn := proxyconn.New(server, nil, nil)
	conn.Authorizer = authz
	return conn
}

func TestHandleLookupDirectProxyMode(t *testing.T) {
	h := &Handler{
		Discovery:       discovery.NewStatic([]string{"broker-1:6650"}),
		Semaphore:       lookupsem.New(4, time.Second),
		DirectProxyMode: true,
	}
	conn := newTestConn(t, auth.NoopAuth{})

	resp, err := h.Handle(context.Background(), conn, wire.Command{Type: wire.TypeLookup, Topic: "my-topic", RequestID: 7})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.ProxyThroughServiceURL != 2 {
		t.Fatalf("expected ProxyThroughServiceURL=2 in direct-proxy mode, got %d", resp.ProxyThroughServiceURL)
	}
	if resp.BrokerServiceURL != "broker-1:6650" {
		t.Fatalf("expected the real broker URL so the connection's route table can dial it, got %q", resp.BrokerServiceURL)
	}
	if resp.RequestID != 7 {
		t.Fatalf("expected RequestID echoed, got %d", resp.RequestID)
	}
}

func TestHandleLookupClientDirectMode(t *testing.T) {
	h := &Handler{
		Discovery: discovery.NewStatic([]string{"broker-1:6650"}),
		Semaphore: lookupsem.New(4, time.Second),
	}
	conn := newTestConn(t, auth.NoopAuth{})

	resp, err := h.Handle(context.Background(), conn, wire.Command{Type: wire.TypeLookup, Topic: "my-topic"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.ProxyThroughServiceURL != 1 {
		t.Fatalf("expected ProxyThroughServiceURL=1 when not in direct-proxy mode, got %d", resp.ProxyThroughServiceURL)
	}
	if resp.BrokerServiceURL != "broker-1:6650" {
		t.Fatalf("expected unrewritten broker URL, got %q", resp.BrokerServiceURL)
	}
}

type denyAll struct{ auth.NoopAuth }

var errDenied = errors.New("denied")

func (denyAll) AuthorizeLookup(context.Context, auth.Identity, string) error {
	return errDenied
}

func TestHandleLookupUnauthorized(t *testing.T) {
	h := &Handler{
		Discovery: discovery.NewStatic([]string{"broker-1:6650"}),
		Semaphore: lookupsem.New(4, time.Second),
	}
	conn := newTestConn(t, denyAll{})

	if _, err := h.Handle(context.Background(), conn, wire.Command{Type: wire.TypeLookup, Topic: "secret-topic"}); err == nil {
		t.Fatal("expected AuthorizeLookup failure to propagate as an error")
	}
}

func TestHandlePartitionedMetadataReturnsSinglePartition(t *testing.T) {
	h := &Handler{
		Discovery: discovery.NewStatic([]string{"broker-1:6650"}),
		Semaphore: lookupsem.New(4, time.Second),
	}
	conn := newTestConn(t, auth.NoopAuth{})

	resp, err := h.Handle(context.Background(), conn, wire.Command{Type: wire.TypePartitionedMetadata, Topic: "my-topic"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.Partitions != 1 {
		t.Fatalf("expected 1 partition, got %d", resp.Partitions)
	}
}

func TestHandleSchemaEchoesRequestedType(t *testing.T) {
	h := &Handler{
		Discovery: discovery.NewStatic([]string{"broker-1:6650"}),
		Semaphore: lookupsem.New(4, time.Second),
	}
	conn := newTestConn(t, auth.NoopAuth{})

	resp, err := h.Handle(context.Background(), conn, wire.Command{
		Type: wire.TypeGetOrCreateSchema, Topic: "my-topic", SchemaType: "json",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.Type != wire.TypeGetOrCreateSchemaResponse {
		t.Fatalf("expected GetOrCreateSchemaResponse, got %d", resp.Type)
	}
	if resp.SchemaType != "json" {
		t.Fatalf("expected schema type echoed, got %q", resp.SchemaType)
	}
}

func TestHandleUnexpectedCommandType(t *testing.T) {
	h := &Handler{
		Discovery: discovery.NewStatic([]string{"broker-1:6650"}),
		Semaphore: lookupsem.New(4, time.Second),
	}
	conn := newTestConn(t, auth.NoopAuth{})

	if _, err := h.Handle(context.Background(), conn, wire.Command{Type: wire.TypePing}); err == nil {
		t.Fatal("expected an unexpected command type to error")
	}
}
