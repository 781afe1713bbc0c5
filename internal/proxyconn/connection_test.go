// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxyconn

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/absmach/brokerproxy/internal/auth"
	"github.com/absmach/brokerproxy/internal/wire"
)

type mockLookup struct {
	resp wire.Command
	err  error
}

func (m *mockLookup) Handle(ctx context.Context, conn *Connection, cmd wire.Command) (wire.Command, error) {
	return m.resp, m.err
}

type mockDirectProxy struct {
	startErr error
	started  bool
}

func (m *mockDirectProxy) Start(ctx context.Context, conn *Connection, brokerServiceURL, topic string) error {
	m.started = true
	return m.startErr
}

func newTestConnection(server net.Conn, lookup LookupHandler, direct DirectProxyStarter) *Connection {
	c := New(server, slog.Default(), nil)
	c.Authenticator = auth.NoopAuth{}
	c.Authorizer = auth.NoopAuth{}
	c.Lookup = lookup
	c.DirectProxy = direct
	return c
}

func TestServeHandshakeThenHandoff(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	direct := &mockDirectProxy{}
	lookup := &mockLookup{resp: wire.Command{
		Type:                   wire.TypeLookupResponse,
		BrokerServiceURL:       "broker.internal:6650",
		Topic:                  "my-topic",
		ProxyThroughServiceURL: 2,
	}}
	conn := newTestConnection(server, lookup, direct)

	done := make(chan error, 1)
	go func() { done <- conn.Serve(context.Background()) }()

	if err := wire.WriteFrame(client, wire.Command{Type: wire.TypeConnect}, nil); err != nil {
		t.Fatalf("write connect: %v", err)
	}
	connected, err := wire.ReadFrame(client)
	if err != nil {
		t.Fatalf("read connected: %v", err)
	}
	if connected.Command.Type != wire.TypeConnected {
		t.Fatalf("expected Connected, got %d", connected.Command.Type)
	}

	if err := wire.WriteFrame(client, wire.Command{Type: wire.TypeLookup, Topic: "my-topic"}, nil); err != nil {
		t.Fatalf("write lookup: %v", err)
	}
	lookupResp, err := wire.ReadFrame(client)
	if err != nil {
		t.Fatalf("read lookup response: %v", err)
	}
	if lookupResp.Command.Type != wire.TypeLookupResponse {
		t.Fatalf("expected LookupResponse, got %d", lookupResp.Command.Type)
	}

	// Only an actual data-plane frame for the looked-up topic drives the
	// handoff; the Lookup response alone must not trigger it.
	if direct.started {
		t.Fatal("direct-proxy handoff started before any data-plane command arrived")
	}

	if err := wire.WriteFrame(client, wire.Command{Type: wire.TypeSend, Topic: "my-topic"}, nil); err != nil {
		t.Fatalf("write send: %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("Serve returned error: %v", err)
	}
	if !direct.started {
		t.Fatal("expected direct-proxy handoff to have started")
	}
}

func TestServeRespondsErrorForUnroutedDataPlaneCommand(t *testing.T) {
	client, server := net.Pipe()

	direct := &mockDirectProxy{}
	conn := newTestConnection(server, &mockLookup{}, direct)

	done := make(chan error, 1)
	go func() { done <- conn.Serve(context.Background()) }()

	if err := wire.WriteFrame(client, wire.Command{Type: wire.TypeConnect}, nil); err != nil {
		t.Fatalf("write connect: %v", err)
	}
	if _, err := wire.ReadFrame(client); err != nil {
		t.Fatalf("read connected: %v", err)
	}

	// No Lookup was ever performed for this topic, so there is no
	// recorded splice route: the connection must reply with an error and
	// stay in ProxyLookupRequests rather than tearing down.
	if err := wire.WriteFrame(client, wire.Command{Type: wire.TypeSend, Topic: "unrouted-topic", RequestID: 42}, nil); err != nil {
		t.Fatalf("write send: %v", err)
	}

	errFrame, err := wire.ReadFrame(client)
	if err != nil {
		t.Fatalf("read error response: %v", err)
	}
	if errFrame.Command.Type != wire.TypeError {
		t.Fatalf("expected Error, got %d", errFrame.Command.Type)
	}
	if errFrame.Command.RequestID != 42 {
		t.Fatalf("expected RequestID echoed, got %d", errFrame.Command.RequestID)
	}
	if direct.started {
		t.Fatal("direct-proxy handoff must not start without a recorded route")
	}

	// The connection survived the failed handoff attempt; closing the
	// client side now ends Serve cleanly instead of via a protocol error.
	client.Close()
	if err := <-done; err != nil && err != io.EOF {
		t.Fatalf("expected Serve to end cleanly after client close, got %v", err)
	}
}
