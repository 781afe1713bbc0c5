// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxyconn

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/brokerproxy/internal/auth"
	"github.com/absmach/brokerproxy/internal/metrics"
	"github.com/absmach/brokerproxy/internal/wire"
	"github.com/absmach/brokerproxy/internal/wireerr"
	"github.com/google/uuid"
)

// LookupHandler services Lookup/PartitionedMetadata/GetSchema/
// GetOrCreateSchema commands while the connection has not yet switched to
// direct-proxy mode.
type LookupHandler interface {
	Handle(ctx context.Context, conn *Connection, cmd wire.Command) (wire.Command, error)
}

// DirectProxyStarter dials the owning broker and runs the splice loop. It
// returns once the splice has ended (either side closed, or ctx done).
type DirectProxyStarter interface {
	Start(ctx context.Context, conn *Connection, brokerServiceURL string, topic string) error
}

// brokerRoute is what a successful Lookup response told the client about a topic's owning broker, kept around so a later
// data-plane command for that topic can be spliced without looking it up
// again.
type brokerRoute struct {
	serviceURL string
	direct     bool // ProxyThroughServiceURL == 2: this proxy splices it
}

// Connection is the per-client-socket state machine: ProxyConnection from
// the spec's data model.
type Connection struct {
	ID         string
	Socket     net.Conn
	RemoteAddr string
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Identity   auth.Identity

	Authenticator auth.Authenticator
	Authorizer    auth.Authorizer
	Lookup        LookupHandler
	DirectProxy   DirectProxyStarter

	mu     sync.Mutex
	state  State
	routes map[string]brokerRoute

	pending     []*wire.Frame // frames buffered while ConnectingToBroker
	maxPending  int
	closed      atomic.Bool
	connectedAt time.Time
}

// New creates a Connection in StateInit for socket.
func New(socket net.Conn, logger *slog.Logger, m *metrics.Metrics) *Connection {
	return &Connection{
		ID:         uuid.NewString(),
		Socket:     socket,
		RemoteAddr: socket.RemoteAddr().String(),
		Logger:     logger,
		Metrics:    m,
		state:      StateInit,
		maxPending: 64,
	}
}

// State returns the connection's current state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// move attempts the transition, returning a ProtocolError-kind error if
// the state machine forbids it.
func (c *Connection) move(next State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.transition(next) {
		return wireerr.New("state_transition", wireerr.ProtocolError, c.ID, c.RemoteAddr,
			fmt.Errorf("illegal transition %s -> %s", c.state, next))
	}
	c.state = next
	return nil
}

// Serve runs the connection until it closes, driving the handshake, then
// either the lookup path or a handoff to direct-proxy mode.
func (c *Connection) Serve(ctx context.Context) error {
	defer c.finish()

	if err := c.move(StateConnecting); err != nil {
		return err
	}

	frame, err := wire.ReadFrame(c.Socket)
	if err != nil {
		return wireerr.New("read_connect", wireerr.ProtocolError, c.ID, c.RemoteAddr, err)
	}
	if frame.Command.Type != wire.TypeConnect {
		return wireerr.New("read_connect", wireerr.ProtocolError, c.ID, c.RemoteAddr,
			fmt.Errorf("expected Connect, got %d", frame.Command.Type))
	}

	c.Identity.RemoteAddr = c.RemoteAddr
	if err := c.Authenticator.Authenticate(ctx, frame.Command.AuthMethod, frame.Command.AuthData, &c.Identity); err != nil {
		_ = wire.WriteFrame(c.Socket, wire.Command{Type: wire.TypeError, ErrorKind: wireerr.AuthenticationError.String()}, nil)
		return wireerr.New("authenticate", wireerr.AuthenticationError, c.ID, c.RemoteAddr, err)
	}

	if err := wire.WriteFrame(c.Socket, wire.Command{Type: wire.TypeConnected, ProtocolVersion: 1}, nil); err != nil {
		return wireerr.New("write_connected", wireerr.ProtocolError, c.ID, c.RemoteAddr, err)
	}
	if err := c.move(StateConnected); err != nil {
		return err
	}
	c.connectedAt = time.Now()
	if c.Metrics != nil {
		c.Metrics.ActiveConnections.Inc()
		defer c.Metrics.ActiveConnections.Dec()
	}

	return c.serviceLookups(ctx)
}

// serviceLookups processes control-plane frames (Lookup, PartitionedMetadata,
// schema requests, Ping/Pong keep-alives) until the first data-plane command
// arrives for a topic this proxy is configured to splice, or the
// connection ends.
func (c *Connection) serviceLookups(ctx context.Context) error {
	if err := c.move(StateLookupRequests); err != nil {
		return err
	}

	for {
		frame, err := wire.ReadFrame(c.Socket)
		if err != nil {
			return err
		}

		if frame.Command.Type == wire.TypePing {
			if err := wire.WriteFrame(c.Socket, wire.Command{Type: wire.TypePong}, nil); err != nil {
				return err
			}
			continue
		}
		if frame.Command.Type == wire.TypePong {
			continue
		}

		if frame.Command.Type.IsDataPlane() {
			// The first data-plane command for a previously looked-up
			// topic triggers the switch to splice mode.
			handedOff, err := c.beginHandoff(ctx, frame)
			if err != nil {
				return err
			}
			if handedOff {
				return nil
			}
			continue
		}

		resp, err := c.Lookup.Handle(ctx, c, frame.Command)
		if err != nil {
			kind := wireerr.KindOf(err)
			_ = wire.WriteFrame(c.Socket, wire.Command{
				Type: wire.TypeError, RequestID: frame.Command.RequestID,
				ErrorKind: kind.String(), ErrorMessage: err.Error(),
			}, nil)
			if kind == wireerr.AuthorizationError || kind == wireerr.TooManyRequests || kind == wireerr.MetadataError {
				// stay in the lookup loop; these are per-request failures
				continue
			}
			return err
		}

		if resp.Type == wire.TypeLookupResponse {
			c.recordRoute(resp)
		}

		if err := wire.WriteFrame(c.Socket, resp, nil); err != nil {
			return err
		}
	}
}

// recordRoute remembers a topic's resolved broker from a successful
// Lookup, so a later data-plane command for that topic can be spliced
// without repeating the lookup.
func (c *Connection) recordRoute(resp wire.Command) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.routes == nil {
		c.routes = make(map[string]brokerRoute)
	}
	c.routes[resp.Topic] = brokerRoute{serviceURL: resp.BrokerServiceURL, direct: resp.ProxyThroughServiceURL == 2}
}

func (c *Connection) routeFor(topic string) (brokerRoute, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	route, ok := c.routes[topic]
	return route, ok
}

// beginHandoff attempts to switch the connection into direct-proxy mode
// for the topic named by frame. If the topic has no recorded splice
// route, or the backend dial/handshake fails, it replies with an Error
// command for that request and the connection stays in
// ProxyLookupRequests. It reports handedOff=true only once the splice has
// run to completion.
func (c *Connection) beginHandoff(ctx context.Context, frame *wire.Frame) (handedOff bool, err error) {
	topic := frame.Command.Topic
	route, ok := c.routeFor(topic)
	if !ok || !route.direct {
		_ = wire.WriteFrame(c.Socket, wire.Command{
			Type: wire.TypeError, RequestID: frame.Command.RequestID,
			ErrorKind:    wireerr.ServiceNotReady.String(),
			ErrorMessage: fmt.Sprintf("no splice route for topic %q", topic),
		}, nil)
		return false, nil
	}

	if err := c.move(StateConnectingToBroker); err != nil {
		return false, err
	}
	c.BufferPending(frame)

	if err := c.DirectProxy.Start(ctx, c, route.serviceURL, topic); err != nil {
		c.DrainPending()
		_ = c.move(StateLookupRequests)
		_ = wire.WriteFrame(c.Socket, wire.Command{
			Type: wire.TypeError, RequestID: frame.Command.RequestID,
			ErrorKind: wireerr.KindOf(err).String(), ErrorMessage: err.Error(),
		}, nil)
		return false, nil
	}

	if err := c.move(StateConnectionToEndpoint); err != nil {
		return false, err
	}
	if err := c.move(StateClosing); err != nil {
		return false, err
	}
	return true, nil
}

// BufferPending queues a frame read while ConnectingToBroker, so the
// direct-proxy handler can flush it to the backend once the backend
// handshake completes. If the backend connection fails before Connected,
// these frames are dropped per the documented edge-case behavior.
func (c *Connection) BufferPending(frame *wire.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) >= c.maxPending {
		return
	}
	c.pending = append(c.pending, frame)
}

// DrainPending returns and clears the buffered pending frames.
func (c *Connection) DrainPending() []*wire.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.pending
	c.pending = nil
	return p
}

// Close marks the connection closed exactly once and closes the socket.
func (c *Connection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	_ = c.move(StateClosing)
	err := c.Socket.Close()
	_ = c.move(StateClosed)
	return err
}

func (c *Connection) finish() {
	_ = c.Close()
	if c.Logger != nil {
		c.Logger.Debug("connection closed",
			slog.String("connection_id", c.ID),
			slog.String("remote", c.RemoteAddr),
			slog.Duration("duration", time.Since(c.connectedAt)))
	}
}
