// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package wireerr classifies the errors a proxy connection can produce.
package wireerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for wire-level reporting and metric labelling.
type Kind int

const (
	UnknownError Kind = iota
	ProtocolError
	AuthenticationError
	AuthorizationError
	TooManyRequests
	ServiceNotReady
	MetadataError
)

func (k Kind) String() string {
	switch k {
	case ProtocolError:
		return "protocol_error"
	case AuthenticationError:
		return "authentication_error"
	case AuthorizationError:
		return "authorization_error"
	case TooManyRequests:
		return "too_many_requests"
	case ServiceNotReady:
		return "service_not_ready"
	case MetadataError:
		return "metadata_error"
	default:
		return "unknown_error"
	}
}

var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrConnectionClosed = errors.New("connection closed")
	ErrProtocolViolation = errors.New("protocol violation")
	ErrBrokerUnavailable = errors.New("broker unavailable")
	ErrTooManyRequests  = errors.New("too many requests")
	ErrServiceNotReady  = errors.New("service not ready")
)

// ProxyError wraps an error with the connection context needed to log and
// classify it.
type ProxyError struct {
	Op           string
	Kind         Kind
	ConnectionID string
	RemoteAddr   string
	Err          error
}

func (e *ProxyError) Error() string {
	if e.ConnectionID != "" {
		return fmt.Sprintf("%s [%s] %s: %s: %v", e.Op, e.ConnectionID, e.RemoteAddr, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.RemoteAddr, e.Kind, e.Err)
}

func (e *ProxyError) Unwrap() error {
	return e.Err
}

// New wraps err with connection context. Returns nil if err is nil.
func New(op string, kind Kind, connectionID, remoteAddr string, err error) error {
	if err == nil {
		return nil
	}
	return &ProxyError{
		Op:           op,
		Kind:         kind,
		ConnectionID: connectionID,
		RemoteAddr:   remoteAddr,
		Err:          err,
	}
}

// KindOf extracts the Kind from err, if it is (or wraps) a *ProxyError.
func KindOf(err error) Kind {
	var pe *ProxyError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return UnknownError
}

// Wrap adds a plain message prefix without connection context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
