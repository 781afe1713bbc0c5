// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package directproxy

import "net"

// trySplice is unavailable outside Linux; callers always fall back to pump.
func trySplice(_, _ net.Conn, _ byteCounter) (n int64, err error, ok bool) {
	return 0, nil, false
}
