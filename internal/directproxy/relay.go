// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package directproxy

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/absmach/brokerproxy/internal/topicstats"
)

const (
	minBufferSize = 1 * 1024
	maxBufferSize = 1 * 1024 * 1024
)

// relay copies between client and broker in both directions until either
// side closes or ctx is cancelled, updating stats as bytes cross the
// proxy. On context cancellation both sockets are force-closed, which
// drops any frame that is only partially read or written; no error reply
// is attempted for that partial frame.
func relay(ctx context.Context, client, broker net.Conn, stats *topicstats.Stats, idleTimeout time.Duration) error {
	errCh := make(chan error, 2)
	var once sync.Once
	closeBoth := func() {
		once.Do(func() {
			_ = client.Close()
			_ = broker.Close()
		})
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			closeBoth()
		case <-stop:
		}
	}()

	go func() {
		err := copyDirection(broker, client, idleTimeout, &stats.BytesIn)
		halfClose(broker)
		errCh <- err
	}()
	go func() {
		err := copyDirection(client, broker, idleTimeout, &stats.BytesOut)
		halfClose(client)
		errCh <- err
	}()

	firstErr := <-errCh
	secondErr := <-errCh
	closeBoth()

	if firstErr != nil && !errors.Is(firstErr, io.EOF) {
		return firstErr
	}
	if secondErr != nil && !errors.Is(secondErr, io.EOF) {
		return secondErr
	}
	return nil
}

type halfCloser interface {
	CloseWrite() error
}

func halfClose(conn net.Conn) {
	if hc, ok := conn.(halfCloser); ok {
		_ = hc.CloseWrite()
	}
}

// byteCounter is satisfied by *topicstats.Stats's BytesIn/BytesOut fields.
type byteCounter interface {
	Add(int64) int64
}

// copyDirection tries an in-kernel zero-copy splice first (Linux only, and
// only when idle deadlines aren't needed to interrupt a stuck peer), then
// falls back to the adaptive-buffer pump.
func copyDirection(dst, src net.Conn, idleTimeout time.Duration, counter byteCounter) error {
	if idleTimeout <= 0 {
		if _, err, ok := trySplice(dst, src, counter); ok {
			return err
		}
	}
	return pump(dst, src, idleTimeout, counter)
}

// pump copies from src to dst, doubling its buffer from minBufferSize up
// to maxBufferSize as larger reads are observed, and resetting idle
// deadlines on every successful read.
func pump(dst, src net.Conn, idleTimeout time.Duration, counter byteCounter) error {
	bufSize := minBufferSize
	buf := make([]byte, bufSize)

	for {
		if idleTimeout > 0 {
			if err := src.SetReadDeadline(time.Now().Add(idleTimeout)); err != nil {
				return err
			}
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if idleTimeout > 0 {
				if err := dst.SetWriteDeadline(time.Now().Add(idleTimeout)); err != nil {
					return err
				}
			}
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
			counter.Add(int64(n))

			if n == bufSize && bufSize < maxBufferSize {
				bufSize *= 2
				buf = make([]byte, bufSize)
			}
		}
		if readErr != nil {
			return readErr
		}
	}
}
