// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package directproxy

import (
	"net"

	"golang.org/x/sys/unix"
)

// trySplice attempts an in-kernel zero-copy splice between two TCP
// connections via a pipe, avoiding a user-space copy for every byte. It
// returns ok=false if either side isn't a *net.TCPConn, so callers fall
// back to pump.
func trySplice(dst, src net.Conn, counter byteCounter) (n int64, err error, ok bool) {
	srcTCP, ok1 := src.(*net.TCPConn)
	dstTCP, ok2 := dst.(*net.TCPConn)
	if !ok1 || !ok2 {
		return 0, nil, false
	}

	srcFile, err := srcTCP.File()
	if err != nil {
		return 0, nil, false
	}
	defer srcFile.Close()
	dstFile, err := dstTCP.File()
	if err != nil {
		return 0, nil, false
	}
	defer dstFile.Close()

	pipeFDs := make([]int, 2)
	if err := unix.Pipe2(pipeFDs, unix.O_NONBLOCK); err != nil {
		return 0, nil, false
	}
	defer unix.Close(pipeFDs[0])
	defer unix.Close(pipeFDs[1])

	srcFD := int(srcFile.Fd())
	dstFD := int(dstFile.Fd())

	var total int64
	for {
		nread, serr := unix.Splice(srcFD, nil, pipeFDs[1], nil, 1<<20, unix.SPLICE_F_MOVE|unix.SPLICE_F_NONBLOCK)
		if serr != nil {
			if serr == unix.EAGAIN {
				continue
			}
			return total, serr, true
		}
		if nread == 0 {
			return total, nil, true
		}

		var written int64
		for written < nread {
			nwrite, werr := unix.Splice(pipeFDs[0], nil, dstFD, nil, int(nread-written), unix.SPLICE_F_MOVE|unix.SPLICE_F_NONBLOCK)
			if werr != nil {
				if werr == unix.EAGAIN {
					continue
				}
				return total, werr, true
			}
			written += nwrite
		}

		total += nread
		counter.Add(nread)
	}
}
