// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package wire implements the proxy's length-prefixed binary frame format:
// uint32 totalSize | uint32 commandSize | CommandHeader | [payload].
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// MaxFrameSize bounds a single frame to guard against a malicious or
// corrupt totalSize field forcing an unbounded allocation.
const MaxFrameSize = 16 * 1024 * 1024

// Frame is one decoded wire frame: a command header plus an optional
// payload (present for data-plane Send/Message commands).
type Frame struct {
	Command Command
	Payload []byte
}

// ReadFrame reads exactly one frame from r.
func ReadFrame(r io.Reader) (*Frame, error) {
	var totalSize, commandSize uint32
	if err := binary.Read(r, binary.BigEndian, &totalSize); err != nil {
		return nil, err
	}
	if totalSize == 0 || totalSize > MaxFrameSize {
		return nil, fmt.Errorf("wire: invalid frame size %d", totalSize)
	}
	if err := binary.Read(r, binary.BigEndian, &commandSize); err != nil {
		return nil, fmt.Errorf("wire: read command size: %w", err)
	}
	if commandSize == 0 || uint64(commandSize) > uint64(totalSize) {
		return nil, fmt.Errorf("wire: invalid command size %d for frame %d", commandSize, totalSize)
	}

	cmdBuf := make([]byte, commandSize)
	if _, err := io.ReadFull(r, cmdBuf); err != nil {
		return nil, fmt.Errorf("wire: read command: %w", err)
	}

	var cmd Command
	if err := cbor.Unmarshal(cmdBuf, &cmd); err != nil {
		return nil, fmt.Errorf("wire: decode command: %w", err)
	}

	// totalSize counts commandSize's own 4 bytes plus the command body plus
	// any trailing payload.
	payloadSize := int64(totalSize) - 4 - int64(commandSize)
	if payloadSize < 0 {
		return nil, fmt.Errorf("wire: negative payload size")
	}

	f := &Frame{Command: cmd}
	if payloadSize > 0 {
		f.Payload = make([]byte, payloadSize)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return nil, fmt.Errorf("wire: read payload: %w", err)
		}
	}
	return f, nil
}

// WriteFrame encodes cmd and an optional payload and writes it to w as a
// single frame.
func WriteFrame(w io.Writer, cmd Command, payload []byte) error {
	cmdBuf, err := cbor.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("wire: encode command: %w", err)
	}
	if len(cmdBuf) == 0 || len(cmdBuf) > MaxFrameSize {
		return fmt.Errorf("wire: command too large: %d bytes", len(cmdBuf))
	}

	totalSize := uint32(4 + len(cmdBuf) + len(payload))
	if totalSize > MaxFrameSize {
		return fmt.Errorf("wire: frame too large: %d bytes", totalSize)
	}

	if err := binary.Write(w, binary.BigEndian, totalSize); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(cmdBuf))); err != nil {
		return err
	}
	if _, err := w.Write(cmdBuf); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}
