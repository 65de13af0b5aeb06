// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"io"
	"net"
	"sync"
)

// maxChunkSize bounds the size of one data channel message written by
// DataChannelConn. Kept well below the 64 KiB SCTP max-message-size that
// browsers and pion advertise by default.
const maxChunkSize = 16 << 10

// readBufferSize must hold the largest single message the remote side
// writes.
const readBufferSize = 64 << 10

// DataChannelConn turns a detached pion data channel into a byte stream.
//
// A detached data channel is message-oriented: each Write is one SCTP
// message and each Read returns at most one message, failing with
// io.ErrShortBuffer if the caller's buffer is too small. DataChannelConn
// splits writes into bounded chunks and buffers the remainder of each
// received message between reads, so stream consumers (the CBOR frame
// decoder) can read with any buffer size.
//
// Read is not safe for concurrent use. Concurrent Writes may interleave
// chunks; callers serialize writes.
type DataChannelConn struct {
	rwc        io.ReadWriteCloser
	localLabel string
	peerLabel  string

	readBuffer []byte
	pending    []byte

	closeOnce sync.Once
	closeErr  error
}

// NewDataChannelConn wraps a detached data channel. localLabel and
// peerLabel identify the endpoints in LocalAddr/RemoteAddr.
func NewDataChannelConn(rwc io.ReadWriteCloser, localLabel, peerLabel string) *DataChannelConn {
	return &DataChannelConn{
		rwc:        rwc,
		localLabel: localLabel,
		peerLabel:  peerLabel,
		readBuffer: make([]byte, readBufferSize),
	}
}

func (c *DataChannelConn) Read(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}
	for len(c.pending) == 0 {
		count, err := c.rwc.Read(c.readBuffer)
		if err != nil {
			return 0, err
		}
		c.pending = c.readBuffer[:count]
	}
	count := copy(buffer, c.pending)
	c.pending = c.pending[count:]
	return count, nil
}

func (c *DataChannelConn) Write(buffer []byte) (int, error) {
	written := 0
	for len(buffer) > 0 {
		chunk := buffer[:min(len(buffer), maxChunkSize)]
		count, err := c.rwc.Write(chunk)
		written += count
		if err != nil {
			return written, err
		}
		buffer = buffer[len(chunk):]
	}
	return written, nil
}

// Close closes the underlying data channel. Idempotent.
func (c *DataChannelConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.rwc.Close()
	})
	return c.closeErr
}

// LocalAddr returns a synthetic address identifying the local endpoint.
func (c *DataChannelConn) LocalAddr() net.Addr {
	return &dataChannelAddr{label: c.localLabel}
}

// RemoteAddr returns a synthetic address identifying the remote endpoint.
func (c *DataChannelConn) RemoteAddr() net.Addr {
	return &dataChannelAddr{label: c.peerLabel}
}

// dataChannelAddr is a synthetic net.Addr for data channel connections.
type dataChannelAddr struct {
	label string
}

func (a *dataChannelAddr) Network() string { return "webrtc" }
func (a *dataChannelAddr) String() string  { return a.label }
