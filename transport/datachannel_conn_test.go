// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"io"
	"testing"
)

func TestDataChannelConn_ReadWrite(t *testing.T) {
	// io.Pipe stands in for the detached data channel.
	clientReader, serverWriter := io.Pipe()
	serverReader, clientWriter := io.Pipe()

	clientConn := NewDataChannelConn(&pipeReadWriteCloser{Reader: clientReader, Writer: clientWriter}, "client", "server")
	serverConn := NewDataChannelConn(&pipeReadWriteCloser{Reader: serverReader, Writer: serverWriter}, "server", "client")
	defer clientConn.Close()
	defer serverConn.Close()

	go func() {
		if _, err := clientConn.Write([]byte("hello from client")); err != nil {
			t.Errorf("Write error: %v", err)
		}
	}()

	buffer := make([]byte, 256)
	bytesRead, err := serverConn.Read(buffer)
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	if string(buffer[:bytesRead]) != "hello from client" {
		t.Errorf("read = %q, want %q", string(buffer[:bytesRead]), "hello from client")
	}
}

func TestDataChannelConn_WriteSplitsIntoChunks(t *testing.T) {
	recorder := &messageRecorder{}
	conn := NewDataChannelConn(recorder, "local", "remote")

	payload := bytes.Repeat([]byte{0xab}, 2*maxChunkSize+100)
	written, err := conn.Write(payload)
	if err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if written != len(payload) {
		t.Errorf("written = %d, want %d", written, len(payload))
	}
	if len(recorder.messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(recorder.messages))
	}
	for index, message := range recorder.messages {
		if len(message) > maxChunkSize {
			t.Errorf("message %d is %d bytes, exceeds %d", index, len(message), maxChunkSize)
		}
	}
	if !bytes.Equal(bytes.Join(recorder.messages, nil), payload) {
		t.Error("reassembled messages do not match the payload")
	}
}

func TestDataChannelConn_ReadBuffersRemainder(t *testing.T) {
	recorder := &messageRecorder{messages: [][]byte{[]byte("abcdefgh"), []byte("ij")}}
	conn := NewDataChannelConn(recorder, "local", "remote")

	var collected []byte
	buffer := make([]byte, 3)
	for len(collected) < 10 {
		count, err := conn.Read(buffer)
		if err != nil {
			t.Fatalf("Read error after %q: %v", collected, err)
		}
		collected = append(collected, buffer[:count]...)
	}
	if string(collected) != "abcdefghij" {
		t.Errorf("collected = %q, want %q", collected, "abcdefghij")
	}
	if _, err := conn.Read(buffer); err != io.EOF {
		t.Errorf("Read after drain = %v, want io.EOF", err)
	}
}

func TestDataChannelConn_Addresses(t *testing.T) {
	conn := NewDataChannelConn(&messageRecorder{}, "local/data", "remote/data")

	if conn.LocalAddr().Network() != "webrtc" {
		t.Errorf("LocalAddr().Network() = %q, want %q", conn.LocalAddr().Network(), "webrtc")
	}
	if conn.LocalAddr().String() != "local/data" {
		t.Errorf("LocalAddr().String() = %q, want %q", conn.LocalAddr().String(), "local/data")
	}
	if conn.RemoteAddr().String() != "remote/data" {
		t.Errorf("RemoteAddr().String() = %q, want %q", conn.RemoteAddr().String(), "remote/data")
	}
}

func TestDataChannelConn_CloseIsIdempotent(t *testing.T) {
	reader, writer := io.Pipe()
	conn := NewDataChannelConn(&pipeReadWriteCloser{Reader: reader, Writer: writer}, "local", "remote")

	if err := conn.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := reader.Read(make([]byte, 1)); err == nil {
		t.Fatal("expected error reading the closed pipe, got nil")
	}
}

// messageRecorder is a message-oriented ReadWriteCloser: each Write
// records one message and each Read returns one queued message.
type messageRecorder struct {
	messages [][]byte
	readNext int
}

func (m *messageRecorder) Write(buffer []byte) (int, error) {
	m.messages = append(m.messages, append([]byte(nil), buffer...))
	return len(buffer), nil
}

func (m *messageRecorder) Read(buffer []byte) (int, error) {
	if m.readNext >= len(m.messages) {
		return 0, io.EOF
	}
	message := m.messages[m.readNext]
	if len(buffer) < len(message) {
		return 0, io.ErrShortBuffer
	}
	m.readNext++
	return copy(buffer, message), nil
}

func (m *messageRecorder) Close() error { return nil }

// pipeReadWriteCloser combines separate io.Reader and io.Writer into an
// io.ReadWriteCloser. Closing closes whichever halves are closable.
type pipeReadWriteCloser struct {
	io.Reader
	io.Writer
}

func (p *pipeReadWriteCloser) Close() error {
	var firstError error
	if closer, ok := p.Reader.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			firstError = err
		}
	}
	if closer, ok := p.Writer.(io.Closer); ok {
		if err := closer.Close(); err != nil && firstError == nil {
			firstError = err
		}
	}
	return firstError
}
