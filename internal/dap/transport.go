/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/go-dap"
)

var (
	// ErrTransportClosed is returned by transport operations after Close.
	ErrTransportClosed = errors.New("transport is closed")

	// ErrMalformedMessage is returned by ReadMessage when a complete message was read but could not be decoded.
	// The transport stays usable after this error.
	ErrMalformedMessage = errors.New("malformed DAP message")
)

// Transport provides an abstraction for DAP message I/O over different connection types.
// Writes are serialized internally, so WriteMessage may be called from multiple goroutines.
// ReadMessage must only be called from one goroutine at a time.
type Transport interface {
	// ReadMessage blocks until the next complete DAP message is available.
	ReadMessage() (dap.Message, error)

	// WriteMessage writes (and flushes) a DAP message.
	WriteMessage(msg dap.Message) error

	// Close releases the underlying streams. Blocked reads should return with an error.
	Close() error
}

// streamTransport implements Transport over a reader/writer pair.
type streamTransport struct {
	reader  *bufio.Reader
	writer  *bufio.Writer
	closers []io.Closer

	writeMu sync.Mutex

	closed bool
	mu     sync.Mutex
}

// NewStdioTransport creates a Transport that reads messages from in and writes them to out.
// For an adapter launched by an editor, these are os.Stdin and os.Stdout.
func NewStdioTransport(in io.ReadCloser, out io.WriteCloser) Transport {
	return &streamTransport{
		reader:  bufio.NewReader(in),
		writer:  bufio.NewWriter(out),
		closers: []io.Closer{in, out},
	}
}

// NewTCPTransport creates a new Transport backed by a TCP connection.
func NewTCPTransport(conn net.Conn) Transport {
	return &streamTransport{
		reader:  bufio.NewReader(conn),
		writer:  bufio.NewWriter(conn),
		closers: []io.Closer{conn},
	}
}

// DialTCP establishes a TCP connection to the specified address and returns a Transport.
func DialTCP(ctx context.Context, address string) (Transport, error) {
	var d net.Dialer
	conn, dialErr := d.DialContext(ctx, "tcp", address)
	if dialErr != nil {
		return nil, fmt.Errorf("failed to dial TCP %s: %w", address, dialErr)
	}

	return NewTCPTransport(conn), nil
}

func (t *streamTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *streamTransport) ReadMessage() (dap.Message, error) {
	if t.isClosed() {
		return nil, ErrTransportClosed
	}

	content, readErr := dap.ReadBaseMessage(t.reader)
	if readErr != nil {
		return nil, fmt.Errorf("failed to read DAP message: %w", readErr)
	}

	msg, decodeErr := dap.DecodeProtocolMessage(content)
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, decodeErr)
	}

	applyProtocolDefaults(msg, content)
	return msg, nil
}

func (t *streamTransport) WriteMessage(msg dap.Message) error {
	if t.isClosed() {
		return ErrTransportClosed
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if writeErr := dap.WriteProtocolMessage(t.writer, msg); writeErr != nil {
		return fmt.Errorf("failed to write DAP message: %w", writeErr)
	}

	if flushErr := t.writer.Flush(); flushErr != nil {
		return fmt.Errorf("failed to flush DAP message: %w", flushErr)
	}

	return nil
}

func (t *streamTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	var errs []error
	for _, c := range t.closers {
		if closeErr := c.Close(); closeErr != nil {
			errs = append(errs, closeErr)
		}
	}
	return errors.Join(errs...)
}

var _ Transport = (*streamTransport)(nil)
