/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/go-logr/logr"

	"github.com/microsoft/lldbdap/internal/dap"
)

// serveStream serves a single client over a pair of streams (normally the adapter's stdin and stdout).
// It returns when the client closes the input stream or ctx is done.
func serveStream(ctx context.Context, in io.ReadCloser, out io.WriteCloser, config dap.ServerConfig, log logr.Logger) error {
	server := dap.NewServer(dap.NewStdioTransport(in, out), config, log.WithName("dap"))
	log.V(1).Info("Serving debug adapter protocol on standard input and output", "session", server.ID())
	return server.Run(ctx)
}

// serveTCP listens on address and serves every accepted connection with its own server,
// until ctx is done.
func serveTCP(ctx context.Context, address string, config dap.ServerConfig, log logr.Logger) error {
	lc := net.ListenConfig{}
	listener, listenErr := lc.Listen(ctx, "tcp", address)
	if listenErr != nil {
		return fmt.Errorf("could not listen on %s: %w", address, listenErr)
	}

	log.Info("Serving debug adapter protocol", "address", listener.Addr().String())
	return serveListener(ctx, listener, config, log)
}

func serveListener(ctx context.Context, listener net.Listener, config dap.ServerConfig, log logr.Logger) error {
	stopListening := context.AfterFunc(ctx, func() {
		_ = listener.Close()
	})
	defer stopListening()

	var connections sync.WaitGroup
	defer connections.Wait()

	for {
		conn, acceptErr := listener.Accept()
		if acceptErr != nil {
			_ = listener.Close()
			if ctx.Err() != nil || errors.Is(acceptErr, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("could not accept a client connection: %w", acceptErr)
		}

		server := dap.NewServer(dap.NewTCPTransport(conn), config, log.WithName("dap"))
		log.V(1).Info("Client connected", "remote", conn.RemoteAddr().String(), "session", server.ID())

		connections.Add(1)
		go func() {
			defer connections.Done()
			if runErr := server.Run(ctx); runErr != nil {
				log.Error(runErr, "Debug adapter session failed", "session", server.ID())
			}
			log.V(1).Info("Client disconnected", "session", server.ID())
		}()
	}
}
