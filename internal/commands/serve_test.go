/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/microsoft/lldbdap/internal/dap"
	"github.com/microsoft/lldbdap/internal/lldb"
	"github.com/microsoft/lldbdap/pkg/testutil"
)

const defaultServeTestTimeout = 10 * time.Second

func testServerConfig() dap.ServerConfig {
	return dap.ServerConfig{
		Tool:        lldb.ToolHandle{Name: "lldb"},
		IdleTimeout: 50 * time.Millisecond,
	}
}

func TestServeStream(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, defaultServeTestTimeout)
	defer cancel()

	serverIn, clientOut := io.Pipe()
	clientIn, serverOut := io.Pipe()

	serveResult := make(chan error, 1)
	go func() {
		serveResult <- serveStream(ctx, serverIn, serverOut, testServerConfig(), testutil.NewLogForTesting(t.Name()))
	}()

	client := dap.NewTestClient(dap.NewStdioTransport(clientIn, clientOut))

	resp, initErr := client.Initialize(ctx)
	require.NoError(t, initErr)
	require.True(t, resp.Body.SupportsConfigurationDoneRequest)

	require.NoError(t, client.Close())

	select {
	case serveErr := <-serveResult:
		require.NoError(t, serveErr)
	case <-ctx.Done():
		t.Fatal("the server did not stop after the client went away")
	}
}

func TestServeListenerAcceptsMultipleClients(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, defaultServeTestTimeout)
	defer cancel()

	listener, listenErr := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, listenErr)

	serveResult := make(chan error, 1)
	go func() {
		serveResult <- serveListener(ctx, listener, testServerConfig(), testutil.NewLogForTesting(t.Name()))
	}()

	for i := 0; i < 2; i++ {
		transport, dialErr := dap.DialTCP(ctx, listener.Addr().String())
		require.NoError(t, dialErr)

		client := dap.NewTestClient(transport)
		_, initErr := client.Initialize(ctx)
		require.NoError(t, initErr)

		_, evalErr := client.Evaluate(ctx, "version")
		require.Error(t, evalErr, "evaluate must fail before launch or attach")

		require.NoError(t, client.Close())
	}

	cancel()

	select {
	case serveErr := <-serveResult:
		require.NoError(t, serveErr)
	case <-time.After(defaultServeTestTimeout):
		t.Fatal("the listener did not stop after its context was cancelled")
	}
}
