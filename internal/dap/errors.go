/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/go-logr/logr"

	"github.com/microsoft/lldbdap/internal/lldb"
)

// Error ids carried in the body of error responses.
const (
	// UnsupportedRequestErrorCode is used for every request kind that has no debugger command translation.
	UnsupportedRequestErrorCode = 1014

	UnableToEvaluateExpressionErrorCode = 2009
	FailedToLaunchErrorCode             = 3000
	FailedToAttachErrorCode             = 3001
	FailedToConfigureErrorCode          = 3002
	InvalidRequestArgumentsErrorCode    = 3003
)

var (
	// ErrNoDebugSession is returned for requests that need a running debugger before launch or attach.
	ErrNoDebugSession = errors.New("no debug session, launch or attach first")

	// ErrMissingProgram is returned when launch or attach arguments do not name a program.
	ErrMissingProgram = errors.New("the 'program' attribute is required")
)

// isConnectionClosedError returns true if the error indicates that the client went away.
func isConnectionClosedError(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, ErrTransportClosed)
}

// filterContextError filters out redundant errors during shutdown.
// If the context is done, context errors and errors caused by the debugger session going away
// are logged at debug level and nil is returned. Otherwise the original error is returned unchanged.
func filterContextError(err error, ctx context.Context, log logr.Logger) error {
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.V(1).Info("Filtering redundant context error", "error", err)
			return nil
		}

		if lldb.IsSessionEndedError(err) {
			log.V(1).Info("Filtering debugger session error on shutdown", "error", err)
			return nil
		}
	}

	return err
}
