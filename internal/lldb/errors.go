/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package lldb

import (
	"errors"
)

var (
	// ErrToolNotFound is returned when the debugger executable is not present in any search path directory.
	ErrToolNotFound = errors.New("debugger executable not found")

	// ErrProgramNotFound is returned when the program to debug does not exist.
	ErrProgramNotFound = errors.New("program to debug not found")

	// ErrSpawnFailed is returned when the OS refuses to start the debugger process.
	ErrSpawnFailed = errors.New("failed to start debugger process")

	// ErrAlreadyConnected is returned when Connect is called on a session that already has a debugger process.
	ErrAlreadyConnected = errors.New("debugger session already connected")

	// ErrNotConnected is returned when a command is sent before the session is connected.
	ErrNotConnected = errors.New("debugger session is not connected")

	// ErrToolExited is returned for commands that were pending or queued when the debugger process exited.
	ErrToolExited = errors.New("debugger process exited")

	// ErrDispatcherClosed is returned for commands issued after the dispatcher was closed.
	ErrDispatcherClosed = errors.New("command dispatcher is closed")

	// ErrMultilineCommand is returned when a command text contains a line break.
	ErrMultilineCommand = errors.New("debugger command must be a single line")
)

// IsConnectError returns true if the error indicates that the debugger process could not be started.
func IsConnectError(err error) bool {
	return errors.Is(err, ErrToolNotFound) ||
		errors.Is(err, ErrProgramNotFound) ||
		errors.Is(err, ErrSpawnFailed) ||
		errors.Is(err, ErrAlreadyConnected)
}

// IsSessionEndedError returns true if the error indicates that the debugger is gone
// and no further commands can be executed.
func IsSessionEndedError(err error) bool {
	return errors.Is(err, ErrToolExited) ||
		errors.Is(err, ErrDispatcherClosed)
}
