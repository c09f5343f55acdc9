/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

/*
Package dap implements the Debug Adapter Protocol (DAP) server that editors talk to.

# Architecture Overview

An editor launches the adapter and exchanges DAP messages with it over stdio
(or a TCP connection). Requests are translated into plain text LLDB commands
and executed by an lldb.Session, which owns the debugger child process.

# Key Components

  - Transport: DAP message I/O over stdio or TCP
  - Server: reads requests, runs one handler goroutine per request, and writes
    all responses and events from a single sender goroutine
  - breakpointStore: per-source breakpoint records, replaced on every setBreakpoints request

# Request handling

Only a handful of requests are translated into debugger commands:

  - launch/attach start the debugger for the program
  - setBreakpoints becomes "breakpoint clear" and "breakpoint set" commands
  - configurationDone becomes "process launch" in launch mode
  - evaluate forwards the expression verbatim and returns the raw reply

Thread, stack, scope and variable queries return empty results.
Every other request gets an error response with UnsupportedRequestErrorCode.

Debugger output (stdout and stderr) is forwarded to the editor as output events.
When the debugger exits, a terminated event is sent.
*/
package dap
