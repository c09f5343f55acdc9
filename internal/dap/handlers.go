/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/google/go-dap"

	"github.com/microsoft/lldbdap/internal/lldb"
)

const (
	// The debugger process has one logical thread as far as the client is concerned.
	defaultThreadID = 1

	outputCategoryConsole = "console"
)

type launchArguments struct {
	Program     string `json:"program"`
	StopOnEntry bool   `json:"stopOnEntry"`
	NoDebug     bool   `json:"noDebug"`
}

type attachArguments struct {
	Program string `json:"program"`
}

func (s *Server) onInitializeRequest(request *dap.InitializeRequest) {
	s.lock.Lock()
	s.linesStartAt1 = request.Arguments.LinesStartAt1
	s.lock.Unlock()

	s.log.V(1).Info("Client initialized",
		"clientID", request.Arguments.ClientID,
		"adapterID", request.Arguments.AdapterID,
		"linesStartAt1", request.Arguments.LinesStartAt1)

	response := &dap.InitializeResponse{
		Response: *newResponse(&request.Request),
		Body: dap.Capabilities{
			SupportsConfigurationDoneRequest: true,
			SupportsEvaluateForHovers:        true,
		},
	}
	s.send(response)
	s.send(&dap.InitializedEvent{Event: *newEvent("initialized")})
}

func (s *Server) onLaunchRequest(request *dap.LaunchRequest) {
	var args launchArguments
	if len(request.Arguments) > 0 {
		if err := json.Unmarshal(request.Arguments, &args); err != nil {
			s.sendError(&request.Request, InvalidRequestArgumentsErrorCode, fmt.Errorf("invalid launch arguments: %w", err))
			return
		}
	}

	if args.NoDebug {
		s.log.V(1).Info("The 'noDebug' launch attribute is ignored")
	}

	if err := s.startDebugSession(debugModeLaunch, args.Program, args.StopOnEntry); err != nil {
		s.sendError(&request.Request, FailedToLaunchErrorCode, err)
		return
	}

	s.send(&dap.LaunchResponse{Response: *newResponse(&request.Request)})
}

func (s *Server) onAttachRequest(request *dap.AttachRequest) {
	var args attachArguments
	if len(request.Arguments) > 0 {
		if err := json.Unmarshal(request.Arguments, &args); err != nil {
			s.sendError(&request.Request, InvalidRequestArgumentsErrorCode, fmt.Errorf("invalid attach arguments: %w", err))
			return
		}
	}

	if err := s.startDebugSession(debugModeAttach, args.Program, false); err != nil {
		s.sendError(&request.Request, FailedToAttachErrorCode, err)
		return
	}

	s.send(&dap.AttachResponse{Response: *newResponse(&request.Request)})
}

// startDebugSession starts the debugger for program and installs the breakpoints recorded so far.
func (s *Server) startDebugSession(mode debugMode, program string, stopOnEntry bool) error {
	s.configLock.Lock()
	defer s.configLock.Unlock()

	if s.currentSession() != nil {
		return lldb.ErrAlreadyConnected
	}

	if program == "" {
		return ErrMissingProgram
	}

	var session *lldb.Session
	session = lldb.NewSession(s.lifetimeCtx, lldb.SessionConfig{
		Tool:     s.config.Tool,
		Executor: s.config.Executor,
		Output:   s.onDebuggerOutput,
		OnExit: func(exitErr error) {
			s.onDebuggerExit(session, exitErr)
		},
		IdleTimeout: s.config.IdleTimeout,
		Prompt:      s.config.Prompt,
		Logger:      s.log.WithName("lldb"),
	})

	banner, connectErr := session.Connect(s.lifetimeCtx, program)
	if connectErr != nil {
		if lldb.IsConnectError(connectErr) {
			s.log.Info("Debugger could not be started", "program", program, "error", connectErr.Error())
		} else {
			s.log.Error(connectErr, "Debugger started but did not become ready", "program", program)
		}
		if closeErr := session.Close(); closeErr != nil {
			s.log.Error(closeErr, "Could not stop the debugger after a failed start")
		}
		return connectErr
	}

	s.lock.Lock()
	s.session = session
	s.mode = mode
	s.stopOnEntry = stopOnEntry
	s.lock.Unlock()

	// An exit reported before the session was stored was ignored by onDebuggerExit.
	if !session.Attached() {
		s.onDebuggerExit(session, session.ExitErr())
		return nil
	}

	s.log.Info("Debug session started", "mode", mode, "program", program, "pid", session.Pid())
	s.log.V(1).Info("Debugger startup banner", "banner", banner)

	s.send(newOutputEvent(outputCategoryConsole, fmt.Sprintf("Debugging '%s' with %s (process %d)\n", program, s.config.Tool.ResolvedPath, session.Pid())))

	for _, rec := range s.breakpoints.All() {
		for _, line := range rec.installed {
			s.executeConfigCommand(session, breakpointSetCommand(rec.sourcePath, line))
		}
	}

	return nil
}

// executeConfigCommand runs a debugger command whose reply only matters for diagnostics.
func (s *Server) executeConfigCommand(session *lldb.Session, command string) {
	reply, execErr := session.Execute(s.lifetimeCtx, command)
	if execErr = filterContextError(execErr, s.lifetimeCtx, s.log); execErr != nil {
		if lldb.IsSessionEndedError(execErr) {
			s.log.V(1).Info("Debugger command not executed, the debugger is gone", "command", command)
		} else {
			s.log.Error(execErr, "Debugger command failed", "command", command)
		}
		return
	}

	s.log.V(1).Info("Debugger command executed", "command", command, "reply", reply)
}

func (s *Server) onSetBreakpointsRequest(request *dap.SetBreakpointsRequest) {
	s.configLock.Lock()
	defer s.configLock.Unlock()

	source := request.Arguments.Source
	sourcePath := source.Path

	lines := make([]int, 0, len(request.Arguments.Breakpoints))
	for _, bp := range request.Arguments.Breakpoints {
		lines = append(lines, bp.Line)
	}
	if len(request.Arguments.Breakpoints) == 0 && len(request.Arguments.Lines) > 0 {
		lines = append(lines, request.Arguments.Lines...)
	}

	s.lock.Lock()
	linesStartAt1 := s.linesStartAt1
	session := s.session
	s.lock.Unlock()

	verified, verifyErr := verifyBreakpointLines(sourcePath, lines, linesStartAt1)
	if verifyErr != nil {
		s.log.V(1).Info("Breakpoints not verified, source file is not readable", "source", sourcePath, "error", verifyErr.Error())
	}

	installed := []int{}
	for i, line := range lines {
		if verified[i] {
			installed = append(installed, toZeroBasedLine(line, linesStartAt1)+1)
		}
	}
	slices.Sort(installed)
	installed = slices.Compact(installed)

	previous := s.breakpoints.Replace(sourcePath, installed)

	if session != nil && session.Attached() {
		for _, line := range previous {
			s.executeConfigCommand(session, breakpointClearCommand(sourcePath, line))
		}
		for _, line := range installed {
			s.executeConfigCommand(session, breakpointSetCommand(sourcePath, line))
		}
	}

	breakpoints := make([]dap.Breakpoint, len(lines))
	for i, line := range lines {
		breakpoints[i] = dap.Breakpoint{
			Id:       s.breakpoints.NextID(),
			Verified: verified[i],
			Line:     line,
			Source:   &source,
		}
		if !verified[i] {
			if verifyErr != nil {
				breakpoints[i].Message = verifyErr.Error()
			} else {
				breakpoints[i].Message = "line is outside of the source file"
			}
		}
	}

	s.send(&dap.SetBreakpointsResponse{
		Response: *newResponse(&request.Request),
		Body:     dap.SetBreakpointsResponseBody{Breakpoints: breakpoints},
	})
}

func (s *Server) onSetExceptionBreakpointsRequest(request *dap.SetExceptionBreakpointsRequest) {
	s.send(&dap.SetExceptionBreakpointsResponse{
		Response: *newResponse(&request.Request),
		Body:     dap.SetExceptionBreakpointsResponseBody{Breakpoints: []dap.Breakpoint{}},
	})
}

func (s *Server) onConfigurationDoneRequest(request *dap.ConfigurationDoneRequest) {
	s.configLock.Lock()
	defer s.configLock.Unlock()

	s.lock.Lock()
	session := s.session
	mode := s.mode
	stopOnEntry := s.stopOnEntry
	s.lock.Unlock()

	if session == nil || mode != debugModeLaunch {
		s.send(&dap.ConfigurationDoneResponse{Response: *newResponse(&request.Request)})
		return
	}

	command := "process launch"
	if stopOnEntry {
		command += " --stop-at-entry"
	}

	reply, execErr := session.Execute(s.lifetimeCtx, command)
	if execErr != nil {
		s.sendError(&request.Request, FailedToConfigureErrorCode, fmt.Errorf("could not launch the program: %w", execErr))
		return
	}
	s.log.V(1).Info("Program launched", "reply", reply)

	s.send(&dap.ConfigurationDoneResponse{Response: *newResponse(&request.Request)})

	if stopOnEntry {
		s.send(&dap.StoppedEvent{
			Event: *newEvent("stopped"),
			Body: dap.StoppedEventBody{
				Reason:            "entry",
				ThreadId:          defaultThreadID,
				AllThreadsStopped: true,
			},
		})
	}
}

func (s *Server) onEvaluateRequest(request *dap.EvaluateRequest) {
	session := s.currentSession()
	if session == nil {
		s.sendError(&request.Request, UnableToEvaluateExpressionErrorCode, ErrNoDebugSession)
		return
	}

	reply, execErr := session.Execute(s.lifetimeCtx, request.Arguments.Expression)
	if execErr != nil {
		if errors.Is(execErr, lldb.ErrMultilineCommand) {
			execErr = fmt.Errorf("only single-line expressions can be evaluated: %w", execErr)
		}
		s.sendError(&request.Request, UnableToEvaluateExpressionErrorCode, execErr)
		return
	}

	s.send(&dap.EvaluateResponse{
		Response: *newResponse(&request.Request),
		Body: dap.EvaluateResponseBody{
			Result:             reply,
			VariablesReference: 0,
		},
	})
}

func (s *Server) onThreadsRequest(request *dap.ThreadsRequest) {
	s.send(&dap.ThreadsResponse{
		Response: *newResponse(&request.Request),
		Body:     dap.ThreadsResponseBody{Threads: []dap.Thread{}},
	})
}

func (s *Server) onStackTraceRequest(request *dap.StackTraceRequest) {
	s.send(&dap.StackTraceResponse{
		Response: *newResponse(&request.Request),
		Body:     dap.StackTraceResponseBody{StackFrames: []dap.StackFrame{}, TotalFrames: 0},
	})
}

func (s *Server) onScopesRequest(request *dap.ScopesRequest) {
	s.send(&dap.ScopesResponse{
		Response: *newResponse(&request.Request),
		Body:     dap.ScopesResponseBody{Scopes: []dap.Scope{}},
	})
}

func (s *Server) onVariablesRequest(request *dap.VariablesRequest) {
	s.send(&dap.VariablesResponse{
		Response: *newResponse(&request.Request),
		Body:     dap.VariablesResponseBody{Variables: []dap.Variable{}},
	})
}

func (s *Server) onDisconnectRequest(request *dap.DisconnectRequest) {
	s.configLock.Lock()
	defer s.configLock.Unlock()

	s.closeSession()
	s.sendTerminated()
	s.send(&dap.DisconnectResponse{Response: *newResponse(&request.Request)})
}
