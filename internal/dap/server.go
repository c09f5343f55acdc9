/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-dap"
	"github.com/google/uuid"

	"github.com/microsoft/lldbdap/internal/lldb"
	"github.com/microsoft/lldbdap/pkg/process"
	"github.com/microsoft/lldbdap/pkg/resiliency"
)

const sendQueueSize = 64

// ServerConfig holds the settings shared by all debug sessions served by the adapter.
type ServerConfig struct {
	// Tool is the debugger executable, located once when the adapter starts.
	Tool lldb.ToolHandle

	// Executor starts and stops debugger processes. If nil, an OS executor is used.
	Executor process.Executor

	// IdleTimeout and Prompt control how debugger replies are framed.
	IdleTimeout time.Duration
	Prompt      string
}

type debugMode string

const (
	debugModeNone   debugMode = ""
	debugModeLaunch debugMode = "launch"
	debugModeAttach debugMode = "attach"
)

// Server serves one DAP client connection. Each request is handled on its own goroutine,
// and all responses and events are written by a single sender goroutine.
type Server struct {
	transport Transport
	config    ServerConfig
	log       logr.Logger
	id        string

	seq         *sequenceCounter
	sendQueue   chan dap.Message
	stopSending chan struct{}
	senderDone  chan struct{}
	requests    sync.WaitGroup

	// lifetimeCtx bounds the debugger process. Set by Run.
	lifetimeCtx context.Context

	breakpoints *breakpointStore

	// configLock serializes requests that change the debugger configuration
	// (launch, attach, setBreakpoints, configurationDone, disconnect).
	configLock sync.Mutex

	// lock protects the fields below.
	lock           sync.Mutex
	linesStartAt1  bool
	session        *lldb.Session
	mode           debugMode
	stopOnEntry    bool
	terminatedSent bool
}

func NewServer(transport Transport, config ServerConfig, log logr.Logger) *Server {
	id := uuid.New().String()

	if config.Executor == nil {
		config.Executor = process.NewOSExecutor(log)
	}

	return &Server{
		transport:     transport,
		config:        config,
		log:           log.WithValues("session", id),
		id:            id,
		seq:           newSequenceCounter(),
		sendQueue:     make(chan dap.Message, sendQueueSize),
		stopSending:   make(chan struct{}),
		senderDone:    make(chan struct{}),
		lifetimeCtx:   context.Background(),
		breakpoints:   newBreakpointStore(),
		linesStartAt1: true,
	}
}

// ID returns the unique identifier of the debug session served by this server.
func (s *Server) ID() string {
	return s.id
}

// Run reads and handles requests until the client closes the connection or ctx is done.
// When Run returns, the debugger process (if any) has been stopped and all responses have been written.
func (s *Server) Run(ctx context.Context) error {
	lifetimeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.lifetimeCtx = lifetimeCtx

	go s.sendFromQueue()

	// A blocked read only returns when the transport is closed.
	stopClosingTransport := context.AfterFunc(ctx, func() {
		_ = s.transport.Close()
	})
	defer stopClosingTransport()

	s.log.V(1).Info("DAP server started")

	var runErr error
	for {
		msg, readErr := s.transport.ReadMessage()
		if readErr != nil {
			if errors.Is(readErr, ErrMalformedMessage) {
				s.onMalformedMessage(readErr)
				continue
			}

			if !isConnectionClosedError(readErr) {
				runErr = filterContextError(readErr, ctx, s.log)
			}
			break
		}

		request, isRequest := msg.(dap.RequestMessage)
		if !isRequest {
			s.log.V(1).Info("Ignoring DAP message that is not a request", "type", fmt.Sprintf("%T", msg))
			continue
		}

		s.log.V(1).Info("Received DAP request", "command", request.GetRequest().Command, "seq", request.GetRequest().Seq)

		s.requests.Add(1)
		go func() {
			defer s.requests.Done()
			s.dispatchRequest(request)
		}()
	}

	// Stopping the debugger fails any command that a request handler is waiting for.
	s.closeSession()
	s.requests.Wait()

	close(s.stopSending)
	<-s.senderDone

	s.log.V(1).Info("DAP server stopped")
	return runErr
}

func (s *Server) dispatchRequest(request dap.RequestMessage) {
	defer func() {
		if panicErr := resiliency.MakePanicError(recover(), s.log); panicErr != nil {
			r := request.GetRequest()
			s.send(newErrorResponse(r.Seq, r.Command, FailedToConfigureErrorCode, "internal error", panicErr.Error()))
		}
	}()

	switch request := request.(type) {
	case *dap.InitializeRequest:
		s.onInitializeRequest(request)
	case *dap.LaunchRequest:
		s.onLaunchRequest(request)
	case *dap.AttachRequest:
		s.onAttachRequest(request)
	case *dap.DisconnectRequest:
		s.onDisconnectRequest(request)
	case *dap.SetBreakpointsRequest:
		s.onSetBreakpointsRequest(request)
	case *dap.SetExceptionBreakpointsRequest:
		s.onSetExceptionBreakpointsRequest(request)
	case *dap.ConfigurationDoneRequest:
		s.onConfigurationDoneRequest(request)
	case *dap.EvaluateRequest:
		s.onEvaluateRequest(request)
	case *dap.ThreadsRequest:
		s.onThreadsRequest(request)
	case *dap.StackTraceRequest:
		s.onStackTraceRequest(request)
	case *dap.ScopesRequest:
		s.onScopesRequest(request)
	case *dap.VariablesRequest:
		s.onVariablesRequest(request)
	default:
		r := request.GetRequest()
		s.sendUnsupported(r.Seq, r.Command)
	}
}

// onMalformedMessage answers requests for commands that go-dap does not know, and logs everything else.
func (s *Server) onMalformedMessage(readErr error) {
	var fieldErr *dap.DecodeProtocolMessageFieldError
	if errors.As(readErr, &fieldErr) && fieldErr.FieldName == "command" {
		s.log.V(1).Info("Received unknown DAP request", "command", fieldErr.FieldValue, "seq", fieldErr.Seq)
		s.sendUnsupported(fieldErr.Seq, fieldErr.FieldValue)
		return
	}

	s.log.Error(readErr, "Could not decode DAP message")
}

func (s *Server) sendUnsupported(requestSeq int, command string) {
	s.send(newErrorResponse(requestSeq, command, UnsupportedRequestErrorCode, "unsupported", fmt.Sprintf("%s is not yet supported", command)))
}

func (s *Server) sendError(request *dap.Request, id int, err error) {
	s.send(newErrorResponse(request.Seq, request.Command, id, err.Error(), err.Error()))
}

// send queues a message for the sender goroutine. Messages sent after the server stopped are dropped.
func (s *Server) send(msg dap.Message) {
	select {
	case s.sendQueue <- msg:
	case <-s.senderDone:
		s.log.V(1).Info("Dropping DAP message sent after the server stopped", "type", fmt.Sprintf("%T", msg))
	}
}

func (s *Server) sendFromQueue() {
	defer close(s.senderDone)

	for {
		select {
		case msg := <-s.sendQueue:
			s.write(msg)
		case <-s.stopSending:
			for {
				select {
				case msg := <-s.sendQueue:
					s.write(msg)
				default:
					return
				}
			}
		}
	}
}

func (s *Server) write(msg dap.Message) {
	setSeq(msg, s.seq.Next())
	if writeErr := s.transport.WriteMessage(msg); writeErr != nil {
		if isConnectionClosedError(writeErr) {
			s.log.V(1).Info("Could not write DAP message, the client is gone", "type", fmt.Sprintf("%T", msg))
		} else {
			s.log.Error(writeErr, "Could not write DAP message", "type", fmt.Sprintf("%T", msg))
		}
	}
}

// sendTerminated sends the terminated event, at most once per server.
func (s *Server) sendTerminated() {
	s.lock.Lock()
	alreadySent := s.terminatedSent
	s.terminatedSent = true
	s.lock.Unlock()

	if !alreadySent {
		s.send(&dap.TerminatedEvent{Event: *newEvent("terminated")})
	}
}

func (s *Server) currentSession() *lldb.Session {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.session
}

func (s *Server) closeSession() {
	session := s.currentSession()
	if session == nil {
		return
	}

	if closeErr := session.Close(); closeErr != nil {
		s.log.Error(closeErr, "Could not stop the debugger")
	}
}

func (s *Server) onDebuggerOutput(category string, text string) {
	s.send(newOutputEvent(category, text))
}

// onDebuggerExit ends the debug session when its debugger exits.
// Exits of debuggers that never became the current session (failed launch or attach) are ignored.
func (s *Server) onDebuggerExit(session *lldb.Session, exitErr error) {
	if s.currentSession() != session {
		s.log.V(1).Info("Ignoring exit of a debugger that did not start a session", "reason", fmt.Sprint(exitErr))
		return
	}

	s.log.V(1).Info("Debugger exited, ending the debug session", "reason", fmt.Sprint(exitErr))
	s.sendTerminated()
}
