/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package lldb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/microsoft/lldbdap/pkg/process"
)

const (
	// Output categories, matching the debug adapter protocol output event categories.
	OutputCategoryStdout = "stdout"
	OutputCategoryStderr = "stderr"

	// How long the debugger gets to exit on its own after its standard input is closed.
	stdinCloseGracePeriod = 2 * time.Second

	// How long cmd.Wait() waits for output copying after the debugger exits.
	// Processes started by the debugger may inherit its output handles and keep them open.
	outputWaitDelay = 2 * time.Second
)

// OutputFunc receives every chunk of debugger output, together with the output category.
// It is called from the goroutine that reads the corresponding output stream.
type OutputFunc func(category string, text string)

type SessionConfig struct {
	// Tool is the debugger executable, resolved at startup.
	Tool ToolHandle

	// Executor starts and stops the debugger process. Defaults to process.NewOSExecutor().
	Executor process.Executor

	// Output, if set, receives debugger output chunks.
	Output OutputFunc

	// OnExit, if set, is called once after the debugger process exits.
	// The error passed to it always matches ErrToolExited.
	OnExit func(exitErr error)

	// IdleTimeout and Prompt control reply framing (see DispatcherConfig).
	IdleTimeout time.Duration
	Prompt      string

	Logger logr.Logger
}

// Session owns one debugger child process: its standard input (through a Dispatcher),
// its output streams, and its exit. A session connects at most once.
type Session struct {
	lifetimeCtx context.Context
	config      SessionConfig
	executor    process.Executor
	log         logr.Logger

	lock         sync.Mutex
	programPath  string
	pid          process.Pid_t
	identityTime time.Time
	stdin        io.Closer
	dispatcher   *Dispatcher
	attached     bool
	exitErr      error
	done         chan struct{}
}

// NewSession creates a session that is not connected yet.
// The debugger process, once started, does not outlive lifetimeCtx.
func NewSession(lifetimeCtx context.Context, config SessionConfig) *Session {
	log := config.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	executor := config.Executor
	if executor == nil {
		executor = process.NewOSExecutor(log)
	}

	return &Session{
		lifetimeCtx: lifetimeCtx,
		config:      config,
		executor:    executor,
		log:         log,
		pid:         process.UnknownPID,
		done:        make(chan struct{}),
	}
}

// Connect starts the debugger with programPath as its only argument and returns the startup banner.
// ctx bounds the wait for the banner only; the process lifetime is bound to the session lifetime context.
func (s *Session) Connect(ctx context.Context, programPath string) (string, error) {
	s.lock.Lock()

	if s.dispatcher != nil {
		s.lock.Unlock()
		return "", ErrAlreadyConnected
	}

	if !s.config.Tool.Found() {
		s.lock.Unlock()
		return "", fmt.Errorf("%w: '%s' is not present in any directory of the search path", ErrToolNotFound, s.config.Tool.Name)
	}

	if _, statErr := os.Stat(programPath); statErr != nil {
		s.lock.Unlock()
		return "", fmt.Errorf("%w: %w", ErrProgramNotFound, statErr)
	}

	cmd := exec.Command(s.config.Tool.ResolvedPath, programPath)
	cmd.WaitDelay = outputWaitDelay

	stdin, stdinErr := cmd.StdinPipe()
	if stdinErr != nil {
		s.lock.Unlock()
		return "", fmt.Errorf("%w: failed to create stdin pipe: %w", ErrSpawnFailed, stdinErr)
	}

	dispatcher := NewDispatcher(stdin, DispatcherConfig{
		IdleTimeout: s.config.IdleTimeout,
		Prompt:      s.config.Prompt,
		Logger:      s.log.WithName("dispatcher"),
	})

	// exec.Cmd copies each output stream to its writer from a dedicated goroutine.
	cmd.Stdout = &streamWriter{category: OutputCategoryStdout, session: s, dispatcher: dispatcher}
	cmd.Stderr = &streamWriter{category: OutputCategoryStderr, session: s, dispatcher: dispatcher}

	pid, identityTime, startWaitForExit, startErr := s.executor.StartProcess(s.lifetimeCtx, cmd, process.ProcessExitHandlerFunc(s.onProcessExited))
	if startErr != nil {
		s.lock.Unlock()
		_ = stdin.Close()
		dispatcher.Close()
		return "", fmt.Errorf("%w: %w", ErrSpawnFailed, startErr)
	}

	s.programPath = programPath
	s.pid = pid
	s.identityTime = identityTime
	s.stdin = stdin
	s.dispatcher = dispatcher
	s.attached = true
	s.lock.Unlock()

	s.log.Info("Debugger process started",
		"command", s.config.Tool.ResolvedPath,
		"program", programPath,
		"pid", pid)

	dispatcher.Start()
	startWaitForExit()

	banner, bannerErr := dispatcher.Banner(ctx)
	if bannerErr != nil {
		return "", bannerErr
	}
	return banner, nil
}

// Execute sends a single-line command to the debugger and returns its reply.
func (s *Session) Execute(ctx context.Context, command string) (string, error) {
	s.lock.Lock()
	dispatcher := s.dispatcher
	s.lock.Unlock()

	if dispatcher == nil {
		return "", ErrNotConnected
	}
	return dispatcher.Execute(ctx, command)
}

// ProgramPath returns the path of the program being debugged, or empty string if the session never connected.
func (s *Session) ProgramPath() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.programPath
}

// Attached reports whether the debugger process is running.
func (s *Session) Attached() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.attached
}

func (s *Session) Pid() process.Pid_t {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.pid
}

// Done returns a channel that is closed when the debugger process exits.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// ExitErr returns the error describing the debugger exit, or nil if the debugger has not exited.
func (s *Session) ExitErr() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.exitErr
}

// Close shuts down the debugger. The debugger is first asked to exit by closing its standard input,
// and stopped through the executor if it does not exit in time.
func (s *Session) Close() error {
	s.lock.Lock()
	dispatcher := s.dispatcher
	attached := s.attached
	stdin := s.stdin
	pid := s.pid
	identityTime := s.identityTime
	s.lock.Unlock()

	if dispatcher == nil {
		return nil
	}

	var stopErr error
	if attached {
		dispatcher.Fail(ErrDispatcherClosed)
		_ = stdin.Close()

		timer := time.NewTimer(stdinCloseGracePeriod)
		select {
		case <-s.done:
			timer.Stop()
		case <-timer.C:
			s.log.V(1).Info("Debugger did not exit after its input was closed, stopping it", "pid", pid)
			stopErr = s.executor.StopProcess(pid, identityTime)
			if stopErr == nil {
				<-s.done
			}
		}
	} else {
		// The process is gone; wait for the exit notification to complete.
		<-s.done
	}

	dispatcher.Close()

	if stopErr != nil {
		return fmt.Errorf("failed to stop debugger process %d: %w", pid, stopErr)
	}
	return nil
}

func (s *Session) onProcessExited(pid process.Pid_t, exitCode int32, err error) {
	var exitErr error
	if err != nil {
		exitErr = fmt.Errorf("%w: %w", ErrToolExited, err)
	} else {
		exitErr = fmt.Errorf("%w with code %d", ErrToolExited, exitCode)
	}

	s.lock.Lock()
	s.attached = false
	s.exitErr = exitErr
	dispatcher := s.dispatcher
	s.lock.Unlock()

	// Done() is closed last, so that once it is closed the exit callback has completed.
	defer close(s.done)

	if dispatcher != nil {
		dispatcher.Fail(exitErr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error(err, "Debugger process exited with error", "pid", pid, "exitCode", exitCode)
	} else {
		s.log.Info("Debugger process exited", "pid", pid, "exitCode", exitCode)
	}

	if s.config.OnExit != nil {
		s.config.OnExit(exitErr)
	}
}

// streamWriter receives one debugger output stream. Every chunk is logged, forwarded to the output function,
// and fed to the dispatcher as (part of) a command reply.
type streamWriter struct {
	category   string
	session    *Session
	dispatcher *Dispatcher
}

func (w *streamWriter) Write(p []byte) (int, error) {
	chunk := string(p)

	for _, line := range strings.Split(strings.TrimRight(chunk, "\r\n"), "\n") {
		w.session.log.Info("Debugger "+w.category, "output", strings.TrimSuffix(line, "\r"))
	}

	if w.session.config.Output != nil {
		w.session.config.Output(w.category, chunk)
	}

	w.dispatcher.HandleOutput(p)
	return len(p), nil
}
