/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package lldb

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/microsoft/lldbdap/pkg/osutil"
	"github.com/microsoft/lldbdap/pkg/process"
	"github.com/microsoft/lldbdap/pkg/testutil"
)

// A stand-in for the debugger. It prints a banner naming the target program and echoes every command.
const fakeDebuggerScript = `#!/bin/sh
echo "(lldb) target create \"$1\""
echo "Current executable set to '$1' (x86_64)."
while IFS= read -r line; do
	case "$line" in
		quit) exit 3 ;;
		fail*) echo "error: '$line' is not a valid command." 1>&2 ;;
		*) echo "echo: $line" ;;
	esac
done
`

func requireShell(t *testing.T) {
	t.Helper()
	if osutil.IsWindows() {
		t.Skip("test requires a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("test requires a POSIX shell")
	}
}

func fakeDebuggerTool(t *testing.T) ToolHandle {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultToolName), []byte(fakeDebuggerScript), 0o755))
	handle := LocateTool(DefaultToolName, dir)
	require.True(t, handle.Found())
	return handle
}

func fakeProgram(t *testing.T) string {
	t.Helper()
	program := filepath.Join(t.TempDir(), "a.out")
	require.NoError(t, os.WriteFile(program, []byte{0x7f, 'E', 'L', 'F'}, 0o755))
	return program
}

type capturedOutput struct {
	lock   sync.Mutex
	chunks map[string][]string
}

func (c *capturedOutput) record(category string, text string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.chunks == nil {
		c.chunks = make(map[string][]string)
	}
	c.chunks[category] = append(c.chunks[category], text)
}

func (c *capturedOutput) text(category string) string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return strings.Join(c.chunks[category], "")
}

// countingExecutor records whether anything tried to start a process.
type countingExecutor struct {
	starts atomic.Int32
}

func (e *countingExecutor) StartProcess(_ context.Context, _ *exec.Cmd, _ process.ProcessExitHandler) (process.Pid_t, time.Time, func(), error) {
	e.starts.Add(1)
	return process.UnknownPID, time.Time{}, nil, os.ErrPermission
}

func (e *countingExecutor) StopProcess(_ process.Pid_t, _ time.Time) error {
	return nil
}

var _ process.Executor = (*countingExecutor)(nil)

func TestConnectFailsWhenToolNotFound(t *testing.T) {
	t.Parallel()

	executor := &countingExecutor{}
	s := NewSession(context.Background(), SessionConfig{
		Tool:     LocateTool(DefaultToolName, t.TempDir()),
		Executor: executor,
	})

	_, err := s.Connect(context.Background(), fakeProgram(t))
	require.ErrorIs(t, err, ErrToolNotFound)
	require.True(t, IsConnectError(err))
	require.EqualValues(t, 0, executor.starts.Load())
	require.False(t, s.Attached())
}

func TestConnectFailsForMissingProgramBeforeSpawn(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultToolName), []byte("stub"), 0o755))

	executor := &countingExecutor{}
	s := NewSession(context.Background(), SessionConfig{
		Tool:     LocateTool(DefaultToolName, dir),
		Executor: executor,
	})

	_, err := s.Connect(context.Background(), filepath.Join(dir, "no-such-program"))
	require.ErrorIs(t, err, ErrProgramNotFound)
	require.EqualValues(t, 0, executor.starts.Load(), "no process should be started for a missing program")
	require.False(t, s.Attached())
	require.Empty(t, s.ProgramPath())
}

func TestConnectReportsSpawnFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultToolName), []byte("stub"), 0o755))

	executor := &countingExecutor{}
	s := NewSession(context.Background(), SessionConfig{
		Tool:     LocateTool(DefaultToolName, dir),
		Executor: executor,
	})

	_, err := s.Connect(context.Background(), fakeProgram(t))
	require.ErrorIs(t, err, ErrSpawnFailed)
	require.ErrorIs(t, err, os.ErrPermission)
	require.EqualValues(t, 1, executor.starts.Load())
	require.False(t, s.Attached())

	// A failed connect leaves the session unusable for commands, but closing it is fine.
	_, err = s.Execute(context.Background(), "help")
	require.ErrorIs(t, err, ErrNotConnected)
	require.NoError(t, s.Close())
}

func TestExecuteBeforeConnect(t *testing.T) {
	t.Parallel()

	s := NewSession(context.Background(), SessionConfig{})
	_, err := s.Execute(context.Background(), "help")
	require.ErrorIs(t, err, ErrNotConnected)
	require.Equal(t, process.UnknownPID, s.Pid())
	require.NoError(t, s.Close())
}

func TestSessionRunsDebugger(t *testing.T) {
	requireShell(t)

	ctx, cancel := testutil.GetTestContext(t, 20*time.Second)
	defer cancel()

	log := testutil.NewLogForTesting(t.Name())
	output := &capturedOutput{}
	program := fakeProgram(t)

	s := NewSession(ctx, SessionConfig{
		Tool:        fakeDebuggerTool(t),
		Executor:    process.NewOSExecutor(log),
		Output:      output.record,
		IdleTimeout: 200 * time.Millisecond,
		Logger:      log,
	})

	banner, err := s.Connect(ctx, program)
	require.NoError(t, err)
	require.Contains(t, banner, "Current executable set to '"+program+"'")
	require.True(t, s.Attached())
	require.Equal(t, program, s.ProgramPath())
	require.NotEqual(t, process.UnknownPID, s.Pid())

	_, err = s.Connect(ctx, program)
	require.ErrorIs(t, err, ErrAlreadyConnected)

	reply, err := s.Execute(ctx, "breakpoint set --file main.c --line 3")
	require.NoError(t, err)
	require.Equal(t, "echo: breakpoint set --file main.c --line 3\n", reply)

	reply, err = s.Execute(ctx, "fail now")
	require.NoError(t, err)
	require.Equal(t, "error: 'fail now' is not a valid command.\n", reply)

	require.Contains(t, output.text(OutputCategoryStdout), "echo: breakpoint set --file main.c --line 3")
	require.Contains(t, output.text(OutputCategoryStderr), "is not a valid command")

	require.NoError(t, s.Close())

	select {
	case <-s.Done():
	case <-ctx.Done():
		require.FailNow(t, "debugger process did not exit after the session was closed")
	}
	require.False(t, s.Attached())

	_, err = s.Execute(ctx, "help")
	require.True(t, IsSessionEndedError(err))
}

func TestDebuggerExitRejectsCommands(t *testing.T) {
	requireShell(t)

	ctx, cancel := testutil.GetTestContext(t, 20*time.Second)
	defer cancel()

	log := testutil.NewLogForTesting(t.Name())
	exitErrs := make(chan error, 1)

	s := NewSession(ctx, SessionConfig{
		Tool:     fakeDebuggerTool(t),
		Executor: process.NewOSExecutor(log),
		OnExit: func(exitErr error) {
			exitErrs <- exitErr
		},
		// Long enough that only the process exit can end the reply to "quit".
		IdleTimeout: 3 * time.Second,
		Prompt:      DefaultPrompt,
		Logger:      log,
	})

	_, err := s.Connect(ctx, fakeProgram(t))
	require.NoError(t, err)

	_, err = s.Execute(ctx, "quit")
	require.ErrorIs(t, err, ErrToolExited)

	select {
	case exitErr := <-exitErrs:
		require.ErrorIs(t, exitErr, ErrToolExited)
		require.Contains(t, exitErr.Error(), "code 3")
	case <-ctx.Done():
		require.FailNow(t, "exit callback was not called")
	}

	<-s.Done()
	require.False(t, s.Attached())
	require.ErrorIs(t, s.ExitErr(), ErrToolExited)

	_, err = s.Execute(ctx, "help")
	require.ErrorIs(t, err, ErrToolExited)

	require.NoError(t, s.Close())
}

func TestSessionStopsDebuggerWhenLifetimeEnds(t *testing.T) {
	requireShell(t)

	testCtx, cancel := testutil.GetTestContext(t, 30*time.Second)
	defer cancel()

	lifetimeCtx, endLifetime := context.WithCancel(testCtx)
	defer endLifetime()

	log := testutil.NewLogForTesting(t.Name())
	s := NewSession(lifetimeCtx, SessionConfig{
		Tool:        fakeDebuggerTool(t),
		Executor:    process.NewOSExecutor(log),
		IdleTimeout: 200 * time.Millisecond,
		Logger:      log,
	})

	_, err := s.Connect(testCtx, fakeProgram(t))
	require.NoError(t, err)

	endLifetime()

	select {
	case <-s.Done():
	case <-testCtx.Done():
		require.FailNow(t, "debugger process was not stopped")
	}
	require.ErrorIs(t, s.ExitErr(), ErrToolExited)
	require.ErrorIs(t, s.ExitErr(), context.Canceled)
}
