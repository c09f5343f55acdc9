/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package process

import (
	"os/exec"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/microsoft/lldbdap/pkg/testutil"
)

type processExitInfo struct {
	PID      Pid_t
	ExitCode int32
	Err      error
}

// channelExitHandler reports the process exit on c, then closes c.
func channelExitHandler(c chan processExitInfo) ProcessExitHandler {
	return ProcessExitHandlerFunc(func(pid Pid_t, exitCode int32, err error) {
		c <- processExitInfo{PID: pid, ExitCode: exitCode, Err: err}
		close(c)
	})
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test relies on a POSIX shell")
	}
}

func TestStartProcessReportsExitCode(t *testing.T) {
	t.Parallel()
	requireShell(t)

	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)
	defer cancel()

	executor := NewOSExecutor(testutil.NewLogForTesting(t.Name()))
	exitInfoChan := make(chan processExitInfo, 1)

	cmd := exec.Command("sh", "-c", "exit 12")
	pid, _, startWaitForExit, startErr := executor.StartProcess(ctx, cmd, channelExitHandler(exitInfoChan))
	require.NoError(t, startErr)
	require.NotEqual(t, UnknownPID, pid)
	startWaitForExit()

	select {
	case <-ctx.Done():
		t.Fatal("test timed out")
	case ei := <-exitInfoChan:
		require.NoError(t, ei.Err, "Program execution failed unexpectedly")
		require.Equal(t, pid, ei.PID)
		require.Equal(t, int32(12), ei.ExitCode, "Program exit code was not captured properly")
	}
}

func TestStartProcessFailsForMissingExecutable(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)
	defer cancel()

	executor := NewOSExecutor(testutil.NewLogForTesting(t.Name()))
	cmd := exec.Command("/definitely/not/a/real/program")
	pid, _, startWaitForExit, startErr := executor.StartProcess(ctx, cmd, nil)
	require.Error(t, startErr)
	require.Equal(t, UnknownPID, pid)
	require.Nil(t, startWaitForExit)
}

// Tests that process is terminated when the context expires.
func TestProcessStoppedOnContextCancellation(t *testing.T) {
	t.Parallel()
	requireShell(t)

	testCtx, testCancel := testutil.GetTestContext(t, 20*time.Second)
	defer testCancel()

	executor := NewOSExecutor(testutil.NewLogForTesting(t.Name()))
	exitInfoChan := make(chan processExitInfo, 1)

	processCtx, processCancel := testutil.GetTestContext(t, 0)
	cmd := exec.Command("sleep", "30")
	_, _, startWaitForExit, startErr := executor.StartProcess(processCtx, cmd, channelExitHandler(exitInfoChan))
	require.NoError(t, startErr)
	startWaitForExit()

	processCancel()

	select {
	case <-testCtx.Done():
		t.Fatal("process was not stopped after context cancellation")
	case ei := <-exitInfoChan:
		require.ErrorIs(t, ei.Err, processCtx.Err())
	}
}

func TestStopProcess(t *testing.T) {
	t.Parallel()
	requireShell(t)

	ctx, cancel := testutil.GetTestContext(t, 20*time.Second)
	defer cancel()

	executor := NewOSExecutor(testutil.NewLogForTesting(t.Name()))
	exitInfoChan := make(chan processExitInfo, 1)

	cmd := exec.Command("sleep", "30")
	pid, identityTime, startWaitForExit, startErr := executor.StartProcess(ctx, cmd, channelExitHandler(exitInfoChan))
	require.NoError(t, startErr)
	startWaitForExit()

	require.NoError(t, executor.StopProcess(pid, identityTime))

	select {
	case <-ctx.Done():
		t.Fatal("process was not stopped")
	case ei := <-exitInfoChan:
		require.Equal(t, pid, ei.PID)
	}
}

func TestPidConversions(t *testing.T) {
	t.Parallel()

	pid, err := StringToPidT("4242")
	require.NoError(t, err)
	require.Equal(t, Pid_t(4242), pid)

	_, err = StringToPidT("-1")
	require.Error(t, err)

	_, err = Int64_ToPidT(-5)
	require.Error(t, err)

	asInt, err := PidT_ToInt(Uint32_ToPidT(17))
	require.NoError(t, err)
	require.Equal(t, 17, asInt)
}
