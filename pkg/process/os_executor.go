/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package process

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/go-logr/logr"
	ps "github.com/shirou/gopsutil/v4/process"
)

const (
	// How long we give a process to exit after asking it to terminate, before we kill it.
	gracefulStopTimeout = 5 * time.Second
)

type processState struct {
	cmd          *exec.Cmd
	identityTime time.Time
	waitOnce     sync.Once
	exited       chan struct{} // Closed when cmd.Wait() returns
	waitErr      error
}

type OSExecutor struct {
	procs map[Pid_t]*processState
	lock  sync.Mutex
	log   logr.Logger
}

func NewOSExecutor(log logr.Logger) Executor {
	return &OSExecutor{
		procs: make(map[Pid_t]*processState),
		log:   log.WithName("os-executor"),
	}
}

func (e *OSExecutor) StartProcess(ctx context.Context, cmd *exec.Cmd, handler ProcessExitHandler) (Pid_t, time.Time, func(), error) {
	if err := cmd.Start(); err != nil {
		return UnknownPID, time.Time{}, nil, err
	}

	pid, pidErr := IntToPidT(cmd.Process.Pid)
	if pidErr != nil {
		_ = cmd.Process.Kill()
		return UnknownPID, time.Time{}, nil, pidErr
	}

	identityTime := ProcessIdentityTime(pid)
	if identityTime.IsZero() {
		e.log.V(1).Info("could not determine process identity time", "PID", pid)
	}

	state := &processState{
		cmd:          cmd,
		identityTime: identityTime,
		exited:       make(chan struct{}),
	}

	e.lock.Lock()
	e.procs[pid] = state
	e.lock.Unlock()

	startWaitingForProcessExit := func() {
		state.waitOnce.Do(func() {
			go func() {
				state.waitErr = cmd.Wait()
				close(state.exited)
			}()

			go func() {
				select {
				case <-state.exited:
				case <-ctx.Done():
					if stopErr := e.stopProcessInternal(pid, state); stopErr != nil {
						e.log.Error(stopErr, "could not stop process upon context cancellation", "PID", pid)
					}
					<-state.exited
				}

				e.lock.Lock()
				delete(e.procs, pid)
				e.lock.Unlock()

				if handler != nil {
					exitCode, execErr := getProcessExecResult(state.waitErr, cmd)
					handler.OnProcessExited(pid, exitCode, errors.Join(execErr, ctx.Err()))
				}
			}()
		})
	}

	return pid, identityTime, startWaitingForProcessExit, nil
}

func (e *OSExecutor) StopProcess(pid Pid_t, identityTime time.Time) error {
	e.lock.Lock()
	state, found := e.procs[pid]
	e.lock.Unlock()

	if found {
		if !identityTime.IsZero() && !state.identityTime.IsZero() && !identityTime.Equal(state.identityTime) {
			return fmt.Errorf("process %d identity time mismatch, pid might have been reused", pid)
		}
		return e.stopProcessInternal(pid, state)
	}

	return e.stopProcessInternal(pid, &processState{identityTime: identityTime})
}

// Stops the process and its children. Children are enumerated before the root process is stopped,
// because once the root is gone they get re-parented and can no longer be found.
func (e *OSExecutor) stopProcessInternal(pid Pid_t, state *processState) error {
	proc, findErr := findPsProcess(pid, state.identityTime)
	if findErr != nil {
		if errors.Is(findErr, ErrorProcessNotFound) {
			return nil
		}
		return fmt.Errorf("could not find process %d: %w", pid, findErr)
	}

	children, childrenErr := proc.Children()
	if childrenErr != nil {
		// If we fail to get the children, assume there are no children.
		children = nil
	}

	e.log.V(1).Info("stopping process", "PID", pid, "Children", len(children))

	stopErr := e.stopSingleProcess(proc, state.exited)

	var childErrors []error
	for _, child := range children {
		if childErr := e.stopSingleProcess(child, nil); childErr != nil {
			childErrors = append(childErrors, childErr)
		}
	}

	if stopErr != nil {
		return stopErr
	}
	if len(childErrors) > 0 {
		return fmt.Errorf("some children processes could not be stopped: %w", errors.Join(childErrors...))
	}
	return nil
}

// Asks the process to terminate and kills it if it does not exit within gracefulStopTimeout.
// If exited is nil, process liveness is polled.
func (e *OSExecutor) stopSingleProcess(proc *ps.Process, exited <-chan struct{}) error {
	if termErr := proc.Terminate(); termErr != nil {
		if errors.Is(termErr, ps.ErrorProcessNotRunning) {
			return nil
		}
		e.log.V(1).Info("could not request process termination, will kill it", "PID", proc.Pid, "Error", termErr.Error())
	} else if waitForExit(proc, exited, gracefulStopTimeout) {
		return nil
	}

	if killErr := proc.Kill(); killErr != nil && !errors.Is(killErr, ps.ErrorProcessNotRunning) {
		if running, _ := proc.IsRunning(); running {
			return fmt.Errorf("could not kill process %d: %w", proc.Pid, killErr)
		}
	}

	e.log.V(1).Info("process killed", "PID", proc.Pid)
	return nil
}

func waitForExit(proc *ps.Process, exited <-chan struct{}, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	if exited != nil {
		select {
		case <-exited:
			return true
		case <-timer.C:
			return false
		}
	}

	const pollInterval = 100 * time.Millisecond
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if running, err := proc.IsRunning(); err != nil || !running {
				return true
			}
		case <-timer.C:
			return false
		}
	}
}

// Returns the process execution error and process exit code depending on the result of command wait call.
func getProcessExecResult(waitErr error, cmd *exec.Cmd) (int32, error) {
	var ee *exec.ExitError
	if waitErr == nil {
		return int32(cmd.ProcessState.ExitCode()), nil
	} else if errors.As(waitErr, &ee) {
		return int32(ee.ExitCode()), nil
	} else {
		return UnknownExitCode, waitErr
	}
}

var _ Executor = (*OSExecutor)(nil)
