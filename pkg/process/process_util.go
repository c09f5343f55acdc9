/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package process

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	ps "github.com/shirou/gopsutil/v4/process"
)

// Essentially the same as ps.ErrorProcessNotRunning, but we do not want to
// expose the ps package outside of this package.
var ErrorProcessNotFound = errors.New("process does not exist")

// Gets the raw start time for the process, used to verify process identity.
// Returns zero time if the process cannot be found.
func ProcessIdentityTime(pid Pid_t) time.Time {
	proc, procErr := newPsProcess(pid)
	if procErr != nil {
		return time.Time{}
	}

	return processIdentityTime(proc)
}

func processIdentityTime(proc *ps.Process) time.Time {
	createTimestamp, err := proc.CreateTime()
	if err != nil {
		return time.Time{}
	}

	return time.UnixMilli(createTimestamp)
}

func newPsProcess(pid Pid_t) (*ps.Process, error) {
	osPid, err := PidT_ToUint32(pid)
	if err != nil {
		return nil, err
	}

	proc, procErr := ps.NewProcess(int32(osPid))
	if procErr != nil {
		if errors.Is(procErr, ps.ErrorProcessNotRunning) {
			return nil, fmt.Errorf("process with pid %d does not exist: %w", pid, ErrorProcessNotFound)
		}
		return nil, procErr
	}

	return proc, nil
}

// Finds the process with given PID. If expectedIdentityTime is not zero,
// the process identity time must match (guards against PID reuse).
func findPsProcess(pid Pid_t, expectedIdentityTime time.Time) (*ps.Process, error) {
	proc, err := newPsProcess(pid)
	if err != nil {
		return nil, err
	}

	if !expectedIdentityTime.IsZero() {
		actual := processIdentityTime(proc)
		if !actual.IsZero() && !actual.Equal(expectedIdentityTime.Truncate(time.Millisecond)) {
			return nil, fmt.Errorf(
				"process start time mismatch, pid might have been reused: pid %d, expected start time %s, actual start time %s",
				pid,
				expectedIdentityTime.Format(time.RFC3339Nano),
				actual.Format(time.RFC3339Nano),
			)
		}
	}

	return proc, nil
}

func IntToPidT(val int) (Pid_t, error) {
	return convertPid[int64, Pid_t](int64(val))
}

func Int64_ToPidT(val int64) (Pid_t, error) {
	return convertPid[int64, Pid_t](val)
}

func Uint32_ToPidT(val uint32) Pid_t {
	// uint32 is always valid as a PID value (see convertPid()), and can always be converted to Pid_t, which is int64-based.
	return Pid_t(val)
}

func PidT_ToInt(val Pid_t) (int, error) {
	return convertPid[Pid_t, int](val)
}

func PidT_ToUint32(val Pid_t) (uint32, error) {
	return convertPid[Pid_t, uint32](val)
}

func convertPid[From ~int64 | ~uint64 | ~uint32, To ~int64 | ~int | ~uint32](val From) (To, error) {
	outOfRange := val < 0 || uint64(val) > math.MaxUint32
	if outOfRange {
		return 0, fmt.Errorf("value %d is out of range of valid process ID values", val)
	}
	return To(val), nil
}

func StringToPidT(val string) (Pid_t, error) {
	u64val, u64ParseErr := strconv.ParseUint(val, 10, 32)
	if u64ParseErr != nil {
		return UnknownPID, u64ParseErr
	}

	return convertPid[uint64, Pid_t](u64val)
}
