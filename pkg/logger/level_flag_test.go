/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package logger

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestStringToLevel(t *testing.T) {
	t.Parallel()

	type testcase struct {
		value       string
		expected    zapcore.Level
		expectError bool
	}

	testcases := []testcase{
		{"debug", zapcore.DebugLevel, false},
		{"INFO", zapcore.InfoLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"1", zapcore.Level(-1), false},
		{"4", zapcore.Level(-4), false},
		{"0", zapcore.WarnLevel, true},
		{"loud", zapcore.WarnLevel, true},
	}

	for _, tc := range testcases {
		level, err := StringToLevel(tc.value, zapcore.WarnLevel)
		if tc.expectError {
			require.Error(t, err, "value %q", tc.value)
		} else {
			require.NoError(t, err, "value %q", tc.value)
		}
		require.Equal(t, tc.expected, level, "value %q", tc.value)
	}
}

func TestLevelFlagSetsLoggerLevel(t *testing.T) {
	t.Parallel()

	log := New("level-flag-test")
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	log.AddLevelFlag(fs)

	require.NoError(t, fs.Parse([]string{"-v=debug"}))
	require.Equal(t, zapcore.DebugLevel, log.atomicLevel.Level())

	require.Error(t, fs.Parse([]string{"--verbosity=shouting"}))
}
