/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package osutil

import (
	"os"
	"strings"
	"time"
)

func EnvVarStringWithDefault(varName string, defaultVal string) string {
	val, found := os.LookupEnv(varName)
	if !found || strings.TrimSpace(val) == "" {
		return defaultVal
	}
	return val
}

// Parses the environment variable as a Go duration (e.g. "250ms").
// Returns defaultVal if the variable is not set, empty, invalid, or negative.
func EnvVarDurationValWithDefault(varName string, defaultVal time.Duration) time.Duration {
	value, found := os.LookupEnv(varName)
	if !found || strings.TrimSpace(value) == "" {
		return defaultVal
	}

	val, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || val < 0 {
		return defaultVal
	}

	return val
}
