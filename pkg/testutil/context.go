/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/microsoft/lldbdap/pkg/osutil"
)

const testContextTimeoutEnvVar = "TEST_CONTEXT_TIMEOUT"

// GetTestContext returns a context that expires at the earlier of the test deadline
// and now+testTimeout. A zero testTimeout means "no additional timeout".
// TEST_CONTEXT_TIMEOUT (a Go duration, e.g. "5m") overrides both, which is handy when debugging tests.
func GetTestContext(t *testing.T, testTimeout time.Duration) (context.Context, context.CancelFunc) {
	if override := osutil.EnvVarDurationValWithDefault(testContextTimeoutEnvVar, 0); override > 0 {
		return context.WithTimeout(context.Background(), override)
	}

	deadline, haveDeadline := t.Deadline()

	switch {
	case !haveDeadline && testTimeout == 0:
		return context.WithCancel(context.Background())

	case haveDeadline && testTimeout == 0:
		return context.WithDeadline(context.Background(), deadline)

	case !haveDeadline && testTimeout != 0:
		return context.WithTimeout(context.Background(), testTimeout)

	default:
		testDeadline := time.Now().Add(testTimeout)
		// Take shorter of the two deadlines
		if testDeadline.Before(deadline) {
			return context.WithDeadline(context.Background(), testDeadline)
		}
		return context.WithDeadline(context.Background(), deadline)
	}
}
