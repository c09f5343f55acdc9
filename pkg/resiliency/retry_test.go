/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package resiliency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"
)

func fastBackoff() backoff.BackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(time.Millisecond),
		backoff.WithMaxInterval(5*time.Millisecond),
		backoff.WithMaxElapsedTime(time.Second),
	)
}

func TestRetryGetSucceedsAfterFailures(t *testing.T) {
	t.Parallel()

	attempts := 0
	val, err := RetryGet(context.Background(), fastBackoff(), func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("not yet")
		}
		return "done", nil
	})

	require.NoError(t, err)
	require.Equal(t, "done", val)
	require.Equal(t, 3, attempts)
}

func TestRetryGetStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	attempts := 0
	_, err := RetryGet(context.Background(), fastBackoff(), func() (int, error) {
		attempts++
		return 0, Permanent(boom)
	})

	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, attempts)
}

func TestMakePanicError(t *testing.T) {
	t.Parallel()

	require.NoError(t, MakePanicError(nil, logr.Discard()))

	err := MakePanicError("something broke", logr.Discard())
	require.ErrorContains(t, err, "something broke")

	var permanent *backoff.PermanentError
	require.True(t, errors.As(err, &permanent))
}
