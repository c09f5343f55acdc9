/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package resiliency

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Permanent wraps an error so that retry functions stop immediately when it is returned.
// Wrapping an error that is already permanent is a no-op.
func Permanent(err error) error {
	var permanent *backoff.PermanentError
	if err == nil || errors.As(err, &permanent) {
		return err
	}
	return backoff.Permanent(err)
}

// Calls the factory function with given back-off policy until it succeeds, the policy gives up,
// or the context is done. When the policy gives up due to context deadline,
// the error returned includes the last attempt error.
func RetryGet[T any](ctx context.Context, b backoff.BackOff, factory func() (T, error)) (T, error) {
	var lastAttemptErr error

	retval, err := backoff.RetryNotifyWithData(
		factory,
		backoff.WithContext(b, ctx),
		func(err error, _ time.Duration) {
			lastAttemptErr = err
		},
	)

	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		// Inform the caller about the timeout AND the last attempt error.
		return *new(T), errors.Join(lastAttemptErr, err)
	case err != nil:
		return *new(T), err
	default:
		return retval, nil
	}
}
