// go-st25r39
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-st25r39.
//
// go-st25r39 is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-st25r39 is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-st25r39; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

// Package retry provides the bounded retry loop shared by the polling stages
package retry

import (
	"context"
	"errors"
	"time"
)

// ErrRetriesExhausted is returned when an operation asked for a retry on its
// last allowed attempt and reported no error of its own.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Operation represents a function that can be retried
// Returns: data, shouldRetry, error
// - data: the result if successful
// - shouldRetry: true if the operation should be retried
// - error: the error of this attempt; kept as the final error when retries run out
type Operation[T any] func(ctx context.Context) (T, bool, error)

// Config configures retry behavior
type Config struct {
	OnRetry    func(attempt int, err error)
	MaxRetries int
	RetryDelay time.Duration
}

// Do executes an operation with retry logic. A zero RetryDelay retries
// immediately. The context is checked between attempts.
func Do[T any](ctx context.Context, config Config, operation Operation[T]) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		result, shouldRetry, err := operation(ctx)
		if !shouldRetry {
			if err != nil {
				return zero, err
			}
			return result, nil
		}
		lastErr = err

		// If we should retry but we're at max attempts, break
		if attempt >= config.MaxRetries {
			break
		}

		if config.OnRetry != nil {
			config.OnRetry(attempt+1, err)
		}

		if err := wait(ctx, config.RetryDelay); err != nil {
			return zero, lastErrOr(lastErr, err)
		}
	}

	return zero, lastErrOr(lastErr, ErrRetriesExhausted)
}

func wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func lastErrOr(lastErr, fallback error) error {
	if lastErr != nil {
		return lastErr
	}
	return fallback
}
