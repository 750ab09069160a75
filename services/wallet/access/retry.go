// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package access

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig configures bounded exponential backoff for decrypt calls
// to the threshold network.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	// Default: 3
	MaxAttempts int

	// InitialBackoff is the wait before the first retry. Default: 1s
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between retries. Default: 30s
	MaxBackoff time.Duration

	// BackoffFactor multiplies the wait after each attempt. Default: 2.0
	BackoffFactor float64

	// JitterFactor is the maximum jitter as a fraction of the wait (0-1).
	// Default: 0.2
	JitterFactor float64
}

// DefaultRetryConfig returns the decrypt-path defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		JitterFactor:   0.2,
	}
}

// retryableFunc is one attempt. A nil error stops the loop; a non-nil
// error is retried only when retryable reports it transient.
type retryableFunc func(ctx context.Context, attempt int) error

// retry runs fn with exponential backoff until it succeeds, a
// non-retryable error occurs, attempts are exhausted, or ctx is done.
// Returns the last error.
func retry(ctx context.Context, cfg RetryConfig, retryable func(error) bool, fn retryableFunc) error {
	backoff := cfg.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) || attempt == cfg.MaxAttempts {
			return lastErr
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(withJitter(backoff, cfg.JitterFactor)):
		}

		backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	return lastErr
}

// withJitter spreads the wait across [base*(1-j), base*(1+j)] to avoid
// thundering-herd retries against a recovering key server.
func withJitter(base time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return base
	}
	jitter := (rand.Float64()*2 - 1) * jitterFactor
	return time.Duration(float64(base) * (1.0 + jitter))
}
