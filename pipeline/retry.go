// Copyright 2025 CloudWeGo Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipeline

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// RetryPolicy bounds the attempt loop of a provider-call step. Only
// transient errors are retried; permanent errors fail the loop immediately.
type RetryPolicy struct {
	MaxAttempts       int           `json:"max_attempts"`
	InitialBackoff    time.Duration `json:"initial_backoff"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
	MaxBackoff        time.Duration `json:"max_backoff"`
}

// DefaultRetryPolicy is applied to robust steps that declare no override:
// 3 attempts, 1s initial backoff, doubling, capped at 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		InitialBackoff:    time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        10 * time.Second,
	}
}

// NoRetry performs a single attempt.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

func (p RetryPolicy) validate() error {
	if p.MaxAttempts < 1 {
		return errors.Errorf("retry max_attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.BackoffMultiplier < 0 {
		return errors.Errorf("retry backoff_multiplier must be >= 0, got %v", p.BackoffMultiplier)
	}
	return nil
}

// backoff computes the sleep before attempt n (1-based; attempt 1 never
// sleeps).
func (p RetryPolicy) backoff(attempt int) time.Duration {
	if attempt <= 1 || p.InitialBackoff <= 0 {
		return 0
	}
	d := p.InitialBackoff
	mult := p.BackoffMultiplier
	if mult <= 0 {
		mult = 2.0
	}
	for i := 2; i < attempt; i++ {
		d = time.Duration(float64(d) * mult)
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

// Do runs fn up to MaxAttempts times, sleeping between attempts and
// honoring ctx cancellation. onRetry, when set, observes every retried
// attempt. The attempt count of the last try is returned alongside the
// final error.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error, onRetry func(attempt int, err error)) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if wait := p.backoff(attempt); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return attempt - 1, NewError(ErrKindCancelled, ctx.Err())
			}
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, NewError(ErrKindCancelled, ctx.Err())
		}
		if !retryable(lastErr) {
			return attempt, lastErr
		}
		if attempt < p.MaxAttempts && onRetry != nil {
			onRetry(attempt, lastErr)
		}
	}
	return p.MaxAttempts, errors.Wrapf(lastErr, "failed after %d attempts", p.MaxAttempts)
}
