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
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestRetryDo_TransientExhaustsBudget(t *testing.T) {
	p := *fastRetry(3)
	calls := 0
	var retried []int
	attempts, err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("connection reset by peer")
	}, func(attempt int, err error) {
		retried = append(retried, attempt)
	})
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	if calls != 3 || attempts != 3 {
		t.Errorf("calls=%d attempts=%d, want 3/3", calls, attempts)
	}
	// onRetry fires after attempts 1 and 2, never after the last.
	if len(retried) != 2 || retried[0] != 1 || retried[1] != 2 {
		t.Errorf("onRetry attempts: got %v", retried)
	}
	if KindOf(err) != ErrKindTransient {
		t.Errorf("kind: got %s", KindOf(err))
	}
}

func TestRetryDo_SucceedsMidBudget(t *testing.T) {
	p := *fastRetry(5)
	calls := 0
	attempts, err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("rate limit exceeded")
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts: got %d, want 3", attempts)
	}
}

func TestRetryDo_PermanentStopsImmediately(t *testing.T) {
	p := *fastRetry(5)
	calls := 0
	attempts, err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("model not found")
	}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 || attempts != 1 {
		t.Errorf("calls=%d attempts=%d, want 1/1", calls, attempts)
	}
}

func TestRetryDo_CancellationStopsLoop(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 10, InitialBackoff: 50 * time.Millisecond, BackoffMultiplier: 1}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := p.Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("request timeout")
	}, nil)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if KindOf(err) != ErrKindCancelled {
		t.Errorf("kind: got %s", KindOf(err))
	}
	if calls != 1 {
		t.Errorf("calls after cancel: got %d", calls)
	}
}

func TestBackoff(t *testing.T) {
	p := DefaultRetryPolicy()
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 0},
		{2, time.Second},
		{3, 2 * time.Second},
		{4, 4 * time.Second},
		{5, 8 * time.Second},
		{6, 10 * time.Second}, // capped
		{7, 10 * time.Second},
	}
	for _, c := range cases {
		if got := p.backoff(c.attempt); got != c.want {
			t.Errorf("backoff(%d): got %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestBackoff_NoInitialMeansNoSleep(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3}
	for attempt := 1; attempt <= 3; attempt++ {
		if got := p.backoff(attempt); got != 0 {
			t.Errorf("backoff(%d): got %v, want 0", attempt, got)
		}
	}
}
