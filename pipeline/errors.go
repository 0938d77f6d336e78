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
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrKind classifies a failure so the executor can decide between retrying,
// failing the step, or aborting the run.
type ErrKind string

const (
	// ErrKindValidation marks a malformed definition (duplicate step name,
	// forward reference). Fatal before execution starts.
	ErrKindValidation ErrKind = "validation"
	// ErrKindTransient marks a provider failure worth retrying: timeout,
	// rate limit, connection reset.
	ErrKindTransient ErrKind = "transient_provider"
	// ErrKindPermanent marks a provider failure that retrying cannot fix:
	// auth failure, malformed request.
	ErrKindPermanent ErrKind = "permanent_provider"
	// ErrKindOutputFormat marks output that failed shape normalization
	// after the repair attempt.
	ErrKindOutputFormat ErrKind = "output_format"
	// ErrKindIO marks a missing referenced file or a checkpoint write
	// failure. A checkpoint write failure aborts the run.
	ErrKindIO ErrKind = "io"
	// ErrKindUnresolvedRef marks a reference to a step result that has not
	// been produced. Indicates an ordering bug; validation catches these.
	ErrKindUnresolvedRef ErrKind = "unresolved_reference"
	// ErrKindCancelled marks a run stopped by external cancellation.
	ErrKindCancelled ErrKind = "cancelled"
)

// Error is a kinded error produced inside the engine.
type Error struct {
	Kind ErrKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind. Returns nil if err is nil.
func NewError(kind ErrKind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Errorf builds a kinded error from a format string.
func Errorf(kind ErrKind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Err: errors.Errorf(format, args...)}
}

// PipelineError is the terminal failure returned by the executor. It always
// carries the partial context so callers can inspect committed results.
type PipelineError struct {
	RunID   string
	Step    string
	Kind    ErrKind
	Err     error
	Context *ExecutionContext
}

func (e *PipelineError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("pipeline %s: %s: %v", e.RunID, e.Kind, e.Err)
	}
	return fmt.Sprintf("pipeline %s: step %q: %s: %v", e.RunID, e.Step, e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// KindOf extracts the kind from an error chain. Raw provider errors without
// an explicit kind are classified by message heuristics.
func KindOf(err error) ErrKind {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}
	if errors.Is(err, context.Canceled) {
		return ErrKindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrKindTransient
	}
	if isTransientMessage(err.Error()) {
		return ErrKindTransient
	}
	return ErrKindPermanent
}

// isTransientMessage reports whether an opaque provider error looks like a
// transient network or capacity failure.
func isTransientMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, m := range []string{
		"timeout",
		"timed out",
		"context deadline exceeded",
		"connection reset",
		"connection refused",
		"read tcp",
		"write tcp",
		"rate limit",
		"too many requests",
		"429",
		"overloaded",
		"service unavailable",
	} {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// retryable reports whether the executor should retry the attempt.
func retryable(err error) bool {
	switch KindOf(err) {
	case ErrKindTransient:
		return true
	default:
		return false
	}
}
