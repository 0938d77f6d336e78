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
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/cloudwego/promptpipe/llm/log"
)

// stepExecutor runs a single step against the run's collaborators. All
// step-level errors are converted to a failure StepResult at this boundary;
// the pipeline executor decides what a failure means.
type stepExecutor struct {
	runID       string
	registry    *Registry
	transforms  TransformRegistry
	sessions    *SessionManager
	writer      FileWriter
	observer    Observer
	parallelism int
}

// run never returns an error; failures are encoded in the result.
func (se *stepExecutor) run(ctx context.Context, spec *StepSpec, ec *ExecutionContext) *StepResult {
	ok, err := evalCondition(spec.When, ec)
	if err != nil {
		return failureResult(err, 0)
	}
	if !ok {
		return &StepResult{Status: StepSkipped, Timestamp: time.Now()}
	}

	var res *StepResult
	switch spec.Type {
	case StepNoop:
		res = se.runNoop(ctx, spec, ec)
	case StepTransform:
		res = se.runTransform(ctx, spec, ec)
	case StepGenerate, StepGenerateRobust:
		res = se.runGenerate(ctx, spec, ec)
	case StepBatch:
		res = se.runBatch(ctx, spec, ec)
	default:
		res = failureResult(Errorf(ErrKindValidation, "unknown step type %q", spec.Type), 0)
	}

	if res.Status == StepSuccess && spec.Output != nil {
		if err := se.routeOutput(spec, res, ec); err != nil {
			return failureResult(err, res.Attempts)
		}
	}
	return res
}

func (se *stepExecutor) runNoop(ctx context.Context, spec *StepSpec, ec *ExecutionContext) *StepResult {
	text, err := ec.ResolveTemplate(spec.Prompt)
	if err != nil {
		return failureResult(err, 0)
	}
	return successResult(text, text, 1)
}

func (se *stepExecutor) runTransform(ctx context.Context, spec *StepSpec, ec *ExecutionContext) *StepResult {
	text, err := ec.ResolveTemplate(spec.Prompt)
	if err != nil {
		return failureResult(err, 0)
	}
	fn, err := se.transforms.Get(spec.Transform)
	if err != nil {
		return failureResult(NewError(ErrKindValidation, err), 0)
	}
	out, err := fn(ctx, text, ec)
	if err != nil {
		return failureResult(errors.Wrapf(err, "transform %q", spec.Transform), 1)
	}
	payload, err := normalizeOutput(out, spec.Shape)
	if err != nil {
		return failureResult(err, 1)
	}
	return successResult(out, payload, 1)
}

// retryPolicyFor resolves the attempt budget: an explicit override wins,
// otherwise robust variants get the default backoff policy and plain
// variants a single attempt.
func retryPolicyFor(spec *StepSpec) RetryPolicy {
	if spec.Retry != nil {
		return *spec.Retry
	}
	if spec.Type == StepGenerateRobust {
		return DefaultRetryPolicy()
	}
	return NoRetry()
}

func (se *stepExecutor) runGenerate(ctx context.Context, spec *StepSpec, ec *ExecutionContext) *StepResult {
	prompt, err := ec.ResolveTemplate(spec.Prompt)
	if err != nil {
		return failureResult(err, 0)
	}
	opts, err := ParseProviderOptions(spec.Options)
	if err != nil {
		return failureResult(err, 0)
	}
	provider, err := se.registry.Get(spec.Provider)
	if err != nil {
		return failureResult(NewError(ErrKindValidation, err), 0)
	}

	var sessionID string
	if spec.Session {
		sess, err := se.sessions.acquire(ctx, spec.Provider, opts)
		if err != nil {
			return failureResult(errors.Wrap(err, "open session"), 0)
		}
		sessionID = sess.ID
		opts.SessionID = sessionID
	}

	raw, attempts, err := se.invoke(ctx, provider, spec, prompt, opts)
	if err != nil {
		res := failureResult(err, attempts)
		res.SessionID = sessionID
		return res
	}

	payload, err := normalizeOutput(raw, spec.Shape)
	if err != nil {
		// One repair re-prompt, then give up.
		raw, payload, err = se.repair(ctx, provider, spec, raw, opts, err)
		if err != nil {
			res := failureResult(err, attempts)
			res.SessionID = sessionID
			return res
		}
		attempts++
	}

	res := successResult(raw, payload, attempts)
	res.SessionID = sessionID
	return res
}

// invoke drives one prompt through the step's retry policy.
func (se *stepExecutor) invoke(ctx context.Context, provider Provider, spec *StepSpec, prompt string, opts ProviderOptions) (string, int, error) {
	policy := retryPolicyFor(spec)
	var content string
	attempts, err := policy.Do(ctx, func(ctx context.Context) error {
		callCtx := ctx
		if opts.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
			defer cancel()
		}
		out, err := provider.Invoke(callCtx, prompt, opts)
		if err != nil {
			return err
		}
		content = out.Content
		return nil
	}, func(attempt int, err error) {
		emit(se.observer, Event{
			Type: EventStepRetried, RunID: se.runID, Step: spec.Name,
			Attempt: attempt, Err: err,
		})
		log.Info("step %s attempt %d failed, retrying: %v", spec.Name, attempt, err)
	})
	return content, attempts, err
}

// repair re-prompts once with the parse error and expected schema.
func (se *stepExecutor) repair(ctx context.Context, provider Provider, spec *StepSpec, raw string, opts ProviderOptions, cause error) (string, any, error) {
	log.Info("step %s output failed normalization, attempting repair: %v", spec.Name, cause)
	fixed, _, err := se.invoke(ctx, provider, &StepSpec{
		Name: spec.Name, Type: StepGenerate, Provider: spec.Provider,
	}, repairPrompt(raw, spec.Shape, cause), opts)
	if err != nil {
		return "", nil, errors.Wrap(cause, "repair re-prompt failed")
	}
	payload, err := normalizeOutput(fixed, spec.Shape)
	if err != nil {
		return "", nil, err
	}
	return fixed, payload, nil
}

// runBatch fans sub-prompts out concurrently to one provider and collects
// all results before returning. A required sub-prompt failure fails the
// step; optional failures leave a null slot.
func (se *stepExecutor) runBatch(ctx context.Context, spec *StepSpec, ec *ExecutionContext) *StepResult {
	opts, err := ParseProviderOptions(spec.Options)
	if err != nil {
		return failureResult(err, 0)
	}
	provider, err := se.registry.Get(spec.Provider)
	if err != nil {
		return failureResult(NewError(ErrKindValidation, err), 0)
	}

	// Templates resolve up front so reference errors surface before any
	// provider call.
	prompts := make([]string, len(spec.SubPrompts))
	for i, segs := range spec.SubPrompts {
		p, err := ec.ResolveTemplate(segs)
		if err != nil {
			return failureResult(err, 0)
		}
		prompts[i] = p
	}
	optional := make(map[int]bool, len(spec.Optional))
	for _, idx := range spec.Optional {
		optional[idx] = true
	}

	payloads := make([]any, len(prompts))
	g, gctx := errgroup.WithContext(ctx)
	if se.parallelism > 0 {
		g.SetLimit(se.parallelism)
	}
	for i := range prompts {
		g.Go(func() error {
			raw, _, err := se.invoke(gctx, provider, spec, prompts[i], opts)
			if err != nil {
				if optional[i] {
					log.Info("batch step %s: optional sub-prompt %d failed: %v", spec.Name, i, err)
					return nil
				}
				return errors.Wrapf(err, "sub-prompt %d", i)
			}
			payload, err := normalizeOutput(raw, spec.Shape)
			if err != nil {
				if optional[i] {
					return nil
				}
				return errors.Wrapf(err, "sub-prompt %d", i)
			}
			payloads[i] = payload
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return failureResult(err, 1)
	}

	raw, err := json.Marshal(payloads)
	if err != nil {
		return failureResult(Errorf(ErrKindOutputFormat, "marshal batch payload: %v", err), 1)
	}
	return successResult(string(raw), payloads, 1)
}

func (se *stepExecutor) routeOutput(spec *StepSpec, res *StepResult, ec *ExecutionContext) error {
	if se.writer == nil {
		return Errorf(ErrKindIO, "step %q declares an output path but no file writer is configured", spec.Name)
	}
	path := resolveOutputPath(spec.Output, se.runID, spec.Name, time.Now(), ec.WorkspaceDir)
	if err := se.writer.WriteFile(path, []byte(res.Output)); err != nil {
		return NewError(ErrKindIO, errors.Wrapf(err, "route output of step %q to %s", spec.Name, path))
	}
	log.Debug("step %s output routed to %s", spec.Name, path)
	return nil
}

func successResult(raw string, payload any, attempts int) *StepResult {
	return &StepResult{
		Status:    StepSuccess,
		Output:    raw,
		Payload:   payload,
		Timestamp: time.Now(),
		Attempts:  attempts,
	}
}

func failureResult(err error, attempts int) *StepResult {
	return &StepResult{
		Status:    StepFailure,
		ErrKind:   KindOf(err),
		Error:     err.Error(),
		Timestamp: time.Now(),
		Attempts:  attempts,
	}
}
