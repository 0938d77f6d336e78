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
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/cloudwego/promptpipe/llm/log"
)

// RunOptions configures one execution. The registry is the only required
// collaborator for definitions with provider-call steps.
type RunOptions struct {
	// RunID keys checkpoints. Re-invoking Execute with the same id resumes
	// from the last good checkpoint. Empty generates a fresh id.
	RunID string
	// Vars seed the context's global variables.
	Vars map[string]any
	// WorkspaceDir anchors relative file segments and output paths.
	WorkspaceDir string
	// Transforms resolves transform step names.
	Transforms TransformRegistry
	// Checkpoints enables persistence. Nil disables checkpointing and
	// resume.
	Checkpoints *CheckpointManager
	// Observer receives engine events. Nil means no events.
	Observer Observer
	// FileWriter handles declared output paths.
	FileWriter FileWriter
	// Files, when set, serves file prompt segments from a watched cache.
	Files *PromptCache
	// Parallelism bounds concurrent work inside parallel groups and batch
	// steps. <= 0 means unbounded.
	Parallelism int
}

// Execute runs a definition to completion, or resumes it when a checkpoint
// exists for the run id. On failure the returned error is a *PipelineError
// carrying the failing step, its error kind, and the partial context;
// committed results are never discarded.
func Execute(ctx context.Context, def *Definition, reg *Registry, opts RunOptions) (*ExecutionContext, error) {
	if reg == nil {
		reg = NewRegistry()
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	fail := func(step string, err error, ec *ExecutionContext) (*ExecutionContext, error) {
		emit(opts.Observer, Event{Type: EventRunFailed, RunID: runID, Step: step, Err: err})
		return ec, &PipelineError{RunID: runID, Step: step, Kind: KindOf(err), Err: err, Context: ec}
	}

	if err := Validate(def); err != nil {
		return fail("", err, NewExecutionContext(opts.Vars, opts.WorkspaceDir))
	}

	ec := NewExecutionContext(opts.Vars, opts.WorkspaceDir)
	start := 0
	if opts.Checkpoints != nil {
		cp, err := opts.Checkpoints.Load(ctx, runID)
		switch {
		case err == nil:
			if err := verifyCheckpoint(def, cp); err != nil {
				return fail("", err, ec)
			}
			ec = cp.Context
			start = cp.NextStep
			log.Info("run %s resuming at step index %d", runID, start)
		case errors.Is(err, ErrNoCheckpoint):
		default:
			return fail("", err, ec)
		}
	}
	if opts.Files != nil {
		ec.ReadFile = opts.Files.Read
	}
	if start >= len(def.Steps) {
		// The run already completed; resume is idempotent.
		emit(opts.Observer, Event{Type: EventRunCompleted, RunID: runID})
		return ec, nil
	}

	sessions := newSessionManager(reg)
	defer sessions.closeAll(context.WithoutCancel(ctx))

	se := &stepExecutor{
		runID:       runID,
		registry:    reg,
		transforms:  opts.Transforms,
		sessions:    sessions,
		writer:      opts.FileWriter,
		observer:    opts.Observer,
		parallelism: opts.Parallelism,
	}

	save := func(nextStep int) error {
		if opts.Checkpoints == nil {
			return nil
		}
		err := opts.Checkpoints.Save(ctx, &Checkpoint{RunID: runID, NextStep: nextStep, Context: ec})
		if err == nil {
			emit(opts.Observer, Event{Type: EventCheckpointSaved, RunID: runID})
		}
		return err
	}

	for _, u := range splitUnits(def) {
		last := u.steps[len(u.steps)-1]
		if last < start {
			continue // committed before the checkpoint was taken
		}
		if err := ctx.Err(); err != nil {
			// Stop issuing provider calls. Everything committed so far is
			// already checkpointed.
			return fail("", NewError(ErrKindCancelled, err), ec)
		}

		if u.group == "" {
			idx := u.steps[0]
			spec := &def.Steps[idx]
			res, err := runSequential(ctx, se, spec, ec, opts.Observer, runID)
			if err != nil {
				return fail(spec.Name, err, ec)
			}
			if err := ec.Set(spec.Name, res); err != nil {
				return fail(spec.Name, NewError(ErrKindValidation, err), ec)
			}
			if err := save(idx + 1); err != nil {
				return fail(spec.Name, err, ec)
			}
			continue
		}

		// Parallel group: members run concurrently and commit atomically.
		// No member's result reaches the context or the checkpoint unless
		// every member succeeds.
		results := make([]*StepResult, len(u.steps))
		g, gctx := errgroup.WithContext(ctx)
		if opts.Parallelism > 0 {
			g.SetLimit(opts.Parallelism)
		}
		snapshot := ec.Clone() // members read a stable view
		for i, idx := range u.steps {
			spec := &def.Steps[idx]
			g.Go(func() error {
				res, err := runSequential(gctx, se, spec, snapshot, opts.Observer, runID)
				if err != nil {
					return errors.Wrapf(err, "group %q member %q", u.group, spec.Name)
				}
				results[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return fail(def.Steps[u.steps[0]].Group, err, ec)
		}
		for i, idx := range u.steps {
			spec := &def.Steps[idx]
			if err := ec.Set(spec.Name, results[i]); err != nil {
				return fail(spec.Name, NewError(ErrKindValidation, err), ec)
			}
		}
		emit(opts.Observer, Event{Type: EventGroupCommitted, RunID: runID, Group: u.group})
		if err := save(last + 1); err != nil {
			return fail(def.Steps[last].Name, err, ec)
		}
	}

	emit(opts.Observer, Event{Type: EventRunCompleted, RunID: runID})
	return ec, nil
}

// runSequential executes one step and applies its failure policy. The
// returned result is ready to commit; a non-nil error means abort.
func runSequential(ctx context.Context, se *stepExecutor, spec *StepSpec, ec *ExecutionContext, obs Observer, runID string) (*StepResult, error) {
	emit(obs, Event{Type: EventStepStarted, RunID: runID, Step: spec.Name})
	res := se.run(ctx, spec, ec)

	switch res.Status {
	case StepSuccess:
		emit(obs, Event{Type: EventStepCompleted, RunID: runID, Step: spec.Name})
		return res, nil
	case StepSkipped:
		emit(obs, Event{Type: EventStepSkipped, RunID: runID, Step: spec.Name})
		return res, nil
	}

	stepErr := errors.New(res.Error)
	emit(obs, Event{Type: EventStepFailed, RunID: runID, Step: spec.Name, Attempt: res.Attempts, Err: stepErr})

	policy := spec.OnError
	if policy == nil {
		policy = &FailurePolicy{Action: FailAbort}
	}
	switch policy.Action {
	case FailFallback:
		// The failure stays on record; the declared literal becomes the
		// value downstream references resolve to.
		res.Payload = policy.Fallback
		res.Output = fallbackText(policy.Fallback)
		log.Info("step %s failed, continuing with fallback value", spec.Name)
		return res, nil
	case FailSkip:
		res.Status = StepSkipped
		log.Info("step %s failed, continuing per skip policy", spec.Name)
		return res, nil
	default:
		return nil, NewError(res.ErrKind, stepErr)
	}
}

// fallbackText renders a fallback literal the way downstream references
// splice it into prompts: strings verbatim, structured values as JSON,
// nil as empty.
func fallbackText(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	}
	bs, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(bs)
}

// verifyCheckpoint re-validates that a loaded checkpoint is a consistent
// prefix of the definition before resuming.
func verifyCheckpoint(def *Definition, cp *Checkpoint) error {
	if cp.Context == nil {
		return Errorf(ErrKindIO, "checkpoint for run %s has no context", cp.RunID)
	}
	if cp.NextStep < 0 || cp.NextStep > len(def.Steps) {
		return Errorf(ErrKindIO, "checkpoint for run %s: next step %d out of range", cp.RunID, cp.NextStep)
	}
	for i := 0; i < cp.NextStep; i++ {
		if _, err := cp.Context.Get(def.Steps[i].Name); err != nil {
			return Errorf(ErrKindIO, "checkpoint for run %s is not a consistent prefix: missing %q", cp.RunID, def.Steps[i].Name)
		}
	}
	return nil
}
