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
	"github.com/Knetic/govaluate"
)

// Definition is an already-parsed, validated pipeline. File-format loading
// is a collaborator's concern; the engine only consumes this structure.
type Definition struct {
	Name     string         `json:"name"`
	Version  string         `json:"version"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Steps    []StepSpec     `json:"steps"`
}

// StepType selects the execution path of a step.
type StepType string

const (
	// StepGenerate is a single provider call with no retries.
	StepGenerate StepType = "generate"
	// StepGenerateRobust is a provider call with transient-error retries
	// and exponential backoff.
	StepGenerateRobust StepType = "generate_robust"
	// StepBatch fans independent sub-prompts out to one provider.
	StepBatch StepType = "batch"
	// StepTransform runs a registered local transformation.
	StepTransform StepType = "transform"
	// StepNoop resolves its template and records it unchanged. Useful for
	// staging values other steps reference.
	StepNoop StepType = "noop"
)

// SegmentKind tags one prompt template segment.
type SegmentKind string

const (
	// SegmentStatic is literal text.
	SegmentStatic SegmentKind = "static"
	// SegmentFile reads external content from a path at execution time.
	SegmentFile SegmentKind = "file"
	// SegmentRef splices in the output of an earlier step.
	SegmentRef SegmentKind = "ref"
	// SegmentVar splices in a global variable.
	SegmentVar SegmentKind = "var"
)

// PromptSegment is one piece of a step's prompt template.
type PromptSegment struct {
	Kind  SegmentKind `json:"kind"`
	Value string      `json:"value"`
}

// Static builds a literal segment.
func Static(text string) PromptSegment { return PromptSegment{Kind: SegmentStatic, Value: text} }

// File builds a file-reference segment.
func File(path string) PromptSegment { return PromptSegment{Kind: SegmentFile, Value: path} }

// Ref builds a prior-step-result segment.
func Ref(step string) PromptSegment { return PromptSegment{Kind: SegmentRef, Value: step} }

// Var builds a global-variable segment.
func Var(name string) PromptSegment { return PromptSegment{Kind: SegmentVar, Value: name} }

// FailureAction selects what the executor does when a step fails after its
// retry budget.
type FailureAction string

const (
	// FailAbort stops the run; committed results stay in the checkpoint.
	FailAbort FailureAction = "abort"
	// FailFallback commits the declared Fallback literal as the step's
	// payload and continues.
	FailFallback FailureAction = "fallback"
	// FailSkip records a skipped result and continues.
	FailSkip FailureAction = "skip"
)

// FailurePolicy is a step's declared reaction to exhausted failure.
// Fallback substitutes a literal value; it never routes to another step.
type FailurePolicy struct {
	Action FailureAction `json:"action"`
	// Fallback is committed as the step payload when Action is FailFallback.
	Fallback any `json:"fallback,omitempty"`
}

// StepSpec declares one unit of pipeline work.
type StepSpec struct {
	Name string   `json:"name"`
	Type StepType `json:"type"`

	// Provider names a registry entry. Required for provider-call steps.
	Provider string `json:"provider,omitempty"`

	// Prompt is the ordered template resolved against the context.
	Prompt []PromptSegment `json:"prompt,omitempty"`

	// SubPrompts declares the fan-out units of a batch step.
	SubPrompts [][]PromptSegment `json:"sub_prompts,omitempty"`
	// Optional marks sub-prompts (by index) whose failure does not fail
	// the batch. Out-of-range indexes are rejected by Validate.
	Optional []int `json:"optional,omitempty"`

	// Options is the raw provider option map; known keys are validated by
	// ParseProviderOptions, the rest passes through.
	Options map[string]any `json:"options,omitempty"`

	// Transform names a TransformRegistry entry for transform steps.
	Transform string `json:"transform,omitempty"`

	// Session opts this step into conversational continuity with its
	// provider for the rest of the run.
	Session bool `json:"session,omitempty"`

	// Retry overrides the default policy of the step type.
	Retry *RetryPolicy `json:"retry,omitempty"`

	// OnError defaults to abort.
	OnError *FailurePolicy `json:"on_error,omitempty"`

	// When is a govaluate expression over global vars and completed step
	// outputs. A false result records a skipped step.
	When string `json:"when,omitempty"`

	// Shape declares output normalization. Nil means raw text.
	Shape *OutputShape `json:"shape,omitempty"`

	// Output routes the normalized result to a file via the injected
	// writer. Path placeholders: {run_id}, {step}, {timestamp}.
	Output *OutputSpec `json:"output,omitempty"`

	// Group marks membership in a parallel group. Consecutive steps with
	// the same non-empty group execute concurrently and commit atomically.
	Group string `json:"group,omitempty"`
}

// OutputSpec routes a step result to a file.
type OutputSpec struct {
	Path string `json:"path"`
}

// Validate checks a definition before any provider call: unique step names,
// no forward or self references, well-formed conditions and options, and
// structural requirements per step type.
func Validate(def *Definition) error {
	if def == nil {
		return Errorf(ErrKindValidation, "definition is nil")
	}
	if len(def.Steps) == 0 {
		return Errorf(ErrKindValidation, "definition %q has no steps", def.Name)
	}

	// Unit membership, not the raw group name, decides which references are
	// concurrent: a group name may recur after a break and form a new unit.
	unitOf := make([]int, len(def.Steps))
	for ui, u := range splitUnits(def) {
		for _, idx := range u.steps {
			unitOf[idx] = ui
		}
	}

	seen := make(map[string]int, len(def.Steps))
	for i := range def.Steps {
		s := &def.Steps[i]
		if s.Name == "" {
			return Errorf(ErrKindValidation, "step %d has no name", i)
		}
		if _, dup := seen[s.Name]; dup {
			return Errorf(ErrKindValidation, "duplicate step name %q", s.Name)
		}
		seen[s.Name] = i

		switch s.Type {
		case StepGenerate, StepGenerateRobust:
			if s.Provider == "" {
				return Errorf(ErrKindValidation, "step %q: provider-call step needs a provider", s.Name)
			}
			if len(s.Prompt) == 0 {
				return Errorf(ErrKindValidation, "step %q: empty prompt template", s.Name)
			}
		case StepBatch:
			if s.Provider == "" {
				return Errorf(ErrKindValidation, "step %q: batch step needs a provider", s.Name)
			}
			if len(s.SubPrompts) == 0 {
				return Errorf(ErrKindValidation, "step %q: batch step needs at least one sub-prompt", s.Name)
			}
			for _, idx := range s.Optional {
				if idx < 0 || idx >= len(s.SubPrompts) {
					return Errorf(ErrKindValidation, "step %q: optional index %d out of range", s.Name, idx)
				}
			}
		case StepTransform:
			if s.Transform == "" {
				return Errorf(ErrKindValidation, "step %q: transform step needs a transform name", s.Name)
			}
		case StepNoop:
		default:
			return Errorf(ErrKindValidation, "step %q: unknown type %q", s.Name, s.Type)
		}

		if err := validateRefs(s, s.Prompt, seen, unitOf, i); err != nil {
			return err
		}
		for _, sp := range s.SubPrompts {
			if err := validateRefs(s, sp, seen, unitOf, i); err != nil {
				return err
			}
		}

		if s.Output != nil && s.Output.Path == "" {
			return Errorf(ErrKindValidation, "step %q: output declared with empty path", s.Name)
		}

		if s.When != "" {
			if _, err := govaluate.NewEvaluableExpression(s.When); err != nil {
				return Errorf(ErrKindValidation, "step %q: bad when expression: %v", s.Name, err)
			}
		}
		if _, err := ParseProviderOptions(s.Options); err != nil {
			return Errorf(ErrKindValidation, "step %q: %v", s.Name, err)
		}
		if s.Retry != nil {
			if err := s.Retry.validate(); err != nil {
				return Errorf(ErrKindValidation, "step %q: %v", s.Name, err)
			}
		}
		if s.OnError != nil {
			switch s.OnError.Action {
			case FailAbort, FailFallback, FailSkip:
			default:
				return Errorf(ErrKindValidation, "step %q: unknown failure action %q", s.Name, s.OnError.Action)
			}
		}
	}
	return nil
}

// validateRefs enforces backwards-only references and forbids references
// between members of the same parallel unit, whose commit order is
// unspecified.
func validateRefs(s *StepSpec, segs []PromptSegment, seen map[string]int, unitOf []int, stepIdx int) error {
	for _, seg := range segs {
		switch seg.Kind {
		case SegmentStatic, SegmentFile, SegmentVar:
		case SegmentRef:
			j, ok := seen[seg.Value]
			if !ok || j >= stepIdx {
				return Errorf(ErrKindUnresolvedRef, "step %q references %q which is not declared earlier", s.Name, seg.Value)
			}
			if s.Group != "" && unitOf[j] == unitOf[stepIdx] {
				return Errorf(ErrKindValidation, "step %q references %q inside the same parallel group", s.Name, seg.Value)
			}
		default:
			return Errorf(ErrKindValidation, "step %q: unknown segment kind %q", s.Name, seg.Kind)
		}
	}
	return nil
}

// groups splits steps into execution units preserving declaration order.
// A unit is either a single sequential step or a run of consecutive steps
// sharing a non-empty group name.
type unit struct {
	group string
	steps []int // indexes into Definition.Steps
}

func splitUnits(def *Definition) []unit {
	var units []unit
	for i := 0; i < len(def.Steps); {
		g := def.Steps[i].Group
		if g == "" {
			units = append(units, unit{steps: []int{i}})
			i++
			continue
		}
		j := i
		var members []int
		for j < len(def.Steps) && def.Steps[j].Group == g {
			members = append(members, j)
			j++
		}
		units = append(units, unit{group: g, steps: members})
		i = j
	}
	return units
}
