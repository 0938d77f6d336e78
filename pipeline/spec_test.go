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
	"testing"
)

func genStep(name string, segs ...PromptSegment) StepSpec {
	return StepSpec{Name: name, Type: StepGenerate, Provider: "p", Prompt: segs}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name     string
		def      *Definition
		wantKind ErrKind // empty means valid
	}{
		{
			name:     "nil definition",
			def:      nil,
			wantKind: ErrKindValidation,
		},
		{
			name:     "no steps",
			def:      &Definition{Name: "empty"},
			wantKind: ErrKindValidation,
		},
		{
			name: "valid chain",
			def: &Definition{Name: "ok", Steps: []StepSpec{
				genStep("a", Static("x")),
				genStep("b", Ref("a")),
			}},
		},
		{
			name: "duplicate step name",
			def: &Definition{Name: "dup", Steps: []StepSpec{
				genStep("a", Static("x")),
				genStep("a", Static("y")),
			}},
			wantKind: ErrKindValidation,
		},
		{
			name: "forward reference",
			def: &Definition{Name: "fwd", Steps: []StepSpec{
				genStep("a", Ref("b")),
				genStep("b", Static("x")),
			}},
			wantKind: ErrKindUnresolvedRef,
		},
		{
			name: "self reference",
			def: &Definition{Name: "self", Steps: []StepSpec{
				genStep("a", Ref("a")),
			}},
			wantKind: ErrKindUnresolvedRef,
		},
		{
			name: "reference inside same parallel group",
			def: &Definition{Name: "group-ref", Steps: []StepSpec{
				{Name: "a", Type: StepGenerate, Provider: "p", Prompt: []PromptSegment{Static("x")}, Group: "g"},
				{Name: "b", Type: StepGenerate, Provider: "p", Prompt: []PromptSegment{Ref("a")}, Group: "g"},
			}},
			wantKind: ErrKindValidation,
		},
		{
			name: "reused group name may reference the earlier unit",
			def: &Definition{Name: "group-reuse", Steps: []StepSpec{
				{Name: "a1", Type: StepGenerate, Provider: "p", Prompt: []PromptSegment{Static("x")}, Group: "g"},
				{Name: "a2", Type: StepGenerate, Provider: "p", Prompt: []PromptSegment{Static("y")}, Group: "g"},
				genStep("mid", Ref("a1")),
				{Name: "b1", Type: StepGenerate, Provider: "p", Prompt: []PromptSegment{Ref("a1"), Ref("mid")}, Group: "g"},
			}},
		},
		{
			name: "reused group name still rejects refs within its own unit",
			def: &Definition{Name: "group-reuse-bad", Steps: []StepSpec{
				{Name: "a1", Type: StepGenerate, Provider: "p", Prompt: []PromptSegment{Static("x")}, Group: "g"},
				genStep("mid", Static("y")),
				{Name: "b1", Type: StepGenerate, Provider: "p", Prompt: []PromptSegment{Static("z")}, Group: "g"},
				{Name: "b2", Type: StepGenerate, Provider: "p", Prompt: []PromptSegment{Ref("b1")}, Group: "g"},
			}},
			wantKind: ErrKindValidation,
		},
		{
			name: "group member may reference earlier sequential step",
			def: &Definition{Name: "group-ok", Steps: []StepSpec{
				genStep("seed", Static("x")),
				{Name: "a", Type: StepGenerate, Provider: "p", Prompt: []PromptSegment{Ref("seed")}, Group: "g"},
				{Name: "b", Type: StepGenerate, Provider: "p", Prompt: []PromptSegment{Ref("seed")}, Group: "g"},
			}},
		},
		{
			name: "generate without provider",
			def: &Definition{Name: "noprov", Steps: []StepSpec{
				{Name: "a", Type: StepGenerate, Prompt: []PromptSegment{Static("x")}},
			}},
			wantKind: ErrKindValidation,
		},
		{
			name: "generate without prompt",
			def: &Definition{Name: "noprompt", Steps: []StepSpec{
				{Name: "a", Type: StepGenerate, Provider: "p"},
			}},
			wantKind: ErrKindValidation,
		},
		{
			name: "batch without sub-prompts",
			def: &Definition{Name: "nobatch", Steps: []StepSpec{
				{Name: "a", Type: StepBatch, Provider: "p"},
			}},
			wantKind: ErrKindValidation,
		},
		{
			name: "batch optional index out of range",
			def: &Definition{Name: "optrange", Steps: []StepSpec{
				{Name: "a", Type: StepBatch, Provider: "p",
					SubPrompts: [][]PromptSegment{{Static("x")}},
					Optional:   []int{1}},
			}},
			wantKind: ErrKindValidation,
		},
		{
			name: "batch sub-prompt forward reference",
			def: &Definition{Name: "batchref", Steps: []StepSpec{
				{Name: "a", Type: StepBatch, Provider: "p",
					SubPrompts: [][]PromptSegment{{Ref("later")}}},
				genStep("later", Static("x")),
			}},
			wantKind: ErrKindUnresolvedRef,
		},
		{
			name: "transform without name",
			def: &Definition{Name: "notr", Steps: []StepSpec{
				{Name: "a", Type: StepTransform, Prompt: []PromptSegment{Static("x")}},
			}},
			wantKind: ErrKindValidation,
		},
		{
			name: "unknown step type",
			def: &Definition{Name: "badtype", Steps: []StepSpec{
				{Name: "a", Type: "teleport"},
			}},
			wantKind: ErrKindValidation,
		},
		{
			name: "bad when expression",
			def: &Definition{Name: "badwhen", Steps: []StepSpec{
				{Name: "a", Type: StepNoop, When: "((("},
			}},
			wantKind: ErrKindValidation,
		},
		{
			name: "bad option value",
			def: &Definition{Name: "badopt", Steps: []StepSpec{
				{Name: "a", Type: StepGenerate, Provider: "p",
					Prompt:  []PromptSegment{Static("x")},
					Options: map[string]any{"temperature": "hot"}},
			}},
			wantKind: ErrKindValidation,
		},
		{
			name: "temperature out of range",
			def: &Definition{Name: "hightemp", Steps: []StepSpec{
				{Name: "a", Type: StepGenerate, Provider: "p",
					Prompt:  []PromptSegment{Static("x")},
					Options: map[string]any{"temperature": 3.5}},
			}},
			wantKind: ErrKindValidation,
		},
		{
			name: "bad retry policy",
			def: &Definition{Name: "badretry", Steps: []StepSpec{
				{Name: "a", Type: StepGenerate, Provider: "p",
					Prompt: []PromptSegment{Static("x")},
					Retry:  &RetryPolicy{MaxAttempts: 0}},
			}},
			wantKind: ErrKindValidation,
		},
		{
			name: "unknown failure action",
			def: &Definition{Name: "badpolicy", Steps: []StepSpec{
				{Name: "a", Type: StepGenerate, Provider: "p",
					Prompt:  []PromptSegment{Static("x")},
					OnError: &FailurePolicy{Action: "explode"}},
			}},
			wantKind: ErrKindValidation,
		},
		{
			name: "output with empty path",
			def: &Definition{Name: "badout", Steps: []StepSpec{
				{Name: "a", Type: StepGenerate, Provider: "p",
					Prompt: []PromptSegment{Static("x")},
					Output: &OutputSpec{}},
			}},
			wantKind: ErrKindValidation,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := Validate(c.def)
			if c.wantKind == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error")
			}
			if got := KindOf(err); got != c.wantKind {
				t.Errorf("kind: got %s, want %s", got, c.wantKind)
			}
		})
	}
}

func TestSplitUnits(t *testing.T) {
	def := &Definition{Steps: []StepSpec{
		{Name: "s0"},
		{Name: "s1", Group: "g1"},
		{Name: "s2", Group: "g1"},
		{Name: "s3"},
		{Name: "s4", Group: "g1"}, // same name, but not consecutive with s1/s2
		{Name: "s5", Group: "g2"},
	}}
	units := splitUnits(def)
	if len(units) != 5 {
		t.Fatalf("units: got %d, want 5", len(units))
	}
	check := func(i int, group string, steps ...int) {
		t.Helper()
		u := units[i]
		if u.group != group {
			t.Errorf("unit %d group: got %q, want %q", i, u.group, group)
		}
		if len(u.steps) != len(steps) {
			t.Fatalf("unit %d steps: got %v, want %v", i, u.steps, steps)
		}
		for j := range steps {
			if u.steps[j] != steps[j] {
				t.Errorf("unit %d step[%d]: got %d, want %d", i, j, u.steps[j], steps[j])
			}
		}
	}
	check(0, "", 0)
	check(1, "g1", 1, 2)
	check(2, "", 3)
	check(3, "g1", 4)
	check(4, "g2", 5)
}
