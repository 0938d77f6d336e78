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

	"github.com/pkg/errors"
)

func TestCheckpointManager_RoundTrip(t *testing.T) {
	ctx := context.Background()
	cm := NewCheckpointManager(newMemStore())

	ec := NewExecutionContext(map[string]any{"k": "v"}, "/ws")
	_ = ec.Set("a", &StepResult{Status: StepSuccess, Output: "out-a"})
	_ = ec.Set("b", &StepResult{Status: StepSuccess, Output: "out-b"})

	if err := cm.Save(ctx, &Checkpoint{RunID: "r1", NextStep: 2, Context: ec}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	cp, err := cm.Load(ctx, "r1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cp.RunID != "r1" || cp.NextStep != 2 {
		t.Errorf("restored: %+v", cp)
	}
	if cp.SavedAt.IsZero() {
		t.Error("SavedAt not stamped")
	}
	names := cp.Context.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("restored order: %v", names)
	}
	r, err := cp.Context.Get("b")
	if err != nil || r.Output != "out-b" {
		t.Errorf("entry b: %v %v", r, err)
	}
}

func TestCheckpointManager_LoadMissing(t *testing.T) {
	cm := NewCheckpointManager(newMemStore())
	_, err := cm.Load(context.Background(), "ghost")
	if !errors.Is(err, ErrNoCheckpoint) {
		t.Fatalf("got %v, want ErrNoCheckpoint", err)
	}
}

func TestCheckpointManager_Clear(t *testing.T) {
	ctx := context.Background()
	cm := NewCheckpointManager(newMemStore())
	ec := NewExecutionContext(nil, "")
	if err := cm.Save(ctx, &Checkpoint{RunID: "r1", Context: ec}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := cm.Clear(ctx, "r1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := cm.Load(ctx, "r1"); !errors.Is(err, ErrNoCheckpoint) {
		t.Fatalf("after Clear: got %v", err)
	}
}

func TestVerifyCheckpoint(t *testing.T) {
	def := &Definition{Steps: []StepSpec{
		{Name: "a"}, {Name: "b"}, {Name: "c"},
	}}
	good := NewExecutionContext(nil, "")
	_ = good.Set("a", &StepResult{Status: StepSuccess})
	_ = good.Set("b", &StepResult{Status: StepSuccess})

	if err := verifyCheckpoint(def, &Checkpoint{RunID: "r", NextStep: 2, Context: good}); err != nil {
		t.Errorf("consistent prefix rejected: %v", err)
	}
	if err := verifyCheckpoint(def, &Checkpoint{RunID: "r", NextStep: 2, Context: nil}); err == nil {
		t.Error("nil context accepted")
	}
	if err := verifyCheckpoint(def, &Checkpoint{RunID: "r", NextStep: 4, Context: good}); err == nil {
		t.Error("out-of-range next step accepted")
	}
	hole := NewExecutionContext(nil, "")
	_ = hole.Set("b", &StepResult{Status: StepSuccess})
	if err := verifyCheckpoint(def, &Checkpoint{RunID: "r", NextStep: 2, Context: hole}); err == nil {
		t.Error("prefix with missing step accepted")
	}
}
