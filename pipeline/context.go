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
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ErrAlreadySet is returned by Set when a step name already has a result.
// Entries are write-once so checkpoint replay stays correct.
var ErrAlreadySet = errors.New("step result already set")

// ErrNotFound is returned by Get for step names with no committed result.
var ErrNotFound = errors.New("step result not found")

// ExecutionContext is the insertion-ordered record of all step results for
// one run. It is owned exclusively by one running executor and never shared
// across concurrent runs.
type ExecutionContext struct {
	names   []string
	results map[string]*StepResult

	// Vars are run-global variables readable by templates and conditions.
	Vars map[string]any
	// WorkspaceDir anchors relative file segments and output paths.
	WorkspaceDir string

	// ReadFile overrides how file segments are loaded, e.g. with a
	// PromptCache. Nil means os.ReadFile.
	ReadFile func(path string) ([]byte, error)
}

// NewExecutionContext builds an empty context with the given globals.
func NewExecutionContext(vars map[string]any, workspace string) *ExecutionContext {
	v := make(map[string]any, len(vars))
	for k, val := range vars {
		v[k] = val
	}
	return &ExecutionContext{
		results:      map[string]*StepResult{},
		Vars:         v,
		WorkspaceDir: workspace,
	}
}

// Get returns the committed result for a step.
func (ec *ExecutionContext) Get(name string) (*StepResult, error) {
	r, ok := ec.results[name]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "step %q", name)
	}
	return r, nil
}

// Set commits a result. It fails without mutating the existing entry if the
// name is already present.
func (ec *ExecutionContext) Set(name string, r *StepResult) error {
	if _, dup := ec.results[name]; dup {
		return errors.Wrapf(ErrAlreadySet, "step %q", name)
	}
	ec.names = append(ec.names, name)
	ec.results[name] = r
	return nil
}

// Names returns step names in commit order.
func (ec *ExecutionContext) Names() []string {
	out := make([]string, len(ec.names))
	copy(out, ec.names)
	return out
}

// Len reports the number of committed results.
func (ec *ExecutionContext) Len() int { return len(ec.names) }

// Clone deep-copies the ordered entries. Payloads are shared; committed
// results are treated as immutable.
func (ec *ExecutionContext) Clone() *ExecutionContext {
	cp := NewExecutionContext(ec.Vars, ec.WorkspaceDir)
	cp.ReadFile = ec.ReadFile
	for _, n := range ec.names {
		r := *ec.results[n]
		cp.names = append(cp.names, n)
		cp.results[n] = &r
	}
	return cp
}

// ResolveTemplate deterministically concatenates segments against the
// context. Missing references fail fast.
func (ec *ExecutionContext) ResolveTemplate(segments []PromptSegment) (string, error) {
	var b strings.Builder
	for _, seg := range segments {
		switch seg.Kind {
		case SegmentStatic:
			b.WriteString(seg.Value)
		case SegmentRef:
			r, ok := ec.results[seg.Value]
			if !ok {
				return "", Errorf(ErrKindUnresolvedRef, "reference to step %q with no result", seg.Value)
			}
			b.WriteString(r.Text())
		case SegmentVar:
			v, ok := ec.Vars[seg.Value]
			if !ok {
				return "", Errorf(ErrKindUnresolvedRef, "reference to unknown variable %q", seg.Value)
			}
			s, err := json.Marshal(v)
			if err != nil {
				return "", Errorf(ErrKindValidation, "variable %q is not serializable: %v", seg.Value, err)
			}
			if sv, isStr := v.(string); isStr {
				b.WriteString(sv)
			} else {
				b.Write(s)
			}
		case SegmentFile:
			path := seg.Value
			if ec.WorkspaceDir != "" && !filepath.IsAbs(path) {
				path = filepath.Join(ec.WorkspaceDir, path)
			}
			read := ec.ReadFile
			if read == nil {
				read = os.ReadFile
			}
			bs, err := read(path)
			if err != nil {
				return "", NewError(ErrKindIO, errors.Wrapf(err, "prompt file %q", seg.Value))
			}
			b.Write(bs)
		default:
			return "", Errorf(ErrKindValidation, "unknown segment kind %q", seg.Kind)
		}
	}
	return b.String(), nil
}

// contextJSON is the serialized form; a slice keeps the order explicit.
type contextJSON struct {
	Entries   []contextEntry `json:"entries"`
	Vars      map[string]any `json:"vars,omitempty"`
	Workspace string         `json:"workspace,omitempty"`
}

type contextEntry struct {
	Name   string      `json:"name"`
	Result *StepResult `json:"result"`
}

// MarshalJSON preserves insertion order.
func (ec *ExecutionContext) MarshalJSON() ([]byte, error) {
	cj := contextJSON{Vars: ec.Vars, Workspace: ec.WorkspaceDir}
	for _, n := range ec.names {
		cj.Entries = append(cj.Entries, contextEntry{Name: n, Result: ec.results[n]})
	}
	return json.Marshal(cj)
}

// UnmarshalJSON restores an ordered context from a checkpoint snapshot.
func (ec *ExecutionContext) UnmarshalJSON(data []byte) error {
	var cj contextJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return err
	}
	ec.names = nil
	ec.results = map[string]*StepResult{}
	ec.Vars = cj.Vars
	ec.WorkspaceDir = cj.Workspace
	for _, e := range cj.Entries {
		if _, dup := ec.results[e.Name]; dup {
			return errors.Errorf("corrupt context snapshot: duplicate step %q", e.Name)
		}
		ec.names = append(ec.names, e.Name)
		ec.results[e.Name] = e.Result
	}
	return nil
}
