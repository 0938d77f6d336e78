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

import "time"

// StepStatus is the outcome of one step execution.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailure StepStatus = "failure"
	StepSkipped StepStatus = "skipped"
)

// StepResult records one committed step. Output is the raw provider text;
// Payload is the normalized value (equal to Output for text shapes).
type StepResult struct {
	Status    StepStatus `json:"status"`
	Output    string     `json:"output,omitempty"`
	Payload   any        `json:"payload,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	Attempts  int        `json:"attempts,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	ErrKind   ErrKind    `json:"err_kind,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Text reports the value template references resolve to. Skipped and
// fallback results resolve to their payload's string form when possible.
func (r *StepResult) Text() string {
	if r.Output != "" {
		return r.Output
	}
	if s, ok := r.Payload.(string); ok {
		return s
	}
	return r.Output
}
