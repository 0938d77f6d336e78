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
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
)

// ShapeKind declares the result shape a step expects from its provider.
type ShapeKind string

const (
	// ShapeText passes raw output through.
	ShapeText ShapeKind = "text"
	// ShapeJSON requires any valid JSON value.
	ShapeJSON ShapeKind = "json"
	// ShapeObject requires a JSON object.
	ShapeObject ShapeKind = "object"
	// ShapeList requires a JSON array.
	ShapeList ShapeKind = "list"
)

// OutputShape declares normalization for a step. Schema, when present, is
// included in repair prompts so the model can correct malformed output.
type OutputShape struct {
	Kind   ShapeKind       `json:"kind"`
	Schema json.RawMessage `json:"schema,omitempty"`
}

// SchemaFor reflects a JSON schema from a Go value, for embedding into an
// OutputShape.
func SchemaFor(v any) (json.RawMessage, error) {
	s := jsonschema.Reflect(v)
	bs, err := json.Marshal(s)
	if err != nil {
		return nil, errors.Wrap(err, "reflect output schema")
	}
	return bs, nil
}

// normalizeOutput converts raw provider text into the declared shape.
// Errors carry ErrKindOutputFormat so the step executor can attempt one
// repair re-prompt.
func normalizeOutput(raw string, shape *OutputShape) (any, error) {
	if shape == nil || shape.Kind == "" || shape.Kind == ShapeText {
		return raw, nil
	}
	payload := extractJSON(raw)
	var v any
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return nil, Errorf(ErrKindOutputFormat, "output is not valid JSON: %v", err)
	}
	switch shape.Kind {
	case ShapeJSON:
		return v, nil
	case ShapeObject:
		if _, ok := v.(map[string]any); !ok {
			return nil, Errorf(ErrKindOutputFormat, "output is valid JSON but not an object")
		}
		return v, nil
	case ShapeList:
		if _, ok := v.([]any); !ok {
			return nil, Errorf(ErrKindOutputFormat, "output is valid JSON but not a list")
		}
		return v, nil
	default:
		return nil, Errorf(ErrKindValidation, "unknown shape kind %q", shape.Kind)
	}
}

// extractJSON tolerates the markdown fences models like to wrap JSON in.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if i := strings.Index(s, "\n"); i >= 0 {
			s = s[i+1:]
		}
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		return strings.TrimSpace(s)
	}
	// Fall back to the outermost JSON-looking span.
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	var end int
	if s[start] == '{' {
		end = strings.LastIndex(s, "}")
	} else {
		end = strings.LastIndex(s, "]")
	}
	if end > start {
		return s[start : end+1]
	}
	return s
}

// repairPrompt asks the provider to fix output that failed normalization.
// Used at most once per step before surfacing OutputFormatError.
func repairPrompt(raw string, shape *OutputShape, cause error) string {
	var b strings.Builder
	b.WriteString("Your previous reply could not be parsed into the required format.\n")
	fmt.Fprintf(&b, "Parse error: %v\n", cause)
	fmt.Fprintf(&b, "Required shape: %s\n", shape.Kind)
	if len(shape.Schema) > 0 {
		fmt.Fprintf(&b, "JSON schema:\n%s\n", shape.Schema)
	}
	b.WriteString("Previous reply:\n")
	b.WriteString(raw)
	b.WriteString("\nReply with ONLY the corrected value, no commentary.")
	return b.String()
}
