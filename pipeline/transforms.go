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
	"bytes"
	"context"
	"encoding/json"
	"strings"
)

// BuiltinTransforms returns the transforms every embedding gets for free.
// Applications merge their own on top.
func BuiltinTransforms() TransformRegistry {
	return TransformRegistry{
		"trim": func(ctx context.Context, input string, ec *ExecutionContext) (string, error) {
			return strings.TrimSpace(input), nil
		},
		"upper": func(ctx context.Context, input string, ec *ExecutionContext) (string, error) {
			return strings.ToUpper(input), nil
		},
		"lower": func(ctx context.Context, input string, ec *ExecutionContext) (string, error) {
			return strings.ToLower(input), nil
		},
		// json_pretty re-indents JSON, tolerating fenced model output.
		"json_pretty": func(ctx context.Context, input string, ec *ExecutionContext) (string, error) {
			var buf bytes.Buffer
			if err := json.Indent(&buf, []byte(extractJSON(input)), "", "  "); err != nil {
				return "", Errorf(ErrKindOutputFormat, "json_pretty: %v", err)
			}
			return buf.String(), nil
		},
	}
}

// MergeTransforms overlays custom transforms onto the builtins.
func MergeTransforms(custom TransformRegistry) TransformRegistry {
	merged := BuiltinTransforms()
	for name, fn := range custom {
		merged[name] = fn
	}
	return merged
}
