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

// evalCondition evaluates a step's when expression against the run's global
// vars and the outputs of completed steps. Step outputs are exposed under
// their step name; globals under their variable name. Globals win on
// collision so callers can force behavior per run.
func evalCondition(expr string, ec *ExecutionContext) (bool, error) {
	if expr == "" {
		return true, nil
	}
	e, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return false, Errorf(ErrKindValidation, "bad when expression %q: %v", expr, err)
	}
	params := make(map[string]any, len(ec.Vars)+ec.Len())
	for _, n := range ec.Names() {
		r, _ := ec.Get(n)
		if r == nil {
			continue
		}
		if r.Payload != nil {
			params[n] = r.Payload
		} else {
			params[n] = r.Output
		}
	}
	for k, v := range ec.Vars {
		params[k] = v
	}
	out, err := e.Evaluate(params)
	if err != nil {
		return false, Errorf(ErrKindValidation, "when expression %q: %v", expr, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, Errorf(ErrKindValidation, "when expression %q: result %v is not boolean", expr, out)
	}
	return b, nil
}
