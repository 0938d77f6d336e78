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
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// Provider is the capability contract every generative backend implements.
// The engine never speaks a wire protocol itself; it only dispatches to
// resolved clients.
type Provider interface {
	Name() string
	Invoke(ctx context.Context, prompt string, opts ProviderOptions) (*ProviderResult, error)
}

// SessionProvider is implemented by providers that can keep conversational
// state across invocations. Providers without native sessions are driven
// through a no-op session by the SessionManager.
type SessionProvider interface {
	Provider
	SupportsSessions() bool
	// OpenSession starts a provider-side conversation and returns its id.
	OpenSession(ctx context.Context, opts ProviderOptions) (string, error)
	// CloseSession releases the conversation. Must be idempotent.
	CloseSession(ctx context.Context, sessionID string) error
}

// ProviderOptions carries the known option schema plus an opaque passthrough
// map for provider-specific fields.
type ProviderOptions struct {
	SystemPrompt string
	Temperature  *float32
	MaxTokens    int
	Timeout      time.Duration
	// SessionID routes the call into an open conversation. Empty means a
	// one-shot call.
	SessionID string
	// Extra holds fields the engine does not interpret.
	Extra map[string]any
}

// ProviderResult is the normalized response of one invocation.
type ProviderResult struct {
	Content string
	// SessionID echoes the conversation the call was recorded into, when any.
	SessionID string
}

// Known option keys recognized by ParseProviderOptions. Anything else is
// passed through in Extra.
const (
	optSystemPrompt = "system_prompt"
	optTemperature  = "temperature"
	optMaxTokens    = "max_tokens"
	optTimeoutSec   = "timeout_s"
)

// ParseProviderOptions validates the known option schema of a step's raw
// option map. Unknown keys are not an error; they travel in Extra.
func ParseProviderOptions(raw map[string]any) (ProviderOptions, error) {
	var opts ProviderOptions
	for k, v := range raw {
		switch k {
		case optSystemPrompt:
			s, err := cast.ToStringE(v)
			if err != nil {
				return opts, Errorf(ErrKindValidation, "option %q: %v", k, err)
			}
			opts.SystemPrompt = s
		case optTemperature:
			f, err := cast.ToFloat32E(v)
			if err != nil {
				return opts, Errorf(ErrKindValidation, "option %q: %v", k, err)
			}
			if f < 0 || f > 2 {
				return opts, Errorf(ErrKindValidation, "option %q out of range: %v", k, f)
			}
			opts.Temperature = &f
		case optMaxTokens:
			n, err := cast.ToIntE(v)
			if err != nil || n < 0 {
				return opts, Errorf(ErrKindValidation, "option %q: not a non-negative integer: %v", k, v)
			}
			opts.MaxTokens = n
		case optTimeoutSec:
			n, err := cast.ToIntE(v)
			if err != nil || n < 0 {
				return opts, Errorf(ErrKindValidation, "option %q: not a non-negative integer: %v", k, v)
			}
			opts.Timeout = time.Duration(n) * time.Second
		default:
			if opts.Extra == nil {
				opts.Extra = map[string]any{}
			}
			opts.Extra[k] = v
		}
	}
	return opts, nil
}

// Registry resolves provider names for one run. It is constructed once and
// passed by reference; there are no ambient globals.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds a registry from resolved clients.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Register adds or replaces a provider.
func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
}

// Get resolves a provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, errors.Errorf("provider %q not registered", name)
	}
	return p, nil
}

// Names lists registered providers, for diagnostics.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	return names
}

// Transform is a local, non-provider step body. It receives the resolved
// prompt text and the current context and returns the step output.
type Transform func(ctx context.Context, input string, ec *ExecutionContext) (string, error)

// TransformRegistry resolves transform names declared by transform steps.
type TransformRegistry map[string]Transform

// Get resolves a transform by name.
func (tr TransformRegistry) Get(name string) (Transform, error) {
	t, ok := tr[name]
	if !ok {
		return nil, errors.Errorf("transform %q not registered", name)
	}
	return t, nil
}
