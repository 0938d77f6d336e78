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
	"sync"

	"github.com/google/uuid"

	"github.com/cloudwego/promptpipe/llm/log"
)

// Session is one provider-side conversation, owned by exactly one run.
type Session struct {
	ID       string
	Provider string
	// native reports whether the provider holds the conversation itself.
	// Non-native sessions are inert ids; each call is still one-shot.
	native bool
}

// SessionManager lazily opens sessions for steps that opt in and releases
// them when the run ends. One conversation per provider per run.
type SessionManager struct {
	mu       sync.Mutex
	registry *Registry
	sessions map[string]*Session // provider name -> session
	closed   bool
}

func newSessionManager(reg *Registry) *SessionManager {
	return &SessionManager{registry: reg, sessions: map[string]*Session{}}
}

// acquire returns the run's session for a provider, opening one on first
// use. Providers without native session support get a no-op session.
func (sm *SessionManager) acquire(ctx context.Context, providerName string, opts ProviderOptions) (*Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if s, ok := sm.sessions[providerName]; ok {
		return s, nil
	}
	p, err := sm.registry.Get(providerName)
	if err != nil {
		return nil, err
	}
	s := &Session{Provider: providerName}
	if sp, ok := p.(SessionProvider); ok && sp.SupportsSessions() {
		id, err := sp.OpenSession(ctx, opts)
		if err != nil {
			return nil, err
		}
		s.ID = id
		s.native = true
	} else {
		s.ID = uuid.NewString()
	}
	sm.sessions[providerName] = s
	return s, nil
}

// closeAll releases every open session. Idempotent; close failures are
// logged, not surfaced, since the run outcome is already decided.
func (sm *SessionManager) closeAll(ctx context.Context) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.closed {
		return
	}
	sm.closed = true
	for name, s := range sm.sessions {
		if !s.native {
			continue
		}
		p, err := sm.registry.Get(name)
		if err != nil {
			continue
		}
		if sp, ok := p.(SessionProvider); ok {
			if err := sp.CloseSession(ctx, s.ID); err != nil {
				log.Error("close session %s on provider %s: %v", s.ID, name, err)
			}
		}
	}
	sm.sessions = map[string]*Session{}
}
