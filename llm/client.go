/**
 * Copyright 2025 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package llm

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/cloudwego/promptpipe/llm/log"
	"github.com/cloudwego/promptpipe/pipeline"
)

// ModelClient adapts an eino chat model to the engine's provider contract.
// The chat APIs behind eino are stateless, so conversational sessions are
// held client-side as transcripts and replayed on every call.
type ModelClient struct {
	name  string
	model ChatModel

	mu       sync.Mutex
	sessions map[string][]*schema.Message
}

var _ pipeline.SessionProvider = (*ModelClient)(nil)

// NewModelClient builds the backend model and wraps it as a provider.
func NewModelClient(ctx context.Context, cfg ModelConfig) (*ModelClient, error) {
	m, err := NewChatModel(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return WrapChatModel(cfg.Name, m), nil
}

// WrapChatModel adapts an already-constructed chat model. Useful for tests
// and for models built elsewhere.
func WrapChatModel(name string, m ChatModel) *ModelClient {
	return &ModelClient{
		name:     name,
		model:    m,
		sessions: map[string][]*schema.Message{},
	}
}

// Name implements pipeline.Provider.
func (c *ModelClient) Name() string { return c.name }

// SupportsSessions implements pipeline.SessionProvider. Transcript replay
// makes every chat model session-capable.
func (c *ModelClient) SupportsSessions() bool { return true }

// OpenSession implements pipeline.SessionProvider.
func (c *ModelClient) OpenSession(ctx context.Context, opts pipeline.ProviderOptions) (string, error) {
	id := uuid.NewString()
	var seed []*schema.Message
	if opts.SystemPrompt != "" {
		seed = append(seed, schema.SystemMessage(opts.SystemPrompt))
	}
	c.mu.Lock()
	c.sessions[id] = seed
	c.mu.Unlock()
	log.Debug("model %s opened session %s", c.name, id)
	return id, nil
}

// CloseSession implements pipeline.SessionProvider. Idempotent.
func (c *ModelClient) CloseSession(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	delete(c.sessions, sessionID)
	c.mu.Unlock()
	return nil
}

// Invoke implements pipeline.Provider.
func (c *ModelClient) Invoke(ctx context.Context, prompt string, opts pipeline.ProviderOptions) (*pipeline.ProviderResult, error) {
	msgs, err := c.buildMessages(prompt, opts)
	if err != nil {
		return nil, err
	}

	var mopts []model.Option
	if opts.Temperature != nil {
		mopts = append(mopts, model.WithTemperature(*opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		mopts = append(mopts, model.WithMaxTokens(opts.MaxTokens))
	}

	log.Debug("[User] %s", prompt)
	out, err := c.model.Generate(ctx, msgs, mopts...)
	if err != nil {
		return nil, errors.Wrapf(err, "model %s generate", c.name)
	}

	if opts.SessionID != "" {
		c.mu.Lock()
		if transcript, ok := c.sessions[opts.SessionID]; ok {
			c.sessions[opts.SessionID] = append(transcript, schema.UserMessage(prompt), out)
		}
		c.mu.Unlock()
	}
	return &pipeline.ProviderResult{Content: out.Content, SessionID: opts.SessionID}, nil
}

// buildMessages assembles system prompt, session transcript, and the user
// turn, in that order.
func (c *ModelClient) buildMessages(prompt string, opts pipeline.ProviderOptions) ([]*schema.Message, error) {
	var msgs []*schema.Message
	if opts.SessionID != "" {
		c.mu.Lock()
		transcript, ok := c.sessions[opts.SessionID]
		c.mu.Unlock()
		if !ok {
			return nil, errors.Errorf("model %s: unknown session %s", c.name, opts.SessionID)
		}
		if opts.SystemPrompt != "" && len(transcript) == 0 {
			msgs = append(msgs, schema.SystemMessage(opts.SystemPrompt))
		}
		msgs = append(msgs, transcript...)
	} else if opts.SystemPrompt != "" {
		msgs = append(msgs, schema.SystemMessage(opts.SystemPrompt))
	}
	msgs = append(msgs, schema.UserMessage(prompt))
	return msgs, nil
}
