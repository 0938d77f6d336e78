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

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"
	"github.com/pkg/errors"

	"github.com/cloudwego/promptpipe/internal/utils"
	"github.com/cloudwego/promptpipe/llm/log"
	"github.com/cloudwego/promptpipe/pipeline"
)

// AgentClient is a tool-calling provider: each invocation runs a react
// agent that may call its tools before producing the final answer. Useful
// for steps whose prompt needs external lookups (e.g. MCP-served tools).
type AgentClient struct {
	name  string
	agent *react.Agent
}

var _ pipeline.Provider = (*AgentClient)(nil)

// AgentClientConfig configures an AgentClient.
type AgentClientConfig struct {
	SysPrompt string
	Tools     []tool.BaseTool
	// MaxSteps caps agent iterations per invocation.
	MaxSteps int
}

// NewAgentClient wires a chat model and tools into a react agent provider.
func NewAgentClient(ctx context.Context, name string, m ChatModel, cfg AgentClientConfig) (*AgentClient, error) {
	a, err := react.NewAgent(ctx, &react.AgentConfig{
		ToolCallingModel: m,
		ToolsConfig:      compose.ToolsNodeConfig{Tools: cfg.Tools},
		MaxStep:          cfg.MaxSteps,
		MessageModifier:  newMessageModifier(cfg.SysPrompt, name, cfg.MaxSteps),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "new react agent %s", name)
	}
	return &AgentClient{name: name, agent: a}, nil
}

func newMessageModifier(sysPrompt string, name string, limit int) func(ctx context.Context, input []*schema.Message) []*schema.Message {
	return func(ctx context.Context, input []*schema.Message) []*schema.Message {
		log.Debug("newMessageModifier, name: %v, limit: %d, input: %v", name, limit, len(input))
		if limit > 0 && len(input) >= limit-1 {
			input = append(input, schema.UserMessage("The iteration limit has been reached. Produce your final answer now; do not call any more tools."))
		}
		return appendSysPrompt(sysPrompt, input)
	}
}

func appendSysPrompt(sysPrompt string, input []*schema.Message) []*schema.Message {
	res := make([]*schema.Message, 0, len(input)+1)
	res = append(res, schema.SystemMessage(sysPrompt))
	res = append(res, input...)
	return res
}

// Name implements pipeline.Provider.
func (a *AgentClient) Name() string { return a.name }

// Invoke implements pipeline.Provider. One attempt; the pipeline's retry
// policy owns the retry loop.
func (a *AgentClient) Invoke(ctx context.Context, prompt string, opts pipeline.ProviderOptions) (*pipeline.ProviderResult, error) {
	log.Debug("[User] %s", prompt)
	inputMsgs := []*schema.Message{schema.UserMessage(prompt)}
	out, err := a.agent.Generate(ctx, inputMsgs, agent.WithComposeOptions(compose.WithCallbacks(CallbackHandler{})))
	if err != nil {
		return nil, utils.WrapErrorf(err, "agent %s generate", a.name)
	}
	return &pipeline.ProviderResult{Content: out.Content}, nil
}

// CallbackHandler traces agent execution through the engine logger.
type CallbackHandler struct{}

var _ callbacks.Handler = (*CallbackHandler)(nil)

func (h CallbackHandler) OnStart(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
	log.Debug("<OnStart>\n\tINFO: %+v\n</OnStart>", info)
	return ctx
}

func (h CallbackHandler) OnEnd(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
	log.Debug("<OnEnd>\n\tINFO %+v\n\tOUTPUT: %v\n</OnEnd>", info, output)
	return ctx
}

func (h CallbackHandler) OnError(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
	log.Error("<OnError>\n\tINFO: %+v\n\tERROR: %v\n</OnError>", info, err)
	return ctx
}

func (h CallbackHandler) OnStartWithStreamInput(ctx context.Context, info *callbacks.RunInfo,
	input *schema.StreamReader[callbacks.CallbackInput]) context.Context {
	return ctx
}

func (h CallbackHandler) OnEndWithStreamOutput(ctx context.Context, info *callbacks.RunInfo,
	output *schema.StreamReader[callbacks.CallbackOutput]) context.Context {
	return ctx
}
