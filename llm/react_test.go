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
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/pkg/errors"

	"github.com/cloudwego/promptpipe/pipeline"
)

// scriptedModel answers each Generate call from a script, so tests can walk
// the agent through tool-call rounds.
type scriptedModel struct {
	mu     sync.Mutex
	calls  [][]*schema.Message
	script func(call int, msgs []*schema.Message) (*schema.Message, error)
}

var _ ChatModel = (*scriptedModel)(nil)

func (m *scriptedModel) Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	cp := make([]*schema.Message, len(in))
	copy(cp, in)
	m.calls = append(m.calls, cp)
	call := len(m.calls)
	m.mu.Unlock()
	return m.script(call, cp)
}

func (m *scriptedModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not supported")
}

func (m *scriptedModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

func (m *scriptedModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *scriptedModel) call(i int) []*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[i]
}

// lookupTool is a minimal invokable tool for agent tests.
type lookupTool struct {
	mu   sync.Mutex
	args []string
}

var _ einotool.InvokableTool = (*lookupTool)(nil)

func (*lookupTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "lookup",
		Desc: "looks up a fact by query",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {Type: schema.String, Desc: "what to look up", Required: true},
		}),
	}, nil
}

func (lt *lookupTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...einotool.Option) (string, error) {
	lt.mu.Lock()
	lt.args = append(lt.args, argumentsInJSON)
	lt.mu.Unlock()
	return `{"fact":"42"}`, nil
}

func TestAgentClient_DirectAnswer(t *testing.T) {
	ctx := context.Background()
	sm := &scriptedModel{script: func(call int, msgs []*schema.Message) (*schema.Message, error) {
		return schema.AssistantMessage("direct answer", nil), nil
	}}
	a, err := NewAgentClient(ctx, "agent", sm, AgentClientConfig{
		SysPrompt: "you are terse",
		Tools:     []einotool.BaseTool{&lookupTool{}},
		MaxSteps:  5,
	})
	if err != nil {
		t.Fatalf("NewAgentClient: %v", err)
	}
	if a.Name() != "agent" {
		t.Errorf("name: got %q", a.Name())
	}

	out, err := a.Invoke(ctx, "what is it?", pipeline.ProviderOptions{})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.Content != "direct answer" {
		t.Errorf("content: got %q", out.Content)
	}
	if sm.callCount() != 1 {
		t.Fatalf("model calls: got %d, want 1", sm.callCount())
	}
	first := sm.call(0)
	if first[0].Role != schema.System || first[0].Content != "you are terse" {
		t.Errorf("system prompt not prepended: %+v", first[0])
	}
	if first[len(first)-1].Role != schema.User || first[len(first)-1].Content != "what is it?" {
		t.Errorf("user turn: %+v", first[len(first)-1])
	}
}

func TestAgentClient_ToolCallRound(t *testing.T) {
	ctx := context.Background()
	lt := &lookupTool{}
	sm := &scriptedModel{script: func(call int, msgs []*schema.Message) (*schema.Message, error) {
		if call == 1 {
			return schema.AssistantMessage("", []schema.ToolCall{{
				ID: "call-1",
				Function: schema.FunctionCall{
					Name:      "lookup",
					Arguments: `{"query":"the answer"}`,
				},
			}}), nil
		}
		// The tool result must be in the transcript by the second round.
		last := msgs[len(msgs)-1]
		if last.Role != schema.Tool || !strings.Contains(last.Content, "42") {
			return nil, errors.Errorf("tool result missing from transcript: %+v", last)
		}
		return schema.AssistantMessage("the fact is 42", nil), nil
	}}
	a, err := NewAgentClient(ctx, "agent", sm, AgentClientConfig{
		SysPrompt: "use your tools",
		Tools:     []einotool.BaseTool{lt},
		MaxSteps:  5,
	})
	if err != nil {
		t.Fatalf("NewAgentClient: %v", err)
	}

	out, err := a.Invoke(ctx, "look it up", pipeline.ProviderOptions{})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.Content != "the fact is 42" {
		t.Errorf("content: got %q", out.Content)
	}
	if sm.callCount() != 2 {
		t.Errorf("model calls: got %d, want 2", sm.callCount())
	}
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if len(lt.args) != 1 || lt.args[0] != `{"query":"the answer"}` {
		t.Errorf("tool arguments: got %v", lt.args)
	}
}

func TestMessageModifier_IterationLimit(t *testing.T) {
	ctx := context.Background()
	mod := newMessageModifier("sys", "agent", 3)

	short := mod(ctx, []*schema.Message{schema.UserMessage("q")})
	if len(short) != 2 || short[0].Role != schema.System {
		t.Fatalf("short input: %+v", short)
	}

	long := mod(ctx, []*schema.Message{
		schema.UserMessage("q"),
		schema.AssistantMessage("thinking", nil),
	})
	last := long[len(long)-1]
	if last.Role != schema.User || !strings.Contains(last.Content, "final answer") {
		t.Errorf("limit nudge missing: %+v", last)
	}
}
