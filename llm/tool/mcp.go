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

// Package tool sources eino tools for agent-backed providers.
package tool

import (
	"context"
	"errors"

	"github.com/cloudwego/eino/components/tool"
	emcp "github.com/cloudwego/eino-ext/components/tool/mcp"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

type MCPConfig struct {
	Type    MCPType  `json:"type"`
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	Envs    []string `json:"envs,omitempty"`
	SSEURL  string   `json:"sse_url,omitempty"`
}

type MCPType string

const (
	MCPTypeStdio MCPType = "stdio"
	MCPTypeSSE   MCPType = "sse"
)

// MCPClient connects to one MCP server and exposes its tools.
type MCPClient struct {
	cli *client.Client
}

func NewMCPClient(opts MCPConfig) (*MCPClient, error) {
	var cli *client.Client
	var err error
	switch opts.Type {
	case MCPTypeStdio:
		if opts.Command == "" {
			return nil, errors.New("command is empty")
		}
		cli, err = client.NewStdioMCPClient(opts.Command, opts.Envs, opts.Args...)
		if err != nil {
			return nil, err
		}
	case MCPTypeSSE:
		if opts.SSEURL == "" {
			return nil, errors.New("sse url is empty")
		}
		cli, err = client.NewSSEMCPClient(opts.SSEURL)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("unsupported mcp type")
	}
	return &MCPClient{cli: cli}, nil
}

func (c *MCPClient) Start(ctx context.Context) error {
	if err := c.cli.Start(ctx); err != nil {
		return err
	}
	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    "promptpipe",
		Version: "1.0.0",
	}
	_, err := c.cli.Initialize(ctx, initRequest)
	return err
}

// GetTools lists the server's tools as eino tools, ready for an
// AgentClient's tool config.
func (c *MCPClient) GetTools(ctx context.Context) ([]tool.BaseTool, error) {
	return emcp.GetTools(ctx, &emcp.Config{Cli: c.cli})
}

// Close shuts the underlying transport down.
func (c *MCPClient) Close() error {
	return c.cli.Close()
}
