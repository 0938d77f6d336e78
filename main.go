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

package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/cloudwego/promptpipe/llm"
	"github.com/cloudwego/promptpipe/llm/log"
	"github.com/cloudwego/promptpipe/llm/tool"
	"github.com/cloudwego/promptpipe/pipeline"
	"github.com/cloudwego/promptpipe/store"
)

const Usage = `promptpipe <Action> <Path> [Flags]
Action:
   run          execute the pipeline definition at Path
   resume       resume a checkpointed run of the definition at Path (needs -run-id)
   validate     validate the pipeline definition and exit
Path:
   a JSON pipeline definition file
`

// StringArray collects repeated flag values.
type StringArray []string

func (a *StringArray) String() string { return strings.Join(*a, ",") }

func (a *StringArray) Set(v string) error {
	*a = append(*a, v)
	return nil
}

func main() {
	flags := flag.NewFlagSet("promptpipe", flag.ExitOnError)

	flagHelp := flags.Bool("h", false, "Show help message.")
	flagVerbose := flags.Bool("verbose", false, "Verbose mode.")
	flagModels := flags.String("models", "", "JSON file with model configs to register as providers.")
	flagRunID := flags.String("run-id", "", "Run id; required for resume.")
	flagCheckpointDir := flags.String("checkpoint-dir", "", "Directory for file-based checkpoints.")
	flagSQLite := flags.String("sqlite", "", "SQLite database path for checkpoints (overrides -checkpoint-dir).")
	flagWorkspace := flags.String("workspace", "", "Workspace directory for file prompts and outputs.")
	flagParallelism := flags.Int("parallelism", 4, "Worker bound for parallel groups and batch steps.")
	var flagVars StringArray
	flags.Var(&flagVars, "var", "Global variable as key=value, may repeat.")

	flags.Usage = func() {
		fmt.Fprint(os.Stderr, Usage)
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flags.PrintDefaults()
	}

	if len(os.Args) < 3 {
		flags.Usage()
		os.Exit(2)
	}
	action := os.Args[1]
	defPath := os.Args[2]
	_ = flags.Parse(os.Args[3:])
	if *flagHelp {
		flags.Usage()
		return
	}
	if *flagVerbose {
		log.SetLogLevel(log.DebugLevel)
	}

	def, err := loadDefinition(defPath)
	if err != nil {
		fatal("load definition: %v", err)
	}

	switch action {
	case "validate":
		if err := pipeline.Validate(def); err != nil {
			fatal("invalid definition: %v", err)
		}
		fmt.Printf("definition %q (%d steps) is valid\n", def.Name, len(def.Steps))
		return
	case "run", "resume":
	default:
		flags.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg, err := buildRegistry(ctx, *flagModels)
	if err != nil {
		fatal("build provider registry: %v", err)
	}

	var checkpoints *pipeline.CheckpointManager
	switch {
	case *flagSQLite != "":
		db, err := sql.Open("sqlite", *flagSQLite)
		if err != nil {
			fatal("open sqlite: %v", err)
		}
		defer db.Close()
		st, err := store.NewSQLiteStore(db)
		if err != nil {
			fatal("init sqlite store: %v", err)
		}
		checkpoints = pipeline.NewCheckpointManager(st)
	case *flagCheckpointDir != "":
		st, err := store.NewFileStore(*flagCheckpointDir)
		if err != nil {
			fatal("init file store: %v", err)
		}
		checkpoints = pipeline.NewCheckpointManager(st)
	}

	runID := *flagRunID
	if action == "resume" {
		if runID == "" {
			fatal("resume needs -run-id")
		}
		if checkpoints == nil {
			fatal("resume needs -checkpoint-dir or -sqlite")
		}
	}

	ec, err := pipeline.Execute(ctx, def, reg, pipeline.RunOptions{
		RunID:        runID,
		Vars:         parseVars(flagVars),
		WorkspaceDir: *flagWorkspace,
		Transforms:   pipeline.BuiltinTransforms(),
		Checkpoints:  checkpoints,
		Observer:     pipeline.LoggingObserver{},
		FileWriter:   pipeline.OSFileWriter{},
		Parallelism:  *flagParallelism,
	})
	if err != nil {
		// The partial context is still printed so completed work is visible.
		printContext(ec)
		fatal("%v", err)
	}
	printContext(ec)
}

func loadDefinition(path string) (*pipeline.Definition, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var def pipeline.Definition
	if err := json.Unmarshal(bs, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

// providerConfig is one -models entry. Plain entries become ModelClients;
// entries with an agent section become tool-calling AgentClients fed by an
// MCP server.
type providerConfig struct {
	llm.ModelConfig
	Agent *agentConfig `json:"agent,omitempty"`
}

type agentConfig struct {
	SysPrompt string          `json:"sys_prompt"`
	MaxSteps  int             `json:"max_steps"`
	MCP       *tool.MCPConfig `json:"mcp,omitempty"`
}

func buildRegistry(ctx context.Context, modelsPath string) (*pipeline.Registry, error) {
	reg := pipeline.NewRegistry()
	if modelsPath == "" {
		return reg, nil
	}
	bs, err := os.ReadFile(modelsPath)
	if err != nil {
		return nil, err
	}
	var configs []providerConfig
	if err := json.Unmarshal(bs, &configs); err != nil {
		return nil, err
	}
	for _, cfg := range configs {
		if cfg.Agent == nil {
			client, err := llm.NewModelClient(ctx, cfg.ModelConfig)
			if err != nil {
				return nil, err
			}
			reg.Register(client)
			continue
		}
		client, err := buildAgentClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		reg.Register(client)
	}
	return reg, nil
}

func buildAgentClient(ctx context.Context, cfg providerConfig) (*llm.AgentClient, error) {
	m, err := llm.NewChatModel(ctx, cfg.ModelConfig)
	if err != nil {
		return nil, err
	}
	agentCfg := llm.AgentClientConfig{
		SysPrompt: cfg.Agent.SysPrompt,
		MaxSteps:  cfg.Agent.MaxSteps,
	}
	if cfg.Agent.MCP != nil {
		mcpCli, err := tool.NewMCPClient(*cfg.Agent.MCP)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", cfg.Name, err)
		}
		if err := mcpCli.Start(ctx); err != nil {
			return nil, fmt.Errorf("provider %s: start mcp: %w", cfg.Name, err)
		}
		tools, err := mcpCli.GetTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("provider %s: list mcp tools: %w", cfg.Name, err)
		}
		agentCfg.Tools = tools
	}
	return llm.NewAgentClient(ctx, cfg.Name, m, agentCfg)
}

func parseVars(pairs []string) map[string]any {
	vars := map[string]any{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		vars[k] = v
	}
	return vars
}

func printContext(ec *pipeline.ExecutionContext) {
	if ec == nil {
		return
	}
	out, err := json.MarshalIndent(ec, "", "  ")
	if err != nil {
		log.Error("marshal context: %v", err)
		return
	}
	fmt.Println(string(out))
}
