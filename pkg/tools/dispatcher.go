package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docpilot-ai/agentd/pkg/agent"
	"github.com/docpilot-ai/agentd/pkg/config"
	"github.com/docpilot-ai/agentd/pkg/mcp"
	"github.com/docpilot-ai/agentd/pkg/models"
	"github.com/docpilot-ai/agentd/pkg/session"
	"github.com/docpilot-ai/agentd/pkg/tracking"
)

// Compile-time check that Dispatcher implements agent.ToolExecutor.
var _ agent.ToolExecutor = (*Dispatcher)(nil)

const (
	// gatewayMaxAttempts bounds retries of transient downstream failures
	// (precondition conflicts, throttling, server errors) per tool call.
	gatewayMaxAttempts = 5

	// gatewayBackoffUnit scales linearly with the attempt number.
	gatewayBackoffUnit = 500 * time.Millisecond
)

// DispatcherConfig tunes one chat run's tool runtime.
type DispatcherConfig struct {
	ChatID     string
	Mode       config.Mode
	OutputRoot string
	SkillsDir  string

	SubAgentModel         string
	SubAgentMaxTokens     int
	SubAgentMaxIterations int
}

// Dispatcher is the per-run tool runtime: it assembles the visible schema
// from builtins plus loaded catalog categories, validates arguments, applies
// the read-only gate, and routes calls to builtin handlers, sub-agents, or
// the gateway with change tracking wrapped around every downstream call.
type Dispatcher struct {
	cfg     DispatcherConfig
	state   *session.RunState
	gateway Gateway

	recorder  *tracking.Recorder
	committer *tracking.Committer
	reverter  *tracking.Reverter
	store     tracking.Store

	llm     agent.LLMClient
	emitter agent.Emitter
	usage   *agent.UsageRecorder

	cache    catalogCache
	valid    *validator
	builtins map[string]builtinTool
	logger   *slog.Logger

	retryAttempts int
	retryBackoff  time.Duration
}

func NewDispatcher(
	cfg DispatcherConfig,
	state *session.RunState,
	gateway Gateway,
	store tracking.Store,
	llm agent.LLMClient,
	emitter agent.Emitter,
	usage *agent.UsageRecorder,
) *Dispatcher {
	d := &Dispatcher{
		cfg:       cfg,
		state:     state,
		gateway:   gateway,
		recorder:  tracking.NewRecorder(cfg.ChatID, store, gateway),
		committer: tracking.NewCommitter(store, llm, cfg.SubAgentModel),
		store:     store,
		llm:       llm,
		emitter:   emitter,
		usage:     usage,
		valid:     newValidator(),
		logger:    slog.Default().With("component", "tools", "chat_id", cfg.ChatID),

		retryAttempts: gatewayMaxAttempts,
		retryBackoff:  gatewayBackoffUnit,
	}
	d.reverter = tracking.NewReverter(store, gateway, d.committer)
	d.builtins = builtinTools(d)
	return d
}

// Definitions returns the schema visible to the main agent: builtins plus
// the loaded categories, with write tools stripped in read-only mode and
// hidden tools always excluded.
func (d *Dispatcher) Definitions(ctx context.Context) ([]agent.ToolDefinition, error) {
	readOnly := d.cfg.Mode == config.ModeReadOnly

	var defs []agent.ToolDefinition
	for _, name := range builtinOrder {
		b := d.builtins[name]
		if readOnly && !b.def.ReadOnly {
			continue
		}
		defs = append(defs, b.def)
	}

	catalog, err := d.cache.get(ctx, d.gateway)
	if err != nil {
		return nil, fmt.Errorf("load tool catalog: %w", err)
	}
	for _, desc := range catalog.ForCategories(d.state.LoadedCategories()) {
		if readOnly && !desc.ReadOnly {
			continue
		}
		defs = append(defs, desc.ToolDefinition)
	}
	return defs, nil
}

// Execute routes one tool call. All failures are folded into the result.
func (d *Dispatcher) Execute(ctx context.Context, call agent.ToolCall) agent.ToolResult {
	if b, ok := d.builtins[call.Name]; ok {
		return d.executeBuiltin(ctx, call, b)
	}

	catalog, err := d.cache.get(ctx, d.gateway)
	if err != nil {
		return errorResult(call, fmt.Sprintf("tool catalog unavailable: %s", err))
	}
	desc, ok := catalog.Lookup(call.Name)
	if !ok || desc.Hidden {
		return errorResult(call, fmt.Sprintf(
			"tool %q not found; use list_tool_categories and load_tool_category to discover tools", call.Name))
	}
	if !d.state.HasCategory(desc.Category) {
		return errorResult(call, fmt.Sprintf(
			"tool %q belongs to category %q, which is not loaded; call load_tool_category first",
			call.Name, desc.Category))
	}
	return d.executeGateway(ctx, call, desc)
}

func (d *Dispatcher) executeBuiltin(ctx context.Context, call agent.ToolCall, b builtinTool) agent.ToolResult {
	if d.cfg.Mode == config.ModeReadOnly && !b.def.ReadOnly {
		return refusalResult(call, fmt.Sprintf("tool %q is unavailable in read-only mode", call.Name))
	}
	if err := d.valid.validate(call.Name, b.def.InputSchema, call.Arguments); err != nil {
		return errorResult(call, err.Error())
	}
	args, err := mcp.DecodeArguments(call.Arguments)
	if err != nil {
		return errorResult(call, err.Error())
	}

	content, err := b.run(ctx, args)
	if err != nil {
		return errorResult(call, err.Error())
	}
	return agent.ToolResult{CallID: call.ID, Name: call.Name, Content: content}
}

// executeGateway dispatches a catalog tool with the change recorder wrapped
// around the call. Shared with the sub-agent subset executor.
func (d *Dispatcher) executeGateway(ctx context.Context, call agent.ToolCall, desc Descriptor) agent.ToolResult {
	if d.cfg.Mode == config.ModeReadOnly && !desc.ReadOnly {
		// Second layer of the gate: write tools are excluded from the
		// schema, and refused here if requested anyway.
		return refusalResult(call, fmt.Sprintf("tool %q performs writes and the chat is read-only", call.Name))
	}
	if err := d.valid.validate(call.Name, desc.InputSchema, call.Arguments); err != nil {
		return errorResult(call, err.Error())
	}
	args, err := mcp.DecodeArguments(call.Arguments)
	if err != nil {
		return errorResult(call, err.Error())
	}

	content, isError, err := d.recorder.Observe(ctx, call.Name, args, func(ctx context.Context) (string, bool, error) {
		return d.callGateway(ctx, call.Name, args)
	})
	if err != nil {
		return errorResult(call, fmt.Sprintf("tool execution failed: %s", err))
	}
	return agent.ToolResult{CallID: call.ID, Name: call.Name, Content: content, IsError: isError}
}

// callGateway invokes a downstream tool, retrying transient failures (412
// precondition conflicts, 429 throttling, 5xx) with linear backoff. Writes
// re-read the target entity before each retry so the re-applied change is
// conditioned on fresh state.
func (d *Dispatcher) callGateway(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	var (
		content string
		isError bool
		err     error
	)
	for attempt := 0; attempt < d.retryAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * d.retryBackoff
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", false, ctx.Err()
			}
			if et, id, ok := tracking.WriteTarget(name, args); ok {
				_, _, _ = d.gateway.Call(ctx, "get_"+et, map[string]any{et + "_id": id})
			}
		}
		content, isError, err = d.gateway.Call(ctx, name, args)
		if err != nil || !isError || !tracking.IsTransientFailure(content) {
			return content, isError, err
		}
		d.logger.Info("transient downstream failure, retrying",
			"tool", name, "attempt", attempt+1, "error", content)
	}
	return content, isError, err
}

// FlushCommit turns any pending recorded changes into a commit. Called when
// the iteration loop completes; a cancelled run never reaches it.
func (d *Dispatcher) FlushCommit(ctx context.Context, userRequest string) (*models.ConfigCommit, error) {
	changes, author := d.recorder.Drain()
	if len(changes) == 0 {
		return nil, nil
	}
	return d.committer.Commit(ctx, d.cfg.ChatID, author, userRequest, changes)
}

// PreloadCategories scans the user's first message and loads the categories
// its keywords point at, so the first model call already sees their tools.
func (d *Dispatcher) PreloadCategories(message string) []string {
	matched := KeywordCategories(message)
	if len(matched) > 0 {
		d.state.LoadCategories(matched...)
	}
	return matched
}

func errorResult(call agent.ToolCall, msg string) agent.ToolResult {
	return agent.ToolResult{CallID: call.ID, Name: call.Name, Content: msg, IsError: true}
}

func refusalResult(call agent.ToolCall, msg string) agent.ToolResult {
	res := errorResult(call, msg)
	res.Refusal = true
	return res
}
