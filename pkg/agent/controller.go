package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docpilot-ai/agentd/pkg/events"
	"github.com/docpilot-ai/agentd/pkg/models"
)

// Emitter delivers events to the SSE gateway. Implementations must be safe
// for concurrent use; parallel tool dispatch emits from multiple goroutines.
type Emitter interface {
	Emit(ev events.Event)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(ev events.Event)

func (f EmitterFunc) Emit(ev events.Event) { f(ev) }

// ControllerConfig tunes one Controller.
type ControllerConfig struct {
	Model          string
	MaxTokens      int
	ThinkingBudget int
	MaxIterations  int
	// StreamRetries bounds how many transient stream failures are folded
	// back into the conversation before the run fails.
	StreamRetries int
	// WriteStagger is the dispatch delay between writes that target the
	// same tool category within one parallel batch.
	WriteStagger time.Duration
	ToolTimeout  time.Duration
}

// Controller drives the model/tool iteration loop for one run.
type Controller struct {
	llm     LLMClient
	emitter Emitter
	cfg     ControllerConfig
	usage   *UsageRecorder
	logger  *slog.Logger
}

// NewController creates a controller for a single run.
func NewController(llm LLMClient, emitter Emitter, cfg ControllerConfig) *Controller {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 30
	}
	if cfg.StreamRetries <= 0 {
		cfg.StreamRetries = 2
	}
	if cfg.WriteStagger <= 0 {
		cfg.WriteStagger = 500 * time.Millisecond
	}
	return &Controller{
		llm:     llm,
		emitter: emitter,
		cfg:     cfg,
		usage:   NewUsageRecorder(),
		logger:  slog.With("component", "agent.Controller"),
	}
}

// Usage returns the run's usage recorder. Sub-agent tools record into it.
func (c *Controller) Usage() *UsageRecorder { return c.usage }

// RunInput is one message dispatch.
type RunInput struct {
	// Memory already contains the new user turn.
	Memory   *models.Memory
	Executor ToolExecutor
	// Prompt is re-evaluated each iteration so category loads made by one
	// iteration are visible to the next.
	Prompt func() PromptInput
}

// RunResult is the outcome of a completed (or cancelled) run.
type RunResult struct {
	FinalAnswer string
	Cancelled   bool
	Iterations  int
	Memory      *models.Memory
	Usage       *events.UsageBreakdown
}

// Run executes the iteration loop until final answer, iteration cap,
// cancellation, or unrecoverable error. Tool failures are folded into the
// conversation and never returned as errors; a non-nil error here means the
// run emitted a terminal error step.
func (c *Controller) Run(ctx context.Context, in RunInput) (*RunResult, error) {
	memory := in.Memory
	retries := 0
	step := 0

	for iteration := 1; iteration <= c.cfg.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return c.cancelledResult(memory, iteration), nil
		}
		step++

		defs, err := in.Executor.Definitions(ctx)
		if err != nil {
			return c.failRun(memory, iteration, step, fmt.Errorf("list tools: %w", err))
		}

		resp, err := c.callModel(ctx, memory, in.Prompt(), defs, step)
		if err != nil {
			if ctx.Err() != nil {
				return c.cancelledResult(memory, iteration), nil
			}
			var streamErr *StreamError
			if errors.As(err, &streamErr) && streamErr.Retryable && retries < c.cfg.StreamRetries {
				retries++
				c.logger.Warn("Retrying after transient stream failure",
					"attempt", retries, "error", err)
				memory.Append(models.TextMessage(models.RoleUser, buildRetryMessage(err)))
				continue
			}
			return c.failRun(memory, iteration, step, err)
		}
		c.usage.RecordMain(resp.Usage)

		memory.Append(assistantMessage(resp))

		if len(resp.ToolCalls) == 0 {
			c.emitter.Emit(events.StepEvent{
				Type:       events.StepFinalAnswer,
				StepNumber: step,
				Content:    resp.Text,
				IsFinal:    true,
			})
			return &RunResult{
				FinalAnswer: resp.Text,
				Iterations:  iteration,
				Memory:      memory,
				Usage:       c.usage.Breakdown(),
			}, nil
		}

		results := c.dispatchTools(ctx, in.Executor, defs, resp.ToolCalls, step)
		if ctx.Err() != nil {
			return c.cancelledResult(memory, iteration), nil
		}
		for _, res := range results {
			memory.Append(models.Message{
				Role: models.RoleTool,
				Blocks: []models.ContentBlock{{
					Type:       models.BlockToolResult,
					ToolCallID: res.CallID,
					ToolName:   res.Name,
					Result:     res.Content,
					IsError:    res.IsError,
				}},
				Timestamp: time.Now().UTC(),
			})
		}
		for _, res := range results {
			if res.Refusal {
				return c.stopOnRefusal(memory, iteration, step, res)
			}
		}
	}

	return c.forceConclusion(ctx, memory, step+1)
}

// callModel performs one streaming model call, emitting streaming step
// events for thinking and text as they accumulate.
func (c *Controller) callModel(ctx context.Context, memory *models.Memory, prompt PromptInput, defs []ToolDefinition, step int) (*LLMResponse, error) {
	req := &LLMRequest{
		Model:          c.cfg.Model,
		System:         BuildSystemPrompt(prompt),
		Messages:       Fold(memory),
		Tools:          defs,
		MaxTokens:      c.cfg.MaxTokens,
		ThinkingBudget: c.cfg.ThinkingBudget,
		Cache:          true,
	}
	ch, err := c.llm.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return collectStream(ctx, ch, func(kind ChunkType, accumulated string) {
		stepType := events.StepIntermediate
		if kind == ChunkTypeThinking {
			stepType = events.StepThinking
		}
		c.emitter.Emit(events.StepEvent{
			Type:        stepType,
			StepNumber:  step,
			Content:     accumulated,
			IsStreaming: true,
		})
	})
}

// dispatchTools runs all tool calls of one assistant turn in parallel.
// tool_start events fire at dispatch, tool_result events in completion
// order; the returned slice is in input order for memory folding. Writes
// that share a category are staggered to avoid concurrent-modification
// conflicts downstream.
func (c *Controller) dispatchTools(ctx context.Context, executor ToolExecutor, defs []ToolDefinition, calls []ToolCall, step int) []ToolResult {
	byName := make(map[string]ToolDefinition, len(defs))
	for _, def := range defs {
		byName[def.Name] = def
	}

	// Stagger index per category, counting only writes.
	delays := make([]time.Duration, len(calls))
	writeSeq := make(map[string]int)
	for i, call := range calls {
		def, ok := byName[call.Name]
		if !ok || def.ReadOnly {
			continue
		}
		delays[i] = time.Duration(writeSeq[def.Category]) * c.cfg.WriteStagger
		writeSeq[def.Category]++
	}

	results := make([]ToolResult, len(calls))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	// All tool_start events precede any tool_result.
	total := len(calls)
	for i, call := range calls {
		c.emitter.Emit(events.StepEvent{
			Type:          events.StepToolStart,
			StepNumber:    step,
			ToolName:      call.Name,
			ToolArguments: call.Arguments,
			ToolProgress:  &events.ToolProgress{Current: i + 1, Total: total},
			ToolCallID:    call.ID,
		})
	}

	for i, call := range calls {
		g.Go(func() error {
			if delays[i] > 0 {
				select {
				case <-time.After(delays[i]):
				case <-gctx.Done():
					return gctx.Err()
				}
			}

			callCtx := gctx
			if c.cfg.ToolTimeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(gctx, c.cfg.ToolTimeout)
				defer cancel()
			}
			res := executor.Execute(callCtx, call)

			c.emitter.Emit(events.StepEvent{
				Type:       events.StepToolResult,
				StepNumber: step,
				ToolName:   res.Name,
				Result:     res.Content,
				IsError:    res.IsError,
				ToolCallID: res.CallID,
			})

			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	// Fill any slot lost to cancellation so pairing stays intact upstream.
	for i, call := range calls {
		if results[i].CallID == "" {
			results[i] = ToolResult{
				CallID:  call.ID,
				Name:    call.Name,
				Content: "cancelled before completion",
				IsError: true,
			}
		}
	}
	return results
}

// forceConclusion asks the model for a final answer without tools after the
// iteration cap is hit.
func (c *Controller) forceConclusion(ctx context.Context, memory *models.Memory, step int) (*RunResult, error) {
	memory.Append(models.TextMessage(models.RoleUser,
		"You have reached the iteration limit. Summarize what you found and what remains to be done."))

	req := &LLMRequest{
		Model:     c.cfg.Model,
		System:    "Conclude the conversation for the user. No tools are available.",
		Messages:  Fold(memory),
		MaxTokens: c.cfg.MaxTokens,
	}
	ch, err := c.llm.Stream(ctx, req)
	if err != nil {
		return c.failRun(memory, c.cfg.MaxIterations, step, err)
	}
	resp, err := collectStream(ctx, ch, func(kind ChunkType, accumulated string) {
		if kind == ChunkTypeText {
			c.emitter.Emit(events.StepEvent{
				Type:        events.StepFinalAnswer,
				StepNumber:  step,
				Content:     accumulated,
				IsStreaming: true,
			})
		}
	})
	if err != nil {
		if ctx.Err() != nil {
			return c.cancelledResult(memory, c.cfg.MaxIterations), nil
		}
		return c.failRun(memory, c.cfg.MaxIterations, step, err)
	}
	c.usage.RecordMain(resp.Usage)
	memory.Append(models.TextMessage(models.RoleAssistant, resp.Text))

	c.emitter.Emit(events.StepEvent{
		Type:       events.StepFinalAnswer,
		StepNumber: step,
		Content:    resp.Text,
		IsFinal:    true,
	})
	return &RunResult{
		FinalAnswer: resp.Text,
		Iterations:  c.cfg.MaxIterations,
		Memory:      memory,
		Usage:       c.usage.Breakdown(),
	}, nil
}

// stopOnRefusal ends the run when the read-only gate blocked a write. The
// model already had the refusal folded into memory; the user gets a warning
// step instead of watching the loop iterate against a closed gate.
func (c *Controller) stopOnRefusal(memory *models.Memory, iteration, step int, res ToolResult) (*RunResult, error) {
	warning := fmt.Sprintf(
		"No changes were made: %s. Rerun the chat in read-write mode to make changes.",
		res.Content)
	memory.Append(models.TextMessage(models.RoleAssistant, warning))

	c.logger.Warn("Write attempt blocked in read-only mode", "tool", res.Name)
	c.emitter.Emit(events.StepEvent{
		Type:       events.StepFinalAnswer,
		StepNumber: step,
		Content:    warning,
		IsFinal:    true,
	})
	return &RunResult{
		FinalAnswer: warning,
		Iterations:  iteration,
		Memory:      memory,
		Usage:       c.usage.Breakdown(),
	}, nil
}

func (c *Controller) cancelledResult(memory *models.Memory, iteration int) *RunResult {
	return &RunResult{
		Cancelled:  true,
		Iterations: iteration,
		Memory:     memory,
		Usage:      c.usage.Breakdown(),
	}
}

// failRun emits the terminal error step and returns the error to the
// gateway, which still emits done.
func (c *Controller) failRun(memory *models.Memory, iteration, step int, err error) (*RunResult, error) {
	c.logger.Error("Run failed", "iteration", iteration, "error", err)
	c.emitter.Emit(events.StepEvent{
		Type:       events.StepError,
		StepNumber: step,
		Content:    err.Error(),
		IsFinal:    true,
	})
	return &RunResult{
		Iterations: iteration,
		Memory:     memory,
		Usage:      c.usage.Breakdown(),
	}, err
}

// assistantMessage folds one model turn into a memory message: thinking,
// visible text, then tool-use blocks, preserving provider order semantics.
func assistantMessage(resp *LLMResponse) models.Message {
	var blocks []models.ContentBlock
	if resp.Thinking != "" {
		blocks = append(blocks, models.ContentBlock{
			Type:              models.BlockThinking,
			Thinking:          resp.Thinking,
			ThinkingSignature: resp.ThinkingSignature,
		})
	}
	if resp.Text != "" {
		blocks = append(blocks, models.ContentBlock{Type: models.BlockText, Text: resp.Text})
	}
	for _, call := range resp.ToolCalls {
		blocks = append(blocks, models.ContentBlock{
			Type:          models.BlockToolCall,
			ToolCallID:    call.ID,
			ToolName:      call.Name,
			ToolArguments: call.Arguments,
		})
	}
	return models.Message{
		Role:         models.RoleAssistant,
		Blocks:       blocks,
		Timestamp:    time.Now().UTC(),
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}
}
