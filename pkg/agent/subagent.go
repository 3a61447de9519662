package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docpilot-ai/agentd/pkg/events"
	"github.com/docpilot-ai/agentd/pkg/models"
)

// SubAgentConfig tunes one nested agent loop.
type SubAgentConfig struct {
	// ToolName is the parent tool the sub-agent runs under; progress and
	// token usage are reported against it.
	ToolName      string
	System        string
	Model         string
	MaxTokens     int
	MaxIterations int
}

// SubAgent is a bounded nested agent loop invoked from inside a tool. It
// has its own memory and tool subset, never the parent's, and reports
// progress through the parent's emitter tagged with the parent tool name.
type SubAgent struct {
	llm     LLMClient
	emitter Emitter
	usage   *UsageRecorder
	cfg     SubAgentConfig
	logger  *slog.Logger
}

// NewSubAgent creates a sub-agent that records usage into the parent run's
// recorder.
func NewSubAgent(llm LLMClient, emitter Emitter, usage *UsageRecorder, cfg SubAgentConfig) *SubAgent {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 5
	}
	return &SubAgent{
		llm:     llm,
		emitter: emitter,
		usage:   usage,
		cfg:     cfg,
		logger:  slog.With("component", "agent.SubAgent", "tool", cfg.ToolName),
	}
}

// Run drives the nested loop on a fresh memory seeded with task. The
// context should already carry the sub-agent timeout; cancellation of the
// parent run propagates through it.
func (s *SubAgent) Run(ctx context.Context, task string, executor ToolExecutor) (string, error) {
	memory := &models.Memory{}
	memory.Append(models.TextMessage(models.RoleUser, task))

	for iteration := 1; iteration <= s.cfg.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		s.emitter.Emit(events.SubAgentProgressEvent{
			ToolName:  s.cfg.ToolName,
			Iteration: iteration,
			MaxIter:   s.cfg.MaxIterations,
		})

		defs, err := executor.Definitions(ctx)
		if err != nil {
			return "", fmt.Errorf("sub-agent %s: list tools: %w", s.cfg.ToolName, err)
		}

		ch, err := s.llm.Stream(ctx, &LLMRequest{
			Model:     s.cfg.Model,
			System:    s.cfg.System,
			Messages:  Fold(memory),
			Tools:     defs,
			MaxTokens: s.cfg.MaxTokens,
			Cache:     true,
		})
		if err != nil {
			return "", fmt.Errorf("sub-agent %s: %w", s.cfg.ToolName, err)
		}

		iterNum := iteration
		resp, err := collectStream(ctx, ch, func(kind ChunkType, accumulated string) {
			if kind == ChunkTypeText {
				s.emitter.Emit(events.SubAgentTextEvent{
					ToolName:  s.cfg.ToolName,
					Iteration: iterNum,
					Content:   accumulated,
				})
			}
		})
		if err != nil {
			return "", fmt.Errorf("sub-agent %s: %w", s.cfg.ToolName, err)
		}
		s.usage.RecordSubAgent(s.cfg.ToolName, resp.Usage)

		memory.Append(assistantMessage(resp))

		if len(resp.ToolCalls) == 0 {
			return resp.Text, nil
		}

		// Sub-agent tool subsets are small; calls run sequentially.
		for _, call := range resp.ToolCalls {
			res := executor.Execute(ctx, call)
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
	}

	s.logger.Warn("Sub-agent hit iteration limit")
	return "", fmt.Errorf("sub-agent %s: no conclusion within %d iterations",
		s.cfg.ToolName, s.cfg.MaxIterations)
}
