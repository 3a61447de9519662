package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpilot-ai/agentd/pkg/events"
	"github.com/docpilot-ai/agentd/pkg/models"
)

func newTestController(llm LLMClient, emitter Emitter) *Controller {
	return NewController(llm, emitter, ControllerConfig{
		Model:         "test-model",
		MaxTokens:     1024,
		MaxIterations: 10,
		WriteStagger:  time.Millisecond,
	})
}

func userMemory(text string) *models.Memory {
	mem := &models.Memory{}
	mem.Append(models.TextMessage(models.RoleUser, text))
	return mem
}

func TestRun_FinalAnswer(t *testing.T) {
	llm := &fakeLLM{turns: [][]Chunk{
		{
			ThinkingChunk{Content: "the user greeted me"},
			ThinkingChunk{Final: true, Signature: "sig1"},
			TextChunk{Content: "Hello"},
			TextChunk{Content: " there"},
			UsageChunk{Usage: events.UsageTotals{InputTokens: 10, OutputTokens: 5}},
		},
	}}
	emitter := &captureEmitter{}
	c := newTestController(llm, emitter)

	result, err := c.Run(context.Background(), RunInput{
		Memory:   userMemory("hi"),
		Executor: &stubExecutor{},
		Prompt:   testPrompt(),
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello there", result.FinalAnswer)
	assert.False(t, result.Cancelled)
	assert.Equal(t, 1, result.Iterations)
	assert.Equal(t, 10, result.Usage.Total.InputTokens)

	steps := emitter.steps()
	require.NotEmpty(t, steps)
	final := steps[len(steps)-1]
	assert.Equal(t, events.StepFinalAnswer, final.Type)
	assert.True(t, final.IsFinal)
	assert.False(t, final.IsStreaming)
	assert.Equal(t, "Hello there", final.Content)

	// Streaming thinking and text events share the step number.
	for _, step := range steps[:len(steps)-1] {
		assert.True(t, step.IsStreaming)
		assert.Equal(t, final.StepNumber, step.StepNumber)
	}

	// Memory gained assistant turn with thinking signature preserved.
	last := result.Memory.Messages[len(result.Memory.Messages)-1]
	assert.Equal(t, models.RoleAssistant, last.Role)
	assert.Equal(t, "sig1", last.Blocks[0].ThinkingSignature)
	assert.Equal(t, 10, last.InputTokens, "per-message token counts come from the turn's usage")
	assert.Equal(t, 5, last.OutputTokens)
}

func TestRun_ParallelToolsPairingAndOrder(t *testing.T) {
	llm := &fakeLLM{turns: [][]Chunk{
		{
			toolCallChunk("call_1", "get_queue", `{"queue_id":1}`),
			toolCallChunk("call_2", "get_queue", `{"queue_id":2}`),
			UsageChunk{Usage: events.UsageTotals{InputTokens: 20, OutputTokens: 8}},
		},
		{
			TextChunk{Content: "Both queues look healthy."},
			UsageChunk{Usage: events.UsageTotals{InputTokens: 30, OutputTokens: 9}},
		},
	}}
	emitter := &captureEmitter{}
	c := newTestController(llm, emitter)

	executor := &stubExecutor{
		defs: []ToolDefinition{{Name: "get_queue", ReadOnly: true, Category: "queues"}},
	}

	result, err := c.Run(context.Background(), RunInput{
		Memory:   userMemory("check queues 1 and 2"),
		Executor: executor,
		Prompt:   testPrompt(),
	})
	require.NoError(t, err)
	assert.Equal(t, "Both queues look healthy.", result.FinalAnswer)

	steps := emitter.steps()
	var starts, results []events.StepEvent
	lastStep := 0
	for _, step := range steps {
		assert.GreaterOrEqual(t, step.StepNumber, lastStep, "step numbers must be non-decreasing")
		lastStep = step.StepNumber
		switch step.Type {
		case events.StepToolStart:
			starts = append(starts, step)
		case events.StepToolResult:
			results = append(results, step)
			assert.Empty(t, starts[len(starts)-1].Result)
		}
	}
	require.Len(t, starts, 2)
	require.Len(t, results, 2)

	// Both starts precede either result.
	firstResultIdx := -1
	lastStartIdx := -1
	for i, step := range steps {
		if step.Type == events.StepToolStart {
			lastStartIdx = i
		}
		if step.Type == events.StepToolResult && firstResultIdx == -1 {
			firstResultIdx = i
		}
	}
	assert.Less(t, lastStartIdx, firstResultIdx)

	// Every start pairs with exactly one result by tool_call_id.
	resultIDs := map[string]int{}
	for _, step := range results {
		resultIDs[step.ToolCallID]++
	}
	for _, step := range starts {
		assert.Equal(t, 1, resultIDs[step.ToolCallID])
	}

	// Results folded into memory in input order before the next model call.
	secondReq := llm.requests[1]
	var toolMsgs []models.Message
	for _, msg := range secondReq.Messages {
		if msg.Role == models.RoleTool {
			toolMsgs = append(toolMsgs, msg)
		}
	}
	require.Len(t, toolMsgs, 2)
	assert.Equal(t, "call_1", toolMsgs[0].Blocks[0].ToolCallID)
	assert.Equal(t, "call_2", toolMsgs[1].Blocks[0].ToolCallID)
}

func TestRun_ToolErrorIsDataNotControlFlow(t *testing.T) {
	llm := &fakeLLM{turns: [][]Chunk{
		{toolCallChunk("call_1", "get_queue", `{"queue_id":404}`)},
		{TextChunk{Content: "Queue 404 does not exist."}},
	}}
	emitter := &captureEmitter{}
	c := newTestController(llm, emitter)

	executor := &stubExecutor{
		defs: []ToolDefinition{{Name: "get_queue", ReadOnly: true}},
		execute: func(_ context.Context, call ToolCall) ToolResult {
			return ToolResult{CallID: call.ID, Name: call.Name, Content: "not found", IsError: true}
		},
	}

	result, err := c.Run(context.Background(), RunInput{
		Memory:   userMemory("check queue 404"),
		Executor: executor,
		Prompt:   testPrompt(),
	})
	require.NoError(t, err)
	assert.Equal(t, "Queue 404 does not exist.", result.FinalAnswer)

	var sawErrorResult, sawErrorStep bool
	for _, step := range emitter.steps() {
		if step.Type == events.StepToolResult && step.IsError {
			sawErrorResult = true
		}
		if step.Type == events.StepError {
			sawErrorStep = true
		}
	}
	assert.True(t, sawErrorResult, "tool failure surfaces as tool_result with is_error")
	assert.False(t, sawErrorStep, "tool failure must not terminate the run")
}

func TestRun_ReadOnlyRefusalStopsTheLoop(t *testing.T) {
	llm := &fakeLLM{turns: [][]Chunk{
		{toolCallChunk("call_1", "patch_schema", `{"schema_id":1}`)},
		{TextChunk{Content: "never reached"}},
	}}
	emitter := &captureEmitter{}
	c := newTestController(llm, emitter)

	executor := &stubExecutor{
		execute: func(_ context.Context, call ToolCall) ToolResult {
			return ToolResult{
				CallID:  call.ID,
				Name:    call.Name,
				Content: `tool "patch_schema" performs writes and the chat is read-only`,
				IsError: true,
				Refusal: true,
			}
		},
	}

	result, err := c.Run(context.Background(), RunInput{
		Memory:   userMemory("rename my schema"),
		Executor: executor,
		Prompt:   testPrompt(),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, llm.requestCount(), "the loop must not iterate against a closed gate")
	assert.Contains(t, result.FinalAnswer, "read-only")

	steps := emitter.steps()
	require.NotEmpty(t, steps)
	last := steps[len(steps)-1]
	assert.Equal(t, events.StepFinalAnswer, last.Type)
	assert.True(t, last.IsFinal)
	assert.Contains(t, last.Content, "No changes were made")

	// The warning lands in memory after the refused tool result.
	msgs := result.Memory.Messages
	assert.Equal(t, models.RoleAssistant, msgs[len(msgs)-1].Role)
	assert.Equal(t, models.RoleTool, msgs[len(msgs)-2].Role)
}

func TestRun_CancellationIsSilent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	llm := &fakeLLM{turns: [][]Chunk{{TextChunk{Content: "never delivered"}}}}
	emitter := &captureEmitter{}
	c := newTestController(llm, emitter)

	result, err := c.Run(ctx, RunInput{
		Memory:   userMemory("hi"),
		Executor: &stubExecutor{},
		Prompt:   testPrompt(),
	})
	require.NoError(t, err)
	assert.True(t, result.Cancelled)

	for _, step := range emitter.steps() {
		assert.NotEqual(t, events.StepError, step.Type)
		assert.NotEqual(t, events.StepFinalAnswer, step.Type)
	}
}

func TestRun_TransientStreamFailureRetries(t *testing.T) {
	llm := &fakeLLM{turns: [][]Chunk{
		{ErrorChunk{Message: "overloaded", Retryable: true}},
		{TextChunk{Content: "Recovered."}},
	}}
	emitter := &captureEmitter{}
	c := newTestController(llm, emitter)

	result, err := c.Run(context.Background(), RunInput{
		Memory:   userMemory("hi"),
		Executor: &stubExecutor{},
		Prompt:   testPrompt(),
	})
	require.NoError(t, err)
	assert.Equal(t, "Recovered.", result.FinalAnswer)
	assert.Equal(t, 2, llm.requestCount())

	// Retry context folded into the conversation as a user turn.
	secondReq := llm.requests[1]
	retryMsg := secondReq.Messages[len(secondReq.Messages)-1]
	assert.Equal(t, models.RoleUser, retryMsg.Role)
	assert.Contains(t, retryMsg.FirstText(), "failed before completing")
}

func TestRun_NonRetryableFailureEmitsTerminalError(t *testing.T) {
	llm := &fakeLLM{turns: [][]Chunk{
		{ErrorChunk{Message: "invalid_request", Retryable: false}},
	}}
	emitter := &captureEmitter{}
	c := newTestController(llm, emitter)

	_, err := c.Run(context.Background(), RunInput{
		Memory:   userMemory("hi"),
		Executor: &stubExecutor{},
		Prompt:   testPrompt(),
	})
	require.Error(t, err)

	steps := emitter.steps()
	require.NotEmpty(t, steps)
	last := steps[len(steps)-1]
	assert.Equal(t, events.StepError, last.Type)
	assert.True(t, last.IsFinal)
}

func TestRun_ForceConclusionAtIterationCap(t *testing.T) {
	llm := &fakeLLM{turns: [][]Chunk{
		{toolCallChunk("call_1", "get_queue", `{}`)},
		{toolCallChunk("call_2", "get_queue", `{}`)},
		{TextChunk{Content: "Partial findings: queue healthy."}},
	}}
	emitter := &captureEmitter{}
	c := NewController(llm, emitter, ControllerConfig{
		Model:         "test-model",
		MaxTokens:     1024,
		MaxIterations: 2,
	})

	executor := &stubExecutor{defs: []ToolDefinition{{Name: "get_queue", ReadOnly: true}}}
	result, err := c.Run(context.Background(), RunInput{
		Memory:   userMemory("dig into the queue"),
		Executor: executor,
		Prompt:   testPrompt(),
	})
	require.NoError(t, err)
	assert.Equal(t, "Partial findings: queue healthy.", result.FinalAnswer)

	// Conclusion call goes out without tools.
	lastReq := llm.requests[len(llm.requests)-1]
	assert.Empty(t, lastReq.Tools)
}

func TestRun_WriteStaggerSameCategory(t *testing.T) {
	llm := &fakeLLM{turns: [][]Chunk{
		{
			toolCallChunk("call_1", "patch_schema", `{"schema_id":1}`),
			toolCallChunk("call_2", "patch_schema", `{"schema_id":1}`),
		},
		{TextChunk{Content: "Patched."}},
	}}
	emitter := &captureEmitter{}
	c := NewController(llm, emitter, ControllerConfig{
		Model:         "test-model",
		MaxTokens:     1024,
		MaxIterations: 5,
		WriteStagger:  80 * time.Millisecond,
	})

	var mu sync.Mutex
	var dispatchTimes []time.Time
	executor := &stubExecutor{
		defs: []ToolDefinition{{Name: "patch_schema", ReadOnly: false, Category: "schemas"}},
		execute: func(_ context.Context, call ToolCall) ToolResult {
			mu.Lock()
			dispatchTimes = append(dispatchTimes, time.Now())
			mu.Unlock()
			return ToolResult{CallID: call.ID, Name: call.Name, Content: "{}"}
		},
	}

	_, err := c.Run(context.Background(), RunInput{
		Memory:   userMemory("patch twice"),
		Executor: executor,
		Prompt:   testPrompt(),
	})
	require.NoError(t, err)
	require.Len(t, dispatchTimes, 2)

	gap := dispatchTimes[1].Sub(dispatchTimes[0])
	if gap < 0 {
		gap = -gap
	}
	assert.GreaterOrEqual(t, gap, 60*time.Millisecond,
		"same-category writes must be staggered")
}
