package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/docpilot-ai/agentd/pkg/events"
)

// fakeLLM replays scripted chunk sequences, one per Stream call.
type fakeLLM struct {
	mu       sync.Mutex
	turns    [][]Chunk
	requests []*LLMRequest
}

func (f *fakeLLM) Stream(_ context.Context, req *LLMRequest) (<-chan Chunk, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	if len(f.turns) == 0 {
		f.mu.Unlock()
		return nil, fmt.Errorf("fakeLLM: no scripted turns left")
	}
	turn := f.turns[0]
	f.turns = f.turns[1:]
	f.mu.Unlock()

	ch := make(chan Chunk, len(turn))
	for _, chunk := range turn {
		ch <- chunk
	}
	close(ch)
	return ch, nil
}

func (f *fakeLLM) Complete(context.Context, string, string, string, int) (string, error) {
	return "ok", nil
}

func (f *fakeLLM) Close() error { return nil }

func (f *fakeLLM) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// stubExecutor serves a fixed definition list and a per-test Execute hook.
type stubExecutor struct {
	defs    []ToolDefinition
	execute func(ctx context.Context, call ToolCall) ToolResult
}

func (s *stubExecutor) Definitions(context.Context) ([]ToolDefinition, error) {
	return s.defs, nil
}

func (s *stubExecutor) Execute(ctx context.Context, call ToolCall) ToolResult {
	if s.execute != nil {
		return s.execute(ctx, call)
	}
	return ToolResult{CallID: call.ID, Name: call.Name, Content: "{}"}
}

// captureEmitter records emitted events in order.
type captureEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *captureEmitter) Emit(ev events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureEmitter) all() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *captureEmitter) steps() []events.StepEvent {
	var steps []events.StepEvent
	for _, ev := range c.all() {
		if step, ok := ev.(events.StepEvent); ok {
			steps = append(steps, step)
		}
	}
	return steps
}

func toolCallChunk(id, name, args string) ToolCallChunk {
	return ToolCallChunk{CallID: id, Name: name, Arguments: json.RawMessage(args)}
}

func testPrompt() func() PromptInput {
	return func() PromptInput { return PromptInput{} }
}
