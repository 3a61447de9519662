// Package agent drives the LLM tool-use loop: one Controller per in-flight
// message, streaming model output, dispatching tool calls, folding results
// into memory, and accounting tokens.
package agent

import (
	"context"
	"encoding/json"

	"github.com/docpilot-ai/agentd/pkg/events"
	"github.com/docpilot-ai/agentd/pkg/models"
)

// LLMClient is the streaming interface to the model provider.
type LLMClient interface {
	// Stream sends a conversation to the LLM and returns a stream of chunks.
	// The returned channel is closed when the stream completes.
	// Errors are delivered as ErrorChunk values in the channel.
	Stream(ctx context.Context, req *LLMRequest) (<-chan Chunk, error)

	// Complete performs a short non-streaming call (commit messages).
	Complete(ctx context.Context, model, system, user string, maxTokens int) (string, error)

	// Close releases provider resources.
	Close() error
}

// LLMRequest is one model call.
type LLMRequest struct {
	Model     string
	System    string
	Messages  []models.Message
	Tools     []ToolDefinition // nil = no tools
	MaxTokens int
	// ThinkingBudget enables extended thinking when > 0.
	ThinkingBudget int
	// Cache marks the system prompt, tool schema, and conversation prefix as
	// cacheable to the provider.
	Cache bool
}

// ToolDefinition describes a tool available to the LLM.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema json.RawMessage // JSON Schema
	ReadOnly    bool
	Category    string // catalog category; "" for builtins
}

// ToolCall is an LLM request to invoke a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolResult is the outcome of one tool invocation. Downstream failures are
// data: they arrive with IsError set and the loop continues.
type ToolResult struct {
	CallID  string
	Name    string
	Content string
	IsError bool

	// Refusal marks a write attempt blocked by the read-only gate. The
	// controller ends the run with a user-facing warning instead of letting
	// the model keep trying.
	Refusal bool
}

// ToolExecutor dispatches tool calls. Implemented by the tools runtime.
type ToolExecutor interface {
	// Definitions returns the current tool schema for the chat, already
	// filtered by mode and loaded categories.
	Definitions(ctx context.Context) ([]ToolDefinition, error)

	// Execute runs one tool call. Errors are folded into the result.
	Execute(ctx context.Context, call ToolCall) ToolResult
}

// Chunk is the interface for all streaming chunk types.
type Chunk interface {
	chunkType() ChunkType
}

// ChunkType identifies the kind of streaming chunk.
type ChunkType string

const (
	ChunkTypeText     ChunkType = "text"
	ChunkTypeThinking ChunkType = "thinking"
	ChunkTypeToolCall ChunkType = "tool_call"
	ChunkTypeUsage    ChunkType = "usage"
	ChunkTypeError    ChunkType = "error"
)

// TextChunk is an incremental piece of the LLM's visible text.
type TextChunk struct{ Content string }

// ThinkingChunk is an incremental piece of the LLM's extended reasoning.
// The terminal chunk of a thinking block carries Final=true and the
// provider's signature, which must round-trip when the block is replayed.
type ThinkingChunk struct {
	Content   string
	Signature string
	Final     bool
}

// ToolCallChunk is one complete tool-use block, emitted after its input
// JSON has fully streamed.
type ToolCallChunk struct {
	CallID    string
	Name      string
	Arguments json.RawMessage
}

// UsageChunk carries the call's token counters, cache breakdown included.
type UsageChunk struct{ Usage events.UsageTotals }

// ErrorChunk signals a stream failure.
type ErrorChunk struct {
	Message   string
	Retryable bool
}

func (TextChunk) chunkType() ChunkType     { return ChunkTypeText }
func (ThinkingChunk) chunkType() ChunkType { return ChunkTypeThinking }
func (ToolCallChunk) chunkType() ChunkType { return ChunkTypeToolCall }
func (UsageChunk) chunkType() ChunkType    { return ChunkTypeUsage }
func (ErrorChunk) chunkType() ChunkType    { return ChunkTypeError }
