package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/docpilot-ai/agentd/pkg/events"
)

// LLMResponse is one fully collected model turn.
type LLMResponse struct {
	Thinking          string
	ThinkingSignature string
	Text              string
	ToolCalls         []ToolCall
	Usage             events.UsageTotals
}

// StreamCallback receives accumulated (not delta) content as a stream
// progresses, once per chunk. Used to drive streaming step events.
type StreamCallback func(kind ChunkType, accumulated string)

// StreamError is a model-call failure surfaced by the provider stream.
type StreamError struct {
	Message   string
	Retryable bool
}

func (e *StreamError) Error() string { return e.Message }

// collectStream drains a chunk channel into an LLMResponse, invoking cb on
// each thinking/text delta with the accumulated content so far.
// Returns early on context cancellation or an ErrorChunk.
func collectStream(ctx context.Context, ch <-chan Chunk, cb StreamCallback) (*LLMResponse, error) {
	resp := &LLMResponse{}
	var thinking, text strings.Builder

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case chunk, ok := <-ch:
			if !ok {
				resp.Thinking = thinking.String()
				resp.Text = text.String()
				return resp, nil
			}
			switch c := chunk.(type) {
			case ThinkingChunk:
				thinking.WriteString(c.Content)
				if c.Final && c.Signature != "" {
					resp.ThinkingSignature = c.Signature
				}
				if cb != nil && c.Content != "" {
					cb(ChunkTypeThinking, thinking.String())
				}
			case TextChunk:
				text.WriteString(c.Content)
				if cb != nil && c.Content != "" {
					cb(ChunkTypeText, text.String())
				}
			case ToolCallChunk:
				resp.ToolCalls = append(resp.ToolCalls, ToolCall{
					ID:        c.CallID,
					Name:      c.Name,
					Arguments: c.Arguments,
				})
			case UsageChunk:
				resp.Usage.Add(c.Usage)
			case ErrorChunk:
				return nil, &StreamError{Message: c.Message, Retryable: c.Retryable}
			default:
				return nil, fmt.Errorf("unexpected chunk type %T", chunk)
			}
		}
	}
}

// buildRetryMessage converts a transient model failure into user-role
// context so the next iteration can recover instead of repeating it blind.
func buildRetryMessage(err error) string {
	return fmt.Sprintf(
		"The previous model call failed before completing (%v). "+
			"Continue the task from where the conversation left off.", err)
}
