package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/docpilot-ai/agentd/pkg/events"
	"github.com/docpilot-ai/agentd/pkg/models"
)

// MessagesClient captures the subset of the Anthropic SDK used here.
// Satisfied by *sdk.MessageService; tests pass a mock.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// AnthropicClient implements LLMClient on the Claude Messages API.
type AnthropicClient struct {
	msg    MessagesClient
	logger *slog.Logger
}

// NewAnthropicClient builds a client from an API key.
func NewAnthropicClient(apiKey string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropicClientWith(&ac.Messages), nil
}

// NewAnthropicClientWith wraps an existing Messages client.
func NewAnthropicClientWith(msg MessagesClient) *AnthropicClient {
	return &AnthropicClient{
		msg:    msg,
		logger: slog.With("component", "agent.AnthropicClient"),
	}
}

// Stream implements LLMClient.
func (c *AnthropicClient) Stream(ctx context.Context, req *LLMRequest) (<-chan Chunk, error) {
	params, err := encodeRequest(req)
	if err != nil {
		return nil, err
	}
	stream := c.msg.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic messages stream: %w", err)
	}

	ch := make(chan Chunk, 32)
	go c.pump(ctx, stream, ch)
	return ch, nil
}

// Complete implements LLMClient. Used for short utility calls.
func (c *AnthropicClient) Complete(ctx context.Context, model, system, user string, maxTokens int) (string, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(user))},
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic messages.new: %w", err)
	}
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text, nil
		}
	}
	return "", nil
}

// Close implements LLMClient. The SDK client holds no persistent connection.
func (c *AnthropicClient) Close() error { return nil }

// pump converts SDK stream events into Chunks. Tool input JSON and thinking
// signatures accumulate per content-block index and flush on block stop.
func (c *AnthropicClient) pump(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion], ch chan<- Chunk) {
	defer close(ch)
	defer func() { _ = stream.Close() }()

	type toolBuffer struct {
		id, name string
		json     []byte
	}
	type thinkingBuffer struct {
		signature string
	}
	toolBlocks := make(map[int]*toolBuffer)
	thinkingBlocks := make(map[int]*thinkingBuffer)
	var usage events.UsageTotals

	emit := func(chunk Chunk) bool {
		select {
		case ch <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case sdk.MessageStartEvent:
			u := ev.Message.Usage
			usage.InputTokens += int(u.InputTokens)
			usage.CacheCreationTokens += int(u.CacheCreationInputTokens)
			usage.CacheReadTokens += int(u.CacheReadInputTokens)

		case sdk.ContentBlockStartEvent:
			idx := int(ev.Index)
			switch start := ev.ContentBlock.AsAny().(type) {
			case sdk.ToolUseBlock:
				toolBlocks[idx] = &toolBuffer{id: start.ID, name: start.Name}
			case sdk.ThinkingBlock:
				thinkingBlocks[idx] = &thinkingBuffer{}
			}

		case sdk.ContentBlockDeltaEvent:
			idx := int(ev.Index)
			switch delta := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if delta.Text != "" && !emit(TextChunk{Content: delta.Text}) {
					return
				}
			case sdk.ThinkingDelta:
				if delta.Thinking != "" && !emit(ThinkingChunk{Content: delta.Thinking}) {
					return
				}
			case sdk.SignatureDelta:
				if tb := thinkingBlocks[idx]; tb != nil {
					tb.signature = delta.Signature
				}
			case sdk.InputJSONDelta:
				if tb := toolBlocks[idx]; tb != nil {
					tb.json = append(tb.json, delta.PartialJSON...)
				}
			}

		case sdk.ContentBlockStopEvent:
			idx := int(ev.Index)
			if tb := toolBlocks[idx]; tb != nil {
				delete(toolBlocks, idx)
				args := tb.json
				if len(args) == 0 {
					args = []byte("{}")
				}
				if !emit(ToolCallChunk{CallID: tb.id, Name: tb.name, Arguments: json.RawMessage(args)}) {
					return
				}
			}
			if tb := thinkingBlocks[idx]; tb != nil {
				delete(thinkingBlocks, idx)
				if !emit(ThinkingChunk{Final: true, Signature: tb.signature}) {
					return
				}
			}

		case sdk.MessageDeltaEvent:
			usage.OutputTokens += int(ev.Usage.OutputTokens)
		}
	}

	if err := stream.Err(); err != nil {
		c.logger.Warn("LLM stream failed", "error", err)
		emit(ErrorChunk{Message: err.Error(), Retryable: isRetryableAPIError(err)})
		return
	}
	emit(UsageChunk{Usage: usage})
}

func isRetryableAPIError(err error) bool {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 408, 409, 429, 500, 502, 503, 529:
			return true
		}
		return false
	}
	// Transport-level failures (reset connections, timeouts) are retryable.
	return true
}

func encodeRequest(req *LLMRequest) (*sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anthropic: messages are required")
	}
	if req.Model == "" {
		return nil, errors.New("anthropic: model identifier is required")
	}
	if req.MaxTokens <= 0 {
		return nil, errors.New("anthropic: max_tokens must be positive")
	}

	params := &sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
	}

	if req.System != "" {
		block := sdk.TextBlockParam{Text: req.System}
		if req.Cache {
			block.CacheControl = sdk.NewCacheControlEphemeralParam()
		}
		params.System = []sdk.TextBlockParam{block}
	}

	if req.ThinkingBudget > 0 {
		if req.ThinkingBudget >= req.MaxTokens {
			return nil, fmt.Errorf("anthropic: thinking budget %d must be less than max_tokens %d",
				req.ThinkingBudget, req.MaxTokens)
		}
		params.Thinking = sdk.ThinkingConfigParamOfEnabled(int64(req.ThinkingBudget))
	}

	tools, err := encodeTools(req.Tools, req.Cache)
	if err != nil {
		return nil, err
	}
	params.Tools = tools

	msgs, err := encodeMessages(req.Messages, req.Cache)
	if err != nil {
		return nil, err
	}
	params.Messages = msgs
	return params, nil
}

func encodeTools(defs []ToolDefinition, cache bool) ([]sdk.ToolUnionParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	toolList := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		schema, err := toolInputSchema(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("anthropic: tool %q schema: %w", def.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(schema, def.Name)
		if u.OfTool != nil && def.Description != "" {
			u.OfTool.Description = sdk.String(def.Description)
		}
		toolList = append(toolList, u)
	}
	// One cache breakpoint after the full tool schema.
	if cache && len(toolList) > 0 {
		if last := toolList[len(toolList)-1].OfTool; last != nil {
			last.CacheControl = sdk.NewCacheControlEphemeralParam()
		}
	}
	return toolList, nil
}

func toolInputSchema(raw json.RawMessage) (sdk.ToolInputSchemaParam, error) {
	if len(raw) == 0 {
		return sdk.ToolInputSchemaParam{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}

func encodeMessages(msgs []models.Message, cache bool) ([]sdk.MessageParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		blocks, err := encodeBlocks(m)
		if err != nil {
			return nil, err
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case models.RoleUser, models.RoleTool:
			// Tool results travel back to the provider in user messages.
			conversation = append(conversation, sdk.NewUserMessage(blocks...))
		case models.RoleAssistant:
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	if len(conversation) == 0 {
		return nil, errors.New("anthropic: at least one user/assistant message is required")
	}
	// Sliding cache breakpoint on the last block of the last message.
	if cache {
		last := &conversation[len(conversation)-1]
		if n := len(last.Content); n > 0 {
			setBlockCacheControl(&last.Content[n-1])
		}
	}
	return conversation, nil
}

func encodeBlocks(m models.Message) ([]sdk.ContentBlockParamUnion, error) {
	blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Blocks))
	for _, b := range m.Blocks {
		switch b.Type {
		case models.BlockText:
			if b.Text != "" {
				blocks = append(blocks, sdk.NewTextBlock(b.Text))
			}
		case models.BlockThinking:
			// Replayed with the provider's signature intact.
			if b.Thinking != "" {
				blocks = append(blocks, sdk.NewThinkingBlock(b.ThinkingSignature, b.Thinking))
			}
		case models.BlockToolCall:
			var input any
			if len(b.ToolArguments) > 0 {
				if err := json.Unmarshal(b.ToolArguments, &input); err != nil {
					return nil, fmt.Errorf("anthropic: tool call %s arguments: %w", b.ToolCallID, err)
				}
			}
			blocks = append(blocks, sdk.NewToolUseBlock(b.ToolCallID, input, b.ToolName))
		case models.BlockToolResult:
			blocks = append(blocks, sdk.NewToolResultBlock(b.ToolCallID, b.Result, b.IsError))
		case models.BlockImage:
			blocks = append(blocks, sdk.NewImageBlockBase64(b.ImageMediaType, b.ImageData))
		default:
			return nil, fmt.Errorf("anthropic: unsupported block type %q", b.Type)
		}
	}
	return blocks, nil
}

func setBlockCacheControl(u *sdk.ContentBlockParamUnion) {
	switch {
	case u.OfText != nil:
		u.OfText.CacheControl = sdk.NewCacheControlEphemeralParam()
	case u.OfToolResult != nil:
		u.OfToolResult.CacheControl = sdk.NewCacheControlEphemeralParam()
	case u.OfToolUse != nil:
		u.OfToolUse.CacheControl = sdk.NewCacheControlEphemeralParam()
	case u.OfImage != nil:
		u.OfImage.CacheControl = sdk.NewCacheControlEphemeralParam()
	}
}
