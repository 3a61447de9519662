package models

import (
	"encoding/json"
	"time"
)

// Role identifies a message author within a chat transcript.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// BlockType identifies the kind of one content block.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockThinking   BlockType = "thinking"
	BlockToolCall   BlockType = "tool_call"
	BlockToolResult BlockType = "tool_result"
	BlockImage      BlockType = "image"
)

// ContentBlock is one unit of message content. Which fields are populated
// depends on Type. Tool-call and tool-result blocks share a ToolCallID.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// BlockText
	Text string `json:"text,omitempty"`

	// BlockThinking. Signature is the provider's opaque integrity token and
	// must round-trip unchanged when the block is replayed.
	Thinking          string `json:"thinking,omitempty"`
	ThinkingSignature string `json:"thinking_signature,omitempty"`

	// BlockToolCall / BlockToolResult
	ToolCallID    string          `json:"tool_call_id,omitempty"`
	ToolName      string          `json:"tool_name,omitempty"`
	ToolArguments json.RawMessage `json:"tool_arguments,omitempty"`
	Result        string          `json:"result,omitempty"`
	IsError       bool            `json:"is_error,omitempty"`

	// BlockImage, base64-encoded
	ImageMediaType string `json:"image_media_type,omitempty"`
	ImageData      string `json:"image_data,omitempty"`
}

// Message is one ordered entry in a chat transcript.
type Message struct {
	Seq          int            `json:"seq"`
	Role         Role           `json:"role"`
	Blocks       []ContentBlock `json:"blocks"`
	Timestamp    time.Time      `json:"timestamp"`
	InputTokens  int            `json:"input_tokens,omitempty"`
	OutputTokens int            `json:"output_tokens,omitempty"`
}

// TextMessage builds a single-block text message.
func TextMessage(role Role, text string) Message {
	return Message{
		Role:      role,
		Blocks:    []ContentBlock{{Type: BlockText, Text: text}},
		Timestamp: time.Now().UTC(),
	}
}

// FirstText returns the first text block's content, or "".
func (m Message) FirstText() string {
	for _, b := range m.Blocks {
		if b.Type == BlockText {
			return b.Text
		}
	}
	return ""
}

// ToolCallIDs returns the ids of all tool-call blocks in order.
func (m Message) ToolCallIDs() []string {
	var ids []string
	for _, b := range m.Blocks {
		if b.Type == BlockToolCall {
			ids = append(ids, b.ToolCallID)
		}
	}
	return ids
}
