package agent

import (
	"fmt"

	"github.com/docpilot-ai/agentd/pkg/models"
)

// collapsibleTools produce large results where only the most recent matters:
// each call supersedes the previous view of the same entity surface.
var collapsibleTools = map[string]bool{
	"get_schema":   true,
	"patch_schema": true,
}

// CollapsedDescriptor is the single-line stand-in for a superseded result.
func CollapsedDescriptor(toolName string) string {
	return fmt.Sprintf("[Result collapsed - superseded by later %s call]", toolName)
}

// Fold produces the provider-facing view of memory:
//
//   - thinking blocks are replayed only for the current turn (at or after
//     the last user message); earlier ones are dropped
//   - for each collapsible tool, only the latest result is sent in full;
//     earlier results are replaced by a one-line descriptor
//   - images are retained for the full conversation
//
// The memory itself is never mutated; folding happens on a copy at
// prompt-build time.
func Fold(mem *models.Memory) []models.Message {
	if mem == nil || len(mem.Messages) == 0 {
		return nil
	}

	lastUserIdx := -1
	for i := len(mem.Messages) - 1; i >= 0; i-- {
		if mem.Messages[i].Role == models.RoleUser {
			lastUserIdx = i
			break
		}
	}

	// Last full occurrence per collapsible tool, keyed by tool name.
	type blockRef struct{ msg, block int }
	latest := make(map[string]blockRef)
	for i, msg := range mem.Messages {
		for j, b := range msg.Blocks {
			if b.Type == models.BlockToolResult && collapsibleTools[b.ToolName] {
				latest[b.ToolName] = blockRef{msg: i, block: j}
			}
		}
	}

	out := make([]models.Message, 0, len(mem.Messages))
	for i, msg := range mem.Messages {
		blocks := make([]models.ContentBlock, 0, len(msg.Blocks))
		for j, b := range msg.Blocks {
			switch {
			case b.Type == models.BlockThinking && i < lastUserIdx:
				continue
			case b.Type == models.BlockToolResult && collapsibleTools[b.ToolName]:
				if ref := latest[b.ToolName]; ref.msg != i || ref.block != j {
					b.Result = CollapsedDescriptor(b.ToolName)
				}
				blocks = append(blocks, b)
			default:
				blocks = append(blocks, b)
			}
		}
		if len(blocks) == 0 {
			continue
		}
		msg.Blocks = blocks
		out = append(out, msg)
	}
	return out
}
