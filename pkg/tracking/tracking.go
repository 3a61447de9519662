// Package tracking records every configuration write the agent performs as a
// commit with before/after snapshots, and can revert any recorded commit by
// producing a new forward commit that restores the earlier state.
package tracking

import (
	"context"
	"encoding/json"

	"github.com/docpilot-ai/agentd/pkg/models"
)

// ToolCaller is the downstream surface the tracker needs: pre-reads,
// post-reads, and revert patches all travel as ordinary gateway tool calls.
// Implemented by the tools dispatcher on top of the MCP client.
type ToolCaller interface {
	Call(ctx context.Context, name string, args map[string]any) (content string, isError bool, err error)
}

// Store is the persistence surface for commits, snapshots, and cached reads.
// Satisfied by *storage.Store.
type Store interface {
	SaveCommit(ctx context.Context, commit *models.ConfigCommit) error
	GetCommit(ctx context.Context, hash string) (*models.ConfigCommit, error)
	ListCommits(ctx context.Context, chatID string, n int) ([]*models.ConfigCommit, error)
	LatestCommitHash(ctx context.Context, chatID string) (string, error)
	SaveSnapshot(ctx context.Context, entityType, entityID, commitHash string, state json.RawMessage) error
	GetSnapshot(ctx context.Context, entityType, entityID, commitHash string) (json.RawMessage, error)
	GetCachedRead(ctx context.Context, chatID, entityType, entityID string) (json.RawMessage, error)
	CacheRead(ctx context.Context, chatID, entityType, entityID string, state json.RawMessage) error
	InvalidateCachedRead(ctx context.Context, chatID, entityType, entityID string) error
}

// Summarizer produces the human-readable commit message. Satisfied by the
// LLM client's Complete method receiver.
type Summarizer interface {
	Complete(ctx context.Context, model, system, user string, maxTokens int) (string, error)
}
