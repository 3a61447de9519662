package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/docpilot-ai/agentd/pkg/models"
	"github.com/docpilot-ai/agentd/pkg/storage"
)

const commitMessageSystem = "You write one-line commit messages for configuration changes " +
	"made on a document-processing platform. Summarize the net effect in under 80 characters. " +
	"Respond with the message only, no quotes."

const commitMessageMaxTokens = 100

// Committer turns an iteration's accumulated changes into a persisted
// ConfigCommit with snapshots.
type Committer struct {
	store  Store
	llm    Summarizer
	model  string
	logger *slog.Logger
}

// NewCommitter creates a committer. llm may be nil, in which case the
// deterministic fallback message is always used.
func NewCommitter(store Store, llm Summarizer, model string) *Committer {
	return &Committer{
		store:  store,
		llm:    llm,
		model:  model,
		logger: slog.Default().With("component", "tracking"),
	}
}

// Commit dedupes the changes, derives the content hash, generates the commit
// message, and persists the commit plus one snapshot per surviving entity.
// Returns nil when the changes net to nothing.
func (c *Committer) Commit(ctx context.Context, chatID, author, userRequest string, changes []models.EntityChange) (*models.ConfigCommit, error) {
	deduped := Dedupe(changes)
	if len(deduped) == 0 {
		return nil, nil
	}

	ts := time.Now().UTC()
	commit := &models.ConfigCommit{
		Hash:        ContentHash(deduped, ts),
		ChatID:      chatID,
		Timestamp:   ts,
		Author:      author,
		Message:     c.describe(ctx, deduped),
		UserRequest: userRequest,
		Changes:     deduped,
	}

	parent, err := c.store.LatestCommitHash(ctx, chatID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("resolve parent commit: %w", err)
	}
	commit.Parent = parent

	if err := c.store.SaveCommit(ctx, commit); err != nil {
		return nil, err
	}

	for _, change := range deduped {
		if change.After == nil {
			continue
		}
		if err := c.store.SaveSnapshot(ctx, change.EntityType, change.EntityID, commit.Hash, change.After); err != nil {
			c.logger.Warn("snapshot save failed",
				"commit", commit.Hash,
				"entity_type", change.EntityType,
				"entity_id", change.EntityID,
				"error", err)
		}
	}

	c.logger.Info("config commit recorded",
		"chat_id", chatID, "commit", commit.Hash, "changes", len(deduped))
	return commit, nil
}

// describe generates the commit message, falling back to a deterministic
// summary when the model call fails.
func (c *Committer) describe(ctx context.Context, changes []models.EntityChange) string {
	fallback := FallbackMessage(changes)
	if c.llm == nil {
		return fallback
	}

	msg, err := c.llm.Complete(ctx, c.model, commitMessageSystem, fallback, commitMessageMaxTokens)
	if err != nil {
		c.logger.Warn("commit message generation failed, using fallback", "error", err)
		return fallback
	}
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return fallback
	}
	return msg
}

// FallbackMessage builds a deterministic commit message from the change list.
// Also serves as the prompt for the LLM-generated variant.
func FallbackMessage(changes []models.EntityChange) string {
	parts := make([]string, 0, len(changes))
	for _, c := range changes {
		target := c.EntityType + " " + c.EntityID
		if c.EntityName != "" {
			target = fmt.Sprintf("%s %q", c.EntityType, c.EntityName)
		}
		parts = append(parts, fmt.Sprintf("%s %s", c.Operation, target))
	}
	return strings.Join(parts, ", ")
}
