package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/docpilot-ai/agentd/pkg/models"
)

// SaveCommit persists a commit blob and appends its hash to the chat's
// commit list. The blob expires after CommitTTL; the list entry is removed
// with the chat.
func (s *Store) SaveCommit(ctx context.Context, commit *models.ConfigCommit) error {
	data, err := json.Marshal(commit)
	if err != nil {
		return fmt.Errorf("marshal commit %s: %w", commit.Hash, err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, commitKey(commit.Hash), data, CommitTTL)
	pipe.RPush(ctx, commitListKey(commit.ChatID), commit.Hash)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save commit %s: %w", commit.Hash, err)
	}
	return nil
}

// GetCommit fetches a commit by hash.
func (s *Store) GetCommit(ctx context.Context, hash string) (*models.ConfigCommit, error) {
	data, err := s.rdb.Get(ctx, commitKey(hash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get commit %s: %w", hash, err)
	}
	var commit models.ConfigCommit
	if err := json.Unmarshal(data, &commit); err != nil {
		return nil, fmt.Errorf("unmarshal commit %s: %w", hash, err)
	}
	return &commit, nil
}

// ListCommits returns the most recent n commits for a chat, newest first.
// Commits whose blobs have expired are skipped.
func (s *Store) ListCommits(ctx context.Context, chatID string, n int) ([]*models.ConfigCommit, error) {
	if n <= 0 {
		n = 10
	}
	hashes, err := s.rdb.LRange(ctx, commitListKey(chatID), int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list commits for %s: %w", chatID, err)
	}
	commits := make([]*models.ConfigCommit, 0, len(hashes))
	for i := len(hashes) - 1; i >= 0; i-- {
		commit, err := s.GetCommit(ctx, hashes[i])
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		commits = append(commits, commit)
	}
	return commits, nil
}

// LatestCommitHash returns the hash of the newest commit for a chat, or
// ErrNotFound when the chat has none.
func (s *Store) LatestCommitHash(ctx context.Context, chatID string) (string, error) {
	hashes, err := s.rdb.LRange(ctx, commitListKey(chatID), -1, -1).Result()
	if err != nil {
		return "", fmt.Errorf("latest commit for %s: %w", chatID, err)
	}
	if len(hashes) == 0 {
		return "", ErrNotFound
	}
	return hashes[0], nil
}
