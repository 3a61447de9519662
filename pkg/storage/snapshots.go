package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// SaveSnapshot stores the full post-write state of an entity under
// (entity_type, entity_id, commit_hash). Entries expire after SnapshotTTL.
func (s *Store) SaveSnapshot(ctx context.Context, entityType, entityID, commitHash string, state json.RawMessage) error {
	key := snapshotKey(entityType, entityID, commitHash)
	if err := s.rdb.Set(ctx, key, []byte(state), SnapshotTTL).Err(); err != nil {
		return fmt.Errorf("save snapshot %s: %w", key, err)
	}
	return nil
}

// GetSnapshot fetches an entity snapshot for a specific commit.
func (s *Store) GetSnapshot(ctx context.Context, entityType, entityID, commitHash string) (json.RawMessage, error) {
	key := snapshotKey(entityType, entityID, commitHash)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", key, err)
	}
	return data, nil
}

// CacheRead stores a read result for transparent pre-read reuse within a chat.
func (s *Store) CacheRead(ctx context.Context, chatID, entityType, entityID string, state json.RawMessage) error {
	key := readCacheKey(chatID, entityType, entityID)
	if err := s.rdb.Set(ctx, key, []byte(state), ReadCacheTTL).Err(); err != nil {
		return fmt.Errorf("cache read %s: %w", key, err)
	}
	return nil
}

// GetCachedRead fetches a cached read, or ErrNotFound when cold.
func (s *Store) GetCachedRead(ctx context.Context, chatID, entityType, entityID string) (json.RawMessage, error) {
	key := readCacheKey(chatID, entityType, entityID)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cached read %s: %w", key, err)
	}
	return data, nil
}

// InvalidateCachedRead drops a cached read after a write changes the entity.
func (s *Store) InvalidateCachedRead(ctx context.Context, chatID, entityType, entityID string) error {
	return s.rdb.Del(ctx, readCacheKey(chatID, entityType, entityID)).Err()
}
