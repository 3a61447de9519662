package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/docpilot-ai/agentd/pkg/models"
)

// SaveChat persists chat metadata and indexes it by creation time. When a
// chat TTL is configured, every save refreshes the expiry on the metadata,
// the transcript, and the commit list; expired index entries are dropped
// lazily by ListChats.
func (s *Store) SaveChat(ctx context.Context, chat *models.Chat) error {
	data, err := json.Marshal(chat)
	if err != nil {
		return fmt.Errorf("marshal chat %s: %w", chat.ID, err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, chatKey(chat.ID), data, s.chatTTL)
	pipe.ZAdd(ctx, chatIndexKey, redis.Z{
		Score:  float64(chat.CreatedAt.UnixMilli()),
		Member: chat.ID,
	})
	if s.chatTTL > 0 {
		pipe.Expire(ctx, messagesKey(chat.ID), s.chatTTL)
		pipe.Expire(ctx, commitListKey(chat.ID), s.chatTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save chat %s: %w", chat.ID, err)
	}
	return nil
}

// GetChat fetches chat metadata by id.
func (s *Store) GetChat(ctx context.Context, chatID string) (*models.Chat, error) {
	data, err := s.rdb.Get(ctx, chatKey(chatID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chat %s: %w", chatID, err)
	}
	var chat models.Chat
	if err := json.Unmarshal(data, &chat); err != nil {
		return nil, fmt.Errorf("unmarshal chat %s: %w", chatID, err)
	}
	return &chat, nil
}

// ListChats returns chats newest-first with the total count for paging.
func (s *Store) ListChats(ctx context.Context, limit, offset int) ([]*models.Chat, int, error) {
	total, err := s.rdb.ZCard(ctx, chatIndexKey).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("count chats: %w", err)
	}
	if limit <= 0 {
		limit = 20
	}
	ids, err := s.rdb.ZRevRange(ctx, chatIndexKey, int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("list chats: %w", err)
	}
	chats := make([]*models.Chat, 0, len(ids))
	for _, id := range ids {
		chat, err := s.GetChat(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// Index entry outlived the metadata key; drop it lazily.
			s.rdb.ZRem(ctx, chatIndexKey, id)
			continue
		}
		if err != nil {
			return nil, 0, err
		}
		chats = append(chats, chat)
	}
	return chats, int(total), nil
}

// DeleteChat removes the chat, its transcript, and its commit list.
// Commit blobs and snapshots are left to expire on their own TTLs.
func (s *Store) DeleteChat(ctx context.Context, chatID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, chatKey(chatID), messagesKey(chatID), commitListKey(chatID))
	pipe.ZRem(ctx, chatIndexKey, chatID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete chat %s: %w", chatID, err)
	}
	return nil
}
