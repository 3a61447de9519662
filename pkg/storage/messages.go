package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/docpilot-ai/agentd/pkg/models"
)

// AppendMessage appends one message to the chat transcript and returns the
// assigned sequence number. The sequence is the list position, so appends
// from one chat's single active run are totally ordered.
func (s *Store) AppendMessage(ctx context.Context, chatID string, msg models.Message) (int, error) {
	// Seq is assigned server-side from the resulting list length.
	length, err := s.rdb.LLen(ctx, messagesKey(chatID)).Result()
	if err != nil {
		return 0, fmt.Errorf("append message to %s: %w", chatID, err)
	}
	msg.Seq = int(length)
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("marshal message for %s: %w", chatID, err)
	}
	if err := s.rdb.RPush(ctx, messagesKey(chatID), data).Err(); err != nil {
		return 0, fmt.Errorf("append message to %s: %w", chatID, err)
	}
	return msg.Seq, nil
}

// GetMessages returns the full transcript for a chat in order.
func (s *Store) GetMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	raw, err := s.rdb.LRange(ctx, messagesKey(chatID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get messages for %s: %w", chatID, err)
	}
	messages := make([]models.Message, 0, len(raw))
	for i, item := range raw {
		var msg models.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("unmarshal message %d for %s: %w", i, chatID, err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}
