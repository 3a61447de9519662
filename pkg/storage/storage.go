// Package storage implements the persistence layer on Redis: chat metadata,
// message transcripts, the config-commit log, entity snapshots, and the
// per-chat read cache.
//
// Key layout:
//
//	chat:{id}                     chat metadata (JSON)
//	chat:{id}:msgs                message transcript (list of JSON)
//	chat:{id}:commits             commit hashes in order (list)
//	chats:index                   recency index (sorted set, score = created_at)
//	commit:{hash}                 commit blob (JSON, 30d TTL)
//	snap:{entity_type}:{entity_id}:{hash}  snapshot blob (JSON, 7d TTL)
//	readcache:{chat}:{entity_type}:{entity_id}  cached entity read (1h TTL)
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a requested key does not exist.
var ErrNotFound = errors.New("storage: not found")

// Retention periods.
const (
	CommitTTL    = 30 * 24 * time.Hour
	SnapshotTTL  = 7 * 24 * time.Hour
	ReadCacheTTL = time.Hour
)

// Store bundles all persistence operations over one Redis connection.
type Store struct {
	rdb *redis.Client

	// chatTTL expires chat metadata, transcript, and commit list after
	// inactivity. Zero keeps them forever.
	chatTTL time.Duration
}

// New connects to Redis at addr and verifies the connection.
func New(ctx context.Context, addr string) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return &Store{rdb: rdb}, nil
}

// NewWithClient wraps an existing client. Used by tests.
func NewWithClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// SetChatTTL sets the idle expiry applied to chat keys on every save.
// Zero disables expiry.
func (s *Store) SetChatTTL(ttl time.Duration) {
	s.chatTTL = ttl
}

// Ping reports store health.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.rdb.Close()
}

func chatKey(chatID string) string        { return "chat:" + chatID }
func messagesKey(chatID string) string    { return chatKey(chatID) + ":msgs" }
func commitListKey(chatID string) string  { return chatKey(chatID) + ":commits" }
func commitKey(hash string) string        { return "commit:" + hash }
func snapshotKey(et, eid, h string) string {
	return fmt.Sprintf("snap:%s:%s:%s", et, eid, h)
}
func readCacheKey(chatID, et, eid string) string {
	return fmt.Sprintf("readcache:%s:%s:%s", chatID, et, eid)
}

const chatIndexKey = "chats:index"
