package tracking

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/docpilot-ai/agentd/pkg/models"
)

// Recorder observes every gateway tool call in a run and accumulates
// entity-level changes for the iteration's commit. It sits between the
// dispatcher and the gateway: reads pass through (and warm the read cache),
// writes are bracketed by a pre-read and a post-read to capture the
// before/after snapshot pair.
//
// Safe for concurrent use; parallel tool calls append changes in completion
// order, Dedupe collapses per-entity churn at commit time.
type Recorder struct {
	chatID  string
	store   Store
	gateway ToolCaller
	logger  *slog.Logger

	mu            sync.Mutex
	pending       []models.EntityChange
	lastWriteTool string
}

func NewRecorder(chatID string, store Store, gateway ToolCaller) *Recorder {
	return &Recorder{
		chatID:  chatID,
		store:   store,
		gateway: gateway,
		logger:  slog.Default().With("component", "tracking", "chat_id", chatID),
	}
}

// Observe wraps one gateway tool call. do performs the actual call; the
// recorder never alters its result, only brackets it with snapshot reads.
func (r *Recorder) Observe(ctx context.Context, toolName string, args map[string]any, do func(context.Context) (string, bool, error)) (string, bool, error) {
	action, tracked := classifyTool(toolName)
	if !tracked {
		return do(ctx)
	}

	if !action.Write {
		return r.observeRead(ctx, action, args, do)
	}
	return r.observeWrite(ctx, toolName, action, args, do)
}

func (r *Recorder) observeRead(ctx context.Context, action toolAction, args map[string]any, do func(context.Context) (string, bool, error)) (string, bool, error) {
	content, isError, err := do(ctx)
	if err != nil || isError {
		return content, isError, err
	}

	// Single-entity reads warm the cache so a later write's pre-read is free.
	if id, ok := entityIDFromArgs(action.EntityType, args); ok && json.Valid([]byte(content)) {
		if cacheErr := r.store.CacheRead(ctx, r.chatID, action.EntityType, id, json.RawMessage(content)); cacheErr != nil {
			r.logger.Warn("read cache write failed", "entity_type", action.EntityType, "entity_id", id, "error", cacheErr)
		}
	}
	return content, isError, err
}

func (r *Recorder) observeWrite(ctx context.Context, toolName string, action toolAction, args map[string]any, do func(context.Context) (string, bool, error)) (string, bool, error) {
	entityID, hasID := entityIDFromArgs(action.EntityType, args)

	var before json.RawMessage
	if action.Operation != models.OpCreate && hasID {
		before = r.preRead(ctx, action.EntityType, entityID)
	}

	content, isError, err := do(ctx)
	if err != nil || isError {
		// Failed writes produce no change; the model sees the error and adapts.
		return content, isError, err
	}

	// Creates only reveal their id in the write result.
	if !hasID {
		if id, ok := entityIDFromState(json.RawMessage(content)); ok {
			entityID, hasID = id, true
		}
	}
	if !hasID {
		r.logger.Warn("write completed but entity id is unknown, change not recorded", "tool", toolName)
		return content, isError, err
	}

	var after json.RawMessage
	if action.Operation != models.OpDelete {
		after = r.postRead(ctx, action.EntityType, entityID, json.RawMessage(content))
	}

	_ = r.store.InvalidateCachedRead(ctx, r.chatID, action.EntityType, entityID)
	if after != nil {
		if cacheErr := r.store.CacheRead(ctx, r.chatID, action.EntityType, entityID, after); cacheErr != nil {
			r.logger.Warn("read cache refresh failed", "entity_type", action.EntityType, "entity_id", entityID, "error", cacheErr)
		}
	}

	r.mu.Lock()
	r.pending = append(r.pending, models.EntityChange{
		EntityType: action.EntityType,
		EntityID:   entityID,
		EntityName: entityName(before, after),
		Operation:  action.Operation,
		Before:     before,
		After:      after,
	})
	r.lastWriteTool = toolName
	r.mu.Unlock()

	return content, isError, err
}

// preRead resolves the before-state, preferring the chat's read cache over a
// live gateway round trip.
func (r *Recorder) preRead(ctx context.Context, entityType, entityID string) json.RawMessage {
	if cached, err := r.store.GetCachedRead(ctx, r.chatID, entityType, entityID); err == nil {
		return cached
	}
	return r.liveRead(ctx, entityType, entityID)
}

// postRead resolves the after-state. The write result itself is used when it
// already carries the full entity; otherwise a live read fills it in.
func (r *Recorder) postRead(ctx context.Context, entityType, entityID string, writeResult json.RawMessage) json.RawMessage {
	if id, ok := entityIDFromState(writeResult); ok && id == entityID {
		return writeResult
	}
	return r.liveRead(ctx, entityType, entityID)
}

func (r *Recorder) liveRead(ctx context.Context, entityType, entityID string) json.RawMessage {
	content, isError, err := r.gateway.Call(ctx, "get_"+entityType, map[string]any{
		entityType + "_id": entityID,
	})
	if err != nil || isError {
		r.logger.Warn("snapshot read failed", "entity_type", entityType, "entity_id", entityID, "error", err)
		return nil
	}
	if !json.Valid([]byte(content)) {
		return nil
	}
	return json.RawMessage(content)
}

// Drain returns the accumulated changes and the tool that produced the last
// write, then resets the recorder for the next iteration.
func (r *Recorder) Drain() ([]models.EntityChange, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	changes := r.pending
	author := r.lastWriteTool
	r.pending = nil
	r.lastWriteTool = ""
	return changes, author
}

// HasPending reports whether any write has been recorded since the last Drain.
func (r *Recorder) HasPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending) > 0
}

func entityName(before, after json.RawMessage) string {
	for _, state := range []json.RawMessage{after, before} {
		if len(state) == 0 {
			continue
		}
		var probe struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(state, &probe); err == nil && probe.Name != "" {
			return probe.Name
		}
	}
	return ""
}
