package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/docpilot-ai/agentd/pkg/models"
)

const (
	// revertMaxAttempts bounds conditional-write retries per entity.
	revertMaxAttempts = 5

	// revertBackoffUnit scales linearly with the attempt number.
	revertBackoffUnit = 500 * time.Millisecond

	// revertStagger spaces writes to different entities apart so the
	// downstream's conditional-write window is not hit by a burst.
	revertStagger = 500 * time.Millisecond
)

// Reverter restores the before-state of a recorded commit by applying the
// inverse of each change and recording the result as a new forward commit.
type Reverter struct {
	store       Store
	gateway     ToolCaller
	committer   *Committer
	stagger     time.Duration
	backoffUnit time.Duration
	logger      *slog.Logger
}

func NewReverter(store Store, gateway ToolCaller, committer *Committer) *Reverter {
	return &Reverter{
		store:       store,
		gateway:     gateway,
		committer:   committer,
		stagger:     revertStagger,
		backoffUnit: revertBackoffUnit,
		logger:      slog.Default().With("component", "tracking"),
	}
}

// Revert applies the inverse of the target commit's changes and records a new
// forward commit. The target commit stays in the log untouched; any commit,
// not just the latest, can be reverted.
func (rv *Reverter) Revert(ctx context.Context, chatID, hash string) (*models.ConfigCommit, error) {
	target, err := rv.store.GetCommit(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("load commit %s: %w", hash, err)
	}
	if target.ChatID != chatID {
		return nil, fmt.Errorf("commit %s belongs to another chat", hash)
	}

	inverse := make([]models.EntityChange, 0, len(target.Changes))
	for i, change := range target.Changes {
		if i > 0 {
			select {
			case <-time.After(rv.stagger):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		applied, err := rv.revertOne(ctx, change)
		if err != nil {
			return nil, fmt.Errorf("revert %s %s: %w", change.EntityType, change.EntityID, err)
		}
		inverse = append(inverse, applied)
	}

	commit, err := rv.committer.Commit(ctx, chatID, "revert_commit",
		fmt.Sprintf("Revert commit %s", hash), inverse)
	if err != nil {
		return nil, fmt.Errorf("record revert commit: %w", err)
	}
	if commit == nil {
		return nil, fmt.Errorf("revert of %s produced no changes", hash)
	}
	return commit, nil
}

// revertOne applies the inverse of a single change with fetch-then-apply
// retries on conditional-write failures.
func (rv *Reverter) revertOne(ctx context.Context, change models.EntityChange) (models.EntityChange, error) {
	desired := change.Before

	var lastErr error
	for attempt := 0; attempt < revertMaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt)*rv.backoffUnit +
				time.Duration(rand.Int64N(int64(rv.backoffUnit/5)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return models.EntityChange{}, ctx.Err()
			}
		}

		applied, retryable, err := rv.applyInverse(ctx, change, desired)
		if err == nil {
			return applied, nil
		}
		lastErr = err
		if !retryable {
			return models.EntityChange{}, err
		}
		rv.logger.Info("conditional write failed, refetching",
			"entity_type", change.EntityType,
			"entity_id", change.EntityID,
			"attempt", attempt+1,
			"error", err)
	}
	return models.EntityChange{}, fmt.Errorf("gave up after %d attempts: %w", revertMaxAttempts, lastErr)
}

// applyInverse performs one attempt. The returned EntityChange records what
// actually happened: current live state as before, restored state as after.
func (rv *Reverter) applyInverse(ctx context.Context, change models.EntityChange, desired json.RawMessage) (models.EntityChange, bool, error) {
	et, id := change.EntityType, change.EntityID

	switch {
	case change.Operation == models.OpCreate:
		// Inverse of create: delete.
		current := rv.fetch(ctx, et, id)
		if current == nil {
			// Already gone.
			return models.EntityChange{EntityType: et, EntityID: id, EntityName: change.EntityName, Operation: models.OpDelete}, false, nil
		}
		content, isError, err := rv.gateway.Call(ctx, "delete_"+et, map[string]any{et + "_id": id})
		if err != nil {
			return models.EntityChange{}, false, err
		}
		if isError {
			return models.EntityChange{}, IsTransientFailure(content), fmt.Errorf("delete failed: %s", content)
		}
		return models.EntityChange{
			EntityType: et, EntityID: id, EntityName: change.EntityName,
			Operation: models.OpDelete, Before: current,
		}, false, nil

	case change.Operation == models.OpDelete:
		// Inverse of delete: recreate from the before snapshot. The
		// downstream assigns a fresh id.
		body, err := createBody(desired)
		if err != nil {
			return models.EntityChange{}, false, err
		}
		content, isError, err := rv.gateway.Call(ctx, "create_"+et, body)
		if err != nil {
			return models.EntityChange{}, false, err
		}
		if isError {
			return models.EntityChange{}, IsTransientFailure(content), fmt.Errorf("create failed: %s", content)
		}
		after := json.RawMessage(content)
		newID := id
		if created, ok := entityIDFromState(after); ok {
			newID = created
		}
		return models.EntityChange{
			EntityType: et, EntityID: newID, EntityName: change.EntityName,
			Operation: models.OpCreate, After: after,
		}, false, nil

	default:
		// Inverse of update: patch back to the before snapshot.
		current := rv.fetch(ctx, et, id)
		patch, err := MinimalPatch(current, desired)
		if err != nil {
			return models.EntityChange{}, false, err
		}
		if patch == nil {
			// Already at the desired state.
			return models.EntityChange{
				EntityType: et, EntityID: id, EntityName: change.EntityName,
				Operation: models.OpUpdate, Before: current, After: current,
			}, false, nil
		}

		args := make(map[string]any, len(patch)+1)
		for k, v := range patch {
			args[k] = v
		}
		args[et+"_id"] = id

		content, isError, err := rv.gateway.Call(ctx, "patch_"+et, args)
		if err != nil {
			return models.EntityChange{}, false, err
		}
		if isError {
			return models.EntityChange{}, IsTransientFailure(content), fmt.Errorf("patch failed: %s", content)
		}

		after := rv.fetch(ctx, et, id)
		if after == nil {
			after = desired
		}
		return models.EntityChange{
			EntityType: et, EntityID: id, EntityName: change.EntityName,
			Operation: models.OpUpdate, Before: current, After: after,
		}, false, nil
	}
}

func (rv *Reverter) fetch(ctx context.Context, entityType, entityID string) json.RawMessage {
	content, isError, err := rv.gateway.Call(ctx, "get_"+entityType, map[string]any{
		entityType + "_id": entityID,
	})
	if err != nil || isError || !json.Valid([]byte(content)) {
		return nil
	}
	return json.RawMessage(content)
}

// IsTransientFailure detects downstream statuses worth a fetch-then-apply
// retry: conditional-write conflicts, throttling, and server errors. Used
// by both the revert path and the dispatcher's normal write path.
func IsTransientFailure(content string) bool {
	lower := strings.ToLower(content)
	for _, s := range []string{
		"412",
		"precondition",
		"429",
		"too many requests",
		"500",
		"502",
		"503",
		"service unavailable",
	} {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
