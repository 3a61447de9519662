package tracking

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpilot-ai/agentd/pkg/models"
)

type fakeSummarizer struct {
	reply string
	err   error
	calls int
}

func (f *fakeSummarizer) Complete(_ context.Context, _, _, _ string, _ int) (string, error) {
	f.calls++
	return f.reply, f.err
}

func TestCommitter_PersistsCommitAndSnapshots(t *testing.T) {
	store := newMemStore()
	llm := &fakeSummarizer{reply: "Raise queue threshold to 0.95"}
	committer := NewCommitter(store, llm, "small-model")
	ctx := context.Background()

	commit, err := committer.Commit(ctx, "chat-1", "patch_queue", "raise the threshold",
		[]models.EntityChange{change("queue", "7", `{"t":0.8}`, `{"t":0.95}`)})
	require.NoError(t, err)
	require.NotNil(t, commit)

	assert.Len(t, commit.Hash, commitHashLen)
	assert.Empty(t, commit.Parent)
	assert.Equal(t, "patch_queue", commit.Author)
	assert.Equal(t, "Raise queue threshold to 0.95", commit.Message)
	assert.Equal(t, "raise the threshold", commit.UserRequest)

	stored, err := store.GetCommit(ctx, commit.Hash)
	require.NoError(t, err)
	assert.Equal(t, commit.Hash, stored.Hash)

	snap, err := store.GetSnapshot(ctx, "queue", "7", commit.Hash)
	require.NoError(t, err)
	assert.JSONEq(t, `{"t":0.95}`, string(snap))
}

func TestCommitter_ParentChain(t *testing.T) {
	store := newMemStore()
	committer := NewCommitter(store, nil, "")
	ctx := context.Background()

	first, err := committer.Commit(ctx, "chat-1", "patch_schema", "",
		[]models.EntityChange{change("schema", "5", `{"v":1}`, `{"v":2}`)})
	require.NoError(t, err)

	second, err := committer.Commit(ctx, "chat-1", "patch_schema", "",
		[]models.EntityChange{change("schema", "5", `{"v":2}`, `{"v":3}`)})
	require.NoError(t, err)

	assert.Equal(t, first.Hash, second.Parent)
}

func TestCommitter_FallbackMessageOnLLMFailure(t *testing.T) {
	store := newMemStore()
	llm := &fakeSummarizer{err: errors.New("model unavailable")}
	committer := NewCommitter(store, llm, "small-model")

	commit, err := committer.Commit(context.Background(), "chat-1", "patch_queue", "",
		[]models.EntityChange{{
			EntityType: "queue", EntityID: "7", EntityName: "Invoices",
			Operation: models.OpUpdate,
			Before:    []byte(`{"t":0.8}`), After: []byte(`{"t":0.95}`),
		}})
	require.NoError(t, err)
	assert.Equal(t, `update queue "Invoices"`, commit.Message)
	assert.Equal(t, 1, llm.calls)
}

func TestCommitter_NetZeroChangesProduceNoCommit(t *testing.T) {
	store := newMemStore()
	committer := NewCommitter(store, nil, "")

	commit, err := committer.Commit(context.Background(), "chat-1", "create_hook", "",
		[]models.EntityChange{
			{EntityType: "hook", EntityID: "9", Operation: models.OpCreate, After: []byte(`{"id":9}`)},
			{EntityType: "hook", EntityID: "9", Operation: models.OpDelete, Before: []byte(`{"id":9}`)},
		})
	require.NoError(t, err)
	assert.Nil(t, commit)

	_, err = store.LatestCommitHash(context.Background(), "chat-1")
	assert.Error(t, err)
}

func TestFallbackMessage(t *testing.T) {
	msg := FallbackMessage([]models.EntityChange{
		{EntityType: "schema", EntityID: "5", Operation: models.OpUpdate},
		{EntityType: "hook", EntityID: "9", EntityName: "notify", Operation: models.OpCreate},
	})
	assert.Equal(t, `update schema 5, create hook "notify"`, msg)
}
