package tracking

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpilot-ai/agentd/pkg/models"
)

func TestDedupe_MergesRepeatedUpdates(t *testing.T) {
	out := Dedupe([]models.EntityChange{
		change("schema", "5", `{"v":1}`, `{"v":2}`),
		change("schema", "5", `{"v":2}`, `{"v":3}`),
		change("schema", "5", `{"v":3}`, `{"v":4}`),
	})

	require.Len(t, out, 1)
	assert.JSONEq(t, `{"v":1}`, string(out[0].Before))
	assert.JSONEq(t, `{"v":4}`, string(out[0].After))
	assert.Equal(t, models.OpUpdate, out[0].Operation)
}

func TestDedupe_CreateThenUpdateIsCreate(t *testing.T) {
	out := Dedupe([]models.EntityChange{
		{EntityType: "hook", EntityID: "9", Operation: models.OpCreate, After: json.RawMessage(`{"id":9}`)},
		{EntityType: "hook", EntityID: "9", Operation: models.OpUpdate,
			Before: json.RawMessage(`{"id":9}`), After: json.RawMessage(`{"id":9,"active":true}`)},
	})

	require.Len(t, out, 1)
	assert.Equal(t, models.OpCreate, out[0].Operation)
	assert.Nil(t, out[0].Before)
	assert.JSONEq(t, `{"id":9,"active":true}`, string(out[0].After))
}

func TestDedupe_UpdateThenDeleteIsDelete(t *testing.T) {
	out := Dedupe([]models.EntityChange{
		change("queue", "7", `{"n":"a"}`, `{"n":"b"}`),
		{EntityType: "queue", EntityID: "7", Operation: models.OpDelete, Before: json.RawMessage(`{"n":"b"}`)},
	})

	require.Len(t, out, 1)
	assert.Equal(t, models.OpDelete, out[0].Operation)
	assert.JSONEq(t, `{"n":"a"}`, string(out[0].Before))
	assert.Nil(t, out[0].After)
}

func TestDedupe_CreateThenDeleteNetsToNothing(t *testing.T) {
	out := Dedupe([]models.EntityChange{
		{EntityType: "hook", EntityID: "9", Operation: models.OpCreate, After: json.RawMessage(`{"id":9}`)},
		change("schema", "5", `{"v":1}`, `{"v":2}`),
		{EntityType: "hook", EntityID: "9", Operation: models.OpDelete, Before: json.RawMessage(`{"id":9}`)},
	})

	require.Len(t, out, 1)
	assert.Equal(t, "schema", out[0].EntityType)
}

func TestDedupe_PreservesFirstAppearanceOrder(t *testing.T) {
	out := Dedupe([]models.EntityChange{
		change("schema", "5", `{"v":1}`, `{"v":2}`),
		change("queue", "7", `{"n":"a"}`, `{"n":"b"}`),
		change("schema", "5", `{"v":2}`, `{"v":3}`),
	})

	require.Len(t, out, 2)
	assert.Equal(t, "schema", out[0].EntityType)
	assert.Equal(t, "queue", out[1].EntityType)
}

func TestDedupe_Empty(t *testing.T) {
	assert.Nil(t, Dedupe(nil))
}
