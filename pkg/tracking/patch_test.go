package tracking

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinimalPatch_OnlyChangedFields(t *testing.T) {
	current := json.RawMessage(`{"id":5,"name":"Invoices","threshold":0.8,"url":"https://api/queues/5"}`)
	desired := json.RawMessage(`{"id":5,"name":"Invoices","threshold":0.95,"url":"https://api/queues/5"}`)

	patch, err := MinimalPatch(current, desired)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"threshold": 0.95}, patch)
}

func TestMinimalPatch_ExcludesServerManagedFields(t *testing.T) {
	current := json.RawMessage(`{"name":"old"}`)
	desired := json.RawMessage(`{"id":5,"url":"x","organization":"o","created_at":"t","modified_at":"t","modified_by":"u","created_by":"u","name":"new"}`)

	patch, err := MinimalPatch(current, desired)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "new"}, patch)
}

func TestMinimalPatch_NestedValueComparison(t *testing.T) {
	current := json.RawMessage(`{"settings":{"a":1,"b":2}}`)
	desired := json.RawMessage(`{"settings":{"a":1,"b":3}}`)

	patch, err := MinimalPatch(current, desired)
	require.NoError(t, err)
	require.Contains(t, patch, "settings")
}

func TestMinimalPatch_NoDifference(t *testing.T) {
	state := json.RawMessage(`{"id":5,"name":"same"}`)
	patch, err := MinimalPatch(state, state)
	require.NoError(t, err)
	assert.Nil(t, patch)
}

func TestMinimalPatch_NilCurrentIncludesEverything(t *testing.T) {
	patch, err := MinimalPatch(nil, json.RawMessage(`{"id":5,"name":"n"}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "n"}, patch)
}

func TestCreateBody_StripsServerFields(t *testing.T) {
	body, err := createBody(json.RawMessage(`{"id":5,"url":"x","name":"Invoices","threshold":0.8}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Invoices", "threshold": 0.8}, body)
}
