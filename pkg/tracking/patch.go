package tracking

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// immutableFields are server-managed attributes that must never appear in a
// patch body. Sending them either fails validation or silently conflicts.
var immutableFields = map[string]bool{
	"url":          true,
	"id":           true,
	"organization": true,
	"created_at":   true,
	"modified_at":  true,
	"modified_by":  true,
	"created_by":   true,
}

// MinimalPatch computes the smallest patch body that moves an entity from
// current to desired: only fields whose values differ, with server-managed
// fields excluded. Returns nil when nothing needs to change.
func MinimalPatch(current, desired json.RawMessage) (map[string]any, error) {
	var cur, want map[string]any
	if len(current) > 0 {
		if err := json.Unmarshal(current, &cur); err != nil {
			return nil, fmt.Errorf("decode current state: %w", err)
		}
	}
	if err := json.Unmarshal(desired, &want); err != nil {
		return nil, fmt.Errorf("decode desired state: %w", err)
	}

	patch := make(map[string]any)
	for field, value := range want {
		if immutableFields[field] {
			continue
		}
		if cur != nil {
			if existing, ok := cur[field]; ok && reflect.DeepEqual(existing, value) {
				continue
			}
		}
		patch[field] = value
	}
	if len(patch) == 0 {
		return nil, nil
	}
	return patch, nil
}

// createBody strips server-managed fields from a snapshot so it can be
// replayed as a create payload.
func createBody(state json.RawMessage) (map[string]any, error) {
	var body map[string]any
	if err := json.Unmarshal(state, &body); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	for field := range immutableFields {
		delete(body, field)
	}
	return body, nil
}
