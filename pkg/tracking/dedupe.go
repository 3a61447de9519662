package tracking

import (
	"github.com/docpilot-ai/agentd/pkg/models"
)

// Dedupe collapses multiple writes to the same entity within one iteration
// into a single net change: the first write's before-state paired with the
// last write's after-state. An entity created and deleted in the same
// iteration nets to nothing and is dropped. First-appearance order of the
// surviving entities is preserved.
func Dedupe(changes []models.EntityChange) []models.EntityChange {
	type key struct{ entityType, entityID string }

	merged := make(map[key]*models.EntityChange)
	var order []key

	for _, c := range changes {
		k := key{c.EntityType, c.EntityID}
		existing, ok := merged[k]
		if !ok {
			copied := c
			merged[k] = &copied
			order = append(order, k)
			continue
		}
		existing.After = c.After
		if c.EntityName != "" {
			existing.EntityName = c.EntityName
		}
		existing.Operation = netOperation(existing.Operation, c.Operation)
	}

	result := make([]models.EntityChange, 0, len(order))
	for _, k := range order {
		c := merged[k]
		if c.Operation == models.OpCreate && c.After == nil {
			// Created then deleted: no net change.
			continue
		}
		result = append(result, *c)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func netOperation(first, last models.ChangeOperation) models.ChangeOperation {
	switch {
	case first == models.OpCreate && last == models.OpDelete:
		return models.OpCreate // After is nil, caller drops the entry
	case first == models.OpCreate:
		return models.OpCreate
	case last == models.OpDelete:
		return models.OpDelete
	default:
		return models.OpUpdate
	}
}
