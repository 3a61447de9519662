package tracking

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/docpilot-ai/agentd/pkg/models"
)

// Gateway tools follow a verb_entity naming scheme: get_queue, list_schemas,
// create_hook, patch_schema, delete_annotation. Classification keys off the
// verb prefix; the remainder is the entity type.

var writeVerbs = map[string]models.ChangeOperation{
	"create": models.OpCreate,
	"update": models.OpUpdate,
	"patch":  models.OpUpdate,
	"delete": models.OpDelete,
}

var readVerbs = map[string]bool{
	"get":      true,
	"list":     true,
	"retrieve": true,
	"search":   true,
}

// toolAction describes what a gateway tool does to the configuration.
type toolAction struct {
	Write      bool
	Operation  models.ChangeOperation
	EntityType string
}

// classifyTool parses a gateway tool name. ok is false for tools outside the
// verb_entity scheme (built-ins, sub-agent tools); those are never tracked.
func classifyTool(name string) (toolAction, bool) {
	verb, rest, found := strings.Cut(name, "_")
	if !found || rest == "" {
		return toolAction{}, false
	}

	if op, ok := writeVerbs[verb]; ok {
		return toolAction{Write: true, Operation: op, EntityType: singularize(rest)}, true
	}
	if readVerbs[verb] {
		return toolAction{Write: false, EntityType: singularize(rest)}, true
	}
	return toolAction{}, false
}

// singularize strips a trailing plural from list_* tool names. The gateway's
// entity nouns pluralize regularly (queues, schemas, hooks, email_templates).
func singularize(entity string) string {
	if strings.HasSuffix(entity, "ses") || strings.HasSuffix(entity, "xes") {
		return strings.TrimSuffix(entity, "es")
	}
	if strings.HasSuffix(entity, "s") && !strings.HasSuffix(entity, "ss") {
		return strings.TrimSuffix(entity, "s")
	}
	return entity
}

// WriteTarget resolves the entity a write tool call addresses. ok is false
// for reads, tools outside the verb_entity scheme, and writes without a
// resolvable id (creates).
func WriteTarget(toolName string, args map[string]any) (entityType, entityID string, ok bool) {
	action, known := classifyTool(toolName)
	if !known || !action.Write {
		return "", "", false
	}
	id, found := entityIDFromArgs(action.EntityType, args)
	if !found {
		return "", "", false
	}
	return action.EntityType, id, true
}

// entityIDFromArgs finds the target entity id in a tool's arguments.
// Accepts "<entity>_id" or plain "id"; ids may arrive as numbers or strings.
func entityIDFromArgs(entityType string, args map[string]any) (string, bool) {
	for _, key := range []string{entityType + "_id", "id"} {
		if v, ok := args[key]; ok {
			return formatID(v), true
		}
	}
	return "", false
}

// entityIDFromState pulls the id out of an entity's JSON state. Used for
// create results, where the id only exists after the write.
func entityIDFromState(state json.RawMessage) (string, bool) {
	var probe struct {
		ID any `json:"id"`
	}
	if err := json.Unmarshal(state, &probe); err != nil || probe.ID == nil {
		return "", false
	}
	return formatID(probe.ID), true
}

func formatID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	case int:
		return fmt.Sprintf("%d", id)
	case json.Number:
		return id.String()
	default:
		return fmt.Sprintf("%v", id)
	}
}
