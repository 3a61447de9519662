package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/docpilot-ai/agentd/pkg/agent"
	"github.com/docpilot-ai/agentd/pkg/mcp"
)

// hiddenTools are gateway tools withheld from the main agent. Raw
// update_schema is replaced by the verified patch sub-agent; sub-agents with
// the schemas subset can still reach it.
var hiddenTools = map[string]bool{
	"update_schema": true,
}

// readOnlyVerbs classify gateway tools when the server omits the
// read-only annotation.
var readOnlyVerbs = map[string]bool{
	"get":      true,
	"list":     true,
	"retrieve": true,
	"search":   true,
}

// MCPGateway adapts the MCP client to the Gateway interface.
type MCPGateway struct {
	client *mcp.Client
}

func NewMCPGateway(client *mcp.Client) *MCPGateway {
	return &MCPGateway{client: client}
}

// Descriptors lists and categorizes the gateway's tools.
func (g *MCPGateway) Descriptors(ctx context.Context) ([]Descriptor, error) {
	tools, err := g.client.ListTools(ctx)
	if err != nil {
		return nil, err
	}

	descriptors := make([]Descriptor, 0, len(tools))
	for _, tool := range tools {
		schema, err := json.Marshal(tool.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("marshal schema for %s: %w", tool.Name, err)
		}
		descriptors = append(descriptors, Descriptor{
			ToolDefinition: agent.ToolDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				InputSchema: schema,
				ReadOnly:    isReadOnlyTool(tool),
				Category:    categoryForTool(tool.Name),
			},
			Hidden: hiddenTools[tool.Name],
		})
	}
	return descriptors, nil
}

// Call executes a gateway tool and flattens the result.
func (g *MCPGateway) Call(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	result, err := g.client.CallTool(ctx, name, args)
	if err != nil {
		return "", false, err
	}
	content, isError := mcp.NormalizeResult(result)
	return content, isError, nil
}

func isReadOnlyTool(tool *mcpsdk.Tool) bool {
	if tool.Annotations != nil {
		return tool.Annotations.ReadOnlyHint
	}
	verb, _, _ := strings.Cut(tool.Name, "_")
	return readOnlyVerbs[verb]
}

// categoryForTool derives the catalog category from a verb_entity tool name:
// patch_schema → schemas, list_email_templates → email_templates.
func categoryForTool(name string) string {
	_, entity, found := strings.Cut(name, "_")
	if !found {
		return "other"
	}
	entity = singularizeEntity(entity)
	for _, category := range Categories {
		if singularizeEntity(category) == entity {
			return category
		}
	}
	return "other"
}

func singularizeEntity(entity string) string {
	if strings.HasSuffix(entity, "ses") || strings.HasSuffix(entity, "xes") {
		return strings.TrimSuffix(entity, "es")
	}
	if strings.HasSuffix(entity, "s") && !strings.HasSuffix(entity, "ss") {
		return strings.TrimSuffix(entity, "s")
	}
	return entity
}
