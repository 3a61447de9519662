package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/docpilot-ai/agentd/pkg/agent"
)

const patchSchemaSystem = `You are a schema-editing specialist for a document-processing platform.
Apply the requested change with update_schema, then re-read the schema with get_schema
and verify the change landed exactly as requested. If the verification shows a
discrepancy, correct it. Conclude with a short summary of what changed.`

const createSchemaSystem = `You are a schema-design specialist for a document-processing platform.
Create the requested schema with create_schema, keeping field ids snake_case and
labels human-readable. Re-read the created schema to confirm its structure, then
conclude with the new schema id and a field summary.`

const knowledgeBaseSystem = `You research a document-processing platform's configuration to answer a question.
Use the read tools to inspect the relevant objects, cross-check what you find, and
conclude with a direct, sourced answer. Do not modify anything.`

const lookupFieldSystem = `You design lookup fields for a document-processing platform.
Inspect the target schema and any referenced datasets with the read tools, then
propose a lookup field: field id (snake_case, derived from the label), section
placement, and the matching rule implementing the requested logic. Conclude with
the suggested field definition as JSON ready for patch_schema, plus a short
rationale. Do not modify anything.`

// subAgentTools are builtins that internally run a bounded nested agent loop
// against a restricted tool subset.
func subAgentTools(d *Dispatcher) map[string]builtinTool {
	return map[string]builtinTool{
		"patch_schema_verified": {
			def: agent.ToolDefinition{
				Name: "patch_schema_verified",
				Description: "Apply a described change to a schema and verify the result. " +
					"Preferred over raw schema editing.",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"schema_id":{"type":["integer","string"]},"instructions":{"type":"string","minLength":1}},"required":["schema_id","instructions"]}`),
				ReadOnly:    false,
			},
			run: d.runPatchSchemaVerified,
		},
		"create_schema": {
			def: agent.ToolDefinition{
				Name:        "create_schema",
				Description: "Design and create a new schema from a description, verifying the result.",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"description":{"type":"string","minLength":1}},"required":["description"]}`),
				ReadOnly:    false,
			},
			run: d.runCreateSchema,
		},
		"suggest_lookup_field": {
			def: agent.ToolDefinition{
				Name: "suggest_lookup_field",
				Description: "Suggest a lookup field for a schema: matching rule and field " +
					"definition, ready to apply with schema patching.",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"label":{"type":"string","minLength":1},"hint":{"type":"string","minLength":1},"schema_id":{"type":["integer","string"]},"section_id":{"type":"string","minLength":1},"dataset":{"type":"string"}},"required":["label","hint","schema_id","section_id"]}`),
				ReadOnly:    true,
			},
			run: d.runSuggestLookupField,
		},
		"search_knowledge_base": {
			def: agent.ToolDefinition{
				Name:        "search_knowledge_base",
				Description: "Research the platform's configuration to answer a question, with analysis.",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","minLength":1}},"required":["query"]}`),
				ReadOnly:    true,
			},
			run: d.runSearchKnowledgeBase,
		},
	}
}

func (d *Dispatcher) newSubAgent(toolName, system string) *agent.SubAgent {
	return agent.NewSubAgent(d.llm, d.emitter, d.usage, agent.SubAgentConfig{
		ToolName:      toolName,
		System:        system,
		Model:         d.cfg.SubAgentModel,
		MaxTokens:     d.cfg.SubAgentMaxTokens,
		MaxIterations: d.cfg.SubAgentMaxIterations,
	})
}

func (d *Dispatcher) runPatchSchemaVerified(ctx context.Context, args map[string]any) (string, error) {
	instructions, _ := args["instructions"].(string)
	task := fmt.Sprintf("Schema %v. Requested change: %s", args["schema_id"], instructions)

	return d.newSubAgent("patch_schema_verified", patchSchemaSystem).
		Run(ctx, task, d.subset(func(desc Descriptor) bool {
			return desc.Category == "schemas"
		}))
}

func (d *Dispatcher) runCreateSchema(ctx context.Context, args map[string]any) (string, error) {
	description, _ := args["description"].(string)

	return d.newSubAgent("create_schema", createSchemaSystem).
		Run(ctx, "Create a schema: "+description, d.subset(func(desc Descriptor) bool {
			return desc.Category == "schemas"
		}))
}

func (d *Dispatcher) runSuggestLookupField(ctx context.Context, args map[string]any) (string, error) {
	label, _ := args["label"].(string)
	hint, _ := args["hint"].(string)

	task := fmt.Sprintf("Schema %v, section %v. Suggest a lookup field labeled %q. Matching logic: %s",
		args["schema_id"], args["section_id"], label, hint)
	if dataset, _ := args["dataset"].(string); dataset != "" {
		task += fmt.Sprintf(" (dataset: %s)", dataset)
	}

	return d.newSubAgent("suggest_lookup_field", lookupFieldSystem).
		Run(ctx, task, d.subset(func(desc Descriptor) bool {
			if !desc.ReadOnly {
				return false
			}
			switch desc.Category {
			case "schemas", "queues", "datasets":
				return true
			}
			return false
		}))
}

func (d *Dispatcher) runSearchKnowledgeBase(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)

	return d.newSubAgent("search_knowledge_base", knowledgeBaseSystem).
		Run(ctx, query, d.subset(func(desc Descriptor) bool {
			return desc.ReadOnly && !desc.Hidden
		}))
}

// subset builds an executor over the slice of the catalog a sub-agent may
// touch. Hidden tools are reachable when the predicate admits them; the
// read-only mode gate and change tracking still apply on every call.
func (d *Dispatcher) subset(allow func(Descriptor) bool) agent.ToolExecutor {
	return &subsetExecutor{d: d, allow: allow}
}

type subsetExecutor struct {
	d     *Dispatcher
	allow func(Descriptor) bool
}

func (s *subsetExecutor) Definitions(ctx context.Context) ([]agent.ToolDefinition, error) {
	catalog, err := s.d.cache.get(ctx, s.d.gateway)
	if err != nil {
		return nil, err
	}
	var defs []agent.ToolDefinition
	for _, name := range sortedNames(catalog.byName) {
		desc := catalog.byName[name]
		if s.allow(desc) {
			defs = append(defs, desc.ToolDefinition)
		}
	}
	return defs, nil
}

func (s *subsetExecutor) Execute(ctx context.Context, call agent.ToolCall) agent.ToolResult {
	catalog, err := s.d.cache.get(ctx, s.d.gateway)
	if err != nil {
		return errorResult(call, fmt.Sprintf("tool catalog unavailable: %s", err))
	}
	desc, ok := catalog.Lookup(call.Name)
	if !ok || !s.allow(desc) {
		return errorResult(call, fmt.Sprintf("tool %q is not available to this sub-agent", call.Name))
	}
	return s.d.executeGateway(ctx, call, desc)
}
