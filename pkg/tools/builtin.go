package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/docpilot-ai/agentd/pkg/agent"
	"github.com/docpilot-ai/agentd/pkg/events"
	"github.com/docpilot-ai/agentd/pkg/models"
)

// builtinTool pairs a definition with its handler. Builtins marked ReadOnly
// have only local side effects (files, tasks, category loading); the ones
// that write platform configuration carry ReadOnly=false and drop out of the
// schema in read-only mode.
type builtinTool struct {
	def agent.ToolDefinition
	run func(ctx context.Context, args map[string]any) (string, error)
}

// builtinOrder fixes the schema order; the base surface stays small so the
// initial tool schema is cheap, with load_tool_category opening the rest.
var builtinOrder = []string{
	"list_tool_categories",
	"load_tool_category",
	"search_knowledge_base",
	"write_file",
	"create_task",
	"update_task",
	"record_plan",
	"list_skills",
	"load_skill",
	"list_commits",
	"revert_commit",
	"patch_schema_verified",
	"create_schema",
	"suggest_lookup_field",
}

func builtinTools(d *Dispatcher) map[string]builtinTool {
	builtins := map[string]builtinTool{
		"list_tool_categories": {
			def: agent.ToolDefinition{
				Name:        "list_tool_categories",
				Description: "List the available tool categories and which ones are loaded.",
				InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
				ReadOnly:    true,
			},
			run: d.runListCategories,
		},
		"load_tool_category": {
			def: agent.ToolDefinition{
				Name:        "load_tool_category",
				Description: "Load one or more tool categories into the chat. Loaded categories stay loaded.",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"categories":{"type":"array","items":{"type":"string"},"minItems":1}},"required":["categories"]}`),
				ReadOnly:    true,
			},
			run: d.runLoadCategories,
		},
		"write_file": {
			def: agent.ToolDefinition{
				Name:        "write_file",
				Description: "Write a text file into the chat's output directory. The user can download it afterwards.",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"filename":{"type":"string"},"content":{"type":"string"}},"required":["filename","content"]}`),
				ReadOnly:    true,
			},
			run: d.runWriteFile,
		},
		"create_task": {
			def: agent.ToolDefinition{
				Name:        "create_task",
				Description: "Add a task to the chat's task list. Use it to plan multi-step work.",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"subject":{"type":"string","minLength":1}},"required":["subject"]}`),
				ReadOnly:    true,
			},
			run: d.runCreateTask,
		},
		"update_task": {
			def: agent.ToolDefinition{
				Name:        "update_task",
				Description: "Update a task's status.",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"task_id":{"type":"string"},"status":{"type":"string","enum":["pending","in_progress","completed"]}},"required":["task_id","status"]}`),
				ReadOnly:    true,
			},
			run: d.runUpdateTask,
		},
		"record_plan": {
			def: agent.ToolDefinition{
				Name: "record_plan",
				Description: "Record the chat's statement of work or implementation plan. " +
					"The active artifact stays in context across iterations; present it to the user for approval.",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"kind":{"type":"string","enum":["sow","plan"]},"title":{"type":"string","minLength":1},"content":{"type":"string","minLength":1}},"required":["kind","title","content"]}`),
				ReadOnly:    true,
			},
			run: d.runRecordPlan,
		},
		"list_skills": {
			def: agent.ToolDefinition{
				Name:        "list_skills",
				Description: "List the available skill documents.",
				InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
				ReadOnly:    true,
			},
			run: d.runListSkills,
		},
		"load_skill": {
			def: agent.ToolDefinition{
				Name:        "load_skill",
				Description: "Load a skill document into the conversation.",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`),
				ReadOnly:    true,
			},
			run: d.runLoadSkill,
		},
		"list_commits": {
			def: agent.ToolDefinition{
				Name:        "list_commits",
				Description: "List this chat's configuration commits, newest first.",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"limit":{"type":"integer","minimum":1,"maximum":50}}}`),
				ReadOnly:    true,
			},
			run: d.runListCommits,
		},
		"revert_commit": {
			def: agent.ToolDefinition{
				Name:        "revert_commit",
				Description: "Revert a configuration commit by hash. Records the restoration as a new commit.",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"commit_hash":{"type":"string","minLength":6}},"required":["commit_hash"]}`),
				ReadOnly:    false,
			},
			run: d.runRevertCommit,
		},
	}
	for name, b := range subAgentTools(d) {
		builtins[name] = b
	}
	return builtins
}

func (d *Dispatcher) runListCategories(ctx context.Context, _ map[string]any) (string, error) {
	catalog, err := d.cache.get(ctx, d.gateway)
	if err != nil {
		return "", err
	}

	loaded := make(map[string]bool)
	for _, name := range d.state.LoadedCategories() {
		loaded[name] = true
	}

	var sb strings.Builder
	sb.WriteString("Tool categories:\n")
	for _, name := range catalog.CategoryNames() {
		marker := " "
		if loaded[name] {
			marker = "*"
		}
		fmt.Fprintf(&sb, "%s %s (%d tools)\n", marker, name, len(catalog.ForCategories([]string{name})))
	}
	sb.WriteString("* = loaded")
	return sb.String(), nil
}

func (d *Dispatcher) runLoadCategories(ctx context.Context, args map[string]any) (string, error) {
	catalog, err := d.cache.get(ctx, d.gateway)
	if err != nil {
		return "", err
	}

	known := make(map[string]bool)
	for _, name := range catalog.CategoryNames() {
		known[name] = true
	}

	raw, _ := args["categories"].([]any)
	var names []string
	for _, v := range raw {
		name, _ := v.(string)
		if !known[name] {
			return "", fmt.Errorf("unknown category %q; call list_tool_categories for the available set", name)
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no categories given")
	}

	d.state.LoadCategories(names...)
	return fmt.Sprintf("Loaded categories: %s. Their tools are now available.",
		strings.Join(names, ", ")), nil
}

func (d *Dispatcher) runWriteFile(_ context.Context, args map[string]any) (string, error) {
	filename, _ := args["filename"].(string)
	content, _ := args["content"].(string)

	dir := d.state.OutputDir()
	if dir == "" {
		dir = filepath.Join(d.cfg.OutputRoot, d.cfg.ChatID)
		d.state.SetOutputDir(dir)
	}

	safe, size, err := writeOutputFile(dir, filename, content)
	if err != nil {
		return "", err
	}

	d.emitter.Emit(events.FileCreatedEvent{Filename: safe, Size: size})
	return fmt.Sprintf("Wrote %s (%d bytes).", safe, size), nil
}

func (d *Dispatcher) runCreateTask(_ context.Context, args map[string]any) (string, error) {
	subject, _ := args["subject"].(string)
	item, snapshot := d.state.Tasks().Add(subject)
	d.emitTaskSnapshot(snapshot)

	data, err := json.Marshal(item)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (d *Dispatcher) runUpdateTask(_ context.Context, args map[string]any) (string, error) {
	id, _ := args["task_id"].(string)
	status, _ := args["status"].(string)

	item, snapshot, err := d.state.Tasks().Update(id, models.TaskStatus(status))
	if err != nil {
		return "", err
	}
	d.emitTaskSnapshot(snapshot)

	data, err := json.Marshal(item)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (d *Dispatcher) emitTaskSnapshot(snapshot []models.TaskItem) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		d.logger.Warn("task snapshot marshal failed", "error", err)
		return
	}
	d.emitter.Emit(events.TaskSnapshotEvent{Tasks: data})
}

func (d *Dispatcher) runRecordPlan(_ context.Context, args map[string]any) (string, error) {
	kind, _ := args["kind"].(string)
	title, _ := args["title"].(string)
	content, _ := args["content"].(string)

	label := "Statement of work"
	if kind == "plan" {
		label = "Implementation plan"
	}
	d.state.SetPlanArtifact(kind, fmt.Sprintf("%s: %s\n\n%s", label, title, content))
	return fmt.Sprintf("Recorded %s %q. It stays in context for this chat.", label, title), nil
}

func (d *Dispatcher) runListSkills(_ context.Context, _ map[string]any) (string, error) {
	names, err := SkillNames(d.cfg.SkillsDir)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "No skills are installed.", nil
	}
	return "Available skills: " + strings.Join(names, ", "), nil
}

func (d *Dispatcher) runLoadSkill(_ context.Context, args map[string]any) (string, error) {
	name, _ := args["name"].(string)
	safe, err := SanitizeFilename(name)
	if err != nil {
		return "", err
	}
	safe = strings.TrimSuffix(safe, ".md")

	data, err := os.ReadFile(filepath.Join(d.cfg.SkillsDir, safe+".md"))
	if err != nil {
		return "", fmt.Errorf("skill %q not found", name)
	}
	return string(data), nil
}

// SkillNames lists the skill documents in dir. A missing directory means no
// skills are installed.
func SkillNames(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read skills dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".md"))
	}
	return names, nil
}

func (d *Dispatcher) runListCommits(ctx context.Context, args map[string]any) (string, error) {
	limit := 10
	if v, ok := args["limit"].(float64); ok {
		limit = int(v)
	}

	commits, err := d.store.ListCommits(ctx, d.cfg.ChatID, limit)
	if err != nil {
		return "", err
	}
	if len(commits) == 0 {
		return "No configuration commits in this chat.", nil
	}

	var sb strings.Builder
	for _, c := range commits {
		fmt.Fprintf(&sb, "%s  %s  (%d changes)  %s\n",
			c.Hash, c.Timestamp.Format("2006-01-02 15:04:05"), len(c.Changes), c.Message)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (d *Dispatcher) runRevertCommit(ctx context.Context, args map[string]any) (string, error) {
	hash, _ := args["commit_hash"].(string)

	// Changes still pending from this iteration are committed first so the
	// revert does not fold them into its own commit.
	if d.recorder.HasPending() {
		if _, err := d.FlushCommit(ctx, ""); err != nil {
			return "", fmt.Errorf("flush pending changes: %w", err)
		}
	}

	commit, err := d.reverter.Revert(ctx, d.cfg.ChatID, hash)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Reverted %s in new commit %s: %s", hash, commit.Hash, commit.Message), nil
}
