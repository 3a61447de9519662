// Package session owns per-chat in-process runtime state: credentials,
// output directory, last memory, loaded tool categories, the task tracker,
// and the active run handle.
//
// All of this state is keyed by chat id in a shared registry and accessed
// under locks. It must never travel through context values: the SSE
// keepalive runs on a detached timer goroutine, and any state snapshotted
// into a derived context at spawn time would go stale the moment a tool
// dispatcher mutates the original.
package session

import (
	"context"
	"sync"

	"github.com/docpilot-ai/agentd/pkg/models"
)

// Credentials are the downstream platform credentials for one chat.
// Held in memory only; never persisted.
type Credentials struct {
	Token   string
	BaseURL string
}

// RunState is the per-chat runtime record. One exists per known chat for
// the life of the process; the active run handle within it turns over on
// each message.
type RunState struct {
	ChatID string

	mu          sync.Mutex
	credentials Credentials
	outputDir   string
	lastMemory  *models.Memory
	categories  map[string]struct{}
	artifacts   map[string]string
	tasks       *TaskTracker

	run *activeRun
}

// activeRun is the handle for one in-flight message dispatch.
type activeRun struct {
	runID  string
	cancel context.CancelFunc
	done   chan struct{}
}

func newRunState(chatID string, creds Credentials) *RunState {
	return &RunState{
		ChatID:      chatID,
		credentials: creds,
		categories:  make(map[string]struct{}),
		artifacts:   make(map[string]string),
		tasks:       NewTaskTracker(),
	}
}

// Credentials returns the chat's downstream credentials.
func (r *RunState) Credentials() Credentials {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.credentials
}

// OutputDir returns the chat's output directory, empty until first set.
func (r *RunState) OutputDir() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outputDir
}

// SetOutputDir records the chat's output directory.
func (r *RunState) SetOutputDir(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputDir = dir
}

// Memory returns the last persisted memory snapshot, or nil.
func (r *RunState) Memory() *models.Memory {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastMemory
}

// SetMemory stores the memory snapshot produced by a completed iteration.
func (r *RunState) SetMemory(mem *models.Memory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastMemory = mem
}

// LoadCategories marks tool categories as loaded for this chat.
// Once loaded, a category stays loaded for the chat's lifetime.
func (r *RunState) LoadCategories(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		r.categories[name] = struct{}{}
	}
}

// LoadedCategories returns the set of loaded tool categories.
func (r *RunState) LoadedCategories() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.categories))
	for name := range r.categories {
		names = append(names, name)
	}
	return names
}

// HasCategory reports whether a category is loaded for this chat.
func (r *RunState) HasCategory(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.categories[name]
	return ok
}

// SetPlanArtifact stores the rendered planning artifact of one kind
// ("sow" or "plan"). Recording a kind again replaces the previous artifact.
func (r *RunState) SetPlanArtifact(kind, rendered string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.artifacts[kind] = rendered
}

// PlanArtifacts returns the rendered planning artifacts, statement of work
// first, for prompt injection.
func (r *RunState) PlanArtifacts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, kind := range []string{"sow", "plan"} {
		if rendered, ok := r.artifacts[kind]; ok && rendered != "" {
			out = append(out, rendered)
		}
	}
	return out
}

// Tasks returns the chat's task tracker.
func (r *RunState) Tasks() *TaskTracker {
	return r.tasks
}

// RunID returns the id of the active run, or "".
func (r *RunState) RunID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.run == nil {
		return ""
	}
	return r.run.runID
}
