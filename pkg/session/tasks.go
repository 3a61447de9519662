package session

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/docpilot-ai/agentd/pkg/models"
)

// TaskTracker is the per-chat task list. Mutations are atomic with snapshot
// capture so concurrent tool calls cannot interleave a half-applied update
// into a broadcast.
type TaskTracker struct {
	mu        sync.Mutex
	tasks     map[string]models.TaskItem
	nextOrder int
}

// NewTaskTracker creates an empty tracker.
func NewTaskTracker() *TaskTracker {
	return &TaskTracker{tasks: make(map[string]models.TaskItem)}
}

// Add creates a pending task and returns it with the post-mutation snapshot.
func (t *TaskTracker) Add(subject string) (models.TaskItem, []models.TaskItem) {
	t.mu.Lock()
	defer t.mu.Unlock()
	item := models.TaskItem{
		ID:      uuid.New().String(),
		Subject: subject,
		Status:  models.TaskPending,
		Order:   t.nextOrder,
	}
	t.nextOrder++
	t.tasks[item.ID] = item
	return item, t.snapshotLocked()
}

// Update changes a task's status and returns it with the post-mutation
// snapshot.
func (t *TaskTracker) Update(id string, status models.TaskStatus) (models.TaskItem, []models.TaskItem, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	item, ok := t.tasks[id]
	if !ok {
		return models.TaskItem{}, nil, fmt.Errorf("task %s not found", id)
	}
	item.Status = status
	t.tasks[id] = item
	return item, t.snapshotLocked(), nil
}

// Snapshot returns all tasks in insertion order.
func (t *TaskTracker) Snapshot() []models.TaskItem {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *TaskTracker) snapshotLocked() []models.TaskItem {
	items := make([]models.TaskItem, 0, len(t.tasks))
	for _, item := range t.tasks {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Order < items[j].Order })
	return items
}
