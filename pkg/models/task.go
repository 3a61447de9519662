package models

// TaskStatus is the lifecycle state of one tracked task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// TaskItem is one entry in the per-chat task tracker. Items are ephemeral:
// they live only for the duration of the chat's in-process state.
type TaskItem struct {
	ID      string     `json:"id"`
	Subject string     `json:"subject"`
	Status  TaskStatus `json:"status"`
	Order   int        `json:"order"`
}
