package events

import "encoding/json"

// StepEvent is the payload for "step" events: one agent step of any type.
// See the package doc for the streaming lifecycle contract.
type StepEvent struct {
	Type          string          `json:"type"`                     // thinking, intermediate, tool_start, tool_result, final_answer, error
	StepNumber    int             `json:"step_number"`              // non-decreasing within one run
	Content       string          `json:"content,omitempty"`        // accumulated text for streaming types
	ToolName      string          `json:"tool_name,omitempty"`      // tool_start / tool_result
	ToolArguments json.RawMessage `json:"tool_arguments,omitempty"` // tool_start
	ToolProgress  *ToolProgress   `json:"tool_progress,omitempty"`  // current/total within a parallel batch
	Result        string          `json:"result,omitempty"`         // tool_result
	IsError       bool            `json:"is_error"`                 // tool_result: downstream failure surfaced as data
	IsStreaming   bool            `json:"is_streaming"`             // see lifecycle contract
	IsFinal       bool            `json:"is_final"`                 // final_answer / error: no further steps follow
	ToolCallID    string          `json:"tool_call_id,omitempty"`   // pairs tool_start with tool_result
}

// ToolProgress positions one tool call within its parallel batch.
type ToolProgress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

func (StepEvent) EventName() string { return EventStep }

// SubAgentProgressEvent is the payload for "sub_agent_progress" events,
// one per sub-agent iteration.
type SubAgentProgressEvent struct {
	ToolName  string `json:"tool_name"` // parent tool that spawned the sub-agent
	Iteration int    `json:"iteration"`
	MaxIter   int    `json:"max_iterations"`
	Status    string `json:"status,omitempty"`
}

func (SubAgentProgressEvent) EventName() string { return EventSubAgentProgress }

// SubAgentTextEvent is the payload for "sub_agent_text" events: accumulated
// sub-agent text, replaced by later events for the same tool and iteration.
type SubAgentTextEvent struct {
	ToolName  string `json:"tool_name"`
	Iteration int    `json:"iteration"`
	Content   string `json:"content"`
}

func (SubAgentTextEvent) EventName() string { return EventSubAgentText }

// TaskSnapshotEvent is the payload for "task_snapshot" events. The full task
// list is broadcast on every tracker mutation.
type TaskSnapshotEvent struct {
	Tasks json.RawMessage `json:"tasks"`
}

func (TaskSnapshotEvent) EventName() string { return EventTaskSnapshot }

// FileCreatedEvent is the payload for "file_created" events.
type FileCreatedEvent struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

func (FileCreatedEvent) EventName() string { return EventFileCreated }

// DoneEvent is the stream terminal. Always emitted, including after errors
// and cancellation.
type DoneEvent struct {
	Cancelled  bool            `json:"cancelled,omitempty"`
	TokenUsage *UsageBreakdown `json:"token_usage_breakdown,omitempty"`
	Commit     *CommitSummary  `json:"commit,omitempty"` // set when the run recorded a config commit
}

func (DoneEvent) EventName() string { return EventDone }

// UsageTotals is one bucket of token counters.
type UsageTotals struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheCreationTokens int `json:"cache_creation_tokens"`
	CacheReadTokens     int `json:"cache_read_tokens"`
}

// Add accumulates other into u.
func (u *UsageTotals) Add(other UsageTotals) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationTokens += other.CacheCreationTokens
	u.CacheReadTokens += other.CacheReadTokens
}

// UsageBreakdown separates main-agent usage from each sub-agent tool.
type UsageBreakdown struct {
	Total     UsageTotals            `json:"total"`
	MainAgent UsageTotals            `json:"main_agent"`
	SubAgents map[string]UsageTotals `json:"sub_agents,omitempty"` // keyed by parent tool name
}

// CommitSummary is the config-change summary attached to DoneEvent.
type CommitSummary struct {
	Hash        string `json:"hash"`
	Message     string `json:"message"`
	ChangeCount int    `json:"change_count"`
}
