// Package events defines the typed payloads delivered to clients over the
// SSE stream, and the event names they travel under.
//
// ════════════════════════════════════════════════════════════════
// Step Event Lifecycle
// ════════════════════════════════════════════════════════════════
//
// Step events follow one of two lifecycle patterns, discriminated by
// the IsStreaming field.
//
// Pattern 1: STREAMING (is_streaming: true)
//
//	step {type: "thinking",     step_number: 3, is_streaming: true, content: "..."}
//	step {type: "thinking",     step_number: 3, is_streaming: true, content: "... more"}
//	step {type: "intermediate", step_number: 3, is_streaming: true, content: "..."}
//
//	Repeated events sharing the same (step_number, type) replace one
//	another: each carries the full accumulated content so far, not a
//	delta. The server MAY finalize a step with is_streaming=false, but
//	is also permitted to move straight to the next (step_number, type)
//	tuple. Clients must commit the last streaming event they saw for a
//	tuple the moment the tuple changes.
//
//	Step types using this pattern:
//	  - thinking      (extended reasoning text)
//	  - intermediate  (assistant text produced alongside tool calls)
//	  - final_answer  (assistant text when no tool was called)
//
// Pattern 2: FIRE-AND-FORGET (is_streaming: false)
//
//	step {type: "tool_start",  ...}
//	step {type: "tool_result", ...}
//	step {type: "error", is_final: true, ...}
//
//	Emitted exactly once with final content. tool_start pairs with
//	tool_result by tool_call_id when present, by step_number otherwise.
//	error is terminal; done always follows it.
//
// ════════════════════════════════════════════════════════════════
package events

// SSE event names. Each event frame is "event: <name>\ndata: <json>\n\n".
const (
	EventStep             = "step"
	EventSubAgentProgress = "sub_agent_progress"
	EventSubAgentText     = "sub_agent_text"
	EventTaskSnapshot     = "task_snapshot"
	EventFileCreated      = "file_created"
	EventDone             = "done"
)

// Step types carried in StepEvent.Type.
const (
	StepThinking     = "thinking"
	StepIntermediate = "intermediate"
	StepToolStart    = "tool_start"
	StepToolResult   = "tool_result"
	StepFinalAnswer  = "final_answer"
	StepError        = "error"
)

// Event is any payload deliverable on the SSE stream.
type Event interface {
	// EventName returns the SSE event name for this payload.
	EventName() string
}
