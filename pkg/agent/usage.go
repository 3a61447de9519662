package agent

import (
	"sync"

	"github.com/docpilot-ai/agentd/pkg/events"
)

// UsageRecorder accumulates token usage for one run, separating the main
// agent from each sub-agent tool. Safe for concurrent use: parallel tool
// dispatch records sub-agent usage from multiple goroutines.
type UsageRecorder struct {
	mu        sync.Mutex
	main      events.UsageTotals
	subAgents map[string]events.UsageTotals
}

// NewUsageRecorder creates an empty recorder.
func NewUsageRecorder() *UsageRecorder {
	return &UsageRecorder{subAgents: make(map[string]events.UsageTotals)}
}

// RecordMain adds usage from a main-agent model call.
func (r *UsageRecorder) RecordMain(u events.UsageTotals) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.main.Add(u)
}

// RecordSubAgent adds usage from a sub-agent model call, keyed by the
// parent tool name.
func (r *UsageRecorder) RecordSubAgent(toolName string, u events.UsageTotals) {
	r.mu.Lock()
	defer r.mu.Unlock()
	totals := r.subAgents[toolName]
	totals.Add(u)
	r.subAgents[toolName] = totals
}

// Breakdown returns the accumulated usage with the grand total rolled up.
func (r *UsageRecorder) Breakdown() *events.UsageBreakdown {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := &events.UsageBreakdown{
		Total:     r.main,
		MainAgent: r.main,
	}
	if len(r.subAgents) > 0 {
		b.SubAgents = make(map[string]events.UsageTotals, len(r.subAgents))
		for tool, totals := range r.subAgents {
			b.SubAgents[tool] = totals
			b.Total.Add(totals)
		}
	}
	return b
}
