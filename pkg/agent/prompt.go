package agent

import (
	"fmt"
	"strings"

	"github.com/docpilot-ai/agentd/pkg/config"
)

// PromptInput carries everything the system prompt is composed from.
type PromptInput struct {
	Mode    config.Mode
	Persona config.Persona
	// Skills are the loaded skill documents, prepended verbatim.
	Skills []string
	// LoadedCategories informs the model which tool bundles are active.
	LoadedCategories []string
	// URLContext is the platform location the user is viewing, nil when
	// the message carried no URL.
	URLContext *URLContext
	// PlanArtifacts are the rendered active statement-of-work and plan
	// documents, carried across iterations.
	PlanArtifacts []string
}

const basePrompt = `You are a document-processing platform assistant. You help
users inspect and configure their organization: queues, schemas, hooks,
engines, workspaces, and related resources.

Work step by step. Use the task tracker for multi-step work so the user can
follow progress. Prefer loading a tool category with load_tool_category over
guessing; the catalog tool lists what is available. When you produce files,
write them with write_file and tell the user the filename.

Answer in the user's language. Be concise; configuration mistakes are
expensive, so state exactly what you changed and where.`

const readOnlySection = `The session is READ-ONLY. You cannot create, update,
patch, or delete anything. If the user asks for a change, explain what you
would do and tell them to rerun in read-write mode. Do not attempt write
tools; none are available to you.`

const readWriteSection = `The session is READ-WRITE. Every write you make is
recorded as a config commit and can be reverted, but prefer getting it right:
read the current state before patching, and patch minimally.`

const cautiousSection = `Operate cautiously. Before any write, restate what
will change and why. When a request is ambiguous, ask a clarifying question
instead of guessing. Flag destructive operations explicitly.`

// BuildSystemPrompt composes the system prompt from persona, mode, skills,
// loaded-category context, the user's current platform location, and any
// active plan artifacts.
func BuildSystemPrompt(in PromptInput) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n\n")

	if in.Mode == config.ModeReadOnly {
		b.WriteString(readOnlySection)
	} else {
		b.WriteString(readWriteSection)
	}

	if in.Persona == config.PersonaCautious {
		b.WriteString("\n\n")
		b.WriteString(cautiousSection)
	}

	if len(in.LoadedCategories) > 0 {
		b.WriteString("\n\nLoaded tool categories: ")
		b.WriteString(strings.Join(in.LoadedCategories, ", "))
		b.WriteString(".")
	}

	if in.URLContext != nil {
		b.WriteString("\n\nThe user is currently viewing")
		for i, e := range in.URLContext.Entities {
			if i > 0 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, " %s %s", e.Type, e.ID)
		}
		if in.URLContext.Host != "" {
			b.WriteString(" on " + in.URLContext.Host)
		}
		b.WriteString(". Prefer these when the request is ambiguous about its target.")
	}

	for _, artifact := range in.PlanArtifacts {
		if artifact == "" {
			continue
		}
		b.WriteString("\n\n---\n\n")
		b.WriteString(artifact)
	}

	for _, skill := range in.Skills {
		if skill == "" {
			continue
		}
		b.WriteString("\n\n---\n\n")
		b.WriteString(skill)
	}
	return b.String()
}
