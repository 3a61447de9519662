// Package tools is the agent's tool runtime: the catalog of gateway and
// builtin tools, dynamic category loading, argument validation, read-only
// gating, change-tracking interception, and sub-agent tools.
package tools

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/docpilot-ai/agentd/pkg/agent"
)

// Descriptor is a catalog entry. Hidden tools never appear in the main
// agent's schema; sub-agents with the right subset can still call them.
type Descriptor struct {
	agent.ToolDefinition
	Hidden bool
}

// Gateway is the downstream tool surface the runtime dispatches to.
// Implemented by the MCP adapter; faked in tests.
type Gateway interface {
	// Descriptors lists the gateway's tools, already categorized.
	Descriptors(ctx context.Context) ([]Descriptor, error)

	// Call executes a gateway tool. Tool failures come back as content with
	// isError set; err is reserved for transport-level breakage.
	Call(ctx context.Context, name string, args map[string]any) (content string, isError bool, err error)
}

// Categories of the downstream platform's configuration surface. The order
// here is the display order for list_tool_categories.
var Categories = []string{
	"annotations",
	"queues",
	"schemas",
	"hooks",
	"users",
	"rules",
	"workspaces",
	"engines",
	"email_templates",
	"document_relations",
	"relations",
}

// categoryKeywords drive pre-loading from the user's first message. Matching
// is word-boundary, case-insensitive.
var categoryKeywords = map[string][]string{
	"annotations":        {"annotation", "annotations", "document", "documents"},
	"queues":             {"queue", "queues", "inbox"},
	"schemas":            {"schema", "schemas", "field", "fields", "datapoint", "datapoints"},
	"hooks":              {"hook", "hooks", "webhook", "webhooks", "extension", "extensions"},
	"users":              {"user", "users", "member", "members"},
	"rules":              {"rule", "rules", "automation", "automations"},
	"workspaces":         {"workspace", "workspaces"},
	"engines":            {"engine", "engines", "extraction"},
	"email_templates":    {"email", "emails", "template", "templates"},
	"document_relations": {"document relation", "document relations"},
	"relations":          {"relation", "relations"},
}

var keywordPatterns = buildKeywordPatterns()

func buildKeywordPatterns() map[string]*regexp.Regexp {
	patterns := make(map[string]*regexp.Regexp, len(categoryKeywords))
	for category, keywords := range categoryKeywords {
		quoted := make([]string, len(keywords))
		for i, kw := range keywords {
			quoted[i] = regexp.QuoteMeta(kw)
		}
		patterns[category] = regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)
	}
	return patterns
}

// KeywordCategories returns the categories whose keywords appear in the
// message, sorted in catalog order.
func KeywordCategories(message string) []string {
	var matched []string
	for _, category := range Categories {
		if keywordPatterns[category].MatchString(message) {
			matched = append(matched, category)
		}
	}
	return matched
}

// Catalog indexes the gateway's descriptors by name and category. Built once
// per chat run from the gateway's tool list; immutable afterwards.
type Catalog struct {
	byName     map[string]Descriptor
	byCategory map[string][]Descriptor
}

func NewCatalog(descriptors []Descriptor) *Catalog {
	c := &Catalog{
		byName:     make(map[string]Descriptor, len(descriptors)),
		byCategory: make(map[string][]Descriptor),
	}
	for _, d := range descriptors {
		c.byName[d.Name] = d
		c.byCategory[d.Category] = append(c.byCategory[d.Category], d)
	}
	for _, list := range c.byCategory {
		sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	}
	return c
}

// Lookup finds a descriptor by tool name.
func (c *Catalog) Lookup(name string) (Descriptor, bool) {
	d, ok := c.byName[name]
	return d, ok
}

// ForCategories returns the visible descriptors of the loaded categories.
func (c *Catalog) ForCategories(loaded []string) []Descriptor {
	var out []Descriptor
	for _, category := range loaded {
		for _, d := range c.byCategory[category] {
			if d.Hidden {
				continue
			}
			out = append(out, d)
		}
	}
	return out
}

// CategoryNames returns every category the gateway actually offers tools
// for, in catalog order, followed by any unexpected extras alphabetically.
func (c *Catalog) CategoryNames() []string {
	seen := make(map[string]bool, len(c.byCategory))
	var out []string
	for _, category := range Categories {
		if _, ok := c.byCategory[category]; ok {
			out = append(out, category)
			seen[category] = true
		}
	}
	var extra []string
	for category := range c.byCategory {
		if !seen[category] {
			extra = append(extra, category)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

func sortedNames(byName map[string]Descriptor) []string {
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// catalogCache avoids re-listing the gateway for every Definitions call
// within one run.
type catalogCache struct {
	mu      sync.Mutex
	catalog *Catalog
}

func (cc *catalogCache) get(ctx context.Context, gateway Gateway) (*Catalog, error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.catalog != nil {
		return cc.catalog, nil
	}
	descriptors, err := gateway.Descriptors(ctx)
	if err != nil {
		return nil, err
	}
	cc.catalog = NewCatalog(descriptors)
	return cc.catalog, nil
}
