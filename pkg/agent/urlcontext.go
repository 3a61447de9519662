package agent

import (
	"net/url"
	"strings"
)

// URLContext is the platform location the user was viewing when they sent
// the message, parsed from an app URL.
type URLContext struct {
	Host     string
	Entities []URLEntity
}

// URLEntity is one entity named in the URL path, e.g. queue 123 for
// a /queues/123/... segment pair.
type URLEntity struct {
	Type string
	ID   string
}

var urlEntityNouns = map[string]string{
	"workspaces":  "workspace",
	"queues":      "queue",
	"schemas":     "schema",
	"hooks":       "hook",
	"annotations": "annotation",
	"documents":   "document",
}

// ExtractURLContext parses a platform app URL into the entities it names.
// Returns nil when raw is empty, unparseable, or names no known entities.
func ExtractURLContext(raw string) *URLContext {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	uc := &URLContext{Host: u.Host}
	for i := 0; i+1 < len(segments); i++ {
		noun, ok := urlEntityNouns[segments[i]]
		if !ok || !isNumericID(segments[i+1]) {
			continue
		}
		uc.Entities = append(uc.Entities, URLEntity{Type: noun, ID: segments[i+1]})
	}
	if len(uc.Entities) == 0 {
		return nil
	}
	return uc
}

func isNumericID(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
