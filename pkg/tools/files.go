package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// SanitizeFilename reduces a model-chosen filename to a safe basename:
// path separators and traversal sequences are stripped, unsafe characters
// replaced with underscores.
func SanitizeFilename(name string) (string, error) {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.ReplaceAll(base, "..", "")
	base = unsafeFilenameChars.ReplaceAllString(base, "_")
	base = strings.Trim(base, "._")
	if base == "" {
		return "", fmt.Errorf("filename %q reduces to nothing after sanitization", name)
	}
	return base, nil
}

// writeOutputFile writes content into the chat's output directory, creating
// the directory on first use. Returns the sanitized filename and byte size.
func writeOutputFile(dir, filename, content string) (string, int64, error) {
	safe, err := SanitizeFilename(filename)
	if err != nil {
		return "", 0, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, safe)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", 0, fmt.Errorf("write %s: %w", safe, err)
	}
	return safe, int64(len(content)), nil
}
