// Package models contains the persisted domain types shared across packages:
// chats, messages, content blocks, and task items.
package models

import "time"

// Chat is the persisted metadata for one conversation.
// Credentials are held in the session registry only and never stored here.
type Chat struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	Preview      string    `json:"preview"`
	Mode         string    `json:"mode"`
	Persona      string    `json:"persona"`
	MessageCount int       `json:"message_count"`
}

// PreviewMaxLen bounds the stored preview of the first user message.
const PreviewMaxLen = 120

// TruncatePreview shortens s to PreviewMaxLen runes for chat listings.
func TruncatePreview(s string) string {
	runes := []rune(s)
	if len(runes) <= PreviewMaxLen {
		return s
	}
	return string(runes[:PreviewMaxLen]) + "…"
}
