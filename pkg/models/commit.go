package models

import (
	"encoding/json"
	"time"
)

// ChangeOperation is the kind of write that produced an EntityChange.
type ChangeOperation string

const (
	OpCreate ChangeOperation = "create"
	OpUpdate ChangeOperation = "update"
	OpDelete ChangeOperation = "delete"
)

// EntityChange records one entity-level write: the entity identity plus its
// state before and after the write. Before is null for creates, After is
// null for deletes.
type EntityChange struct {
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	EntityName string          `json:"entity_name,omitempty"`
	Operation  ChangeOperation `json:"operation"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
}

// ConfigCommit is an atomic, immutable record of the entity writes produced
// by one agent iteration. Reverting a commit appends a new forward commit;
// existing commits are never mutated.
type ConfigCommit struct {
	Hash        string         `json:"hash"`
	Parent      string         `json:"parent,omitempty"`
	ChatID      string         `json:"chat_id"`
	Timestamp   time.Time      `json:"timestamp"`
	Author      string         `json:"author,omitempty"` // tool name that produced the mutation
	Message     string         `json:"message"`
	UserRequest string         `json:"user_request,omitempty"`
	Changes     []EntityChange `json:"changes"`
}
