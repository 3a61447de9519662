package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/docpilot-ai/agentd/pkg/models"
	"github.com/docpilot-ai/agentd/pkg/storage"
)

// memStore is an in-memory Store for unit tests.
type memStore struct {
	mu        sync.Mutex
	commits   map[string]*models.ConfigCommit
	log       map[string][]string // chatID → hashes, oldest first
	snapshots map[string]json.RawMessage
	reads     map[string]json.RawMessage
}

func newMemStore() *memStore {
	return &memStore{
		commits:   make(map[string]*models.ConfigCommit),
		log:       make(map[string][]string),
		snapshots: make(map[string]json.RawMessage),
		reads:     make(map[string]json.RawMessage),
	}
}

func (m *memStore) SaveCommit(_ context.Context, commit *models.ConfigCommit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits[commit.Hash] = commit
	m.log[commit.ChatID] = append(m.log[commit.ChatID], commit.Hash)
	return nil
}

func (m *memStore) GetCommit(_ context.Context, hash string) (*models.ConfigCommit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	commit, ok := m.commits[hash]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return commit, nil
}

func (m *memStore) ListCommits(_ context.Context, chatID string, n int) ([]*models.ConfigCommit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hashes := m.log[chatID]
	var out []*models.ConfigCommit
	for i := len(hashes) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, m.commits[hashes[i]])
	}
	return out, nil
}

func (m *memStore) LatestCommitHash(_ context.Context, chatID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hashes := m.log[chatID]
	if len(hashes) == 0 {
		return "", storage.ErrNotFound
	}
	return hashes[len(hashes)-1], nil
}

func (m *memStore) SaveSnapshot(_ context.Context, entityType, entityID, commitHash string, state json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[entityType+":"+entityID+":"+commitHash] = state
	return nil
}

func (m *memStore) GetSnapshot(_ context.Context, entityType, entityID, commitHash string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.snapshots[entityType+":"+entityID+":"+commitHash]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return state, nil
}

func readKey(chatID, entityType, entityID string) string {
	return chatID + ":" + entityType + ":" + entityID
}

func (m *memStore) GetCachedRead(_ context.Context, chatID, entityType, entityID string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.reads[readKey(chatID, entityType, entityID)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return state, nil
}

func (m *memStore) CacheRead(_ context.Context, chatID, entityType, entityID string, state json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads[readKey(chatID, entityType, entityID)] = state
	return nil
}

func (m *memStore) InvalidateCachedRead(_ context.Context, chatID, entityType, entityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reads, readKey(chatID, entityType, entityID))
	return nil
}

// fakeGateway scripts gateway responses by tool name. Handlers run in
// registration order when multiple are queued for the same tool.
type fakeGateway struct {
	mu       sync.Mutex
	handlers map[string][]func(args map[string]any) (string, bool, error)
	calls    []gatewayCall
}

type gatewayCall struct {
	Name string
	Args map[string]any
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{handlers: make(map[string][]func(map[string]any) (string, bool, error))}
}

func (g *fakeGateway) on(name string, fn func(args map[string]any) (string, bool, error)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers[name] = append(g.handlers[name], fn)
}

// onStatic registers a handler that always returns the same content.
func (g *fakeGateway) onStatic(name, content string) {
	g.on(name, func(map[string]any) (string, bool, error) {
		return content, false, nil
	})
}

func (g *fakeGateway) Call(_ context.Context, name string, args map[string]any) (string, bool, error) {
	g.mu.Lock()
	g.calls = append(g.calls, gatewayCall{Name: name, Args: args})
	queue := g.handlers[name]
	var fn func(map[string]any) (string, bool, error)
	switch {
	case len(queue) == 0:
		g.mu.Unlock()
		return fmt.Sprintf("no handler for %s", name), true, nil
	case len(queue) == 1:
		fn = queue[0]
	default:
		fn = queue[0]
		g.handlers[name] = queue[1:]
	}
	g.mu.Unlock()
	return fn(args)
}

func (g *fakeGateway) callNames() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := make([]string, len(g.calls))
	for i, c := range g.calls {
		names[i] = c.Name
	}
	return names
}
