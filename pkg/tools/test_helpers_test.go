package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/docpilot-ai/agentd/pkg/agent"
	"github.com/docpilot-ai/agentd/pkg/config"
	"github.com/docpilot-ai/agentd/pkg/events"
	"github.com/docpilot-ai/agentd/pkg/models"
	"github.com/docpilot-ai/agentd/pkg/session"
	"github.com/docpilot-ai/agentd/pkg/storage"
)

// fakeGateway serves a fixed descriptor set and scripts call results.
type fakeGateway struct {
	mu       sync.Mutex
	descs    []Descriptor
	handlers map[string]func(args map[string]any) (string, bool, error)
	calls    []string
}

func newFakeGateway(descs ...Descriptor) *fakeGateway {
	return &fakeGateway{
		descs:    descs,
		handlers: make(map[string]func(map[string]any) (string, bool, error)),
	}
}

func (g *fakeGateway) on(name string, fn func(args map[string]any) (string, bool, error)) {
	g.handlers[name] = fn
}

func (g *fakeGateway) onStatic(name, content string) {
	g.on(name, func(map[string]any) (string, bool, error) { return content, false, nil })
}

func (g *fakeGateway) Descriptors(context.Context) ([]Descriptor, error) {
	return g.descs, nil
}

func (g *fakeGateway) Call(_ context.Context, name string, args map[string]any) (string, bool, error) {
	g.mu.Lock()
	g.calls = append(g.calls, name)
	fn := g.handlers[name]
	g.mu.Unlock()
	if fn == nil {
		return fmt.Sprintf("no handler for %s", name), true, nil
	}
	return fn(args)
}

func gatewayDesc(name, category string, readOnly, hidden bool) Descriptor {
	return Descriptor{
		ToolDefinition: agent.ToolDefinition{
			Name:        name,
			Description: "gateway tool " + name,
			InputSchema: json.RawMessage(`{"type":"object"}`),
			ReadOnly:    readOnly,
			Category:    category,
		},
		Hidden: hidden,
	}
}

// memStore is an in-memory tracking.Store.
type memStore struct {
	mu      sync.Mutex
	commits map[string]*models.ConfigCommit
	log     []string
	reads   map[string]json.RawMessage
	snaps   map[string]json.RawMessage
}

func newMemStore() *memStore {
	return &memStore{
		commits: make(map[string]*models.ConfigCommit),
		reads:   make(map[string]json.RawMessage),
		snaps:   make(map[string]json.RawMessage),
	}
}

func (m *memStore) SaveCommit(_ context.Context, c *models.ConfigCommit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits[c.Hash] = c
	m.log = append(m.log, c.Hash)
	return nil
}

func (m *memStore) GetCommit(_ context.Context, hash string) (*models.ConfigCommit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.commits[hash]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return c, nil
}

func (m *memStore) ListCommits(_ context.Context, _ string, n int) ([]*models.ConfigCommit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ConfigCommit
	for i := len(m.log) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, m.commits[m.log[i]])
	}
	return out, nil
}

func (m *memStore) LatestCommitHash(_ context.Context, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.log) == 0 {
		return "", storage.ErrNotFound
	}
	return m.log[len(m.log)-1], nil
}

func (m *memStore) SaveSnapshot(_ context.Context, et, id, hash string, state json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[et+":"+id+":"+hash] = state
	return nil
}

func (m *memStore) GetSnapshot(_ context.Context, et, id, hash string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snaps[et+":"+id+":"+hash]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s, nil
}

func (m *memStore) GetCachedRead(_ context.Context, chatID, et, id string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.reads[chatID+":"+et+":"+id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s, nil
}

func (m *memStore) CacheRead(_ context.Context, chatID, et, id string, state json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads[chatID+":"+et+":"+id] = state
	return nil
}

func (m *memStore) InvalidateCachedRead(_ context.Context, chatID, et, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reads, chatID+":"+et+":"+id)
	return nil
}

// captureEmitter records events.
type captureEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (e *captureEmitter) Emit(ev events.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *captureEmitter) all() []events.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]events.Event(nil), e.events...)
}

// scriptLLM plays back scripted chunk turns for sub-agent tests.
type scriptLLM struct {
	mu    sync.Mutex
	turns [][]agent.Chunk
	next  int
}

func (l *scriptLLM) Stream(_ context.Context, _ *agent.LLMRequest) (<-chan agent.Chunk, error) {
	l.mu.Lock()
	var turn []agent.Chunk
	if l.next < len(l.turns) {
		turn = l.turns[l.next]
		l.next++
	}
	l.mu.Unlock()

	ch := make(chan agent.Chunk, len(turn)+1)
	for _, c := range turn {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (l *scriptLLM) Complete(context.Context, string, string, string, int) (string, error) {
	return "scripted summary", nil
}

func (l *scriptLLM) Close() error { return nil }

func newTestDispatcher(mode config.Mode, gateway Gateway, store *memStore, llm agent.LLMClient, emitter agent.Emitter, outputRoot string) (*Dispatcher, *session.RunState) {
	state := session.NewRegistry(time.Second).Register("chat-1", session.Credentials{Token: "t"})
	if llm == nil {
		llm = &scriptLLM{}
	}
	if emitter == nil {
		emitter = &captureEmitter{}
	}
	d := NewDispatcher(DispatcherConfig{
		ChatID:                "chat-1",
		Mode:                  mode,
		OutputRoot:            outputRoot,
		SubAgentModel:         "small-model",
		SubAgentMaxTokens:     512,
		SubAgentMaxIterations: 5,
	}, state, gateway, store, llm, emitter, agent.NewUsageRecorder())
	return d, state
}
