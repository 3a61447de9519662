package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/docpilot-ai/agentd/pkg/agent"
	"github.com/docpilot-ai/agentd/pkg/config"
	"github.com/docpilot-ai/agentd/pkg/models"
	"github.com/docpilot-ai/agentd/pkg/session"
	"github.com/docpilot-ai/agentd/pkg/storage"
	"github.com/docpilot-ai/agentd/pkg/tools"
)

// memStore is an in-memory Store for handler tests.
type memStore struct {
	mu      sync.Mutex
	chats   map[string]*models.Chat
	order   []string
	msgs    map[string][]models.Message
	commits map[string]*models.ConfigCommit
	logs    map[string][]string
	reads   map[string]json.RawMessage
	snaps   map[string]json.RawMessage
	pingErr error
}

func newMemStore() *memStore {
	return &memStore{
		chats:   make(map[string]*models.Chat),
		msgs:    make(map[string][]models.Message),
		commits: make(map[string]*models.ConfigCommit),
		logs:    make(map[string][]string),
		reads:   make(map[string]json.RawMessage),
		snaps:   make(map[string]json.RawMessage),
	}
}

func (m *memStore) SaveChat(_ context.Context, chat *models.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chats[chat.ID]; !ok {
		m.order = append(m.order, chat.ID)
	}
	cp := *chat
	m.chats[chat.ID] = &cp
	return nil
}

func (m *memStore) GetChat(_ context.Context, chatID string) (*models.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chat, ok := m.chats[chatID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *chat
	return &cp, nil
}

func (m *memStore) ListChats(_ context.Context, limit, offset int) ([]*models.Chat, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 20
	}
	total := len(m.order)
	var out []*models.Chat
	for i := total - 1 - offset; i >= 0 && len(out) < limit; i-- {
		cp := *m.chats[m.order[i]]
		out = append(out, &cp)
	}
	return out, total, nil
}

func (m *memStore) DeleteChat(_ context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chats, chatID)
	delete(m.msgs, chatID)
	for i, id := range m.order {
		if id == chatID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *memStore) AppendMessage(_ context.Context, chatID string, msg models.Message) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.Seq = len(m.msgs[chatID])
	m.msgs[chatID] = append(m.msgs[chatID], msg)
	return msg.Seq, nil
}

func (m *memStore) GetMessages(_ context.Context, chatID string) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Message(nil), m.msgs[chatID]...), nil
}

func (m *memStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingErr
}

func (m *memStore) SaveCommit(_ context.Context, c *models.ConfigCommit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits[c.Hash] = c
	m.logs[c.ChatID] = append(m.logs[c.ChatID], c.Hash)
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

func (m *memStore) ListCommits(_ context.Context, chatID string, n int) ([]*models.ConfigCommit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	log := m.logs[chatID]
	var out []*models.ConfigCommit
	for i := len(log) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, m.commits[log[i]])
	}
	return out, nil
}

func (m *memStore) LatestCommitHash(_ context.Context, chatID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	log := m.logs[chatID]
	if len(log) == 0 {
		return "", storage.ErrNotFound
	}
	return log[len(log)-1], nil
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

// fakeGateway implements gatewayDialer with scripted tool handlers.
type fakeGateway struct {
	mu       sync.Mutex
	descs    []tools.Descriptor
	handlers map[string]func(args map[string]any) (string, bool, error)
	calls    []string
	closed   bool
}

func newFakeGateway(descs ...tools.Descriptor) *fakeGateway {
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

func (g *fakeGateway) Connect(context.Context) error { return nil }

func (g *fakeGateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
}

func (g *fakeGateway) Descriptors(context.Context) ([]tools.Descriptor, error) {
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

// failingGateway refuses to connect.
type failingGateway struct{}

func (failingGateway) Connect(context.Context) error { return fmt.Errorf("connection refused") }
func (failingGateway) Close()                        {}
func (failingGateway) Descriptors(context.Context) ([]tools.Descriptor, error) {
	return nil, fmt.Errorf("not connected")
}
func (failingGateway) Call(context.Context, string, map[string]any) (string, bool, error) {
	return "", false, fmt.Errorf("not connected")
}

func gatewayDesc(name, category string, readOnly, hidden bool) tools.Descriptor {
	return tools.Descriptor{
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

// scriptLLM plays back scripted chunk turns.
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

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		HTTPPort:              "0",
		APIToken:              "default-token",
		APIBaseURL:            "https://api.example.com",
		Mode:                  config.ModeReadWrite,
		Model:                 "big-model",
		SmallModel:            "small-model",
		MaxTokens:             1024,
		MaxIterations:         10,
		SubAgentMaxIterations: 3,
		ToolTimeout:           time.Second,
		KeepaliveInterval:     time.Minute,
		SupersedeGrace:        time.Second,
		WriteStallLimit:       5 * time.Second,
		OutputDir:             t.TempDir(),
		SkillsDir:             t.TempDir(),
	}
}

// newTestServer builds a Server over in-memory fakes. The gateway returned
// by every dial is the shared fake.
func newTestServer(t *testing.T, llm agent.LLMClient, gateway *fakeGateway) (*Server, *memStore) {
	t.Helper()
	store := newMemStore()
	if llm == nil {
		llm = &scriptLLM{}
	}
	if gateway == nil {
		gateway = newFakeGateway()
	}
	s := NewServer(testConfig(t), store, session.NewRegistry(time.Second), llm)
	s.dialGateway = func(session.Credentials) gatewayDialer { return gateway }
	return s, store
}
