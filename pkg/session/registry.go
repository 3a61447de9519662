package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrChatNotRegistered is returned when an operation names an unknown chat.
var ErrChatNotRegistered = errors.New("session: chat not registered")

// Registry maps chat ids to their RunState and enforces the one-active-run
// invariant: starting a run for a chat cancels and waits out its predecessor.
type Registry struct {
	mu     sync.RWMutex
	chats  map[string]*RunState
	grace  time.Duration
	logger *slog.Logger
}

// NewRegistry creates a registry. grace bounds how long StartRun waits for
// a superseded run to wind down.
func NewRegistry(grace time.Duration) *Registry {
	return &Registry{
		chats:  make(map[string]*RunState),
		grace:  grace,
		logger: slog.With("component", "session.Registry"),
	}
}

// Register installs an empty RunState for a newly created chat.
// Registering an already-known chat replaces its credentials but keeps
// accumulated state.
func (g *Registry) Register(chatID string, creds Credentials) *RunState {
	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.chats[chatID]; ok {
		existing.mu.Lock()
		existing.credentials = creds
		existing.mu.Unlock()
		return existing
	}
	st := newRunState(chatID, creds)
	g.chats[chatID] = st
	return st
}

// Get returns the RunState for a chat, or nil when unknown.
func (g *Registry) Get(chatID string) *RunState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.chats[chatID]
}

// StartRun cancels any active run for the chat, waits up to the grace
// period for it to finish, then installs a new run derived from parent.
// The returned context is cancelled on supersession, explicit cancel, or
// FinishRun. The caller must call FinishRun when the run completes.
func (g *Registry) StartRun(parent context.Context, chatID string) (context.Context, string, error) {
	g.mu.RLock()
	st := g.chats[chatID]
	g.mu.RUnlock()
	if st == nil {
		return nil, "", ErrChatNotRegistered
	}

	st.mu.Lock()
	predecessor := st.run
	st.mu.Unlock()

	if predecessor != nil {
		g.logger.Info("Superseding active run",
			"chat_id", chatID, "predecessor_run_id", predecessor.runID)
		predecessor.cancel()
		select {
		case <-predecessor.done:
		case <-time.After(g.grace):
			g.logger.Warn("Superseded run did not finish within grace period",
				"chat_id", chatID, "run_id", predecessor.runID, "grace", g.grace)
		}
	}

	ctx, cancel := context.WithCancel(parent)
	run := &activeRun{
		runID:  uuid.New().String(),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	st.mu.Lock()
	st.run = run
	st.mu.Unlock()

	return ctx, run.runID, nil
}

// FinishRun marks a run as finished. It is a no-op when the run has already
// been superseded by a newer one.
func (g *Registry) FinishRun(chatID, runID string) {
	g.mu.RLock()
	st := g.chats[chatID]
	g.mu.RUnlock()
	if st == nil {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.run == nil || st.run.runID != runID {
		return
	}
	st.run.cancel()
	close(st.run.done)
	st.run = nil
}

// CancelRun trips the active run's cancellation token. Returns false when
// the chat is unknown or idle. Used by the explicit cancel endpoint and by
// disconnect detection; the run itself still calls FinishRun on exit.
func (g *Registry) CancelRun(chatID string) bool {
	g.mu.RLock()
	st := g.chats[chatID]
	g.mu.RUnlock()
	if st == nil {
		return false
	}

	st.mu.Lock()
	run := st.run
	st.mu.Unlock()
	if run == nil {
		return false
	}
	run.cancel()
	return true
}

// Remove cancels any active run and forgets the chat.
func (g *Registry) Remove(chatID string) {
	g.CancelRun(chatID)
	g.mu.Lock()
	delete(g.chats, chatID)
	g.mu.Unlock()
}
