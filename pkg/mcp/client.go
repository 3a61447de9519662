// Package mcp connects the agent to the document-platform gateway over the
// Model Context Protocol. Every platform operation the agent can take,
// from reading queues to patching schemas and updating hooks, is a tool
// call relayed through this package.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/docpilot-ai/agentd/pkg/config"
	"github.com/docpilot-ai/agentd/pkg/session"
	"github.com/docpilot-ai/agentd/pkg/version"
)

// Client holds one gateway session, scoped to a single chat. The chat's
// credentials are baked into the transport, so a Client is never shared
// across chats. Safe for concurrent use within a chat (parallel tool calls).
type Client struct {
	cfg   *config.Config
	creds session.Credentials

	mu      sync.RWMutex
	client  *mcpsdk.Client
	session *mcpsdk.ClientSession

	// Tool list cache. Populated on first ListTools, cleared on reconnect.
	toolCache   []*mcpsdk.Tool
	toolCacheMu sync.RWMutex

	// Serializes connect/reconnect attempts.
	connectMu sync.Mutex

	logger *slog.Logger
}

// NewClient creates a client for one chat's credentials. Connect must be
// called before any gateway operation.
func NewClient(cfg *config.Config, creds session.Credentials) *Client {
	return &Client{
		cfg:    cfg,
		creds:  creds,
		logger: slog.Default().With("component", "mcp"),
	}
}

// Connect establishes the gateway session. Returns nil if already connected.
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	c.mu.RLock()
	if c.session != nil {
		c.mu.RUnlock()
		return nil
	}
	c.mu.RUnlock()

	transport, err := createTransport(c.cfg, c.creds)
	if err != nil {
		return err
	}

	initCtx, cancel := context.WithTimeout(ctx, InitTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	sess, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		// Close the transport if it owns resources (stdio child processes).
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		return fmt.Errorf("connect to MCP gateway: %w", err)
	}

	c.mu.Lock()
	c.client = client
	c.session = sess
	c.mu.Unlock()

	c.logger.Info("MCP gateway connected")
	return nil
}

// ListTools returns the gateway's tool list. Cached after the first call;
// the cache is cleared whenever the session is rebuilt.
func (c *Client) ListTools(ctx context.Context) ([]*mcpsdk.Tool, error) {
	c.toolCacheMu.RLock()
	if c.toolCache != nil {
		cached := c.toolCache
		c.toolCacheMu.RUnlock()
		return cached, nil
	}
	c.toolCacheMu.RUnlock()

	sess, err := c.currentSession()
	if err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()

	result, err := sess.ListTools(opCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("list gateway tools: %w", err)
	}

	tools := result.Tools
	if tools == nil {
		tools = []*mcpsdk.Tool{}
	}
	c.toolCacheMu.Lock()
	c.toolCache = tools
	c.toolCacheMu.Unlock()

	return tools, nil
}

// CallTool executes a gateway tool. On a recoverable failure it retries once
// after a jittered backoff, rebuilding the session if the transport broke.
// Tool-level failures (result.IsError) are returned to the caller as data,
// never as a Go error.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcpsdk.CallToolResult, error) {
	params := &mcpsdk.CallToolParams{Name: name, Arguments: args}

	result, err := c.callToolOnce(ctx, params)
	if err == nil {
		return result, nil
	}

	action := ClassifyError(err)
	if action == NoRetry {
		return nil, err
	}

	c.logger.Info("gateway call failed, retrying",
		"tool", name, "action", action, "error", err)

	backoff := RetryBackoffMin + time.Duration(rand.Int64N(int64(RetryBackoffMax-RetryBackoffMin)))
	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if action == RetryNewSession {
		if err := c.reconnect(ctx); err != nil {
			return nil, fmt.Errorf("gateway reconnect failed: %w", err)
		}
	}

	result, err = c.callToolOnce(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("retry of %s failed: %w", name, err)
	}
	return result, nil
}

func (c *Client) callToolOnce(ctx context.Context, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error) {
	sess, err := c.currentSession()
	if err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()

	return sess.CallTool(opCtx, params)
}

func (c *Client) currentSession() (*mcpsdk.ClientSession, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil, fmt.Errorf("not connected to MCP gateway")
	}
	return c.session, nil
}

// reconnect tears down the session and builds a fresh one.
func (c *Client) reconnect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.session != nil {
		_ = c.session.Close()
		c.session = nil
		c.client = nil
	}
	c.mu.Unlock()

	c.toolCacheMu.Lock()
	c.toolCache = nil
	c.toolCacheMu.Unlock()

	reinitCtx, cancel := context.WithTimeout(ctx, ReconnectTimeout)
	defer cancel()
	return c.connectLocked(reinitCtx)
}

// Close shuts down the session and its transport.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	c.client = nil
	return err
}

// Connected reports whether a gateway session is live.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session != nil
}

// NormalizeResult flattens a gateway result into a single text payload and
// an error flag. Text blocks are concatenated; when the gateway returned
// structured content and no text, the structure is serialized instead.
func NormalizeResult(result *mcpsdk.CallToolResult) (string, bool) {
	var parts []string
	for _, content := range result.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		} else {
			slog.Debug("gateway returned non-text content, skipping",
				"content_type", fmt.Sprintf("%T", content))
		}
	}

	if len(parts) == 0 && result.StructuredContent != nil {
		if data, err := json.Marshal(result.StructuredContent); err == nil {
			return string(data), result.IsError
		}
	}

	return strings.Join(parts, "\n"), result.IsError
}

// DecodeArguments parses a model-produced argument payload into the map the
// gateway expects. An empty payload means a no-parameter tool.
func DecodeArguments(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("decode tool arguments: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
