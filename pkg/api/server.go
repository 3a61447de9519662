// Package api is the HTTP surface: chat CRUD, the SSE message endpoint,
// cancellation, output-file access, slash-command metadata, and health.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docpilot-ai/agentd/pkg/agent"
	"github.com/docpilot-ai/agentd/pkg/config"
	"github.com/docpilot-ai/agentd/pkg/models"
	"github.com/docpilot-ai/agentd/pkg/session"
	"github.com/docpilot-ai/agentd/pkg/tools"
	"github.com/docpilot-ai/agentd/pkg/tracking"
)

// Store is the persistence surface the API layer uses. Satisfied by
// *storage.Store; faked in tests.
type Store interface {
	tracking.Store

	SaveChat(ctx context.Context, chat *models.Chat) error
	GetChat(ctx context.Context, chatID string) (*models.Chat, error)
	ListChats(ctx context.Context, limit, offset int) ([]*models.Chat, int, error)
	DeleteChat(ctx context.Context, chatID string) error
	AppendMessage(ctx context.Context, chatID string, msg models.Message) (int, error)
	GetMessages(ctx context.Context, chatID string) ([]models.Message, error)
	Ping(ctx context.Context) error
}

// gatewayDialer is the per-chat downstream gateway handle.
type gatewayDialer interface {
	tools.Gateway
	Connect(ctx context.Context) error
	Close()
}

// Server wires the HTTP handlers to the runtime.
type Server struct {
	cfg      *config.Config
	store    Store
	registry *session.Registry
	llm      agent.LLMClient

	// dialGateway builds the MCP gateway for one chat's credentials.
	// Replaceable in tests.
	dialGateway func(creds session.Credentials) gatewayDialer

	createLimiter  *credentialLimiter
	messageLimiter *credentialLimiter

	logger *slog.Logger
}

// NewServer builds the API server. The llm client is shared by all runs.
func NewServer(cfg *config.Config, store Store, registry *session.Registry, llm agent.LLMClient) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		registry: registry,
		llm:      llm,
		dialGateway: func(creds session.Credentials) gatewayDialer {
			return newChatGateway(cfg, creds)
		},
		createLimiter:  newCredentialLimiter(chatCreatePerMinute),
		messageLimiter: newCredentialLimiter(messagePerMinute),
		logger:         slog.With("component", "api"),
	}
}

// Handler builds the gin engine with all routes mounted.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))

	r.GET("/health", s.handleHealth)
	r.GET("/commands", s.handleListCommands)

	chats := r.Group("/chats", s.credentials())
	{
		chats.POST("", s.rateLimit(s.createLimiter), s.handleCreateChat)
		chats.GET("", s.handleListChats)
		chats.GET("/:id", s.handleGetChat)
		chats.DELETE("/:id", s.handleDeleteChat)
		chats.POST("/:id/messages", s.rateLimit(s.messageLimiter), s.handleSendMessage)
		chats.POST("/:id/cancel", s.handleCancel)
		chats.GET("/:id/files", s.handleListFiles)
		chats.GET("/:id/files/:name", s.handleDownloadFile)
	}
	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	s.logger.Info("HTTP server listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
