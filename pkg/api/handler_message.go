package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/docpilot-ai/agentd/pkg/agent"
	"github.com/docpilot-ai/agentd/pkg/commands"
	"github.com/docpilot-ai/agentd/pkg/config"
	"github.com/docpilot-ai/agentd/pkg/events"
	"github.com/docpilot-ai/agentd/pkg/mcp"
	"github.com/docpilot-ai/agentd/pkg/models"
	"github.com/docpilot-ai/agentd/pkg/session"
	"github.com/docpilot-ai/agentd/pkg/storage"
	"github.com/docpilot-ai/agentd/pkg/tools"
)

// SendMessageRequest is the body for POST /chats/{id}/messages.
type SendMessageRequest struct {
	Content string `json:"content"`
	Mode    string `json:"mode"`
	Persona string `json:"persona"`
	// URL is the platform app URL the user is viewing, if the client knows
	// it. Entities named in it steer ambiguous requests.
	URL         string       `json:"url"`
	Attachments []Attachment `json:"attachments"`
}

// Attachment is an inline image attachment.
type Attachment struct {
	MediaType string `json:"media_type"`
	Data      string `json:"data"` // base64
}

// persistTimeout bounds store writes made after the run context is gone.
const persistTimeout = 10 * time.Second

func (s *Server) handleSendMessage(c *gin.Context) {
	chatID := c.Param("id")

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}
	if req.Mode != "" && !config.ValidMode(req.Mode) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mode: " + req.Mode})
		return
	}
	if req.Persona != "" && !config.ValidPersona(req.Persona) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid persona: " + req.Persona})
		return
	}

	chat, err := s.store.GetChat(c.Request.Context(), chatID)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
		return
	}
	if err != nil {
		s.logger.Error("Failed to get chat", "chat_id", chatID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get chat"})
		return
	}
	if req.Mode != "" {
		chat.Mode = req.Mode
	}
	if req.Persona != "" {
		chat.Persona = req.Persona
	}

	state := s.registry.Register(chatID, requestCredentials(c))
	gateway := s.dialGateway(state.Credentials())

	if commands.IsCommand(req.Content) {
		s.runSlashCommand(c, chat, req.Content, gateway)
		return
	}

	runCtx, runID, err := s.registry.StartRun(context.Background(), chatID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start run"})
		return
	}

	stream := newSSEStream(s.cfg.WriteStallLimit, func() { s.registry.CancelRun(chatID) })
	go s.runAgent(runCtx, runID, chat, state, req, gateway, stream)
	s.streamEvents(c, chatID, stream)
}

// runSlashCommand answers a slash command over the same SSE shape the agent
// uses: one final_answer step, then done.
func (s *Server) runSlashCommand(c *gin.Context, chat *models.Chat, content string, gateway gatewayDialer) {
	defer gateway.Close()

	ctx := c.Request.Context()
	userMsg := models.TextMessage(models.RoleUser, content)

	registry := commands.NewRegistry(s.store, s.cfg.SkillsDir, gateway)
	out, err := registry.Execute(ctx, chat.ID, content)
	if err != nil {
		out = "Command failed: " + err.Error()
	}

	s.persistExchange(ctx, chat, userMsg, models.TextMessage(models.RoleAssistant, out))

	sseHeaders(c)
	w := c.Writer
	writeFrame(w, events.StepEvent{
		Type:       events.StepFinalAnswer,
		StepNumber: 1,
		Content:    out,
		IsFinal:    true,
	})
	writeFrame(w, events.DoneEvent{})
	w.Flush()
}

// runAgent executes one message dispatch end to end. It always emits done
// and closes the stream, whatever happens to the run.
func (s *Server) runAgent(
	ctx context.Context,
	runID string,
	chat *models.Chat,
	state *session.RunState,
	req SendMessageRequest,
	gateway gatewayDialer,
	stream *sseStream,
) {
	done := events.DoneEvent{}
	defer func() {
		stream.Emit(done)
		close(stream.ch)
		gateway.Close()
		s.registry.FinishRun(chat.ID, runID)
	}()

	loadCtx, cancelLoad := context.WithTimeout(context.Background(), persistTimeout)
	defer cancelLoad()

	memory := state.Memory()
	if memory == nil {
		// Process restart: rebuild the working memory from the transcript.
		msgs, err := s.store.GetMessages(loadCtx, chat.ID)
		if err != nil {
			s.failBeforeRun(stream, "failed to load chat history: "+err.Error())
			return
		}
		memory = &models.Memory{Messages: msgs}
	}

	firstMessage := chat.MessageCount == 0
	userMsg := buildUserMessage(req)
	memory.Append(userMsg)
	baseLen := len(memory.Messages)
	s.persistExchange(loadCtx, chat, userMsg)

	if err := gateway.Connect(ctx); err != nil {
		s.failBeforeRun(stream, "failed to reach the tool gateway: "+err.Error())
		return
	}

	controller := agent.NewController(s.llm, stream, agent.ControllerConfig{
		Model:          s.cfg.Model,
		MaxTokens:      s.cfg.MaxTokens,
		ThinkingBudget: s.cfg.ThinkingBudget,
		MaxIterations:  s.cfg.MaxIterations,
		ToolTimeout:    s.cfg.ToolTimeout,
	})
	dispatcher := tools.NewDispatcher(tools.DispatcherConfig{
		ChatID:                chat.ID,
		Mode:                  config.Mode(chat.Mode),
		OutputRoot:            s.cfg.OutputDir,
		SkillsDir:             s.cfg.SkillsDir,
		SubAgentModel:         s.cfg.SmallModel,
		SubAgentMaxTokens:     s.cfg.MaxTokens,
		SubAgentMaxIterations: s.cfg.SubAgentMaxIterations,
	}, state, gateway, s.store, s.llm, stream, controller.Usage())

	if firstMessage {
		if loaded := dispatcher.PreloadCategories(req.Content); len(loaded) > 0 {
			s.logger.Info("Pre-loaded tool categories",
				"chat_id", chat.ID, "categories", loaded)
		}
	}

	result, runErr := controller.Run(ctx, agent.RunInput{
		Memory:   memory,
		Executor: dispatcher,
		Prompt: func() agent.PromptInput {
			return agent.PromptInput{
				Mode:             config.Mode(chat.Mode),
				Persona:          config.Persona(chat.Persona),
				LoadedCategories: state.LoadedCategories(),
				URLContext:       agent.ExtractURLContext(req.URL),
				PlanArtifacts:    state.PlanArtifacts(),
			}
		},
	})
	if runErr != nil {
		s.logger.Error("Run failed", "chat_id", chat.ID, "run_id", runID, "error", runErr)
	}
	if result == nil {
		return
	}

	done.Cancelled = result.Cancelled
	done.TokenUsage = result.Usage

	// The run context may already be cancelled; persistence gets its own.
	persistCtx, cancelPersist := context.WithTimeout(context.Background(), persistTimeout)
	defer cancelPersist()

	// Cancellation terminates silently: no commit is recorded.
	if !result.Cancelled && runErr == nil {
		commit, err := dispatcher.FlushCommit(persistCtx, req.Content)
		if err != nil {
			s.logger.Error("Failed to commit config changes", "chat_id", chat.ID, "error", err)
		} else if commit != nil {
			done.Commit = &events.CommitSummary{
				Hash:        commit.Hash,
				Message:     commit.Message,
				ChangeCount: len(commit.Changes),
			}
		}
	}

	state.SetMemory(result.Memory)
	for _, msg := range result.Memory.Messages[baseLen:] {
		if _, err := s.store.AppendMessage(persistCtx, chat.ID, msg); err != nil {
			s.logger.Error("Failed to persist message", "chat_id", chat.ID, "error", err)
			break
		}
	}
}

// failBeforeRun reports a failure that happened before the loop started.
func (s *Server) failBeforeRun(stream *sseStream, msg string) {
	stream.Emit(events.StepEvent{
		Type:       events.StepError,
		StepNumber: 1,
		Content:    msg,
		IsFinal:    true,
	})
}

// persistExchange appends messages to the transcript and refreshes the chat
// metadata. The first user message becomes the chat preview.
func (s *Server) persistExchange(ctx context.Context, chat *models.Chat, msgs ...models.Message) {
	for _, msg := range msgs {
		if _, err := s.store.AppendMessage(ctx, chat.ID, msg); err != nil {
			s.logger.Error("Failed to persist message", "chat_id", chat.ID, "error", err)
			return
		}
		if msg.Role == models.RoleUser {
			if chat.MessageCount == 0 {
				chat.Preview = models.TruncatePreview(msg.FirstText())
			}
			chat.MessageCount++
		}
	}
	if err := s.store.SaveChat(ctx, chat); err != nil {
		s.logger.Error("Failed to update chat metadata", "chat_id", chat.ID, "error", err)
	}
}

func buildUserMessage(req SendMessageRequest) models.Message {
	msg := models.TextMessage(models.RoleUser, req.Content)
	for _, att := range req.Attachments {
		msg.Blocks = append(msg.Blocks, models.ContentBlock{
			Type:           models.BlockImage,
			ImageMediaType: att.MediaType,
			ImageData:      att.Data,
		})
	}
	return msg
}

// chatGateway is the per-message gateway handle: an MCP client bound to the
// chat's credentials, connected on first use.
type chatGateway struct {
	client *mcp.Client
	inner  *tools.MCPGateway

	connectOnce sync.Once
	connectErr  error
}

func newChatGateway(cfg *config.Config, creds session.Credentials) *chatGateway {
	client := mcp.NewClient(cfg, creds)
	return &chatGateway{
		client: client,
		inner:  tools.NewMCPGateway(client),
	}
}

func (g *chatGateway) Connect(ctx context.Context) error {
	g.connectOnce.Do(func() {
		g.connectErr = g.client.Connect(ctx)
	})
	return g.connectErr
}

func (g *chatGateway) Descriptors(ctx context.Context) ([]tools.Descriptor, error) {
	if err := g.Connect(ctx); err != nil {
		return nil, err
	}
	return g.inner.Descriptors(ctx)
}

func (g *chatGateway) Call(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	if err := g.Connect(ctx); err != nil {
		return "", false, err
	}
	return g.inner.Call(ctx, name, args)
}

func (g *chatGateway) Close() {
	if err := g.client.Close(); err != nil {
		slog.Warn("Failed to close MCP client", "error", err)
	}
}
