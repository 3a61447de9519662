package api

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/docpilot-ai/agentd/pkg/config"
	"github.com/docpilot-ai/agentd/pkg/models"
	"github.com/docpilot-ai/agentd/pkg/storage"
)

// CreateChatRequest is the body for POST /chats.
type CreateChatRequest struct {
	Mode    string `json:"mode"`
	Persona string `json:"persona"`
}

func (s *Server) handleCreateChat(c *gin.Context) {
	var req CreateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Mode == "" {
		req.Mode = string(s.cfg.Mode)
	}
	if req.Persona == "" {
		req.Persona = string(config.PersonaDefault)
	}
	if !config.ValidMode(req.Mode) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mode: " + req.Mode})
		return
	}
	if !config.ValidPersona(req.Persona) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid persona: " + req.Persona})
		return
	}

	chat := &models.Chat{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		Mode:      req.Mode,
		Persona:   req.Persona,
	}
	if err := s.store.SaveChat(c.Request.Context(), chat); err != nil {
		s.logger.Error("Failed to save chat", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create chat"})
		return
	}
	s.registry.Register(chat.ID, requestCredentials(c))

	c.JSON(http.StatusCreated, gin.H{
		"chat_id":    chat.ID,
		"created_at": chat.CreatedAt,
	})
}

func (s *Server) handleListChats(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}

	chats, total, err := s.store.ListChats(c.Request.Context(), limit, offset)
	if err != nil {
		s.logger.Error("Failed to list chats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list chats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"chats":  chats,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) handleGetChat(c *gin.Context) {
	chatID := c.Param("id")
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
	messages, err := s.store.GetMessages(c.Request.Context(), chatID)
	if err != nil {
		s.logger.Error("Failed to get messages", "chat_id", chatID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"chat":     chat,
		"messages": messages,
	})
}

func (s *Server) handleDeleteChat(c *gin.Context) {
	chatID := c.Param("id")
	if _, err := s.store.GetChat(c.Request.Context(), chatID); errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
		return
	}

	s.registry.Remove(chatID)
	if err := s.store.DeleteChat(c.Request.Context(), chatID); err != nil {
		s.logger.Error("Failed to delete chat", "chat_id", chatID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete chat"})
		return
	}
	// Output files go with the chat.
	_ = os.RemoveAll(filepath.Join(s.cfg.OutputDir, chatID))

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (s *Server) handleCancel(c *gin.Context) {
	cancelled := s.registry.CancelRun(c.Param("id"))
	c.JSON(http.StatusAccepted, gin.H{"cancelled": cancelled})
}
