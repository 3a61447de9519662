package api

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/docpilot-ai/agentd/pkg/commands"
	"github.com/docpilot-ai/agentd/pkg/tools"
)

// OutputFile describes one file in a chat's output directory.
type OutputFile struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

func (s *Server) handleListFiles(c *gin.Context) {
	dir := filepath.Join(s.cfg.OutputDir, c.Param("id"))
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		c.JSON(http.StatusOK, gin.H{"files": []OutputFile{}})
		return
	}
	if err != nil {
		s.logger.Error("Failed to list output files", "dir", dir, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list files"})
		return
	}

	files := make([]OutputFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, OutputFile{Name: entry.Name(), Size: info.Size()})
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

func (s *Server) handleDownloadFile(c *gin.Context) {
	// Sanitizing confines the lookup to the chat's own directory.
	name, err := tools.SanitizeFilename(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filename"})
		return
	}
	path := filepath.Join(s.cfg.OutputDir, c.Param("id"), name)
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	c.FileAttachment(path, name)
}

func (s *Server) handleListCommands(c *gin.Context) {
	registry := commands.NewRegistry(s.store, s.cfg.SkillsDir, nil)
	c.JSON(http.StatusOK, gin.H{"commands": registry.List()})
}
