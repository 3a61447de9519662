// agentd is the conversational agent runtime: an HTTP service that drives
// an LLM tool-use loop against a document-processing platform and streams
// progress to clients over SSE.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/docpilot-ai/agentd/pkg/agent"
	"github.com/docpilot-ai/agentd/pkg/api"
	"github.com/docpilot-ai/agentd/pkg/config"
	"github.com/docpilot-ai/agentd/pkg/session"
	"github.com/docpilot-ai/agentd/pkg/storage"
	"github.com/docpilot-ai/agentd/pkg/version"
)

func main() {
	envFile := flag.String("env-file", ".env", "Path to the .env file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envFile, "error", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(),
	})))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("Starting agentd",
		"version", version.Full(),
		"port", cfg.HTTPPort,
		"mode", cfg.Mode,
		"model", cfg.Model)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.New(ctx, cfg.RedisAddr())
	if err != nil {
		slog.Error("Failed to connect to the persistence store", "error", err)
		os.Exit(1)
	}
	store.SetChatTTL(cfg.ChatTTL)
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("Error closing store", "error", err)
		}
	}()
	slog.Info("Connected to Redis", "addr", cfg.RedisAddr())

	llm, err := agent.NewAnthropicClient(cfg.AnthropicAPIKey)
	if err != nil {
		slog.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := llm.Close(); err != nil {
			slog.Error("Error closing LLM client", "error", err)
		}
	}()

	registry := session.NewRegistry(cfg.SupersedeGrace)
	server := api.NewServer(cfg, store, registry, llm)

	if err := server.Run(ctx, ":"+cfg.HTTPPort); err != nil {
		slog.Error("HTTP server error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}

func logLevel() slog.Level {
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
