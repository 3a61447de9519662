// Package config loads runtime configuration from the environment.
//
// All settings have defaults suitable for local development except the
// Anthropic API key, which is required. A .env file is loaded by the main
// entrypoint before this package reads the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Mode gates write access to the downstream platform.
type Mode string

const (
	ModeReadOnly  Mode = "read-only"
	ModeReadWrite Mode = "read-write"
)

// Persona selects the prompt register used by the agent.
type Persona string

const (
	PersonaDefault  Persona = "default"
	PersonaCautious Persona = "cautious"
)

// Config is the process-wide runtime configuration.
type Config struct {
	HTTPPort string

	// Default downstream credentials, used when a request carries none.
	APIToken   string
	APIBaseURL string

	// Default mode for new chats. Individual chats and messages may override.
	Mode Mode

	RedisHost string
	RedisPort string

	// ChatTTL expires idle chats from the store. Refreshed on every save;
	// zero keeps chats forever.
	ChatTTL time.Duration

	AnthropicAPIKey string
	Model           string
	SmallModel      string
	MaxTokens       int
	ThinkingBudget  int

	MaxIterations         int
	SubAgentMaxIterations int

	ToolTimeout     time.Duration
	SubAgentTimeout time.Duration

	KeepaliveInterval time.Duration
	SupersedeGrace    time.Duration
	WriteStallLimit   time.Duration

	// OutputDir is the root under which per-chat output directories are created.
	OutputDir string

	// SkillsDir holds installed skill documents. A missing directory means
	// no skills.
	SkillsDir string

	// MCP tool server. Command takes precedence over URL when both are set.
	MCPCommand string
	MCPArgs    []string
	MCPURL     string
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:              getEnv("PORT", "8086"),
		APIToken:              os.Getenv("API_TOKEN"),
		APIBaseURL:            os.Getenv("API_BASE_URL"),
		Mode:                  Mode(getEnv("MODE", string(ModeReadOnly))),
		RedisHost:             getEnv("REDIS_HOST", "localhost"),
		RedisPort:             getEnv("REDIS_PORT", "6379"),
		ChatTTL:               getEnvDuration("CHAT_TTL", 30*24*time.Hour),
		AnthropicAPIKey:       os.Getenv("ANTHROPIC_API_KEY"),
		Model:                 getEnv("AGENT_MODEL", "claude-sonnet-4-5"),
		SmallModel:            getEnv("AGENT_SMALL_MODEL", "claude-haiku-4-5"),
		MaxTokens:             getEnvInt("AGENT_MAX_TOKENS", 16384),
		ThinkingBudget:        getEnvInt("AGENT_THINKING_BUDGET", 4096),
		MaxIterations:         getEnvInt("MAX_ITERATIONS", 30),
		SubAgentMaxIterations: getEnvInt("SUB_AGENT_MAX_ITERATIONS", 5),
		ToolTimeout:           getEnvDuration("TOOL_TIMEOUT", 120*time.Second),
		SubAgentTimeout:       getEnvDuration("SUB_AGENT_TIMEOUT", 60*time.Second),
		KeepaliveInterval:     getEnvDuration("KEEPALIVE_INTERVAL", 15*time.Second),
		SupersedeGrace:        getEnvDuration("SUPERSEDE_GRACE", 2*time.Second),
		WriteStallLimit:       getEnvDuration("WRITE_STALL_LIMIT", 30*time.Second),
		OutputDir:             getEnv("OUTPUT_DIR", "./outputs"),
		SkillsDir:             getEnv("SKILLS_DIR", "./skills"),
		MCPCommand:            os.Getenv("MCP_COMMAND"),
		MCPURL:                os.Getenv("MCP_URL"),
	}
	if args := os.Getenv("MCP_ARGS"); args != "" {
		cfg.MCPArgs = strings.Fields(args)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Mode {
	case ModeReadOnly, ModeReadWrite:
	default:
		return fmt.Errorf("invalid MODE %q: must be %q or %q", c.Mode, ModeReadOnly, ModeReadWrite)
	}
	if c.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("MAX_ITERATIONS must be >= 1, got %d", c.MaxIterations)
	}
	if c.ThinkingBudget > 0 && c.ThinkingBudget >= c.MaxTokens {
		return fmt.Errorf("AGENT_THINKING_BUDGET (%d) must be less than AGENT_MAX_TOKENS (%d)",
			c.ThinkingBudget, c.MaxTokens)
	}
	if c.MCPCommand == "" && c.MCPURL == "" {
		return fmt.Errorf("either MCP_COMMAND or MCP_URL is required")
	}
	return nil
}

// RedisAddr returns the host:port address of the persistence store.
func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}

// ValidPersona reports whether s names a known persona.
func ValidPersona(s string) bool {
	switch Persona(s) {
	case PersonaDefault, PersonaCautious:
		return true
	}
	return false
}

// ValidMode reports whether s names a known mode.
func ValidMode(s string) bool {
	switch Mode(s) {
	case ModeReadOnly, ModeReadWrite:
		return true
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
