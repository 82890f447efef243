package config

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
)

// AgentConfig holds the character/persona settings of the conversational core.
type AgentConfig struct {
	// SystemPrompt is the persona instruction sent as the initial system
	// message of every conversation.
	SystemPrompt string `json:"system_prompt"`
	// InterruptMethod selects the role of the "[Interrupted by user]"
	// marker written into memory: "system" or "user".
	InterruptMethod string `json:"interrupt_method"`
	// MCPPrompt is appended to the system prompt when the engine falls
	// back to prompt-mode tool calling. It instructs the model to emit
	// tool requests as embedded JSON.
	MCPPrompt string `json:"mcp_prompt"`
	// GroupPrompt formats the context message injected when a group
	// conversation starts. Two %s verbs: human name, other participants.
	GroupPrompt string `json:"group_prompt"`
	// UseMCP toggles tool calling through MCP servers.
	UseMCP bool `json:"use_mcp"`
}

// Config maps directly to config.json and holds business-level settings.
type Config struct {
	// Channels maps channel identifiers (e.g., "web", "telegram") to
	// their specific configuration payloads in raw JSON format.
	Channels map[string]jsoniter.RawMessage `json:"channels"`
	// LLM holds the provider group list for the model clients in raw JSON.
	LLM jsoniter.RawMessage `json:"llm"`
	// MCPServers holds the MCP server definitions in raw JSON.
	MCPServers jsoniter.RawMessage `json:"mcp_servers"`
	Agent      AgentConfig         `json:"agent"`
}

// Validate ensures the configuration contains all mandatory fields.
func (c *Config) Validate() error {
	if len(c.LLM) == 0 {
		return fmt.Errorf("mandatory 'llm' configuration is missing or empty")
	}
	return nil
}

// SystemConfig defines engine-level technical parameters, stored in
// system.json with hardcoded defaults as fallback.
type SystemConfig struct {
	// MaxToolRounds bounds the model→tools→model loop of one turn.
	// Exceeding it aborts the turn with a tool-loop error.
	MaxToolRounds int `json:"max_tool_rounds"`
	// MaxRetries is the number of attempts against a provider before the
	// fallback client moves on.
	MaxRetries int `json:"max_retries"`
	// RetryDelayMs is the wait between consecutive retry attempts.
	RetryDelayMs int `json:"retry_delay_ms"`
	// LLMTimeoutMs is the hard cutoff for one model request.
	LLMTimeoutMs int `json:"llm_timeout_ms"`
	// MCPCallTimeoutMs is the hard cutoff for one tool invocation.
	MCPCallTimeoutMs int `json:"mcp_call_timeout_ms"`
	// InternalChannelBuffer sizes the token channels between the
	// resolver, pipeline, and front-end channels.
	InternalChannelBuffer int `json:"internal_channel_buffer"`
	// HistoryDir is where conversation histories are persisted as JSON.
	HistoryDir string `json:"history_dir"`
	// DebugChunks saves every raw provider payload under ./debug.
	DebugChunks bool `json:"debug_chunks"`
	// LogLevel sets the minimum severity for log output:
	// "debug", "info", "warn", "error". Default: "info".
	LogLevel string `json:"log_level"`
}

// DefaultSystemConfig returns safe defaults so the engine can always start
// when system.json is missing or corrupt.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		MaxToolRounds:         10,
		MaxRetries:            3,
		RetryDelayMs:          500,
		LLMTimeoutMs:          600000,
		MCPCallTimeoutMs:      30000,
		InternalChannelBuffer: 100,
		HistoryDir:            "history",
		LogLevel:              "info",
	}
}

// Load reads config.json and system.json from the working directory.
// The app config is mandatory; the system config falls back to defaults.
func Load() (*Config, *SystemConfig, error) {
	appPath := "config.json"
	if _, err := os.Stat(appPath); os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("config file '%s' not found. please create one", appPath)
	}

	appFile, err := os.ReadFile(appPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(appFile, &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	if cfg.Agent.InterruptMethod == "" {
		cfg.Agent.InterruptMethod = "user"
	}

	return &cfg, LoadSystemConfig("system.json"), nil
}

// LoadSystemConfig attempts to load system settings, returning defaults on
// any failure.
func LoadSystemConfig(path string) *SystemConfig {
	cfg := DefaultSystemConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}

	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(file, cfg); err != nil {
		return cfg
	}

	return cfg
}
