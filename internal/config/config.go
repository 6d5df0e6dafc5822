package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultModel        = "gpt-4o-mini"
	DefaultBaseURL      = "https://api.openai.com/v1"
	DefaultMaxTokens    = 2048
	DefaultTemperature  = 0.7
	DefaultMaxToolSteps = 6

	DefaultRecentBudget    = 10000
	DefaultLongBudget      = 30000
	DefaultCompressPortion = 0.35

	DefaultSTTModel = "whisper-1"
	DefaultTTSModel = "tts-1"
	DefaultTTSVoice = "alloy"

	DefaultSearchCacheTTLSec = 3600
	DefaultPageCacheTTLSec   = 86400

	DefaultBufSize = 100
)

type Config struct {
	Provider ProviderConfig `json:"provider"`
	Agent    AgentConfig    `json:"agent"`
	Channels ChannelsConfig `json:"channels"`
	Memory   MemoryConfig   `json:"memory"`
	Tools    ToolsConfig    `json:"tools"`
	Voice    VoiceConfig    `json:"voice"`
	Auth     AuthConfig     `json:"auth"`
}

type ProviderConfig struct {
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

type AgentConfig struct {
	Model        string  `json:"model"`
	MaxTokens    int     `json:"maxTokens"`
	Temperature  float64 `json:"temperature"`
	MaxToolSteps int     `json:"maxToolSteps"`
	SystemPrompt string  `json:"systemPrompt,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

type MemoryConfig struct {
	DBPath          string  `json:"dbPath,omitempty"`
	RecentBudget    int     `json:"recentBudget"`
	LongBudget      int     `json:"longBudget"`
	CompressPortion float64 `json:"compressPortion"`
	// Model overrides the tokenizer model id; empty means the agent model.
	Model string `json:"model,omitempty"`
}

type ToolsConfig struct {
	BraveAPIKey       string `json:"braveApiKey,omitempty"`
	SearchCacheTTLSec int    `json:"searchCacheTtlSec"`
	PageCacheTTLSec   int    `json:"pageCacheTtlSec"`
}

type VoiceConfig struct {
	// Enabled gates the whole voice pipeline: disabled means inbound voice
	// notes are rejected and replies are never synthesized.
	Enabled  bool   `json:"enabled"`
	STTModel string `json:"sttModel"`
	TTSModel string `json:"ttsModel"`
	TTSVoice string `json:"ttsVoice"`
	// ReplyWithVoice answers voice notes with voice notes.
	ReplyWithVoice bool `json:"replyWithVoice"`
}

type AuthConfig struct {
	// JoinPassword gates new chats; empty disables gating.
	JoinPassword string `json:"joinPassword,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{BaseURL: DefaultBaseURL},
		Agent: AgentConfig{
			Model:        DefaultModel,
			MaxTokens:    DefaultMaxTokens,
			Temperature:  DefaultTemperature,
			MaxToolSteps: DefaultMaxToolSteps,
		},
		Channels: ChannelsConfig{},
		Memory: MemoryConfig{
			RecentBudget:    DefaultRecentBudget,
			LongBudget:      DefaultLongBudget,
			CompressPortion: DefaultCompressPortion,
		},
		Tools: ToolsConfig{
			SearchCacheTTLSec: DefaultSearchCacheTTLSec,
			PageCacheTTLSec:   DefaultPageCacheTTLSec,
		},
		Voice: VoiceConfig{
			Enabled:        true,
			STTModel:       DefaultSTTModel,
			TTSModel:       DefaultTTSModel,
			TTSVoice:       DefaultTTSVoice,
			ReplyWithVoice: true,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".aisus")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// DBPath resolves the sqlite file path, defaulting under the config dir.
func (c *Config) DBPath() string {
	if c.Memory.DBPath != "" {
		return c.Memory.DBPath
	}
	return filepath.Join(ConfigDir(), "data", "memory.db")
}

// MemoryModel is the tokenizer model id for all token accounting.
func (c *Config) MemoryModel() string {
	if c.Memory.Model != "" {
		return c.Memory.Model
	}
	return c.Agent.Model
}

func LoadConfig() (*Config, error) {
	return loadConfigFrom(ConfigPath())
}

func loadConfigFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// applyEnv layers environment variables over the file config.
func applyEnv(cfg *Config) {
	if key := os.Getenv("AISUS_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if url := os.Getenv("AISUS_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if model := os.Getenv("AISUS_MODEL"); model != "" {
		cfg.Agent.Model = model
	}
	if token := os.Getenv("AISUS_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
		cfg.Channels.Telegram.Enabled = true
	}
	if dbPath := os.Getenv("AISUS_MEMORY_DB_PATH"); dbPath != "" {
		cfg.Memory.DBPath = dbPath
	}
	if v := os.Getenv("MEMORY_RECENT_BUDGET"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Memory.RecentBudget = parsed
		}
	}
	if v := os.Getenv("MEMORY_LONG_BUDGET"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Memory.LongBudget = parsed
		}
	}
	if v := os.Getenv("MEMORY_COMPRESS_PORTION"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Memory.CompressPortion = parsed
		}
	}
	if pw := os.Getenv("CHAT_JOIN_PASSWORD"); pw != "" {
		cfg.Auth.JoinPassword = pw
	}
	if key := os.Getenv("BRAVE_API_KEY"); key != "" {
		cfg.Tools.BraveAPIKey = key
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = DefaultBaseURL
	}
	if cfg.Agent.Model == "" {
		cfg.Agent.Model = DefaultModel
	}
	if cfg.Agent.MaxTokens <= 0 {
		cfg.Agent.MaxTokens = DefaultMaxTokens
	}
	if cfg.Agent.MaxToolSteps <= 0 {
		cfg.Agent.MaxToolSteps = DefaultMaxToolSteps
	}
	if cfg.Memory.RecentBudget <= 0 {
		cfg.Memory.RecentBudget = DefaultRecentBudget
	}
	if cfg.Memory.LongBudget <= 0 {
		cfg.Memory.LongBudget = DefaultLongBudget
	}
	if cfg.Memory.CompressPortion <= 0 || cfg.Memory.CompressPortion > 1 {
		cfg.Memory.CompressPortion = DefaultCompressPortion
	}
	if cfg.Tools.SearchCacheTTLSec <= 0 {
		cfg.Tools.SearchCacheTTLSec = DefaultSearchCacheTTLSec
	}
	if cfg.Tools.PageCacheTTLSec <= 0 {
		cfg.Tools.PageCacheTTLSec = DefaultPageCacheTTLSec
	}
	if cfg.Voice.STTModel == "" {
		cfg.Voice.STTModel = DefaultSTTModel
	}
	if cfg.Voice.TTSModel == "" {
		cfg.Voice.TTSModel = DefaultTTSModel
	}
	if cfg.Voice.TTSVoice == "" {
		cfg.Voice.TTSVoice = DefaultTTSVoice
	}
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
