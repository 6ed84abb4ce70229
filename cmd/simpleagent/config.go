package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/parham/aisdk"
)

// agentDirFor is .simpleagent/<agent-name>/ under the working directory, where
// sessions and AGENT.md live. Without an agent file the name is "default".
func agentDirFor(agentFileName string) string {
	name := agentFileName
	if name == "" {
		name = "default"
	}
	dir, err := filepath.Abs(filepath.Join(".simpleagent", name))
	if err != nil {
		return filepath.Join(".simpleagent", name)
	}
	return dir
}

type ToolsConfig struct {
	Deny  []string `json:"deny"`
	Allow []string `json:"allow"`
}

type Config struct {
	Provider    string                          `json:"provider"`
	Providers   map[string]aisdk.ProviderConfig `json:"providers"`
	MaxTokens   int                             `json:"max_tokens"`
	MaxSteps    int                             `json:"max_steps"`
	BashTimeout int                             `json:"bash_timeout"`
	Markdown    bool                            `json:"markdown"`
	LogLevel    string                          `json:"log_level"`
	Tools       ToolsConfig                     `json:"tools"`
}

func DefaultConfig() Config {
	return Config{
		Provider: "anthropic",
		Providers: map[string]aisdk.ProviderConfig{
			"anthropic":  {Model: "claude-sonnet-4-20250514"},
			"openai":     {Model: "gpt-4o"},
			"openrouter": {Model: "anthropic/claude-sonnet-4"},
			"gemini":     {Model: "gemini-2.5-flash"},
			"ollama":     {Model: "qwen2.5-coder:14b"},
			"bedrock":    {Model: "anthropic.claude-sonnet-4-20250514-v1:0"},
			"langchain":  {Model: "gpt-4o-mini"},
		},
		MaxTokens:   8192,
		MaxSteps:    25,
		BashTimeout: 120,
		LogLevel:    "warn",
	}
}

// ProviderCfg returns the config for a named provider, with MaxTokens filled
// from the global setting when unset.
func (c Config) ProviderCfg(name string) aisdk.ProviderConfig {
	pc := c.Providers[name]
	if pc.MaxTokens == 0 {
		pc.MaxTokens = c.MaxTokens
	}
	return pc
}

func (c *Config) setProvider(name string, update func(*aisdk.ProviderConfig)) {
	if c.Providers == nil {
		c.Providers = make(map[string]aisdk.ProviderConfig)
	}
	pc := c.Providers[name]
	update(&pc)
	c.Providers[name] = pc
}

// ApplyAgentFile merges .agent file overrides into the config.
func (c *Config) ApplyAgentFile(af *AgentFile) {
	if af == nil {
		return
	}
	if af.Provider != "" {
		c.Provider = af.Provider
	}
	c.setProvider(c.Provider, func(pc *aisdk.ProviderConfig) {
		if af.Model != "" {
			pc.Model = af.Model
		}
		if af.URL != "" {
			pc.URL = af.URL
		}
	})
	if af.MaxSteps > 0 {
		c.MaxSteps = af.MaxSteps
	}
	if len(af.Deny) > 0 || len(af.Allow) > 0 {
		c.Tools = ToolsConfig{Deny: af.Deny, Allow: af.Allow}
	}
}

// LoadConfig builds the final config by cascading layers:
// 1. Hardcoded defaults
// 2. ~/.simpleagent/config.json (user-wide)
// 3. .simpleagent/config.json (project)
// 4. .env in the working directory, then environment variables
func LoadConfig() (Config, error) {
	home, _ := os.UserHomeDir()
	return loadConfig(home, ".")
}

func loadConfig(home, project string) (Config, error) {
	cfg := DefaultConfig()

	var paths []string
	if home != "" {
		paths = append(paths, filepath.Join(home, ".simpleagent", "config.json"))
	}
	paths = append(paths, filepath.Join(project, ".simpleagent", "config.json"))
	for _, p := range paths {
		if err := mergeConfigFile(p, &cfg); err != nil {
			return cfg, err
		}
	}

	// godotenv never overrides variables already set in the environment.
	if err := godotenv.Load(filepath.Join(project, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("loading .env: %w", err)
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// mergeConfigFile deep-merges a config file into cfg. Provider entries are
// merged field by field, not replaced wholesale. A missing file is not an error.
func mergeConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var raw struct {
		Provider    string                          `json:"provider"`
		Providers   map[string]aisdk.ProviderConfig `json:"providers"`
		MaxTokens   *int                            `json:"max_tokens"`
		MaxSteps    *int                            `json:"max_steps"`
		BashTimeout *int                            `json:"bash_timeout"`
		Markdown    *bool                           `json:"markdown"`
		LogLevel    string                          `json:"log_level"`
		Tools       *ToolsConfig                    `json:"tools"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if raw.Provider != "" {
		cfg.Provider = raw.Provider
	}
	if raw.MaxTokens != nil {
		cfg.MaxTokens = *raw.MaxTokens
	}
	if raw.MaxSteps != nil {
		cfg.MaxSteps = *raw.MaxSteps
	}
	if raw.BashTimeout != nil {
		cfg.BashTimeout = *raw.BashTimeout
	}
	if raw.Markdown != nil {
		cfg.Markdown = *raw.Markdown
	}
	if raw.LogLevel != "" {
		cfg.LogLevel = raw.LogLevel
	}
	if raw.Tools != nil {
		cfg.Tools = *raw.Tools
	}
	for name, in := range raw.Providers {
		cfg.setProvider(name, func(pc *aisdk.ProviderConfig) {
			if in.APIKey != "" {
				pc.APIKey = in.APIKey
			}
			if in.Model != "" {
				pc.Model = in.Model
			}
			if in.URL != "" {
				pc.URL = in.URL
			}
			if in.MaxTokens != 0 {
				pc.MaxTokens = in.MaxTokens
			}
		})
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, name := range aisdk.Providers() {
		env := aisdk.ProviderEnvKey(name)
		if env == "" {
			continue
		}
		if v := os.Getenv(env); v != "" {
			cfg.setProvider(name, func(pc *aisdk.ProviderConfig) { pc.APIKey = v })
		}
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		cfg.setProvider("ollama", func(pc *aisdk.ProviderConfig) { pc.URL = v })
	}
	if v := os.Getenv("SIMPLEAGENT_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv("SIMPLEAGENT_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxTokens = n
		}
	}
	if v := os.Getenv("SIMPLEAGENT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// providerReady reports whether the active provider has enough config to
// initialize. Providers without an API key variable authenticate elsewhere.
func providerReady(cfg Config) error {
	env := aisdk.ProviderEnvKey(cfg.Provider)
	if env == "" || cfg.ProviderCfg(cfg.Provider).APIKey != "" {
		return nil
	}
	return fmt.Errorf("no API key for %s: set %s (in the environment or .env) or providers.%s.api_key in ~/.simpleagent/config.json",
		cfg.Provider, env, cfg.Provider)
}
