package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const appName = "toolstream"

type Config struct {
	Provider    string             `mapstructure:"provider" yaml:"provider"`
	Anthropic   ProviderConfig     `mapstructure:"anthropic" yaml:"anthropic"`
	OpenAI      ProviderConfig     `mapstructure:"openai" yaml:"openai"`
	Gemini      ProviderConfig     `mapstructure:"gemini" yaml:"gemini"`
	Scripted    ScriptedConfig     `mapstructure:"scripted" yaml:"scripted"`
	Stream      StreamConfig       `mapstructure:"stream" yaml:"stream"`
	Tools       ToolsConfig        `mapstructure:"tools" yaml:"tools"`
	CustomTools []CustomToolConfig `mapstructure:"custom_tools" yaml:"custom_tools,omitempty"`
	MCP         MCPConfig          `mapstructure:"mcp" yaml:"mcp"`
	Session     SessionConfig      `mapstructure:"session" yaml:"session"`
	Billing     BillingConfig      `mapstructure:"billing" yaml:"billing"`
	Agent       AgentConfig        `mapstructure:"agent" yaml:"agent"`
	Log         LogConfig          `mapstructure:"log" yaml:"log"`
}

// ProviderConfig configures a hosted model provider.
type ProviderConfig struct {
	APIKey    string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Model     string `mapstructure:"model" yaml:"model"`
	MaxTokens int    `mapstructure:"max_tokens" yaml:"max_tokens,omitempty"`
	BaseURL   string `mapstructure:"base_url" yaml:"base_url,omitempty"` // OpenAI-compatible servers
}

// ScriptedConfig configures the provider that replays a recorded script.
type ScriptedConfig struct {
	Path string `mapstructure:"path" yaml:"path,omitempty"`
}

// StreamConfig controls how model output is scanned.
type StreamConfig struct {
	StartMarker   string   `mapstructure:"start_marker" yaml:"start_marker"`
	EndMarker     string   `mapstructure:"end_marker" yaml:"end_marker"`
	StopSequences []string `mapstructure:"stop_sequences" yaml:"stop_sequences,omitempty"`
}

type ToolsConfig struct {
	Root   string       `mapstructure:"root" yaml:"root,omitempty"` // project root; defaults to the working directory
	Shell  ShellConfig  `mapstructure:"shell" yaml:"shell"`
	Search SearchConfig `mapstructure:"search" yaml:"search"`
}

// ShellConfig gates run_terminal_command.
type ShellConfig struct {
	Allow   []string `mapstructure:"allow" yaml:"allow,omitempty"` // glob patterns; empty allows nothing
	Timeout int      `mapstructure:"timeout" yaml:"timeout"`       // seconds
}

type SearchConfig struct {
	BaseURL    string `mapstructure:"base_url" yaml:"base_url,omitempty"`
	MaxResults int    `mapstructure:"max_results" yaml:"max_results"`
}

// CustomToolConfig defines a tool that is not built in. Exactly one of
// Command or MCP must be set.
type CustomToolConfig struct {
	Name        string            `mapstructure:"name" yaml:"name"`
	Description string            `mapstructure:"description" yaml:"description,omitempty"`
	Command     string            `mapstructure:"command" yaml:"command,omitempty"`
	Args        []string          `mapstructure:"args" yaml:"args,omitempty"`
	Env         map[string]string `mapstructure:"env" yaml:"env,omitempty"`
	Timeout     int               `mapstructure:"timeout" yaml:"timeout,omitempty"` // seconds
	Schema      map[string]any    `mapstructure:"schema" yaml:"schema,omitempty"`
	MCP         string            `mapstructure:"mcp" yaml:"mcp,omitempty"` // server name
}

type MCPConfig struct {
	Servers []MCPServerConfig `mapstructure:"servers" yaml:"servers,omitempty"`
}

// MCPServerConfig starts an MCP server over stdio.
type MCPServerConfig struct {
	Name    string            `mapstructure:"name" yaml:"name"`
	Command string            `mapstructure:"command" yaml:"command"`
	Args    []string          `mapstructure:"args" yaml:"args,omitempty"`
	Env     map[string]string `mapstructure:"env" yaml:"env,omitempty"`
}

type SessionConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path,omitempty"` // sqlite file; defaults to the data dir
}

type BillingConfig struct {
	Margin     float64 `mapstructure:"margin" yaml:"margin"`
	Pricing    bool    `mapstructure:"pricing" yaml:"pricing"` // price usage from the LiteLLM table when the provider reports no cost
	PricingURL string  `mapstructure:"pricing_url" yaml:"pricing_url,omitempty"`
}

type AgentConfig struct {
	MaxSteps     int    `mapstructure:"max_steps" yaml:"max_steps"`
	Instructions string `mapstructure:"instructions" yaml:"instructions,omitempty"`
	Retries      int    `mapstructure:"retries" yaml:"retries"` // provider stream attempts; 0 disables retry
}

type LogConfig struct {
	Format string `mapstructure:"format" yaml:"format"` // "terminal" or "json"
	Debug  bool   `mapstructure:"debug" yaml:"debug"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", "anthropic")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5")
	v.SetDefault("anthropic.max_tokens", 8192)
	v.SetDefault("openai.model", "gpt-4.1")
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("stream.start_marker", "<tool_call>")
	v.SetDefault("stream.end_marker", "</tool_call>")
	v.SetDefault("tools.shell.timeout", 30)
	v.SetDefault("tools.search.base_url", "https://html.duckduckgo.com/html/")
	v.SetDefault("tools.search.max_results", 10)
	v.SetDefault("session.enabled", true)
	v.SetDefault("billing.margin", 0.055)
	v.SetDefault("agent.max_steps", 20)
	v.SetDefault("agent.retries", 5)
	v.SetDefault("log.format", "terminal")
}

// Load reads the config file at path, or the default location when path is
// empty. A missing file is not an error. TOOLSTREAM_* environment variables
// override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		configDir, err := GetConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get config dir: %w", err)
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir)
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("TOOLSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !(path != "" && errors.Is(err, fs.ErrNotExist)) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if file := v.ConfigFileUsed(); file != "" {
		if err := restoreKeyCase(&cfg, file); err != nil {
			return nil, err
		}
	}

	resolveCredentials(&cfg.Anthropic, "ANTHROPIC_API_KEY")
	resolveCredentials(&cfg.OpenAI, "OPENAI_API_KEY")
	resolveCredentials(&cfg.Gemini, "GEMINI_API_KEY")
	for i := range cfg.MCP.Servers {
		expandEnvMap(cfg.MCP.Servers[i].Env)
	}
	for i := range cfg.CustomTools {
		expandEnvMap(cfg.CustomTools[i].Env)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints that defaults cannot express.
func (c *Config) Validate() error {
	if c.Stream.StartMarker == "" || c.Stream.EndMarker == "" {
		return fmt.Errorf("stream markers must be non-empty")
	}
	if c.Stream.StartMarker == c.Stream.EndMarker {
		return fmt.Errorf("stream start and end markers must differ")
	}
	servers := make(map[string]bool, len(c.MCP.Servers))
	for _, s := range c.MCP.Servers {
		if s.Name == "" || s.Command == "" {
			return fmt.Errorf("mcp server entries need a name and a command")
		}
		servers[s.Name] = true
	}
	seen := make(map[string]bool, len(c.CustomTools))
	for _, t := range c.CustomTools {
		if t.Name == "" {
			return fmt.Errorf("custom tool without a name")
		}
		if seen[t.Name] {
			return fmt.Errorf("custom tool %q defined twice", t.Name)
		}
		seen[t.Name] = true
		if (t.Command == "") == (t.MCP == "") {
			return fmt.Errorf("custom tool %q must set exactly one of command or mcp", t.Name)
		}
		if t.MCP != "" && !servers[t.MCP] {
			return fmt.Errorf("custom tool %q references unknown mcp server %q", t.Name, t.MCP)
		}
	}
	return nil
}

// ApplyOverrides applies provider and model overrides to the config.
// If provider is non-empty, it overrides the global provider.
// If model is non-empty, it overrides the model for the active provider.
func (c *Config) ApplyOverrides(provider, model string) {
	if provider != "" {
		c.Provider = provider
	}
	if model == "" {
		return
	}
	if p := c.ActiveProvider(); p != nil {
		p.Model = model
	}
}

// ActiveProvider returns the settings of the selected hosted provider, or nil
// for providers without settings.
func (c *Config) ActiveProvider() *ProviderConfig {
	switch c.Provider {
	case "anthropic":
		return &c.Anthropic
	case "openai":
		return &c.OpenAI
	case "gemini":
		return &c.Gemini
	}
	return nil
}

func resolveCredentials(cfg *ProviderConfig, envVar string) {
	cfg.APIKey = expandEnv(cfg.APIKey)
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv(envVar)
	}
}

// expandEnv expands ${VAR} or $VAR in a string
// caseSensitiveFields are the parts of the file whose map keys are data:
// environment variable names and JSON schema properties. viper lower-cases
// every key, so these are read again with yaml.v3.
type caseSensitiveFields struct {
	CustomTools []struct {
		Name   string            `yaml:"name"`
		Env    map[string]string `yaml:"env"`
		Schema map[string]any    `yaml:"schema"`
	} `yaml:"custom_tools"`
	MCP struct {
		Servers []struct {
			Name string            `yaml:"name"`
			Env  map[string]string `yaml:"env"`
		} `yaml:"servers"`
	} `yaml:"mcp"`
}

// restoreKeyCase replaces env and schema maps with their case-preserved
// versions from the config file. Entries are matched by name.
func restoreKeyCase(cfg *Config, file string) error {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".yaml", ".yml", ".json":
	default:
		return nil
	}
	data, err := os.ReadFile(file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	var raw caseSensitiveFields
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	for _, rt := range raw.CustomTools {
		for i := range cfg.CustomTools {
			if cfg.CustomTools[i].Name != rt.Name {
				continue
			}
			if rt.Env != nil {
				cfg.CustomTools[i].Env = rt.Env
			}
			if rt.Schema != nil {
				cfg.CustomTools[i].Schema = rt.Schema
			}
		}
	}
	for _, rs := range raw.MCP.Servers {
		for i := range cfg.MCP.Servers {
			if cfg.MCP.Servers[i].Name == rs.Name && rs.Env != nil {
				cfg.MCP.Servers[i].Env = rs.Env
			}
		}
	}
	return nil
}

func expandEnvMap(env map[string]string) {
	for k, val := range env {
		env[k] = expandEnv(val)
	}
}

func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		varName := s[2 : len(s)-1]
		return os.Getenv(varName)
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}

// GetConfigDir returns the XDG config directory for toolstream.
// Uses $XDG_CONFIG_HOME if set, otherwise ~/.config
func GetConfigDir() (string, error) {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, appName), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", appName), nil
}

// GetConfigPath returns the path where the config file should be located
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

// GetDataDir returns the XDG data directory for toolstream.
// Uses $XDG_DATA_HOME if set, otherwise ~/.local/share
func GetDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, appName)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", appName+"-data")
	}
	return filepath.Join(homeDir, ".local", "share", appName)
}

// SessionPath returns the sqlite file used for transcripts.
func (c *Config) SessionPath() string {
	if c.Session.Path != "" {
		return c.Session.Path
	}
	return filepath.Join(GetDataDir(), "sessions.db")
}

// Exists returns true if a config file exists
func Exists() bool {
	path, err := GetConfigPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Save writes the config as YAML to path. API keys are never written.
func Save(cfg *Config, path string) error {
	out := *cfg
	out.Anthropic.APIKey = ""
	out.OpenAI.APIKey = ""
	out.Gemini.APIKey = ""

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
