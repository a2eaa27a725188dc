package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration, loaded from YAML with
// environment-variable overrides for secrets.
type Config struct {
	Server       ServerConfig     `yaml:"server"`
	LLM          LLMConfig        `yaml:"llm"`
	Router       RouterConfig     `yaml:"router"`
	Compactor    CompactorConfig  `yaml:"compactor"`
	Capabilities CapabilityConfig `yaml:"capabilities"`
	Store        StoreConfig      `yaml:"store"`
	Logging      LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LLMConfig selects and configures the text-generation provider used by the
// router, the handlers, the compactor, and the aggregator.
type LLMConfig struct {
	Provider  string            `yaml:"provider"` // "openai" or "anthropic"
	Timeout   time.Duration     `yaml:"timeout"`
	OpenAI    LLMProviderConfig `yaml:"openai"`
	Anthropic LLMProviderConfig `yaml:"anthropic"`
}

type LLMProviderConfig struct {
	APIKey      string  `yaml:"api_key"`
	APIURL      string  `yaml:"api_url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// RouterConfig carries the routing policy knobs. The keyword lists have
// working defaults; overriding them in YAML replaces, not extends, the list.
type RouterConfig struct {
	// CheckInInterval is the max time since the last wellness check-in
	// before the router forces a proactive motivator turn.
	CheckInInterval   time.Duration `yaml:"check_in_interval"`
	MaxRoutingDepth   int           `yaml:"max_routing_depth"`
	CrisisKeywords    []string      `yaml:"crisis_keywords"`
	EmotionalKeywords []string      `yaml:"emotional_keywords"`
}

type CompactorConfig struct {
	// TurnThreshold is the history length that triggers summarization.
	TurnThreshold int `yaml:"turn_threshold"`
	// KeepRecent is how many raw turns survive a compaction.
	KeepRecent int `yaml:"keep_recent"`
}

// CapabilityConfig wires the content-lookup and web-lookup adapters.
// Mode is explicit: "http", "static", or "off". There is no silent mock
// substitution when keys are missing; an adapter is either configured or
// reports itself unavailable.
type CapabilityConfig struct {
	Content ContentLookupConfig `yaml:"content"`
	Web     WebLookupConfig     `yaml:"web"`
}

type ContentLookupConfig struct {
	Mode    string `yaml:"mode"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	TopK    int    `yaml:"top_k"`
}

type WebLookupConfig struct {
	Mode    string `yaml:"mode"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

type StoreConfig struct {
	Backend    string `yaml:"backend"` // "memory" or "sqlite"
	SQLitePath string `yaml:"sqlite_path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Crisis terms trigger the deterministic escalation path. Substring match,
// case-insensitive, before any LLM call.
func defaultCrisisKeywords() []string {
	return []string{
		"suicidal", "suicide", "kill myself", "end my life",
		"ending it all", "want to die", "don't want to live", "hopeless",
	}
}

// Emotional terms force-route to the motivator when the crisis check did
// not fire.
func defaultEmotionalKeywords() []string {
	return []string{
		"stressed", "anxious", "overwhelmed", "demotivated", "sad",
		"can't focus", "bad day", "struggling", "unmotivated",
	}
}

// Load reads the YAML config, applies env overrides for secrets, fills in
// defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Default returns a runnable config without a YAML file, for local runs and
// tests. LLM keys still come from the environment.
func Default() *Config {
	cfg := &Config{}
	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyEnvOverrides() {
	// Sensitive values always win from the environment.
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.OpenAI.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.LLM.Anthropic.APIKey = key
	}
	if key := os.Getenv("LLM_API_KEY"); key != "" {
		switch c.LLM.Provider {
		case "anthropic":
			c.LLM.Anthropic.APIKey = key
		default:
			c.LLM.OpenAI.APIKey = key
		}
	}
	if key := os.Getenv("CONTENT_LOOKUP_API_KEY"); key != "" {
		c.Capabilities.Content.APIKey = key
	}
	if key := os.Getenv("WEB_LOOKUP_API_KEY"); key != "" {
		c.Capabilities.Web.APIKey = key
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 30 * time.Second
	}
	if c.LLM.OpenAI.APIURL == "" {
		c.LLM.OpenAI.APIURL = "https://api.openai.com/v1"
	}
	if c.LLM.OpenAI.Model == "" {
		c.LLM.OpenAI.Model = "gpt-4o"
	}
	if c.LLM.Anthropic.APIURL == "" {
		c.LLM.Anthropic.APIURL = "https://api.anthropic.com/v1"
	}
	if c.LLM.OpenAI.MaxTokens == 0 {
		c.LLM.OpenAI.MaxTokens = 1024
	}
	if c.LLM.Anthropic.MaxTokens == 0 {
		c.LLM.Anthropic.MaxTokens = 1024
	}
	if c.Router.CheckInInterval == 0 {
		c.Router.CheckInInterval = 120 * time.Minute
	}
	if c.Router.MaxRoutingDepth == 0 {
		c.Router.MaxRoutingDepth = 500
	}
	if len(c.Router.CrisisKeywords) == 0 {
		c.Router.CrisisKeywords = defaultCrisisKeywords()
	}
	if len(c.Router.EmotionalKeywords) == 0 {
		c.Router.EmotionalKeywords = defaultEmotionalKeywords()
	}
	if c.Compactor.TurnThreshold == 0 {
		c.Compactor.TurnThreshold = 20
	}
	if c.Compactor.KeepRecent == 0 {
		c.Compactor.KeepRecent = 5
	}
	if c.Capabilities.Content.Mode == "" {
		c.Capabilities.Content.Mode = "off"
	}
	if c.Capabilities.Content.TopK == 0 {
		c.Capabilities.Content.TopK = 5
	}
	if c.Capabilities.Web.Mode == "" {
		c.Capabilities.Web.Mode = "off"
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "memory"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate rejects configurations the orchestrator cannot run with.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unsupported LLM provider: %s", c.LLM.Provider)
	}
	switch c.Store.Backend {
	case "memory":
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unsupported store backend: %s", c.Store.Backend)
	}
	if c.Compactor.KeepRecent >= c.Compactor.TurnThreshold {
		return fmt.Errorf("compactor.keep_recent (%d) must be below turn_threshold (%d)",
			c.Compactor.KeepRecent, c.Compactor.TurnThreshold)
	}
	return nil
}
