package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Cache   CacheConfig   `yaml:"cache"`
	LLM     LLMConfig     `yaml:"llm"`
	Sandbox SandboxConfig `yaml:"sandbox"`
	Skills  SkillsConfig  `yaml:"skills"`
	Auth    AuthConfig    `yaml:"auth"`
	Secrets SecretsConfig `yaml:"secrets"`
	Logger  LoggerConfig  `yaml:"logger"`
	Tracer  TracerConfig  `yaml:"tracer"`
}

// ServerConfig holds gateway listener settings.
type ServerConfig struct {
	Addr string `yaml:"addr"` // e.g. ":8000"
}

// StoreConfig holds the configuration database settings.
type StoreConfig struct {
	Path string `yaml:"path"` // SQLite database path
}

// CacheConfig holds runtime-cache settings.
type CacheConfig struct {
	TTL string `yaml:"ttl"` // duration string; default "1h"
}

// LLMConfig holds completion-call settings. Credentials are per-user
// variables, not config; only models and call policy live here.
type LLMConfig struct {
	DefaultModel string `yaml:"default_model"` // default "gpt-4o"
	JudgeModel   string `yaml:"judge_model"`   // safety judge; default "o3-mini"
	ParserModel  string `yaml:"parser_model"`  // verdict coercion; default "gpt-4o-mini"
	Timeout      string `yaml:"timeout"`       // per-call; default "60s"
	MaxRetries   int    `yaml:"max_retries"`   // default 3
}

// SandboxConfig holds remote code-interpreter settings.
type SandboxConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"` // service credential, ${ENV} expanded
	Timeout string `yaml:"timeout"` // default "120s"
}

// SkillsConfig holds skill registry and execution settings.
type SkillsConfig struct {
	Dir        string  `yaml:"dir"`          // materialized skill sources
	MaxLines   int     `yaml:"max_lines"`    // default 200
	ExecPerMin float64 `yaml:"exec_per_min"` // rate limit; default 30
	ExecBurst  int     `yaml:"exec_burst"`   // default 5
}

// AuthConfig maps bearer tokens to user ids. Values are ${ENV} expanded
// so tokens never sit in the file verbatim.
type AuthConfig struct {
	Tokens map[string]string `yaml:"tokens"`
}

// SecretsConfig holds the passphrase used to encrypt user variables at rest.
type SecretsConfig struct {
	Passphrase string `yaml:"passphrase"` // ${ENV} expanded
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
	Output string `yaml:"output"` // stdout|stderr|<path>
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // stdout|noop
}

// Load reads and validates a YAML config file. ${VAR} references in
// credential fields are expanded from the process environment.
func Load(path string) (*Config, error) {
	if err := validatePermissions(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.Sandbox.APIKey = os.ExpandEnv(cfg.Sandbox.APIKey)
	cfg.Secrets.Passphrase = os.ExpandEnv(cfg.Secrets.Passphrase)
	tokens := make(map[string]string, len(cfg.Auth.Tokens))
	for token, userID := range cfg.Auth.Tokens {
		tokens[os.ExpandEnv(token)] = userID
	}
	cfg.Auth.Tokens = tokens

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config populated with defaults.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Addr: ":8000"},
		Store:   StoreConfig{Path: "agentos.db"},
		Cache:   CacheConfig{TTL: "1h"},
		LLM: LLMConfig{
			DefaultModel: "gpt-4o",
			JudgeModel:   "o3-mini",
			ParserModel:  "gpt-4o-mini",
			Timeout:      "60s",
			MaxRetries:   3,
		},
		Sandbox: SandboxConfig{Timeout: "120s"},
		Skills: SkillsConfig{
			Dir:        "skills",
			MaxLines:   200,
			ExecPerMin: 30,
			ExecBurst:  5,
		},
		Logger: LoggerConfig{Level: "info", Format: "text", Output: "stderr"},
	}
}

// Validate checks config invariants that would otherwise surface as
// confusing runtime faults.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	if c.Skills.MaxLines <= 0 {
		return fmt.Errorf("skills.max_lines must be positive")
	}
	for name, raw := range map[string]string{
		"cache.ttl":       c.Cache.TTL,
		"llm.timeout":     c.LLM.Timeout,
		"sandbox.timeout": c.Sandbox.Timeout,
	} {
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// CacheTTL returns the parsed cache expiration.
func (c *Config) CacheTTL() time.Duration { return parseDuration(c.Cache.TTL, time.Hour) }

// LLMTimeout returns the parsed per-call LLM timeout.
func (c *Config) LLMTimeout() time.Duration { return parseDuration(c.LLM.Timeout, 60*time.Second) }

// SandboxTimeout returns the parsed sandbox execution timeout.
func (c *Config) SandboxTimeout() time.Duration {
	return parseDuration(c.Sandbox.Timeout, 120*time.Second)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable).
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
