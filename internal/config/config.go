// Package config provides configuration management for gsh-agent.
// It loads ~/.gsh/agent.yaml and resolves the model credential from the
// environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// Environment variables checked for the model credential, in order.
const (
	EnvAPIKey       = "GSH_AGENT_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
)

// Config holds all agent configuration read from agent.yaml.
type Config struct {
	// LogLevel controls logging verbosity: debug, info, warn or error.
	LogLevel string `yaml:"logLevel"`

	// Model is the model of primary runs.
	Model string `yaml:"model"`

	// BaseURL points at an OpenAI-compatible API. Empty means OpenAI.
	BaseURL string `yaml:"baseURL"`

	// MaxRounds bounds the rounds of a primary run.
	MaxRounds int `yaml:"maxRounds"`

	// SubagentTimeout is a Go duration string such as "5m" or "90s".
	SubagentTimeout string `yaml:"subagentTimeout"`

	// AllowedRoots replace the home directory as the directories file tools
	// may touch. The working directory is always allowed.
	AllowedRoots []string `yaml:"allowedRoots"`

	// Audit enables the persistent tool call audit trail.
	Audit bool `yaml:"audit"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:        "info",
		Model:           "gpt-4o",
		MaxRounds:       100,
		SubagentTimeout: "5m",
		Audit:           true,
	}
}

// Level returns the zap level for LogLevel. Unknown values fall back to info.
func (c *Config) Level() zapcore.Level {
	level, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(c.LogLevel)))
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// Timeout parses SubagentTimeout. An empty value returns zero, which callers
// treat as "use the default".
func (c *Config) Timeout() (time.Duration, error) {
	if strings.TrimSpace(c.SubagentTimeout) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.SubagentTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid subagentTimeout %q: %w", c.SubagentTimeout, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid subagentTimeout %q: must be positive", c.SubagentTimeout)
	}
	return d, nil
}

// Validate reports configuration values that cannot be used.
func (c *Config) Validate() error {
	if c.MaxRounds < 0 {
		return fmt.Errorf("invalid maxRounds %d: must not be negative", c.MaxRounds)
	}
	if c.LogLevel != "" {
		if _, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(c.LogLevel))); err != nil {
			return fmt.Errorf("invalid logLevel %q", c.LogLevel)
		}
	}
	_, err := c.Timeout()
	return err
}

// Credential returns the model credential from the environment, or "" when
// none is set.
func Credential() string {
	return CredentialFrom(os.Getenv)
}

// CredentialFrom is Credential with a custom environment lookup.
func CredentialFrom(getenv func(string) string) string {
	for _, key := range []string{EnvAPIKey, EnvOpenAIAPIKey} {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
	}
	return ""
}
