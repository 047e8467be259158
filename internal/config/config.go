// Package config loads service configuration from an optional YAML file plus
// RENAMER_* environment overrides, with documented defaults for everything.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the renamer service
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Naming   NamingConfig   `mapstructure:"naming"`
	Session  SessionConfig  `mapstructure:"session"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

type StorageConfig struct {
	UploadDir string `mapstructure:"upload_dir"`
}

type UploadConfig struct {
	MaxFileBytes int64 `mapstructure:"max_file_bytes"`
}

// AnalysisConfig controls the vision describe calls.
type AnalysisConfig struct {
	Provider string        `mapstructure:"provider"` // gemini, ollama or openai
	Model    string        `mapstructure:"model"`    // provider default when empty
	Workers  int           `mapstructure:"workers"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type NamingConfig struct {
	MaxLength int `mapstructure:"max_length"`
}

// SessionConfig controls idle expiry. TTL counts from the last operation on
// the session, not from creation.
type SessionConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// Load reads configuration. A missing config file is fine, defaults and
// environment variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetDefault("server.address", ":8888")
	v.SetDefault("storage.upload_dir", "uploads")
	v.SetDefault("upload.max_file_bytes", 10*1024*1024)
	v.SetDefault("analysis.provider", "gemini")
	v.SetDefault("analysis.model", "")
	v.SetDefault("analysis.workers", 3)
	v.SetDefault("analysis.timeout", time.Minute)
	v.SetDefault("naming.max_length", 64)
	v.SetDefault("session.ttl", time.Hour)
	v.SetDefault("session.sweep_interval", 5*time.Minute)

	if path == "" {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("RENAMER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Analysis.Provider {
	case "gemini", "ollama", "openai":
	default:
		return fmt.Errorf("analysis.provider must be gemini, ollama or openai, got %q", c.Analysis.Provider)
	}
	if c.Analysis.Workers < 1 {
		return fmt.Errorf("analysis.workers must be >= 1, got %d", c.Analysis.Workers)
	}
	if c.Upload.MaxFileBytes <= 0 {
		return fmt.Errorf("upload.max_file_bytes must be > 0, got %d", c.Upload.MaxFileBytes)
	}
	return nil
}

// ModelOrDefault returns the configured model, or the provider's default.
func (c *AnalysisConfig) ModelOrDefault() string {
	if c.Model != "" {
		return c.Model
	}
	switch c.Provider {
	case "ollama":
		return "llava"
	case "openai":
		return "gpt-4o"
	default:
		return "gemini-1.5-flash"
	}
}
