// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for parley.
//
// Supports TOML configuration with sensible defaults, environment variable
// overrides, validation, and hot reload on file change.
//
// Configuration file location: ~/.parley/config.toml, falling back to
// built-in defaults when absent.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/text/language"

	"github.com/jeranaias/parley/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete parley configuration.
type Config struct {
	// DefaultModel is used when a chat has no model selected.
	DefaultModel string `toml:"default_model"`

	// ResponseLanguage asks models to answer in a specific language.
	// "Auto" disables the directive.
	ResponseLanguage string `toml:"response_language"`

	// Local inference server settings.
	Local LocalConfig `toml:"local"`

	// Cloud providers keyed by vendor name ("OpenAI", "OpenRouter",
	// "Mistral", "Groq").
	Cloud map[string]CloudProviderConfig `toml:"cloud"`

	// Proxy routes all provider traffic when enabled.
	Proxy ProxyConfig `toml:"proxy"`

	// Storage settings.
	Storage StorageConfig `toml:"storage"`
}

// LocalConfig holds the local inference server settings.
type LocalConfig struct {
	// BaseURL of the server (default http://127.0.0.1:11434).
	BaseURL string `toml:"base_url"`

	// TimeoutSecs bounds buffered requests (default 60).
	TimeoutSecs int `toml:"timeout_secs"`

	// Streaming selects incremental delivery for chat replies.
	Streaming bool `toml:"streaming"`
}

// CloudProviderConfig holds one vendor's settings.
type CloudProviderConfig struct {
	// APIKey is the bearer token; empty disables the vendor.
	APIKey string `toml:"api_key"`

	// BaseURL overrides the vendor's default endpoint.
	BaseURL string `toml:"base_url"`

	// TimeoutSecs bounds buffered requests (default 60).
	TimeoutSecs int `toml:"timeout_secs"`
}

// ProxyConfig holds the outbound proxy settings.
type ProxyConfig struct {
	Enabled     bool   `toml:"enabled"`
	URL         string `toml:"url"`
	AuthEnabled bool   `toml:"auth_enabled"`
	Login       string `toml:"login"`
	Password    string `toml:"password"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// DatabasePath is the SQLite file (default ~/.parley/parley.db).
	DatabasePath string `toml:"database_path"`
}

// =============================================================================
// DEFAULTS AND PATHS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ResponseLanguage: "Auto",
		Local: LocalConfig{
			BaseURL:     "http://127.0.0.1:11434",
			TimeoutSecs: 60,
			Streaming:   true,
		},
		Cloud: map[string]CloudProviderConfig{},
	}
}

// Dir returns the parley configuration directory (~/.parley).
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".parley"), nil
}

// Path returns the configuration file path.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the configuration from the default location, applies env
// overrides, fills defaults and validates. A missing file is not an error.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath reads the configuration from an explicit path. A missing file
// yields the defaults.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	cfg.fillDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fillDefaults replaces zero values with the built-in defaults.
func (c *Config) fillDefaults() {
	def := Default()
	if c.ResponseLanguage == "" {
		c.ResponseLanguage = def.ResponseLanguage
	}
	if c.Local.BaseURL == "" {
		c.Local.BaseURL = def.Local.BaseURL
	}
	if c.Local.TimeoutSecs <= 0 {
		c.Local.TimeoutSecs = def.Local.TimeoutSecs
	}
	if c.Cloud == nil {
		c.Cloud = map[string]CloudProviderConfig{}
	}
	if c.Storage.DatabasePath == "" {
		if dir, err := Dir(); err == nil {
			c.Storage.DatabasePath = filepath.Join(dir, "parley.db")
		}
	}
}

// ApplyEnvOverrides applies PARLEY_* environment variables on top of the
// file values. Vendor keys use PARLEY_<VENDOR>_KEY, e.g. PARLEY_OPENAI_KEY.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("PARLEY_MODEL"); v != "" {
		c.DefaultModel = v
	}
	if v := os.Getenv("PARLEY_LANGUAGE"); v != "" {
		c.ResponseLanguage = v
	}
	if v := os.Getenv("PARLEY_LOCAL_URL"); v != "" {
		c.Local.BaseURL = v
	}
	if v := os.Getenv("PARLEY_DB_PATH"); v != "" {
		c.Storage.DatabasePath = v
	}
	if v := os.Getenv("PARLEY_PROXY_URL"); v != "" {
		c.Proxy.Enabled = true
		c.Proxy.URL = v
	}

	for _, vendor := range []string{"OpenAI", "OpenRouter", "Mistral", "Groq"} {
		env := "PARLEY_" + strings.ToUpper(vendor) + "_KEY"
		if v := os.Getenv(env); v != "" {
			if c.Cloud == nil {
				c.Cloud = map[string]CloudProviderConfig{}
			}
			entry := c.Cloud[vendor]
			entry.APIKey = v
			c.Cloud[vendor] = entry
		}
	}
}

// =============================================================================
// SAVING
// =============================================================================

// Save writes the configuration to the default location atomically.
func (c *Config) Save() error {
	path, err := Path()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

// SaveTo writes the configuration to an explicit path atomically.
func (c *Config) SaveTo(path string) error {
	var sb strings.Builder
	if err := toml.NewEncoder(&sb).Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// Config may hold API keys; keep it user-only.
	return util.AtomicWriteFile(path, []byte(sb.String()), 0o600)
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes one invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	var errs []error

	if c.ResponseLanguage != "" && c.ResponseLanguage != "Auto" {
		if !knownLanguage(c.ResponseLanguage) {
			errs = append(errs, ValidationError{
				Field:   "response_language",
				Message: fmt.Sprintf("unknown language %q", c.ResponseLanguage),
			})
		}
	}

	if c.Local.BaseURL != "" {
		if err := validateURL(c.Local.BaseURL); err != nil {
			errs = append(errs, ValidationError{Field: "local.base_url", Message: err.Error()})
		}
	}

	for vendor, entry := range c.Cloud {
		if entry.BaseURL != "" {
			if err := validateURL(entry.BaseURL); err != nil {
				errs = append(errs, ValidationError{
					Field:   "cloud." + vendor + ".base_url",
					Message: err.Error(),
				})
			}
		}
	}

	if c.Proxy.Enabled {
		if c.Proxy.URL == "" {
			errs = append(errs, ValidationError{Field: "proxy.url", Message: "proxy enabled without a url"})
		} else if err := validateURL(c.Proxy.URL); err != nil {
			errs = append(errs, ValidationError{Field: "proxy.url", Message: err.Error()})
		}
		if c.Proxy.AuthEnabled && c.Proxy.Login == "" {
			errs = append(errs, ValidationError{Field: "proxy.login", Message: "proxy auth enabled without a login"})
		}
	}

	return errors.Join(errs...)
}

// LocalTimeout returns the local request timeout as a duration.
func (c *Config) LocalTimeout() time.Duration {
	return time.Duration(c.Local.TimeoutSecs) * time.Second
}

// knownLanguage reports whether name is a recognizable natural language.
// Display names ("German") and BCP 47 tags ("de") are both accepted.
func knownLanguage(name string) bool {
	if _, ok := displayLanguages[strings.ToLower(name)]; ok {
		return true
	}
	_, err := language.Parse(name)
	return err == nil
}

// displayLanguages maps common English language names to their tags. These
// are what the language picker offers; free-form tags go through
// language.Parse.
var displayLanguages = map[string]language.Tag{
	"english":    language.English,
	"german":     language.German,
	"french":     language.French,
	"spanish":    language.Spanish,
	"italian":    language.Italian,
	"portuguese": language.Portuguese,
	"dutch":      language.Dutch,
	"russian":    language.Russian,
	"chinese":    language.Chinese,
	"japanese":   language.Japanese,
	"korean":     language.Korean,
	"arabic":     language.Arabic,
	"hindi":      language.Hindi,
	"turkish":    language.Turkish,
	"polish":     language.Polish,
	"ukrainian":  language.Ukrainian,
	"swedish":    language.Swedish,
	"norwegian":  language.Norwegian,
	"danish":     language.Danish,
	"finnish":    language.Finnish,
	"czech":      language.Czech,
	"greek":      language.Greek,
	"hebrew":     language.Hebrew,
	"thai":       language.Thai,
	"vietnamese": language.Vietnamese,
	"indonesian": language.Indonesian,
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("url has no host")
	}
	return nil
}
