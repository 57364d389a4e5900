// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/rigrun-chatsync/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete chatsync configuration.
type Config struct {
	Backend BackendConfig `toml:"backend" json:"backend"`
	Storage StorageConfig `toml:"storage" json:"storage"`
	Chat    ChatConfig    `toml:"chat" json:"chat"`
	Log     LogConfig     `toml:"log" json:"log"`
}

// BackendConfig describes the remote chat backend.
type BackendConfig struct {
	// BaseURL is the root of the backend HTTP API.
	BaseURL string `toml:"base_url" json:"base_url"`
	// AgentID names the agent the runs endpoint is addressed to.
	AgentID     string `toml:"agent_id" json:"agent_id"`
	SessionType string `toml:"session_type" json:"session_type"`
	// ChatMode is "runs" (multipart agent runs with SSE) or "plain".
	ChatMode string `toml:"chat_mode" json:"chat_mode"`

	RequestTimeoutSecs int `toml:"request_timeout_secs" json:"request_timeout_secs"`
	// RequestsPerSecond of 0 disables client-side rate limiting.
	RequestsPerSecond float64 `toml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `toml:"burst" json:"burst"`
}

// StorageConfig selects where session records and attachments live.
type StorageConfig struct {
	// Driver is "http" (the backend above) or "sqlite" (local file).
	Driver     string `toml:"driver" json:"driver"`
	SQLitePath string `toml:"sqlite_path" json:"sqlite_path"`
	BlobDir    string `toml:"blob_dir" json:"blob_dir"`
}

// ChatConfig holds per-owner chat behaviour.
type ChatConfig struct {
	Owner             string `toml:"owner" json:"owner"`
	ThinkingIndicator string `toml:"thinking_indicator" json:"thinking_indicator"`
	FailureMessage    string `toml:"failure_message" json:"failure_message"`
	UploadConcurrency int    `toml:"upload_concurrency" json:"upload_concurrency"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level  string `toml:"level" json:"level"`
	Format string `toml:"format" json:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	dir, err := ConfigDir()
	if err != nil {
		dir = ".chatsync"
	}
	return &Config{
		Backend: BackendConfig{
			BaseURL:            "http://localhost:7777",
			AgentID:            "agno-agent",
			SessionType:        "agent",
			ChatMode:           "runs",
			RequestTimeoutSecs: 30,
			Burst:              1,
		},
		Storage: StorageConfig{
			Driver:     "http",
			SQLitePath: filepath.Join(dir, "chatsync.db"),
			BlobDir:    filepath.Join(dir, "blobs"),
		},
		Chat: ChatConfig{
			ThinkingIndicator: "Thinking...",
			FailureMessage:    "Sorry, something went wrong while generating a response. Please try again.",
			UploadConcurrency: 3,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the chatsync configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".chatsync"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads ~/.chatsync/config.toml if it exists, otherwise the defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific TOML file with full
// validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := &Config{}
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}
	fillDefaults(cfg)

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) {
	defaults := Default()

	// Backend
	if cfg.Backend.BaseURL == "" {
		cfg.Backend.BaseURL = defaults.Backend.BaseURL
	}
	if cfg.Backend.AgentID == "" {
		cfg.Backend.AgentID = defaults.Backend.AgentID
	}
	if cfg.Backend.SessionType == "" {
		cfg.Backend.SessionType = defaults.Backend.SessionType
	}
	if cfg.Backend.ChatMode == "" {
		cfg.Backend.ChatMode = defaults.Backend.ChatMode
	}
	if cfg.Backend.RequestTimeoutSecs == 0 {
		cfg.Backend.RequestTimeoutSecs = defaults.Backend.RequestTimeoutSecs
	}
	if cfg.Backend.Burst == 0 {
		cfg.Backend.Burst = defaults.Backend.Burst
	}

	// Storage
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = defaults.Storage.Driver
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = defaults.Storage.SQLitePath
	}
	if cfg.Storage.BlobDir == "" {
		cfg.Storage.BlobDir = defaults.Storage.BlobDir
	}

	// Chat
	if cfg.Chat.ThinkingIndicator == "" {
		cfg.Chat.ThinkingIndicator = defaults.Chat.ThinkingIndicator
	}
	if cfg.Chat.FailureMessage == "" {
		cfg.Chat.FailureMessage = defaults.Chat.FailureMessage
	}
	if cfg.Chat.UploadConcurrency == 0 {
		cfg.Chat.UploadConcurrency = defaults.Chat.UploadConcurrency
	}

	// Log
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Log.Format
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML writes the configuration to path atomically with 0600
// permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# chatsync configuration file\n")
	buf.WriteString("# Generated by chatsync - edit with care\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFileWithDir(path, buf.Bytes(), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	// ==========================================================================
	// Backend
	// ==========================================================================

	if u, err := url.Parse(c.Backend.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "backend.base_url",
			Message: fmt.Sprintf("invalid URL '%s'", c.Backend.BaseURL),
		})
	}
	validModes := map[string]bool{"runs": true, "plain": true}
	if !validModes[strings.ToLower(c.Backend.ChatMode)] {
		errs = append(errs, ValidationError{
			Field:   "backend.chat_mode",
			Message: fmt.Sprintf("invalid mode '%s', must be one of: runs, plain", c.Backend.ChatMode),
		})
	}
	if c.Backend.RequestTimeoutSecs < 1 || c.Backend.RequestTimeoutSecs > 600 {
		errs = append(errs, ValidationError{
			Field:   "backend.request_timeout_secs",
			Message: fmt.Sprintf("must be 1-600, got %d", c.Backend.RequestTimeoutSecs),
		})
	}
	if c.Backend.RequestsPerSecond < 0 {
		errs = append(errs, ValidationError{
			Field:   "backend.requests_per_second",
			Message: "cannot be negative",
		})
	}
	if c.Backend.Burst < 0 {
		errs = append(errs, ValidationError{
			Field:   "backend.burst",
			Message: "cannot be negative",
		})
	}

	// ==========================================================================
	// Storage
	// ==========================================================================

	switch strings.ToLower(c.Storage.Driver) {
	case "http":
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			errs = append(errs, ValidationError{Field: "storage.sqlite_path", Message: "required for the sqlite driver"})
		}
		if c.Storage.BlobDir == "" {
			errs = append(errs, ValidationError{Field: "storage.blob_dir", Message: "required for the sqlite driver"})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "storage.driver",
			Message: fmt.Sprintf("invalid driver '%s', must be one of: http, sqlite", c.Storage.Driver),
		})
	}

	// ==========================================================================
	// Chat
	// ==========================================================================

	if c.Chat.UploadConcurrency < 1 || c.Chat.UploadConcurrency > 32 {
		errs = append(errs, ValidationError{
			Field:   "chat.upload_concurrency",
			Message: fmt.Sprintf("must be 1-32, got %d", c.Chat.UploadConcurrency),
		})
	}

	// ==========================================================================
	// Log
	// ==========================================================================

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", c.Log.Level),
		})
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Log.Format)] {
		errs = append(errs, ValidationError{
			Field:   "log.format",
			Message: fmt.Sprintf("invalid format '%s', must be one of: text, json", c.Log.Format),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides:
//   - CHATSYNC_BASE_URL: overrides backend.base_url
//   - CHATSYNC_AGENT_ID: overrides backend.agent_id
//   - CHATSYNC_CHAT_MODE: overrides backend.chat_mode
//   - CHATSYNC_RPS: overrides backend.requests_per_second
//   - CHATSYNC_STORAGE: overrides storage.driver
//   - CHATSYNC_SQLITE_PATH: overrides storage.sqlite_path
//   - CHATSYNC_BLOB_DIR: overrides storage.blob_dir
//   - CHATSYNC_OWNER: overrides chat.owner
//   - CHATSYNC_LOG_LEVEL: overrides log.level
//   - CHATSYNC_LOG_FORMAT: overrides log.format
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("CHATSYNC_BASE_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("CHATSYNC_AGENT_ID"); v != "" {
		c.Backend.AgentID = v
	}
	if v := os.Getenv("CHATSYNC_CHAT_MODE"); v != "" {
		c.Backend.ChatMode = v
	}
	if v := os.Getenv("CHATSYNC_RPS"); v != "" {
		if rps, err := strconv.ParseFloat(v, 64); err == nil {
			c.Backend.RequestsPerSecond = rps
		}
	}
	if v := os.Getenv("CHATSYNC_STORAGE"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("CHATSYNC_SQLITE_PATH"); v != "" {
		c.Storage.SQLitePath = v
	}
	if v := os.Getenv("CHATSYNC_BLOB_DIR"); v != "" {
		c.Storage.BlobDir = v
	}
	if v := os.Getenv("CHATSYNC_OWNER"); v != "" {
		c.Chat.Owner = v
	}
	if v := os.Getenv("CHATSYNC_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("CHATSYNC_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "backend.base_url").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field's type.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// GetAllKeys returns all configuration keys in dot notation.
func GetAllKeys() []string {
	return []string{
		"backend.base_url",
		"backend.agent_id",
		"backend.session_type",
		"backend.chat_mode",
		"backend.request_timeout_secs",
		"backend.requests_per_second",
		"backend.burst",
		"storage.driver",
		"storage.sqlite_path",
		"storage.blob_dir",
		"chat.owner",
		"chat.thinking_indicator",
		"chat.failure_message",
		"chat.upload_concurrency",
		"log.level",
		"log.format",
	}
}
