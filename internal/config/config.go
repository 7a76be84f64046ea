// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/citechat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete citechat configuration.
type Config struct {
	// Version is the config file format version.
	Version string `toml:"version" json:"version" yaml:"version"`

	Backend BackendConfig `toml:"backend" json:"backend" yaml:"backend"`
	Answer  AnswerConfig  `toml:"answer" json:"answer" yaml:"answer"`
	Render  RenderConfig  `toml:"render" json:"render" yaml:"render"`
	Server  ServerConfig  `toml:"server" json:"server" yaml:"server"`
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`
	Log     LogConfig     `toml:"log" json:"log" yaml:"log"`
}

// BackendConfig points at the chat backend that produces answers.
type BackendConfig struct {
	// URL is the backend base URL, e.g. http://localhost:50505.
	URL string `toml:"url" json:"url" yaml:"url"`

	// IDToken is sent as a bearer token when set.
	IDToken string `toml:"id_token" json:"id_token,omitempty" yaml:"id_token,omitempty"`

	// TimeoutSecs bounds non-streaming requests.
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs" yaml:"timeout_secs"`

	MaxRetries int `toml:"max_retries" json:"max_retries" yaml:"max_retries"`

	// RateLimit is requests per second to the backend. 0 disables limiting.
	RateLimit float64 `toml:"rate_limit" json:"rate_limit" yaml:"rate_limit"`
}

// AnswerConfig controls how answers are interpreted.
type AnswerConfig struct {
	// Placeholder is the citation marker style: "html" or "superscript".
	Placeholder string `toml:"placeholder" json:"placeholder" yaml:"placeholder"`
}

// RenderConfig controls terminal and HTML rendering.
type RenderConfig struct {
	// Theme is "dark", "light", "auto" or "notty".
	Theme string `toml:"theme" json:"theme" yaml:"theme"`

	// WordWrap is the terminal wrap width. 0 follows the terminal.
	WordWrap int `toml:"word_wrap" json:"word_wrap" yaml:"word_wrap"`

	// HighlightStyle is the chroma style for fenced code in HTML output.
	HighlightStyle string `toml:"highlight_style" json:"highlight_style" yaml:"highlight_style"`
}

// ServerConfig configures the HTTP service started by "citechat serve".
type ServerConfig struct {
	Host           string   `toml:"host" json:"host" yaml:"host"`
	Port           int      `toml:"port" json:"port" yaml:"port"`
	AllowedOrigins []string `toml:"allowed_origins" json:"allowed_origins" yaml:"allowed_origins"`

	// AuthToken enables bearer authentication when set.
	AuthToken string `toml:"auth_token" json:"auth_token,omitempty" yaml:"auth_token,omitempty"`

	// RateLimit is requests per second per client IP.
	RateLimit float64 `toml:"rate_limit" json:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `toml:"rate_burst" json:"rate_burst" yaml:"rate_burst"`
}

// StorageConfig controls the local answer history.
type StorageConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Path    string `toml:"path" json:"path" yaml:"path"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is "console" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

const (
	// CurrentVersion is written into new config files.
	CurrentVersion = "1"

	DefaultBackendURL     = "http://localhost:50505"
	DefaultTimeoutSecs    = 60
	DefaultMaxRetries     = 3
	DefaultPlaceholder    = "html"
	DefaultTheme          = "auto"
	DefaultHighlightStyle = "github"
	DefaultServerHost     = "127.0.0.1"
	DefaultServerPort     = 8787
	DefaultServerRate     = 20
	DefaultServerBurst    = 40
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "console"

	historyFile = "history.db"
)

// Default returns a new Config with default values.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		Backend: BackendConfig{
			URL:         DefaultBackendURL,
			TimeoutSecs: DefaultTimeoutSecs,
			MaxRetries:  DefaultMaxRetries,
		},
		Answer: AnswerConfig{
			Placeholder: DefaultPlaceholder,
		},
		Render: RenderConfig{
			Theme:          DefaultTheme,
			HighlightStyle: DefaultHighlightStyle,
		},
		Server: ServerConfig{
			Host:      DefaultServerHost,
			Port:      DefaultServerPort,
			RateLimit: DefaultServerRate,
			RateBurst: DefaultServerBurst,
		},
		Storage: StorageConfig{
			Enabled: true,
			Path:    defaultHistoryPath(),
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

func defaultHistoryPath() string {
	dir, err := ConfigDir()
	if err != nil {
		return historyFile
	}
	return filepath.Join(dir, historyFile)
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the citechat configuration directory. CITECHAT_HOME
// overrides the default of ~/.citechat.
func ConfigDir() (string, error) {
	if dir := os.Getenv("CITECHAT_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".citechat"), nil
}

func configPath(name string) (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) { return configPath("config.toml") }

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) { return configPath("config.json") }

// ConfigPathYAML returns the path to the YAML config file.
func ConfigPathYAML() (string, error) { return configPath("config.yaml") }

// ActivePath returns the first config file that exists, or the TOML path
// when none does.
func ActivePath() (string, error) {
	for _, fn := range []func() (string, error){ConfigPathTOML, ConfigPathJSON, ConfigPathYAML} {
		path, err := fn()
		if err != nil {
			return "", err
		}
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return ConfigPathTOML()
}

// ensureSecurePermissions tightens a config file to 0600.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the first config file found in ConfigDir.
// Falls back to defaults when no file exists or the file cannot be decoded;
// in the latter case the decode error is returned alongside the defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	var loadErr error

	for _, fn := range []func() (string, error){ConfigPathTOML, ConfigPathJSON, ConfigPathYAML} {
		path, err := fn()
		if err != nil {
			loadErr = err
			break
		}
		if _, statErr := os.Stat(path); statErr != nil {
			continue
		}
		cfg, err := LoadFromPath(path)
		if err == nil {
			return cfg, nil
		}
		loadErr = err
		break
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, loadErr
}

// LoadFromPath loads configuration from a specific file with full
// validation. The format follows the file extension; anything other than
// .json, .yaml or .yml is read as TOML.
func LoadFromPath(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFile reads one config file over the defaults without environment
// overrides or validation. A missing file yields the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}

	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = LoadJSON(cfg, path)
	case ".yaml", ".yml":
		err = LoadYAML(cfg, path)
	default:
		err = LoadTOML(cfg, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg.
func LoadTOML(cfg *Config, path string) error {
	warnPermissions(path)
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return fillDefaults(cfg)
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	warnPermissions(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return fillDefaults(cfg)
}

// LoadYAML decodes a YAML file over cfg.
func LoadYAML(cfg *Config, path string) error {
	warnPermissions(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read YAML file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode YAML file: %w", err)
	}
	return fillDefaults(cfg)
}

func warnPermissions(path string) {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) error {
	defaults := Default()

	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}

	// Backend
	if cfg.Backend.URL == "" {
		cfg.Backend.URL = defaults.Backend.URL
	}
	if cfg.Backend.TimeoutSecs == 0 {
		cfg.Backend.TimeoutSecs = defaults.Backend.TimeoutSecs
	}

	// Answer
	if cfg.Answer.Placeholder == "" {
		cfg.Answer.Placeholder = defaults.Answer.Placeholder
	}

	// Render
	if cfg.Render.Theme == "" {
		cfg.Render.Theme = defaults.Render.Theme
	}
	if cfg.Render.HighlightStyle == "" {
		cfg.Render.HighlightStyle = defaults.Render.HighlightStyle
	}

	// Server
	if cfg.Server.Host == "" {
		cfg.Server.Host = defaults.Server.Host
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if cfg.Server.RateLimit == 0 {
		cfg.Server.RateLimit = defaults.Server.RateLimit
	}
	if cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = defaults.Server.RateBurst
	}

	// Storage
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = defaults.Storage.Path
	}

	// Log
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Log.Format
	}

	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration to a TOML file with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# citechat configuration file\n")
	buf.WriteString("# Generated by citechat - edit with care\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveToPath writes cfg in the format given by the file extension.
func SaveToPath(cfg *Config, path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return SaveJSON(cfg, path)
	case ".yaml", ".yml":
		return SaveYAML(cfg, path)
	default:
		return SaveTOML(cfg, path)
	}
}

// SaveYAML writes the configuration to a YAML file with 0600 permissions.
func SaveYAML(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON writes the configuration to a JSON file with 0600 permissions.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
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
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

func oneOf(value string, allowed ...string) bool {
	value = strings.ToLower(value)
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}

// Validate checks every section and returns ValidateErrors listing all
// problems found, or nil.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Backend
	if u, err := url.Parse(c.Backend.URL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		add("backend.url", "invalid URL '%s', must be http(s)://host[:port]", c.Backend.URL)
	}
	if c.Backend.TimeoutSecs < 1 || c.Backend.TimeoutSecs > 3600 {
		add("backend.timeout_secs", "must be between 1 and 3600, got %d", c.Backend.TimeoutSecs)
	}
	if c.Backend.MaxRetries < 0 || c.Backend.MaxRetries > 10 {
		add("backend.max_retries", "must be between 0 and 10, got %d", c.Backend.MaxRetries)
	}
	if c.Backend.RateLimit < 0 {
		add("backend.rate_limit", "must not be negative, got %g", c.Backend.RateLimit)
	}

	// Answer
	if !oneOf(c.Answer.Placeholder, "html", "superscript") {
		add("answer.placeholder", "invalid placeholder '%s', must be one of: html, superscript", c.Answer.Placeholder)
	}

	// Render
	if !oneOf(c.Render.Theme, "auto", "dark", "light", "notty") {
		add("render.theme", "invalid theme '%s', must be one of: auto, dark, light, notty", c.Render.Theme)
	}
	if c.Render.WordWrap < 0 || c.Render.WordWrap > 500 {
		add("render.word_wrap", "must be between 0 and 500, got %d", c.Render.WordWrap)
	}

	// Server
	if strings.TrimSpace(c.Server.Host) == "" {
		add("server.host", "must not be empty")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimit <= 0 {
		add("server.rate_limit", "must be positive, got %g", c.Server.RateLimit)
	}
	if c.Server.RateBurst < 1 {
		add("server.rate_burst", "must be at least 1, got %d", c.Server.RateBurst)
	}
	for _, origin := range c.Server.AllowedOrigins {
		if origin == "*" || strings.HasPrefix(origin, "*.") {
			continue
		}
		if u, err := url.Parse(origin); err != nil || u.Scheme == "" || u.Host == "" {
			add("server.allowed_origins", "invalid origin '%s'", origin)
		}
	}

	// Storage
	if c.Storage.Enabled && strings.TrimSpace(c.Storage.Path) == "" {
		add("storage.path", "must be set when storage is enabled")
	}

	// Log
	if !oneOf(c.Log.Level, "debug", "info", "warn", "error") {
		add("log.level", "invalid level '%s', must be one of: debug, info, warn, error", c.Log.Level)
	}
	if !oneOf(c.Log.Format, "console", "json") {
		add("log.format", "invalid format '%s', must be one of: console, json", c.Log.Format)
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
//   - CITECHAT_BACKEND_URL: overrides backend.url
//   - CITECHAT_ID_TOKEN: overrides backend.id_token
//   - CITECHAT_AUTH_TOKEN: overrides server.auth_token
//   - CITECHAT_LOG_LEVEL: overrides log.level
//   - CITECHAT_THEME: overrides render.theme
//   - CITECHAT_PORT: overrides server.port (ignored unless numeric)
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("CITECHAT_BACKEND_URL"); v != "" {
		c.Backend.URL = v
	}
	if v := os.Getenv("CITECHAT_ID_TOKEN"); v != "" {
		c.Backend.IDToken = v
	}
	if v := os.Getenv("CITECHAT_AUTH_TOKEN"); v != "" {
		c.Server.AuthToken = v
	}
	if v := os.Getenv("CITECHAT_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("CITECHAT_THEME"); v != "" {
		c.Render.Theme = strings.ToLower(v)
	}
	if v := os.Getenv("CITECHAT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// lookup walks a dot-separated key ("server.port") to its struct field.
func (c *Config) lookup(key string) (reflect.Value, error) {
	if strings.TrimSpace(key) == "" {
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

// Get retrieves a configuration value using dot notation (e.g. "server.port").
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field's type; comma-separated strings fill list fields.
func (c *Config) Set(key string, value any) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go
// field equivalent ("id_token" -> "Idtoken", matched case-insensitively).
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		result.WriteString(strings.ToUpper(part[:1]))
		result.WriteString(strings.ToLower(part[1:]))
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an arbitrary value with type
// conversion.
func setFieldValue(field reflect.Value, value any) error {
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
		case reflect.Bool:
			boolVal, err := strconv.ParseBool(strVal)
			if err != nil {
				boolVal = strings.EqualFold(strVal, "yes")
			}
			field.SetBool(boolVal)
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				var items []string
				for _, item := range strings.Split(strVal, ",") {
					if item = strings.TrimSpace(item); item != "" {
						items = append(items, item)
					}
				}
				field.Set(reflect.ValueOf(items))
				return nil
			}
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) && val.Kind() != reflect.String {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// GetAllKeys returns all configuration keys in dot notation.
func GetAllKeys() []string {
	return []string{
		"version",
		"backend.url",
		"backend.id_token",
		"backend.timeout_secs",
		"backend.max_retries",
		"backend.rate_limit",
		"answer.placeholder",
		"render.theme",
		"render.word_wrap",
		"render.highlight_style",
		"server.host",
		"server.port",
		"server.allowed_origins",
		"server.auth_token",
		"server.rate_limit",
		"server.rate_burst",
		"storage.enabled",
		"storage.path",
		"log.level",
		"log.format",
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Server.AllowedOrigins != nil {
		clone.Server.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	}
	return &clone
}

// Redacted returns a copy with tokens masked, for display and logging.
func (c *Config) Redacted() *Config {
	safe := c.Clone()
	if safe.Backend.IDToken != "" {
		safe.Backend.IDToken = "[REDACTED]"
	}
	if safe.Server.AuthToken != "" {
		safe.Server.AuthToken = "[REDACTED]"
	}
	return safe
}

// String returns the config as indented JSON with tokens redacted.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return string(data)
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance.
// Loads configuration on first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
		}
		if cfg == nil {
			cfg = Default()
		}
		globalConfigMu.Lock()
		globalConfig = cfg
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk. Thread-safe.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	SetGlobal(cfg)
	return nil
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	globalConfig = cfg
	globalConfigMu.Unlock()

	// Skip lazy loading once a config has been provided.
	globalConfigOnce.Do(func() {})
}

// ResetGlobalForTesting resets the global config state for testing.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
