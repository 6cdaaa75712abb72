// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"github.com/jeranaias/noteguard/internal/faults"
	"github.com/jeranaias/noteguard/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete noteguard configuration.
type Config struct {
	Version string `toml:"version"`

	// Routing configuration
	Routing RoutingConfig `toml:"routing"`

	// Local (Ollama) configuration
	Local LocalConfig `toml:"local"`

	// Cloud (OpenAI-compatible) configuration
	Cloud CloudConfig `toml:"cloud"`

	// Warmup supervisor configuration
	Warmup WarmupConfig `toml:"warmup"`

	// Audit log configuration
	Audit AuditConfig `toml:"audit"`

	// Anonymization configuration
	Anonymization AnonymizationConfig `toml:"anonymization"`

	// Logging configuration
	Logging LoggingConfig `toml:"logging"`

	// HTTP API configuration
	Server ServerConfig `toml:"server"`
}

// RoutingConfig contains provider selection configuration.
type RoutingConfig struct {
	// DefaultProvider is the user-selected provider for general operations:
	// "local" or "cloud". Sensitive operations always run locally.
	DefaultProvider string `toml:"default_provider"`
	// OfflineMode blocks every cloud call.
	OfflineMode bool `toml:"offline_mode"`
	// FallbackToCloud switches general traffic to the cloud provider when
	// the local backend is unreachable, and back once it is ready.
	FallbackToCloud bool `toml:"fallback_to_cloud"`
	// CallTimeoutSecs bounds every provider call.
	CallTimeoutSecs int `toml:"call_timeout_secs"`
}

// LocalConfig contains local Ollama configuration.
type LocalConfig struct {
	// OllamaURL is the URL of the Ollama server
	OllamaURL string `toml:"ollama_url"`
	// OllamaModel is the model used for local calls
	OllamaModel string `toml:"ollama_model"`
	// AllowRemoteEndpoint lets sensitive operations use a non-loopback
	// Ollama host, e.g. a GPU box on the practice LAN.
	AllowRemoteEndpoint bool `toml:"allow_remote_endpoint"`
	// KeepAlive is how long Ollama keeps the model resident after a call.
	KeepAlive string `toml:"keep_alive"`
}

// CloudConfig contains cloud provider configuration. The API key itself is
// never stored in the file; it is read from the variable named by APIKeyEnv.
type CloudConfig struct {
	BaseURL      string `toml:"base_url"`
	DefaultModel string `toml:"default_model"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv         string  `toml:"api_key_env"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	MaxRetries        int     `toml:"max_retries"`
	SiteURL           string  `toml:"site_url"`
	SiteName          string  `toml:"site_name"`
}

// WarmupConfig contains warmup supervisor configuration.
type WarmupConfig struct {
	// AutoStart triggers a warmup cycle at startup.
	AutoStart          bool `toml:"auto_start"`
	CheckTimeoutSecs   int  `toml:"check_timeout_secs"`
	WarmTimeoutSecs    int  `toml:"warm_timeout_secs"`
	RecheckMaxAttempts int  `toml:"recheck_max_attempts"`
	RecheckInitialSecs int  `toml:"recheck_initial_secs"`
	RecheckMaxSecs     int  `toml:"recheck_max_secs"`
}

// AuditConfig contains audit log configuration.
type AuditConfig struct {
	Enabled bool `toml:"enabled"`
	// JSONLPath is the append-only JSON lines log. Empty disables it.
	JSONLPath string `toml:"jsonl_path"`
	// SQLitePath is the queryable audit database. Empty disables it.
	SQLitePath    string `toml:"sqlite_path"`
	MaxFileSizeMB int    `toml:"max_file_size_mb"`
	QueueSize     int    `toml:"queue_size"`
}

// AnonymizationConfig contains anonymization configuration.
type AnonymizationConfig struct {
	// DefaultGender picks the pseudonym pool when the identity has none:
	// "F", "M" or "X".
	DefaultGender string `toml:"default_gender"`
	// ExtractPII runs local PII extraction on documents before analysis.
	ExtractPII bool `toml:"extract_pii"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level"`
	// Format is "text" or "json".
	Format string `toml:"format"`
}

// ServerConfig contains the HTTP API configuration used by `noteguard serve`.
type ServerConfig struct {
	// Listen is the address the API binds to.
	Listen string `toml:"listen"`
	// TokenEnv names the environment variable holding the bearer token.
	// Without a token the API only accepts a loopback listen address.
	TokenEnv string `toml:"token_env"`
	// RequestsPerSecond and Burst bound each client.
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1",

		Routing: RoutingConfig{
			DefaultProvider: "local",
			OfflineMode:     false,
			FallbackToCloud: false,
			CallTimeoutSecs: 120,
		},

		Local: LocalConfig{
			OllamaURL:   "http://127.0.0.1:11434",
			OllamaModel: "llama3.1:8b",
			KeepAlive:   "30m",
		},

		Cloud: CloudConfig{
			BaseURL:           "https://openrouter.ai/api/v1",
			DefaultModel:      "openrouter/auto",
			APIKeyEnv:         "OPENROUTER_API_KEY",
			RequestsPerSecond: 2,
			MaxRetries:        2,
			SiteName:          "noteguard",
		},

		Warmup: WarmupConfig{
			AutoStart:          true,
			CheckTimeoutSecs:   5,
			WarmTimeoutSecs:    120,
			RecheckMaxAttempts: 3,
			RecheckInitialSecs: 2,
			RecheckMaxSecs:     30,
		},

		Audit: AuditConfig{
			Enabled:       true,
			JSONLPath:     "~/.noteguard/audit/audit.jsonl",
			SQLitePath:    "~/.noteguard/audit/audit.db",
			MaxFileSizeMB: 10,
			QueueSize:     256,
		},

		Anonymization: AnonymizationConfig{
			DefaultGender: "X",
			ExtractPII:    true,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},

		Server: ServerConfig{
			Listen:            "127.0.0.1:8787",
			TokenEnv:          "NOTEGUARD_API_TOKEN",
			RequestsPerSecond: 5,
			Burst:             10,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the noteguard configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".noteguard"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
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

// Load reads the config at path, or the default location when path is
// empty. A missing file yields the defaults. .env files next to the config
// and in the working directory are loaded first; environment overrides are
// applied last.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return nil, faults.Configuration("config.load", "%v", err)
		}
		path = p
	}
	path = util.ExpandHome(path)

	LoadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env")

	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, &faults.Error{Kind: faults.KindConfiguration, Op: "config.load", Message: path, Cause: err}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, &faults.Error{Kind: faults.KindConfiguration, Op: "config.load", Message: path, Cause: err}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, &faults.Error{Kind: faults.KindConfiguration, Op: "config.load", Message: "invalid config", Cause: err}
	}
	return cfg, nil
}

// LoadTOML decodes the file at path over cfg. Keys absent from the file
// keep their current values.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		// Not fatal: permissions might not be fixable on all systems.
		log.Warn("could not ensure secure permissions", "path", path, "err", err)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		log.Warn("unknown config keys ignored", "path", path, "keys", strings.Join(keys, ", "))
	}
	return nil
}

// LoadDotEnv loads KEY=VALUE files into the environment. Missing files are
// skipped and variables that are already set win.
func LoadDotEnv(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			log.Warn("could not load env file", "path", p, "err", err)
		}
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes cfg to path atomically with 0600 permissions.
func Save(cfg *Config, path string) error {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return err
		}
		path = p
	}

	var buf bytes.Buffer
	buf.WriteString("# noteguard configuration file\n")
	buf.WriteString("# The cloud API key is read from the variable named by cloud.api_key_env.\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(util.ExpandHome(path), buf.Bytes(), 0600); err != nil {
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
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch strings.ToLower(c.Routing.DefaultProvider) {
	case "local", "cloud":
	default:
		add("routing.default_provider", "invalid provider '%s', must be one of: local, cloud", c.Routing.DefaultProvider)
	}
	if c.Routing.CallTimeoutSecs <= 0 {
		add("routing.call_timeout_secs", "must be positive")
	}

	if u, err := url.Parse(c.Local.OllamaURL); err != nil || u.Host == "" {
		add("local.ollama_url", "invalid URL '%s'", c.Local.OllamaURL)
	} else if u.Scheme != "http" && u.Scheme != "https" {
		add("local.ollama_url", "scheme must be http or https, got '%s'", u.Scheme)
	}
	if c.Local.OllamaModel == "" {
		add("local.ollama_model", "must not be empty")
	}

	if u, err := url.Parse(c.Cloud.BaseURL); err != nil || u.Scheme != "https" && u.Scheme != "http" {
		add("cloud.base_url", "invalid URL '%s'", c.Cloud.BaseURL)
	}
	if c.Cloud.APIKeyEnv == "" {
		add("cloud.api_key_env", "must name an environment variable")
	}
	if c.Cloud.RequestsPerSecond < 0 {
		add("cloud.requests_per_second", "cannot be negative")
	}
	if c.Cloud.MaxRetries < 0 {
		add("cloud.max_retries", "cannot be negative")
	}

	if c.Warmup.CheckTimeoutSecs <= 0 {
		add("warmup.check_timeout_secs", "must be positive")
	}
	if c.Warmup.WarmTimeoutSecs <= 0 {
		add("warmup.warm_timeout_secs", "must be positive")
	}
	if c.Warmup.RecheckMaxAttempts < 0 {
		add("warmup.recheck_max_attempts", "cannot be negative")
	}
	if c.Warmup.RecheckMaxSecs < c.Warmup.RecheckInitialSecs {
		add("warmup.recheck_max_secs", "must be at least recheck_initial_secs")
	}

	if c.Audit.MaxFileSizeMB < 0 {
		add("audit.max_file_size_mb", "cannot be negative")
	}
	if c.Audit.QueueSize < 0 {
		add("audit.queue_size", "cannot be negative")
	}

	switch strings.ToUpper(c.Anonymization.DefaultGender) {
	case "F", "M", "X":
	default:
		add("anonymization.default_gender", "invalid gender '%s', must be one of: F, M, X", c.Anonymization.DefaultGender)
	}

	if _, err := log.ParseLevel(c.Logging.Level); err != nil {
		add("logging.level", "invalid level '%s'", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		add("logging.format", "invalid format '%s', must be one of: text, json", c.Logging.Format)
	}

	if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
		add("server.listen", "invalid address '%s'", c.Server.Listen)
	}
	if c.Server.RequestsPerSecond < 0 {
		add("server.requests_per_second", "cannot be negative")
	}
	if c.Server.Burst < 0 {
		add("server.burst", "cannot be negative")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults fills zero values that have no meaningful zero.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Version == "" {
		c.Version = d.Version
	}
	if c.Routing.DefaultProvider == "" {
		c.Routing.DefaultProvider = d.Routing.DefaultProvider
	}
	c.Routing.DefaultProvider = strings.ToLower(c.Routing.DefaultProvider)
	if c.Routing.CallTimeoutSecs == 0 {
		c.Routing.CallTimeoutSecs = d.Routing.CallTimeoutSecs
	}
	if c.Local.OllamaURL == "" {
		c.Local.OllamaURL = d.Local.OllamaURL
	}
	if c.Local.OllamaModel == "" {
		c.Local.OllamaModel = d.Local.OllamaModel
	}
	if c.Cloud.BaseURL == "" {
		c.Cloud.BaseURL = d.Cloud.BaseURL
	}
	if c.Cloud.DefaultModel == "" {
		c.Cloud.DefaultModel = d.Cloud.DefaultModel
	}
	if c.Cloud.APIKeyEnv == "" {
		c.Cloud.APIKeyEnv = d.Cloud.APIKeyEnv
	}
	if c.Warmup.CheckTimeoutSecs == 0 {
		c.Warmup.CheckTimeoutSecs = d.Warmup.CheckTimeoutSecs
	}
	if c.Warmup.WarmTimeoutSecs == 0 {
		c.Warmup.WarmTimeoutSecs = d.Warmup.WarmTimeoutSecs
	}
	if c.Warmup.RecheckInitialSecs == 0 {
		c.Warmup.RecheckInitialSecs = d.Warmup.RecheckInitialSecs
	}
	if c.Warmup.RecheckMaxSecs == 0 {
		c.Warmup.RecheckMaxSecs = d.Warmup.RecheckMaxSecs
	}
	if c.Anonymization.DefaultGender == "" {
		c.Anonymization.DefaultGender = d.Anonymization.DefaultGender
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = d.Logging.Format
	}
	if c.Server.Listen == "" {
		c.Server.Listen = d.Server.Listen
	}
	if c.Server.TokenEnv == "" {
		c.Server.TokenEnv = d.Server.TokenEnv
	}
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// CloudAPIKey returns the cloud credential from the environment.
func (c *Config) CloudAPIKey() string {
	return strings.TrimSpace(os.Getenv(c.Cloud.APIKeyEnv))
}

// CallTimeout returns the per-call provider timeout.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Routing.CallTimeoutSecs) * time.Second
}

// APIToken returns the HTTP API bearer token from the environment.
func (c *Config) APIToken() string {
	return strings.TrimSpace(os.Getenv(c.Server.TokenEnv))
}

// AuditMaxFileSize returns the rotation size in bytes.
func (c *Config) AuditMaxFileSize() int64 {
	return int64(c.Audit.MaxFileSizeMB) * 1024 * 1024
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - NOTEGUARD_PROVIDER: overrides routing.default_provider
//   - NOTEGUARD_OFFLINE: "1" or "true" enables offline mode
//   - NOTEGUARD_FALLBACK_TO_CLOUD: overrides routing.fallback_to_cloud
//   - NOTEGUARD_OLLAMA_URL: overrides local.ollama_url
//   - NOTEGUARD_MODEL: overrides local.ollama_model
//   - NOTEGUARD_ALLOW_REMOTE_LOCAL: overrides local.allow_remote_endpoint
//   - NOTEGUARD_CLOUD_MODEL: overrides cloud.default_model
//   - NOTEGUARD_CLOUD_BASE_URL: overrides cloud.base_url
//   - NOTEGUARD_LOG_LEVEL: overrides logging.level
//   - NOTEGUARD_LISTEN: overrides server.listen
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("NOTEGUARD_PROVIDER"); v != "" {
		c.Routing.DefaultProvider = v
	}
	if v := os.Getenv("NOTEGUARD_OFFLINE"); v != "" {
		c.Routing.OfflineMode = envBool(v)
	}
	if v := os.Getenv("NOTEGUARD_FALLBACK_TO_CLOUD"); v != "" {
		c.Routing.FallbackToCloud = envBool(v)
	}
	if v := os.Getenv("NOTEGUARD_OLLAMA_URL"); v != "" {
		c.Local.OllamaURL = v
	}
	if v := os.Getenv("NOTEGUARD_MODEL"); v != "" {
		c.Local.OllamaModel = v
	}
	if v := os.Getenv("NOTEGUARD_ALLOW_REMOTE_LOCAL"); v != "" {
		c.Local.AllowRemoteEndpoint = envBool(v)
	}
	if v := os.Getenv("NOTEGUARD_CLOUD_MODEL"); v != "" {
		c.Cloud.DefaultModel = v
	}
	if v := os.Getenv("NOTEGUARD_CLOUD_BASE_URL"); v != "" {
		c.Cloud.BaseURL = v
	}
	if v := os.Getenv("NOTEGUARD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("NOTEGUARD_LISTEN"); v != "" {
		c.Server.Listen = v
	}
}

func envBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "1" || v == "true" || v == "yes"
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "local.ollama_model").
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field's type.
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

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(part[:1]))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an arbitrary value with type conversion.
func setFieldValue(field reflect.Value, value any) error {
	if s, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(s)
			return nil
		case reflect.Int, reflect.Int64:
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(n)
			return nil
		case reflect.Float64:
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(f)
			return nil
		case reflect.Bool:
			field.SetBool(envBool(s))
			return nil
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

// Keys returns all configuration keys in dot notation.
func Keys() []string {
	var keys []string
	var walk func(t reflect.Type, prefix string)
	walk = func(t reflect.Type, prefix string) {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			name := strings.Split(f.Tag.Get("toml"), ",")[0]
			if name == "" || name == "-" {
				continue
			}
			if f.Type.Kind() == reflect.Struct {
				walk(f.Type, prefix+name+".")
				continue
			}
			keys = append(keys, prefix+name)
		}
	}
	walk(reflect.TypeOf(Config{}), "")
	return keys
}

// Clone returns a copy of the configuration. Config holds no reference
// types, so a value copy is deep.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
