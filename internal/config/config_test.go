// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/jeranaias/noteguard/internal/faults"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

// TestConfig_Default tests the built-in defaults.
func TestConfig_Default(t *testing.T) {
	cfg := Default()

	if cfg.Routing.DefaultProvider != "local" {
		t.Errorf("Expected default provider 'local', got '%s'", cfg.Routing.DefaultProvider)
	}
	if cfg.Routing.FallbackToCloud {
		t.Error("Cloud fallback must be opt-in")
	}
	if cfg.Local.AllowRemoteEndpoint {
		t.Error("Remote local endpoints must be opt-in")
	}
	if cfg.Cloud.APIKeyEnv == "" {
		t.Error("Default config should name an API key variable")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

// TestConfig_Validate tests configuration validation.
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"invalid provider", func(c *Config) { c.Routing.DefaultProvider = "gpu" }, "routing.default_provider"},
		{"zero call timeout", func(c *Config) { c.Routing.CallTimeoutSecs = 0 }, "routing.call_timeout_secs"},
		{"ollama url without host", func(c *Config) { c.Local.OllamaURL = "not a url" }, "local.ollama_url"},
		{"ollama url bad scheme", func(c *Config) { c.Local.OllamaURL = "ftp://127.0.0.1:11434" }, "local.ollama_url"},
		{"empty api key env", func(c *Config) { c.Cloud.APIKeyEnv = "" }, "cloud.api_key_env"},
		{"negative retries", func(c *Config) { c.Cloud.MaxRetries = -1 }, "cloud.max_retries"},
		{"negative recheck attempts", func(c *Config) { c.Warmup.RecheckMaxAttempts = -1 }, "warmup.recheck_max_attempts"},
		{"recheck max below initial", func(c *Config) { c.Warmup.RecheckMaxSecs = 1; c.Warmup.RecheckInitialSecs = 5 }, "warmup.recheck_max_secs"},
		{"invalid gender", func(c *Config) { c.Anonymization.DefaultGender = "Q" }, "anonymization.default_gender"},
		{"invalid log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"invalid log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"listen without port", func(c *Config) { c.Server.Listen = "127.0.0.1" }, "server.listen"},
		{"negative burst", func(c *Config) { c.Server.Burst = -1 }, "server.burst"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.modify(c)
			err := c.Validate()

			var errs ValidateErrors
			if !errors.As(err, &errs) {
				t.Fatalf("Validate() error = %v, want ValidateErrors", err)
			}
			if errs[0].Field != tt.field {
				t.Errorf("Validate() field = %s, want %s", errs[0].Field, tt.field)
			}
		})
	}
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Local.OllamaModel != Default().Local.OllamaModel {
		t.Errorf("Load() model = %q", cfg.Local.OllamaModel)
	}
}

func TestLoad_FileEnvAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, `
[routing]
default_provider = "cloud"
fallback_to_cloud = true

[local]
ollama_model = "mistral"

[cloud]
api_key_env = "NOTEGUARD_TEST_KEY_FROM_DOTENV"
`)
	writeFile(t, filepath.Join(dir, ".env"), "NOTEGUARD_TEST_KEY_FROM_DOTENV=sk-test-123\n")
	t.Cleanup(func() { os.Unsetenv("NOTEGUARD_TEST_KEY_FROM_DOTENV") })
	t.Setenv("NOTEGUARD_OLLAMA_URL", "http://localhost:11500")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Routing.DefaultProvider != "cloud" || !cfg.Routing.FallbackToCloud {
		t.Errorf("routing = %+v", cfg.Routing)
	}
	if cfg.Local.OllamaModel != "mistral" {
		t.Errorf("model = %q, want mistral", cfg.Local.OllamaModel)
	}
	if cfg.Local.OllamaURL != "http://localhost:11500" {
		t.Errorf("env override not applied: %q", cfg.Local.OllamaURL)
	}
	if cfg.Warmup.CheckTimeoutSecs != Default().Warmup.CheckTimeoutSecs {
		t.Error("keys absent from the file should keep their defaults")
	}
	if got := cfg.CloudAPIKey(); got != "sk-test-123" {
		t.Errorf("CloudAPIKey() = %q", got)
	}
}

func TestLoad_InvalidIsConfigurationError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, "[routing]\ndefault_provider = \"teleport\"\n")

	_, err := Load(path)
	if !faults.IsConfiguration(err) {
		t.Fatalf("Load() error = %v, want configuration error", err)
	}
	var errs ValidateErrors
	if !errors.As(err, &errs) {
		t.Errorf("Load() error should wrap ValidateErrors: %v", err)
	}

	writeFile(t, path, "this is = = not toml")
	if _, err := Load(path); !faults.IsConfiguration(err) {
		t.Errorf("Load(garbage) error = %v", err)
	}
}

func TestSave_RoundTripAndPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := Default()
	cfg.Routing.DefaultProvider = "cloud"
	cfg.Cloud.DefaultModel = "mistralai/mistral-small"

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("config mode = %o, want 0600", perm)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Routing.DefaultProvider != "cloud" || loaded.Cloud.DefaultModel != "mistralai/mistral-small" {
		t.Errorf("round trip lost values: %+v", loaded)
	}
}

// TestConfig_GetSet tests Get and Set methods with dot notation.
func TestConfig_GetSet(t *testing.T) {
	cfg := Default()

	val, err := cfg.Get("routing.default_provider")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if val != "local" {
		t.Errorf("Get('routing.default_provider') = %v, want 'local'", val)
	}

	if err := cfg.Set("warmup.recheck_max_attempts", "5"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if cfg.Warmup.RecheckMaxAttempts != 5 {
		t.Errorf("RecheckMaxAttempts = %d after Set", cfg.Warmup.RecheckMaxAttempts)
	}

	if err := cfg.Set("local.allow_remote_endpoint", "true"); err != nil || !cfg.Local.AllowRemoteEndpoint {
		t.Errorf("Set(bool) = %v, value %v", err, cfg.Local.AllowRemoteEndpoint)
	}

	if _, err := cfg.Get("invalid.key"); err == nil {
		t.Error("Get() with invalid key should return error")
	}
	if err := cfg.Set("routing.call_timeout_secs", "soon"); err == nil {
		t.Error("Set() with a non-integer should fail")
	}
}

func TestKeys(t *testing.T) {
	keys := Keys()
	for _, want := range []string{"routing.fallback_to_cloud", "local.allow_remote_endpoint", "cloud.api_key_env", "warmup.recheck_max_attempts", "logging.level", "server.token_env"} {
		if !slices.Contains(keys, want) {
			t.Errorf("Keys() missing %s", want)
		}
	}
	for _, k := range keys {
		if _, err := Default().Get(k); err != nil {
			t.Errorf("Get(%s) error = %v", k, err)
		}
	}
}

// TestConfig_Clone tests that Clone creates an independent copy.
func TestConfig_Clone(t *testing.T) {
	original := Default()
	clone := original.Clone()
	clone.Local.OllamaModel = "cloned"

	if original.Local.OllamaModel == "cloned" {
		t.Error("Clone should create an independent copy")
	}
}

func TestWatch_ReloadsValidChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, "[local]\nollama_model = \"first\"\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 8)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, nil, func(c *Config) { changes <- c })
	}()

	// The watcher starts asynchronously; keep writing until it notices.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case c := <-changes:
			if !strings.HasPrefix(c.Local.OllamaModel, "second") {
				continue
			}
			cancel()
			if err := <-done; err != nil {
				t.Errorf("Watch() error = %v", err)
			}
			return
		case <-tick.C:
			writeFile(t, path, "[local]\nollama_model = \"second\"\n")
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}

func TestWatch_SkipsInvalidChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, "")

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var calls int
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for i := 0; i < 5; i++ {
			select {
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
			_ = os.WriteFile(path, []byte("[logging]\nlevel = \"loud\"\n"), 0600)
		}
	}()

	if err := Watch(ctx, path, nil, func(*Config) { calls++ }); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	<-writerDone
	if calls != 0 {
		t.Errorf("onChange called %d times for an invalid config", calls)
	}
}
