package config

import (
	"errors"
	"testing"
	"time"

	"github.com/casaviva/hestia/internal/provider"
)

// fakeBackend is a map-backed ConfigBackend for tests.
type fakeBackend map[string]any

func (b fakeBackend) GetString(key string) (string, bool, error) {
	v, ok := b[key]
	if !ok {
		return "", false, nil
	}
	return v.(string), true, nil
}

func (b fakeBackend) GetInt(key string) (int, bool, error) {
	v, ok := b[key]
	if !ok {
		return 0, false, nil
	}
	return v.(int), true, nil
}

func (b fakeBackend) SetString(key, val string) error { b[key] = val; return nil }
func (b fakeBackend) SetInt(key string, val int) error { b[key] = val; return nil }
func (b fakeBackend) Delete(key string) error          { delete(b, key); return nil }

// mockKeychain is a test double for the keychain interface.
type mockKeychain struct {
	value string
	err   error
}

func (m mockKeychain) Get(service, account string) (string, error) {
	return m.value, m.err
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		if s.env != "" {
			t.Setenv(s.env, "")
		}
	}
}

// TestDefaults verifies defaults survive an empty backend.
func TestDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("HESTIA_OPENROUTER_API_KEY", "test-key")

	cfg, err := loadWith(fakeBackend{}, mockKeychain{err: errors.New("unavailable")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4600 {
		t.Errorf("Server.Port = %d, want 4600", cfg.Server.Port)
	}
	if cfg.Upstream.BaseURL != "https://openrouter.ai/api/v1" {
		t.Errorf("Upstream.BaseURL = %q", cfg.Upstream.BaseURL)
	}
	if cfg.Cascade.MaxRetries != 3 {
		t.Errorf("Cascade.MaxRetries = %d, want 3", cfg.Cascade.MaxRetries)
	}
	if cfg.Cascade.MaxModels != 5 {
		t.Errorf("Cascade.MaxModels = %d, want 5", cfg.Cascade.MaxModels)
	}
	if got := cfg.Cascade.AttemptTimeoutDuration(); got != 30*time.Second {
		t.Errorf("AttemptTimeoutDuration = %v, want 30s", got)
	}
	if got := cfg.Cascade.InitialBackoffDuration(); got != 500*time.Millisecond {
		t.Errorf("InitialBackoffDuration = %v, want 500ms", got)
	}
}

// TestBackendValues verifies backend values replace defaults.
func TestBackendValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("HESTIA_OPENROUTER_API_KEY", "test-key")

	b := fakeBackend{
		"server.port":             5000,
		"cascade.max_retries":     1,
		"cascade.models":          "org/alpha, org/beta",
		"cascade.attempt_timeout": "10s",
	}
	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Cascade.MaxRetries != 1 {
		t.Errorf("Cascade.MaxRetries = %d, want 1", cfg.Cascade.MaxRetries)
	}
	if got := cfg.Cascade.AttemptTimeoutDuration(); got != 10*time.Second {
		t.Errorf("AttemptTimeoutDuration = %v, want 10s", got)
	}
	pinned := cfg.Cascade.PinnedModels()
	if len(pinned) != 2 || pinned[0] != "org/alpha" || pinned[1] != "org/beta" {
		t.Errorf("PinnedModels = %v", pinned)
	}
}

// TestEnvOverride verifies environment variables beat backend values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("HESTIA_OPENROUTER_API_KEY", "env-key")
	t.Setenv("HESTIA_SERVER_PORT", "7777")

	b := fakeBackend{"server.port": 5000}
	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 7777 {
		t.Errorf("Server.Port = %d, want 7777", cfg.Server.Port)
	}
	if cfg.Upstream.APIKey != "env-key" {
		t.Errorf("Upstream.APIKey = %q, want env-key", cfg.Upstream.APIKey)
	}
}

// TestKeychainFallback verifies the secret store is consulted when no API
// key is in the backend or env.
func TestKeychainFallback(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(fakeBackend{}, mockKeychain{value: "keychain-secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Upstream.APIKey != "keychain-secret" {
		t.Errorf("Upstream.APIKey = %q, want keychain-secret", cfg.Upstream.APIKey)
	}
}

// TestMissingAPIKey verifies a configuration error when the key is missing
// everywhere.
func TestMissingAPIKey(t *testing.T) {
	clearEnv(t)

	_, err := loadWith(fakeBackend{}, mockKeychain{err: errors.New("unavailable")})
	if err == nil {
		t.Fatal("expected error for missing API key, got nil")
	}

	var cfgErr *provider.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error type = %T, want *provider.ConfigurationError", err)
	}
	if provider.KindOf(err) != provider.KindConfiguration {
		t.Errorf("kind = %q, want %q", provider.KindOf(err), provider.KindConfiguration)
	}
}

func TestPinnedModels_Empty(t *testing.T) {
	c := CascadeConfig{Models: "  "}
	if got := c.PinnedModels(); got != nil {
		t.Errorf("PinnedModels = %v, want nil", got)
	}
}

func TestDurationFallbacks(t *testing.T) {
	c := CascadeConfig{AttemptTimeout: "not-a-duration", InitialBackoff: "-5s"}
	if got := c.AttemptTimeoutDuration(); got != 30*time.Second {
		t.Errorf("AttemptTimeoutDuration = %v, want 30s fallback", got)
	}
	if got := c.InitialBackoffDuration(); got != 500*time.Millisecond {
		t.Errorf("InitialBackoffDuration = %v, want 500ms fallback", got)
	}
}

func TestSetKey_UnknownAndSecret(t *testing.T) {
	if err := SetKey("no.such.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
	if err := SetKey("upstream.api_key", "x"); err == nil {
		t.Error("expected error when setting a secret via SetKey")
	}
}

func TestShowAll_HidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Upstream.APIKey = "super-secret"
	for _, info := range ShowAll(cfg) {
		if info.Key == "upstream.api_key" || info.Key == "api.token" {
			t.Errorf("secret key %q exposed by ShowAll", info.Key)
		}
		if info.Value == "super-secret" {
			t.Errorf("secret value leaked under key %q", info.Key)
		}
	}
}
