package config

import (
	"strings"
	"time"

	"github.com/casaviva/hestia/internal/provider"
)

type Config struct {
	Server   ServerConfig
	Upstream UpstreamConfig
	Cascade  CascadeConfig
	Storage  StorageConfig
	Log      LogConfig
	API      APIConfig
}

type ServerConfig struct {
	Port int
}

type UpstreamConfig struct {
	BaseURL string
	APIKey  string
	Referer string
	Title   string
}

type CascadeConfig struct {
	AttemptTimeout string
	MaxRetries     int
	InitialBackoff string
	MaxModels      int
	Models         string // comma-separated pinned model IDs; empty = rank the live catalog
	SystemPrompt   string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type APIConfig struct {
	Token string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Upstream: UpstreamConfig{
			BaseURL: "https://openrouter.ai/api/v1",
			Referer: "https://github.com/casaviva/hestia",
			Title:   "hestia",
		},
		Cascade: CascadeConfig{
			AttemptTimeout: "30s",
			MaxRetries:     3,
			InitialBackoff: "500ms",
			MaxModels:      5,
			SystemPrompt:   "You are a concise, knowledgeable assistant.",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and the platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.casaviva.hestia) and
// secrets fall back to macOS Keychain. On Linux the backend is a JSON file
// at $XDG_CONFIG_HOME/hestia/config.json and secrets live in a secrets
// file under $XDG_DATA_HOME.
//
// Environment variables (HESTIA_*) override backend values everywhere.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret-store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Upstream.APIKey == "" {
		if key, err := kc.Get("hestia", "openrouter_api_key"); err == nil && key != "" {
			cfg.Upstream.APIKey = key
		}
	}
	if cfg.API.Token == "" {
		if tok, err := kc.Get("hestia", "api_token"); err == nil && tok != "" {
			cfg.API.Token = tok
		}
	}

	if cfg.Upstream.APIKey == "" {
		return Config{}, &provider.ConfigurationError{
			Reason: "missing upstream API key; set HESTIA_OPENROUTER_API_KEY" + apiKeyHint(),
		}
	}

	return cfg, nil
}

// PinnedModels returns the configured cascade model list, or nil when the
// live catalog should be ranked instead.
func (c CascadeConfig) PinnedModels() []string {
	if strings.TrimSpace(c.Models) == "" {
		return nil
	}
	parts := strings.Split(c.Models, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// AttemptTimeoutDuration parses the attempt timeout, falling back to 30s
// on a malformed value.
func (c CascadeConfig) AttemptTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.AttemptTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// InitialBackoffDuration parses the initial backoff, falling back to
// 500ms on a malformed value.
func (c CascadeConfig) InitialBackoffDuration() time.Duration {
	d, err := time.ParseDuration(c.InitialBackoff)
	if err != nil || d <= 0 {
		return 500 * time.Millisecond
	}
	return d
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
