package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "HESTIA_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "upstream.base_url", typ: kString, env: "HESTIA_UPSTREAM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Upstream.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Upstream.BaseURL },
	},
	{
		key: "upstream.api_key", typ: kString, env: "HESTIA_OPENROUTER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Upstream.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Upstream.APIKey },
	},
	{
		key: "upstream.referer", typ: kString, env: "HESTIA_UPSTREAM_REFERER",
		apply:   func(cfg *Config, v any) { cfg.Upstream.Referer = v.(string) },
		extract: func(cfg Config) any { return cfg.Upstream.Referer },
	},
	{
		key: "upstream.title", typ: kString, env: "HESTIA_UPSTREAM_TITLE",
		apply:   func(cfg *Config, v any) { cfg.Upstream.Title = v.(string) },
		extract: func(cfg Config) any { return cfg.Upstream.Title },
	},
	{
		key: "cascade.attempt_timeout", typ: kString, env: "HESTIA_CASCADE_ATTEMPT_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Cascade.AttemptTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Cascade.AttemptTimeout },
	},
	{
		key: "cascade.max_retries", typ: kInt, env: "HESTIA_CASCADE_MAX_RETRIES",
		apply:   func(cfg *Config, v any) { cfg.Cascade.MaxRetries = v.(int) },
		extract: func(cfg Config) any { return cfg.Cascade.MaxRetries },
	},
	{
		key: "cascade.initial_backoff", typ: kString, env: "HESTIA_CASCADE_INITIAL_BACKOFF",
		apply:   func(cfg *Config, v any) { cfg.Cascade.InitialBackoff = v.(string) },
		extract: func(cfg Config) any { return cfg.Cascade.InitialBackoff },
	},
	{
		key: "cascade.max_models", typ: kInt, env: "HESTIA_CASCADE_MAX_MODELS",
		apply:   func(cfg *Config, v any) { cfg.Cascade.MaxModels = v.(int) },
		extract: func(cfg Config) any { return cfg.Cascade.MaxModels },
	},
	{
		key: "cascade.models", typ: kString, env: "HESTIA_CASCADE_MODELS",
		apply:   func(cfg *Config, v any) { cfg.Cascade.Models = v.(string) },
		extract: func(cfg Config) any { return cfg.Cascade.Models },
	},
	{
		key: "cascade.system_prompt", typ: kString, env: "HESTIA_CASCADE_SYSTEM_PROMPT",
		apply:   func(cfg *Config, v any) { cfg.Cascade.SystemPrompt = v.(string) },
		extract: func(cfg Config) any { return cfg.Cascade.SystemPrompt },
	},
	{
		key: "storage.data_dir", typ: kString, env: "HESTIA_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "HESTIA_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "api.token", typ: kString, env: "HESTIA_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.API.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.API.Token },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
