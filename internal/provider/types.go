package provider

import (
	"encoding/json"
	"time"
)

// Capability is a feature a model supports beyond plain text completion.
type Capability string

const (
	CapText             Capability = "text"
	CapMultimodal       Capability = "multimodal"
	CapFunctionCalling  Capability = "function_calling"
	CapStructuredOutput Capability = "structured_output"
)

// Model is a validated catalog entry. It is built once from the upstream
// payload at the client boundary; nothing downstream touches raw JSON.
type Model struct {
	ID            string
	ContextWindow int
	Capabilities  []Capability
	Pricing       Pricing
	PrivacyPolicy string
	ExpiresAt     time.Time // zero when the model has no expiration
}

// Pricing is the upstream cost per token. A model is free when the prompt
// price is exactly zero.
type Pricing struct {
	Prompt     float64
	Completion float64
}

// Free reports whether the model costs nothing per prompt token.
func (m Model) Free() bool { return m.Pricing.Prompt == 0 }

// Has reports whether the model advertises the given capability.
func (m Model) Has(c Capability) bool {
	for _, have := range m.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Message is one turn in the outgoing chat payload.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatOptions are per-request overrides forwarded to the upstream.
type ChatOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// Completion is a successful chat exchange: the assistant text plus the raw
// provider payload for callers that want provenance.
type Completion struct {
	Model   string
	Content string
	Raw     json.RawMessage
}
