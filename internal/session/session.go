// Package session is the caller-facing façade over the dispatch cascade.
// A session owns its conversation history: each successful round trip
// appends exactly one user and one assistant turn, in that order; a failed
// round trip keeps only the user turn, so the caller can simply ask again.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/casaviva/hestia/internal/cascade"
	"github.com/casaviva/hestia/internal/provider"
)

// Message is one conversation turn.
type Message struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Result is the tagged outcome of an ask. The session never returns an
// error for a dispatch failure; callers branch on Success and ErrorKind.
type Result struct {
	Success   bool              `json:"success"`
	Text      string            `json:"text,omitempty"`
	ModelID   string            `json:"model_id,omitempty"`
	Attempts  int               `json:"attempts"`
	Retried   bool              `json:"retried,omitempty"`
	ErrorKind provider.Kind     `json:"error_kind,omitempty"`
	Error     string            `json:"error,omitempty"`
	Failures  []cascade.Attempt `json:"failures,omitempty"`
}

// CandidateSource yields the ordered model IDs a cascade should probe.
type CandidateSource interface {
	Candidates(ctx context.Context) ([]string, error)
}

// Orchestrator is the slice of the cascade runner the session needs.
type Orchestrator interface {
	Run(ctx context.Context, candidates []string, messages []provider.Message, opts provider.ChatOptions) (cascade.Outcome, error)
}

// Session holds one conversation. All methods are safe for concurrent
// use; a mutex serializes asks so overlapping callers cannot interleave
// history mutations.
type Session struct {
	mu      sync.Mutex
	system  string
	history []Message
	source  CandidateSource
	runner  Orchestrator
	now     func() time.Time
}

// SessionOption configures a new Session.
type SessionOption func(*Session)

// WithSystemPrompt sets the prompt prepended to every dispatch.
func WithSystemPrompt(text string) SessionOption {
	return func(s *Session) { s.system = text }
}

// WithClock overrides the timestamp source (used by tests).
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// New creates an empty session over the given candidate source and runner.
func New(source CandidateSource, runner Orchestrator, opts ...SessionOption) *Session {
	s := &Session{
		source: source,
		runner: runner,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ask appends the user turn, dispatches the full history through the
// cascade, and commits the assistant turn only on success.
func (s *Session) Ask(ctx context.Context, text string, opts provider.ChatOptions) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, Message{Role: provider.RoleUser, Content: text, At: s.now()})

	res := s.dispatch(ctx, s.payload(), opts)
	if res.Success {
		s.history = append(s.history, Message{Role: provider.RoleAssistant, Content: res.Text, At: s.now()})
	}
	return res
}

// AskOneOff dispatches a single stateless query: the payload is just the
// system prompt and the given text, and history is neither read nor
// written.
func (s *Session) AskOneOff(ctx context.Context, text string, opts provider.ChatOptions) Result {
	s.mu.Lock()
	system := s.system
	s.mu.Unlock()

	var msgs []provider.Message
	if system != "" {
		msgs = append(msgs, provider.Message{Role: provider.RoleSystem, Content: system})
	}
	msgs = append(msgs, provider.Message{Role: provider.RoleUser, Content: text})

	return s.dispatch(ctx, msgs, opts)
}

// payload builds the outgoing wire messages: system prompt, then every
// history turn in order. Caller holds the lock.
func (s *Session) payload() []provider.Message {
	msgs := make([]provider.Message, 0, len(s.history)+1)
	if s.system != "" {
		msgs = append(msgs, provider.Message{Role: provider.RoleSystem, Content: s.system})
	}
	for _, m := range s.history {
		msgs = append(msgs, provider.Message{Role: m.Role, Content: m.Content})
	}
	return msgs
}

func (s *Session) dispatch(ctx context.Context, msgs []provider.Message, opts provider.ChatOptions) Result {
	candidates, err := s.source.Candidates(ctx)
	if err != nil {
		return failure(err)
	}

	out, err := s.runner.Run(ctx, candidates, msgs, opts)
	if err != nil {
		return failure(err)
	}

	return Result{
		Success:  true,
		Text:     out.Text,
		ModelID:  out.ModelID,
		Attempts: out.Attempts,
		Retried:  out.Retried,
	}
}

func failure(err error) Result {
	res := Result{
		Success:   false,
		ErrorKind: provider.KindOf(err),
		Error:     err.Error(),
	}
	if afe, ok := err.(*cascade.AllFailedError); ok {
		res.Attempts = len(afe.Attempts)
		res.Failures = afe.Attempts
	}
	return res
}

// ClearHistory discards every turn. The system prompt is kept.
func (s *Session) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

// SetSystemPrompt replaces the system prompt for subsequent asks.
func (s *Session) SetSystemPrompt(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.system = text
}

// History returns a copy of the conversation; mutating it never affects
// the session.
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out
}
