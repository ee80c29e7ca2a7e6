// Package cascade drives a ranked candidate list through the provider
// client until one model produces a completion. Unavailable candidates
// (timeouts, bad payloads, transport failures) are skipped immediately;
// rate-limited candidates get a few bounded retries before the cascade
// moves on. Attempts are strictly sequential, preserving quality order.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/casaviva/hestia/internal/backoff"
	"github.com/casaviva/hestia/internal/provider"
)

const (
	// DefaultAttemptTimeout bounds one exchange with one candidate.
	DefaultAttemptTimeout = 30 * time.Second

	// DefaultMaxRetries is how many times a rate-limited candidate is
	// re-attempted before the cascade advances past it.
	DefaultMaxRetries = 3
)

// ChatClient is the slice of the provider client the cascade needs.
type ChatClient interface {
	Chat(ctx context.Context, model string, messages []provider.Message, opts provider.ChatOptions) (provider.Completion, error)
}

// Attempt records one failed exchange with one candidate.
type Attempt struct {
	ModelID string        `json:"model_id"`
	Kind    provider.Kind `json:"kind"`
	Message string        `json:"message"`
	At      time.Time     `json:"at"`
}

// Outcome is a successful cascade run. Attempts counts every candidate
// probed including the one that answered, so a first-try success is 1.
type Outcome struct {
	ModelID  string
	Text     string
	Attempts int
	Retried  bool
}

// AllFailedError is the terminal cascade failure: every candidate was
// probed and none produced a completion. Attempts are in cascade order.
type AllFailedError struct {
	Attempts []Attempt
}

func (e *AllFailedError) Error() string {
	return fmt.Sprintf("all %d models failed", len(e.Attempts))
}

func (e *AllFailedError) ErrorKind() provider.Kind { return provider.KindAllFailed }

// Runner executes cascades with a fixed per-attempt budget and retry
// policy. Safe for concurrent use; each Run keeps its own state.
type Runner struct {
	client         ChatClient
	attemptTimeout time.Duration
	maxRetries     int
	policy         backoff.Policy
	logger         *slog.Logger
	now            func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithAttemptTimeout overrides the per-candidate deadline.
func WithAttemptTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.attemptTimeout = d
		}
	}
}

// WithMaxRetries overrides how many rate-limit retries a candidate gets.
func WithMaxRetries(n int) RunnerOption {
	return func(r *Runner) {
		if n >= 0 {
			r.maxRetries = n
		}
	}
}

// WithBackoff overrides the retry delay policy.
func WithBackoff(p backoff.Policy) RunnerOption {
	return func(r *Runner) { r.policy = p }
}

// WithLogger sets the structured logger for attempt telemetry.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithClock overrides the timestamp source (used by tests).
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a Runner around the given client.
func NewRunner(client ChatClient, opts ...RunnerOption) *Runner {
	r := &Runner{
		client:         client,
		attemptTimeout: DefaultAttemptTimeout,
		maxRetries:     DefaultMaxRetries,
		policy:         backoff.Default,
		logger:         slog.Default(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run probes candidates in order and returns the first completion. A
// rate-limited candidate is retried in place; any other failure records
// an attempt and advances. When the list is exhausted the error is an
// *AllFailedError carrying every attempt record.
func (r *Runner) Run(ctx context.Context, candidates []string, messages []provider.Message, opts provider.ChatOptions) (Outcome, error) {
	if len(candidates) == 0 {
		return Outcome{}, &provider.NoModelsError{}
	}

	var attempts []Attempt
	for i, id := range candidates {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}

		comp, retried, err := r.tryCandidate(ctx, id, messages, opts)
		if err == nil {
			r.logger.Debug("cascade succeeded",
				"model", id, "attempts", i+1, "retried", retried)
			return Outcome{
				ModelID:  id,
				Text:     comp.Content,
				Attempts: i + 1,
				Retried:  retried,
			}, nil
		}
		if errors.Is(err, context.Canceled) {
			return Outcome{}, err
		}

		attempts = append(attempts, Attempt{
			ModelID: id,
			Kind:    provider.KindOf(err),
			Message: err.Error(),
			At:      r.now(),
		})
		r.logger.Warn("cascade candidate failed",
			"model", id, "kind", string(provider.KindOf(err)), "error", err)
	}

	return Outcome{}, &AllFailedError{Attempts: attempts}
}

// tryCandidate runs one candidate through the retry sub-state: an initial
// attempt plus up to maxRetries re-attempts, each only after a rate limit.
// An upstream-specified Retry-After drives the delay when present; the
// backoff policy doubles from its initial interval otherwise.
func (r *Runner) tryCandidate(ctx context.Context, id string, messages []provider.Message, opts provider.ChatOptions) (provider.Completion, bool, error) {
	var comp provider.Completion
	calls := 0

	err := backoff.Retry(ctx, r.maxRetries+1, r.policy, func(ctx context.Context) (time.Duration, bool, error) {
		calls++

		attemptCtx, cancel := context.WithTimeout(ctx, r.attemptTimeout)
		defer cancel()

		var err error
		comp, err = r.client.Chat(attemptCtx, id, messages, opts)
		if err == nil {
			return 0, false, nil
		}

		var rle *provider.RateLimitError
		if errors.As(err, &rle) {
			hint := time.Duration(0)
			if rle.FromUpstream {
				hint = rle.RetryAfter
			}
			return hint, true, err
		}
		return 0, false, err
	})
	if err != nil {
		return provider.Completion{}, false, err
	}
	return comp, calls > 1, nil
}
