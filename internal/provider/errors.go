package provider

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a dispatch failure. Kinds travel with attempt telemetry
// and in API responses, so their string values are part of the contract.
type Kind string

const (
	KindNetwork         Kind = "network"
	KindTimeout         Kind = "timeout"
	KindRateLimit       Kind = "rate_limited"
	KindInvalidResponse Kind = "invalid_response"
	KindNoModels        Kind = "no_models"
	KindAllFailed       Kind = "all_models_failed"
	KindConfiguration   Kind = "configuration"
)

// Kinder is implemented by every error in the taxonomy.
type Kinder interface {
	error
	ErrorKind() Kind
}

// KindOf extracts the failure kind from an error chain. Errors outside the
// taxonomy are reported as network failures, the weakest assumption.
func KindOf(err error) Kind {
	var k Kinder
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	return KindNetwork
}

// NetworkError covers transport failures and unexpected upstream statuses
// other than 429. Non-fatal to a cascade: the next candidate is tried.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) ErrorKind() Kind { return KindNetwork }

// TimeoutError reports that the per-attempt deadline elapsed before the
// upstream exchange completed. The in-flight request is cancelled.
type TimeoutError struct {
	Op     string
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %s", e.Op, e.Budget)
}

func (e *TimeoutError) ErrorKind() Kind { return KindTimeout }

// DefaultRetryAfter is used when a 429 response omits the Retry-After header.
const DefaultRetryAfter = 60 * time.Second

// RateLimitError is returned on HTTP 429. RetryAfter is always resolved:
// the upstream value when present, DefaultRetryAfter otherwise. FromUpstream
// tells retry logic whether the interval was actually server-specified.
type RateLimitError struct {
	RetryAfter   time.Duration
	FromUpstream bool
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) ErrorKind() Kind { return KindRateLimit }

// InvalidResponseError reports a structurally malformed upstream payload:
// a model list without the data array, a completion with no choices.
type InvalidResponseError struct {
	Reason string
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("invalid upstream response: %s", e.Reason)
}

func (e *InvalidResponseError) ErrorKind() Kind { return KindInvalidResponse }

// NoModelsError means the eligible candidate set is empty. There is no one
// to ask, so the call fails without any attempt being made.
type NoModelsError struct{}

func (e *NoModelsError) Error() string { return "no eligible models available" }

func (e *NoModelsError) ErrorKind() Kind { return KindNoModels }

// ConfigurationError reports a missing required credential or setting.
// Raised at construction, never during a cascade.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s", e.Reason)
}

func (e *ConfigurationError) ErrorKind() Kind { return KindConfiguration }
