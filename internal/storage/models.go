package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Exchange is one completed prompt/response round trip, successful or not.
type Exchange struct {
	ID           string
	CreatedAt    time.Time
	SessionID    string
	Prompt       string
	Response     string
	ModelID      string
	AttemptCount int
	Retried      bool
	Status       string // "completed" or "failed"
	ErrorKind    string
	AttemptsJSON string // per-model failure records stored as a JSON array
}
