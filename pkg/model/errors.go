package model

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies an engine failure for the retry/fallback policy.
type ErrorKind string

const (
	ErrorKindRateLimited       ErrorKind = "RateLimited"
	ErrorKindTimeout           ErrorKind = "Timeout"
	ErrorKindAuth              ErrorKind = "AuthError"
	ErrorKindUnsupportedFormat ErrorKind = "UnsupportedFormat"
	ErrorKindUnknown           ErrorKind = "Unknown"
)

// Transient kinds are retried on the same engine before falling back.
func (k ErrorKind) Transient() bool {
	return k == ErrorKindRateLimited || k == ErrorKindTimeout
}

var (
	// ErrAllEnginesExhausted is the terminal reason of a failed item.
	ErrAllEnginesExhausted = errors.New("all engines exhausted")
	// ErrBatchCancelled is the reason of items the caller cancelled.
	ErrBatchCancelled = errors.New("batch cancelled")
	ErrInvalidConfig  = errors.New("invalid batch configuration")
)

// EngineError is the error engines return from Transcribe.
type EngineError struct {
	Engine EngineID
	Kind   ErrorKind
	Err    error
}

func NewEngineError(engine EngineID, kind ErrorKind, err error) *EngineError {
	if err == nil {
		err = errors.New(string(kind))
	}
	return &EngineError{Engine: engine, Kind: kind, Err: err}
}

func (e *EngineError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s: %v", e.Engine, e.Kind, e.Err)
}

func (e *EngineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf recovers the ErrorKind of any error returned by an engine. Errors that do not
// carry a kind are Unknown, except deadline expiry which is always a Timeout.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var engineErr *EngineError
	if errors.As(err, &engineErr) && engineErr.Kind != "" {
		return engineErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTimeout
	}
	return ErrorKindUnknown
}
