package model

import (
	"time"
)

type TranscriptionStatus string

const (
	StatusCached    TranscriptionStatus = "cached"
	StatusSucceeded TranscriptionStatus = "succeeded"
	StatusFailed    TranscriptionStatus = "failed"
	StatusCancelled TranscriptionStatus = "cancelled"
)

// OutcomeSuccess marks a successful Attempt; failed attempts carry their ErrorKind.
const OutcomeSuccess = "success"

// Attempt is one call to one engine.
type Attempt struct {
	Engine  EngineID      `json:"engine"`
	Try     int           `json:"try"`
	Outcome string        `json:"outcome"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

func (a Attempt) Succeeded() bool {
	return a.Outcome == OutcomeSuccess
}

// TranscriptionResult is the finalized outcome for one AudioItem of a batch.
type TranscriptionResult struct {
	ItemID     string              `json:"item_id"`
	Status     TranscriptionStatus `json:"status"`
	Text       string              `json:"text,omitempty"`
	EngineUsed EngineID            `json:"engine_used,omitempty"`
	Attempts   []Attempt           `json:"attempts"`
	ErrorKind  ErrorKind           `json:"error_kind,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// HasText reports whether the result carries a usable transcript.
func (r TranscriptionResult) HasText() bool {
	return r.Status == StatusCached || r.Status == StatusSucceeded
}

// EnginesTried lists engines in the order they were first attempted.
func (r TranscriptionResult) EnginesTried() []EngineID {
	seen := make(map[EngineID]struct{}, len(r.Attempts))
	engines := make([]EngineID, 0, len(r.Attempts))
	for _, attempt := range r.Attempts {
		if _, ok := seen[attempt.Engine]; ok {
			continue
		}
		seen[attempt.Engine] = struct{}{}
		engines = append(engines, attempt.Engine)
	}
	return engines
}

// CacheEntry is the value stored under a fingerprint.
type CacheEntry struct {
	Text       string    `json:"text"`
	EngineUsed EngineID  `json:"engine_used"`
	CreatedAt  time.Time `json:"created_at"`
}
