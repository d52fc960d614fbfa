// Package cache maps audio fingerprints to previously produced transcripts.
//
// Entries are independent units keyed by fingerprint: Store always supersedes the
// previous entry for that fingerprint (last write wins), there is no eviction, and
// every operation is safe for concurrent use.
package cache

import (
	"context"
	"errors"
	"strings"

	"github.com/iaforte/cloud-transcript/pkg/model"
)

var ErrEmptyFingerprint = errors.New("fingerprint is required")

type Cache interface {
	// Lookup has no side effects.
	Lookup(ctx context.Context, fingerprint string) (model.CacheEntry, bool, error)
	Store(ctx context.Context, fingerprint string, text string, engineUsed model.EngineID) error
	Invalidate(ctx context.Context, fingerprint string) error
	Len(ctx context.Context) (int, error)
	Close() error
}

func validateFingerprint(fingerprint string) error {
	if strings.TrimSpace(fingerprint) == "" {
		return ErrEmptyFingerprint
	}
	return nil
}
