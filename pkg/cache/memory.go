package cache

import (
	"context"
	"sync"
	"time"

	"github.com/iaforte/cloud-transcript/pkg/model"
	"github.com/iaforte/cloud-transcript/pkg/utils"
)

// Memory is a process-local Cache.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]model.CacheEntry
	now     func() time.Time
}

var _ Cache = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]model.CacheEntry),
		now:     time.Now,
	}
}

func (m *Memory) Lookup(_ context.Context, fingerprint string) (model.CacheEntry, bool, error) {
	if err := validateFingerprint(fingerprint); err != nil {
		return model.CacheEntry{}, false, utils.WrapIfNotNil(err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[fingerprint]
	return entry, ok, nil
}

func (m *Memory) Store(_ context.Context, fingerprint string, text string, engineUsed model.EngineID) error {
	if err := validateFingerprint(fingerprint); err != nil {
		return utils.WrapIfNotNil(err)
	}

	entry := model.CacheEntry{
		Text:       text,
		EngineUsed: engineUsed,
		CreatedAt:  m.now().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[fingerprint] = entry
	return nil
}

func (m *Memory) Invalidate(_ context.Context, fingerprint string) error {
	if err := validateFingerprint(fingerprint); err != nil {
		return utils.WrapIfNotNil(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, fingerprint)
	return nil
}

func (m *Memory) Len(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

func (m *Memory) Close() error {
	return nil
}
