package cache

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/iaforte/cloud-transcript/pkg/model"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type CacheSuite struct {
	suite.Suite
	open  func() Cache
	cache Cache
}

func TestMemoryCacheSuite(t *testing.T) {
	suite.Run(t, &CacheSuite{open: func() Cache { return NewMemory() }})
}

func TestBoltCacheSuite(t *testing.T) {
	s := &CacheSuite{}
	s.open = func() Cache {
		c, err := OpenBolt(context.Background(), filepath.Join(s.T().TempDir(), "cache", "transcripts.db"))
		require.NoError(s.T(), err)
		return c
	}
	suite.Run(t, s)
}

func (s *CacheSuite) SetupTest() {
	s.cache = s.open()
}

func (s *CacheSuite) TearDownTest() {
	s.Require().NoError(s.cache.Close())
}

func (s *CacheSuite) TestLookupMissingReturnsAbsent() {
	_, ok, err := s.cache.Lookup(context.Background(), "missing")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *CacheSuite) TestStoreThenLookup() {
	ctx := context.Background()
	s.Require().NoError(s.cache.Store(ctx, "fp-1", "bom dia", model.EngineOpenAI))

	entry, ok, err := s.cache.Lookup(ctx, "fp-1")
	s.Require().NoError(err)
	s.Require().True(ok)
	s.Equal("bom dia", entry.Text)
	s.Equal(model.EngineOpenAI, entry.EngineUsed)
	s.False(entry.CreatedAt.IsZero())
}

func (s *CacheSuite) TestStoreSupersedesPreviousEntry() {
	ctx := context.Background()
	s.Require().NoError(s.cache.Store(ctx, "fp-1", "first", model.EngineLocalGPU))
	s.Require().NoError(s.cache.Store(ctx, "fp-1", "second", model.EngineGemini))

	entry, ok, err := s.cache.Lookup(ctx, "fp-1")
	s.Require().NoError(err)
	s.Require().True(ok)
	s.Equal("second", entry.Text)
	s.Equal(model.EngineGemini, entry.EngineUsed)

	n, err := s.cache.Len(ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
}

func (s *CacheSuite) TestInvalidateThenStoreNeverMixes() {
	ctx := context.Background()
	s.Require().NoError(s.cache.Store(ctx, "fp-1", "T1", model.EngineLocalGPU))
	s.Require().NoError(s.cache.Invalidate(ctx, "fp-1"))

	_, ok, err := s.cache.Lookup(ctx, "fp-1")
	s.Require().NoError(err)
	s.False(ok)

	s.Require().NoError(s.cache.Store(ctx, "fp-1", "T2", model.EngineOpenAI))
	entry, ok, err := s.cache.Lookup(ctx, "fp-1")
	s.Require().NoError(err)
	s.Require().True(ok)
	s.Equal(model.CacheEntry{Text: "T2", EngineUsed: model.EngineOpenAI, CreatedAt: entry.CreatedAt}, entry)
}

func (s *CacheSuite) TestInvalidateMissingIsNoop() {
	s.NoError(s.cache.Invalidate(context.Background(), "never-stored"))
}

func (s *CacheSuite) TestEmptyFingerprintRejected() {
	ctx := context.Background()
	_, _, err := s.cache.Lookup(ctx, " ")
	s.ErrorIs(err, ErrEmptyFingerprint)
	s.ErrorIs(s.cache.Store(ctx, "", "x", model.EngineOpenAI), ErrEmptyFingerprint)
	s.ErrorIs(s.cache.Invalidate(ctx, ""), ErrEmptyFingerprint)
}

func (s *CacheSuite) TestConcurrentStoresKeepOneWholeEntryPerFingerprint() {
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fingerprint := fmt.Sprintf("fp-%d", i%4)
			s.NoError(s.cache.Store(ctx, fingerprint, fmt.Sprintf("text-%d", i), model.EngineOpenAI))
			_, _, err := s.cache.Lookup(ctx, fingerprint)
			s.NoError(err)
		}(i)
	}
	wg.Wait()

	n, err := s.cache.Len(ctx)
	s.Require().NoError(err)
	s.Equal(4, n)
	for i := 0; i < 4; i++ {
		entry, ok, err := s.cache.Lookup(ctx, fmt.Sprintf("fp-%d", i))
		s.Require().NoError(err)
		s.Require().True(ok)
		s.Contains([]string{
			fmt.Sprintf("text-%d", i),
			fmt.Sprintf("text-%d", i+4),
			fmt.Sprintf("text-%d", i+8),
			fmt.Sprintf("text-%d", i+12),
		}, entry.Text)
	}
}

func TestBoltCacheSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "transcripts.db")

	first, err := OpenBolt(ctx, path)
	require.NoError(t, err)
	require.NoError(t, first.Store(ctx, "fp-1", "persisted", model.EngineLocalGPU))
	require.NoError(t, first.Close())

	second, err := OpenBolt(ctx, path)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, second.Close())
	}()

	entry, ok, err := second.Lookup(ctx, "fp-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "persisted", entry.Text)
	require.Equal(t, model.EngineLocalGPU, entry.EngineUsed)
}

func TestOpenBoltRequiresPath(t *testing.T) {
	_, err := OpenBolt(context.Background(), "  ")
	require.Error(t, err)
}
