package cache

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/iaforte/cloud-transcript/pkg/logging"
	"github.com/iaforte/cloud-transcript/pkg/model"
	"github.com/iaforte/cloud-transcript/pkg/utils"
	bolt "go.etcd.io/bbolt"
)

const (
	transcriptsBucket = "transcripts"
	openTimeout       = 2 * time.Second
)

// Bolt is the durable Cache backed by a single bbolt file. Each Store is its own
// transaction, so concurrent writers to the same fingerprint resolve as last write wins.
type Bolt struct {
	db  *bolt.DB
	now func() time.Time
}

var _ Cache = (*Bolt)(nil)

// OpenBolt opens (or creates) the cache file at path.
func OpenBolt(ctx context.Context, path string) (*Bolt, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, utils.WrapIfNotNil(errors.New("cache path is required"))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, utils.WrapIfNotNil(err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, utils.WrapIfNotNil(err, path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(transcriptsBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, utils.WrapIfNotNil(err)
	}

	logging.NewLogger(ctx).Debugf("transcript cache opened path=%q", path)
	return &Bolt{db: db, now: time.Now}, nil
}

func (b *Bolt) Lookup(_ context.Context, fingerprint string) (model.CacheEntry, bool, error) {
	if err := validateFingerprint(fingerprint); err != nil {
		return model.CacheEntry{}, false, utils.WrapIfNotNil(err)
	}

	var raw []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket([]byte(transcriptsBucket)).Get([]byte(fingerprint))
		if value != nil {
			// value is only valid for the lifetime of the transaction
			raw = append([]byte(nil), value...)
		}
		return nil
	})
	if err != nil {
		return model.CacheEntry{}, false, utils.WrapIfNotNil(err)
	}
	if raw == nil {
		return model.CacheEntry{}, false, nil
	}

	var entry model.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return model.CacheEntry{}, false, utils.WrapIfNotNil(err, fingerprint)
	}
	return entry, true, nil
}

func (b *Bolt) Store(_ context.Context, fingerprint string, text string, engineUsed model.EngineID) error {
	if err := validateFingerprint(fingerprint); err != nil {
		return utils.WrapIfNotNil(err)
	}

	raw, err := json.Marshal(model.CacheEntry{
		Text:       text,
		EngineUsed: engineUsed,
		CreatedAt:  b.now().UTC(),
	})
	if err != nil {
		return utils.WrapIfNotNil(err)
	}

	err = b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(transcriptsBucket)).Put([]byte(fingerprint), raw)
	})
	return utils.WrapIfNotNil(err)
}

func (b *Bolt) Invalidate(_ context.Context, fingerprint string) error {
	if err := validateFingerprint(fingerprint); err != nil {
		return utils.WrapIfNotNil(err)
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(transcriptsBucket)).Delete([]byte(fingerprint))
	})
	return utils.WrapIfNotNil(err)
}

func (b *Bolt) Len(_ context.Context) (int, error) {
	count := 0
	err := b.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket([]byte(transcriptsBucket)).Stats().KeyN
		return nil
	})
	return count, utils.WrapIfNotNil(err)
}

// Close flushes and releases the file lock.
func (b *Bolt) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return utils.WrapIfNotNil(b.db.Close())
}
