// Package watch turns a directory into an intake: voice notes dropped there are
// handed to a Handler once their size stops changing.
package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/iaforte/cloud-transcript/pkg/logging"
	"github.com/iaforte/cloud-transcript/pkg/model"
	"github.com/iaforte/cloud-transcript/pkg/utils"
)

const defaultSettle = 2 * time.Second

// Handler receives the settled files of one flush, sorted by name.
type Handler func(ctx context.Context, paths []string)

type Option func(*Watcher)

// WithSettle sets how long a file must stay unchanged before it is handed over.
func WithSettle(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.settle = d
		}
	}
}

// WithInitialScan also hands over the audio files already present at start.
func WithInitialScan(enabled bool) Option {
	return func(w *Watcher) {
		w.initialScan = enabled
	}
}

type pendingFile struct {
	lastEvent time.Time
	size      int64
}

type Watcher struct {
	dir         string
	handler     Handler
	settle      time.Duration
	initialScan bool

	mu      sync.Mutex
	pending map[string]pendingFile
	seen    map[string]struct{}
}

func New(dir string, handler Handler, opts ...Option) (*Watcher, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, utils.WrapIfNotNil(errors.New("watch directory is required"))
	}
	if handler == nil {
		return nil, utils.WrapIfNotNil(errors.New("handler is required"))
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}
	if !info.IsDir() {
		return nil, utils.WrapIfNotNil(errors.New("not a directory"), dir)
	}

	w := &Watcher{
		dir:     dir,
		handler: handler,
		settle:  defaultSettle,
		pending: make(map[string]pendingFile),
		seen:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run blocks until ctx is cancelled. The handler runs on the watcher goroutine, so
// files that arrive while a batch is transcribing are queued for the next flush.
func (w *Watcher) Run(ctx context.Context) error {
	log := logging.NewLogger(ctx).WithField("dir", w.dir)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return utils.WrapIfNotNil(err)
	}
	defer utils.CloseQuietly(fsw, log)

	if err := fsw.Add(w.dir); err != nil {
		return utils.WrapIfNotNil(err, w.dir)
	}
	log.Infof("watching for voice notes")

	if w.initialScan {
		if err := w.scan(); err != nil {
			return utils.WrapIfNotNil(err)
		}
	}

	ticker := time.NewTicker(max(w.settle/4, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.observe(event)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.Errorf("file watcher error: %v", err)

		case now := <-ticker.C:
			if ready := w.ready(now); len(ready) > 0 {
				log.WithField("files", len(ready)).Infof("handing over settled voice notes")
				w.handler(ctx, ready)
			}
		}
	}
}

func (w *Watcher) scan() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		w.track(filepath.Join(w.dir, entry.Name()), time.Time{})
	}
	return nil
}

func (w *Watcher) observe(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	w.track(event.Name, time.Now())
}

func (w *Watcher) track(path string, at time.Time) {
	if !isVoiceNote(path) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, done := w.seen[path]; done {
		return
	}
	current := w.pending[path]
	current.lastEvent = at
	current.size = -1
	w.pending[path] = current
}

// ready returns the pending files whose size did not change for the settle window.
func (w *Watcher) ready(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []string
	for path, file := range w.pending {
		info, err := os.Stat(path)
		if err != nil {
			delete(w.pending, path)
			continue
		}
		if info.Size() != file.size {
			file.size = info.Size()
			if !file.lastEvent.IsZero() {
				file.lastEvent = now
			}
			w.pending[path] = file
			if !file.lastEvent.IsZero() {
				continue
			}
		}
		if info.Size() == 0 || now.Sub(file.lastEvent) < w.settle {
			continue
		}
		out = append(out, path)
		delete(w.pending, path)
		w.seen[path] = struct{}{}
	}
	slices.Sort(out)
	return out
}

func isVoiceNote(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".tmp") || strings.HasSuffix(base, ".part") {
		return false
	}
	return model.AudioFormatFromPath(path) != model.AudioFormatUnknown
}
