// Package orchestrator runs a batch of audio items through the transcription engines:
// cache first, then each engine in priority order with bounded retries on transient
// failures, with at most MaxConcurrency items in flight.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/iaforte/cloud-transcript/pkg/cache"
	"github.com/iaforte/cloud-transcript/pkg/logging"
	"github.com/iaforte/cloud-transcript/pkg/model"
	"github.com/iaforte/cloud-transcript/pkg/registry"
	"github.com/iaforte/cloud-transcript/pkg/utils"
	"golang.org/x/sync/errgroup"
)

// Fingerprinter computes the cache key of an item that arrives without one.
type Fingerprinter interface {
	Fingerprint(path string) (string, error)
}

// Event reports one finished item. Completed counts finished items including this one.
type Event struct {
	Result    model.TranscriptionResult
	Completed int
	Total     int
}

type Option func(*Orchestrator)

func WithFingerprinter(fingerprinter Fingerprinter) Option {
	return func(o *Orchestrator) {
		if fingerprinter != nil {
			o.fingerprinter = fingerprinter
		}
	}
}

type Orchestrator struct {
	cache         cache.Cache
	engines       map[model.EngineID]model.Engine
	fingerprinter Fingerprinter
	sleep         func(ctx context.Context, d time.Duration) error
}

func New(c cache.Cache, engines []model.Engine, opts ...Option) (*Orchestrator, error) {
	if c == nil {
		return nil, utils.WrapIfNotNil(errors.New("cache is required"))
	}

	byID := make(map[model.EngineID]model.Engine, len(engines))
	for _, engine := range engines {
		if engine == nil {
			continue
		}
		if _, dup := byID[engine.ID()]; dup {
			return nil, utils.WrapIfNotNil(fmt.Errorf("engine %q registered twice", engine.ID()))
		}
		byID[engine.ID()] = engine
	}

	o := &Orchestrator{
		cache:         c,
		engines:       byID,
		fingerprinter: registry.New(),
		sleep:         sleepContext,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o, nil
}

// Engines lists the registered engine ids in lexical order.
func (o *Orchestrator) Engines() []model.EngineID {
	ids := make([]model.EngineID, 0, len(o.engines))
	for id := range o.engines {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Validate reports every problem of cfg at once; the error wraps model.ErrInvalidConfig.
func (o *Orchestrator) Validate(cfg model.BatchConfig) error {
	var result *multierror.Error
	if len(cfg.EnginePriority) == 0 {
		result = multierror.Append(result, errors.New("engine priority is empty"))
	}
	seen := make(map[model.EngineID]struct{}, len(cfg.EnginePriority))
	for _, id := range cfg.EnginePriority {
		if _, ok := o.engines[id]; !ok {
			result = multierror.Append(result, fmt.Errorf("engine %q is not configured", id))
		}
		if _, dup := seen[id]; dup {
			result = multierror.Append(result, fmt.Errorf("engine %q is listed twice", id))
		}
		seen[id] = struct{}{}
	}
	if cfg.MaxRetries < 0 {
		result = multierror.Append(result, fmt.Errorf("max retries must be >= 0, got %d", cfg.MaxRetries))
	}
	if cfg.PerCallTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("per-call timeout must be > 0, got %s", cfg.PerCallTimeout))
	}
	if cfg.MaxConcurrency < 1 {
		result = multierror.Append(result, fmt.Errorf("max concurrency must be >= 1, got %d", cfg.MaxConcurrency))
	}
	if cfg.BackoffBase < 0 || cfg.BackoffMax < 0 {
		result = multierror.Append(result, errors.New("backoff durations must not be negative"))
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", model.ErrInvalidConfig, err)
	}
	return nil
}

// SubmitBatch blocks until every item has a result. Results come back in completion
// order; use the aggregator to restore upload order.
func (o *Orchestrator) SubmitBatch(ctx context.Context, items []model.AudioItem, cfg model.BatchConfig) ([]model.TranscriptionResult, error) {
	events, err := o.Stream(ctx, items, cfg)
	if err != nil {
		return nil, err
	}

	results := make([]model.TranscriptionResult, 0, len(items))
	for event := range events {
		results = append(results, event.Result)
	}
	return results, nil
}

// Stream starts the batch and returns a channel that receives one Event per item and
// is closed after the last one. The channel is buffered for the whole batch, so a slow
// reader never stalls the engines.
func (o *Orchestrator) Stream(ctx context.Context, items []model.AudioItem, cfg model.BatchConfig) (<-chan Event, error) {
	if err := o.Validate(cfg); err != nil {
		return nil, err
	}

	events := make(chan Event, len(items))
	go o.run(ctx, slices.Clone(items), cfg, events)
	return events, nil
}

// Retranscribe drops the cached transcript of item and runs it through the engines
// again; a success supersedes the old entry.
func (o *Orchestrator) Retranscribe(ctx context.Context, item model.AudioItem, cfg model.BatchConfig) (model.TranscriptionResult, error) {
	if err := o.Validate(cfg); err != nil {
		return model.TranscriptionResult{}, err
	}

	fingerprint, err := o.fingerprint(item)
	if err != nil {
		return model.TranscriptionResult{}, utils.WrapIfNotNil(err)
	}
	item.Fingerprint = fingerprint
	if err := o.cache.Invalidate(ctx, fingerprint); err != nil {
		return model.TranscriptionResult{}, utils.WrapIfNotNil(err, item.ID)
	}

	cfg.SkipCache = true
	return o.process(ctx, item, cfg), nil
}

func (o *Orchestrator) run(ctx context.Context, items []model.AudioItem, cfg model.BatchConfig, events chan<- Event) {
	defer close(events)
	log := logging.NewLogger(ctx)
	log.Infof("batch started items=%d engines=%v max_concurrency=%d", len(items), cfg.EnginePriority, cfg.MaxConcurrency)

	var mu sync.Mutex
	completed := 0
	emit := func(result model.TranscriptionResult) {
		mu.Lock()
		defer mu.Unlock()
		completed++
		events <- Event{Result: result, Completed: completed, Total: len(items)}
	}

	group := new(errgroup.Group)
	group.SetLimit(cfg.MaxConcurrency)
	for _, item := range items {
		if ctx.Err() != nil {
			emit(cancelled(model.TranscriptionResult{ItemID: item.ID}))
			continue
		}
		group.Go(func() error {
			emit(o.process(ctx, item, cfg))
			return nil
		})
	}
	_ = group.Wait()
	log.Infof("batch finished items=%d", len(items))
}

func (o *Orchestrator) process(ctx context.Context, item model.AudioItem, cfg model.BatchConfig) model.TranscriptionResult {
	result := model.TranscriptionResult{ItemID: item.ID, Attempts: []model.Attempt{}}
	log := logging.NewLogger(ctx).WithField("item", item.ID)
	if ctx.Err() != nil {
		return cancelled(result)
	}

	fingerprint, err := o.fingerprint(item)
	if err != nil {
		log.Errorf("fingerprint failed: %v", err)
		result.Status = model.StatusFailed
		result.ErrorKind = model.ErrorKindUnknown
		result.Error = err.Error()
		return result
	}

	if !cfg.SkipCache {
		entry, ok, err := o.cache.Lookup(ctx, fingerprint)
		switch {
		case err != nil:
			log.Warnf("cache lookup failed, treating as miss: %v", err)
		case ok:
			log.Debugf("cache hit fingerprint=%s engine=%s", fingerprint, entry.EngineUsed)
			result.Status = model.StatusCached
			result.Text = entry.Text
			result.EngineUsed = entry.EngineUsed
			return result
		}
	}

	var lastErr error
	for _, engineID := range cfg.EnginePriority {
		engine := o.engines[engineID]
		for try := 1; try <= cfg.MaxRetries+1; try++ {
			if try > 1 {
				if err := o.sleep(ctx, cfg.BackoffDelay(try-1)); err != nil {
					return cancelled(result)
				}
			}

			text, attempt, err := o.attempt(ctx, engine, item, try, cfg)
			if errors.Is(err, model.ErrBatchCancelled) {
				log.Infof("engine=%s cancelled before the call started", engineID)
				return cancelled(result)
			}
			result.Attempts = append(result.Attempts, attempt)
			log.Infof("attempt engine=%s try=%d outcome=%s latency=%s", attempt.Engine, attempt.Try, attempt.Outcome, attempt.Latency)
			if err == nil {
				o.store(ctx, log, fingerprint, text, engineID)
				result.Status = model.StatusSucceeded
				result.Text = text
				result.EngineUsed = engineID
				result.ErrorKind = ""
				return result
			}

			lastErr = err
			result.ErrorKind = model.KindOf(err)
			if ctx.Err() != nil {
				return cancelled(result)
			}
			if !result.ErrorKind.Transient() {
				break
			}
		}
	}

	result.Status = model.StatusFailed
	result.Error = fmt.Errorf("%w after %s: %w", model.ErrAllEnginesExhausted, joinEngines(result.EnginesTried()), lastErr).Error()
	log.Warnf("item failed kind=%s: %s", result.ErrorKind, result.Error)
	return result
}

// attempt makes one call. The call runs detached from batch cancellation so work
// already paid for is not thrown away; only the per-call timeout bounds it. The batch
// context rides along for engines that queue before the call starts; such an engine
// returns model.ErrBatchCancelled when the batch is cancelled while it waits.
func (o *Orchestrator) attempt(ctx context.Context, engine model.Engine, item model.AudioItem, try int, cfg model.BatchConfig) (text string, attempt model.Attempt, err error) {
	callCtx, cancel := context.WithTimeout(model.WithBatchContext(context.WithoutCancel(ctx), ctx), cfg.PerCallTimeout)
	defer cancel()

	attempt = model.Attempt{Engine: engine.ID(), Try: try}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			utils.PrintStack(fmt.Sprintf("engine %s panicked: %v", engine.ID(), r), logging.NewLogger(ctx))
			text = ""
			err = model.NewEngineError(engine.ID(), model.ErrorKindUnknown, fmt.Errorf("panic: %v", r))
		}
		attempt.Latency = time.Since(start)
		if err != nil {
			kind := model.KindOf(err)
			if kind == model.ErrorKindUnknown && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				kind = model.ErrorKindTimeout
				err = model.NewEngineError(engine.ID(), kind, err)
			}
			attempt.Outcome = string(kind)
			attempt.Error = err.Error()
			return
		}
		attempt.Outcome = model.OutcomeSuccess
	}()

	text, err = engine.Transcribe(callCtx, item, cfg.LanguageHint)
	if err == nil && strings.TrimSpace(text) == "" {
		err = model.NewEngineError(engine.ID(), model.ErrorKindUnknown, errors.New("empty transcript"))
	}
	return strings.TrimSpace(text), attempt, err
}

// store never fails the item: the transcript is already in hand.
func (o *Orchestrator) store(ctx context.Context, log logging.Logger, fingerprint, text string, engineID model.EngineID) {
	if err := o.cache.Store(context.WithoutCancel(ctx), fingerprint, text, engineID); err != nil {
		log.Warnf("cache store failed fingerprint=%s: %v", fingerprint, err)
	}
}

func (o *Orchestrator) fingerprint(item model.AudioItem) (string, error) {
	if fingerprint := strings.TrimSpace(item.Fingerprint); fingerprint != "" {
		return fingerprint, nil
	}
	return o.fingerprinter.Fingerprint(item.SourcePath)
}

func cancelled(result model.TranscriptionResult) model.TranscriptionResult {
	if result.Attempts == nil {
		result.Attempts = []model.Attempt{}
	}
	result.Status = model.StatusCancelled
	result.ErrorKind = ""
	result.Error = model.ErrBatchCancelled.Error()
	return result
}

func joinEngines(ids []model.EngineID) string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = string(id)
	}
	return strings.Join(names, ",")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
