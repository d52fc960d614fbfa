package app

import (
	"context"
	"errors"

	"github.com/iaforte/cloud-transcript/pkg/aggregator"
	"github.com/iaforte/cloud-transcript/pkg/logging"
	"github.com/iaforte/cloud-transcript/pkg/model"
	"github.com/iaforte/cloud-transcript/pkg/orchestrator"
	"github.com/iaforte/cloud-transcript/pkg/utils"
)

type TranscribeRequest struct {
	Paths    []string
	// Order is one of OrderUpload (default), OrderRecorded or OrderName.
	Order    string
	Options  []model.BatchOption
	Progress func(orchestrator.Event)
}

// Report is a finished batch: the ordered conversation and its summary.
type Report struct {
	Items        []model.AudioItem           `json:"-"`
	Results      []model.TranscriptionResult `json:"results"`
	Conversation *aggregator.Conversation    `json:"conversation"`
	Summary      aggregator.Summary          `json:"summary"`
}

// Transcribe registers paths in the given order, runs them through the pipeline and
// aggregates the outcome. A failed item never fails the call; check Summary.Failed.
func (a *App) Transcribe(ctx context.Context, req TranscribeRequest) (*Report, error) {
	if len(req.Paths) == 0 {
		return nil, utils.WrapIfNotNil(errors.New("no audio files given"))
	}
	if _, err := OrderingKey(req.Order, nil); err != nil {
		return nil, utils.WrapIfNotNil(err)
	}

	items := a.Registry.NewBatch(ctx, req.Paths)
	events, err := a.Orchestrator.Stream(ctx, items, a.BatchConfig(req.Options...))
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}
	results := make([]model.TranscriptionResult, 0, len(items))
	for event := range events {
		results = append(results, event.Result)
		if req.Progress != nil {
			req.Progress(event)
		}
	}

	key, _ := OrderingKey(req.Order, items)
	batch := aggregator.Aggregate(results, key)
	logging.NewLogger(ctx).Infof("batch finished: %s", batch.Summary)

	return &Report{
		Items:        items,
		Results:      batch.Results,
		Conversation: aggregator.NewConversation(batch, items),
		Summary:      batch.Summary,
	}, nil
}

// Retranscribe runs one file through the engines again, replacing its cached transcript.
func (a *App) Retranscribe(ctx context.Context, path string, opts ...model.BatchOption) (model.TranscriptionResult, error) {
	item, err := a.Registry.NewItem(ctx, path, 0)
	if err != nil {
		return model.TranscriptionResult{}, utils.WrapIfNotNil(err)
	}
	return a.Orchestrator.Retranscribe(ctx, item, a.BatchConfig(opts...))
}

// CacheStatus describes the cached transcript of one file.
type CacheStatus struct {
	Path        string            `json:"path"`
	Fingerprint string            `json:"fingerprint"`
	Cached      bool              `json:"cached"`
	Entry       *model.CacheEntry `json:"entry,omitempty"`
}

func (a *App) CacheStatus(ctx context.Context, paths []string) ([]CacheStatus, error) {
	out := make([]CacheStatus, 0, len(paths))
	for _, path := range paths {
		fingerprint, err := a.Registry.Fingerprint(path)
		if err != nil {
			return nil, utils.WrapIfNotNil(err, path)
		}
		entry, ok, err := a.Cache.Lookup(ctx, fingerprint)
		if err != nil {
			return nil, utils.WrapIfNotNil(err, path)
		}
		status := CacheStatus{Path: path, Fingerprint: fingerprint, Cached: ok}
		if ok {
			status.Entry = &entry
		}
		out = append(out, status)
	}
	return out, nil
}

// Invalidate drops the cached transcripts of paths and returns their fingerprints.
func (a *App) Invalidate(ctx context.Context, paths []string) ([]string, error) {
	fingerprints := make([]string, 0, len(paths))
	for _, path := range paths {
		fingerprint, err := a.Registry.Fingerprint(path)
		if err != nil {
			return nil, utils.WrapIfNotNil(err, path)
		}
		if err := a.Cache.Invalidate(ctx, fingerprint); err != nil {
			return nil, utils.WrapIfNotNil(err, path)
		}
		fingerprints = append(fingerprints, fingerprint)
	}
	return fingerprints, nil
}

func (a *App) CacheLen(ctx context.Context) (int, error) {
	n, err := a.Cache.Len(ctx)
	return n, utils.WrapIfNotNil(err)
}
