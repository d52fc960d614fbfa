// Package app assembles the pipeline from a loaded configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/iaforte/cloud-transcript/pkg/aggregator"
	"github.com/iaforte/cloud-transcript/pkg/cache"
	"github.com/iaforte/cloud-transcript/pkg/config"
	"github.com/iaforte/cloud-transcript/pkg/engines/gemini"
	"github.com/iaforte/cloud-transcript/pkg/engines/huggingface"
	"github.com/iaforte/cloud-transcript/pkg/engines/openai"
	"github.com/iaforte/cloud-transcript/pkg/engines/whisperlocal"
	"github.com/iaforte/cloud-transcript/pkg/logging"
	"github.com/iaforte/cloud-transcript/pkg/model"
	"github.com/iaforte/cloud-transcript/pkg/orchestrator"
	"github.com/iaforte/cloud-transcript/pkg/registry"
	"github.com/iaforte/cloud-transcript/pkg/utils"
)

const (
	OrderUpload   = "upload"
	OrderRecorded = "recorded"
	OrderName     = "name"
)

type Option func(*options)

type options struct {
	logOutput io.Writer
	cache     cache.Cache
	engines   []model.Engine
	registry  *registry.Registry
}

// WithLogOutput sends logs to w instead of stderr.
func WithLogOutput(w io.Writer) Option {
	return func(o *options) {
		if w != nil {
			o.logOutput = w
		}
	}
}

// WithCache replaces the configured cache backend. The caller keeps ownership: the
// App never closes it.
func WithCache(c cache.Cache) Option {
	return func(o *options) {
		o.cache = c
	}
}

// WithEngines replaces the engines built from the configuration.
func WithEngines(engines ...model.Engine) Option {
	return func(o *options) {
		o.engines = engines
	}
}

func WithRegistry(r *registry.Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

type App struct {
	Config       *config.Config
	Registry     *registry.Registry
	Cache        cache.Cache
	Orchestrator *orchestrator.Orchestrator

	batch model.BatchConfig
	// ownsCache is set when New opened the cache from the configuration.
	ownsCache bool
}

func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, utils.WrapIfNotNil(errors.New("config is required"))
	}
	o := options{logOutput: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}
	logging.Configure(o.logOutput, cfg.LogLevel, cfg.LogJSON)
	log := logging.NewLogger(ctx)

	batch, err := cfg.ToBatchConfig()
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}

	reg := o.registry
	if reg == nil {
		reg = registry.New(registry.WithFFprobePath(cfg.FFprobePath))
	}

	engines := o.engines
	if engines == nil {
		engines, err = buildEngines(ctx, cfg)
		if err != nil {
			return nil, utils.WrapIfNotNil(err)
		}
	}

	c := o.cache
	ownsCache := c == nil
	if ownsCache {
		c, err = openCache(ctx, cfg.Cache)
		if err != nil {
			return nil, utils.WrapIfNotNil(err)
		}
	}
	abandon := func() {
		if ownsCache {
			utils.CloseQuietly(c, log)
		}
	}

	orch, err := orchestrator.New(c, engines, orchestrator.WithFingerprinter(reg))
	if err != nil {
		abandon()
		return nil, utils.WrapIfNotNil(err)
	}
	if err := orch.Validate(batch); err != nil {
		abandon()
		return nil, utils.WrapIfNotNil(err)
	}

	log.WithField("engines", batch.EnginePriority).
		WithField("cache", cfg.Cache.Backend).
		Debugf("pipeline ready")

	return &App{
		Config:       cfg,
		Registry:     reg,
		Cache:        c,
		Orchestrator: orch,
		batch:        batch,
		ownsCache:    ownsCache,
	}, nil
}

func openCache(ctx context.Context, cfg config.CacheConfig) (cache.Cache, error) {
	switch cfg.Backend {
	case config.CacheMemory:
		return cache.NewMemory(), nil
	case config.CacheBolt:
		return cache.OpenBolt(ctx, cfg.Path)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// buildEngines constructs every enabled engine and reports all construction errors.
func buildEngines(ctx context.Context, cfg *config.Config) ([]model.Engine, error) {
	var (
		engines []model.Engine
		result  *multierror.Error
	)

	for _, id := range cfg.EnabledEngines() {
		var (
			engine model.Engine
			err    error
		)
		switch id {
		case model.EngineLocalGPU:
			local := cfg.Engines.Local
			engine, err = whisperlocal.New(whisperlocal.Config{
				Model:       local.Model,
				Device:      local.Device,
				WhisperPath: local.WhisperPath,
				FFmpegPath:  local.FFmpegPath,
				WorkDir:     local.WorkDir,
			})
		case model.EngineOpenAI:
			api := cfg.Engines.OpenAI
			engine = openai.New(openai.Config{
				APIKey:   api.APIKey,
				BaseURL:  api.BaseURL,
				Model:    api.Model,
				Prompt:   api.Prompt,
				Keywords: cfg.Keywords,
			})
		case model.EngineGemini:
			api := cfg.Engines.Gemini
			engine, err = gemini.New(ctx, gemini.Config{
				APIKey:   api.APIKey,
				BaseURL:  api.BaseURL,
				Model:    api.Model,
				Prompt:   api.Prompt,
				Keywords: cfg.Keywords,
			})
		case model.EngineHuggingFace:
			hf := cfg.Engines.HuggingFace
			engine, err = huggingface.New(huggingface.Config{
				Token:   hf.Token,
				BaseURL: hf.BaseURL,
				Model:   hf.Model,
			})
		}
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", id, err))
			continue
		}
		engines = append(engines, engine)
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return engines, nil
}

// BatchConfig is the configured batch policy; callers may derive from it with options.
func (a *App) BatchConfig(opts ...model.BatchOption) model.BatchConfig {
	return a.batch.With(opts...)
}

// Close releases what New opened. A cache passed with WithCache stays open.
func (a *App) Close() error {
	var result *multierror.Error
	if a.Cache != nil && a.ownsCache {
		if err := a.Cache.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("cache: %w", err))
		}
	}
	return result.ErrorOrNil()
}

// OrderingKey resolves an --order name.
func OrderingKey(order string, items []model.AudioItem) (aggregator.OrderingKey, error) {
	switch strings.ToLower(strings.TrimSpace(order)) {
	case "", OrderUpload:
		return aggregator.ByUploadIndex(items), nil
	case OrderRecorded:
		return aggregator.ByRecordedAt(items), nil
	case OrderName:
		return aggregator.ByFileName(items), nil
	default:
		return nil, fmt.Errorf("unknown order %q (%s, %s, %s)", order, OrderUpload, OrderRecorded, OrderName)
	}
}
