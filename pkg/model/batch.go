package model

import (
	"time"
)

const (
	DefaultMaxRetries     = 2
	DefaultPerCallTimeout = 5 * time.Minute
	DefaultMaxConcurrency = 2
	DefaultBackoffBase    = 500 * time.Millisecond
	DefaultBackoffMax     = 10 * time.Second
	DefaultLanguageHint   = "pt"
)

// BatchConfig is the per-submission configuration of the orchestrator.
type BatchConfig struct {
	EnginePriority []EngineID
	MaxRetries     int
	PerCallTimeout time.Duration
	MaxConcurrency int
	LanguageHint   string
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	// SkipCache bypasses the lookup and supersedes the cached entry on success.
	SkipCache bool
}

type BatchOption interface {
	apply(*BatchConfig)
}

type batchOptionFunc func(*BatchConfig)

func (f batchOptionFunc) apply(cfg *BatchConfig) {
	f(cfg)
}

func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		EnginePriority: []EngineID{EngineLocalGPU, EngineOpenAI, EngineGemini},
		MaxRetries:     DefaultMaxRetries,
		PerCallTimeout: DefaultPerCallTimeout,
		MaxConcurrency: DefaultMaxConcurrency,
		LanguageHint:   DefaultLanguageHint,
		BackoffBase:    DefaultBackoffBase,
		BackoffMax:     DefaultBackoffMax,
	}
}

// ResolveBatchConfig applies opts on top of DefaultBatchConfig.
func ResolveBatchConfig(opts ...BatchOption) BatchConfig {
	cfg := DefaultBatchConfig()
	for _, opt := range opts {
		if opt != nil {
			opt.apply(&cfg)
		}
	}
	return cfg
}

// With returns a copy of c with opts applied.
func (c BatchConfig) With(opts ...BatchOption) BatchConfig {
	out := c
	out.EnginePriority = append([]EngineID(nil), c.EnginePriority...)
	for _, opt := range opts {
		if opt != nil {
			opt.apply(&out)
		}
	}
	return out
}

func WithEnginePriority(engines ...EngineID) BatchOption {
	return batchOptionFunc(func(cfg *BatchConfig) {
		cfg.EnginePriority = append([]EngineID(nil), engines...)
	})
}

func WithMaxRetries(value int) BatchOption {
	return batchOptionFunc(func(cfg *BatchConfig) {
		cfg.MaxRetries = value
	})
}

func WithPerCallTimeout(value time.Duration) BatchOption {
	return batchOptionFunc(func(cfg *BatchConfig) {
		cfg.PerCallTimeout = value
	})
}

func WithMaxConcurrency(value int) BatchOption {
	return batchOptionFunc(func(cfg *BatchConfig) {
		cfg.MaxConcurrency = value
	})
}

func WithLanguageHint(value string) BatchOption {
	return batchOptionFunc(func(cfg *BatchConfig) {
		cfg.LanguageHint = value
	})
}

func WithBackoff(base, max time.Duration) BatchOption {
	return batchOptionFunc(func(cfg *BatchConfig) {
		cfg.BackoffBase = base
		cfg.BackoffMax = max
	})
}

func WithSkipCache(value bool) BatchOption {
	return batchOptionFunc(func(cfg *BatchConfig) {
		cfg.SkipCache = value
	})
}

// BackoffDelay returns the wait before retry number try (1-based): base*2^(try-1), capped at max.
func (c BatchConfig) BackoffDelay(try int) time.Duration {
	if c.BackoffBase <= 0 || try <= 0 {
		return 0
	}
	delay := c.BackoffBase
	for i := 1; i < try; i++ {
		delay *= 2
		if c.BackoffMax > 0 && delay >= c.BackoffMax {
			return c.BackoffMax
		}
	}
	if c.BackoffMax > 0 && delay > c.BackoffMax {
		return c.BackoffMax
	}
	return delay
}
