package model

import "context"

type EngineID string

const (
	EngineLocalGPU    EngineID = "local-gpu"
	EngineOpenAI      EngineID = "openai"
	EngineGemini      EngineID = "gemini"
	EngineHuggingFace EngineID = "huggingface"
)

// Engine is a transcription backend. Implementations must not retry internally and
// must be safe to call repeatedly for the same item.
type Engine interface {
	ID() EngineID
	Transcribe(ctx context.Context, item AudioItem, languageHint string) (string, error)
}

// GenerationMetadata is the per-call metadata engines log after a transcription.
type GenerationMetadata map[string]string

const (
	MetadataKeyProvider     = "provider"
	MetadataKeyModel        = "model"
	MetadataKeyLatencyMs    = "latency_ms"
	MetadataKeyInputTokens  = "input_tokens"
	MetadataKeyOutputTokens = "output_tokens"
	MetadataKeyTotalTokens  = "total_tokens"
	MetadataKeyDevice       = "device"
	MetadataKeyAudioBytes   = "audio_bytes"
)

type batchContextKey struct{}

// WithBatchContext attaches the batch context to a call context that has been detached
// from batch cancellation, so an engine can stop waiting for a shared resource when the
// batch is cancelled before its call starts.
func WithBatchContext(callCtx, batchCtx context.Context) context.Context {
	return context.WithValue(callCtx, batchContextKey{}, batchCtx)
}

// BatchContext returns the batch context attached by WithBatchContext, or a context
// that is never cancelled.
func BatchContext(ctx context.Context) context.Context {
	if batchCtx, ok := ctx.Value(batchContextKey{}).(context.Context); ok && batchCtx != nil {
		return batchCtx
	}
	return context.Background()
}
