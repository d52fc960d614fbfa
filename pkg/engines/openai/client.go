package openai

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/iaforte/cloud-transcript/pkg/engines/prompt"
	"github.com/iaforte/cloud-transcript/pkg/model"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	providerName     = "openai"
	defaultModelName = "whisper-1"
	envAPIKey        = "OPENAI_API_KEY"
)

// Config configures the OpenAI engine. Empty fields fall back to defaults and the
// OPENAI_API_KEY environment variable.
type Config struct {
	APIKey   string
	BaseURL  string
	Model    string
	Prompt   string
	Keywords []prompt.Keyword
}

func newAPIClient(cfg Config) openai.Client {
	requestOpts := make([]option.RequestOption, 0, 3)
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		requestOpts = append(requestOpts, option.WithBaseURL(baseURL))
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv(envAPIKey))
	}
	if apiKey != "" {
		requestOpts = append(requestOpts, option.WithAPIKey(apiKey))
	}

	// the orchestrator owns retry policy
	requestOpts = append(requestOpts, option.WithMaxRetries(0))

	return openai.NewClient(requestOpts...)
}

func resolveModelName(cfg Config) string {
	if modelName := strings.TrimSpace(cfg.Model); modelName != "" {
		return modelName
	}
	return defaultModelName
}

func initMetadata(modelName string) model.GenerationMetadata {
	if strings.TrimSpace(modelName) == "" {
		modelName = "unknown"
	}

	return model.GenerationMetadata{
		model.MetadataKeyProvider: providerName,
		model.MetadataKeyModel:    modelName,
	}
}

func setLatencyMetadata(meta model.GenerationMetadata, start time.Time) {
	if meta == nil {
		return
	}
	meta[model.MetadataKeyLatencyMs] = strconv.FormatInt(time.Since(start).Milliseconds(), 10)
}
