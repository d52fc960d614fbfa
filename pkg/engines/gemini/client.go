package gemini

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/iaforte/cloud-transcript/pkg/engines/prompt"
	"github.com/iaforte/cloud-transcript/pkg/model"
	"github.com/iaforte/cloud-transcript/pkg/utils"
	"google.golang.org/genai"
)

const (
	providerName     = "gemini"
	defaultModelName = "gemini-2.5-flash"
	envAPIKey        = "GEMINI_KEY"
)

type Config struct {
	APIKey   string
	BaseURL  string
	Model    string
	Prompt   string
	Keywords []prompt.Keyword
}

func newAPIClient(ctx context.Context, cfg Config) (*genai.Client, error) {
	clientCfg := &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
	}

	token := strings.TrimSpace(cfg.APIKey)
	if token == "" {
		token = strings.TrimSpace(os.Getenv(envAPIKey))
	}
	if token == "" {
		return nil, utils.WrapIfNotNil(errors.New("api key is required (set GEMINI_KEY)"))
	}
	clientCfg.APIKey = token

	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{
			BaseURL: baseURL,
		}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}
	return client, nil
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
