package huggingface

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/iaforte/cloud-transcript/pkg/model"
	"github.com/iaforte/cloud-transcript/pkg/utils"
)

const (
	providerName       = "huggingface"
	defaultModelName   = "openai/whisper-large-v3"
	defaultBaseURL     = "https://router.huggingface.co"
	defaultHTTPTimeout = 10 * time.Minute
	envHFToken         = "HF_TOKEN"
	envHFBaseURL       = "HF_BASE_URL"
	envHFModel         = "HF_MODEL"
)

type Config struct {
	Token   string
	BaseURL string
	Model   string
}

type apiClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

type asrResponse struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Error         json.RawMessage `json:"error"`
	EstimatedTime float64         `json:"estimated_time,omitempty"`
}

// statusError is a non-2xx answer from the inference API.
type statusError struct {
	StatusCode int
	Message    string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("huggingface API error (%d): %s", e.StatusCode, e.Message)
}

func newAPIClient(cfg Config) (*apiClient, error) {
	apiKey := strings.TrimSpace(cfg.Token)
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv(envHFToken))
	}
	if apiKey == "" {
		return nil, utils.WrapIfNotNil(errors.New("auth token is required (set HF_TOKEN)"))
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = strings.TrimSpace(os.Getenv(envHFBaseURL))
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	return &apiClient{
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
	}, nil
}

func (c *apiClient) recognize(ctx context.Context, modelName string, contentType string, audio []byte) (*asrResponse, error) {
	httpRequest, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+"/hf-inference/models/"+modelName,
		bytes.NewReader(audio),
	)
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}

	httpRequest.Header.Set("Content-Type", contentType)
	httpRequest.Header.Set("Accept", "application/json")
	httpRequest.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}
	defer httpResponse.Body.Close()

	responseBits, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode >= 300 {
		return nil, utils.WrapIfNotNil(&statusError{
			StatusCode: httpResponse.StatusCode,
			Message:    errorMessage(responseBits),
		})
	}

	response := asrResponse{}
	if err := json.Unmarshal(responseBits, &response); err != nil {
		return nil, utils.WrapIfNotNil(err)
	}
	return &response, nil
}

// errorMessage accepts both {"error": "..."} and {"error": {"message": "..."}}.
func errorMessage(body []byte) string {
	message := strings.TrimSpace(string(body))
	apiErr := errorResponse{}
	if err := json.Unmarshal(body, &apiErr); err == nil && len(apiErr.Error) > 0 {
		var text string
		if json.Unmarshal(apiErr.Error, &text) == nil && strings.TrimSpace(text) != "" {
			message = strings.TrimSpace(text)
		} else {
			var nested struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(apiErr.Error, &nested) == nil && strings.TrimSpace(nested.Message) != "" {
				message = strings.TrimSpace(nested.Message)
			}
		}
		if apiErr.EstimatedTime > 0 {
			message += fmt.Sprintf(" (estimated_time=%.0fs)", apiErr.EstimatedTime)
		}
	}
	if message == "" {
		message = "unknown huggingface error"
	}
	return message
}

func resolveModelName(cfg Config) string {
	if name := strings.TrimSpace(cfg.Model); name != "" {
		return name
	}
	if fromEnv := strings.TrimSpace(os.Getenv(envHFModel)); fromEnv != "" {
		return fromEnv
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
