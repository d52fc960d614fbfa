package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/iaforte/cloud-transcript/pkg/engines/prompt"
	"github.com/iaforte/cloud-transcript/pkg/logging"
	"github.com/iaforte/cloud-transcript/pkg/model"
	"github.com/iaforte/cloud-transcript/pkg/utils"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/param"
)

// uploadFormats maps the formats the transcription endpoint accepts to the
// extension and content type sent with the upload.
var uploadFormats = map[model.AudioFormat]struct {
	ext         string
	contentType string
}{
	// WhatsApp voice notes are opus in an ogg container; the endpoint only
	// recognizes the .ogg name.
	model.AudioFormatOpus: {ext: ".ogg", contentType: "audio/ogg"},
	model.AudioFormatOGG:  {ext: ".ogg", contentType: "audio/ogg"},
	model.AudioFormatMP3:  {ext: ".mp3", contentType: "audio/mpeg"},
	model.AudioFormatWAV:  {ext: ".wav", contentType: "audio/wav"},
	model.AudioFormatM4A:  {ext: ".m4a", contentType: "audio/mp4"},
	model.AudioFormatFLAC: {ext: ".flac", contentType: "audio/flac"},
	model.AudioFormatWebM: {ext: ".webm", contentType: "audio/webm"},
}

// Engine transcribes through the OpenAI audio transcriptions endpoint.
type Engine struct {
	apiClient openai.Client
	cfg       Config
}

var _ model.Engine = (*Engine)(nil)

func New(cfg Config) *Engine {
	cfg.Keywords = prompt.CloneKeywords(cfg.Keywords)
	return &Engine{
		apiClient: newAPIClient(cfg),
		cfg:       cfg,
	}
}

func (e *Engine) ID() model.EngineID {
	return model.EngineOpenAI
}

func (e *Engine) Transcribe(ctx context.Context, item model.AudioItem, languageHint string) (string, error) {
	start := time.Now()
	modelName := resolveModelName(e.cfg)
	meta := initMetadata(modelName)
	log := logging.NewLogger(ctx).WithField("item", item.ID).WithField("engine", e.ID())
	defer func() {
		setLatencyMetadata(meta, start)
		log.Debugf("audio_transcription_metadata %v", meta)
	}()

	upload, ok := uploadFormats[item.Format]
	if !ok {
		return "", model.NewEngineError(e.ID(), model.ErrorKindUnsupportedFormat,
			fmt.Errorf("format %q is not accepted by %s", item.Format, providerName))
	}

	file, err := os.Open(item.SourcePath)
	if err != nil {
		return "", model.NewEngineError(e.ID(), model.ErrorKindUnknown, utils.WrapIfNotNil(err))
	}
	defer utils.CloseQuietly(file, log)

	uploadName := strings.TrimSuffix(filepath.Base(item.SourcePath), filepath.Ext(item.SourcePath)) + upload.ext
	params := openai.AudioTranscriptionNewParams{
		File:           openai.File(file, uploadName, upload.contentType),
		Model:          openai.AudioModel(modelName),
		ResponseFormat: openai.AudioResponseFormatJSON,
	}
	if language := prompt.LanguageCode(languageHint); language != "" {
		params.Language = param.NewOpt(language)
	}
	transcriptionPrompt, err := prompt.Build(e.cfg.Prompt, e.cfg.Keywords)
	if err != nil {
		return "", model.NewEngineError(e.ID(), model.ErrorKindUnknown, utils.WrapIfNotNil(err))
	}
	if transcriptionPrompt != "" {
		params.Prompt = param.NewOpt(transcriptionPrompt)
	}

	log.Infof("audio_transcription_request model=%q file=%q", modelName, uploadName)
	response, err := e.apiClient.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		log.Errorf("error: %v", err)
		return "", model.NewEngineError(e.ID(), classifyError(err), utils.WrapIfNotNil(err))
	}
	if response == nil {
		return "", model.NewEngineError(e.ID(), model.ErrorKindUnknown,
			utils.WrapIfNotNil(errors.New("audio transcriptions API returned nil response")))
	}

	applyAudioTranscriptionMetadata(meta, response)
	transcript := strings.TrimSpace(response.Text)
	if transcript == "" {
		return "", model.NewEngineError(e.ID(), model.ErrorKindUnknown,
			utils.WrapIfNotNil(errors.New("transcription response is empty")))
	}
	return transcript, nil
}

func classifyError(err error) model.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return model.ErrorKindTimeout
	}

	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return model.ErrorKindUnknown
	}

	switch apiErr.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return model.ErrorKindRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return model.ErrorKindAuth
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return model.ErrorKindTimeout
	case http.StatusUnsupportedMediaType:
		return model.ErrorKindUnsupportedFormat
	case http.StatusBadRequest:
		if utils.ContainsAnyErrorSubstring(err, "file format", "Unsupported", "unsupported", "Invalid file", "invalid file") {
			return model.ErrorKindUnsupportedFormat
		}
	}
	return model.ErrorKindUnknown
}

func applyAudioTranscriptionMetadata(
	meta model.GenerationMetadata,
	response *openai.AudioTranscriptionNewResponseUnion,
) {
	if meta == nil || response == nil {
		return
	}

	meta[model.MetadataKeyInputTokens] = strconv.FormatInt(response.Usage.InputTokens, 10)
	meta[model.MetadataKeyOutputTokens] = strconv.FormatInt(response.Usage.OutputTokens, 10)
	meta[model.MetadataKeyTotalTokens] = strconv.FormatInt(response.Usage.TotalTokens, 10)
}
