package gemini

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/iaforte/cloud-transcript/pkg/engines/prompt"
	"github.com/iaforte/cloud-transcript/pkg/logging"
	"github.com/iaforte/cloud-transcript/pkg/model"
	"github.com/iaforte/cloud-transcript/pkg/utils"
	"google.golang.org/genai"
)

const basePrompt = "Transcribe this audio accurately. Return only the transcript text."

var mimeTypes = map[model.AudioFormat]string{
	model.AudioFormatOpus: "audio/ogg",
	model.AudioFormatOGG:  "audio/ogg",
	model.AudioFormatMP3:  "audio/mpeg",
	model.AudioFormatWAV:  "audio/wav",
	model.AudioFormatM4A:  "audio/mp4",
	model.AudioFormatAAC:  "audio/aac",
	model.AudioFormatFLAC: "audio/flac",
	model.AudioFormatWebM: "audio/webm",
}

// Engine sends the audio inline to a Gemini model and asks for a verbatim transcript.
type Engine struct {
	client *genai.Client
	cfg    Config
}

var _ model.Engine = (*Engine)(nil)

func New(ctx context.Context, cfg Config) (*Engine, error) {
	client, err := newAPIClient(ctx, cfg)
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}
	cfg.Keywords = prompt.CloneKeywords(cfg.Keywords)
	return &Engine{client: client, cfg: cfg}, nil
}

func (e *Engine) ID() model.EngineID {
	return model.EngineGemini
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

	mimeType, ok := mimeTypes[item.Format]
	if !ok {
		return "", model.NewEngineError(e.ID(), model.ErrorKindUnsupportedFormat,
			fmt.Errorf("format %q has no audio mime type", item.Format))
	}

	audioBytes, err := os.ReadFile(item.SourcePath)
	if err != nil {
		return "", model.NewEngineError(e.ID(), model.ErrorKindUnknown, utils.WrapIfNotNil(err))
	}
	meta[model.MetadataKeyAudioBytes] = strconv.Itoa(len(audioBytes))

	transcriptionPrompt, err := buildTranscriptionPrompt(e.cfg, languageHint)
	if err != nil {
		return "", model.NewEngineError(e.ID(), model.ErrorKindUnknown, utils.WrapIfNotNil(err))
	}
	contents := []*genai.Content{
		genai.NewContentFromParts(
			[]*genai.Part{
				genai.NewPartFromText(transcriptionPrompt),
				genai.NewPartFromBytes(audioBytes, mimeType),
			},
			genai.RoleUser,
		),
	}

	log.Infof("audio_transcription_request model=%q mime=%q", modelName, mimeType)
	response, err := e.client.Models.GenerateContent(ctx, modelName, contents, &genai.GenerateContentConfig{})
	if err != nil {
		log.Errorf("error: %v", err)
		return "", model.NewEngineError(e.ID(), classifyError(err), utils.WrapIfNotNil(err))
	}

	applyAudioTranscriptionMetadata(meta, response)
	transcript := strings.TrimSpace(response.Text())
	if transcript == "" {
		return "", model.NewEngineError(e.ID(), model.ErrorKindUnknown,
			utils.WrapIfNotNil(errors.New("transcription response is empty")))
	}
	return transcript, nil
}

func buildTranscriptionPrompt(cfg Config, languageHint string) (string, error) {
	parts := []string{basePrompt}
	if hint := strings.TrimSpace(languageHint); hint != "" {
		parts = append(parts, "The speech is in language "+hint+"; do not translate it.")
	}
	extra, err := prompt.Build(cfg.Prompt, cfg.Keywords)
	if err != nil {
		return "", err
	}
	if extra != "" {
		parts = append(parts, extra)
	}
	return strings.Join(parts, " "), nil
}

// classifyError reads the status carried in the API error text.
func classifyError(err error) model.ErrorKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return model.ErrorKindTimeout
	case utils.ContainsAnyErrorSubstring(err, "Error 429", "RESOURCE_EXHAUSTED", "Error 503", "UNAVAILABLE"):
		return model.ErrorKindRateLimited
	case utils.ContainsAnyErrorSubstring(err, "Error 401", "Error 403", "UNAUTHENTICATED", "PERMISSION_DENIED", "API key not valid"):
		return model.ErrorKindAuth
	case utils.ContainsAnyErrorSubstring(err, "Error 504", "DEADLINE_EXCEEDED"):
		return model.ErrorKindTimeout
	case utils.ContainsAnyErrorSubstring(err, "Unsupported MIME type", "unsupported MIME type", "unsupported mime", "Error 415"):
		return model.ErrorKindUnsupportedFormat
	}
	return model.ErrorKindUnknown
}

func applyAudioTranscriptionMetadata(meta model.GenerationMetadata, response *genai.GenerateContentResponse) {
	if meta == nil || response == nil || response.UsageMetadata == nil {
		return
	}

	meta[model.MetadataKeyInputTokens] = strconv.Itoa(int(response.UsageMetadata.PromptTokenCount))
	meta[model.MetadataKeyOutputTokens] = strconv.Itoa(int(response.UsageMetadata.CandidatesTokenCount))
	meta[model.MetadataKeyTotalTokens] = strconv.Itoa(int(response.UsageMetadata.TotalTokenCount))
}
