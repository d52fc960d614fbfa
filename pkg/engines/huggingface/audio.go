package huggingface

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/iaforte/cloud-transcript/pkg/logging"
	"github.com/iaforte/cloud-transcript/pkg/model"
	"github.com/iaforte/cloud-transcript/pkg/utils"
)

var contentTypes = map[model.AudioFormat]string{
	model.AudioFormatOpus: "audio/ogg",
	model.AudioFormatOGG:  "audio/ogg",
	model.AudioFormatMP3:  "audio/mpeg",
	model.AudioFormatWAV:  "audio/wav",
	model.AudioFormatM4A:  "audio/m4a",
	model.AudioFormatFLAC: "audio/flac",
	model.AudioFormatWebM: "audio/webm",
}

// Engine runs a hosted Whisper checkpoint through the Hugging Face inference router.
// The raw-bytes ASR endpoint takes no language parameter, so the hint is not forwarded.
type Engine struct {
	client    *apiClient
	modelName string
}

var _ model.Engine = (*Engine)(nil)

func New(cfg Config) (*Engine, error) {
	client, err := newAPIClient(cfg)
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}
	return &Engine{client: client, modelName: resolveModelName(cfg)}, nil
}

func (e *Engine) ID() model.EngineID {
	return model.EngineHuggingFace
}

func (e *Engine) Transcribe(ctx context.Context, item model.AudioItem, _ string) (string, error) {
	start := time.Now()
	meta := initMetadata(e.modelName)
	log := logging.NewLogger(ctx).WithField("item", item.ID).WithField("engine", e.ID())
	defer func() {
		setLatencyMetadata(meta, start)
		log.Debugf("audio_transcription_metadata %v", meta)
	}()

	contentType, ok := contentTypes[item.Format]
	if !ok {
		return "", model.NewEngineError(e.ID(), model.ErrorKindUnsupportedFormat,
			fmt.Errorf("format %q is not accepted by %s", item.Format, providerName))
	}

	audio, err := os.ReadFile(item.SourcePath)
	if err != nil {
		return "", model.NewEngineError(e.ID(), model.ErrorKindUnknown, utils.WrapIfNotNil(err))
	}
	meta[model.MetadataKeyAudioBytes] = strconv.Itoa(len(audio))

	log.Infof("audio_transcription_request model=%q content_type=%q", e.modelName, contentType)
	response, err := e.client.recognize(ctx, e.modelName, contentType, audio)
	if err != nil {
		log.Errorf("error: %v", err)
		return "", model.NewEngineError(e.ID(), classifyError(err), err)
	}

	transcript := strings.TrimSpace(response.Text)
	if transcript == "" {
		return "", model.NewEngineError(e.ID(), model.ErrorKindUnknown,
			utils.WrapIfNotNil(errors.New("transcription response is empty")))
	}
	return transcript, nil
}

func classifyError(err error) model.ErrorKind {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return model.ErrorKindTimeout
	}

	var apiErr *statusError
	if !errors.As(err, &apiErr) {
		return model.ErrorKindUnknown
	}

	switch apiErr.StatusCode {
	// 503 is the cold-start "model is loading" answer
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return model.ErrorKindRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return model.ErrorKindAuth
	case http.StatusUnsupportedMediaType:
		return model.ErrorKindUnsupportedFormat
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return model.ErrorKindTimeout
	}
	return model.ErrorKindUnknown
}
