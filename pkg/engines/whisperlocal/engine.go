// Package whisperlocal runs the openai-whisper CLI on the local machine. The GPU is a
// single-slot resource: the engine never runs more than one transcription at a time.
package whisperlocal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/iaforte/cloud-transcript/pkg/engines/prompt"
	"github.com/iaforte/cloud-transcript/pkg/execx"
	"github.com/iaforte/cloud-transcript/pkg/logging"
	"github.com/iaforte/cloud-transcript/pkg/model"
	"github.com/iaforte/cloud-transcript/pkg/utils"
)

const (
	ModelTurbo   = "turbo"
	ModelMedium  = "medium"
	ModelLargeV3 = "large-v3"

	DeviceCUDA = "cuda"
	DeviceCPU  = "cpu"

	defaultWhisperPath = "whisper"
	defaultFFmpegPath  = "ffmpeg"
	sampleRate         = "16000"
)

var supportedModels = map[string]struct{}{
	ModelTurbo:   {},
	ModelMedium:  {},
	ModelLargeV3: {},
}

type Config struct {
	Model       string
	Device      string
	WhisperPath string
	FFmpegPath  string
	// WorkDir holds the per-call scratch directories; empty means os.TempDir().
	WorkDir string
}

type Option func(*Engine)

func WithRunner(runner execx.Runner) Option {
	return func(e *Engine) {
		if runner != nil {
			e.runner = runner
		}
	}
}

type Engine struct {
	cfg    Config
	runner execx.Runner
	gpu    chan struct{}
	calls  atomic.Int64
}

var _ model.Engine = (*Engine)(nil)

func New(cfg Config, opts ...Option) (*Engine, error) {
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Model == "" {
		cfg.Model = ModelTurbo
	}
	if _, ok := supportedModels[cfg.Model]; !ok {
		return nil, utils.WrapIfNotNil(fmt.Errorf("unsupported whisper model %q (turbo, medium, large-v3)", cfg.Model))
	}

	cfg.Device = strings.ToLower(strings.TrimSpace(cfg.Device))
	if cfg.Device == "" {
		cfg.Device = DeviceCUDA
	}
	if cfg.Device != DeviceCUDA && cfg.Device != DeviceCPU {
		return nil, utils.WrapIfNotNil(fmt.Errorf("unsupported device %q (cuda, cpu)", cfg.Device))
	}

	if strings.TrimSpace(cfg.WhisperPath) == "" {
		cfg.WhisperPath = defaultWhisperPath
	}
	if strings.TrimSpace(cfg.FFmpegPath) == "" {
		cfg.FFmpegPath = defaultFFmpegPath
	}

	e := &Engine{
		cfg:    cfg,
		runner: execx.NewRunner(),
		gpu:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e, nil
}

func (e *Engine) ID() model.EngineID {
	return model.EngineLocalGPU
}

// Calls is the number of transcriptions that reached the whisper CLI.
func (e *Engine) Calls() int64 {
	return e.calls.Load()
}

func (e *Engine) Transcribe(ctx context.Context, item model.AudioItem, languageHint string) (string, error) {
	log := logging.NewLogger(ctx).WithField("item", item.ID).WithField("engine", e.ID())
	if item.Format == model.AudioFormatUnknown || item.Format == "" {
		return "", model.NewEngineError(e.ID(), model.ErrorKindUnsupportedFormat,
			fmt.Errorf("cannot decode %q", item.FileName()))
	}

	release, err := e.acquireGPU(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	start := time.Now()
	meta := model.GenerationMetadata{
		model.MetadataKeyProvider: "whisper",
		model.MetadataKeyModel:    e.cfg.Model,
		model.MetadataKeyDevice:   e.cfg.Device,
	}
	defer func() {
		meta[model.MetadataKeyLatencyMs] = fmt.Sprint(time.Since(start).Milliseconds())
		log.Debugf("audio_transcription_metadata %v", meta)
	}()

	workDir, err := os.MkdirTemp(e.cfg.WorkDir, "whisper-*")
	if err != nil {
		return "", model.NewEngineError(e.ID(), model.ErrorKindUnknown, utils.WrapIfNotNil(err))
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.Warnf("remove scratch dir %s: %v", workDir, err)
		}
	}()

	input := item.SourcePath
	if item.Format != model.AudioFormatWAV {
		input, err = e.convertToWAV(ctx, item.SourcePath, workDir)
		if err != nil {
			return "", model.NewEngineError(e.ID(), classifyError(err, model.ErrorKindUnsupportedFormat), err)
		}
	}

	args := []string{
		input,
		"--model", e.cfg.Model,
		"--device", e.cfg.Device,
		"--output_format", "txt",
		"--output_dir", workDir,
		"--verbose", "False",
	}
	if e.cfg.Device == DeviceCPU {
		args = append(args, "--fp16", "False")
	}
	if language := prompt.LanguageCode(languageHint); language != "" {
		args = append(args, "--language", language)
	}

	log.Infof("audio_transcription_request model=%q device=%q", e.cfg.Model, e.cfg.Device)
	e.calls.Add(1)
	if _, err := e.runner.Run(ctx, e.cfg.WhisperPath, args...); err != nil {
		log.Errorf("error: %v", err)
		return "", model.NewEngineError(e.ID(), classifyError(err, model.ErrorKindUnknown), utils.WrapIfNotNil(err))
	}

	outputPath := filepath.Join(workDir, strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))+".txt")
	raw, err := os.ReadFile(outputPath)
	if err != nil {
		return "", model.NewEngineError(e.ID(), model.ErrorKindUnknown, utils.WrapIfNotNil(err, "reading whisper output"))
	}

	transcript := normalizeTranscript(string(raw))
	if transcript == "" {
		return "", model.NewEngineError(e.ID(), model.ErrorKindUnknown,
			utils.WrapIfNotNil(errors.New("transcription output is empty")))
	}
	return transcript, nil
}

// acquireGPU waits for the single GPU slot. Batch cancellation while waiting, or
// observed right after winning the slot, yields model.ErrBatchCancelled; an expired
// call context counts like an expired call.
func (e *Engine) acquireGPU(ctx context.Context) (func(), error) {
	batch := model.BatchContext(ctx)
	select {
	case e.gpu <- struct{}{}:
	case <-batch.Done():
		return nil, utils.WrapIfNotNil(model.ErrBatchCancelled, "waiting for gpu")
	case <-ctx.Done():
		return nil, model.NewEngineError(e.ID(), model.ErrorKindTimeout, utils.WrapIfNotNil(ctx.Err(), "waiting for gpu"))
	}

	release := func() { <-e.gpu }
	if batch.Err() != nil {
		release()
		return nil, utils.WrapIfNotNil(model.ErrBatchCancelled, "gpu acquired after cancellation")
	}
	return release, nil
}

// convertToWAV resamples src to 16 kHz mono PCM, the input whisper decodes fastest.
func (e *Engine) convertToWAV(ctx context.Context, src string, workDir string) (string, error) {
	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	dst := filepath.Join(workDir, base+".wav")
	_, err := e.runner.Run(ctx, e.cfg.FFmpegPath,
		"-nostdin", "-y", "-loglevel", "error",
		"-i", src,
		"-ar", sampleRate,
		"-ac", "1",
		"-c:a", "pcm_s16le",
		dst,
	)
	if err != nil {
		return "", utils.WrapIfNotNil(err, "ffmpeg conversion")
	}
	return dst, nil
}

// whisper writes one segment per line.
func normalizeTranscript(raw string) string {
	lines := strings.Split(raw, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, " ")
}

func classifyError(err error, fallback model.ErrorKind) model.ErrorKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return model.ErrorKindTimeout
	case execx.IsNotFound(err):
		return model.ErrorKindUnknown
	case utils.ContainsAnyErrorSubstring(err, "CUDA out of memory"):
		return model.ErrorKindUnknown
	}
	return fallback
}
