package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/iaforte/cloud-transcript/pkg/execx"
	"github.com/iaforte/cloud-transcript/pkg/logging"
	"github.com/iaforte/cloud-transcript/pkg/model"
	"github.com/iaforte/cloud-transcript/pkg/utils"
	wav "github.com/youpy/go-wav"
)

const defaultFFprobePath = "ffprobe"

// Registry normalizes uploaded audio files into AudioItems.
type Registry struct {
	ffprobePath string
	runner      execx.Runner
	newID       func() string
}

type Option func(*Registry)

func WithFFprobePath(path string) Option {
	return func(r *Registry) {
		if strings.TrimSpace(path) != "" {
			r.ffprobePath = strings.TrimSpace(path)
		}
	}
}

func WithRunner(runner execx.Runner) Option {
	return func(r *Registry) {
		if runner != nil {
			r.runner = runner
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(r *Registry) {
		if newID != nil {
			r.newID = newID
		}
	}
}

func New(opts ...Option) *Registry {
	r := &Registry{
		ffprobePath: defaultFFprobePath,
		runner:      execx.NewRunner(),
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fingerprint returns the hex sha256 digest of the file bytes.
func (r *Registry) Fingerprint(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", utils.WrapIfNotNil(err)
	}
	defer func() {
		_ = file.Close()
	}()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", utils.WrapIfNotNil(err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// ProbeDuration returns the audio duration in seconds. WAV files are read directly;
// every other container is probed with ffprobe.
func (r *Registry) ProbeDuration(ctx context.Context, path string) (float64, error) {
	if model.AudioFormatFromPath(path) == model.AudioFormatWAV {
		return probeWAVDuration(path)
	}
	return r.probeWithFFprobe(ctx, path)
}

func probeWAVDuration(path string) (float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, utils.WrapIfNotNil(err)
	}
	defer func() {
		_ = file.Close()
	}()

	duration, err := wav.NewReader(file).Duration()
	if err != nil {
		return 0, utils.WrapIfNotNil(err)
	}
	return duration.Seconds(), nil
}

func (r *Registry) probeWithFFprobe(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
	result, err := r.runner.Run(ctx, r.ffprobePath, args...)
	if err != nil {
		return 0, utils.WrapIfNotNil(err, strings.TrimSpace(result.Stderr))
	}

	raw := strings.TrimSpace(result.Stdout)
	if raw == "" || raw == "N/A" {
		return 0, utils.WrapIfNotNil(errors.New("ffprobe reported no duration"))
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, utils.WrapIfNotNil(err)
	}
	if seconds < 0 {
		seconds = 0
	}
	return seconds, nil
}

// NewItem builds the immutable AudioItem for one uploaded file. The file must be
// readable; an unprobeable duration is logged and left at 0.
func (r *Registry) NewItem(ctx context.Context, path string, uploadIndex int) (model.AudioItem, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return model.AudioItem{}, utils.WrapIfNotNil(errors.New("audio path is required"))
	}

	fingerprint, err := r.Fingerprint(path)
	if err != nil {
		return model.AudioItem{}, utils.WrapIfNotNil(err)
	}

	item := model.AudioItem{
		ID:          r.newID(),
		SourcePath:  path,
		Format:      model.AudioFormatFromPath(path),
		Fingerprint: fingerprint,
		UploadIndex: uploadIndex,
		RecordedAt:  ParseRecordedAt(path),
	}

	log := logging.NewLogger(ctx).WithField("item", item.FileName())
	if item.Format == model.AudioFormatUnknown {
		log.Warnf("unrecognized audio format; engines may reject it")
		return item, nil
	}

	duration, err := r.ProbeDuration(ctx, path)
	if err != nil {
		log.Warnf("duration probe failed: %v", err)
		return item, nil
	}
	item.DurationSeconds = duration
	return item, nil
}

// NewBatch registers paths in upload order. A path that cannot be registered is kept
// without a fingerprint so it fails on its own when the batch runs.
func (r *Registry) NewBatch(ctx context.Context, paths []string) []model.AudioItem {
	items := make([]model.AudioItem, 0, len(paths))
	for i, path := range paths {
		item, err := r.NewItem(ctx, path, i)
		if err != nil {
			logging.NewLogger(ctx).WithField("path", path).Warnf("registration failed: %v", err)
			path = strings.TrimSpace(path)
			item = model.AudioItem{
				ID:          r.newID(),
				SourcePath:  path,
				Format:      model.AudioFormatFromPath(path),
				UploadIndex: i,
				RecordedAt:  ParseRecordedAt(path),
			}
		}
		items = append(items, item)
	}
	return items
}
