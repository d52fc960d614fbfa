package model

import (
	"path/filepath"
	"strings"
	"time"
)

// AudioFormat is the container/codec tag of an uploaded voice message.
type AudioFormat string

const (
	AudioFormatOpus    AudioFormat = "opus"
	AudioFormatOGG     AudioFormat = "ogg"
	AudioFormatMP3     AudioFormat = "mp3"
	AudioFormatWAV     AudioFormat = "wav"
	AudioFormatM4A     AudioFormat = "m4a"
	AudioFormatAAC     AudioFormat = "aac"
	AudioFormatFLAC    AudioFormat = "flac"
	AudioFormatWebM    AudioFormat = "webm"
	AudioFormatUnknown AudioFormat = "unknown"
)

var knownAudioFormats = map[string]AudioFormat{
	".opus": AudioFormatOpus,
	".ogg":  AudioFormatOGG,
	".oga":  AudioFormatOGG,
	".mp3":  AudioFormatMP3,
	".wav":  AudioFormatWAV,
	".m4a":  AudioFormatM4A,
	".mp4":  AudioFormatM4A,
	".aac":  AudioFormatAAC,
	".flac": AudioFormatFLAC,
	".webm": AudioFormatWebM,
}

// AudioFormatFromPath maps a file extension onto a known format tag.
func AudioFormatFromPath(path string) AudioFormat {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(path)))
	if format, ok := knownAudioFormats[ext]; ok {
		return format
	}
	return AudioFormatUnknown
}

// AudioItem is one voice message of a batch. It is created by the registry and never
// mutated afterwards; the pipeline only reads SourcePath.
type AudioItem struct {
	ID              string      `json:"id"`
	SourcePath      string      `json:"source_path"`
	Format          AudioFormat `json:"format"`
	DurationSeconds float64     `json:"duration_seconds"`
	Fingerprint     string      `json:"fingerprint"`
	UploadIndex     int         `json:"upload_index"`
	// RecordedAt is parsed from WhatsApp file names; zero when the name carries no timestamp.
	RecordedAt time.Time `json:"recorded_at,omitempty"`
}

func (i AudioItem) FileName() string {
	return filepath.Base(i.SourcePath)
}

// TranscriptionRequest is the per-item unit of work handed to the orchestrator.
type TranscriptionRequest struct {
	Item           AudioItem
	EnginePriority []EngineID
	LanguageHint   string
}
