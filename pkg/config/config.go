// Package config loads the pipeline settings: defaults, then an optional .env file,
// then the YAML config file, then environment overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/hashicorp/go-multierror"
	"github.com/iaforte/cloud-transcript/pkg/engines/prompt"
	"github.com/iaforte/cloud-transcript/pkg/engines/whisperlocal"
	"github.com/iaforte/cloud-transcript/pkg/model"
	"github.com/iaforte/cloud-transcript/pkg/utils"
	"github.com/invopop/jsonschema"
	"github.com/joho/godotenv"
)

const (
	ModeLocalGPU = "local_gpu"
	ModeAPI      = "api"

	CacheBolt   = "bolt"
	CacheMemory = "memory"

	EnvConfigPath   = "CLOUD_TRANSCRIPT_CONFIG"
	EnvCachePath    = "CLOUD_TRANSCRIPT_CACHE"
	EnvMode         = "TRANSCRIPTION_MODE"
	EnvUseLocalGPU  = "USE_LOCAL_GPU"
	EnvWhisperModel = "WHISPER_MODEL"
	EnvWhisperDev   = "WHISPER_DEVICE"
	EnvLogLevel     = "LOG_LEVEL"
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvGeminiKey    = "GEMINI_KEY"
	EnvHFToken      = "HF_TOKEN"
)

type Config struct {
	// Mode picks the default engine order when Batch.EnginePriority is empty.
	Mode     string      `yaml:"mode" json:"mode,omitempty" jsonschema:"enum=local_gpu,enum=api"`
	LogLevel string      `yaml:"log_level" json:"log_level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	LogJSON  bool        `yaml:"log_json" json:"log_json,omitempty"`
	Cache    CacheConfig `yaml:"cache" json:"cache,omitempty"`
	Batch    BatchConfig `yaml:"batch" json:"batch,omitempty"`
	Engines  Engines     `yaml:"engines" json:"engines,omitempty"`
	// Keywords are domain terms passed as vocabulary hints to the cloud engines.
	Keywords    []prompt.Keyword `yaml:"keywords" json:"keywords,omitempty"`
	FFprobePath string           `yaml:"ffprobe_path" json:"ffprobe_path,omitempty"`
}

type CacheConfig struct {
	Backend string `yaml:"backend" json:"backend,omitempty" jsonschema:"enum=bolt,enum=memory"`
	Path    string `yaml:"path" json:"path,omitempty"`
}

// BatchConfig mirrors model.BatchConfig with durations written as "5m", "500ms".
type BatchConfig struct {
	EnginePriority []string `yaml:"engine_priority" json:"engine_priority,omitempty"`
	MaxRetries     int      `yaml:"max_retries" json:"max_retries" jsonschema:"minimum=0"`
	PerCallTimeout string   `yaml:"per_call_timeout" json:"per_call_timeout,omitempty"`
	MaxConcurrency int      `yaml:"max_concurrency" json:"max_concurrency" jsonschema:"minimum=1"`
	LanguageHint   string   `yaml:"language_hint" json:"language_hint,omitempty"`
	BackoffBase    string   `yaml:"backoff_base" json:"backoff_base,omitempty"`
	BackoffMax     string   `yaml:"backoff_max" json:"backoff_max,omitempty"`
}

type Engines struct {
	Local       LocalEngine       `yaml:"local" json:"local,omitempty"`
	OpenAI      APIEngine         `yaml:"openai" json:"openai,omitempty"`
	Gemini      APIEngine         `yaml:"gemini" json:"gemini,omitempty"`
	HuggingFace HuggingFaceEngine `yaml:"huggingface" json:"huggingface,omitempty"`
}

type LocalEngine struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	Model       string `yaml:"model" json:"model,omitempty" jsonschema:"enum=turbo,enum=medium,enum=large-v3"`
	Device      string `yaml:"device" json:"device,omitempty" jsonschema:"enum=cuda,enum=cpu"`
	WhisperPath string `yaml:"whisper_path" json:"whisper_path,omitempty"`
	FFmpegPath  string `yaml:"ffmpeg_path" json:"ffmpeg_path,omitempty"`
	WorkDir     string `yaml:"work_dir" json:"work_dir,omitempty"`
}

type APIEngine struct {
	APIKey  string `yaml:"api_key" json:"api_key,omitempty"`
	BaseURL string `yaml:"base_url" json:"base_url,omitempty"`
	Model   string `yaml:"model" json:"model,omitempty"`
	Prompt  string `yaml:"prompt" json:"prompt,omitempty"`
}

func (e APIEngine) Enabled() bool {
	return strings.TrimSpace(e.APIKey) != ""
}

type HuggingFaceEngine struct {
	Token   string `yaml:"token" json:"token,omitempty"`
	BaseURL string `yaml:"base_url" json:"base_url,omitempty"`
	Model   string `yaml:"model" json:"model,omitempty"`
}

func (e HuggingFaceEngine) Enabled() bool {
	return strings.TrimSpace(e.Token) != ""
}

func Default() *Config {
	defaults := model.DefaultBatchConfig()
	return &Config{
		Mode:     ModeLocalGPU,
		LogLevel: "info",
		Cache: CacheConfig{
			Backend: CacheBolt,
			Path:    defaultCachePath(),
		},
		Batch: BatchConfig{
			MaxRetries:     defaults.MaxRetries,
			PerCallTimeout: defaults.PerCallTimeout.String(),
			MaxConcurrency: defaults.MaxConcurrency,
			LanguageHint:   defaults.LanguageHint,
			BackoffBase:    defaults.BackoffBase.String(),
			BackoffMax:     defaults.BackoffMax.String(),
		},
		Engines: Engines{
			Local: LocalEngine{
				Enabled: true,
				Model:   whisperlocal.ModelTurbo,
				Device:  whisperlocal.DeviceCUDA,
			},
		},
	}
}

func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "cloud-transcript", "transcripts.db")
}

type LoadOptions struct {
	// Path of the YAML file; empty falls back to $CLOUD_TRANSCRIPT_CONFIG, then none.
	Path string
	// EnvFiles are loaded with godotenv before the environment is read. Missing
	// files are skipped. Variables already set in the process win.
	EnvFiles []string
	// Lookup replaces os.LookupEnv.
	Lookup func(key string) (string, bool)
}

func Load(opts LoadOptions) (*Config, error) {
	for _, envFile := range opts.EnvFiles {
		if err := loadEnvFile(envFile); err != nil {
			return nil, utils.WrapIfNotNil(err, envFile)
		}
	}

	lookup := opts.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}

	cfg := Default()
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		path, _ = lookup(EnvConfigPath)
		path = strings.TrimSpace(path)
	}
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, utils.WrapIfNotNil(err)
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, utils.WrapIfNotNil(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

func (c *Config) readFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("unable to read config file '%s': %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("unable to parse config file '%s': %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		value, ok := lookup(key)
		value = strings.TrimSpace(value)
		return value, ok && value != ""
	}

	if v, ok := get(EnvMode); ok {
		c.Mode = strings.ToLower(v)
	}
	if v, ok := get(EnvLogLevel); ok {
		c.LogLevel = strings.ToLower(v)
	}
	if v, ok := get(EnvCachePath); ok {
		c.Cache.Path = v
	}
	if v, ok := get(EnvWhisperModel); ok {
		c.Engines.Local.Model = v
	}
	if v, ok := get(EnvWhisperDev); ok {
		c.Engines.Local.Device = strings.ToLower(v)
	}
	if v, ok := get(EnvUseLocalGPU); ok {
		useGPU, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvUseLocalGPU, err)
		}
		if !useGPU {
			c.Engines.Local.Device = whisperlocal.DeviceCPU
		}
	}
	if v, ok := get(EnvOpenAIKey); ok {
		c.Engines.OpenAI.APIKey = v
	}
	if v, ok := get(EnvGeminiKey); ok {
		c.Engines.Gemini.APIKey = v
	}
	if v, ok := get(EnvHFToken); ok {
		c.Engines.HuggingFace.Token = v
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	switch c.Mode {
	case ModeLocalGPU, ModeAPI:
	default:
		result = multierror.Append(result, fmt.Errorf("mode must be %q or %q, got %q", ModeLocalGPU, ModeAPI, c.Mode))
	}
	switch c.Cache.Backend {
	case CacheBolt:
		if strings.TrimSpace(c.Cache.Path) == "" {
			result = multierror.Append(result, errors.New("cache.path is required for the bolt backend"))
		}
	case CacheMemory:
	default:
		result = multierror.Append(result, fmt.Errorf("cache.backend must be %q or %q, got %q", CacheBolt, CacheMemory, c.Cache.Backend))
	}

	for _, id := range c.Batch.EnginePriority {
		if !knownEngine(model.EngineID(id)) {
			result = multierror.Append(result, fmt.Errorf("batch.engine_priority: unknown engine %q", id))
		}
	}
	if c.Batch.MaxRetries < 0 {
		result = multierror.Append(result, errors.New("batch.max_retries must be >= 0"))
	}
	if c.Batch.MaxConcurrency < 1 {
		result = multierror.Append(result, errors.New("batch.max_concurrency must be >= 1"))
	}
	if d, err := time.ParseDuration(c.Batch.PerCallTimeout); err != nil {
		result = multierror.Append(result, fmt.Errorf("batch.per_call_timeout: %w", err))
	} else if d <= 0 {
		result = multierror.Append(result, errors.New("batch.per_call_timeout must be > 0"))
	}
	backoffs := []struct{ name, raw string }{
		{"batch.backoff_base", c.Batch.BackoffBase},
		{"batch.backoff_max", c.Batch.BackoffMax},
	}
	for _, backoff := range backoffs {
		if d, err := time.ParseDuration(backoff.raw); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", backoff.name, err))
		} else if d < 0 {
			result = multierror.Append(result, fmt.Errorf("%s must not be negative", backoff.name))
		}
	}

	if c.Engines.Local.Enabled {
		if _, err := whisperlocal.New(whisperlocal.Config{Model: c.Engines.Local.Model, Device: c.Engines.Local.Device}); err != nil {
			result = multierror.Append(result, fmt.Errorf("engines.local: %w", err))
		}
	}
	if len(c.EnabledEngines()) == 0 {
		result = multierror.Append(result, errors.New("no engine is enabled: enable engines.local or set an API key"))
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func knownEngine(id model.EngineID) bool {
	switch id {
	case model.EngineLocalGPU, model.EngineOpenAI, model.EngineGemini, model.EngineHuggingFace:
		return true
	}
	return false
}

// EnabledEngines lists the engines that have what they need to run.
func (c *Config) EnabledEngines() []model.EngineID {
	var ids []model.EngineID
	if c.Engines.Local.Enabled {
		ids = append(ids, model.EngineLocalGPU)
	}
	if c.Engines.OpenAI.Enabled() {
		ids = append(ids, model.EngineOpenAI)
	}
	if c.Engines.Gemini.Enabled() {
		ids = append(ids, model.EngineGemini)
	}
	if c.Engines.HuggingFace.Enabled() {
		ids = append(ids, model.EngineHuggingFace)
	}
	return ids
}

// EnginePriority is the explicit batch.engine_priority, or the enabled engines in the
// order the mode prefers.
func (c *Config) EnginePriority() []model.EngineID {
	if len(c.Batch.EnginePriority) > 0 {
		ids := make([]model.EngineID, len(c.Batch.EnginePriority))
		for i, id := range c.Batch.EnginePriority {
			ids[i] = model.EngineID(id)
		}
		return ids
	}

	order := []model.EngineID{model.EngineLocalGPU, model.EngineOpenAI, model.EngineGemini, model.EngineHuggingFace}
	if c.Mode == ModeAPI {
		order = []model.EngineID{model.EngineOpenAI, model.EngineGemini, model.EngineHuggingFace, model.EngineLocalGPU}
	}
	enabled := make(map[model.EngineID]struct{})
	for _, id := range c.EnabledEngines() {
		enabled[id] = struct{}{}
	}
	ids := make([]model.EngineID, 0, len(order))
	for _, id := range order {
		if _, ok := enabled[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// ToBatchConfig converts the validated settings into orchestrator options.
func (c *Config) ToBatchConfig() (model.BatchConfig, error) {
	perCall, err := time.ParseDuration(c.Batch.PerCallTimeout)
	if err != nil {
		return model.BatchConfig{}, utils.WrapIfNotNil(err)
	}
	base, err := time.ParseDuration(c.Batch.BackoffBase)
	if err != nil {
		return model.BatchConfig{}, utils.WrapIfNotNil(err)
	}
	maxBackoff, err := time.ParseDuration(c.Batch.BackoffMax)
	if err != nil {
		return model.BatchConfig{}, utils.WrapIfNotNil(err)
	}

	return model.ResolveBatchConfig(
		model.WithEnginePriority(c.EnginePriority()...),
		model.WithMaxRetries(c.Batch.MaxRetries),
		model.WithPerCallTimeout(perCall),
		model.WithMaxConcurrency(c.Batch.MaxConcurrency),
		model.WithLanguageHint(c.Batch.LanguageHint),
		model.WithBackoff(base, maxBackoff),
	), nil
}

// Redacted returns a copy safe to log.
func (c *Config) Redacted() Config {
	out := *c
	out.Engines.OpenAI.APIKey = redact(out.Engines.OpenAI.APIKey)
	out.Engines.Gemini.APIKey = redact(out.Engines.Gemini.APIKey)
	out.Engines.HuggingFace.Token = redact(out.Engines.HuggingFace.Token)
	return out
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "***"
}

// Schema is the JSON schema of the config file.
func Schema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schema := reflector.Reflect(&Config{})
	b, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}
	return b, nil
}
