package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/iaforte/cloud-transcript/pkg/model"
	"github.com/stretchr/testify/suite"
)

type ConfigSuite struct {
	suite.Suite
	dir string
	env map[string]string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

func (s *ConfigSuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.env = map[string]string{}
}

func (s *ConfigSuite) lookup(key string) (string, bool) {
	value, ok := s.env[key]
	return value, ok
}

func (s *ConfigSuite) writeFile(name, content string) string {
	path := filepath.Join(s.dir, name)
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o600))
	return path
}

func (s *ConfigSuite) load(path string) (*Config, error) {
	return Load(LoadOptions{Path: path, Lookup: s.lookup})
}

func (s *ConfigSuite) TestDefaults() {
	cfg, err := s.load("")
	s.Require().NoError(err)

	s.Equal(ModeLocalGPU, cfg.Mode)
	s.Equal(CacheBolt, cfg.Cache.Backend)
	s.NotEmpty(cfg.Cache.Path)
	s.Equal([]model.EngineID{model.EngineLocalGPU}, cfg.EnginePriority())

	batch, err := cfg.ToBatchConfig()
	s.Require().NoError(err)
	s.Equal(model.DefaultMaxRetries, batch.MaxRetries)
	s.Equal(model.DefaultPerCallTimeout, batch.PerCallTimeout)
	s.Equal(model.DefaultMaxConcurrency, batch.MaxConcurrency)
	s.Equal("pt", batch.LanguageHint)
	s.Equal(model.DefaultBackoffBase, batch.BackoffBase)
}

func (s *ConfigSuite) TestYAMLFileOverridesDefaults() {
	path := s.writeFile("config.yaml", `
mode: api
log_level: debug
cache:
  backend: memory
batch:
  engine_priority: [gemini, openai]
  max_retries: 4
  per_call_timeout: 90s
  max_concurrency: 3
  language_hint: pt-BR
  backoff_base: 1s
  backoff_max: 30s
engines:
  local:
    enabled: false
  openai:
    api_key: sk-file
    model: gpt-4o-mini-transcribe
  gemini:
    api_key: gm-file
keywords:
  - word: n8n
    common_mistypes: ["n oito n"]
`)
	cfg, err := s.load(path)
	s.Require().NoError(err)

	s.Equal(ModeAPI, cfg.Mode)
	s.Equal(CacheMemory, cfg.Cache.Backend)
	s.False(cfg.Engines.Local.Enabled)
	s.Equal("gpt-4o-mini-transcribe", cfg.Engines.OpenAI.Model)
	s.Require().Len(cfg.Keywords, 1)
	s.Equal([]string{"n oito n"}, cfg.Keywords[0].CommonMistypes)

	batch, err := cfg.ToBatchConfig()
	s.Require().NoError(err)
	s.Equal([]model.EngineID{model.EngineGemini, model.EngineOpenAI}, batch.EnginePriority)
	s.Equal(4, batch.MaxRetries)
	s.Equal(90*time.Second, batch.PerCallTimeout)
	s.Equal(3, batch.MaxConcurrency)
	s.Equal("pt-BR", batch.LanguageHint)
	s.Equal(time.Second, batch.BackoffBase)
	s.Equal(30*time.Second, batch.BackoffMax)
}

func (s *ConfigSuite) TestEnvironmentOverridesFile() {
	path := s.writeFile("config.yaml", "engines:\n  openai:\n    api_key: sk-file\n")
	s.env[EnvOpenAIKey] = "sk-env"
	s.env[EnvHFToken] = "hf-env"
	s.env[EnvWhisperModel] = "large-v3"
	s.env[EnvUseLocalGPU] = "false"
	s.env[EnvMode] = "API"
	s.env[EnvCachePath] = filepath.Join(s.dir, "cache.db")

	cfg, err := s.load(path)
	s.Require().NoError(err)
	s.Equal("sk-env", cfg.Engines.OpenAI.APIKey)
	s.Equal("hf-env", cfg.Engines.HuggingFace.Token)
	s.Equal("large-v3", cfg.Engines.Local.Model)
	s.Equal("cpu", cfg.Engines.Local.Device)
	s.Equal(filepath.Join(s.dir, "cache.db"), cfg.Cache.Path)
	s.Equal([]model.EngineID{model.EngineOpenAI, model.EngineHuggingFace, model.EngineLocalGPU}, cfg.EnginePriority())
}

func (s *ConfigSuite) TestLocalGPUModeKeepsLocalFirst() {
	s.env[EnvGeminiKey] = "gm"
	s.env[EnvOpenAIKey] = "sk"
	cfg, err := s.load("")
	s.Require().NoError(err)
	s.Equal([]model.EngineID{model.EngineLocalGPU, model.EngineOpenAI, model.EngineGemini}, cfg.EnginePriority())
}

func (s *ConfigSuite) TestConfigPathFromEnvironment() {
	path := s.writeFile("from-env.yaml", "mode: api\nengines:\n  gemini:\n    api_key: gm\n")
	s.env[EnvConfigPath] = path
	cfg, err := s.load("")
	s.Require().NoError(err)
	s.Equal(ModeAPI, cfg.Mode)
}

func (s *ConfigSuite) TestValidateCollectsEveryProblem() {
	path := s.writeFile("bad.yaml", `
mode: cloud
cache:
  backend: redis
batch:
  engine_priority: [whisper-cloud]
  max_retries: -1
  per_call_timeout: soon
  max_concurrency: 0
engines:
  local:
    model: tiny
`)
	_, err := s.load(path)
	s.Require().Error(err)
	for _, fragment := range []string{"mode", "cache.backend", "whisper-cloud", "max_retries", "per_call_timeout", "max_concurrency", "engines.local"} {
		s.Contains(err.Error(), fragment)
	}
}

func (s *ConfigSuite) TestBackoffErrorsKeepFieldOrder() {
	cfg := Default()
	cfg.Batch.BackoffBase = "later"
	cfg.Batch.BackoffMax = "-1s"

	first := cfg.Validate()
	s.Require().Error(first)
	message := first.Error()
	base := strings.Index(message, "batch.backoff_base")
	maxIdx := strings.Index(message, "batch.backoff_max must not be negative")
	s.Require().NotEqual(-1, base)
	s.Require().NotEqual(-1, maxIdx)
	s.Less(base, maxIdx)

	for i := 0; i < 20; i++ {
		s.Equal(message, cfg.Validate().Error())
	}
}

func (s *ConfigSuite) TestNoEngineEnabled() {
	path := s.writeFile("none.yaml", "engines:\n  local:\n    enabled: false\n")
	_, err := s.load(path)
	s.Require().Error(err)
	s.Contains(err.Error(), "no engine is enabled")
}

func (s *ConfigSuite) TestInvalidUseLocalGPU() {
	s.env[EnvUseLocalGPU] = "maybe"
	_, err := s.load("")
	s.Require().Error(err)
	s.Contains(err.Error(), EnvUseLocalGPU)
}

func (s *ConfigSuite) TestMissingFileIsAnError() {
	_, err := s.load(filepath.Join(s.dir, "missing.yaml"))
	s.Error(err)
}

func (s *ConfigSuite) TestEnvFileIsLoaded() {
	envFile := s.writeFile(".env", "CLOUD_TRANSCRIPT_TEST_ONLY=from-dotenv\n")
	s.T().Setenv("CLOUD_TRANSCRIPT_TEST_ONLY", "")
	s.Require().NoError(os.Unsetenv("CLOUD_TRANSCRIPT_TEST_ONLY"))

	_, err := Load(LoadOptions{EnvFiles: []string{envFile, filepath.Join(s.dir, "absent.env")}, Lookup: s.lookup})
	s.Require().NoError(err)
	s.Equal("from-dotenv", os.Getenv("CLOUD_TRANSCRIPT_TEST_ONLY"))
}

func (s *ConfigSuite) TestRedactedHidesSecrets() {
	cfg := Default()
	cfg.Engines.OpenAI.APIKey = "sk-secret"
	cfg.Engines.HuggingFace.Token = "hf-secret"

	redacted := cfg.Redacted()
	s.Equal("***", redacted.Engines.OpenAI.APIKey)
	s.Equal("***", redacted.Engines.HuggingFace.Token)
	s.Empty(redacted.Engines.Gemini.APIKey)
	s.Equal("sk-secret", cfg.Engines.OpenAI.APIKey)
}

func (s *ConfigSuite) TestSchema() {
	raw, err := Schema()
	s.Require().NoError(err)

	var schema map[string]any
	s.Require().NoError(json.Unmarshal(raw, &schema))
	properties, ok := schema["properties"].(map[string]any)
	s.Require().True(ok)
	for _, key := range []string{"mode", "cache", "batch", "engines", "keywords"} {
		s.Contains(properties, key)
	}
	s.Equal(false, schema["additionalProperties"])
}
