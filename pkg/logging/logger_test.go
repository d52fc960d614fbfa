package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/suite"
)

type LoggerSuite struct {
	suite.Suite
}

func TestLoggerSuite(t *testing.T) {
	suite.Run(t, new(LoggerSuite))
}

func (s *LoggerSuite) TearDownTest() {
	SetLoggerFactory(nil)
	Configure(os.Stderr, "info", false)
}

func (s *LoggerSuite) TestConfigureJSONWithFields() {
	var out bytes.Buffer
	Configure(&out, "debug", true)

	NewLogger(context.Background()).WithField("item", "a.opus").WithField("engine", "openai").Debugf("attempt %d", 2)

	var entry map[string]any
	s.Require().NoError(json.Unmarshal(out.Bytes(), &entry))
	s.Equal("attempt 2", entry["msg"])
	s.Equal("debug", entry["level"])
	s.Equal("a.opus", entry["item"])
	s.Equal("openai", entry["engine"])
}

func (s *LoggerSuite) TestLevelFilters() {
	var out bytes.Buffer
	Configure(&out, "warn", false)

	log := NewLogger(context.Background())
	log.Info("hidden")
	log.Warn("shown")
	s.NotContains(out.String(), "hidden")
	s.Contains(out.String(), "shown")
}

func (s *LoggerSuite) TestUnknownLevelFallsBackToInfo() {
	var out bytes.Buffer
	Configure(&out, "chatty", false)

	log := NewLogger(context.Background())
	log.Debug("hidden")
	log.Info("shown")
	s.NotContains(out.String(), "hidden")
	s.Contains(out.String(), "shown")
}

type recordingFactory struct {
	created int
}

func (f *recordingFactory) CreateLogger(ctx context.Context) Logger {
	f.created++
	return newLogrusLogger(ctx)
}

func (s *LoggerSuite) TestFactoryOverridesDefault() {
	factory := &recordingFactory{}
	SetLoggerFactory(factory)

	NewLogger(context.Background())
	NewLogger(context.Background())
	s.Equal(2, factory.created)
	s.Same(factory, GetLoggerFactory())
}
