package huggingface

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/iaforte/cloud-transcript/pkg/model"
	"github.com/stretchr/testify/suite"
)

type ClientSuite struct {
	suite.Suite
	dir string
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.T().Setenv(envHFModel, "")
	s.T().Setenv(envHFBaseURL, "")
}

func (s *ClientSuite) writeItem(name string) model.AudioItem {
	path := filepath.Join(s.dir, name)
	s.Require().NoError(os.WriteFile(path, []byte("fake-audio-bytes"), 0o600))
	return model.AudioItem{ID: "item-1", SourcePath: path, Format: model.AudioFormatFromPath(path)}
}

func (s *ClientSuite) newEngine(handler http.HandlerFunc) *Engine {
	server := httptest.NewServer(handler)
	s.T().Cleanup(server.Close)
	engine, err := New(Config{Token: "hf_test_token", BaseURL: server.URL + "/"})
	s.Require().NoError(err)
	return engine
}

func (s *ClientSuite) TestResolveModelName() {
	s.Equal(defaultModelName, resolveModelName(Config{}))
	s.Equal("openai/whisper-small", resolveModelName(Config{Model: "openai/whisper-small"}))

	s.T().Setenv(envHFModel, "distil-whisper/distil-large-v3")
	s.Equal("distil-whisper/distil-large-v3", resolveModelName(Config{}))
}

func (s *ClientSuite) TestNewAPIClientRequiresAuthToken() {
	s.T().Setenv(envHFToken, "")
	client, err := newAPIClient(Config{})
	s.Nil(client)
	s.Require().Error(err)
	s.Contains(err.Error(), "auth token is required")
}

func (s *ClientSuite) TestNewAPIClientCustomBaseURL() {
	client, err := newAPIClient(Config{Token: "hf_test_token", BaseURL: "https://custom-hf.example.com/"})
	s.Require().NoError(err)
	s.Equal("https://custom-hf.example.com", client.baseURL)
	s.Equal("hf_test_token", client.apiKey)
}

func (s *ClientSuite) TestTranscribePostsRawAudio() {
	var gotPath, gotContentType, gotAuth string
	var gotBody []byte
	engine := s.newEngine(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"text":" tudo certo para amanhã "}`))
	})

	text, err := engine.Transcribe(context.Background(), s.writeItem("AUD-20240101-WA0002.opus"), "pt")
	s.Require().NoError(err)
	s.Equal("tudo certo para amanhã", text)
	s.Equal("/hf-inference/models/"+defaultModelName, gotPath)
	s.Equal("audio/ogg", gotContentType)
	s.Equal("Bearer hf_test_token", gotAuth)
	s.Equal("fake-audio-bytes", string(gotBody))
}

func (s *ClientSuite) TestTranscribeClassifiesStatusCodes() {
	cases := []struct {
		status int
		body   string
		kind   model.ErrorKind
	}{
		{http.StatusServiceUnavailable, `{"error":"Model openai/whisper-large-v3 is currently loading","estimated_time":20.0}`, model.ErrorKindRateLimited},
		{http.StatusTooManyRequests, `{"error":"Rate limit reached"}`, model.ErrorKindRateLimited},
		{http.StatusUnauthorized, `{"error":"Invalid credentials in Authorization header"}`, model.ErrorKindAuth},
		{http.StatusUnsupportedMediaType, `{"error":{"message":"unsupported content type"}}`, model.ErrorKindUnsupportedFormat},
		{http.StatusGatewayTimeout, ``, model.ErrorKindTimeout},
		{http.StatusInternalServerError, `oops`, model.ErrorKindUnknown},
	}

	for _, tc := range cases {
		engine := s.newEngine(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		})

		_, err := engine.Transcribe(context.Background(), s.writeItem("voice.wav"), "")
		s.Require().Error(err, tc.status)
		s.Equal(tc.kind, model.KindOf(err), tc.status)
	}
}

func (s *ClientSuite) TestTranscribeRejectsUnsupportedFormat() {
	engine := s.newEngine(func(w http.ResponseWriter, r *http.Request) {
		s.Fail("no request expected")
	})

	_, err := engine.Transcribe(context.Background(), s.writeItem("voice.aac"), "")
	s.Equal(model.ErrorKindUnsupportedFormat, model.KindOf(err))
}

func (s *ClientSuite) TestErrorMessageShapes() {
	s.Equal("loading (estimated_time=20s)", errorMessage([]byte(`{"error":"loading","estimated_time":20}`)))
	s.Equal("nested", errorMessage([]byte(`{"error":{"message":"nested"}}`)))
	s.Equal("plain text", errorMessage([]byte(`plain text`)))
	s.Equal("unknown huggingface error", errorMessage(nil))
}

func (s *ClientSuite) TestInitMetadata() {
	meta := initMetadata("test-model")
	s.Equal(providerName, meta[model.MetadataKeyProvider])
	s.Equal("test-model", meta[model.MetadataKeyModel])
}
