package registry

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/iaforte/cloud-transcript/pkg/execx"
	"github.com/iaforte/cloud-transcript/pkg/model"
	"github.com/stretchr/testify/suite"
)

type fakeRunner struct {
	calls  int
	result execx.Result
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (execx.Result, error) {
	f.calls++
	res := f.result
	res.Command = name
	res.Args = args
	return res, f.err
}

type RegistrySuite struct {
	suite.Suite
	dir string
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) SetupTest() {
	s.dir = s.T().TempDir()
}

func (s *RegistrySuite) writeFile(name string, content []byte) string {
	path := filepath.Join(s.dir, name)
	s.Require().NoError(os.WriteFile(path, content, 0o644))
	return path
}

func (s *RegistrySuite) TestFingerprintDependsOnlyOnBytes() {
	r := New()
	a := s.writeFile("PTT-20240115-WA0001.opus", []byte("same voice note"))
	b := s.writeFile("renamed copy.opus", []byte("same voice note"))
	c := s.writeFile("other.opus", []byte("different voice note"))

	fpA, err := r.Fingerprint(a)
	s.Require().NoError(err)
	fpB, err := r.Fingerprint(b)
	s.Require().NoError(err)
	fpC, err := r.Fingerprint(c)
	s.Require().NoError(err)

	s.Equal(fpA, fpB)
	s.NotEqual(fpA, fpC)
	s.Len(fpA, 64)
}

func (s *RegistrySuite) TestFingerprintMissingFileReturnsError() {
	_, err := New().Fingerprint(filepath.Join(s.dir, "missing.opus"))
	s.Require().Error(err)
}

func (s *RegistrySuite) TestProbeDurationUsesFFprobeForCompressedAudio() {
	runner := &fakeRunner{result: execx.Result{Stdout: "12.480000\n"}}
	r := New(WithRunner(runner), WithFFprobePath("ffprobe-custom"))

	seconds, err := r.ProbeDuration(context.Background(), "voice.opus")
	s.Require().NoError(err)
	s.InDelta(12.48, seconds, 0.0001)
	s.Equal(1, runner.calls)
}

func (s *RegistrySuite) TestProbeDurationRejectsMissingDuration() {
	runner := &fakeRunner{result: execx.Result{Stdout: "N/A"}}
	_, err := New(WithRunner(runner)).ProbeDuration(context.Background(), "voice.mp3")
	s.Require().Error(err)
}

func (s *RegistrySuite) TestProbeDurationReadsWAVHeader() {
	runner := &fakeRunner{}
	path := s.writeFile("clip.wav", pcmWAV(16000, 16000))

	seconds, err := New(WithRunner(runner)).ProbeDuration(context.Background(), path)
	s.Require().NoError(err)
	s.InDelta(1.0, seconds, 0.01)
	s.Equal(0, runner.calls)
}

func (s *RegistrySuite) TestNewItemKeepsItemWhenProbeFails() {
	runner := &fakeRunner{err: errors.New("ffprobe: not found")}
	r := New(WithRunner(runner), WithIDGenerator(func() string { return "item-1" }))
	path := s.writeFile("PTT-20240115-WA0007.opus", []byte("opus bytes"))

	item, err := r.NewItem(context.Background(), path, 3)
	s.Require().NoError(err)
	s.Equal("item-1", item.ID)
	s.Equal(path, item.SourcePath)
	s.Equal(model.AudioFormatOpus, item.Format)
	s.Equal(3, item.UploadIndex)
	s.Equal(0.0, item.DurationSeconds)
	s.NotEmpty(item.Fingerprint)
	s.False(item.RecordedAt.IsZero())
}

func (s *RegistrySuite) TestNewItemSkipsProbeForUnknownFormat() {
	runner := &fakeRunner{}
	path := s.writeFile("notes.txt", []byte("not audio"))

	item, err := New(WithRunner(runner)).NewItem(context.Background(), path, 0)
	s.Require().NoError(err)
	s.Equal(model.AudioFormatUnknown, item.Format)
	s.Equal(0, runner.calls)
}

func (s *RegistrySuite) TestNewBatchAssignsUploadOrder() {
	runner := &fakeRunner{result: execx.Result{Stdout: "2.0"}}
	paths := []string{
		s.writeFile("c.opus", []byte("c")),
		s.writeFile("a.opus", []byte("a")),
	}

	items := New(WithRunner(runner)).NewBatch(context.Background(), paths)
	s.Require().Len(items, 2)
	s.Equal(0, items[0].UploadIndex)
	s.Equal(paths[0], items[0].SourcePath)
	s.Equal(1, items[1].UploadIndex)
	s.NotEqual(items[0].ID, items[1].ID)
}

func (s *RegistrySuite) TestNewBatchKeepsUnreadableFileWithoutFingerprint() {
	runner := &fakeRunner{result: execx.Result{Stdout: "1.0"}}
	gone := filepath.Join(s.dir, "PTT-20240312-WA0002.opus")
	paths := []string{s.writeFile("PTT-20240312-WA0001.opus", []byte("voice")), gone}

	items := New(WithRunner(runner)).NewBatch(context.Background(), paths)
	s.Require().Len(items, 2)
	s.NotEmpty(items[0].Fingerprint)

	s.Empty(items[1].Fingerprint)
	s.NotEmpty(items[1].ID)
	s.Equal(gone, items[1].SourcePath)
	s.Equal(1, items[1].UploadIndex)
	s.Equal(model.AudioFormatOpus, items[1].Format)
	s.False(items[1].RecordedAt.IsZero())
}

func (s *RegistrySuite) TestParseRecordedAt() {
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.Local)

	cases := []struct {
		name string
		want time.Time
	}{
		{"PTT-20240115-WA0003.opus", day.Add(3 * time.Second)},
		{"/uploads/AUD-20240115-WA0012.m4a", day.Add(12 * time.Second)},
		{"WhatsApp Audio 2024-01-15 at 10.30.45.ogg", time.Date(2024, 1, 15, 10, 30, 45, 0, time.Local)},
		{"WhatsApp Audio 2024-01-15 at 9.05.00 (1).ogg", time.Date(2024, 1, 15, 9, 5, 0, 0, time.Local)},
		{"voice.opus", time.Time{}},
		{"PTT-2024011-WA0003.opus", time.Time{}},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.True(tc.want.Equal(ParseRecordedAt(tc.name)), "got %v", ParseRecordedAt(tc.name))
		})
	}
}

func pcmWAV(sampleRate uint32, samples int) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	dataSize := uint32(samples * channels * bitsPerSample / 8)

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, dataSize+36)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, sampleRate)
	_ = binary.Write(&buf, binary.LittleEndian, sampleRate*channels*bitsPerSample/8)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels*bitsPerSample/8))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, dataSize)
	buf.Write(make([]byte, dataSize))
	return buf.Bytes()
}
