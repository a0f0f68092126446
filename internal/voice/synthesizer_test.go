package voice

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"
)

type mockSpeechClient struct {
	mu   sync.Mutex
	reqs []openai.CreateSpeechRequest
	err  error
}

func (m *mockSpeechClient) CreateSpeech(_ context.Context, req openai.CreateSpeechRequest) (openai.RawResponse, error) {
	m.mu.Lock()
	m.reqs = append(m.reqs, req)
	m.mu.Unlock()
	if m.err != nil {
		return openai.RawResponse{}, m.err
	}
	return openai.RawResponse{ReadCloser: io.NopCloser(strings.NewReader("ID3-audio:" + req.Input))}, nil
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// blockingPlayer plays until cancelled.
type blockingPlayer struct{ started chan struct{} }

func (p blockingPlayer) Play(ctx context.Context, _ io.Reader) error {
	close(p.started)
	<-ctx.Done()
	return ctx.Err()
}

func TestSynthesizer_SpeakPlaysAndEnds(t *testing.T) {
	client := &mockSpeechClient{}
	out := &syncBuffer{}
	s := NewSynthesizer(client, WriterPlayer{W: out}, "tts-1", "alloy")

	ended := make(chan struct{})
	require.NoError(t, s.Speak(Utterance{Text: "Paris", Rate: 1.25, Pitch: 1, Volume: 1}, func() { close(ended) }))

	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatal("utterance did not end")
	}
	require.Equal(t, "ID3-audio:Paris", out.String())
	require.Len(t, client.reqs, 1)
	require.Equal(t, openai.SpeechModel("tts-1"), client.reqs[0].Model)
	require.Equal(t, openai.SpeechVoice("alloy"), client.reqs[0].Voice)
	require.Equal(t, 1.25, client.reqs[0].Speed)
}

func TestSynthesizer_CancelStopsPlayback(t *testing.T) {
	started := make(chan struct{})
	s := NewSynthesizer(&mockSpeechClient{}, blockingPlayer{started: started}, "tts-1", "alloy")

	var ends int
	require.NoError(t, s.Speak(Utterance{Text: "long story"}, func() { ends++ }))
	<-started

	s.Cancel()
	require.Equal(t, 1, ends)

	// cancelling with nothing playing is harmless
	s.Cancel()
	require.Equal(t, 1, ends)
}

func TestSynthesizer_FailureStillEnds(t *testing.T) {
	s := NewSynthesizer(&mockSpeechClient{err: errors.New("quota")}, WriterPlayer{W: io.Discard}, "tts-1", "alloy")

	ended := make(chan struct{})
	require.NoError(t, s.Speak(Utterance{Text: "x"}, func() { close(ended) }))
	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatal("utterance did not end")
	}
}
