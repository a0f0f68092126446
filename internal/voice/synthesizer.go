package voice

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/zapup-go/internal/llm"
	"github.com/comigor/zapup-go/internal/logger"
)

// Player plays an audio stream until it ends or ctx is cancelled.
type Player interface {
	Play(ctx context.Context, audio io.Reader) error
}

// Synthesizer is a SpeechOutput backed by the text-to-speech endpoint.
// Pitch and volume have no equivalent there and are ignored.
type Synthesizer struct {
	client llm.SpeechClient
	player Player
	model  string
	voice  string

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSynthesizer creates a Synthesizer using model and voice, e.g. "tts-1" and "alloy".
func NewSynthesizer(client llm.SpeechClient, player Player, model, voice string) *Synthesizer {
	return &Synthesizer{client: client, player: player, model: model, voice: voice}
}

// Speak starts playback in the background, cancelling any previous utterance.
func (s *Synthesizer) Speak(u Utterance, onEnd func()) error {
	s.Cancel()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.mu.Lock()
	s.cancel, s.done = cancel, done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			if onEnd != nil {
				onEnd()
			}
		}()
		defer cancel()

		audio, err := s.Synthesize(ctx, u)
		if err != nil {
			if ctx.Err() == nil {
				logger.L.Error("speech synthesis failed", "error", err)
			}
			return
		}
		defer audio.Close()

		if err := s.player.Play(ctx, audio); err != nil && ctx.Err() == nil {
			logger.L.Error("speech playback failed", "error", err)
		}
	}()
	return nil
}

// Cancel stops the current utterance and waits until its end callback ran.
func (s *Synthesizer) Cancel() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Synthesize returns the encoded audio for u. The caller closes it.
func (s *Synthesizer) Synthesize(ctx context.Context, u Utterance) (io.ReadCloser, error) {
	speed := u.Rate
	if speed == 0 {
		speed = 1
	}
	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.model),
		Input:          u.Text,
		Voice:          openai.SpeechVoice(s.voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
		Speed:          speed,
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// WriterPlayer "plays" audio by copying it to W.
type WriterPlayer struct {
	W io.Writer
}

func (p WriterPlayer) Play(ctx context.Context, audio io.Reader) error {
	_, err := io.Copy(p.W, &ctxReader{ctx: ctx, r: audio})
	return err
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// Transcriber turns a recorded clip into text with the transcription endpoint.
type Transcriber struct {
	client llm.TranscriptionClient
	model  string
}

// NewTranscriber creates a Transcriber for model, e.g. "whisper-1".
func NewTranscriber(client llm.TranscriptionClient, model string) *Transcriber {
	return &Transcriber{client: client, model: model}
}

// Transcribe uploads audio under name; the extension tells the endpoint the format.
func (t *Transcriber) Transcribe(ctx context.Context, name string, audio io.Reader) (string, error) {
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: name,
		Reader:   audio,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}
