// Package voice bridges speech input and output to a chat session.
package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/comigor/zapup-go/internal/config"
	"github.com/comigor/zapup-go/internal/conversation"
)

// Alternative is one candidate transcript of a recognition.
type Alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

// Recognition is a completed recognition result, best alternative first.
type Recognition struct {
	Alternatives []Alternative `json:"alternatives"`
}

// Top returns the best non-blank transcript.
func (r Recognition) Top() (string, bool) {
	if len(r.Alternatives) == 0 {
		return "", false
	}
	t := strings.TrimSpace(r.Alternatives[0].Transcript)
	return t, t != ""
}

// Utterance is one unit of synthesized speech.
type Utterance struct {
	Text   string
	Rate   float64
	Pitch  float64
	Volume float64
}

// SpeechInput is a speech recognizer. onResult is called once per completed
// recognition, onEnd when the recognizer stops listening for any reason.
type SpeechInput interface {
	Start(onResult func(Recognition), onEnd func()) error
	Stop() error
}

// SpeechOutput is a speech synthesizer playing one utterance at a time. onEnd
// is called when the utterance finishes or is cancelled.
type SpeechOutput interface {
	Speak(u Utterance, onEnd func()) error
	Cancel()
}

// Submitter receives recognized speech as if it had been typed.
type Submitter interface {
	SetDraft(text string)
	SubmitDraft(ctx context.Context) (conversation.Message, error)
}

// ErrOutOfRange is returned for rate or pitch outside [0.5, 2.0].
var ErrOutOfRange = errors.New("value out of range")

// ErrNoSpeechInput is returned by StartListening when no recognizer is configured.
var ErrNoSpeechInput = errors.New("speech recognition is not available")

// Settings are the session's voice preferences.
type Settings struct {
	Rate      float64 `json:"rate"`
	Pitch     float64 `json:"pitch"`
	Muted     bool    `json:"muted"`
	AutoSpeak bool    `json:"auto_speak"`
}

// DefaultSettings speaks at normal rate and pitch, unmuted.
func DefaultSettings() Settings {
	return Settings{Rate: 1, Pitch: 1}
}

// SettingsFromConfig copies the configured defaults.
func SettingsFromConfig(cfg config.VoiceConfig) Settings {
	return Settings{Rate: cfg.Rate, Pitch: cfg.Pitch, Muted: cfg.Muted, AutoSpeak: cfg.AutoSpeak}
}

// Validate checks rate and pitch bounds.
func (s Settings) Validate() error {
	if err := checkScale("rate", s.Rate); err != nil {
		return err
	}
	return checkScale("pitch", s.Pitch)
}

func checkScale(name string, v float64) error {
	if v < config.MinVoiceScale || v > config.MaxVoiceScale {
		return fmt.Errorf("%s %.2f: %w [%.1f, %.1f]", name, v, ErrOutOfRange, config.MinVoiceScale, config.MaxVoiceScale)
	}
	return nil
}
