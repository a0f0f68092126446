package voice

import (
	"context"
	"sync"
	"time"

	"github.com/comigor/zapup-go/internal/conversation"
	"github.com/comigor/zapup-go/internal/logger"
)

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithToggleDebounce sets the window in which a second ToggleSpeak restarts
// speech instead of stopping it.
func WithToggleDebounce(d time.Duration) BridgeOption {
	return func(b *Bridge) { b.debounce = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) BridgeOption {
	return func(b *Bridge) { b.now = now }
}

// Bridge wires speech input and output to one session. At most one utterance
// is active; a new one always cancels the previous one.
type Bridge struct {
	in        SpeechInput
	out       SpeechOutput
	submitter Submitter
	debounce  time.Duration
	now       func() time.Time

	// speakMu serializes every call into out; mu guards the fields below.
	speakMu sync.Mutex

	mu         sync.Mutex
	settings   Settings
	listening  bool
	speaking   bool
	generation uint64
	lastSpeak  time.Time
}

// NewBridge creates a Bridge. in or out may be nil when the capability is missing.
func NewBridge(in SpeechInput, out SpeechOutput, submitter Submitter, settings Settings, opts ...BridgeOption) (*Bridge, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	b := &Bridge{
		in:        in,
		out:       out,
		submitter: submitter,
		settings:  settings,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// StartListening turns the microphone on. The first completed recognition is
// submitted to the session with ctx.
func (b *Bridge) StartListening(ctx context.Context) error {
	if b.in == nil {
		return ErrNoSpeechInput
	}
	b.mu.Lock()
	if b.listening {
		b.mu.Unlock()
		return nil
	}
	b.listening = true
	b.mu.Unlock()

	err := b.in.Start(
		func(r Recognition) { b.handleRecognition(ctx, r) },
		b.handleListeningEnd,
	)
	if err != nil {
		b.handleListeningEnd()
		return err
	}
	return nil
}

// StopListening turns the microphone off.
func (b *Bridge) StopListening() error {
	b.mu.Lock()
	if !b.listening {
		b.mu.Unlock()
		return nil
	}
	b.listening = false
	b.mu.Unlock()
	return b.in.Stop()
}

// Listening reports whether the microphone is on.
func (b *Bridge) Listening() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listening
}

func (b *Bridge) handleListeningEnd() {
	b.mu.Lock()
	b.listening = false
	b.mu.Unlock()
}

func (b *Bridge) handleRecognition(ctx context.Context, r Recognition) {
	transcript, ok := r.Top()
	if !ok {
		return
	}
	if err := b.StopListening(); err != nil {
		logger.L.Warn("failed to stop recognizer", "error", err)
	}
	if b.submitter == nil {
		return
	}

	b.submitter.SetDraft(transcript)
	msg, err := b.submitter.SubmitDraft(ctx)
	if err != nil {
		logger.L.Warn("voice submission rejected", "error", err)
		return
	}
	if b.Settings().AutoSpeak && msg.Role == conversation.RoleAssistant {
		if err := b.Speak(msg.Text); err != nil {
			logger.L.Warn("auto speak failed", "error", err)
		}
	}
}

// Speak cancels the current utterance and reads text aloud. It does nothing when muted.
func (b *Bridge) Speak(text string) error {
	b.speakMu.Lock()
	defer b.speakMu.Unlock()
	return b.speak(text)
}

// ToggleSpeak stops speech when speaking, otherwise speaks text. A toggle
// within the debounce window of the last start restarts speech instead, so a
// double toggle from idle leaves exactly one utterance playing.
func (b *Bridge) ToggleSpeak(text string) error {
	b.speakMu.Lock()
	defer b.speakMu.Unlock()

	b.mu.Lock()
	speaking := b.speaking
	bounced := speaking && b.debounce > 0 && b.now().Sub(b.lastSpeak) < b.debounce
	b.mu.Unlock()

	if speaking && !bounced {
		b.cancel()
		return nil
	}
	return b.speak(text)
}

// SetMuted updates the mute flag and stops any utterance in progress.
func (b *Bridge) SetMuted(muted bool) {
	b.speakMu.Lock()
	defer b.speakMu.Unlock()

	b.mu.Lock()
	b.settings.Muted = muted
	speaking := b.speaking
	b.mu.Unlock()

	if speaking {
		b.cancel()
	}
}

// SetRate sets the speech rate for the next utterance.
func (b *Bridge) SetRate(rate float64) error {
	if err := checkScale("rate", rate); err != nil {
		return err
	}
	b.mu.Lock()
	b.settings.Rate = rate
	b.mu.Unlock()
	return nil
}

// SetPitch sets the speech pitch for the next utterance.
func (b *Bridge) SetPitch(pitch float64) error {
	if err := checkScale("pitch", pitch); err != nil {
		return err
	}
	b.mu.Lock()
	b.settings.Pitch = pitch
	b.mu.Unlock()
	return nil
}

// SetAutoSpeak toggles reading replies to voice queries aloud.
func (b *Bridge) SetAutoSpeak(on bool) {
	b.mu.Lock()
	b.settings.AutoSpeak = on
	b.mu.Unlock()
}

// Speaking reports whether an utterance is playing.
func (b *Bridge) Speaking() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.speaking
}

// Settings returns a copy of the current settings.
func (b *Bridge) Settings() Settings {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.settings
}

// speak and cancel require speakMu.
func (b *Bridge) speak(text string) error {
	b.mu.Lock()
	if b.settings.Muted || b.out == nil {
		b.mu.Unlock()
		return nil
	}
	// a late end notification from the cancelled utterance carries the old generation
	b.generation++
	gen := b.generation
	u := Utterance{Text: text, Rate: b.settings.Rate, Pitch: b.settings.Pitch, Volume: 1.0}
	b.speaking = true
	b.lastSpeak = b.now()
	b.mu.Unlock()

	b.out.Cancel()
	if err := b.out.Speak(u, func() { b.finished(gen) }); err != nil {
		b.finished(gen)
		return err
	}
	return nil
}

func (b *Bridge) cancel() {
	b.mu.Lock()
	b.generation++
	b.speaking = false
	b.mu.Unlock()
	if b.out != nil {
		b.out.Cancel()
	}
}

func (b *Bridge) finished(gen uint64) {
	b.mu.Lock()
	if gen == b.generation {
		b.speaking = false
	}
	b.mu.Unlock()
}
