package voice

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/comigor/zapup-go/internal/logger"
)

// Recorder captures one audio clip, ending early when ctx is cancelled.
type Recorder interface {
	Record(ctx context.Context) ([]byte, error)
}

// Recognizer is a SpeechInput that records a clip and transcribes it.
type Recognizer struct {
	recorder    Recorder
	transcriber *Transcriber
	timeout     time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewRecognizer creates a Recognizer. timeout bounds the transcription call.
func NewRecognizer(recorder Recorder, transcriber *Transcriber, timeout time.Duration) *Recognizer {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Recognizer{recorder: recorder, transcriber: transcriber, timeout: timeout}
}

// Start records in the background. Stopping early still transcribes what was captured.
func (r *Recognizer) Start(onResult func(Recognition), onEnd func()) error {
	ctx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.cancel = cancel
	r.mu.Unlock()

	go func() {
		defer onEnd()
		defer cancel()

		clip, err := r.recorder.Record(ctx)
		if err != nil && ctx.Err() == nil {
			logger.L.Error("recording failed", "error", err)
			return
		}
		if len(clip) == 0 {
			return
		}

		tctx, tcancel := context.WithTimeout(context.Background(), r.timeout)
		defer tcancel()
		text, err := r.transcriber.Transcribe(tctx, "speech.wav", bytes.NewReader(clip))
		if err != nil {
			logger.L.Error("transcription failed", "error", err)
			return
		}
		onResult(Recognition{Alternatives: []Alternative{{Transcript: text, Confidence: 1}}})
	}()
	return nil
}

// Stop ends the recording; it does not wait for transcription.
func (r *Recognizer) Stop() error {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}
