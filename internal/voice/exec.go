package voice

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"time"
)

// ErrNoCommand is returned when an audio command is not configured.
var ErrNoCommand = errors.New("no command configured")

// CommandPlayer pipes audio into an external player such as ffplay or mpv.
type CommandPlayer struct {
	Command []string
}

func (p CommandPlayer) Play(ctx context.Context, audio io.Reader) error {
	if len(p.Command) == 0 {
		return ErrNoCommand
	}
	cmd := exec.CommandContext(ctx, p.Command[0], p.Command[1:]...)
	cmd.Stdin = audio
	return cmd.Run()
}

// CommandRecorder captures audio from the stdout of an external recorder such
// as arecord. Cancelling the context interrupts the recorder and keeps what it
// wrote so far.
type CommandRecorder struct {
	Command []string
}

func (r CommandRecorder) Record(ctx context.Context) ([]byte, error) {
	if len(r.Command) == 0 {
		return nil, ErrNoCommand
	}
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, r.Command[0], r.Command[1:]...)
	cmd.Stdout = &out
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = 2 * time.Second

	err := cmd.Run()
	if err != nil && ctx.Err() == nil {
		return nil, err
	}
	return out.Bytes(), nil
}
