package logger

import (
	"bytes"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetLevel(t *testing.T) {
	t.Cleanup(func() { SetLevel("info") })

	SetLevel("debug")
	require.Equal(t, slog.LevelDebug, levelVar.Level())
	SetLevel("WARN")
	require.Equal(t, slog.LevelWarn, levelVar.Level())
	SetLevel("bogus")
	require.Equal(t, slog.LevelInfo, levelVar.Level())
}

func TestSetOutput_Text(t *testing.T) {
	t.Cleanup(func() { SetOutput(os.Stderr, "json") })

	var buf bytes.Buffer
	SetOutput(&buf, "text")
	L.Info("hello", "model", "gemma2-9b-it")
	require.Contains(t, buf.String(), "msg=hello")
	require.Contains(t, buf.String(), "model=gemma2-9b-it")
}
