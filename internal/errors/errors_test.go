package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSentinelMatching(t *testing.T) {
	wrapped := fmt.Errorf("send: %w", NewRemoteError(401, "Invalid API Key"))
	require.ErrorIs(t, wrapped, ErrRemote)
	require.NotErrorIs(t, wrapped, ErrNetwork)

	require.ErrorIs(t, NewNetworkError(errors.New("dial tcp: refused")), ErrNetwork)
	require.ErrorIs(t, NewUnknownError(errors.New("boom")), ErrUnknown)
	require.ErrorIs(t, NewOCRError("scan.png", errors.New("no engine")), ErrAttachment)
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"remote with message", NewRemoteError(400, "model not found"), "Error: model not found"},
		{"remote without message", NewRemoteError(500, ""), "Error: Unknown error occurred"},
		{"network", NewNetworkError(errors.New("EOF")), NetworkMessage},
		{"unknown", NewUnknownError(errors.New("unexpected end of JSON input")), "Error: unexpected end of JSON input"},
		{"attachment", NewReadError("notes.txt", errors.New("invalid UTF-8")), `Error: failed to read file "notes.txt": invalid UTF-8`},
		{"plain", errors.New("plain"), "Error: plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, UserMessage(tt.err))
		})
	}
}
