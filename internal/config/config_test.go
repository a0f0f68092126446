package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `
llm:
  provider: groq
  base_url: https://api.example.com/openai/v1
  api_key: dummy
  model: gemma2-9b-it
  stream_models: ["llama-3.2-90b-text-preview", "mixtral-8x7b-32768"]
  timeout: 5s
server:
  host: 0.0.0.0
  port: "9090"
  session_ttl: 10m
voice:
  rate: 1.5
  pitch: 0.8
  muted: true
history:
  backend: sqlite
catalog:
  options: ["gemma2-9b-it", "llama-3.1-8b-instant"]
  providers:
    - name: Google
      models: ["gemma2-9b-it"]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// TestLoad_File verifies that Load correctly unmarshals a config file found through CONFIG_PATH.
func TestLoad_File(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, sampleConfig))

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "gemma2-9b-it", cfg.LLM.Model)
	require.Equal(t, "dummy", cfg.LLM.APIKey)
	require.Equal(t, 5*time.Second, cfg.LLM.Timeout)
	require.True(t, cfg.LLM.IsStreamModel("mixtral-8x7b-32768"))
	require.False(t, cfg.LLM.IsStreamModel("gemma2-9b-it"))
	require.Equal(t, "9090", cfg.Server.Port)
	require.Equal(t, 10*time.Minute, cfg.Server.SessionTTL)
	require.Equal(t, 1.5, cfg.Voice.Rate)
	require.Equal(t, 0.8, cfg.Voice.Pitch)
	require.True(t, cfg.Voice.Muted)
	require.Equal(t, HistorySQLite, cfg.History.Backend)
	require.Len(t, cfg.Catalog.Providers, 1)
	require.Equal(t, "Google", cfg.Catalog.Providers[0].Name)

	// untouched keys keep their defaults
	require.Equal(t, float32(1), cfg.LLM.Temperature)
	require.Equal(t, float32(1), cfg.LLM.TopP)
	require.Equal(t, 1024, cfg.LLM.MaxTokens)
	require.Equal(t, "whisper-1", cfg.Voice.STTModel)
}

func TestLoad_DefaultsAndEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("ZAPUP_LLM_API_KEY", "from-env")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.LLM.APIKey)
	require.Equal(t, "llama-3.1-70b-versatile", cfg.LLM.Model)
	require.True(t, cfg.LLM.IsStreamModel("llama-3.2-90b-text-preview"))
	require.Equal(t, HistoryMemory, cfg.History.Backend)
	require.Equal(t, 250*time.Millisecond, cfg.Voice.ToggleDebounce)
}

func TestLoad_ExplicitPathWins(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, sampleConfig))
	other := writeConfig(t, "llm:\n  model: gemma-7b-it\n")

	cfg, err := Load(other)
	require.NoError(t, err)
	require.Equal(t, "gemma-7b-it", cfg.LLM.Model)
}

func TestLoad_InvalidVoiceRate(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, "voice:\n  rate: 3\n"))

	_, err := Load()
	require.ErrorContains(t, err, "voice.rate")
}

func TestLoad_UnknownBackend(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, "history:\n  backend: redis\n"))

	_, err := Load()
	require.ErrorContains(t, err, "history.backend")
}
