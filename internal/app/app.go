// Package app wires the components from the configuration.
package app

import (
	"github.com/sashabaranov/go-openai"

	"github.com/comigor/zapup-go/internal/catalog"
	"github.com/comigor/zapup-go/internal/config"
	"github.com/comigor/zapup-go/internal/gateway"
	"github.com/comigor/zapup-go/internal/ingest"
	"github.com/comigor/zapup-go/internal/llm"
	"github.com/comigor/zapup-go/internal/logger"
	"github.com/comigor/zapup-go/internal/ocr/tesseract"
	"github.com/comigor/zapup-go/internal/session"
	"github.com/comigor/zapup-go/internal/voice"
)

// App holds the components shared by every front end.
type App struct {
	Config      *config.Config
	Client      *openai.Client
	Gateway     *gateway.Gateway
	Ingestor    *ingest.Ingestor
	Catalog     *catalog.Catalog
	Transcriber *voice.Transcriber
}

// New builds the App for cfg and applies its log settings.
func New(cfg *config.Config) *App {
	logger.SetFormat(cfg.Log.Format)
	logger.SetLevel(cfg.Log.Level)
	if cfg.LLM.APIKey == "" {
		logger.L.Warn("no API key configured; set llm.api_key or ZAPUP_LLM_API_KEY")
	}

	client := llm.NewClient(cfg.LLM)
	return &App{
		Config:      cfg,
		Client:      client,
		Gateway:     gateway.New(client, cfg.LLM),
		Ingestor:    ingest.New(tesseract.Factory(cfg.OCR.Languages...), cfg.Ingest.MaxBytes),
		Catalog:     catalog.New(cfg.Catalog),
		Transcriber: voice.NewTranscriber(client, cfg.Voice.STTModel),
	}
}

// Sessions creates a session manager using the App's components.
func (a *App) Sessions() *session.Manager {
	return session.NewManager(session.Deps{
		Gateway:      a.Gateway,
		Ingestor:     a.Ingestor,
		Catalog:      a.Catalog,
		DefaultModel: a.Config.LLM.Model,
		Backend:      a.Config.History.Backend,
		Voice:        voice.SettingsFromConfig(a.Config.Voice),
	}, a.Config.Server.SessionTTL)
}

// Synthesizer creates a SpeechOutput playing through player.
func (a *App) Synthesizer(player voice.Player) *voice.Synthesizer {
	return voice.NewSynthesizer(a.Client, player, a.Config.Voice.TTSModel, a.Config.Voice.TTSVoice)
}

// Recognizer creates a SpeechInput recording with the configured command.
func (a *App) Recognizer() *voice.Recognizer {
	return voice.NewRecognizer(voice.CommandRecorder{Command: a.Config.Voice.RecorderCommand}, a.Transcriber, a.Config.LLM.Timeout)
}
