package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/comigor/zapup-go/internal/logger"
)

// HistoryBackend selects the in-session transcript storage.
type HistoryBackend string

const (
	HistoryMemory HistoryBackend = "memory"
	HistorySQLite HistoryBackend = "sqlite"
)

// Config holds the application configuration
type Config struct {
	LLM     LLMConfig
	Server  ServerConfig
	Voice   VoiceConfig
	OCR     OCRConfig
	Ingest  IngestConfig
	History HistoryConfig
	Log     LogConfig
	Catalog CatalogConfig
}

// LLMConfig holds the inference endpoint configuration. APIKey never leaves the server.
type LLMConfig struct {
	Provider     string        `mapstructure:"provider"`
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	StreamModels []string      `mapstructure:"stream_models"`
	Temperature  float32       `mapstructure:"temperature"`
	TopP         float32       `mapstructure:"top_p"`
	MaxTokens    int           `mapstructure:"max_tokens"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Host       string        `mapstructure:"host"`
	Port       string        `mapstructure:"port"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
	MaxUpload  int64         `mapstructure:"max_upload"`
}

// VoiceConfig holds speech defaults and the local audio commands used by the terminal chat.
type VoiceConfig struct {
	Rate            float64       `mapstructure:"rate"`
	Pitch           float64       `mapstructure:"pitch"`
	Muted           bool          `mapstructure:"muted"`
	AutoSpeak       bool          `mapstructure:"auto_speak"`
	ToggleDebounce  time.Duration `mapstructure:"toggle_debounce"`
	TTSModel        string        `mapstructure:"tts_model"`
	TTSVoice        string        `mapstructure:"tts_voice"`
	STTModel        string        `mapstructure:"stt_model"`
	PlayerCommand   []string      `mapstructure:"player_command"`
	RecorderCommand []string      `mapstructure:"recorder_command"`
}

// OCRConfig holds the OCR engine configuration
type OCRConfig struct {
	Languages []string `mapstructure:"languages"`
}

// IngestConfig limits attachment handling
type IngestConfig struct {
	MaxBytes int64 `mapstructure:"max_bytes"`
}

// HistoryConfig selects the transcript backend
type HistoryConfig struct {
	Backend HistoryBackend `mapstructure:"backend"`
}

// LogConfig holds the logger configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// CatalogConfig overrides the built-in model catalog when non-empty.
type CatalogConfig struct {
	Options   []string         `mapstructure:"options"`
	Providers []ProviderConfig `mapstructure:"providers"`
}

// ProviderConfig is one provider group of the model catalog
type ProviderConfig struct {
	Name   string   `mapstructure:"name"`
	Models []string `mapstructure:"models"`
}

// Voice rate and pitch bounds.
const (
	MinVoiceScale = 0.5
	MaxVoiceScale = 2.0
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.provider", "groq")
	v.SetDefault("llm.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "llama-3.1-70b-versatile")
	v.SetDefault("llm.stream_models", []string{"llama-3.2-90b-text-preview"})
	v.SetDefault("llm.temperature", 1)
	v.SetDefault("llm.top_p", 1)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.timeout", "60s")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.session_ttl", "30m")
	v.SetDefault("server.max_upload", 10<<20)

	v.SetDefault("voice.rate", 1.0)
	v.SetDefault("voice.pitch", 1.0)
	v.SetDefault("voice.muted", false)
	v.SetDefault("voice.auto_speak", false)
	v.SetDefault("voice.toggle_debounce", "250ms")
	v.SetDefault("voice.tts_model", "tts-1")
	v.SetDefault("voice.tts_voice", "alloy")
	v.SetDefault("voice.stt_model", "whisper-1")
	v.SetDefault("voice.player_command", []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet", "-"})
	v.SetDefault("voice.recorder_command", []string{"arecord", "-q", "-f", "cd", "-t", "wav", "-d", "8"})

	v.SetDefault("ocr.languages", []string{"eng"})
	v.SetDefault("ingest.max_bytes", 5<<20)
	v.SetDefault("history.backend", string(HistoryMemory))

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ZAPUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	return v
}

// Load loads the configuration from config.yaml, CONFIG_PATH or path, in that
// order of precedence (path wins). A missing default config.yaml is not an error:
// defaults and ZAPUP_* environment variables are enough to run.
func Load(path ...string) (*Config, error) {
	var p string
	if len(path) > 0 {
		p = path[0]
	}
	cfg, _, err := load(newViper(p))
	return cfg, err
}

func load(v *viper.Viper) (*Config, *viper.Viper, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, nil, fmt.Errorf("decode config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, nil, err
	}

	return &config, v, nil
}

// Validate checks value ranges that viper cannot express.
func (c *Config) Validate() error {
	if c.LLM.Model == "" {
		return errors.New("llm.model must not be empty")
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm.max_tokens must be positive, got %d", c.LLM.MaxTokens)
	}
	if c.Voice.Rate < MinVoiceScale || c.Voice.Rate > MaxVoiceScale {
		return fmt.Errorf("voice.rate must be within [%.1f, %.1f], got %v", MinVoiceScale, MaxVoiceScale, c.Voice.Rate)
	}
	if c.Voice.Pitch < MinVoiceScale || c.Voice.Pitch > MaxVoiceScale {
		return fmt.Errorf("voice.pitch must be within [%.1f, %.1f], got %v", MinVoiceScale, MaxVoiceScale, c.Voice.Pitch)
	}
	switch c.History.Backend {
	case HistoryMemory, HistorySQLite:
	default:
		return fmt.Errorf("unsupported history.backend %q (memory or sqlite)", c.History.Backend)
	}
	return nil
}

// IsStreamModel reports whether replies for model are requested as a stream.
func (c LLMConfig) IsStreamModel(model string) bool {
	for _, m := range c.StreamModels {
		if m == model {
			return true
		}
	}
	return false
}

// Watch loads the configuration and calls onChange with every successfully
// reloaded version whenever the config file changes on disk.
func Watch(path string, onChange func(*Config)) (*Config, error) {
	cfg, v, err := load(newViper(path))
	if err != nil {
		return nil, err
	}
	if v.ConfigFileUsed() == "" {
		return cfg, nil
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		var next Config
		if err := v.Unmarshal(&next); err != nil {
			logger.L.Warn("ignoring config reload", "file", e.Name, "error", err)
			return
		}
		if err := next.Validate(); err != nil {
			logger.L.Warn("ignoring invalid config reload", "file", e.Name, "error", err)
			return
		}
		logger.L.Info("config reloaded", "file", e.Name)
		onChange(&next)
	})
	v.WatchConfig()
	return cfg, nil
}
