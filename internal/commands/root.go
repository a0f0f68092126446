// Package commands provides the zapup CLI.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/comigor/zapup-go/internal/app"
	"github.com/comigor/zapup-go/internal/config"
)

var (
	configFlag   string
	logLevelFlag string

	// Version is set at build time.
	Version = "0.1.0"
)

var rootCmd = &cobra.Command{
	Use:   "zapup",
	Short: "Chat with hosted language models from the terminal, over HTTP or MCP",
	Long: `zapup sends your questions, optionally with an image or text file, to a
hosted language model and keeps the conversation for the session.

Examples:
  zapup chat                              Start interactive chat
  zapup ask "What is Go?"                 Send a single query
  zapup ask -f receipt.png "Total?"       Ask about an image (OCR)
  zapup serve                             Run the HTTP API
  zapup mcp                               Serve MCP tools over stdio
  zapup models llama                      Search the model catalog`,
	SilenceUsage: true,
	Version:      Version,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Path to the config file (default ./config.yaml or $CONFIG_PATH)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level override (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(modelsCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	applyFlags(cfg)
	return cfg, nil
}

func applyFlags(cfg *config.Config) {
	if logLevelFlag != "" {
		cfg.Log.Level = logLevelFlag
	}
}

func loadApp() (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(cfg), nil
}
