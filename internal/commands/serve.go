package commands

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/comigor/zapup-go/internal/app"
	"github.com/comigor/zapup-go/internal/config"
	"github.com/comigor/zapup-go/internal/logger"
	"github.com/comigor/zapup-go/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the JSON HTTP API. The inference API key stays on the server; clients
create a session and post queries, files and voice clips to it.

The log level is reloaded whenever the config file changes.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Watch(configFlag, func(next *config.Config) {
		applyFlags(next)
		logger.SetLevel(next.Log.Level)
	})
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	applyFlags(cfg)

	a := app.New(cfg)
	sessions := a.Sessions()
	srv := server.New(sessions, a.Catalog, a.Transcriber, a.Synthesizer(nil), cfg.Server.MaxUpload)
	addr := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		return sessions.Close()
	})
	return g.Wait()
}
