package commands

import (
	"github.com/spf13/cobra"

	"github.com/comigor/zapup-go/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the ask and list_models tools over MCP (stdio)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		sessions := a.Sessions()
		defer sessions.Close()

		return mcpserver.New(sessions, a.Catalog, Version).ServeStdio()
	},
}
