package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/comigor/zapup-go/internal/catalog"
)

var modelsCmd = &cobra.Command{
	Use:   "models [search]",
	Short: "List the model catalog, optionally filtered",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		var term string
		if len(args) > 0 {
			term = args[0]
		}

		providers := catalog.New(cfg.Catalog).Search(term)
		if len(providers) == 0 {
			return fmt.Errorf("no models match %q", term)
		}
		fmt.Fprint(cmd.OutOrStdout(), formatProviders(providers, cfg.LLM.Model))
		return nil
	},
}
