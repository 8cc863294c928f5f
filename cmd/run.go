package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/docsort/internal/config"
	"github.com/JakeFAU/docsort/internal/server"
)

func runRole(cmd *cobra.Command, cfg config.Config, role server.Role) error {
	app, err := server.Build(cmd.Context(), cfg, role, server.Options{})
	if err != nil {
		return fmt.Errorf("build %s: %w", role, err)
	}
	if err := app.Run(cmd.Context()); err != nil {
		return fmt.Errorf("run %s: %w", role, err)
	}
	return nil
}
