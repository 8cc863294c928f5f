package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/docsort/internal/server"
)

func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the progress channel and an in-process worker pool",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Server.Port = port
			}
			return runRole(cmd, cfg, server.RoleServe)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "override server.port")
	return cmd
}

func newWorkerCmd() *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run only the worker pool against the Redis job queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if workers > 0 {
				cfg.Queue.Workers = workers
			}
			return runRole(cmd, cfg, server.RoleWorker)
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "override queue.workers")
	return cmd
}
