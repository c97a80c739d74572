package cmd

import (
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP API and the crawl workers",
		Long: `Starts the worker pool, the retrieval session janitor and the HTTP
API, then blocks until SIGINT or SIGTERM. Running jobs are cancelled on
shutdown and keep the checkpoints they reached.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return appInstance.Run(cmd.Context())
		},
	}
}
