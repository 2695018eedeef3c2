package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pulsecheck/internal/app"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Logger.Sync() }()
			return a.Serve(ctx)
		},
	}
}
