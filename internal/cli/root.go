package cli

import (
	"os"

	"github.com/spf13/cobra"

	"pulsecheck/internal/config"
)

// NewRootCmd builds the pulsecheck command tree.
func NewRootCmd() *cobra.Command {
	var cfgFile string
	root := &cobra.Command{
		Use:   "pulsecheck",
		Short: "Turn free-form work notes into a classified status report",
		Long: `pulsecheck classifies work notes into Wins, Risks, Blockers, Dependencies
and Next Steps, asks follow-up questions when it is unsure or when report
preferences are missing, and serves the flow over HTTP.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile != "" {
				return os.Setenv("CONFIG_PATH", cfgFile)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.yaml or $CONFIG_PATH)")

	root.AddCommand(newServeCmd(), newClassifyCmd())
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig is swapped in tests.
var loadConfig = config.Load
