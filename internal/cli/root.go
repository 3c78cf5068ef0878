package cli

import (
	"github.com/spf13/cobra"
)

type globalOptions struct {
	configPath string
	debug      bool
}

// NewRootCmd creates the root ns-ids command.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "ns-ids",
		Short: "Host-based network intrusion detection",
		Long: `ns-ids captures packets, groups them into bidirectional flows, scores each
flow with a pretrained classifier and raises alerts for likely attacks.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "configs/config.yaml", "Path to the configuration file")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable development logging")

	root.AddCommand(
		newRunCmd(opts),
		newReplayCmd(opts),
		newCheckConfigCmd(opts),
		newWatchAlertsCmd(opts),
	)

	return root
}
