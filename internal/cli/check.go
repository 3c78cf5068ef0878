package cli

import (
	"Go2NetIDS/internal/classifier"
	"Go2NetIDS/internal/factory"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newCheckConfigCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and the model artifact",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if err := cfg.ValidateCapture(); err != nil {
				fmt.Fprintf(out, "warning: %v (live capture unavailable, replay still works)\n", err)
			}

			adapter, err := classifier.Load(cfg.Classifier.ModelPath)
			if err != nil {
				return err
			}

			known := factory.WriterTypes()
			for i, w := range cfg.Writers {
				if !w.Enabled {
					continue
				}
				if !contains(known, w.Type) {
					return fmt.Errorf("writers[%d]: unknown writer type '%s' (known: %s)", i, w.Type, strings.Join(known, ", "))
				}
			}

			fmt.Fprintf(out, "configuration OK\n")
			fmt.Fprintf(out, "  model:      %s (%d trees)\n", cfg.Classifier.ModelPath, adapter.Trees())
			fmt.Fprintf(out, "  threshold:  ready after %d packets, alert at %.2f\n", cfg.Flow.ReadyThreshold, cfg.Alerter.Threshold)
			fmt.Fprintf(out, "  workers:    %d (queue %d)\n", cfg.Pipeline.NumWorkers, cfg.Pipeline.QueueSize)
			return nil
		},
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
