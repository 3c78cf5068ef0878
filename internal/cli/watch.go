package cli

import (
	"Go2NetIDS/internal/model"
	"Go2NetIDS/internal/notification"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func newWatchAlertsCmd(opts *globalOptions) *cobra.Command {
	var url, subject string

	cmd := &cobra.Command{
		Use:   "watch-alerts",
		Short: "Print alerts published to NATS",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(opts.debug)
			if err != nil {
				return err
			}
			defer logger.Sync()

			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			natsCfg := cfg.Notifiers.NATS
			if url != "" {
				natsCfg.URL = url
			}
			if subject != "" {
				natsCfg.Subject = subject
			}

			sub, err := notification.NewSubscriber(natsCfg, logger)
			if err != nil {
				return err
			}
			defer sub.Close()

			out := cmd.OutOrStdout()
			handler := func(a model.Alert) {
				fmt.Fprintf(out, "%s  %s -> %s  %.1f%%  %s\n",
					a.Timestamp.Format(time.RFC3339), a.Source, a.Destination, a.Confidence*100, a.ID)
			}
			if err := sub.Start(handler); err != nil {
				return fmt.Errorf("subscriber failed to start: %w", err)
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			<-sigChan
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "NATS server URL (overrides notifiers.nats.url)")
	cmd.Flags().StringVar(&subject, "subject", "", "Alert subject (overrides notifiers.nats.subject)")
	return cmd
}
